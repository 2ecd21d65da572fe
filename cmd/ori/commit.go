package main

import (
	"io"

	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/repository"
	"github.com/spf13/cobra"
)

func newCommitCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit TREE",
		Short: "create a commit over an existing tree object, advancing HEAD's branch",
		Args:  cobra.ExactArgs(1),
	}

	var message, snapshot, user string
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "record the commit under this snapshot name")
	cmd.Flags().StringVar(&user, "user", "", "identity to record on the commit (default: ORI_AUTHOR or OS user)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		tree, err := hashid.FromHex(args[0])
		if err != nil {
			return err
		}
		return commitCmd(cmd.OutOrStdout(), cfg, tree, repository.CommitOptions{
			Message:      message,
			SnapshotName: snapshot,
			User:         user,
		})
	}
	return cmd
}

func commitCmd(out io.Writer, cfg *globalFlags, tree hashid.ID, opts repository.CommitOptions) error {
	r, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	id, err := r.Commit(tree, opts)
	if err != nil {
		return err
	}
	fprintln(cfg.quiet, out, id.String())
	return nil
}
