package main

import (
	"io"

	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/repository"
	"github.com/spf13/cobra"
)

func newGraftCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graft SOURCE-REPO SOURCE-COMMIT PATH",
		Short: "copy a commit's tree closure from another repository and record its provenance",
		Args:  cobra.ExactArgs(3),
	}

	var message string
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message for the graft commit")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		sourceCommit, err := hashid.FromHex(args[1])
		if err != nil {
			return err
		}
		return graftCmd(cmd.OutOrStdout(), cfg, args[0], sourceCommit, args[2], message)
	}
	return cmd
}

func graftCmd(out io.Writer, cfg *globalFlags, sourceRoot string, sourceCommit hashid.ID, path, message string) error {
	dest, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer dest.Close() //nolint:errcheck

	source, err := repository.Open(cfg.fs, sourceRoot)
	if err != nil {
		return err
	}
	defer source.Close() //nolint:errcheck

	id, err := dest.Graft(source, sourceCommit, path, repository.CommitOptions{Message: message})
	if err != nil {
		return err
	}
	fprintln(cfg.quiet, out, id.String())
	return nil
}
