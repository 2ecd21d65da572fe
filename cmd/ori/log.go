package main

import (
	"io"

	"github.com/ori-vcs/ori/repository"
	"github.com/spf13/cobra"
)

func newLogCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log [branch]",
		Short: "print a branch's first-parent commit history, most recent first",
		Args:  cobra.MaximumNArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		branch := repository.DefaultBranch
		if len(args) > 0 {
			branch = args[0]
		}
		return logCmd(cmd.OutOrStdout(), cfg, branch)
	}
	return cmd
}

func logCmd(out io.Writer, cfg *globalFlags, branch string) error {
	r, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	hist, err := r.History(branch)
	if err != nil {
		return err
	}
	for _, id := range hist {
		fprintln(cfg.quiet, out, id.String())
	}
	return nil
}
