package main

import (
	"io"

	"github.com/spf13/cobra"
)

func newBranchCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "list branches, or switch HEAD to name (creating it from the current tip if needed)",
		Args:  cobra.MaximumNArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listBranchesCmd(cmd.OutOrStdout(), cfg)
		}
		return switchBranchCmd(cmd.OutOrStdout(), cfg, args[0])
	}
	return cmd
}

func listBranchesCmd(out io.Writer, cfg *globalFlags) error {
	r, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	branches, err := r.ListBranches()
	if err != nil {
		return err
	}
	head, err := r.HEAD()
	if err != nil {
		return err
	}
	for _, b := range branches {
		marker := "  "
		if b == head {
			marker = "* "
		}
		fprintln(cfg.quiet, out, marker+b)
	}
	return nil
}

func switchBranchCmd(out io.Writer, cfg *globalFlags, name string) error {
	r, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	if err := r.SetBranch(name); err != nil {
		return err
	}
	fprintln(cfg.quiet, out, "Switched to branch", name)
	return nil
}
