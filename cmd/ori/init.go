package main

import (
	"io"

	"github.com/ori-vcs/ori/repository"
	"github.com/spf13/cobra"
)

func newInitCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "initialize a new Ori repository",
		Args:  cobra.MaximumNArgs(1),
	}

	var branch string
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "name of the initial branch (default \"default\")")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		dir := cfg.repoC
		if len(args) > 0 {
			dir = args[0]
		}
		return initCmd(cmd.OutOrStdout(), cfg, dir, branch)
	}
	return cmd
}

func initCmd(out io.Writer, cfg *globalFlags, dir, branch string) error {
	r, err := repository.Init(cfg.fs, dir, repository.InitOptions{Branch: branch})
	if err != nil {
		return err
	}
	r.SetLogger(cfg.log)
	defer r.Close() //nolint:errcheck

	fprintln(cfg.quiet, out, "Initialized Ori repository in", dir)
	return nil
}
