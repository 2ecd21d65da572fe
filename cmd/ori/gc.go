package main

import (
	"io"

	"github.com/spf13/cobra"
)

func newGCCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "rewrite the index and metadata log, purge unreachable objects, and compact packfiles",
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return gcCmd(cmd.OutOrStdout(), cfg)
	}
	return cmd
}

func gcCmd(out io.Writer, cfg *globalFlags) error {
	r, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	if err := r.GC(); err != nil {
		return err
	}
	fprintln(cfg.quiet, out, "gc complete")
	return nil
}
