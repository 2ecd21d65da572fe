package main

import (
	"github.com/ori-vcs/ori/oriinternals/env"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// globalFlags is the root command's shared state, analogous to the
// teacher's config/globalFlags struct threaded into every subcommand.
type globalFlags struct {
	fs    afero.Fs
	env   *env.Env
	log   zerolog.Logger
	repoC string // -C: run as if started in this directory
	quiet bool
}

func newRootCmd(cwd string, logger zerolog.Logger, fs afero.Fs) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ori",
		Short:         "Ori content-addressed versioned file system core",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cfg := &globalFlags{
		fs:  fs,
		env: env.FromOS(),
		log: logger,
	}
	cmd.PersistentFlags().StringVarP(&cfg.repoC, "C", "C", cwd, "run as if ori was started in the provided path")
	cmd.PersistentFlags().BoolVarP(&cfg.quiet, "quiet", "q", false, "suppress non-error output")

	cmd.AddCommand(newInitCmd(cfg))
	cmd.AddCommand(newAddCmd(cfg))
	cmd.AddCommand(newCommitCmd(cfg))
	cmd.AddCommand(newLogCmd(cfg))
	cmd.AddCommand(newBranchCmd(cfg))
	cmd.AddCommand(newGCCmd(cfg))
	cmd.AddCommand(newGraftCmd(cfg))

	return cmd
}
