// Command ori is a thin CLI wrapper over the repository package,
// specified only for determinism of the core's observable behavior
// (spec.md §6): exit code 0 on success, 1 on any user-visible failure,
// no color or locale assumptions.
//
// Grounded on cmd/git-go's main.go/git.go structure: a cobra root
// command with porcelain/plumbing subcommands added via AddCommand,
// each RunE closure taking the command's own io.Writer for testable
// output instead of writing to os.Stdout directly.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	root := newRootCmd(cwd, logger, afero.NewOsFs())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
