package main

import (
	"io"

	"github.com/ori-vcs/ori/oriobject"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newAddCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-object [file]",
		Short: "add a blob to the object store, printing its id",
		Long:  "Reads the named file, or stdin if no file is given, and stores its contents as a Blob object.",
		Args:  cobra.MaximumNArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var payload []byte
		var err error
		if len(args) > 0 {
			payload, err = afero.ReadFile(cfg.fs, args[0])
		} else {
			payload, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		return addCmd(cmd.OutOrStdout(), cfg, payload)
	}
	return cmd
}

func addCmd(out io.Writer, cfg *globalFlags, payload []byte) error {
	r, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	id, err := r.AddObject(oriobject.TypeBlob, payload)
	if err != nil {
		return err
	}
	fprintln(cfg.quiet, out, id.String())
	return nil
}
