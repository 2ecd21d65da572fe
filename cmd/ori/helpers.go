package main

import (
	"fmt"
	"io"

	"github.com/ori-vcs/ori/repository"
)

func openRepo(cfg *globalFlags) (*repository.Repo, error) {
	r, err := repository.Open(cfg.fs, cfg.repoC)
	if err != nil {
		return nil, err
	}
	r.SetLogger(cfg.log)
	return r, nil
}

func fprintln(quiet bool, out io.Writer, msg ...interface{}) {
	if !quiet {
		fmt.Fprintln(out, msg...)
	}
}

func fprintf(quiet bool, out io.Writer, format string, a ...interface{}) {
	if !quiet {
		fmt.Fprintf(out, format, a...)
	}
}
