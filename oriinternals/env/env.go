// Package env reads Ori's environment-variable overrides, adapted from
// the teacher's internal/env.Env (an OS-or-literal-list-backed key/value
// store) and env.GitOptions (the GIT_DIR/GIT_CONFIG/... override set),
// renamed to Ori's equivalents (spec.md §6's on-disk layout and §9's
// "Repository is an explicitly passed value" note: options are resolved
// once into a plain struct rather than read from a process-wide global).
package env

import (
	"os"
	"strings"
)

// Env is a case-sensitive key/value environment, backed either by the
// OS environment or an explicit list (for tests).
type Env struct {
	vars map[string]string
}

// FromOS builds an Env from os.Environ().
func FromOS() *Env {
	return FromKVList(os.Environ())
}

// FromKVList builds an Env from a list of "key=value" strings.
func FromKVList(kv []string) *Env {
	e := &Env{vars: make(map[string]string, len(kv))}
	for _, pair := range kv {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		e.vars[k] = v
	}
	return e
}

// Get returns the value of key, or "" if unset.
func (e *Env) Get(key string) string {
	return e.vars[key]
}

// Has reports whether key has a value set.
func (e *Env) Has(key string) bool {
	_, ok := e.vars[key]
	return ok
}

// Options is the set of overrides Ori reads from the environment,
// analogous to the teacher's GitOptions:
//   - ORI_DIR overrides the repository root directory.
//   - ORI_CONFIG_NOSYSTEM disables the system-wide config file.
type Options struct {
	RepoDir          string
	SkipSystemConfig bool
}

// Load resolves Options from e.
func Load(e *Env) Options {
	skip := false
	switch strings.ToLower(e.Get("ORI_CONFIG_NOSYSTEM")) {
	case "yes", "1", "true":
		skip = true
	}
	return Options{
		RepoDir:          e.Get("ORI_DIR"),
		SkipSystemConfig: skip,
	}
}
