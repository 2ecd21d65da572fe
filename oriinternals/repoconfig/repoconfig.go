// Package repoconfig aggregates Ori's ini-backed configuration files:
// an optional system-wide file, an optional per-user global file, and
// the repository's local <R>/config file, each overriding the previous.
//
// Grounded on ginternals/config.FileAggregate: same aggregation order
// (system → global → local, later overrides earlier), same
// open-via-afero-then-hand-to-ini-as-readers plumbing to keep the
// filesystem abstraction, generalized from git's core.* keys to Ori's
// core.* plus remote.<name>.{url,instaclone} (spec.md §6).
package repoconfig

import (
	"errors"
	"os"
	"strconv"

	"github.com/ori-vcs/ori/oriinternals/oripath"
	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

var loadOptions = ini.LoadOptions{
	IgnoreInlineComment: true,
	AllowShadows:        true,
}

// Paths is the set of candidate config file locations, in increasing
// priority order (system, global, local).
type Paths struct {
	System string // e.g. /etc/oriconfig
	Global string // e.g. $HOME/.oriconfig
	Local  string // <repo>/config
}

// Config is the merged view over every present file in Paths.
type Config struct {
	fs     afero.Fs
	local  string
	merged *ini.File
}

// Load opens and merges every existing file named by p, skipping any
// that don't exist; the local file is created empty in memory if it's
// also absent so writes always have somewhere to land.
func Load(fs afero.Fs, p Paths) (*Config, error) {
	var readers []interface{}
	var closers []afero.File

	open := func(path string) error {
		if path == "" {
			return nil
		}
		if _, err := fs.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		f, err := fs.Open(path)
		if err != nil {
			return err
		}
		readers = append(readers, f)
		closers = append(closers, f)
		return nil
	}
	defer func() {
		for _, f := range closers {
			f.Close() //nolint:errcheck
		}
	}()

	if err := open(p.System); err != nil {
		return nil, err
	}
	if err := open(p.Global); err != nil {
		return nil, err
	}
	if err := open(p.Local); err != nil {
		return nil, err
	}

	var merged *ini.File
	var err error
	if len(readers) == 0 {
		merged = ini.Empty(loadOptions)
	} else {
		merged, err = ini.LoadSources(loadOptions, readers[0], readers[1:]...)
		if err != nil {
			return nil, err
		}
	}

	return &Config{fs: fs, local: p.Local, merged: merged}, nil
}

// Get returns a key's string value from section, and whether it was set.
func (c *Config) Get(section, key string) (string, bool) {
	sec, err := c.merged.GetSection(section)
	if err != nil {
		return "", false
	}
	if !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).String(), true
}

// GetBool returns a key's boolean value, defaulting to def if unset or
// unparsable.
func (c *Config) GetBool(section, key string, def bool) bool {
	v, ok := c.Get(section, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Set writes a key's value into the local (writable) section.
func (c *Config) Set(section, key, value string) {
	c.merged.Section(section).Key(key).SetValue(value)
}

// RemoteURL returns the configured remote.<name>.url, if any.
func (c *Config) RemoteURL(name string) (string, bool) {
	return c.Get("remote."+name, "url")
}

// RemoteInstaclone reports whether remote.<name>.instaclone is set
// (spec.md's peer-attachment config, generalized from the teacher's
// remote section shape).
func (c *Config) RemoteInstaclone(name string) bool {
	return c.GetBool("remote."+name, "instaclone", false)
}

// Save writes the merged config back to the local config file.
func (c *Config) Save() error {
	f, err := c.fs.OpenFile(c.local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	_, err = c.merged.WriteTo(f)
	return err
}

// DefaultPaths returns the standard config search path for a repository
// rooted at repoRoot, honoring skipSystem per env.Options.
func DefaultPaths(home, repoRoot string, skipSystem bool) Paths {
	p := Paths{Local: repoRoot + string(os.PathSeparator) + oripath.ConfigPath}
	if !skipSystem {
		p.System = "/etc/oriconfig"
	}
	if home != "" {
		p.Global = home + string(os.PathSeparator) + ".oriconfig"
	}
	return p
}
