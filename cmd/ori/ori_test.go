package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("/cwd", zerolog.Nop(), fs)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCreatesRepository(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()

	out, err := execute(t, fs, "-C", "/repo", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized Ori repository")

	exists, err := afero.Exists(fs, "/repo/version")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAddObjectThenListBranches(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()

	_, err := execute(t, fs, "-C", "/repo", "init")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/payload.txt", []byte("hello ori"), 0o644))
	out, err := execute(t, fs, "-C", "/repo", "add-object", "/payload.txt")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	branchOut, err := execute(t, fs, "-C", "/repo", "branch")
	require.NoError(t, err)
	assert.Contains(t, branchOut, "* default")
}

func TestGCRunsOnFreshRepository(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()

	_, err := execute(t, fs, "-C", "/repo", "init")
	require.NoError(t, err)

	out, err := execute(t, fs, "-C", "/repo", "gc")
	require.NoError(t, err)
	assert.Contains(t, out, "gc complete")
}
