package refname_test

import (
	"testing"

	"github.com/ori-vcs/ori/oriinternals/refname"
	"github.com/stretchr/testify/assert"
)

func TestValidNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"default", "feature/thing", "release-1.0", "origin"} {
		assert.True(t, refname.IsValid(name), name)
	}
}

func TestInvalidNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "/", "trailing/", "trailing.", ".leading", "a..b", "has space", "has*star", "x.lock", "a/.b"} {
		assert.False(t, refname.IsValid(name), name)
	}
}
