package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagingPrepareWritesModuleAndTree(t *testing.T) {
	cache := t.TempDir()
	s := NewStaging(cache, "example.local/frag", "/src/couchgo")
	assert.Equal(t, filepath.Join(cache, fmt.Sprintf("env-%d", os.Getpid())), s.Dir())

	s.SetShared(map[string]any{
		"util": "package lib\n",
		"text": map[string]any{
			"fold.go": "package text\n",
			"data":    "raw",
		},
		"ignored": 42.0,
	})

	dir, err := s.Prepare()
	require.NoError(t, err)

	mod, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	require.NoError(t, err)
	assert.Contains(t, string(mod), "module example.local/frag\n")
	assert.Contains(t, string(mod), "require github.com/mattjoyce/couchgo v0.0.0")
	assert.Contains(t, string(mod), "replace github.com/mattjoyce/couchgo => /src/couchgo")

	assert.FileExists(t, filepath.Join(dir, LibDir, "util.go"))
	assert.FileExists(t, filepath.Join(dir, LibDir, "text", "fold.go"))
	assert.FileExists(t, filepath.Join(dir, LibDir, "text", "data.go"))
	assert.NoFileExists(t, filepath.Join(dir, LibDir, "ignored.go"))

	require.NoError(t, s.Drop())
	assert.NoDirExists(t, dir)
}

func TestStagingSharedTreeIsReplacedLazily(t *testing.T) {
	s := NewStaging(t.TempDir(), "m", "")
	s.SetShared(map[string]any{"a": "package lib\n"})
	dir, err := s.Prepare()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, LibDir, "a.go"))

	s.SetShared(map[string]any{"b": "package lib\n"})
	assert.FileExists(t, filepath.Join(dir, LibDir, "a.go"), "tree must not change before the next prepare")

	_, err = s.Prepare()
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, LibDir, "a.go"))
	assert.FileExists(t, filepath.Join(dir, LibDir, "b.go"))

	require.NoError(t, s.Drop())
	_, err = s.Prepare()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, LibDir, "b.go"), "tree is restaged after a drop")
	require.NoError(t, s.Drop())
}

func TestStagingRejectsUnsafeNames(t *testing.T) {
	s := NewStaging(t.TempDir(), "m", "")
	s.SetShared(map[string]any{"../escape": "x"})
	_, err := s.Prepare()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path separators")
}

func TestStagingGoModWithoutABISource(t *testing.T) {
	s := NewStaging(t.TempDir(), "m", "")
	dir, err := s.Prepare()
	require.NoError(t, err)
	defer s.Drop()

	mod, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	require.NoError(t, err)
	assert.NotContains(t, string(mod), "replace")
}
