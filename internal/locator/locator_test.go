package locator_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lambda-feedback/hotswap/internal/locator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ReturnsAbsoluteScriptPath(t *testing.T) {
	out := locator.Output{
		Path:        "/build",
		Entrypoints: map[string][]string{"main": {"server.js"}},
	}

	path, err := locator.Resolve("main", out)
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/build/server.js"), path)
}

func TestResolve_UsesFirstFile(t *testing.T) {
	out := locator.Output{
		Path:        "/build",
		Entrypoints: map[string][]string{"main": {"main.js", "main.js.map"}},
	}

	path, err := locator.Resolve("main", out)
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/build/main.js"), path)
}

func TestResolve_RelativeOutputPathIsMadeAbsolute(t *testing.T) {
	out := locator.Output{
		Path:        "dist",
		Entrypoints: map[string][]string{"main": {"server"}},
	}

	path, err := locator.Resolve("main", out)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, "server", filepath.Base(path))
}

func TestResolve_UnknownEntry_ListsKnownEntries(t *testing.T) {
	out := locator.Output{
		Path: "/build",
		Entrypoints: map[string][]string{
			"worker": {"worker.js"},
			"admin":  {"admin.js"},
			"main":   {"main.js"},
		},
	}

	_, err := locator.Resolve("missing", out)
	require.Error(t, err)
	assert.ErrorIs(t, err, locator.ErrUnknownEntry)
	assert.Contains(t, err.Error(), "admin, main, worker")

	var unknown *locator.UnknownEntryError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "missing", unknown.Entry)
	assert.Equal(t, []string{"admin", "main", "worker"}, unknown.Known)
}

func TestResolve_UnknownEntry_EmptyBuild(t *testing.T) {
	_, err := locator.Resolve("main", locator.Output{Path: "/build"})
	assert.ErrorIs(t, err, locator.ErrUnknownEntry)
}

func TestResolve_NoOutputProduced(t *testing.T) {
	out := locator.Output{
		Path:        "/build",
		Entrypoints: map[string][]string{"main": {}},
	}

	_, err := locator.Resolve("main", out)
	assert.ErrorIs(t, err, locator.ErrNoOutputProduced)
	assert.NotErrorIs(t, err, locator.ErrUnknownEntry)
}
