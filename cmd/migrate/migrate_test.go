package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func versions(ms []Migration) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Version)
	}
	return out
}

func TestPlan(t *testing.T) {
	files := []Migration{{Version: "0002_b"}, {Version: "0001_a"}, {Version: "0003_c"}}

	tests := []struct {
		name    string
		applied map[string]bool
		dir     Direction
		steps   int
		want    []string
	}{
		{name: "fresh up", dir: Up, want: []string{"0001_a", "0002_b", "0003_c"}},
		{name: "partial up", applied: map[string]bool{"0001_a": true}, dir: Up, want: []string{"0002_b", "0003_c"}},
		{name: "up with steps", dir: Up, steps: 1, want: []string{"0001_a"}},
		{name: "down newest first", applied: map[string]bool{"0001_a": true, "0002_b": true}, dir: Down, want: []string{"0002_b", "0001_a"}},
		{name: "down one step", applied: map[string]bool{"0001_a": true, "0002_b": true}, dir: Down, steps: 1, want: []string{"0002_b"}},
		{name: "nothing to revert", dir: Down, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, versions(plan(files, tt.applied, tt.dir, tt.steps)))
		})
	}
}

func TestFindMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0001_provider.up.sql", "0001_provider.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}

	up, err := findMigrations(dir, Up)
	require.NoError(t, err)
	require.Len(t, up, 1)
	assert.Equal(t, "0001_provider", up[0].Version)

	down, err := findMigrations(dir, Down)
	require.NoError(t, err)
	require.Len(t, down, 1)
	assert.Equal(t, filepath.Join(dir, "0001_provider.down.sql"), down[0].Path)
}

func TestMigrate_RequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	root := newRootCmd()
	root.SetArgs([]string{"up"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
}
