package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// execute runs the root command with args and returns what it wrote
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "docmap.db")
	return writeConfig(t, fmt.Sprintf("store:\n  driver: sql\n  sql:\n    driver: sqlite3\n    dsn: %q\nlog:\n  level: error\n", dsn))
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "docmap", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"version", "demo", "get", "metrics"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestVersionCommand(t *testing.T) {
	Version, GitCommit, BuildDate, GoVersion = "1.0.0-test", "abc123", "2025-01-01", "go1.23"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docmap version: 1.0.0-test")
	assert.Contains(t, out, "Git commit: abc123")
	assert.Contains(t, out, "Go version: go1.23")
}

func TestDemoCommand_Memory(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	out, err := execute(t, "demo", "--config", path)
	require.NoError(t, err)

	steps := strings.Split(out, "2. move c to P2")
	require.Len(t, steps, 2)
	inserted, rest := steps[0], steps[1]
	moved, deleted, ok := strings.Cut(rest, "3. delete c")
	require.True(t, ok)

	assert.Contains(t, inserted, "1. insert P1, P2 and child c of P1")
	assert.Contains(t, inserted, `childIds: ["c"]`)
	assert.Contains(t, inserted, `parent: "P1"`)

	assert.Contains(t, moved, `parent: "P2"`)
	assert.Equal(t, 1, strings.Count(moved, `childIds: ["c"]`))

	assert.NotContains(t, deleted, "childIds")
	assert.Contains(t, deleted, "children/c: (absent)")
	assert.Contains(t, out, "✓ demo finished")
}

func TestDemoCommand_BadgerInMemory(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: badger\n  badger:\n    in_memory: true\nlog:\n  level: error\n")

	out, err := execute(t, "demo", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "children/c: (absent)")
}

func TestDemoAndGet_SQLite(t *testing.T) {
	path := sqliteConfig(t)

	_, err := execute(t, "demo", "--config", path)
	require.NoError(t, err)
	// a second run clears what the first one left
	_, err = execute(t, "demo", "--config", path)
	require.NoError(t, err)

	out, err := execute(t, "get", "parents", "P2", "--config", path)
	require.NoError(t, err)
	doc, err := store.DecodeJSON([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, store.Document{store.KeyField: "P2", "data": "second"}, doc)
}

func TestGetCommand_NotFound(t *testing.T) {
	path := sqliteConfig(t)

	out, err := execute(t, "get", "parnets", "P1", "--config", path)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))

	var rendered *renderedError
	require.ErrorAs(t, err, &rendered)
	assert.Contains(t, rendered.text, "DOCUMENT NOT FOUND: parnets/P1")
	assert.Contains(t, rendered.text, "Did you mean: parents?")
	assert.NotContains(t, out, "Usage")
}

func TestGetCommand_Args(t *testing.T) {
	_, err := execute(t, "get", "parents")
	assert.Error(t, err)
}

func TestMetricsCommand(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	out, err := execute(t, "metrics", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "docmap_mapping_builds_total 2")
	assert.Contains(t, out, `docmap_actions_executed_total{op="add_to_set"}`)
	assert.Contains(t, out, "docmap_operation_duration_seconds_bucket")
}

func TestInvalidConfig(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: mongo\n")

	_, err := execute(t, "demo", "--config", path)
	require.Error(t, err)
	var rendered *renderedError
	require.ErrorAs(t, err, &rendered)
	assert.Contains(t, rendered.text, "CONFIGURATION ERROR")
}

func TestStoreUnavailable(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: sql\n  sql:\n    driver: sqlite3\n    dsn: \"file:/nonexistent/dir/docmap.db?mode=ro\"\nlog:\n  level: error\n")

	_, err := execute(t, "demo", "--config", path)
	require.Error(t, err)
	var rendered *renderedError
	require.ErrorAs(t, err, &rendered)
	assert.Contains(t, rendered.text, "STORE UNAVAILABLE")
}

func TestGetCommand_CompletesCollections(t *testing.T) {
	cmd := NewGetCommand()
	names, _ := cmd.ValidArgsFunction(cmd, nil, "")
	assert.Equal(t, []string{"parents", "children"}, names)

	names, _ = cmd.ValidArgsFunction(cmd, []string{"parents"}, "")
	assert.Empty(t, names)
}
