package ui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name     string
		opts     ErrorOptions
		contains []string
	}{
		{
			name: "error with context",
			opts: ErrorOptions{Context: "document not found", Problem: "children/c1"},
			contains: []string{
				"❌",
				"DOCUMENT NOT FOUND: children/c1",
			},
		},
		{
			name: "suggestions",
			opts: ErrorOptions{Problem: "x", Suggestions: []string{"parents", "children"}},
			contains: []string{
				"Did you mean: parents, children?",
			},
		},
		{
			name: "help commands",
			opts: ErrorOptions{Problem: "x", HelpCommands: []string{"Run the demo: docmap demo"}},
			contains: []string{
				"→ Run the demo: docmap demo",
			},
		},
		{
			name:     "warning",
			opts:     ErrorOptions{Level: ErrorLevelWarning, Problem: "store is empty"},
			contains: []string{"⚠️", "store is empty"},
		},
		{
			name:     "info",
			opts:     ErrorOptions{Level: ErrorLevelInfo, Problem: "table ready"},
			contains: []string{"ℹ️", "table ready"},
		},
		{
			name:     "consequence",
			opts:     ErrorOptions{Problem: "write failed", Consequence: "reverse fields may be stale"},
			contains: []string{"write failed", "reverse fields may be stale"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.NoColor = true
			out := FormatError(tt.opts)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestFormatError_NoColorHasNoEscapes(t *testing.T) {
	out := FormatError(ErrorOptions{Problem: "plain", Suggestions: []string{"a"}, HelpCommands: []string{"b"}, NoColor: true})
	assert.NotContains(t, out, "\x1b[")
}

func TestDocumentNotFoundError(t *testing.T) {
	out := DocumentNotFoundError("parnets", "P1", []string{"parents"}, true)
	assert.Contains(t, out, "DOCUMENT NOT FOUND: parnets/P1")
	assert.Contains(t, out, "No document P1 in collection parnets.")
	assert.Contains(t, out, "Did you mean: parents?")
	assert.Contains(t, out, "docmap demo")
}

func TestStoreError(t *testing.T) {
	out := StoreError("redis", errors.New("connection refused"), true)
	assert.Contains(t, out, "STORE UNAVAILABLE: connection refused")
	assert.Contains(t, out, "The redis store could not be opened.")
	assert.Contains(t, out, "DOCMAP_STORE_DRIVER=memory")
}

func TestConfigErrorAndWarning(t *testing.T) {
	out := ConfigError("store.driver must be one of memory, redis, sql, badger", []string{"redis"}, true)
	assert.Contains(t, out, "CONFIGURATION ERROR")
	assert.Contains(t, out, "Did you mean: redis?")

	assert.Contains(t, Warning("cascade ignored", true), "⚠️ cascade ignored")
}

func TestWriteSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, "demo finished", true)
	assert.Equal(t, "✓ demo finished\n", buf.String())

	buf.Reset()
	WriteError(&buf, ErrorOptions{Problem: "boom", NoColor: true})
	assert.Equal(t, "❌ boom\n", buf.String())
}
