package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// recordTape records a demo tape with 20 jobs and returns its path.
func recordTape(t *testing.T, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.tape")
	args := append([]string{"record-demo", "--out", path, "--workers", "3", "--jobs", "20", "--work", "0s"}, extra...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+path)
	return path
}

func TestRecordDemoMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.tape")
	out, err := execute(t, "record-demo", "--out", path, "--jobs", "5", "--work", "0s", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "tapez_records_total")
	assert.Contains(t, out, "tapez_chapters_total")
}

func TestRecordDemoRefusesExistingFile(t *testing.T) {
	path := recordTape(t)
	_, err := execute(t, "record-demo", "--out", path)
	assert.Error(t, err)
}

func TestRecordDemoValidatesFlags(t *testing.T) {
	_, err := execute(t, "record-demo", "--workers", "0")
	assert.Error(t, err)
}

func TestInspectText(t *testing.T) {
	path := recordTape(t)

	out, err := execute(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "version:     1.0")
	// one batch, 20 jobs and 20 runs
	assert.Contains(t, out, "spans:       41")
	assert.Contains(t, out, "events:      20")
	assert.NotContains(t, out, "warning:")
}

func TestInspectJSON(t *testing.T) {
	path := recordTape(t)

	out, err := execute(t, "inspect", "-o", "json", path)
	require.NoError(t, err)

	var reports []tapeReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, path, r.Path)
	assert.Equal(t, 41, r.Spans)
	assert.Equal(t, 20, r.Events)
	assert.Equal(t, 4, r.Definitions)
	assert.False(t, r.Partial)
	assert.Positive(t, r.Chapters)
	assert.Empty(t, r.Warnings)
}

func TestInspectYAML(t *testing.T) {
	path := recordTape(t)

	out, err := execute(t, "inspect", "--output", "yaml", path)
	require.NoError(t, err)
	assert.Contains(t, out, "spans: 41")
	assert.Contains(t, out, "partial: false")
}

func TestInspectCompressed(t *testing.T) {
	path := recordTape(t, "--compress")

	out, err := execute(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "spans:       41")
}

func TestInspectContinuesPastBadTape(t *testing.T) {
	good := recordTape(t)
	missing := filepath.Join(t.TempDir(), "missing.tape")

	out, err := execute(t, "inspect", missing, good)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.tape")
	assert.Contains(t, out, good)
}

func TestTree(t *testing.T) {
	path := recordTape(t)

	out, err := execute(t, "tree", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, path, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  batch ["), lines[1])
	assert.Contains(t, out, "    job [")
	assert.Contains(t, out, "      run [")
	assert.Contains(t, out, "cross-thread")
	assert.Contains(t, out, "jobs=20")
}

func TestTreeMaxDepth(t *testing.T) {
	path := recordTape(t)

	out, err := execute(t, "tree", "-o", "json", "--max-depth", "1", path)
	require.NoError(t, err)

	var roots []spanNode
	require.NoError(t, json.Unmarshal([]byte(out), &roots))
	require.Len(t, roots, 1)
	assert.Equal(t, "batch", roots[0].Name)
	assert.Empty(t, roots[0].Children)
	require.NotNil(t, roots[0].DurationNS)
}

func TestEvents(t *testing.T) {
	path := recordTape(t)

	out, err := execute(t, "events", "-o", "json", path)
	require.NoError(t, err)
	var rows []eventRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 20)
	for i, r := range rows {
		assert.Equal(t, "job done", r.Message)
		assert.Equal(t, "run", r.Span)
		assert.Equal(t, "INFO", r.Level)
		if i > 0 {
			assert.GreaterOrEqual(t, r.Timestamp, rows[i-1].Timestamp)
		}
	}

	out, err = execute(t, "events", "--thread", "999999", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "job done")
}

func TestStats(t *testing.T) {
	path := recordTape(t)

	out, err := execute(t, "stats", "-o", "json", path)
	require.NoError(t, err)
	var rows []statsRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))

	byName := make(map[string]statsRow)
	for _, r := range rows {
		byName[r.Name] = r
	}
	assert.Equal(t, 1, byName["batch"].Count)
	assert.Equal(t, 20, byName["job"].Count)
	assert.Equal(t, 20, byName["run"].Count)
	assert.LessOrEqual(t, byName["run"].Min, byName["run"].Max)

	out, err = execute(t, "stats", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SPAN")
	assert.Contains(t, out, "run")
}

func TestRequiresTapeArgument(t *testing.T) {
	for _, name := range []string{"inspect", "tree", "events", "stats"} {
		_, err := execute(t, name)
		assert.Error(t, err, name)
	}
}

func TestUnknownFormat(t *testing.T) {
	path := recordTape(t)
	_, err := execute(t, "inspect", "-o", "xml", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestEnvironmentConfig(t *testing.T) {
	path := recordTape(t)

	t.Setenv("TAPEZ_LOG_LEVEL", "loud")
	_, err := execute(t, "inspect", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	t.Setenv("TAPEZ_LOG_LEVEL", "error")
	t.Setenv("TAPEZ_PARALLELISM", "many")
	_, err = execute(t, "inspect", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	t.Setenv("TAPEZ_PARALLELISM", "2")
	t.Setenv("TAPEZ_LOG_DEV", "true")
	_, err = execute(t, "inspect", path)
	assert.NoError(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogConfig.Level)
	assert.False(t, cfg.LogConfig.Development)
	assert.Zero(t, cfg.Parallelism)
}

func TestGlobArguments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.tape", "nested/b.tape"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		_, err := execute(t, "record-demo", "--out", path, "--jobs", "2", "--work", "0s")
		require.NoError(t, err)
	}

	out, err := execute(t, "inspect", filepath.Join(dir, "**", "*.tape"))
	require.NoError(t, err)
	assert.Contains(t, out, "a.tape")
	assert.Contains(t, out, "b.tape")

	_, err = execute(t, "inspect", filepath.Join(dir, "*.missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tapes match")
}
