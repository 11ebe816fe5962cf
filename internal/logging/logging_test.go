package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/srv/log/ferret_server.log", "debug")

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "/srv/log/ferret_server.log", cfg.FilePath)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file logger at info level
	path := filepath.Join(t.TempDir(), "log", "ferret_server.log")
	cfg := DefaultConfig(path, "info")
	cfg.WriteToStderr = false
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	// When: logging below and at the level
	logger.Debug("hidden")
	logger.Info("server_listening", slog.String("address", "localhost:9009"))
	cleanup()

	// Then: only the info record is written, as JSON
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "server_listening", rec["msg"])
	assert.Equal(t, "localhost:9009", rec["address"])
}

func TestSetup_StderrOnlyWithoutPath(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "warn"})
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestSetupMCPMode_LogsOnlyToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	path := filepath.Join(t.TempDir(), "mcp.log")

	cleanup, err := SetupMCPMode(path, "debug")
	require.NoError(t, err)
	slog.Debug("tool_called", slog.String("tool", "search"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mcp_logging_initialized")
	assert.Contains(t, string(data), "tool_called")
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, LevelFromString(in), in)
	}
}

func TestFindLogFile(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "ferret_server.log")
	require.NoError(t, os.WriteFile(existing, []byte("{}\n"), 0o644))

	got, err := FindLogFile("", existing)
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	got, err = FindLogFile(existing, filepath.Join(dir, "other.log"))
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	_, err = FindLogFile(filepath.Join(dir, "missing.log"), existing)
	assert.Error(t, err)

	_, err = FindLogFile("", filepath.Join(dir, "missing.log"))
	assert.Error(t, err)
}

func TestRotatedFiles_OldestFirst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ferret_server.log")
	for _, name := range []string{"ferret_server.log", "ferret_server.log.1", "ferret_server.log.2", "ferret_server.log.bak"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	assert.Equal(t, []string{path + ".2", path + ".1", path}, RotatedFiles(path))
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a writer with a tiny size limit
	path := filepath.Join(t.TempDir(), "ferret_server.log")
	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	w.maxSize = 100
	defer func() { _ = w.Close() }()

	// When: writing past the limit several times
	line := []byte(strings.Repeat("x", 60) + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	// Then: records are split across rotated files, none straddling
	for _, p := range []string{path, path + ".1", path + ".2", path + ".3"} {
		data, err := os.ReadFile(p)
		require.NoError(t, err, p)
		assert.Equal(t, string(line), string(data), p)
	}
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferret_server.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 10
	defer func() { _ = w.Close() }()

	for i := 0; i < 6; i++ {
		_, err := fmt.Fprintf(w, "record-%d-padding\n", i)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "record-3-padding\n", string(data))
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferret_server.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferret_server.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.SetImmediateSync(false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = fmt.Fprintf(w, "writer-%d line-%d\n", n, j)
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 200)
}

func logLine(ts time.Time, level, msg string, attrs ...any) string {
	rec := map[string]any{"time": ts.Format(time.RFC3339Nano), "level": level, "msg": msg}
	for i := 0; i+1 < len(attrs); i += 2 {
		rec[attrs[i].(string)] = attrs[i+1]
	}
	b, _ := json.Marshal(rec)
	return string(b)
}

func TestViewer_ParseLine(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	entry := v.parseLine(logLine(ts, "INFO", "rebuild_finished", "model", "Article"))
	assert.True(t, entry.IsValid)
	assert.Equal(t, ts, entry.Time)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "rebuild_finished", entry.Msg)
	assert.Equal(t, map[string]any{"model": "Article"}, entry.Attrs)

	raw := v.parseLine("panic: not json")
	assert.False(t, raw.IsValid)
	assert.Equal(t, "panic: not json", v.FormatEntry(raw))
}

func TestViewer_Filters(t *testing.T) {
	ts := time.Now()
	debug := NewViewer(ViewerConfig{}, nil).parseLine(logLine(ts, "DEBUG", "noise"))
	warn := NewViewer(ViewerConfig{}, nil).parseLine(logLine(ts, "WARN", "remote_index_unavailable"))

	byLevel := NewViewer(ViewerConfig{Level: "info"}, nil)
	assert.False(t, byLevel.matchesFilter(debug))
	assert.True(t, byLevel.matchesFilter(warn))

	byPattern := NewViewer(ViewerConfig{Pattern: regexp.MustCompile("remote")}, nil)
	assert.False(t, byPattern.matchesFilter(debug))
	assert.True(t, byPattern.matchesFilter(warn))
}

func TestViewer_FormatEntry_NoColor(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.Local)

	got := v.FormatEntry(v.parseLine(logLine(ts, "ERROR", "rpc_failed", "method", "multi_search", "code", "ERR_504")))

	assert.Equal(t, "03:04:05.006 ERROR rpc_failed code=ERR_504 method=multi_search", got)
}

func TestViewer_FormatLevel_Colored(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "other"} {
		assert.Contains(t, v.formatLevel(level), strings.ToUpper(level)[:min(5, len(level))])
	}
}

func TestViewer_TailAcrossRotatedFiles(t *testing.T) {
	// Given: records spread over a rotated file and the live one
	dir := t.TempDir()
	path := filepath.Join(dir, "ferret_server.log")
	ts := time.Now()
	require.NoError(t, os.WriteFile(path+".1", []byte(
		logLine(ts, "INFO", "one")+"\n"+logLine(ts.Add(time.Second), "DEBUG", "two")+"\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(
		logLine(ts.Add(2*time.Second), "INFO", "three")+"\n"+logLine(ts.Add(3*time.Second), "INFO", "four")+"\n"), 0o644))

	// When: tailing the last two info records
	v := NewViewer(ViewerConfig{Level: "info"}, nil)
	entries, err := v.Tail(path, 2)

	// Then: oldest first, filtered
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Msg)
	assert.Equal(t, "four", entries[1].Msg)

	all, err := v.Tail(path, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestViewer_TailMissingFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}, nil).Tail(filepath.Join(t.TempDir(), "none.log"), 10)
	assert.Error(t, err)
}

func TestViewer_Print(t *testing.T) {
	var buf bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)

	v.Print([]LogEntry{{Raw: "a"}, {Raw: "b"}})

	assert.Equal(t, "a\nb\n", buf.String())
}

func TestViewer_FollowSeesAppendsAndRotation(t *testing.T) {
	// Given: a follower on an existing log
	path := filepath.Join(t.TempDir(), "ferret_server.log")
	require.NoError(t, os.WriteFile(path, []byte(logLine(time.Now(), "INFO", "before")+"\n"), 0o644))
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan LogEntry, 10)
	done := make(chan error, 1)
	v := NewViewer(ViewerConfig{}, nil)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// When: appending, then forcing a rotation and appending again
	next := func() LogEntry {
		select {
		case e := <-entries:
			return e
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a followed entry")
			return LogEntry{}
		}
	}
	require.Eventually(t, func() bool {
		_, _ = fmt.Fprintln(w, logLine(time.Now(), "INFO", "ping"))
		select {
		case e := <-entries:
			return e.Msg == "ping"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	w.mu.Lock()
	require.NoError(t, w.rotate())
	w.mu.Unlock()
	_, err = fmt.Fprintln(w, logLine(time.Now(), "INFO", "after_rotation"))
	require.NoError(t, err)

	// Then: the follower never sees pre-existing lines and picks up the new file
	for {
		e := next()
		require.NotEqual(t, "before", e.Msg)
		if e.Msg == "after_rotation" {
			break
		}
	}
	cancel()
	assert.NoError(t, <-done)
}
