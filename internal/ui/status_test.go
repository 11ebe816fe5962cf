package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRenderer_Running(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	err := r.Render(ServerStatus{
		Environment: "production",
		Address:     "localhost:9009",
		Running:     true,
		PID:         4242,
		Uptime:      90 * time.Second,
		Version:     "1.2.0",
		Indexes: []IndexStatus{
			{Name: "article", State: "ready", DocCount: 3, Models: []string{"Article", "Comment"}},
			{Name: "shared", State: "unreachable", Models: []string{"Page"}, Remote: "search:9009"},
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Index server (production)")
	assert.Contains(t, out, "Server:  running at localhost:9009 (pid 4242), up 1m 30s v1.2.0")
	assert.Contains(t, out, "INDEX    STATE        DOCS  MODELS")
	assert.Contains(t, out, "article  ready           3  Article, Comment")
	assert.Contains(t, out, "shared   unreachable     0  Page via search:9009")
}

func TestStatusRenderer_Stopped(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, NewStatusRenderer(&buf, true).Render(ServerStatus{}))

	assert.Equal(t, "Index server\n\n  Server:  stopped\n", buf.String())
}

func TestStatusRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	st := ServerStatus{Running: true, PID: 1, Indexes: []IndexStatus{{Name: "article", State: "ready", Models: []string{"Article"}}}}

	require.NoError(t, NewStatusRenderer(&buf, false).RenderJSON(st))

	var got ServerStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, st, got)
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		12 * time.Second:              "12s",
		2 * time.Minute:               "2m",
		2*time.Minute + 5*time.Second: "2m 5s",
		3*time.Hour + 4*time.Minute:   "3h 4m",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatDuration(in))
	}
}
