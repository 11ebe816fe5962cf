package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for pipes and CI logs. It
// prints at most one progress line per index and model every interval.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	styles   Styles
	interval time.Duration
	last     map[string]time.Time
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:      cfg.Output,
		styles:   GetStyles(cfg.NoColor),
		interval: time.Second,
		last:     make(map[string]time.Time),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// BeginIndex implements Renderer.
func (r *PlainRenderer) BeginIndex(index string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, "[%s] rebuilding\n", index)
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ev.Index + "/" + ev.Model
	now := time.Now()
	if ev.Done < ev.Total && now.Sub(r.last[key]) < r.interval {
		return
	}
	r.last[key] = now

	if ev.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %s %d/%d\n", ev.Index, ev.Model, ev.Done, ev.Total)
	} else {
		_, _ = fmt.Fprintf(r.out, "[%s] %s %d\n", ev.Index, ev.Model, ev.Done)
	}
}

// FinishIndex implements Renderer.
func (r *PlainRenderer) FinishIndex(res IndexResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Err != nil {
		_, _ = fmt.Fprintf(r.out, "%s [%s] %v\n", r.styles.Error.Render("FAILED"), res.Name, res.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s [%s] %d documents in %s -> %s\n",
		r.styles.Success.Render("OK"), res.Name, res.Docs, res.Duration.Round(time.Millisecond), res.Dir)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Rebuilt %d of %d indexes, %d documents in %s\n",
		len(s.Indexes)-s.Failed(), len(s.Indexes), s.Docs(), s.Duration.Round(time.Millisecond))
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
