package ui

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestProgressTracker_SpeedAndETA(t *testing.T) {
	// Given: a tracker on a controlled clock
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := newProgressTracker(clock.now)
	p.BeginIndex("article")

	// When: 100 docs load per second
	clock.advance(time.Second)
	p.Update(ProgressEvent{Index: "article", Model: "Article", Done: 100, Total: 400})

	// Then: speed and remaining time follow
	st := p.Stats()
	assert.Equal(t, "article", st.Index)
	assert.Equal(t, "Article", st.Model)
	assert.InDelta(t, 0.25, st.Progress, 1e-9)
	assert.InDelta(t, 100, st.Speed.Current, 1e-9)
	assert.InDelta(t, 100, st.Speed.Avg, 1e-9)
	assert.Equal(t, 3*time.Second, st.ETA)
}

func TestProgressTracker_IgnoresSamplesInsideInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := newProgressTracker(clock.now)
	p.BeginIndex("article")

	clock.advance(100 * time.Millisecond)
	p.Update(ProgressEvent{Index: "article", Done: 10, Total: 100})

	st := p.Stats()
	assert.Equal(t, 10, st.Done)
	assert.Zero(t, st.Speed.Current)
}

func TestProgressTracker_PeakAndSmoothing(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := newProgressTracker(clock.now)
	p.BeginIndex("article")

	clock.advance(time.Second)
	p.Update(ProgressEvent{Index: "article", Done: 100, Total: 1000})
	clock.advance(time.Second)
	p.Update(ProgressEvent{Index: "article", Done: 300, Total: 1000})

	st := p.Stats()
	assert.InDelta(t, 200, st.Speed.Current, 1e-9)
	assert.InDelta(t, 200, st.Speed.Peak, 1e-9)
	assert.InDelta(t, 0.2*200+0.8*100, st.Speed.Avg, 1e-9)
}

func TestProgressTracker_NewIndexResets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := newProgressTracker(clock.now)
	clock.advance(time.Second)
	p.Update(ProgressEvent{Index: "article", Done: 50, Total: 50})
	p.Finish(IndexResult{Name: "article", Docs: 50})

	p.Update(ProgressEvent{Index: "comment", Done: 1, Total: 10})

	st := p.Stats()
	assert.Equal(t, "comment", st.Index)
	assert.Zero(t, st.Speed.Peak)
	assert.Equal(t, 1, st.Finished)
}

func TestProgressTracker_Results(t *testing.T) {
	p := NewProgressTracker()
	p.Finish(IndexResult{Name: "article"})
	p.Finish(IndexResult{Name: "comment", Err: errors.New("locked")})

	results := p.Results()
	require.Len(t, results, 2)
	assert.Equal(t, 1, p.Stats().Failed)

	results[0].Name = "mutated"
	assert.Equal(t, "article", p.Results()[0].Name)
}

func TestProgressTracker_NoETAWithoutProgress(t *testing.T) {
	p := NewProgressTracker()
	assert.Zero(t, p.Stats().ETA)

	p.Update(ProgressEvent{Index: "article", Done: 10, Total: 10})
	assert.Zero(t, p.Stats().ETA)
}

func TestSparkline_Render(t *testing.T) {
	s := NewSparkline(4)
	assert.Equal(t, "    ", s.Render(0))

	s.Add(0)
	s.Add(7)
	assert.Equal(t, "  ▁█", s.Render(4))

	for _, v := range []float64{1, 2, 3, 7} {
		s.Add(v)
	}
	assert.Equal(t, 4, s.Len())
	got := s.Render(2)
	assert.Equal(t, 2, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "█"))

	s.Clear()
	assert.Zero(t, s.Len())
}
