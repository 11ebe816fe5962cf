package ui

import (
	"sync"
	"time"
)

// speedInterval is the minimum spacing of throughput samples.
const speedInterval = 500 * time.Millisecond

// etaSmoothing weights a new ETA estimate against the previous one.
const etaSmoothing = 0.3

// ProgressTracker accumulates rebuild progress. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu sync.Mutex

	index      string
	model      string
	done       int
	total      int
	indexStart time.Time
	results    []IndexResult

	lastETA      time.Duration
	lastDone     int
	lastSample   time.Time
	currentSpeed float64
	avgSpeed     float64
	peakSpeed    float64
	samples      int
	sparkline    *Sparkline
	now          func() time.Time
}

// SpeedStats are documents per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	Index    string
	Model    string
	Done     int
	Total    int
	Progress float64
	ETA      time.Duration
	Speed    SpeedStats
	Finished int
	Failed   int
}

// NewProgressTracker creates a tracker.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		indexStart: t,
		lastSample: t,
		sparkline:  NewSparkline(60),
		now:        now,
	}
}

// BeginIndex resets per-index counters.
func (p *ProgressTracker) BeginIndex(index string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beginLocked(index)
}

func (p *ProgressTracker) beginLocked(index string) {
	t := p.now()
	p.index = index
	p.model = ""
	p.done, p.total = 0, 0
	p.indexStart = t
	p.lastETA = 0
	p.lastDone = 0
	p.lastSample = t
	p.currentSpeed, p.avgSpeed, p.peakSpeed = 0, 0, 0
	p.samples = 0
	p.sparkline.Clear()
}

// Update records a progress event, sampling throughput.
func (p *ProgressTracker) Update(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Index != "" && ev.Index != p.index {
		p.beginLocked(ev.Index)
	}
	p.model = ev.Model
	p.done = ev.Done
	p.total = ev.Total

	t := p.now()
	elapsed := t.Sub(p.lastSample)
	if elapsed < speedInterval {
		return
	}
	if delta := ev.Done - p.lastDone; delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		p.currentSpeed = speed
		p.samples++
		if p.samples == 1 {
			p.avgSpeed = speed
		} else {
			p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
		}
		if speed > p.peakSpeed {
			p.peakSpeed = speed
		}
		p.sparkline.Add(speed)
	}
	p.lastDone = ev.Done
	p.lastSample = t
}

// Finish records an index outcome.
func (p *ProgressTracker) Finish(r IndexResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
}

// Results returns the outcomes recorded so far.
func (p *ProgressTracker) Results() []IndexResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]IndexResult, len(p.results))
	copy(out, p.results)
	return out
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := ProgressStats{
		Index: p.index,
		Model: p.model,
		Done:  p.done,
		Total: p.total,
		ETA:   p.eta(),
		Speed: SpeedStats{Current: p.currentSpeed, Avg: p.avgSpeed, Peak: p.peakSpeed},
	}
	if p.total > 0 {
		st.Progress = min(float64(p.done)/float64(p.total), 1)
	}
	for _, r := range p.results {
		st.Finished++
		if r.Err != nil {
			st.Failed++
		}
	}
	return st
}

// eta must be called with the lock held.
func (p *ProgressTracker) eta() time.Duration {
	if p.done == 0 || p.total == 0 || p.done >= p.total {
		return 0
	}
	elapsed := p.now().Sub(p.indexStart)
	raw := time.Duration(float64(elapsed)/(float64(p.done)/float64(p.total))) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}

// RenderSparkline renders recent throughput in width cells.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sparkline.Render(width)
}
