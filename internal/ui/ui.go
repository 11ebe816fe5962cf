// Package ui renders rebuild progress and server status in the terminal:
// a bubbletea view for interactive terminals, plain lines otherwise.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// ProgressEvent reports documents loaded into an index being rebuilt.
type ProgressEvent struct {
	Index string
	Model string
	Done  int
	Total int
}

// IndexResult is the outcome of rebuilding one index.
type IndexResult struct {
	Name     string
	Dir      string
	Docs     int
	Duration time.Duration
	Err      error
}

// Summary is reported once every requested index has been rebuilt.
type Summary struct {
	Indexes  []IndexResult
	Duration time.Duration
}

// Failed counts indexes whose rebuild failed.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Indexes {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Docs sums documents over successful rebuilds.
func (s Summary) Docs() int {
	n := 0
	for _, r := range s.Indexes {
		if r.Err == nil {
			n += r.Docs
		}
	}
	return n
}

// Renderer displays rebuild progress.
type Renderer interface {
	Start(ctx context.Context) error
	// BeginIndex announces that index is being rebuilt.
	BeginIndex(index string)
	UpdateProgress(event ProgressEvent)
	// FinishIndex records one index's outcome.
	FinishIndex(result IndexResult)
	Complete(summary Summary)
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Title      string
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithTitle sets the panel title, typically the environment.
func WithTitle(title string) ConfigOption {
	return func(c *Config) { c.Title = title }
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output, NoColor: DetectNoColor()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer for interactive terminals and the
// plain renderer for pipes, CI or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under CI.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
