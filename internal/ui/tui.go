package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer shows rebuild progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *rebuildModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTUIRenderer fails unless the output is a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewProgressTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newRebuildModel(tracker, cfg.Title, GetStyles(cfg.NoColor)),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	if r.program != nil {
		r.program.Send(msg)
	}
}

// BeginIndex implements Renderer.
func (r *TUIRenderer) BeginIndex(index string) {
	r.tracker.BeginIndex(index)
	r.send(refreshMsg{})
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.tracker.Update(ev)
	r.send(refreshMsg{})
}

// FinishIndex implements Renderer.
func (r *TUIRenderer) FinishIndex(res IndexResult) {
	r.tracker.Finish(res)
	r.send(refreshMsg{})
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(s Summary) {
	r.send(completeMsg(s))
}

// Stop implements Renderer. It waits briefly for the program to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type refreshMsg struct{}
type completeMsg Summary
type tickMsg time.Time

type rebuildModel struct {
	tracker  *ProgressTracker
	title    string
	styles   Styles
	width    int
	spinner  spinner.Model
	bar      progress.Model
	complete bool
	summary  Summary
	quitting bool
}

func newRebuildModel(tracker *ProgressTracker, title string, styles Styles) *rebuildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active
	return &rebuildModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		width:   80,
		spinner: s,
		bar:     progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(50), progress.WithoutPercentage()),
	}
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m *rebuildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update implements tea.Model.
func (m *rebuildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		m.complete = true
		m.summary = Summary(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *rebuildModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.viewSummary()
	}

	st := m.tracker.Stats()
	width := max(m.width-4, 40)
	var lines []string

	if st.Index == "" {
		lines = append(lines, m.spinner.View()+" preparing")
	} else {
		lines = append(lines, fmt.Sprintf("%s %s %s", m.spinner.View(),
			m.styles.Active.Render(st.Index), m.styles.Label.Render(st.Model)))
		if st.Total > 0 {
			lines = append(lines,
				m.bar.ViewAs(st.Progress)+"  "+m.styles.Active.Render(fmt.Sprintf("%3.0f%%", st.Progress*100)),
				m.styles.Label.Render(fmt.Sprintf("%d / %d documents", st.Done, st.Total)))
		}
		speed := fmt.Sprintf("%.0f docs/s", st.Speed.Current)
		if st.Speed.Avg > 0 {
			speed += fmt.Sprintf(" (avg %.0f, peak %.0f)", st.Speed.Avg, st.Speed.Peak)
		}
		if st.ETA > 0 {
			speed += "  ETA " + formatDuration(st.ETA)
		}
		lines = append(lines, m.styles.Label.Render(speed),
			m.styles.Active.Render(m.tracker.RenderSparkline(max(width-4, 10))))
	}

	for _, r := range m.tracker.Results() {
		lines = append(lines, m.resultLine(r))
	}

	title := "Rebuilding indexes"
	if m.title != "" {
		title += " - " + m.title
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(lines, "\n")),
		m.styles.Dim.Render("q to quit"))
}

func (m *rebuildModel) resultLine(r IndexResult) string {
	if r.Err != nil {
		return m.styles.Error.Render("✗ "+r.Name) + " " + r.Err.Error()
	}
	return m.styles.Success.Render("✓ "+r.Name) + m.styles.Label.Render(
		fmt.Sprintf(" %d documents in %s", r.Docs, formatDuration(r.Duration)))
}

func (m *rebuildModel) viewSummary() string {
	lines := make([]string, 0, len(m.summary.Indexes)+2)
	head := m.styles.Success.Render("✓ Rebuild complete")
	if n := m.summary.Failed(); n > 0 {
		head = m.styles.Error.Render(fmt.Sprintf("✗ %d of %d rebuilds failed", n, len(m.summary.Indexes)))
	}
	lines = append(lines, head, "")
	for _, r := range m.summary.Indexes {
		lines = append(lines, m.resultLine(r))
	}
	lines = append(lines, "", m.styles.Label.Render(fmt.Sprintf("%d documents in %s",
		m.summary.Docs(), formatDuration(m.summary.Duration))))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(m.width-4, 40)).
		Render(strings.Join(lines, "\n")) + "\n"
}

var _ Renderer = (*TUIRenderer)(nil)
