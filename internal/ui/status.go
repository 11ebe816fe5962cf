package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// ServerStatus is what the status command shows.
type ServerStatus struct {
	Environment string        `json:"environment"`
	Address     string        `json:"address"`
	Running     bool          `json:"running"`
	PID         int           `json:"pid,omitempty"`
	Version     string        `json:"version,omitempty"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	Indexes     []IndexStatus `json:"indexes"`
}

// IndexStatus describes one index.
type IndexStatus struct {
	Name     string   `json:"name"`
	State    string   `json:"state"`
	DocCount int      `json:"doc_count"`
	Dir      string   `json:"dir,omitempty"`
	Models   []string `json:"models"`
	Remote   string   `json:"remote,omitempty"`
}

// StatusRenderer prints ServerStatus.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints a human-readable report.
func (r *StatusRenderer) Render(st ServerStatus) error {
	title := "Index server"
	if st.Environment != "" {
		title += " (" + st.Environment + ")"
	}
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(title))

	if st.Running {
		_, _ = fmt.Fprintf(r.out, "  Server:  %s at %s", r.state("running"), st.Address)
		if st.PID > 0 {
			_, _ = fmt.Fprintf(r.out, " (pid %d)", st.PID)
		}
		if st.Uptime > 0 {
			_, _ = fmt.Fprintf(r.out, ", up %s", formatDuration(st.Uptime))
		}
		if st.Version != "" {
			_, _ = fmt.Fprintf(r.out, " %s", r.styles.Dim.Render("v"+st.Version))
		}
		_, _ = fmt.Fprintln(r.out)
	} else {
		_, _ = fmt.Fprintf(r.out, "  Server:  %s\n", r.state("stopped"))
	}

	if len(st.Indexes) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(r.out)

	rows := make([][]string, 0, len(st.Indexes))
	widths := []int{len("INDEX"), len("STATE"), len("DOCS")}
	for _, idx := range st.Indexes {
		row := []string{idx.Name, idx.State, fmt.Sprint(idx.DocCount)}
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
		rows = append(rows, row)
	}

	header := fmt.Sprintf("  %-*s  %-*s  %*s  %s", widths[0], "INDEX", widths[1], "STATE", widths[2], "DOCS", "MODELS")
	_, _ = fmt.Fprintln(r.out, r.styles.Label.Render(header))
	for i, idx := range st.Indexes {
		models := strings.Join(idx.Models, ", ")
		if idx.Remote != "" {
			models += r.styles.Dim.Render(" via " + idx.Remote)
		}
		state := r.state(rows[i][1]) + strings.Repeat(" ", widths[1]-len(rows[i][1]))
		_, _ = fmt.Fprintf(r.out, "  %-*s  %s  %*s  %s\n", widths[0], rows[i][0], state, widths[2], rows[i][2], models)
	}
	return nil
}

// RenderJSON prints st as indented JSON.
func (r *StatusRenderer) RenderJSON(st ServerStatus) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func (r *StatusRenderer) state(s string) string {
	switch s {
	case "ready", "running":
		return r.styles.Success.Render(s)
	case "rebuilding", "uninitialized", "stopped":
		return r.styles.Warning.Render(s)
	case "unreachable", "invalid", "closed":
		return r.styles.Error.Render(s)
	default:
		return s
	}
}

// formatDuration renders d at second precision, largest two units.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
