package mcp

import (
	"fmt"
	"sort"
	"strings"
)

const maxFieldChars = 300

// FormatSearchResults renders out as markdown for clients that only read
// text content.
func FormatSearchResults(query string, out SearchOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q\n\n", query)
	if len(out.Records) == 0 {
		sb.WriteString("No matching records.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Showing %d of %d matches.\n", len(out.Records), out.Total)

	for i, r := range out.Records {
		fmt.Fprintf(&sb, "\n### %d. %s #%s (score %.3f)\n", i+1, r.Model, r.ID, r.Score)
		names := make([]string, 0, len(r.Fields))
		for name := range r.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "- **%s**: %s\n", name, truncate(r.Fields[name], maxFieldChars))
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
