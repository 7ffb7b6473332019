package pipeline

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown renders the run as a Markdown report.
func (r *Result) Markdown(runID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# feedkeeper run %s\n\n", r.Started.Format("2006-01-02 15:04"))
	if runID != "" {
		fmt.Fprintf(&b, "Run `%s`", runID)
		if !r.Finished.IsZero() {
			fmt.Fprintf(&b, ", took %s", r.Finished.Sub(r.Started).Round(time.Second))
		}
		b.WriteString(".\n\n")
	}

	b.WriteString("| Feed | Step | Result |\n")
	b.WriteString("|------|------|--------|\n")
	for _, s := range r.Steps {
		summary := s.Summary
		if s.Err != nil {
			if summary != "" {
				summary += "; "
			}
			summary += "**error:** " + s.Err.Error()
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", s.Feed, s.Name, escapeCell(summary))
	}
	return b.String()
}

// RenderHTML converts a Markdown report to HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
