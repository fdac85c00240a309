package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// GenerateMarkdown renders the summary as a markdown document. Rows that
// would push the output past maxChars are dropped and replaced by a note.
// maxChars <= 0 disables the cap.
func GenerateMarkdown(s *Summary, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	sb.WriteString("# Run Summary\n\n")
	writeOverview(&sb, s, len(s.Failed))
	writeFailedRuns(&sb, s.Failed)
	writeRuns(&sb, s, maxChars)

	return sb.String()
}

func writeOverview(sb *strings.Builder, s *Summary, failedCount int) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(sb, "| Runs | %d |\n", len(s.Runs))

	if failedCount > 0 {
		fmt.Fprintf(sb, "| Failed Runs | %d |\n", failedCount)
	}

	var total time.Duration

	for _, r := range s.Runs {
		if r.TotalTime != nil {
			total += time.Duration(*r.TotalTime * float64(time.Second))
		}
	}

	fmt.Fprintf(sb, "| Total Run Time | %s |\n", formatDuration(total))
	sb.WriteByte('\n')
}

func writeFailedRuns(sb *strings.Builder, failed []Failure) {
	if len(failed) == 0 {
		return
	}

	sorted := append([]Failure(nil), failed...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RunID < sorted[j].RunID
	})

	sb.WriteString("## Failed Runs\n\n")
	sb.WriteString("| Run | Error |\n")
	sb.WriteString("|---|---|\n")

	for _, f := range sorted {
		fmt.Fprintf(sb, "| `%s` | %s |\n", f.RunID, escapeCell(f.Error))
	}

	sb.WriteByte('\n')
}

func writeRuns(sb *strings.Builder, s *Summary, maxChars int) {
	if len(s.Runs) == 0 {
		return
	}

	sb.WriteString("## Runs\n\n")
	sb.WriteString("| Run | Start | Duration |")

	for _, robot := range s.Robots {
		fmt.Fprintf(sb, " Distance %s |", robot)
	}

	sb.WriteString("\n|---|---|---|")
	sb.WriteString(strings.Repeat("---|", len(s.Robots)))
	sb.WriteByte('\n')

	for i, r := range s.Runs {
		row := formatRunRow(s, r)

		if maxChars > 0 && sb.Len()+len(row) > maxChars {
			fmt.Fprintf(sb,
				"\n*%d more run(s) not shown (output truncated at %d chars)*\n",
				len(s.Runs)-i, maxChars)

			return
		}

		sb.WriteString(row)
	}
}

func formatRunRow(s *Summary, r *RunReport) string {
	var b strings.Builder

	start := "-"
	if r.StartTime != nil {
		start = r.StartTime.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	dur := "-"
	if r.TotalTime != nil {
		dur = formatDuration(time.Duration(*r.TotalTime * float64(time.Second)))
	}

	fmt.Fprintf(&b, "| `%s` | %s | %s |", r.RunID, start, dur)

	for _, robot := range s.Robots {
		if d := r.Distance(robot); d != nil {
			fmt.Fprintf(&b, " %.3f |", *d)
		} else {
			b.WriteString(" - |")
		}
	}

	b.WriteByte('\n')

	return b.String()
}

// formatDuration formats a time.Duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}
