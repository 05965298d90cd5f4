// Package output provides terminal output utilities for addonsync.
//
// This package includes:
//   - Table rendering for package records, repositories and queued events
//   - Progress bars for multi-package runs
//   - Spinners for indeterminate operations
//
// Tables use plain box-drawing separators and ANSI color codes only when
// stdout is a terminal. Progress indicators are safe for concurrent use.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/queue"
	"github.com/blackwell-systems/addonsync/internal/store"
)

// ANSI color codes for status display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in an ANSI color code when color output is enabled.
func colorize(color, text string) string {
	if !IsColorEnabled() {
		return text
	}
	return color + text + colorReset
}

// statusColor maps a record status to its display color.
func statusColor(s addon.Status) string {
	switch s {
	case addon.StatusActivated:
		return colorGreen
	case addon.StatusDeactivated:
		return colorGray
	case addon.StatusFailedUpdate:
		return colorYellow
	default:
		return colorRed
	}
}

// formatStatus pads before colorizing so escape codes don't break alignment.
func formatStatus(s addon.Status, width int) string {
	return colorize(statusColor(s), fmt.Sprintf("%-*s", width, s))
}

// RenderRecordTable renders package records sorted by kind then name. A
// Supports column is added when any record is a theme.
func RenderRecordTable(records []*addon.Record) string {
	if len(records) == 0 {
		return "No packages found.\n"
	}

	sorted := make([]*addon.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].Name < sorted[j].Name
	})

	themes := false
	for _, r := range sorted {
		if r.Kind == addon.KindTheme {
			themes = true
			break
		}
	}

	var sb strings.Builder

	header := fmt.Sprintf("%-30s %-7s %-17s %-10s %-10s %-14s",
		"Package", "Kind", "Status", "Current", "Target", "Updated")
	width := 93
	if themes {
		header += " Supports"
		width += 20
	}
	sb.WriteString(header + "\n")
	sb.WriteString(strings.Repeat("─", width))
	sb.WriteString("\n")

	for _, r := range sorted {
		name := r.Name
		if r.ProxyName != "" {
			name += "*"
		}
		current := r.CurrentVersion
		if current == "" {
			current = "-"
		}
		target := r.TargetVersion
		if target == "" {
			target = "-"
		}

		sb.WriteString(fmt.Sprintf("%-30s %-7s %s %-10s %-10s %-14s",
			truncate(name, 30),
			r.Kind,
			formatStatus(r.Status, 17),
			truncate(current, 10),
			truncate(target, 10),
			formatRelativeTime(r.UpdatedAt)))
		if themes && len(r.Supports) > 0 {
			sb.WriteString(" " + strings.Join(r.Supports, ","))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(strings.Repeat("─", width))
	sb.WriteString("\n")
	sb.WriteString(RenderStatusSummary(sorted))
	if hasProxied(sorted) {
		sb.WriteString("* fetched under a proxy name\n")
	}

	return sb.String()
}

func hasProxied(records []*addon.Record) bool {
	for _, r := range records {
		if r.ProxyName != "" {
			return true
		}
	}
	return false
}

// RenderStatusSummary renders one line counting records per status, in
// status order, omitting statuses with no records.
func RenderStatusSummary(records []*addon.Record) string {
	counts := make(map[addon.Status]int)
	for _, r := range records {
		counts[r.Status]++
	}

	order := []addon.Status{
		addon.StatusActivated,
		addon.StatusDeactivated,
		addon.StatusFailedInstall,
		addon.StatusFailedUpdate,
		addon.StatusFailedUninstall,
	}

	var parts []string
	for _, s := range order {
		if counts[s] == 0 {
			continue
		}
		parts = append(parts, colorize(statusColor(s), fmt.Sprintf("%s: %d", strings.ToUpper(string(s)), counts[s])))
	}
	if len(parts) == 0 {
		return "No packages.\n"
	}
	return strings.Join(parts, " · ") + "\n"
}

// RenderRepositoryTable renders configured repositories sorted by name.
func RenderRepositoryTable(repos []*store.Repository) string {
	if len(repos) == 0 {
		return "No repositories configured.\n"
	}

	sorted := make([]*store.Repository, len(repos))
	copy(sorted, repos)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-4s %-20s %-48s %-14s\n", "ID", "Name", "URL", "Added"))
	sb.WriteString(strings.Repeat("─", 88))
	sb.WriteString("\n")

	for _, r := range sorted {
		sb.WriteString(fmt.Sprintf("%-4d %-20s %-48s %-14s\n",
			r.ID,
			truncate(r.Name, 20),
			truncate(r.URL, 48),
			formatRelativeTime(r.CreatedAt)))
	}

	return sb.String()
}

// RenderQueueTable renders pending queue entries in dispatch order.
func RenderQueueTable(entries []queue.Entry) string {
	if len(entries) == 0 {
		return "No pending events.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-18s %-30s %-7s %-24s %-14s\n",
		"Event", "Package", "Kind", "Listeners", "Queued"))
	sb.WriteString(strings.Repeat("─", 97))
	sb.WriteString("\n")

	for _, e := range entries {
		listeners := strings.Join(e.Listeners, ",")
		if listeners == "" {
			listeners = "-"
		}
		sb.WriteString(fmt.Sprintf("%-18s %-30s %-7s %-24s %-14s\n",
			e.Kind,
			truncate(e.Package.Name, 30),
			e.Package.Kind,
			truncate(listeners, 24),
			formatRelativeTime(e.EnqueuedAt)))
	}

	sb.WriteString(fmt.Sprintf("\n%s pending\n", humanize.Comma(int64(len(entries)))))
	return sb.String()
}

// formatRelativeTime formats a timestamp relative to now ("3 hours ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// truncate shortens s to maxLen runes, ending with "..." when cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
