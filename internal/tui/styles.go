package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/slotfeed/internal/status"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	journalTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Slot states shown in the table.
const (
	stateQueued  = "queued"
	stateHungry  = "hungry"
	stateUnbound = "unbound"
	stateError   = "error"
)

func slotState(row status.Slot) string {
	switch {
	case row.Err != nil:
		return stateError
	case row.Pending > 0:
		return stateQueued
	case row.Bound:
		return stateHungry
	default:
		return stateUnbound
	}
}

func renderHeader(workload string) string {
	name := filepath.Base(workload)
	if name == "." || name == "" {
		name = "run"
	}
	return headerStyle.Render("⬡ SLOTFEED · " + name)
}

func renderSummary(snap status.Snapshot) string {
	field := func(label string, value any) string {
		return labelStyle.Render(label+" ") + valueStyle.Render(fmt.Sprint(value))
	}
	parts := []string{
		field("remaining", snap.Remaining),
		field("queued", snap.Pending),
		field("bound", fmt.Sprintf("%d/%d", snap.Bound, len(snap.Slots))),
		field("source", snap.Source),
	}
	if snap.Stranded > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("%d stranded", snap.Stranded)))
	}
	line := strings.Join(parts, mutedStyle.Render("  ·  "))
	switch {
	case snap.TerminateRequested:
		line += "  " + warnStyle.Render("terminate requested")
	case snap.Drained():
		line += "  " + okStyle.Render("drained")
	}
	return line
}

func renderJournal(lines []string, total int) string {
	if len(lines) == 0 {
		return ""
	}
	head := journalTitle.Render(fmt.Sprintf("JOURNAL · %d/%d", len(lines), total))
	body := mutedStyle.Render(strings.Join(lines, "\n"))
	return boxStyle.Render(head + "\n" + body)
}

// RenderStatus renders a one-shot view of a snapshot. Slots with nothing bound
// and nothing queued are folded into a count unless all is set.
func RenderStatus(snap status.Snapshot, all bool) string {
	var b strings.Builder
	b.WriteString(renderHeader(snap.Workload))
	b.WriteString("\n")
	b.WriteString(renderSummary(snap))
	b.WriteString("\n\n")
	idle := 0
	for _, row := range snap.Slots {
		state := slotState(row)
		if state == stateUnbound && !all {
			idle++
			continue
		}
		job := string(row.Job)
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(&b, "%s %-10s %s %s\n",
			labelStyle.Render(fmt.Sprintf("slot %3d", row.Index)),
			job,
			valueStyle.Render(fmt.Sprintf("%4d", row.Pending)),
			styleFor(state).Render(state),
		)
	}
	if idle > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%d idle slots", idle)))
		b.WriteString("\n")
	}
	if journal := renderJournal(snap.Journal, snap.JournalTotal); journal != "" {
		b.WriteString("\n")
		b.WriteString(journal)
		b.WriteString("\n")
	}
	return b.String()
}

func styleFor(state string) lipgloss.Style {
	switch state {
	case stateQueued:
		return okStyle
	case stateHungry:
		return warnStyle
	case stateError:
		return errStyle
	default:
		return mutedStyle
	}
}
