// internal/tui/app.go
//
// This is the live monitor behind `slotctl watch`. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the latest run snapshot plus widget state
// 2. Update: a function that updates state based on messages
// 3. View: a function that renders state to a string
//
// The monitor only reads run files; it never touches the distributor's state.

package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/slotfeed/internal/status"
)

const defaultRefreshInterval = 2 * time.Second

// SnapshotFunc loads the current state of a run.
type SnapshotFunc func() (status.Snapshot, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithRefreshInterval overrides how often the snapshot is reloaded.
func WithRefreshInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.interval = d
		}
	}
}

type snapshotMsg struct {
	snap status.Snapshot
	err  error
}

// App is the watch model.
type App struct {
	workload string
	load     SnapshotFunc
	interval time.Duration

	snap      status.Snapshot
	hasSnap   bool
	loadErr   string
	loading   bool
	spinner   spinner.Model
	table     table.Model
	width     int
	height    int
	statusMsg string
}

// New builds a watch model for the workload.
func New(workload string, load SnapshotFunc, opts ...AppOption) *App {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = journalTitle
	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Slot", Width: 6},
			{Title: "Job", Width: 12},
			{Title: "Queued", Width: 8},
			{Title: "State", Width: 10},
		}),
		table.WithHeight(12),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#5B8DEF"))
	tbl.SetStyles(styles)

	a := &App{
		workload:  workload,
		load:      load,
		interval:  defaultRefreshInterval,
		loading:   true,
		spinner:   sp,
		table:     tbl,
		statusMsg: "q quit · r refresh · ↑/↓ scroll",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init starts the first load.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.fetchSnapshot())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.table.SetHeight(max(3, msg.Height-14))
		return a, nil

	case snapshotMsg:
		a.loading = false
		if msg.err != nil {
			a.loadErr = msg.err.Error()
		} else {
			a.loadErr = ""
			a.snap = msg.snap
			a.hasSnap = true
			a.table.SetRows(slotRows(msg.snap))
		}
		return a, a.scheduleRefresh()

	case spinner.TickMsg:
		if !a.loading {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			if a.loading {
				return a, nil
			}
			a.loading = true
			return a, tea.Batch(a.spinner.Tick, a.fetchSnapshot())
		}
	}
	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

// View renders the monitor.
func (a *App) View() string {
	sections := []string{renderHeader(a.workload)}
	switch {
	case a.loadErr != "":
		sections = append(sections, errStyle.Render("error: "+a.loadErr))
	case !a.hasSnap:
		sections = append(sections, a.spinner.View()+" loading run files...")
	default:
		line := renderSummary(a.snap)
		if a.loading {
			line = a.spinner.View() + " " + line
		}
		sections = append(sections, line)
	}
	if a.hasSnap {
		sections = append(sections, boxStyle.Render(a.table.View()))
		if journal := renderJournal(a.snap.Journal, a.snap.JournalTotal); journal != "" {
			sections = append(sections, journal)
		}
		sections = append(sections, mutedStyle.Render("updated "+a.snap.TakenAt.Format(time.TimeOnly)))
	}
	sections = append(sections, mutedStyle.Render(a.statusMsg))
	return strings.Join(sections, "\n")
}

func (a *App) fetchSnapshot() tea.Cmd {
	return func() tea.Msg {
		return a.buildSnapshot()
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(a.interval, func(time.Time) tea.Msg {
		return a.buildSnapshot()
	})
}

func (a *App) buildSnapshot() snapshotMsg {
	if a.load == nil {
		return snapshotMsg{err: fmt.Errorf("no snapshot source")}
	}
	snap, err := a.load()
	return snapshotMsg{snap: snap, err: err}
}

func slotRows(snap status.Snapshot) []table.Row {
	rows := make([]table.Row, 0, len(snap.Slots))
	for _, row := range snap.Slots {
		job := string(row.Job)
		if job == "" {
			job = "-"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(row.Index),
			job,
			strconv.Itoa(row.Pending),
			slotState(row),
		})
	}
	return rows
}
