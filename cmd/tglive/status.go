package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/tg-live/internal/diagnostics"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// runStatusCommand implements `tglive status --file <path>`: a read-only
// TUI that tails a newline-delimited CycleResult JSONL file (the runtime's
// own stdout, redirected to a file by the operator) and renders the most
// recent cycle's counters and heartbeat state. Grounded on the teacher's
// internal/tui/activity.go ActivityFeed — a small bounded, lipgloss-styled
// live view driven by external events — adapted from an in-process event
// feed to a polling file tail, since this command runs out-of-process from
// the runtime it observes.
func runStatusCommand(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	path := fs.String("file", "", "path to the CycleResult JSONL file to tail")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "status: --file is required")
		return 2
	}

	m := newStatusModel(*path)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type tickMsg time.Time

type statusModel struct {
	path   string
	offset int64
	cycles int
	last   *diagnostics.CycleResult
	readErr error
}

func newStatusModel(path string) statusModel {
	return statusModel{path: path}
}

func (m statusModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		m.poll()
		return m, tickCmd()
	}
	return m, nil
}

// poll reads any newly-appended complete lines since the last offset and
// keeps the last successfully-decoded CycleResult.
func (m *statusModel) poll() {
	f, err := os.Open(m.path)
	if err != nil {
		m.readErr = err
		return
	}
	defer f.Close()

	if _, err := f.Seek(m.offset, 0); err != nil {
		m.readErr = err
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var consumed int64
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1
		var result diagnostics.CycleResult
		if err := json.Unmarshal(line, &result); err != nil {
			continue
		}
		r := result
		m.last = &r
		m.cycles++
	}
	m.offset += consumed
	m.readErr = nil
}

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

func (m statusModel) View() string {
	if m.readErr != nil {
		return fmt.Sprintf("tglive status: %s\n%s\n", m.path, dimStyle.Render(m.readErr.Error()))
	}
	if m.last == nil {
		return fmt.Sprintf("tglive status: %s\n%s\n", m.path, dimStyle.Render("waiting for the first cycle..."))
	}

	statusStyle := okStyle
	if m.last.Status == diagnostics.StatusFailed {
		statusStyle = failedStyle
	}

	return fmt.Sprintf(
		"tglive status: %s  (%d cycles observed)\n\n"+
			"  status:   %s   reason: %s\n"+
			"  fetched:  %d   sent: %d   acked: %d   ack_skipped: %d\n"+
			"  error:    %d   dropped: %d\n"+
			"  heartbeat: %s   cycle_total_ms: %d\n\n%s\n",
		m.path, m.cycles,
		statusStyle.Render(m.last.Status), labelStyle.Render(m.last.Reason),
		m.last.Fetched, m.last.Sent, m.last.Acked, m.last.AckSkipped,
		m.last.Error, m.last.Dropped,
		m.last.Telemetry.Heartbeat.EmitState, m.last.Telemetry.TimersMs.CycleTotalMs,
		dimStyle.Render("press q to quit"),
	)
}
