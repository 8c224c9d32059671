package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg carries an updated status.
type StatusMsg struct {
	Status Status
}

// CommandDoneMsg reports the outcome of a key-driven command.
type CommandDoneMsg struct {
	Action string
	Result string
	Err    error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Status is everything the dashboard shows. It is filled by the
// orchestrator from the controller snapshot and the collectors.
type Status struct {
	State        string
	RunState     string
	BackendReady bool
	Processes    map[string]bool

	Exposure  time.Duration
	Period    time.Duration
	Frames    int
	Triggers  int
	Timing    string
	FrameMode string
	FileWrite bool
	Streaming bool
	FileIndex int
	NextPath  string
	LastPath  string

	// Summary of the last image a run wrote; zero width when none.
	LastImageWidth  int
	LastImageHeight int
	LastImageSum    uint64
	LastImageMax    uint32

	InFlight   bool
	RunID      string
	RunKind    string
	RunStarted time.Time
	Expected   time.Duration // exposure-driven estimate for the current run

	Acquisitions   int64
	FramesReceived int64
	FramesDropped  int64
	DecodeErrors   int64
	FrameBytes     int64
	FrameInterval  time.Duration // p50
}

// StatusSource provides the dashboard status.
type StatusSource interface {
	Status() Status
}

// Commands is the command surface bound to keys. Each call returns a
// short result for the message line.
type Commands interface {
	Acquire() (string, error)
	Pedestal() (string, error)
	Stop() (string, error)
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	backend     string
	metricsAddr string

	// Current state
	status     Status
	startTime  time.Time
	lastUpdate time.Time
	message    string
	messageErr bool
	pending    string

	// Display options
	width  int
	height int

	source   StatusSource
	commands Commands

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Backend     string
	MetricsAddr string
	Source      StatusSource
	Commands    Commands
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		backend:     cfg.Backend,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		commands:    cfg.Commands,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "a":
			return m.run("acquire")
		case "p":
			return m.run("pedestal")
		case "s":
			return m.run("stop")
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.status = m.source.Status()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case StatusMsg:
		m.status = msg.Status
		m.lastUpdate = time.Now()
		return m, nil

	case CommandDoneMsg:
		m.pending = ""
		if msg.Err != nil {
			m.message = fmt.Sprintf("%s: %v", msg.Action, msg.Err)
			m.messageErr = true
		} else {
			m.message = fmt.Sprintf("%s: %s", msg.Action, msg.Result)
			m.messageErr = false
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// run dispatches a command off the update loop. Keys pressed while a
// command is pending are ignored.
func (m Model) run(action string) (tea.Model, tea.Cmd) {
	if m.commands == nil || m.pending != "" {
		return m, nil
	}
	m.pending = action
	m.message = action + "..."
	m.messageErr = false
	return m, commandCmd(m.commands, action)
}

func commandCmd(c Commands, action string) tea.Cmd {
	return func() tea.Msg {
		var (
			result string
			err    error
		)
		switch action {
		case "acquire":
			result, err = c.Acquire()
		case "pedestal":
			result, err = c.Pedestal()
		case "stop":
			result, err = c.Stop()
		}
		return CommandDoneMsg{Action: action, Result: result, Err: err}
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Status returns the last status shown.
func (m Model) Status() Status {
	return m.status
}

// Message returns the command message line.
func (m Model) Message() string {
	return m.message
}

// RunProgress returns the progress of the current run (0.0 to 1.0), or
// 0 when nothing is running or no estimate exists.
func (m Model) RunProgress(now time.Time) float64 {
	s := m.status
	if !s.InFlight || s.Expected <= 0 || s.RunStarted.IsZero() {
		return 0
	}
	p := float64(now.Sub(s.RunStarted)) / float64(s.Expected)
	if p > 1 {
		p = 1
	}
	return p
}

// DropRate returns the frame drop ratio.
func (m Model) DropRate() float64 {
	total := m.status.FramesReceived + m.status.FramesDropped
	if total == 0 {
		return 0
	}
	return float64(m.status.FramesDropped) / float64(total)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStatus sends a status update to the TUI.
func SendStatus(p *tea.Program, s Status) {
	if p != nil {
		p.Send(StatusMsg{Status: s})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatBytes formats bytes with KB/MB/GB suffixes.
func formatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// formatExposure formats a short duration with a sensible unit.
func formatExposure(d time.Duration) string {
	switch {
	case d == 0:
		return "0"
	case d < time.Millisecond:
		return fmt.Sprintf("%d µs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.3g ms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.3g s", d.Seconds())
	}
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
