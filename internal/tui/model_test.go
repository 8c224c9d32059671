package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeSource struct {
	status Status
}

func (f *fakeSource) Status() Status {
	return f.status
}

type fakeCommands struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeCommands) record(action string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	if f.err != nil {
		return "", f.err
	}
	return "started", nil
}

func (f *fakeCommands) Acquire() (string, error)  { return f.record("acquire") }
func (f *fakeCommands) Pedestal() (string, error) { return f.record("pedestal") }
func (f *fakeCommands) Stop() (string, error)     { return f.record("stop") }

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{Backend: "simulated", MetricsAddr: "localhost:17092"})

	if model.backend != "simulated" {
		t.Errorf("backend = %q, want simulated", model.backend)
	}
	if model.metricsAddr != "localhost:17092" {
		t.Errorf("metricsAddr = %q", model.metricsAddr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
}

func TestModel_Init(t *testing.T) {
	if New(Config{}).Init() == nil {
		t.Error("Init() should return a tick command")
	}
}

// =============================================================================
// Tests: Update
// =============================================================================

func TestModel_Quit(t *testing.T) {
	for _, key := range []tea.KeyMsg{keyMsg("q"), {Type: tea.KeyCtrlC}, {Type: tea.KeyEsc}} {
		t.Run(key.String(), func(t *testing.T) {
			updated, cmd := New(Config{}).Update(key)
			m := updated.(Model)
			if !m.quitting {
				t.Error("quitting not set")
			}
			if cmd == nil {
				t.Error("expected tea.Quit command")
			}
			if m.View() != "" {
				t.Error("View() should be empty after quit")
			}
		})
	}
}

func TestModel_CommandKeys(t *testing.T) {
	testCases := []struct {
		key    string
		action string
	}{
		{"a", "acquire"},
		{"p", "pedestal"},
		{"s", "stop"},
	}

	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			cmds := &fakeCommands{}
			updated, cmd := New(Config{Commands: cmds}).Update(keyMsg(tc.key))
			m := updated.(Model)
			if m.pending != tc.action {
				t.Errorf("pending = %q, want %q", m.pending, tc.action)
			}
			if cmd == nil {
				t.Fatal("expected a command")
			}

			done, ok := cmd().(CommandDoneMsg)
			if !ok {
				t.Fatal("command did not return CommandDoneMsg")
			}
			if done.Action != tc.action || done.Err != nil {
				t.Errorf("done = %+v", done)
			}
			if len(cmds.calls) != 1 || cmds.calls[0] != tc.action {
				t.Errorf("calls = %v", cmds.calls)
			}

			updated, _ = m.Update(done)
			m = updated.(Model)
			if m.pending != "" || m.Message() != tc.action+": started" {
				t.Errorf("pending = %q message = %q", m.pending, m.Message())
			}
		})
	}
}

func TestModel_CommandIgnoredWhilePending(t *testing.T) {
	cmds := &fakeCommands{}
	updated, _ := New(Config{Commands: cmds}).Update(keyMsg("a"))
	_, cmd := updated.(Model).Update(keyMsg("p"))
	if cmd != nil {
		t.Error("second command dispatched while the first is pending")
	}
}

func TestModel_CommandWithoutSurface(t *testing.T) {
	updated, cmd := New(Config{}).Update(keyMsg("a"))
	if cmd != nil || updated.(Model).pending != "" {
		t.Error("command dispatched with no command surface")
	}
}

func TestModel_CommandError(t *testing.T) {
	updated, _ := New(Config{}).Update(CommandDoneMsg{Action: "acquire", Err: errors.New("unable to acquire")})
	m := updated.(Model)
	if !m.messageErr || !strings.Contains(m.Message(), "unable to acquire") {
		t.Errorf("message = %q err = %v", m.Message(), m.messageErr)
	}
}

func TestModel_TickFetchesStatus(t *testing.T) {
	src := &fakeSource{status: Status{State: "READY", FileIndex: 7}}
	updated, cmd := New(Config{Source: src}).Update(TickMsg(time.Now()))
	m := updated.(Model)

	if m.Status().State != "READY" || m.Status().FileIndex != 7 {
		t.Errorf("status = %+v", m.Status())
	}
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
}

func TestModel_StatusMsg(t *testing.T) {
	updated, _ := New(Config{}).Update(StatusMsg{Status: Status{State: "BUSY"}})
	if updated.(Model).Status().State != "BUSY" {
		t.Error("StatusMsg not applied")
	}
}

func TestModel_WindowSize(t *testing.T) {
	updated, _ := New(Config{}).Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := updated.(Model)
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d", m.width, m.height)
	}
}

// =============================================================================
// Tests: Accessors
// =============================================================================

func TestModel_RunProgress(t *testing.T) {
	start := time.Now()
	testCases := []struct {
		name   string
		status Status
		now    time.Time
		want   float64
	}{
		{"idle", Status{}, start, 0},
		{"no estimate", Status{InFlight: true, RunStarted: start}, start.Add(time.Second), 0},
		{"half", Status{InFlight: true, RunStarted: start, Expected: 2 * time.Second}, start.Add(time.Second), 0.5},
		{"overrun", Status{InFlight: true, RunStarted: start, Expected: time.Second}, start.Add(3 * time.Second), 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(Config{})
			m.status = tc.status
			if got := m.RunProgress(tc.now); got != tc.want {
				t.Errorf("RunProgress() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestModel_DropRate(t *testing.T) {
	m := New(Config{})
	if m.DropRate() != 0 {
		t.Error("DropRate() with no frames should be 0")
	}
	m.status = Status{FramesReceived: 90, FramesDropped: 10}
	if got := m.DropRate(); got != 0.1 {
		t.Errorf("DropRate() = %v, want 0.1", got)
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View(t *testing.T) {
	m := New(Config{Backend: "simulated", MetricsAddr: "0.0.0.0:17092"})
	m.width = 140
	m.status = Status{
		State:        "BUSY",
		RunState:     "RUNNING",
		BackendReady: true,
		Processes:    map[string]bool{"slsReceiver": true, "moenchDetectorServer_virtual": false},
		Exposure:     10 * time.Millisecond,
		Frames:       100,
		Triggers:     1,
		FrameMode:    "frame",
		FileIndex:    3,
		NextPath:     "/data/run_3.tiff",
		InFlight:     true,
		RunID:        "0123456789abcdef",
		RunKind:      "normal",
		RunStarted:   time.Now(),
		Expected:     time.Second,
	}
	m.message = "acquire: started"

	view := m.View()
	for _, want := range []string{"BUSY", "RUNNING", "slsReceiver", "/data/run_3.tiff", "01234567", "acquire: started", "a: acquire"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_ViewLastImage(t *testing.T) {
	m := New(Config{})
	m.width = 120
	if strings.Contains(m.View(), "Last Image") {
		t.Error("last image shown before any image was loaded")
	}

	m.status = Status{LastImageWidth: 400, LastImageHeight: 400, LastImageSum: 2_500_000, LastImageMax: 4095}
	view := m.View()
	for _, want := range []string{"Last Image", "400x400", "sum 2.5M", "max 4095"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_ViewStream(t *testing.T) {
	m := New(Config{})
	m.width = 120
	if !strings.Contains(m.View(), "no frames yet") {
		t.Error("empty stream placeholder missing")
	}

	m.status = Status{FramesReceived: 1500, FramesDropped: 2, DecodeErrors: 1, FrameBytes: 2_000_000}
	view := m.View()
	for _, want := range []string{"1.5K", "2.00 MB", "Decode Errors"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(3*time.Hour + 4*time.Minute + 5*time.Second); got != "03:04:05" {
		t.Errorf("formatDuration() = %q", got)
	}
}

func TestFormatExposure(t *testing.T) {
	testCases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0"},
		{500 * time.Microsecond, "500 µs"},
		{10 * time.Millisecond, "10 ms"},
		{2 * time.Second, "2 s"},
	}

	for _, tc := range testCases {
		if got := formatExposure(tc.d); got != tc.want {
			t.Errorf("formatExposure(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2_000, "2.00 KB"},
		{3_500_000, "3.50 MB"},
		{1_000_000_000, "1.00 GB"},
	}

	for _, tc := range testCases {
		if got := formatBytes(tc.n); got != tc.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	m := New(Config{})
	m.width = 48 // limit 20
	got := m.truncate("/data/very/long/path/run_12.tiff")
	if len(got) != 20 || !strings.HasSuffix(got, "run_12.tiff") || !strings.HasPrefix(got, "...") {
		t.Errorf("truncate() = %q", got)
	}
	if m.truncate("short") != "short" {
		t.Error("short string changed")
	}
}
