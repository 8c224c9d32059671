package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the single-page dashboard.
func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderBackend(),
		m.renderSession(),
		m.renderRun(),
		m.renderStream(),
	}
	if m.message != "" {
		sections = append(sections, m.renderMessage())
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" moenchctl │ %s │ Run: %s │ Backend: %s │ Elapsed: %s ",
		StateLabel(m.status.State),
		orDash(m.status.RunState),
		orDash(m.backend),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Backend
// =============================================================================

func (m Model) renderBackend() string {
	rows := []string{
		RenderKeyStyled("Backend Ready", BoolStyle(m.status.BackendReady)),
	}

	names := make([]string, 0, len(m.status.Processes))
	for name := range m.status.Processes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, RenderKeyStyled(name, BoolStyle(m.status.Processes[name])))
	}

	return m.box("Backend", rows)
}

// =============================================================================
// Session
// =============================================================================

func (m Model) renderSession() string {
	s := m.status
	write := "off"
	if s.FileWrite {
		write = "on"
	}
	stream := "off"
	if s.Streaming {
		stream = "on"
	}

	rows := []string{
		RenderKeyValue("Exposure", formatExposure(s.Exposure)),
		RenderKeyValue("Period", formatExposure(s.Period)),
		RenderKeyValue("Frames x Triggers", fmt.Sprintf("%d x %d", s.Frames, s.Triggers)),
		RenderKeyValue("Timing", orDash(s.Timing)),
		RenderKeyValue("Frame Mode", orDash(s.FrameMode)),
		RenderKeyValue("File Write", write),
		RenderKeyValue("Streaming", stream),
		RenderKeyValue("File Index", fmt.Sprintf("%d", s.FileIndex)),
		RenderKeyValue("Next Path", m.truncate(orDash(s.NextPath))),
		RenderKeyValue("Last Path", m.truncate(orDash(s.LastPath))),
	}
	return m.box("Session", rows)
}

// =============================================================================
// Current Run
// =============================================================================

func (m Model) renderRun() string {
	s := m.status
	if !s.InFlight {
		rows := []string{
			dimStyle.Render("idle"),
			RenderKeyValue("Completed", formatNumber(s.Acquisitions)),
		}
		if s.LastImageWidth > 0 {
			rows = append(rows, RenderKeyValue("Last Image", lastImage(s)))
		}
		return m.box("Acquisition", rows)
	}

	now := time.Now()
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{
		RenderKeyValue("Run", fmt.Sprintf("%s (%s)", shortID(s.RunID), s.RunKind)),
		RenderKeyValue("Running For", formatDuration(now.Sub(s.RunStarted))),
	}
	if s.Expected > 0 {
		rows = append(rows, RenderProgressBar(m.RunProgress(now), barWidth))
	}
	rows = append(rows, RenderKeyValue("Completed", formatNumber(s.Acquisitions)))
	if s.LastImageWidth > 0 {
		rows = append(rows, RenderKeyValue("Last Image", lastImage(s)))
	}
	return m.box("Acquisition", rows)
}

// lastImage formats the last-image summary as "WxH  sum S  max M".
func lastImage(s Status) string {
	return fmt.Sprintf("%dx%d  sum %s  max %d",
		s.LastImageWidth, s.LastImageHeight, formatNumber(int64(s.LastImageSum)), s.LastImageMax)
}

// =============================================================================
// Frame Stream
// =============================================================================

func (m Model) renderStream() string {
	s := m.status
	if s.FramesReceived == 0 && s.FramesDropped == 0 && s.DecodeErrors == 0 {
		return m.box("Frame Stream", []string{dimStyle.Render("no frames yet")})
	}

	dropStyle := GetDropRateStyle(m.DropRate())
	rows := []string{
		RenderKeyValue("Frames", formatNumber(s.FramesReceived)),
		RenderKeyStyled("Dropped", dropStyle.Render(
			fmt.Sprintf("%s (%s)", formatNumber(s.FramesDropped), formatPercent(m.DropRate())))),
		RenderKeyValue("Bytes", formatBytes(s.FrameBytes)),
	}
	if s.DecodeErrors > 0 {
		rows = append(rows, RenderKeyStyled("Decode Errors", valueBadStyle.Render(formatNumber(s.DecodeErrors))))
	}
	if s.FrameInterval > 0 {
		rows = append(rows, RenderKeyValue("Interval P50", formatExposure(s.FrameInterval)))
	}
	return m.box("Frame Stream", rows)
}

// =============================================================================
// Message line and footer
// =============================================================================

func (m Model) renderMessage() string {
	style := statusInfo
	if m.messageErr {
		style = statusError
	}
	return style.Render(" " + m.message)
}

func (m Model) renderFooter() string {
	shortcuts := []string{
		"a: acquire",
		"p: pedestal",
		"s: stop",
		"r: refresh",
		"q: quit",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// =============================================================================
// Helpers
// =============================================================================

func (m Model) box(title string, rows []string) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render(title)}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// truncate shortens long paths from the left so the file name stays visible.
func (m Model) truncate(s string) string {
	limit := m.width - 28
	if limit < 12 || len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit+3:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
