// Package tui is the terminal shell for agent widgets: tabs between the
// configured widgets, one open at a time, with the same controller the
// dashboard uses.
package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/agent-widgets/internal/dashboard"
	"github.com/ashureev/agent-widgets/internal/tour"
	"github.com/ashureev/agent-widgets/internal/widget"
)

const (
	// VisitorID identifies the local terminal user in the registry.
	VisitorID = "v_terminal"

	stepCommand     = ":step "
	restoredWidth   = 72
	restoredHeight  = 20
	chromeHeight    = 9
	maxStepShortcut = 9
)

type theme struct {
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	window      lipgloss.Style
	title       lipgloss.Style
	heading     lipgloss.Style
	assistant   lipgloss.Style
	user        lipgloss.Style
	status      lipgloss.Style
	controls    lipgloss.Style
	help        lipgloss.Style
	errorLine   lipgloss.Style
	markup      MarkupStyles
}

func newTheme() theme {
	accent := lipgloss.Color("#0069ff")
	green := lipgloss.Color("#15cd72")
	muted := lipgloss.Color("#7b8794")
	return theme{
		tabActive:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(accent).Padding(0, 1),
		tabInactive: lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		window:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1),
		title:       lipgloss.NewStyle().Bold(true).Foreground(accent),
		heading:     lipgloss.NewStyle().Foreground(muted).Italic(true),
		assistant:   lipgloss.NewStyle().Foreground(lipgloss.Color("#1f2933")).Bold(true),
		user:        lipgloss.NewStyle().Foreground(green).Bold(true),
		status:      lipgloss.NewStyle().Foreground(muted),
		controls:    lipgloss.NewStyle().Foreground(accent),
		help:        lipgloss.NewStyle().Foreground(muted),
		errorLine:   lipgloss.NewStyle().Foreground(lipgloss.Color("#e0245e")),
		markup: MarkupStyles{
			Strong:   lipgloss.NewStyle().Bold(true),
			Emphasis: lipgloss.NewStyle().Italic(true),
		},
	}
}

// snapshotMsg carries a controller update into the bubbletea loop.
type snapshotMsg struct {
	snap widget.Snapshot
}

// Model is the bubbletea model of the terminal shell.
type Model struct {
	reg     *dashboard.Registry
	widgets []widget.Config
	active  int
	snaps   map[string]widget.Snapshot

	updates chan snapshotMsg
	cancels []func()

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	theme    theme

	width, height int
	status        string
	statusIsError bool
}

// New creates the shell for the registry's widgets and subscribes to every
// controller. start selects the initially active widget; empty means the first.
func New(reg *dashboard.Registry, start string) (*Model, error) {
	m := &Model{
		reg:     reg,
		widgets: reg.Widgets(),
		snaps:   make(map[string]widget.Snapshot),
		updates: make(chan snapshotMsg, 16),
		theme:   newTheme(),
	}
	if len(m.widgets) == 0 {
		return nil, errors.New("no widgets configured")
	}
	if start != "" {
		m.active = reg.Position(start)
		if m.active < 0 {
			return nil, fmt.Errorf("%w: %s", dashboard.ErrUnknownWidget, start)
		}
	}

	for _, wc := range m.widgets {
		ctrl, err := reg.Controller(VisitorID, wc.ID)
		if err != nil {
			return nil, err
		}
		ch, cancel := ctrl.Subscribe()
		m.cancels = append(m.cancels, cancel)
		go forward(ch, m.updates)
	}

	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Type your message..."
	input.Focus()
	m.input = input

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#0069ff"))
	m.spinner = sp

	m.viewport = viewport.New(restoredWidth, restoredHeight)
	m.viewport.MouseWheelEnabled = true

	// The active widget starts open, like clicking its toggle.
	if _, err := reg.Toggle(VisitorID, m.current().ID); err != nil {
		return nil, err
	}
	return m, nil
}

func forward(ch <-chan widget.Snapshot, out chan<- snapshotMsg) {
	for snap := range ch {
		out <- snapshotMsg{snap: snap}
	}
}

func waitSnapshot(ch <-chan snapshotMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// Close ends every subscription.
func (m *Model) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitSnapshot(m.updates))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
	case snapshotMsg:
		// Kept for the tab bar; the open widget reads its controller directly.
		m.snaps[msg.snap.WidgetID] = msg.snap
		if msg.snap.WidgetID == m.current().ID {
			m.refresh()
		}
		cmds = append(cmds, waitSnapshot(m.updates))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.snapshot().Loading {
			m.refresh()
		}
	case tea.KeyMsg:
		if handled, cmd := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

//nolint:gocognit,cyclop // Key dispatch mirrors the widget's buttons one to one.
func (m *Model) handleKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c":
		return true, tea.Quit
	case "tab":
		m.switchTo((m.active + 1) % len(m.widgets))
		return true, nil
	case "shift+tab":
		m.switchTo((m.active + len(m.widgets) - 1) % len(m.widgets))
		return true, nil
	case "ctrl+o":
		m.toggle()
		return true, nil
	}

	if !m.shell().Open {
		// A closed widget only reacts to its toggle.
		return true, nil
	}

	switch key {
	case "ctrl+f":
		if _, err := m.reg.ToggleMaximized(VisitorID, m.current().ID); err != nil {
			m.setError(err)
		}
		m.layout()
		return true, nil
	case "enter":
		m.submit()
		return true, nil
	case "ctrl+n":
		if m.snapshot().Controls.Next {
			m.dispatch(widget.Input{Kind: widget.InputNext})
		}
		return true, nil
	case "ctrl+p":
		if m.snapshot().Controls.Prev {
			m.dispatch(widget.Input{Kind: widget.InputPrev})
		}
		return true, nil
	case "ctrl+e":
		if m.snapshot().Controls.Exit {
			m.controller().ExitTour()
		}
		return true, nil
	case "ctrl+r":
		m.controller().Reset()
		m.setStatus("conversation cleared")
		return true, nil
	}

	if n, ok := altDigit(key); ok {
		if steps := m.snapshot().Controls.Steps; len(steps) > 0 {
			m.dispatch(widget.Input{Kind: widget.InputStep, Step: n})
			return true, nil
		}
	}

	if m.input.Value() == "" && len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		idx := int(key[0] - '1')
		if actions := m.snapshot().QuickActions; idx < len(actions) {
			m.dispatch(widget.Input{Kind: widget.InputQuickAction, Text: actions[idx].Label})
			return true, nil
		}
	}
	return false, nil
}

func altDigit(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "alt+")
	if !ok || len(rest) != 1 || rest[0] < '1' || rest[0] > '0'+maxStepShortcut {
		return 0, false
	}
	return int(rest[0] - '0'), true
}

func (m *Model) submit() {
	text := m.input.Value()
	if rest, ok := strings.CutPrefix(strings.TrimSpace(text), stepCommand); ok {
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			m.setError(fmt.Errorf("%w: %q", widget.ErrInvalidStep, rest))
			return
		}
		if m.dispatch(widget.Input{Kind: widget.InputStep, Step: n}) {
			m.input.Reset()
		}
		return
	}
	if m.dispatch(widget.Input{Kind: widget.InputTyped, Text: text}) {
		m.input.Reset()
	}
}

// dispatch starts a send and reports whether it was accepted.
func (m *Model) dispatch(in widget.Input) bool {
	err := m.controller().Dispatch(in)
	switch {
	case err == nil:
		m.setStatus("")
		return true
	case errors.Is(err, widget.ErrEmptyInput):
		return false
	default:
		m.setError(err)
		return false
	}
}

func (m *Model) toggle() {
	if _, err := m.reg.Toggle(VisitorID, m.current().ID); err != nil {
		m.setError(err)
		return
	}
	m.layout()
}

func (m *Model) switchTo(i int) {
	wasOpen := m.shell().Open
	m.active = i
	// Switching tabs carries the open window over, keeping one open at a time.
	if wasOpen && !m.shell().Open {
		m.toggle()
	}
	m.setStatus("")
	m.refresh()
}

func (m *Model) current() widget.Config { return m.widgets[m.active] }

func (m *Model) controller() *widget.Controller {
	ctrl, err := m.reg.Controller(VisitorID, m.current().ID)
	if err != nil {
		// Every configured widget resolves; this only fires on misuse.
		panic(err)
	}
	return ctrl
}

func (m *Model) shell() dashboard.ShellView {
	return m.reg.Shell(VisitorID, m.current().ID)
}

func (m *Model) snapshot() widget.Snapshot {
	return m.controller().Snapshot()
}

func (m *Model) setStatus(s string) {
	m.status, m.statusIsError = s, false
}

func (m *Model) setError(err error) {
	m.status, m.statusIsError = err.Error(), true
}

func (m *Model) layout() {
	w, h := restoredWidth, restoredHeight
	if m.shell().Maximized && m.width > 0 && m.height > 0 {
		w = m.width - 4
		h = m.height - chromeHeight
	} else if m.width > 0 {
		w = min(restoredWidth, m.width-4)
		if m.height > 0 {
			h = min(restoredHeight, m.height-chromeHeight)
		}
	}
	m.viewport.Width = max(w, 20)
	m.viewport.Height = max(h, 3)
	m.input.Width = m.viewport.Width - 4
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages(m.snapshot()))
	m.viewport.GotoBottom()
}

func (m *Model) renderMessages(s widget.Snapshot) string {
	width := m.viewport.Width
	var b strings.Builder
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, m.theme.heading.Render(s.Heading)))
	b.WriteString("\n\n")

	for _, v := range s.Messages {
		body := lipgloss.NewStyle().Width(width - 2).Render(RenderMarkup(string(v.HTML), m.theme.markup))
		if v.Role == "user" {
			b.WriteString(m.theme.user.Render("You"))
		} else {
			b.WriteString(m.theme.assistant.Render("AI"))
		}
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
		b.WriteString(m.theme.status.Render(v.Status))
		b.WriteString("\n")
		if v.ShowControls {
			b.WriteString(m.theme.controls.Render(controlsHint(s.Controls)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if s.Loading {
		b.WriteString(m.spinner.View() + " " + m.theme.status.Render("typing..."))
		b.WriteString("\n")
	}
	if len(s.QuickActions) > 0 {
		for i, qa := range s.QuickActions {
			fmt.Fprintf(&b, "%s %s\n", m.theme.controls.Render("["+strconv.Itoa(i+1)+"]"), qa.Label)
		}
	}
	if s.ShowClear {
		b.WriteString(m.theme.help.Render("ctrl+r Clear Messages"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func controlsHint(c tour.Controls) string {
	var parts []string
	if c.Prev {
		parts = append(parts, "ctrl+p Prev")
	}
	if c.Next {
		parts = append(parts, "ctrl+n Next")
	}
	if c.Exit {
		parts = append(parts, "ctrl+e Exit")
	}
	if n := len(c.Steps); n > 0 {
		parts = append(parts, fmt.Sprintf("steps %d-%d: alt+1..9 or :step N", c.Steps[0], c.Steps[n-1]))
	}
	return strings.Join(parts, " · ")
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	cfg := m.current()
	shell := m.shell()
	if !shell.Open {
		b.WriteString(m.theme.help.Render(cfg.DisplayTitle() + " is closed · ctrl+o to open"))
	} else {
		title := m.theme.title.Render(cfg.DisplayTitle())
		if shell.Maximized {
			title += m.theme.help.Render("  (maximized)")
		}
		window := lipgloss.JoinVertical(lipgloss.Left,
			title,
			m.viewport.View(),
			"",
			m.input.View(),
		)
		b.WriteString(m.theme.window.Render(window))
	}
	b.WriteString("\n")

	if m.status != "" {
		style := m.theme.status
		if m.statusIsError {
			style = m.theme.errorLine
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.theme.help.Render("tab switch · ctrl+o open/close · ctrl+f maximize · enter send · ctrl+c quit"))
	return b.String()
}

func (m *Model) renderTabs() string {
	tabs := make([]string, 0, len(m.widgets))
	for i, wc := range m.widgets {
		label := wc.DisplayTitle()
		if snap, ok := m.snaps[wc.ID]; ok && snap.Loading {
			label += " " + m.spinner.View()
		}
		if i == m.active {
			tabs = append(tabs, m.theme.tabActive.Render(label))
		} else {
			tabs = append(tabs, m.theme.tabInactive.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}
