package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agent-widgets/internal/dashboard"
	"github.com/ashureev/agent-widgets/internal/domain"
	"github.com/ashureev/agent-widgets/internal/widget"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
}

func (s *scriptedCompleter) Complete(_ context.Context, history []domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "echo: " + history[len(history)-1].Content, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func newTestModel(t *testing.T, completer *scriptedCompleter) (*Model, *dashboard.Registry) {
	t.Helper()
	reg := dashboard.NewRegistry([]widget.Config{
		{ID: "admin", Title: "Admin Agent"},
		{ID: "gu", Title: "General User"},
	}, func(cfg widget.Config, _ string) *widget.Controller {
		return widget.NewController(cfg, completer)
	})
	m, err := New(reg, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		reg.Close()
	})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, reg
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+o":
		return tea.KeyMsg{Type: tea.KeyCtrlO}
	case "ctrl+f":
		return tea.KeyMsg{Type: tea.KeyCtrlF}
	case "ctrl+n":
		return tea.KeyMsg{Type: tea.KeyCtrlN}
	case "ctrl+e":
		return tea.KeyMsg{Type: tea.KeyCtrlE}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(m *Model, text string) {
	for _, r := range text {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func waitIdle(t *testing.T, ctrl *widget.Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return !ctrl.Loading() }, 2*time.Second, 5*time.Millisecond)
}

func TestNewOpensStartWidget(t *testing.T) {
	m, reg := newTestModel(t, &scriptedCompleter{})

	assert.True(t, reg.Shell(VisitorID, "admin").Open)
	assert.False(t, reg.Shell(VisitorID, "gu").Open)
	view := m.View()
	assert.Contains(t, view, "Admin Agent")
	assert.Contains(t, view, domain.GreetingText)
	assert.Contains(t, view, "Start Product Tour")

	_, err := New(reg, "nope")
	assert.ErrorIs(t, err, dashboard.ErrUnknownWidget)
}

func TestEnterSubmitsTypedInput(t *testing.T) {
	m, reg := newTestModel(t, &scriptedCompleter{})
	ctrl, err := reg.Controller(VisitorID, "admin")
	require.NoError(t, err)

	typeText(m, "hello")
	m.Update(key("enter"))
	waitIdle(t, ctrl)

	msgs := ctrl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "echo: hello", msgs[2].Content)
	assert.Empty(t, m.input.Value(), "input clears after a send")

	m.Update(key("enter"))
	assert.Len(t, ctrl.Messages(), 3, "blank input sends nothing")
}

func TestQuickActionDigit(t *testing.T) {
	m, reg := newTestModel(t, &scriptedCompleter{replies: []string{"**Step 1:** Welcome", "**Step 2:** Projects"}})
	ctrl, err := reg.Controller(VisitorID, "admin")
	require.NoError(t, err)

	m.Update(key("1"))
	waitIdle(t, ctrl)

	msgs := ctrl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Product Tour", msgs[1].Content)
	assert.Empty(t, m.input.Value(), "the digit is not typed")

	ctl := ctrl.Snapshot().Controls
	assert.True(t, ctl.Next)
	assert.True(t, ctl.Exit)

	m.Update(key("ctrl+n"))
	waitIdle(t, ctrl)
	assert.Equal(t, "next", ctrl.Messages()[3].Content)
	assert.True(t, ctrl.Snapshot().Controls.Prev)

	m.Update(key("ctrl+e"))
	last := ctrl.Messages()[len(ctrl.Messages())-1]
	assert.Equal(t, domain.ExitSentinel, last.Content)

	m.Update(key("ctrl+r"))
	assert.Len(t, ctrl.Messages(), 1)
}

func TestStepCommand(t *testing.T) {
	m, reg := newTestModel(t, &scriptedCompleter{})
	ctrl, err := reg.Controller(VisitorID, "admin")
	require.NoError(t, err)

	typeText(m, ":step 99")
	m.Update(key("enter"))
	assert.True(t, m.statusIsError)
	assert.Equal(t, ":step 99", m.input.Value(), "rejected input is kept")
	assert.Len(t, ctrl.Messages(), 1)

	m.input.Reset()
	typeText(m, ":step 3")
	m.Update(key("enter"))
	waitIdle(t, ctrl)
	assert.Equal(t, "3", ctrl.Messages()[1].Content)
}

func TestToggleAndSwitch(t *testing.T) {
	m, reg := newTestModel(t, &scriptedCompleter{})

	m.Update(key("tab"))
	assert.Equal(t, "gu", m.current().ID)
	assert.True(t, reg.Shell(VisitorID, "gu").Open, "switching carries the open window")
	assert.False(t, reg.Shell(VisitorID, "admin").Open)

	m.Update(key("ctrl+f"))
	assert.True(t, reg.Shell(VisitorID, "gu").Maximized)
	assert.Contains(t, m.View(), "(maximized)")

	m.Update(key("ctrl+o"))
	assert.False(t, reg.Shell(VisitorID, "gu").Open)
	assert.Contains(t, m.View(), "General User is closed")

	typeText(m, "ignored")
	assert.Empty(t, m.input.Value(), "a closed widget ignores typing")

	m.Update(key("ctrl+o"))
	assert.True(t, reg.Shell(VisitorID, "gu").Maximized, "maximized survives a close")
}

func TestAltDigit(t *testing.T) {
	n, ok := altDigit("alt+4")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	for _, k := range []string{"4", "alt+0", "alt+a", "ctrl+4", "alt+12"} {
		_, ok := altDigit(k)
		assert.False(t, ok, k)
	}
}
