package tour

import (
	"github.com/ashureev/agent-widgets/internal/domain"
)

// Machine keeps tour state current as messages are appended, so callers never
// rescan the transcript. For any history, Replay(p, history).State() equals
// Inferrer{p}.Infer(history).
type Machine struct {
	phrasing Phrasing

	started     bool
	lastUserNav bool
	exited      bool
	step        int
	hasStep     bool

	// Tracking for the latest tour start.
	inTourRun  bool
	runClosed  bool
	runMovedOn bool
}

// NewMachine returns an idle machine. A nil phrasing means Prose.
func NewMachine(p Phrasing) *Machine {
	if p == nil {
		p = Prose{}
	}
	return &Machine{phrasing: p}
}

// Replay builds a machine from an existing transcript.
func Replay(p Phrasing, msgs []domain.Message) *Machine {
	m := NewMachine(p)
	for _, msg := range msgs {
		m.Observe(msg)
	}
	return m
}

// Observe applies one appended message.
func (m *Machine) Observe(msg domain.Message) {
	switch msg.Role {
	case domain.RoleUser:
		starts := m.phrasing.StartsTour(msg.Content)
		control := m.phrasing.IsStepControl(msg.Content)
		switch {
		case starts:
			m.started = true
			m.inTourRun = true
			m.runClosed = false
			m.runMovedOn = false
		case control && m.inTourRun && !m.runClosed:
			m.runMovedOn = true
		}
		m.lastUserNav = starts || control
	case domain.RoleAssistant:
		m.step, m.hasStep = m.phrasing.Step(msg.Content)
	}

	m.exited = m.phrasing.IsExit(msg)
	if m.exited && m.inTourRun {
		m.runClosed = true
	}
}

// Reset returns the machine to its initial state.
func (m *Machine) Reset() {
	*m = Machine{phrasing: m.phrasing}
}

// State returns the current tour state.
func (m *Machine) State() State {
	s := State{
		Started:  m.started,
		Step:     m.step,
		HasStep:  m.hasStep,
		Advanced: m.inTourRun && m.runMovedOn,
	}
	switch {
	case m.started && m.lastUserNav && !m.exited:
		s.Mode = ModeTouring
	case m.exited:
		s.Mode = ModeExited
	default:
		s.Mode = ModeIdle
	}
	if !s.HasStep {
		s.Step = 0
	}
	return s
}
