package tour

// Mode is the coarse conversation mode.
type Mode int

const (
	// ModeIdle means no tour is running.
	ModeIdle Mode = iota
	// ModeTouring means the tour is running and tour controls are shown.
	ModeTouring
	// ModeExited means the conversation just closed a tour with the sentinel.
	ModeExited
)

func (m Mode) String() string {
	switch m {
	case ModeTouring:
		return "touring"
	case ModeExited:
		return "exited"
	default:
		return "idle"
	}
}

// State is the tour position derived from a conversation.
type State struct {
	Mode     Mode
	Started  bool // a tour was requested at some point
	Step     int  // valid only when HasStep
	HasStep  bool
	Advanced bool // navigation happened since the latest tour start
}

// Active reports whether the tour controls apply.
func (s State) Active() bool {
	return s.Mode == ModeTouring
}

// Controls lists which tour buttons to offer.
type Controls struct {
	Prev  bool  `json:"prev"`
	Next  bool  `json:"next"`
	Exit  bool  `json:"exit"`
	Steps []int `json:"steps,omitempty"`
}

// Any reports whether at least one control is visible.
func (c Controls) Any() bool {
	return c.Prev || c.Next || c.Exit || len(c.Steps) > 0
}

// Controls returns the buttons for s. Nothing is offered outside a tour.
func (s State) Controls() Controls {
	if !s.Active() {
		return Controls{}
	}
	c := Controls{
		Exit: true,
		Prev: s.Advanced && (!s.HasStep || s.Step > 1),
		Next: !s.HasStep || s.Step < TerminalStep,
	}
	if s.HasStep && s.Step == TerminalStep {
		c.Steps = make([]int, 0, TerminalStep-1)
		for n := 1; n < TerminalStep; n++ {
			c.Steps = append(c.Steps, n)
		}
	}
	return c
}
