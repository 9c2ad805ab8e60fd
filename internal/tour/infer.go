package tour

import (
	"github.com/ashureev/agent-widgets/internal/domain"
)

// Inferrer reconstructs tour state by scanning a whole transcript.
// Use it to resume from a bare history; live widgets use Machine.
type Inferrer struct {
	Phrasing Phrasing
}

var defaultInferrer = Inferrer{Phrasing: Prose{}}

// StartedTour reports whether any user message asked for the tour.
func (in Inferrer) StartedTour(msgs []domain.Message) bool {
	for _, m := range msgs {
		if m.IsUser() && in.Phrasing.StartsTour(m.Content) {
			return true
		}
	}
	return false
}

// LastUserMessage returns the most recent user message.
func LastUserMessage(msgs []domain.Message) (domain.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser() {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}

func lastAssistantMessage(msgs []domain.Message) (domain.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}

// IsNavigationInput reports whether user text is tour control input.
func (in Inferrer) IsNavigationInput(text string) bool {
	return in.Phrasing.StartsTour(text) || in.Phrasing.IsStepControl(text)
}

// HasExited reports whether the last message closes the tour.
func (in Inferrer) HasExited(msgs []domain.Message) bool {
	return len(msgs) > 0 && in.Phrasing.IsExit(msgs[len(msgs)-1])
}

// Active reports whether the tour is running.
func (in Inferrer) Active(msgs []domain.Message) bool {
	if !in.StartedTour(msgs) {
		return false
	}
	last, ok := LastUserMessage(msgs)
	if !ok || !in.IsNavigationInput(last.Content) {
		return false
	}
	return !in.HasExited(msgs)
}

// CurrentStep extracts the step shown by the latest assistant message.
func (in Inferrer) CurrentStep(msgs []domain.Message) (int, bool) {
	last, ok := lastAssistantMessage(msgs)
	if !ok {
		return 0, false
	}
	return in.Phrasing.Step(last.Content)
}

// HasAdvancedSinceTourStart reports whether the user navigated after the
// most recent tour start and before that tour was exited.
func (in Inferrer) HasAdvancedSinceTourStart(msgs []domain.Message) bool {
	start := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser() && in.Phrasing.StartsTour(msgs[i].Content) {
			start = i
			break
		}
	}
	if start < 0 {
		return false
	}
	for _, m := range msgs[start+1:] {
		if in.Phrasing.IsExit(m) {
			return false
		}
		if m.IsUser() && in.Phrasing.IsStepControl(m.Content) {
			return true
		}
	}
	return false
}

// Infer computes the full tour state of msgs.
func (in Inferrer) Infer(msgs []domain.Message) State {
	step, hasStep := in.CurrentStep(msgs)
	s := State{
		Started:  in.StartedTour(msgs),
		Step:     step,
		HasStep:  hasStep,
		Advanced: in.HasAdvancedSinceTourStart(msgs),
	}
	switch {
	case in.Active(msgs):
		s.Mode = ModeTouring
	case in.HasExited(msgs):
		s.Mode = ModeExited
	default:
		s.Mode = ModeIdle
	}
	return s
}

// The functions below use the Prose phrasing.

// StartedTour reports whether any user message asked for the tour.
func StartedTour(msgs []domain.Message) bool { return defaultInferrer.StartedTour(msgs) }

// IsNavigationInput reports whether user text is tour control input.
func IsNavigationInput(text string) bool { return defaultInferrer.IsNavigationInput(text) }

// HasExited reports whether the last message closes the tour.
func HasExited(msgs []domain.Message) bool { return defaultInferrer.HasExited(msgs) }

// Active reports whether the tour is running.
func Active(msgs []domain.Message) bool { return defaultInferrer.Active(msgs) }

// CurrentStep extracts the step shown by the latest assistant message.
func CurrentStep(msgs []domain.Message) (int, bool) { return defaultInferrer.CurrentStep(msgs) }

// HasAdvancedSinceTourStart reports navigation since the latest tour start.
func HasAdvancedSinceTourStart(msgs []domain.Message) bool {
	return defaultInferrer.HasAdvancedSinceTourStart(msgs)
}

// Infer computes the full tour state of msgs.
func Infer(msgs []domain.Message) State { return defaultInferrer.Infer(msgs) }

// ControlsFor returns the tour buttons to show for msgs.
func ControlsFor(msgs []domain.Message) Controls { return Infer(msgs).Controls() }
