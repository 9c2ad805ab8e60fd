// Package tour tracks the scripted product tour negotiated through chat turns.
//
// The agent backend owns tour progress; the widget only infers it from the
// transcript. All knowledge of the backend's wording lives behind Phrasing so
// a structured source can replace prose matching later.
package tour

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/agent-widgets/internal/domain"
)

// TerminalStep is the last step of the tour. At this step the widget offers
// direct selection of every earlier step instead of "next".
const TerminalStep = 14

// Phrasing recognizes tour events in message text.
type Phrasing interface {
	// StartsTour reports whether user text (re)starts the tour.
	StartsTour(text string) bool
	// IsStepControl reports whether user text moves within a running tour.
	IsStepControl(text string) bool
	// IsExit reports whether msg closes the tour.
	IsExit(msg domain.Message) bool
	// Step extracts the step an assistant reply is showing.
	Step(text string) (int, bool)
}

// Prose matches the plain-text phrasing the hosted agent uses today.
type Prose struct{}

var _ Phrasing = Prose{}

const tourPhrase = "product tour"

var (
	stepNumberInput = regexp.MustCompile(`^#?\d+$`)

	// Tried in order; the first one with a parseable number wins.
	stepPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)step\s*:?\s*(\d+)`),
		regexp.MustCompile(`(?i)step\s+(\d+)`),
		regexp.MustCompile(`(?i)^step\s*(\d+)`),
		regexp.MustCompile(`(?i)\(step\s*(\d+)\)`),
		regexp.MustCompile(`(?i)\[step\s*(\d+)\]`),
	}

	// Known to misfire on unrelated numbers in prose.
	bareStepNumber = regexp.MustCompile(`\b([1-9]|1[0-9]|20)\b`)
)

// StartsTour implements Phrasing.
func (Prose) StartsTour(text string) bool {
	return strings.Contains(strings.ToLower(text), tourPhrase)
}

// IsStepControl implements Phrasing.
func (Prose) IsStepControl(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "next" || t == "prev" || stepNumberInput.MatchString(t)
}

// IsExit implements Phrasing.
func (Prose) IsExit(msg domain.Message) bool {
	return msg.IsAssistant() && msg.Content == domain.ExitSentinel
}

// Step implements Phrasing.
func (Prose) Step(text string) (int, bool) {
	for _, p := range stepPatterns {
		m := p.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	if m := bareStepNumber.FindStringSubmatch(text); len(m) == 2 {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	return 0, false
}
