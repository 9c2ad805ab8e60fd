package widget

import "strings"

// QuickAction is a preset button that sends a canned user message.
type QuickAction struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// QuickActions are offered on a fresh conversation and after a tour exit.
var QuickActions = []QuickAction{
	{Label: "Start Product Tour", Message: "Product Tour"},
	{Label: "Help with a Task", Message: "Help with a Task"},
	{Label: "Ask a Question", Message: "Ask a Question"},
}

// LookupQuickAction finds an action by its label or message, case-insensitively.
func LookupQuickAction(name string) (QuickAction, bool) {
	name = strings.TrimSpace(name)
	for _, qa := range QuickActions {
		if strings.EqualFold(qa.Label, name) || strings.EqualFold(qa.Message, name) {
			return qa, true
		}
	}
	return QuickAction{}, false
}
