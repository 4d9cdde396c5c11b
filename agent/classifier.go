package agent

import (
	"regexp"
	"strings"
)

// ActionClassifier decides which engine actions count as answering a
// question. Engines name their actions differently; the default table
// covers the common CDP-automation vocabularies.
type ActionClassifier struct {
	answer     map[string]struct{}
	navigation map[string]struct{}
}

var defaultAnswerActions = []string{
	"click_element", "click", "select_option", "select", "input_text",
	"input", "type", "fill", "check", "choose", "toggle", "set_value",
	"select_dropdown_option", "click_radio", "click_checkbox",
}

var defaultNavigationActions = []string{
	"navigate", "go_to_url", "goto", "next_page", "next", "previous",
	"prev", "submit", "scroll", "scroll_down", "scroll_up", "wait",
	"screenshot", "done", "extract_content", "open_tab", "switch_tab",
	"go_back",
}

// NewActionClassifier builds a classifier with the default keyword table.
func NewActionClassifier() *ActionClassifier {
	c := &ActionClassifier{
		answer:     make(map[string]struct{}, len(defaultAnswerActions)),
		navigation: make(map[string]struct{}, len(defaultNavigationActions)),
	}
	for _, a := range defaultAnswerActions {
		c.answer[a] = struct{}{}
	}
	for _, a := range defaultNavigationActions {
		c.navigation[a] = struct{}{}
	}
	return c
}

// IsAnswer reports whether an action name represents answering a form
// element. Navigation wins on conflict so "submit" never counts.
func (c *ActionClassifier) IsAnswer(action string) bool {
	a := strings.ToLower(strings.TrimSpace(action))
	if _, nav := c.navigation[a]; nav {
		return false
	}
	if _, ok := c.answer[a]; ok {
		return true
	}
	// Unknown compound names: "click_rating_star" style.
	for known := range c.answer {
		if strings.HasPrefix(a, known+"_") {
			return true
		}
	}
	return false
}

// AnsweredCount counts answer steps in a structured history, excluding
// steps that failed.
func (c *ActionClassifier) AnsweredCount(steps []Step) int {
	n := 0
	for _, s := range steps {
		if !s.Failed && c.IsAnswer(s.Action) {
			n++
		}
	}
	return n
}

// logActionRe matches the action name in engine log lines of the shape
// "step 12: click_element(...)" or "ACTION: input_text target=...".
var logActionRe = regexp.MustCompile(`(?i)(?:step\s+\d+\s*[:\-]\s*|action\s*[:=]\s*)([a-z_]+)`)

// AnsweredCountFromLog is the textual fallback when the engine returned no
// structured history. It scans the log for the same action vocabulary.
func (c *ActionClassifier) AnsweredCountFromLog(textLog string) int {
	n := 0
	for _, m := range logActionRe.FindAllStringSubmatch(textLog, -1) {
		if c.IsAnswer(m[1]) {
			n++
		}
	}
	return n
}
