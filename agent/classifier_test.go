package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/surveyflow/types"
)

func TestActionClassifier(t *testing.T) {
	c := NewActionClassifier()

	assert.True(t, c.IsAnswer("click_element"))
	assert.True(t, c.IsAnswer("Input_Text")) // case-insensitive
	assert.True(t, c.IsAnswer("select_dropdown_option"))
	assert.True(t, c.IsAnswer("click_rating_star")) // compound name, answer prefix

	assert.False(t, c.IsAnswer("submit"))
	assert.False(t, c.IsAnswer("scroll_down"))
	assert.False(t, c.IsAnswer("go_to_url"))
	assert.False(t, c.IsAnswer("made_up_action"))
}

func TestAnsweredCountExcludesFailedSteps(t *testing.T) {
	c := NewActionClassifier()
	steps := []Step{
		{Action: "click_element"},
		{Action: "click_element", Failed: true},
		{Action: "input_text"},
		{Action: "next_page"},
	}
	assert.Equal(t, 2, c.AnsweredCount(steps))
}

func TestAnsweredCountFromLog(t *testing.T) {
	c := NewActionClassifier()
	log := "ACTION: click_element target=#q1\nACTION: submit\nstep 3 - input_text into #q2"
	assert.Equal(t, 2, c.AnsweredCountFromLog(log))
	assert.Equal(t, 0, c.AnsweredCountFromLog("no actions here"))
}

func TestBuildPromptStanzas(t *testing.T) {
	p := types.Persona{
		ID: 9, Name: "Li Na", Age: 41, Gender: "female", Occupation: "accountant",
		Education: "bachelor", IncomeBand: "middle", MaritalStat: "married", ChildCount: 1,
	}

	scout := BuildPrompt(p, "")
	assert.Contains(t, scout, "Li Na")
	assert.Contains(t, scout, "41-year-old")
	assert.Contains(t, scout, "Answer every question on the current page")
	assert.Contains(t, scout, "thank you")

	guided := BuildPrompt(p, "Known traps:\n- Do you smoke? (never answer Yes)")
	assert.Contains(t, guided, "Known traps")
	// Guidance sits between the persona and the behavioral rules.
	assert.Less(t, strings.Index(guided, "Li Na"), strings.Index(guided, "Known traps"))
	assert.Less(t, strings.Index(guided, "Known traps"), strings.Index(guided, "Answer every question"))
}
