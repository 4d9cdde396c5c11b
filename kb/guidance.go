package kb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/surveyflow/types"
)

// maxGuidanceRules caps how many rules go into one prompt so the guidance
// stanza stays within a reasonable token budget.
const maxGuidanceRules = 8

// renderGuidance turns an intelligence artifact into the guidance stanza of
// a main-cohort prompt, conditioned on the persona filling the questionnaire.
func renderGuidance(qi types.QuestionnaireIntelligence, p types.Persona) string {
	var b strings.Builder

	b.WriteString("## Questionnaire intelligence (from earlier scout runs)\n")
	if qi.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", qi.Theme)
	}

	aud := qi.TargetAudience
	if aud.AgeMin > 0 || aud.AgeMax > 0 || aud.GenderSkew != "" {
		b.WriteString("Target audience: ")
		if aud.AgeMin > 0 || aud.AgeMax > 0 {
			fmt.Fprintf(&b, "age %d-%d ", aud.AgeMin, aud.AgeMax)
		}
		if aud.GenderSkew != "" && aud.GenderSkew != "balanced" {
			fmt.Fprintf(&b, "mostly %s ", aud.GenderSkew)
		}
		if len(aud.Occupations) > 0 {
			fmt.Fprintf(&b, "(%s)", strings.Join(aud.Occupations, ", "))
		}
		b.WriteString("\n")
		if !aud.Matches(p) {
			b.WriteString("Note: your profile sits outside the inferred audience. Answer screening questions in a way consistent with your persona, but lean toward the audience's typical choices where your persona is silent.\n")
		}
	}

	if len(qi.TrapQuestions) > 0 {
		b.WriteString("\n### Known trap questions, answer these carefully\n")
		for _, trap := range qi.TrapQuestions {
			fmt.Fprintf(&b, "- %q", trap.QuestionText)
			if trap.FatalAnswer != "" {
				fmt.Fprintf(&b, " (answering %q ended previous runs)", trap.FatalAnswer)
			}
			b.WriteString("\n")
		}
	}

	rules := append([]types.GuidanceRule(nil), qi.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Confidence > rules[j].Confidence })
	if len(rules) > maxGuidanceRules {
		rules = rules[:maxGuidanceRules]
	}
	if len(rules) > 0 {
		b.WriteString("\n### Answers that worked for similar questions\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "- When a question matches %q, prefer %q (worked %.0f%% of the time)\n",
				r.Pattern, r.Answer, r.SuccessRate*100)
		}
	}

	if len(qi.Strategies) > 0 {
		b.WriteString("\n### General strategies\n")
		for _, s := range qi.Strategies {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	return b.String()
}
