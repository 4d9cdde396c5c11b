package agent

import (
	"fmt"
	"strings"

	"github.com/BaSui01/surveyflow/types"
)

// behavioralStanza is fixed across runs. It encodes the discipline that
// keeps long multi-page questionnaires from stalling.
const behavioralStanza = `Rules for filling the questionnaire:
1. Answer every question on the current page before trying to advance.
2. Never re-answer a question you have already answered on this page.
3. After answering everything visible, scroll down and sweep the newly visible area before advancing.
4. If submitting fails, the page flags the problem question. Find it, correct it, and submit again. Do not abandon the run.
5. Continue page by page until you see a completion signal such as "submitted" or "thank you". Only then report that you are done.
6. Stay in character at all times. Answer as the person described above would, not as an assistant.`

// BuildPrompt assembles the run prompt: who the agent is, what is known
// about the questionnaire (empty for scouts), and how to behave.
func BuildPrompt(p types.Persona, guidance string) string {
	var b strings.Builder
	writePersonaStanza(&b, p)
	if guidance != "" {
		b.WriteString("\n")
		b.WriteString(guidance)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(behavioralStanza)
	return b.String()
}

func writePersonaStanza(b *strings.Builder, p types.Persona) {
	fmt.Fprintf(b, "You are %s, a %d-year-old %s %s.\n", p.Name, p.Age, p.Gender, p.Occupation)
	if p.Education != "" {
		fmt.Fprintf(b, "Education: %s.\n", p.Education)
	}
	if p.IncomeBand != "" {
		fmt.Fprintf(b, "Income level: %s.\n", p.IncomeBand)
	}
	if p.Residence != "" {
		fmt.Fprintf(b, "You live in %s.\n", p.Residence)
	}
	if p.MaritalStat != "" || p.ChildCount > 0 {
		fmt.Fprintf(b, "Family: %s", valueOr(p.MaritalStat, "unspecified"))
		if p.ChildCount > 0 {
			fmt.Fprintf(b, ", %d child(ren)", p.ChildCount)
		}
		b.WriteString(".\n")
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(b, "Interests: %s.\n", strings.Join(p.Interests, ", "))
	}
	if len(p.Brands) > 0 {
		fmt.Fprintf(b, "Brands you use: %s.\n", strings.Join(p.Brands, ", "))
	}
	if p.Mood != "" || p.Activity != "" {
		fmt.Fprintf(b, "Right now you are %s", valueOr(p.Mood, "in a neutral mood"))
		if p.Activity != "" {
			fmt.Fprintf(b, ", %s", p.Activity)
		}
		b.WriteString(".\n")
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
