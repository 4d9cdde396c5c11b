package analyzer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/surveyflow/llm"
	"github.com/BaSui01/surveyflow/types"
)

const analysisSystemPrompt = `You analyze web questionnaire runs executed by simulated respondents.
You receive the run traces of the most successful cohort and a sample of less successful runs,
plus final-page screenshots where available. Derive what the questionnaire is screening for.
Respond with a single JSON object and nothing else, using exactly this shape:
{
  "theme": "one-line topic of the questionnaire",
  "target_audience": {"age_min": 0, "age_max": 0, "gender_skew": "male|female|balanced", "occupations": [], "income_band": ""},
  "trap_questions": [{"question_text": "", "evidence": "", "fatal_answer": ""}],
  "success_patterns": [{"question_pattern": "", "answer": "", "confidence": 0.0, "success_rate": 0.0}],
  "strategies": [],
  "confidence": 0.0
}`

// buildAnalysisRequest renders the bounded cohorts into a multimodal request.
// Screenshots ride along as image parts; trace text is compact JSON.
func buildAnalysisRequest(urlKey string, success, failure []types.ScoutExperience) *llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Questionnaire URL: %s\n\n", urlKey)
	fmt.Fprintf(&b, "## Success cohort (%d runs, deepest completion)\n", len(success))
	for i, exp := range success {
		writeRun(&b, i+1, exp)
	}
	if len(failure) > 0 {
		fmt.Fprintf(&b, "\n## Shallower runs (%d, for contrast)\n", len(failure))
		for i, exp := range failure {
			writeRun(&b, i+1, exp)
		}
	}
	b.WriteString("\nDerive the audience, traps and winning answers. JSON only.")

	parts := []llm.Part{llm.TextPart(b.String())}
	for _, exp := range success {
		if len(exp.Screenshot) > 0 {
			parts = append(parts, llm.ImagePart(base64.StdEncoding.EncodeToString(exp.Screenshot), "image/png"))
		}
	}

	return &llm.Request{
		System:      analysisSystemPrompt,
		Parts:       parts,
		Temperature: 0.2,
		Timeout:     90 * time.Second,
	}
}

func writeRun(b *strings.Builder, n int, exp types.ScoutExperience) {
	fmt.Fprintf(b, "\n### Run %d: persona %q (%d, %s, %s), termination=%s, answered=%d\n",
		n, exp.Persona.Name, exp.Persona.Age, exp.Persona.Gender, exp.Persona.Occupation,
		exp.Termination, exp.AnsweredCount)
	for _, tr := range exp.Traces {
		line, _ := json.Marshal(map[string]any{
			"q": tr.QuestionText, "type": tr.QuestionType, "answer": tr.Answer, "advanced": tr.Advanced,
		})
		b.Write(line)
		b.WriteByte('\n')
	}
}

// parseIntelligence decodes the model's JSON, tolerating markdown fences
// and prose around the object.
func parseIntelligence(text string) (types.QuestionnaireIntelligence, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return types.QuestionnaireIntelligence{}, fmt.Errorf("no JSON object in model output")
	}
	var qi types.QuestionnaireIntelligence
	if err := json.Unmarshal([]byte(raw), &qi); err != nil {
		return types.QuestionnaireIntelligence{}, fmt.Errorf("decode intelligence JSON: %w", err)
	}
	if qi.Confidence <= 0 && len(qi.SuccessPatterns) == 0 && qi.Theme == "" {
		return types.QuestionnaireIntelligence{}, fmt.Errorf("model output carries no analysis")
	}
	return qi, nil
}

// extractJSONObject returns the first balanced {...} span, skipping braces
// inside JSON strings.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
