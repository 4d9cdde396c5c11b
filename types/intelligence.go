package types

import "time"

// TargetAudience is the analyzer's inferred profile of who the questionnaire
// wants to hear from.
type TargetAudience struct {
	AgeMin      int      `json:"age_min"`
	AgeMax      int      `json:"age_max"`
	GenderSkew  string   `json:"gender_skew,omitempty"` // "male", "female", "balanced"
	Occupations []string `json:"occupations,omitempty"`
	IncomeBand  string   `json:"income_band,omitempty"`
}

// Matches reports whether a persona plausibly belongs to the audience.
// Zero-valued fields are treated as wildcards.
func (a TargetAudience) Matches(p Persona) bool {
	if a.AgeMin > 0 && p.Age < a.AgeMin {
		return false
	}
	if a.AgeMax > 0 && p.Age > a.AgeMax {
		return false
	}
	if a.GenderSkew != "" && a.GenderSkew != "balanced" && p.Gender != a.GenderSkew {
		return false
	}
	if len(a.Occupations) > 0 {
		found := false
		for _, occ := range a.Occupations {
			if occ == p.Occupation {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TrapDescriptor describes a question observed to eject respondents.
type TrapDescriptor struct {
	QuestionText string `json:"question_text"`
	Evidence     string `json:"evidence,omitempty"` // why the analyzer believes it is a trap
	FatalAnswer  string `json:"fatal_answer,omitempty"`
}

// SuccessPattern is a question-pattern to recommended-answer association with
// observed statistics from the success cohort.
type SuccessPattern struct {
	QuestionPattern string  `json:"question_pattern"`
	Answer          string  `json:"answer"`
	Confidence      float64 `json:"confidence"`   // in [0,1]
	SuccessRate     float64 `json:"success_rate"` // in [0,1]
}

// GuidanceRule is a materialized rule injected into main-cohort prompts.
type GuidanceRule struct {
	Pattern     string  `json:"pattern"`
	Answer      string  `json:"answer"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Confidence  float64 `json:"confidence"`
	SuccessRate float64 `json:"success_rate"`
}

// QuestionnaireIntelligence is the analyzer's derived model of one
// questionnaire: audience, traps, winning strategies. One record per URL;
// re-analysis overwrites.
type QuestionnaireIntelligence struct {
	QuestionnaireURL string           `json:"questionnaire_url"`
	TargetAudience   TargetAudience   `json:"target_audience"`
	Theme            string           `json:"theme,omitempty"`
	TrapQuestions    []TrapDescriptor `json:"trap_questions,omitempty"`
	SuccessPatterns  []SuccessPattern `json:"success_patterns,omitempty"`
	Strategies       []string         `json:"strategies,omitempty"`
	Confidence       float64          `json:"confidence"` // in [0,1]
	GeneratedAt      time.Time        `json:"generated_at"`
	Rules            []GuidanceRule   `json:"rules,omitempty"`
	Source           string           `json:"source,omitempty"` // "llm" or "rules"
}

// ClampConfidence clips all confidence-like fields into [0,1].
func (qi *QuestionnaireIntelligence) ClampConfidence() {
	qi.Confidence = clamp01(qi.Confidence)
	for i := range qi.SuccessPatterns {
		qi.SuccessPatterns[i].Confidence = clamp01(qi.SuccessPatterns[i].Confidence)
		qi.SuccessPatterns[i].SuccessRate = clamp01(qi.SuccessPatterns[i].SuccessRate)
	}
	for i := range qi.Rules {
		qi.Rules[i].Confidence = clamp01(qi.Rules[i].Confidence)
		qi.Rules[i].SuccessRate = clamp01(qi.Rules[i].SuccessRate)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
