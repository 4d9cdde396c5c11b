package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/surveyflow/types"
)

// ruleBasedConfidence is the fixed overall confidence of a local derivation.
// Rule output is honest about being statistical rather than understood.
const ruleBasedConfidence = 0.75

var fixedStrategies = []string{
	"answer every question from the persona's point of view, never your own",
	"keep answers consistent with answers already given on earlier pages",
	"read the full question before answering; attention checks hide in long text",
	"prefer moderate options when the persona has no strong stance",
}

// deriveRuleBased builds intelligence from cohort statistics alone. It is
// the fallback when no vision provider is reachable and the floor the LLM
// path is measured against.
func deriveRuleBased(urlKey string, success, failure []types.ScoutExperience) types.QuestionnaireIntelligence {
	qi := types.QuestionnaireIntelligence{
		QuestionnaireURL: urlKey,
		TargetAudience:   audienceFromCohort(success),
		TrapQuestions:    trapsFromCohorts(success, failure),
		SuccessPatterns:  patternsFromCohort(success),
		Strategies:       append([]string(nil), fixedStrategies...),
		Confidence:       ruleBasedConfidence,
		Source:           "rules",
	}
	qi.Rules = rulesFromPatterns(qi.SuccessPatterns)
	return qi
}

// audienceFromCohort takes the age span, modal gender and modal income of
// the personas that reached the deepest point, widened a little so the main
// stage is not recruited from a single data point.
func audienceFromCohort(success []types.ScoutExperience) types.TargetAudience {
	if len(success) == 0 {
		return types.TargetAudience{}
	}

	ageMin, ageMax := success[0].Persona.Age, success[0].Persona.Age
	genders := map[string]int{}
	incomes := map[string]int{}
	occSet := map[string]struct{}{}
	for _, exp := range success {
		p := exp.Persona
		if p.Age < ageMin {
			ageMin = p.Age
		}
		if p.Age > ageMax {
			ageMax = p.Age
		}
		genders[p.Gender]++
		incomes[p.IncomeBand]++
		if p.Occupation != "" {
			occSet[p.Occupation] = struct{}{}
		}
	}

	aud := types.TargetAudience{
		AgeMin:     maxInt(0, ageMin-5),
		AgeMax:     ageMax + 5,
		IncomeBand: mode(incomes),
	}
	// Only record a skew when one gender clearly dominates the cohort.
	if g := mode(genders); g != "" && genders[g]*2 > len(success) {
		aud.GenderSkew = g
	} else {
		aud.GenderSkew = "balanced"
	}
	for occ := range occSet {
		aud.Occupations = append(aud.Occupations, occ)
	}
	sort.Strings(aud.Occupations)
	return aud
}

// trapsFromCohorts flags questions that trap-terminated runs answered but
// the success cohort either never saw or answered differently. The last
// answered question of a trap run carries the strongest signal.
func trapsFromCohorts(success, failure []types.ScoutExperience) []types.TrapDescriptor {
	successAnswers := map[string]string{}
	for _, exp := range success {
		for _, tr := range exp.Traces {
			successAnswers[normalizeQuestion(tr.QuestionText)] = tr.Answer
		}
	}

	seen := map[string]struct{}{}
	var traps []types.TrapDescriptor
	collect := func(exp types.ScoutExperience) {
		if len(exp.Traces) == 0 {
			return
		}
		last := exp.Traces[len(exp.Traces)-1]
		key := normalizeQuestion(last.QuestionText)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		if good, ok := successAnswers[key]; ok && good == last.Answer {
			return // successful runs gave the same answer, not the trap
		}
		seen[key] = struct{}{}
		traps = append(traps, types.TrapDescriptor{
			QuestionText: last.QuestionText,
			FatalAnswer:  last.Answer,
			Evidence: fmt.Sprintf("run %s terminated right after answering %q",
				exp.ScoutID, last.Answer),
		})
	}
	for _, exp := range failure {
		if exp.Termination == types.TerminationTrap || exp.TrapTriggered {
			collect(exp)
		}
	}
	for _, exp := range success {
		if exp.Termination == types.TerminationTrap || exp.TrapTriggered {
			collect(exp)
		}
	}
	return traps
}

// patternsFromCohort extracts (question, answer) pairs repeated across the
// success cohort. Confidence grows with repetition and saturates at three
// independent observations.
func patternsFromCohort(success []types.ScoutExperience) []types.SuccessPattern {
	type pair struct{ question, answer string }
	freq := map[pair]int{}
	display := map[pair]string{}
	for _, exp := range success {
		for _, tr := range exp.Traces {
			key := pair{normalizeQuestion(tr.QuestionText), tr.Answer}
			if key.question == "" || key.answer == "" {
				continue
			}
			freq[key]++
			display[key] = tr.QuestionText
		}
	}

	var patterns []types.SuccessPattern
	for key, n := range freq {
		patterns = append(patterns, types.SuccessPattern{
			QuestionPattern: display[key],
			Answer:          key.answer,
			SuccessRate:     float64(n) / float64(len(success)),
			Confidence:      minFloat(1, float64(n)/3),
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return patterns[i].QuestionPattern < patterns[j].QuestionPattern
	})
	return patterns
}

// rulesFromPatterns materializes prompt-injectable rules from patterns.
func rulesFromPatterns(patterns []types.SuccessPattern) []types.GuidanceRule {
	rules := make([]types.GuidanceRule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, types.GuidanceRule{
			Pattern:     p.QuestionPattern,
			Answer:      p.Answer,
			Reasoning:   "answer observed on the deepest scout runs",
			Confidence:  p.Confidence,
			SuccessRate: p.SuccessRate,
		})
	}
	return rules
}

func normalizeQuestion(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func mode(m map[string]int) string {
	best, bestN := "", 0
	for k, n := range m {
		if k == "" {
			continue
		}
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
