// Package analyzer turns scout traces for one questionnaire into a
// QuestionnaireIntelligence artifact. It first partitions experiences by how
// they terminated, then derives guidance from the most successful runs,
// preferring the vision LLM and degrading to a local rule-based pass.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/kb"
	"github.com/BaSui01/surveyflow/llm"
	"github.com/BaSui01/surveyflow/types"
)

// Cohort bounds keep LLM token cost predictable.
const (
	maxSuccessForLLM = 10
	maxFailureForLLM = 5
)

// Diagnostics is the operator-visible summary of technical failures. Trace
// text is carried verbatim so an operator can reproduce.
type Diagnostics struct {
	TechnicalCount  int      `json:"technical_count"`
	TrapCount       int      `json:"trap_count"`
	CompletionCount int      `json:"completion_count"`
	TechnicalTraces []string `json:"technical_traces,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

// Analyzer derives intelligence from scout experiences.
type Analyzer struct {
	kb       *kb.DualKB
	provider llm.Provider // nil means rule-based only
	logger   *zap.Logger
}

// New creates an analyzer. provider may be nil; the rule-based derivation
// then handles every questionnaire.
func New(store *kb.DualKB, provider llm.Provider, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{kb: store, provider: provider, logger: logger}
}

// Analyze reads every scout experience for the URL, classifies it, and
// produces the intelligence artifact. It returns NO_VALID_INTELLIGENCE when
// no non-technical experience answered a single question; the diagnostics
// are populated either way.
func (a *Analyzer) Analyze(ctx context.Context, urlKey string) (types.QuestionnaireIntelligence, *Diagnostics, error) {
	experiences, err := a.kb.ExperiencesFor(ctx, urlKey)
	if err != nil {
		return types.QuestionnaireIntelligence{}, nil, fmt.Errorf("read scout experiences: %w", err)
	}

	diag := &Diagnostics{}
	var usable []types.ScoutExperience
	for _, exp := range experiences {
		switch {
		case exp.Termination.IsTechnical():
			diag.TechnicalCount++
			diag.TechnicalTraces = append(diag.TechnicalTraces, technicalTrace(exp))
		case exp.Termination == types.TerminationTrap:
			diag.TrapCount++
			usable = append(usable, exp)
		default:
			diag.CompletionCount++
			usable = append(usable, exp)
		}
	}

	if diag.TechnicalCount > 0 {
		diag.Summary = fmt.Sprintf("%d of %d scout runs failed technically; their traces say nothing about the questionnaire",
			diag.TechnicalCount, len(experiences))
		a.logger.Warn("technical scout failures present",
			zap.String("url", urlKey),
			zap.Int("technical", diag.TechnicalCount),
			zap.Int("total", len(experiences)))
	}

	if len(usable) == 0 {
		return types.QuestionnaireIntelligence{}, diag,
			types.Errorf(types.ErrNoValidIntelligence, "no non-technical scout experience for %s", urlKey)
	}

	// Rank by answered-question count; the argmax set is the success cohort.
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].AnsweredCount > usable[j].AnsweredCount
	})
	best := usable[0].AnsweredCount
	if best == 0 {
		return types.QuestionnaireIntelligence{}, diag,
			types.Errorf(types.ErrNoValidIntelligence, "no scout answered any question on %s", urlKey)
	}

	var success, failure []types.ScoutExperience
	for _, exp := range usable {
		if exp.AnsweredCount == best {
			success = append(success, exp)
		} else {
			failure = append(failure, exp)
		}
	}

	qi, derived := a.deriveWithLLM(ctx, urlKey, success, failure)
	if !derived {
		qi = deriveRuleBased(urlKey, success, failure)
	}
	qi.QuestionnaireURL = urlKey
	qi.GeneratedAt = time.Now()
	qi.ClampConfidence()

	if err := a.kb.RecordIntelligence(ctx, urlKey, qi); err != nil {
		return types.QuestionnaireIntelligence{}, diag, fmt.Errorf("persist intelligence: %w", err)
	}

	a.logger.Info("intelligence derived",
		zap.String("url", urlKey),
		zap.String("source", qi.Source),
		zap.Float64("confidence", qi.Confidence),
		zap.Int("success_cohort", len(success)),
		zap.Int("failure_cohort", len(failure)))
	return qi, diag, nil
}

// deriveWithLLM asks the vision provider for a structured analysis. Any
// failure (provider missing, transport, unparseable JSON) reports false so
// the caller falls back to rules.
func (a *Analyzer) deriveWithLLM(ctx context.Context, urlKey string, success, failure []types.ScoutExperience) (types.QuestionnaireIntelligence, bool) {
	if a.provider == nil {
		return types.QuestionnaireIntelligence{}, false
	}

	if len(success) > maxSuccessForLLM {
		success = success[:maxSuccessForLLM]
	}
	if len(failure) > maxFailureForLLM {
		failure = failure[:maxFailureForLLM]
	}

	req := buildAnalysisRequest(urlKey, success, failure)
	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		a.logger.Warn("vision LLM unavailable, falling back to rule-based analysis",
			zap.String("url", urlKey), zap.Error(err))
		return types.QuestionnaireIntelligence{}, false
	}

	qi, err := parseIntelligence(resp.Text)
	if err != nil {
		a.logger.Warn("LLM output did not parse as intelligence, falling back",
			zap.String("url", urlKey), zap.Error(err))
		return types.QuestionnaireIntelligence{}, false
	}
	qi.Source = "llm"
	if len(qi.Rules) == 0 {
		qi.Rules = rulesFromPatterns(qi.SuccessPatterns)
	}
	return qi, true
}

func technicalTrace(exp types.ScoutExperience) string {
	return fmt.Sprintf("scout=%s persona=%d termination=%s: %s",
		exp.ScoutID, exp.Persona.ID, exp.Termination, exp.Diagnostic)
}
