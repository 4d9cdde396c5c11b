package pipeline

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/kb"
	"github.com/BaSui01/surveyflow/persona"
	"github.com/BaSui01/surveyflow/types"
)

// MainStage runs the guided cohort after analysis. Roughly seventy percent
// of the cohort matches the derived target audience; the rest stays diverse
// so the task keeps learning about the questionnaire's edges.
type MainStage struct {
	runner    *StageRunner
	directory *persona.Directory
	store     *kb.DualKB
	logger    *zap.Logger
}

func NewMainStage(runner *StageRunner, directory *persona.Directory, store *kb.DualKB, logger *zap.Logger) *MainStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MainStage{runner: runner, directory: directory, store: store, logger: logger}
}

// Run recruits m personas split matched/diverse, injects per-persona
// guidance built from the intelligence record, and drives the cohort.
func (s *MainStage) Run(ctx context.Context, urlKey string, m int, qi types.QuestionnaireIntelligence) ([]types.ScoutExperience, error) {
	if m <= 0 {
		return nil, nil
	}

	matchedCount := int(math.Ceil(0.7 * float64(m)))
	diverseCount := m - matchedCount

	matched, err := s.directory.QueryMatching(ctx, qi.TargetAudience, matchedCount)
	if err != nil {
		return nil, err
	}

	personas := matched
	used := make(map[int]bool, len(matched))
	for _, p := range matched {
		used[p.ID] = true
	}
	for i := 0; len(personas) < m && i < diverseCount*len(persona.DiverseSelectors)+len(persona.DiverseSelectors); i++ {
		selector := persona.DiverseSelectors[i%len(persona.DiverseSelectors)]
		candidates, qerr := s.directory.Query(ctx, selector, 2)
		if qerr != nil {
			return nil, qerr
		}
		for _, p := range candidates {
			if !used[p.ID] {
				personas = append(personas, p)
				used[p.ID] = true
				break
			}
		}
	}

	s.logger.Info("main cohort recruited",
		zap.String("url", urlKey),
		zap.Int("requested", m),
		zap.Int("matched", len(matched)),
		zap.Int("total", len(personas)))

	runs := make([]sessionRun, len(personas))
	for i, p := range personas {
		runs[i] = sessionRun{
			persona:  p,
			guidance: s.store.BuildGuidancePrompt(ctx, urlKey, p),
		}
	}
	return s.runner.runCohort(ctx, "main", urlKey, runs, false), nil
}
