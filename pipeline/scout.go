package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/persona"
	"github.com/BaSui01/surveyflow/types"
)

// ScoutStage sends a demographically spread cohort into an unknown
// questionnaire. Every run writes its experience to the ephemeral store
// before the stage returns, so the analyzer sees a complete picture.
type ScoutStage struct {
	runner    *StageRunner
	directory *persona.Directory
	logger    *zap.Logger
}

func NewScoutStage(runner *StageRunner, directory *persona.Directory, logger *zap.Logger) *ScoutStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoutStage{runner: runner, directory: directory, logger: logger}
}

// Run recruits n diverse personas and drives them concurrently. The result
// may be shorter than n when provisioning is refused mid-cohort.
func (s *ScoutStage) Run(ctx context.Context, urlKey string, n int) ([]types.ScoutExperience, error) {
	if n <= 0 {
		return nil, nil
	}

	personas, err := s.recruitDiverse(ctx, n)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scout cohort recruited",
		zap.String("url", urlKey), zap.Int("requested", n), zap.Int("recruited", len(personas)))

	runs := make([]sessionRun, len(personas))
	for i, p := range personas {
		runs[i] = sessionRun{persona: p}
	}
	return s.runner.runCohort(ctx, "scout", urlKey, runs, true), nil
}

// recruitDiverse cycles the diverse selector set, deduplicating persona IDs
// so no two scouts share a knowledge base identity.
func (s *ScoutStage) recruitDiverse(ctx context.Context, n int) ([]types.Persona, error) {
	selectors := persona.DiverseSelectors
	out := make([]types.Persona, 0, n)
	used := make(map[int]bool)
	for i := 0; len(out) < n && i < n*len(selectors); i++ {
		selector := selectors[i%len(selectors)]
		candidates, err := s.directory.Query(ctx, selector, 2)
		if err != nil {
			return nil, err
		}
		for _, p := range candidates {
			if !used[p.ID] {
				out = append(out, p)
				used[p.ID] = true
				break
			}
		}
	}
	return out, nil
}
