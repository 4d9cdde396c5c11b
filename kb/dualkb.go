package kb

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/types"
)

// DualKB fronts the two stores. Scout traces only ever touch the ephemeral
// side; intelligence is written to both so it survives the ephemeral wipe at
// task end.
type DualKB struct {
	ephemeral  EphemeralStore
	persistent *PersistentStore
	logger     *zap.Logger
}

// NewDualKB wires the two stores together. The persistent store may be nil
// for runs that keep nothing across tasks.
func NewDualKB(ephemeral EphemeralStore, persistent *PersistentStore, logger *zap.Logger) *DualKB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DualKB{ephemeral: ephemeral, persistent: persistent, logger: logger}
}

// RecordExperience appends a scout experience to the ephemeral partition.
func (kb *DualKB) RecordExperience(ctx context.Context, urlKey string, exp types.ScoutExperience) error {
	return kb.ephemeral.RecordExperience(ctx, urlKey, exp)
}

// ExperiencesFor returns a snapshot of the ephemeral partition for the URL.
func (kb *DualKB) ExperiencesFor(ctx context.Context, urlKey string) ([]types.ScoutExperience, error) {
	return kb.ephemeral.ExperiencesFor(ctx, urlKey)
}

// RecordIntelligence writes the artifact to the ephemeral partition and, when
// a persistent store is wired, to it as well. Persistent write failures are
// logged but do not fail the task: the running pipeline only needs the
// ephemeral copy.
func (kb *DualKB) RecordIntelligence(ctx context.Context, urlKey string, qi types.QuestionnaireIntelligence) error {
	if err := kb.ephemeral.RecordIntelligence(ctx, urlKey, qi); err != nil {
		return err
	}
	if kb.persistent != nil {
		if err := kb.persistent.SaveIntelligence(ctx, urlKey, qi); err != nil {
			kb.logger.Warn("persistent intelligence write failed",
				zap.String("url", urlKey), zap.Error(err))
		}
		if len(qi.Rules) > 0 {
			if err := kb.persistent.SaveGeneralRules(ctx, urlKey, qi.Rules); err != nil {
				kb.logger.Warn("persistent rule write failed",
					zap.String("url", urlKey), zap.Error(err))
			}
		}
	}
	return nil
}

// IntelligenceFor prefers the ephemeral copy and falls back to the
// persistent store, so a fresh task can reuse intelligence from an earlier
// run against the same questionnaire.
func (kb *DualKB) IntelligenceFor(ctx context.Context, urlKey string) (types.QuestionnaireIntelligence, bool) {
	qi, err := kb.ephemeral.IntelligenceFor(ctx, urlKey)
	if err == nil {
		return qi, true
	}
	if !errors.Is(err, ErrNotFound) {
		kb.logger.Warn("ephemeral intelligence read failed", zap.String("url", urlKey), zap.Error(err))
	}
	if kb.persistent != nil {
		qi, err = kb.persistent.IntelligenceFor(ctx, urlKey)
		if err == nil {
			return qi, true
		}
		if !errors.Is(err, ErrNotFound) {
			kb.logger.Warn("persistent intelligence read failed", zap.String("url", urlKey), zap.Error(err))
		}
	}
	return types.QuestionnaireIntelligence{}, false
}

// BuildGuidancePrompt materializes the persona-conditioned prompt
// augmentation from the latest intelligence for the URL. Returns "" when no
// intelligence exists.
func (kb *DualKB) BuildGuidancePrompt(ctx context.Context, urlKey string, p types.Persona) string {
	qi, ok := kb.IntelligenceFor(ctx, urlKey)
	if !ok {
		return ""
	}
	return renderGuidance(qi, p)
}

// WipeEphemeral removes every ephemeral record for the URL. Idempotent.
func (kb *DualKB) WipeEphemeral(ctx context.Context, urlKey string) error {
	return kb.ephemeral.Wipe(ctx, urlKey)
}

// Close releases both stores.
func (kb *DualKB) Close() error {
	err := kb.ephemeral.Close()
	if kb.persistent != nil {
		if perr := kb.persistent.Close(); err == nil {
			err = perr
		}
	}
	return err
}
