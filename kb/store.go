// Package kb implements the dual knowledge base: an ephemeral store scoped to
// one questionnaire run and a persistent store that survives across runs.
//
// The two stores share a schema (scout experiences and one current
// intelligence record per questionnaire URL) but differ in retention: the
// ephemeral partition for a URL is wiped when its pipeline completes, the
// persistent store keeps the latest intelligence per URL indefinitely.
//
// Supported ephemeral backends:
//   - Memory: for single-process runs and testing (default)
//   - Redis: for sharing scout traces across processes
package kb

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/types"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrStoreClosed = errors.New("store is closed")
)

// StoreType selects an ephemeral backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// EphemeralStore holds per-questionnaire scout traces and the working copy of
// the intelligence record. Writers from parallel scouts on the same URL are
// serialized; readers see a consistent snapshot at read time.
type EphemeralStore interface {
	// RecordExperience appends one scout experience under the URL key.
	RecordExperience(ctx context.Context, urlKey string, exp types.ScoutExperience) error
	// ExperiencesFor returns a snapshot of all experiences for the URL.
	ExperiencesFor(ctx context.Context, urlKey string) ([]types.ScoutExperience, error)
	// RecordIntelligence overwrites the intelligence record for the URL.
	RecordIntelligence(ctx context.Context, urlKey string, qi types.QuestionnaireIntelligence) error
	// IntelligenceFor returns the current intelligence record, or ErrNotFound.
	IntelligenceFor(ctx context.Context, urlKey string) (types.QuestionnaireIntelligence, error)
	// Wipe removes every record for the URL. Wiping an absent URL is a no-op.
	Wipe(ctx context.Context, urlKey string) error
	// Close releases backend resources.
	Close() error
}

// NewEphemeralStore creates an ephemeral store for the configured backend.
func NewEphemeralStore(cfg config.KBConfig, logger *zap.Logger) (EphemeralStore, error) {
	switch StoreType(cfg.EphemeralBackend) {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported ephemeral backend: %s", cfg.EphemeralBackend)
	}
}
