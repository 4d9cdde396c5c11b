// Package pipeline runs the three-stage questionnaire flow: a diverse scout
// cohort, analysis of what came back, then a targeted main cohort guided by
// the derived intelligence. The controller owns stage ordering, the gate
// between analysis and the main stage, and the final report.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/surveyflow/agent"
	"github.com/BaSui01/surveyflow/browser"
	"github.com/BaSui01/surveyflow/internal/metrics"
	"github.com/BaSui01/surveyflow/types"
)

// sessionRun is one persona's unit of work inside a cohort.
type sessionRun struct {
	persona  types.Persona
	guidance string
}

// StageRunner executes a cohort: per persona provision, start, tile, drive,
// teardown, concurrently under a batch cap. Individual session failures are
// encoded into the result vector, never propagated as errors; the only
// error a whole stage returns is a hard context cancellation.
type StageRunner struct {
	lifecycle *browser.SessionLifecycle
	tiler     *browser.WindowTiler
	driver    *agent.Driver
	batchCap  int64
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewStageRunner(lifecycle *browser.SessionLifecycle, tiler *browser.WindowTiler, driver *agent.Driver, batchCap int, collector *metrics.Collector, logger *zap.Logger) *StageRunner {
	if batchCap <= 0 {
		batchCap = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StageRunner{
		lifecycle: lifecycle,
		tiler:     tiler,
		driver:    driver,
		batchCap:  int64(batchCap),
		metrics:   collector,
		logger:    logger,
	}
}

// runCohort drives all sessions and joins. The returned slice holds one
// experience per session that got as far as a classified outcome; sessions
// that could not even provision are dropped with a warning so the cohort
// shrinks gracefully under quota pressure.
func (r *StageRunner) runCohort(ctx context.Context, stage, urlKey string, runs []sessionRun, scout bool) []types.ScoutExperience {
	started := time.Now()
	results := make([]types.ScoutExperience, len(runs))
	ok := make([]bool, len(runs))

	sem := semaphore.NewWeighted(r.batchCap)
	g, gctx := errgroup.WithContext(ctx)
	for i, run := range runs {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i], ok[i] = cancelledExperience(urlKey, run.persona), true
				return nil
			}
			defer sem.Release(1)
			if exp, ran := r.runSession(gctx, urlKey, run, scout); ran {
				results[i], ok[i] = exp, true
			}
			return nil
		})
	}
	_ = g.Wait() // join barrier; sessions never return errors

	out := make([]types.ScoutExperience, 0, len(runs))
	for i := range results {
		if ok[i] {
			out = append(out, results[i])
		}
	}
	if r.metrics != nil {
		r.metrics.StageDone(stage, time.Since(started))
	}
	r.logger.Info("cohort finished",
		zap.String("stage", stage),
		zap.String("url", urlKey),
		zap.Int("requested", len(runs)),
		zap.Int("completed", len(out)))
	return out
}

// runSession is the per-persona sequence. ran=false means provisioning was
// refused and the session contributes nothing; every later fault is encoded
// into the experience so the analyzer sees it.
func (r *StageRunner) runSession(ctx context.Context, urlKey string, run sessionRun, scout bool) (types.ScoutExperience, bool) {
	if ctx.Err() != nil {
		return cancelledExperience(urlKey, run.persona), true
	}

	profile, err := r.lifecycle.Provision(ctx, run.persona)
	if err != nil {
		// Quota refusals shrink the cohort instead of failing the stage.
		r.logger.Warn("session provisioning failed, shrinking cohort",
			zap.Int("persona_id", run.persona.ID),
			zap.String("code", string(types.CodeOf(err))),
			zap.Error(err))
		return types.ScoutExperience{}, false
	}
	defer func() {
		r.tiler.Release(profile.ID)
		if terr := r.lifecycle.Teardown(context.WithoutCancel(ctx), profile); terr != nil {
			r.logger.Warn("session teardown failed", zap.String("profile_id", profile.ID), zap.Error(terr))
		}
	}()

	if _, err := r.lifecycle.Start(ctx, profile); err != nil {
		r.logger.Warn("browser start failed",
			zap.String("profile_id", profile.ID), zap.Error(err))
		exp, rerr := r.driver.RecordStartFailure(ctx, agent.DriveInput{
			Profile: profile,
			Persona: run.persona,
			URL:     urlKey,
			Scout:   scout,
		}, err)
		if rerr != nil {
			r.logger.Warn("experience write failed", zap.String("scout_id", exp.ScoutID), zap.Error(rerr))
		}
		return exp, true
	}
	r.tiler.Assign(profile.ID, run.persona.Name)

	exp, err := r.driver.Drive(ctx, agent.DriveInput{
		Profile:  profile,
		Persona:  run.persona,
		URL:      urlKey,
		Guidance: run.guidance,
		Scout:    scout,
	})
	if err != nil {
		// Drive only errors on knowledge base writes; the run itself is
		// already classified inside exp.
		r.logger.Warn("experience write failed", zap.String("scout_id", exp.ScoutID), zap.Error(err))
	}
	return exp, true
}

func cancelledExperience(urlKey string, p types.Persona) types.ScoutExperience {
	now := time.Now()
	return types.ScoutExperience{
		QuestionnaireURL: urlKey,
		Persona:          p.Clone(),
		Termination:      types.TerminationCancel,
		Diagnostic:       "cancelled before the session started",
		StartedAt:        now,
		FinishedAt:       now,
	}
}
