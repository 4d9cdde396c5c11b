package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/analyzer"
	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/kb"
	"github.com/BaSui01/surveyflow/types"
)

// Controller runs one questionnaire task through scout, analyze, gate and
// main, and assembles the final report. One controller owns one task at a
// time; Snapshot is safe from any goroutine.
type Controller struct {
	scout    *ScoutStage
	main     *MainStage
	analyzer *analyzer.Analyzer
	store    *kb.DualKB

	requireConfirm bool
	scoutCount     int
	mainCount      int

	mu      sync.Mutex
	session TaskSession
	gate    chan struct{}

	logger *zap.Logger
}

func NewController(scout *ScoutStage, main *MainStage, an *analyzer.Analyzer, store *kb.DualKB, cfg config.PipelineConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		scout:          scout,
		main:           main,
		analyzer:       an,
		store:          store,
		requireConfirm: cfg.RequireConfirm,
		scoutCount:     cfg.ScoutCount,
		mainCount:      cfg.MainCount,
		logger:         logger,
	}
}

// Snapshot returns a deep copy of the current task state.
func (c *Controller) Snapshot() TaskSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// AdvanceToMain releases the gate of a task waiting after analysis. It
// fails unless the task is actually at the gate.
func (c *Controller) AdvanceToMain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Stage != StageAwaitingGate || c.gate == nil {
		return types.Errorf(types.ErrGateClosed, "task %s is at stage %s, not awaiting confirmation",
			c.session.TaskID, c.session.Stage)
	}
	close(c.gate)
	c.gate = nil
	return nil
}

// Run executes the full pipeline for one questionnaire URL. Negative n or
// m means the configured cohort size; an explicit n of zero aborts before
// anything provisions, while m of zero skips the main stage. The report is
// returned on failure paths too, with whatever was learned preserved.
func (c *Controller) Run(ctx context.Context, urlKey string, n, m int) (*Report, error) {
	if n < 0 {
		n = c.scoutCount
	}
	if m < 0 {
		m = c.mainCount
	}

	c.mu.Lock()
	c.session = TaskSession{
		TaskID:           uuid.NewString(),
		QuestionnaireURL: urlKey,
		Stage:            StageScout,
		StartedAt:        time.Now(),
	}
	taskID := c.session.TaskID
	c.mu.Unlock()

	c.logger.Info("task started",
		zap.String("task_id", taskID), zap.String("url", urlKey),
		zap.Int("scouts", n), zap.Int("main", m))

	if n == 0 {
		return c.fail("scout_failure",
			types.Errorf(types.ErrScoutFailure, "scout cohort size is zero for %s", urlKey))
	}

	scoutResults, err := c.scout.Run(ctx, urlKey, n)
	if err != nil {
		return c.fail("scout_failure", fmt.Errorf("scout stage: %w", err))
	}
	c.update(func(s *TaskSession) { s.ScoutResults = cloneExperiences(scoutResults) })
	if ctx.Err() != nil {
		return c.fail("cancelled", types.Errorf(types.ErrCancelled, "task cancelled during scout stage"))
	}
	if len(scoutResults) == 0 {
		return c.fail("scout_failure",
			types.Errorf(types.ErrScoutFailure, "no scout session completed for %s", urlKey))
	}

	c.update(func(s *TaskSession) { s.Stage = StageAnalyze })
	qi, diag, err := c.analyzer.Analyze(ctx, urlKey)
	c.update(func(s *TaskSession) { s.Diagnostics = diag })
	if err != nil {
		if types.CodeOf(err) == types.ErrNoValidIntelligence {
			return c.fail("no_valid_intelligence", err)
		}
		return c.fail("analyze_error", err)
	}
	c.update(func(s *TaskSession) { s.Intelligence = &qi })

	if c.requireConfirm {
		if err := c.waitAtGate(ctx); err != nil {
			return c.fail("cancelled", err)
		}
	}

	c.update(func(s *TaskSession) { s.Stage = StageMain })
	mainResults, err := c.main.Run(ctx, urlKey, m, qi)
	if err != nil {
		return c.fail("main_failure", fmt.Errorf("main stage: %w", err))
	}
	c.update(func(s *TaskSession) { s.MainResults = cloneExperiences(mainResults) })
	if ctx.Err() != nil {
		return c.fail("cancelled", types.Errorf(types.ErrCancelled, "task cancelled during main stage"))
	}

	c.update(func(s *TaskSession) {
		s.Stage = StageDone
		s.FinishedAt = time.Now()
	})

	if err := c.store.WipeEphemeral(context.WithoutCancel(ctx), urlKey); err != nil {
		c.logger.Warn("ephemeral wipe failed", zap.String("url", urlKey), zap.Error(err))
	}

	report := c.buildReport()
	c.logger.Info("task finished",
		zap.String("task_id", taskID),
		zap.Float64("scout_success_rate", report.ScoutSuccessRate),
		zap.Float64("main_success_rate", report.MainSuccessRate),
		zap.Float64("improvement_rate", report.ImprovementRate))
	return report, nil
}

// waitAtGate parks the task until AdvanceToMain or cancellation.
func (c *Controller) waitAtGate(ctx context.Context) error {
	c.mu.Lock()
	c.gate = make(chan struct{})
	gate := c.gate
	c.session.Stage = StageAwaitingGate
	c.mu.Unlock()

	c.logger.Info("task awaiting confirmation", zap.String("task_id", c.Snapshot().TaskID))
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		c.gate = nil
		c.mu.Unlock()
		return types.Errorf(types.ErrCancelled, "task cancelled at the gate")
	}
}

func (c *Controller) update(fn func(*TaskSession)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.session)
}

// fail marks the session failed and still returns a report so nothing
// learned so far is lost. The ephemeral partition is wiped here too; the
// diagnostics already sit verbatim in the report.
func (c *Controller) fail(reason string, err error) (*Report, error) {
	c.update(func(s *TaskSession) {
		s.Stage = StageFailed
		s.FailReason = reason
		s.FinishedAt = time.Now()
	})
	report := c.buildReport()
	if werr := c.store.WipeEphemeral(context.Background(), report.QuestionnaireURL); werr != nil {
		c.logger.Warn("ephemeral wipe failed", zap.String("url", report.QuestionnaireURL), zap.Error(werr))
	}
	c.logger.Warn("task failed",
		zap.String("task_id", report.TaskID),
		zap.String("reason", reason),
		zap.Error(err))
	return report, err
}

func (c *Controller) buildReport() *Report {
	s := c.Snapshot()
	r := &Report{
		TaskID:           s.TaskID,
		QuestionnaireURL: s.QuestionnaireURL,
		Stage:            s.Stage,
		FailReason:       s.FailReason,
		ScoutCount:       len(s.ScoutResults),
		MainCount:        len(s.MainResults),
		ScoutSuccessRate: successRate(s.ScoutResults),
		MainSuccessRate:  successRate(s.MainResults),
		Duration:         s.FinishedAt.Sub(s.StartedAt),
	}
	// The improvement rate is defined once the main stage has run, even
	// when the cohort was empty: a zero-size main cohort reports the full
	// negative of the scout rate.
	if s.Stage == StageDone || len(s.MainResults) > 0 {
		r.ImprovementRate = r.MainSuccessRate - r.ScoutSuccessRate
	}
	if s.Intelligence != nil {
		r.Confidence = s.Intelligence.Confidence
	}
	if s.Diagnostics != nil {
		r.TechnicalTraces = append([]string(nil), s.Diagnostics.TechnicalTraces...)
	}
	r.Recommendations = recommendations(s)
	return r
}

// recommendations names the likely causes an operator should look at when
// a task ends badly or barely improved.
func recommendations(s TaskSession) []string {
	var recs []string
	if s.Diagnostics != nil && s.Diagnostics.TechnicalCount > 0 {
		recs = append(recs, fmt.Sprintf("%d scout runs failed technically; check the agent engine, LLM quota and proxy health before re-running", s.Diagnostics.TechnicalCount))
	}
	if s.FailReason == "no_valid_intelligence" {
		recs = append(recs,
			"no scout answered a single question; the questionnaire may require a login, a region-locked IP, or manual verification",
			"re-run with a larger scout cohort or different proxy exit nodes")
	}
	if s.FailReason == "scout_failure" {
		recs = append(recs, "no scout session completed; verify the control plane is reachable and the profile quota has headroom")
	}
	if s.Intelligence != nil && s.Intelligence.Confidence < 0.5 {
		recs = append(recs, "intelligence confidence is low; consider more scouts before committing a large main cohort")
	}
	if s.Stage == StageDone && len(s.MainResults) > 0 {
		if successRate(s.MainResults) <= successRate(s.ScoutResults) {
			recs = append(recs, "main cohort did not outperform the scouts; the derived audience may be wrong for this questionnaire")
		}
	}
	return recs
}
