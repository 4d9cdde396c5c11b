package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/browser"
	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/internal/metrics"
	"github.com/BaSui01/surveyflow/kb"
	"github.com/BaSui01/surveyflow/types"
)

// DriveInput is one session's worth of work for the driver.
type DriveInput struct {
	Profile  *browser.Profile
	Persona  types.Persona
	URL      string
	Guidance string // empty for scouts
	Scout    bool   // scout experiences are written to the ephemeral store immediately
}

// Driver runs the agent engine against a started browser session and turns
// whatever happened into a classified ScoutExperience. Callers never see a
// raw engine error or panic; everything is encoded in the record.
type Driver struct {
	engine     Engine
	classifier *ActionClassifier
	store      *kb.DualKB
	bounds     Bounds
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewDriver creates a driver. classifier may be nil to use the default
// action table.
func NewDriver(engine Engine, store *kb.DualKB, cfg config.AgentConfig, classifier *ActionClassifier, collector *metrics.Collector, logger *zap.Logger) *Driver {
	if classifier == nil {
		classifier = NewActionClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		engine:     engine,
		classifier: classifier,
		store:      store,
		bounds: Bounds{
			MaxSteps:               cfg.MaxSteps,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
			Timeout:                cfg.SessionTimeout,
		},
		metrics: collector,
		logger:  logger,
	}
}

// Drive executes one bounded run. The returned experience always carries a
// termination classification; the error return is reserved for knowledge
// base write failures.
func (d *Driver) Drive(ctx context.Context, in DriveInput) (types.ScoutExperience, error) {
	exp := types.ScoutExperience{
		ScoutID:          uuid.NewString(),
		QuestionnaireURL: in.URL,
		Persona:          in.Persona.Clone(),
		StartedAt:        time.Now(),
	}

	out, runErr := d.runEngine(ctx, in)
	exp.FinishedAt = time.Now()

	switch {
	case runErr != nil:
		exp.Termination = classifyError(ctx, runErr)
		exp.Diagnostic = runErr.Error()
	default:
		exp.FinalResult = out.FinalResult
		exp.StepCount = len(out.Steps)
		exp.Screenshot = boundScreenshot(out.Screenshot)
		exp.AnsweredCount = d.answeredCount(out)
		exp.Termination = classifyOutput(out)
		exp.TrapTriggered = exp.Termination == types.TerminationTrap
		if exp.Termination.IsTechnical() {
			exp.Diagnostic = diagnosticText(out)
		}
		exp.Traces = d.tracesFromSteps(in, out.Steps)
		if exp.AnsweredCount > 0 {
			exp.CompletionDepth = completionDepth(exp.Termination, exp.AnsweredCount)
		}
	}

	if d.metrics != nil {
		d.metrics.AgentOutcome(string(exp.Termination))
	}
	d.logger.Info("agent run finished",
		zap.String("scout_id", exp.ScoutID),
		zap.Int("persona_id", exp.Persona.ID),
		zap.String("termination", string(exp.Termination)),
		zap.Int("answered", exp.AnsweredCount),
		zap.Int("steps", exp.StepCount))

	if in.Scout && d.store != nil {
		if err := d.store.RecordExperience(context.WithoutCancel(ctx), in.URL, exp); err != nil {
			return exp, fmt.Errorf("record scout experience: %w", err)
		}
	}
	return exp, nil
}

// RecordStartFailure encodes a browser start fault as a technical run, so
// the analyzer sees it next to real agent outcomes instead of it silently
// shrinking the cohort.
func (d *Driver) RecordStartFailure(ctx context.Context, in DriveInput, cause error) (types.ScoutExperience, error) {
	now := time.Now()
	exp := types.ScoutExperience{
		ScoutID:          uuid.NewString(),
		QuestionnaireURL: in.URL,
		Persona:          in.Persona.Clone(),
		Termination:      types.TerminationCode,
		Diagnostic:       fmt.Sprintf("browser start failed: %v", cause),
		StartedAt:        now,
		FinishedAt:       now,
	}
	if d.metrics != nil {
		d.metrics.AgentOutcome(string(exp.Termination))
	}
	d.logger.Info("agent run skipped",
		zap.String("scout_id", exp.ScoutID),
		zap.Int("persona_id", exp.Persona.ID),
		zap.String("termination", string(exp.Termination)),
		zap.Error(cause))

	if in.Scout && d.store != nil {
		if err := d.store.RecordExperience(context.WithoutCancel(ctx), in.URL, exp); err != nil {
			return exp, fmt.Errorf("record scout experience: %w", err)
		}
	}
	return exp, nil
}

// runEngine invokes the engine under the wall-clock bound, converting any
// panic into an error so a misbehaving engine cannot take down the cohort.
func (d *Driver) runEngine(ctx context.Context, in DriveInput) (out *RunOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("engine panic: %v", r)
		}
	}()

	if in.Profile == nil || in.Profile.Endpoint == nil {
		return nil, errors.New("profile has no debug endpoint")
	}

	runCtx := ctx
	if d.bounds.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.bounds.Timeout)
		defer cancel()
	}

	out, err = d.engine.Run(runCtx, RunInput{
		DebugEndpoint: fmt.Sprintf("%s:%d", in.Profile.Endpoint.Host, in.Profile.Endpoint.Port),
		URL:           in.URL,
		Prompt:        BuildPrompt(in.Persona, in.Guidance),
		Bounds:        d.bounds,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("engine returned no output")
	}
	return out, nil
}

func (d *Driver) answeredCount(out *RunOutput) int {
	if len(out.Steps) > 0 {
		return d.classifier.AnsweredCount(out.Steps)
	}
	return d.classifier.AnsweredCountFromLog(out.TextLog)
}

// tracesFromSteps lifts answer steps into question traces. The engine's
// Detail line doubles as the question text when it captured one.
func (d *Driver) tracesFromSteps(in DriveInput, steps []Step) []types.QuestionTrace {
	var traces []types.QuestionTrace
	ordinal := 0
	for _, s := range steps {
		if s.Failed || !d.classifier.IsAnswer(s.Action) {
			continue
		}
		ordinal++
		traces = append(traces, types.QuestionTrace{
			QuestionnaireURL: in.URL,
			PersonaID:        in.Persona.ID,
			Page:             s.Page,
			Ordinal:          ordinal,
			QuestionText:     s.Target,
			Answer:           s.Detail,
			Advanced:         true,
		})
	}
	return traces
}

func boundScreenshot(b []byte) []byte {
	if len(b) > types.MaxScreenshotBytes {
		return nil
	}
	return b
}

// completionDepth is a coarse estimate used only for reporting.
func completionDepth(term types.Termination, answered int) float64 {
	if term == types.TerminationNormal {
		return 1
	}
	d := float64(answered) / 20
	if d > 0.95 {
		d = 0.95
	}
	return d
}

// Keyword families for terminal classification. Order matters: technical
// markers are checked before the success phrases so a "thank you" inside a
// stack trace does not read as completion.
var (
	codeErrorMarkers = []string{
		"panic:", "stack trace", "traceback", "goroutine ", "undefined symbol",
		"nil pointer", "null pointer", "referenceerror", "typeerror",
		"syntaxerror", "engine panic",
	}
	apiErrorMarkers = []string{
		"quota exceeded", "resource_exhausted", "rate limit", "429",
		"invalid api key", "unauthorized", "authentication failed",
		"model overloaded", "llm timeout", "deadline exceeded",
	}
	serverErrorMarkers = []string{
		"500 ", "502 ", "503 ", "504 ", "internal server error",
		"bad gateway", "service unavailable", "gateway timeout",
	}
	successMarkers = []string{
		"submitted", "thank you", "提交成功", "问卷已提交", "感谢您的参与",
		"survey complete", "completion signal",
	}
)

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// classifyOutput inspects the final result and log of a run that returned.
func classifyOutput(out *RunOutput) types.Termination {
	text := strings.ToLower(out.FinalResult + "\n" + out.TextLog)
	switch {
	case containsAny(text, codeErrorMarkers):
		return types.TerminationCode
	case containsAny(text, apiErrorMarkers):
		return types.TerminationAPI
	case containsAny(text, serverErrorMarkers):
		return types.TerminationServer
	case containsAny(strings.ToLower(out.FinalResult), successMarkers):
		return types.TerminationNormal
	default:
		// Ended without a success phrase and without technical markers:
		// the site most likely screened the persona out.
		return types.TerminationTrap
	}
}

// classifyError handles runs that returned an error instead of output.
func classifyError(ctx context.Context, err error) types.Termination {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return types.TerminationCancel
	case errors.Is(err, context.DeadlineExceeded):
		return types.TerminationTimeout
	case errors.Is(err, context.Canceled):
		return types.TerminationCancel
	}
	text := strings.ToLower(err.Error())
	switch {
	case containsAny(text, apiErrorMarkers):
		return types.TerminationAPI
	case containsAny(text, serverErrorMarkers):
		return types.TerminationServer
	default:
		return types.TerminationCode
	}
}

func diagnosticText(out *RunOutput) string {
	if out.FinalResult != "" {
		return out.FinalResult
	}
	const max = 2048
	if len(out.TextLog) > max {
		return out.TextLog[len(out.TextLog)-max:]
	}
	return out.TextLog
}
