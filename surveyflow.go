// Package surveyflow provides a top-level convenience entry point for wiring
// the whole questionnaire pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/surveyflow"
//
//	system, err := surveyflow.New(cfg, surveyflow.WithEngine(myEngine))
//	report, err := system.Controller.Run(ctx, questionnaireURL, 5, 20)
//
// Every component can also be constructed and wired by hand from its own
// package; this wrapper only covers the common single-task setup.
package surveyflow

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/agent"
	"github.com/BaSui01/surveyflow/analyzer"
	"github.com/BaSui01/surveyflow/browser"
	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/internal/metrics"
	"github.com/BaSui01/surveyflow/kb"
	"github.com/BaSui01/surveyflow/llm"
	"github.com/BaSui01/surveyflow/persona"
	"github.com/BaSui01/surveyflow/pipeline"
	"github.com/BaSui01/surveyflow/providers/gemini"
)

// Version is the surveyflow release version.
const Version = "0.1.0"

// System is the fully wired pipeline plus the components callers most often
// need direct access to.
type System struct {
	Controller *pipeline.Controller
	Lifecycle  *browser.SessionLifecycle
	KB         *kb.DualKB
	Directory  *persona.Directory
	Logger     *zap.Logger
}

// Option configures the system created by [New].
type Option func(*options)

type options struct {
	engine      agent.Engine
	provider    llm.Provider
	providerSet bool
	logger      *zap.Logger
	registry    prometheus.Registerer
}

// WithEngine sets the browser-agent engine. Required.
func WithEngine(e agent.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithProvider overrides the vision LLM provider built from config. Passing
// nil disables the LLM path; the analyzer then runs rule-based only.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p; o.providerSet = true }
}

// WithLogger sets a custom zap logger instead of the one built from config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsRegistry registers pipeline metrics on the given registry.
// Without it metrics stay off.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// New wires a complete system from config. The engine option is mandatory;
// everything else has a config-driven default.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.engine == nil {
		return nil, fmt.Errorf("surveyflow: an agent engine is required, pass WithEngine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("surveyflow: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = config.NewLogger(cfg.Log)
	}

	var collector *metrics.Collector
	if o.registry != nil {
		collector = metrics.NewCollector(o.registry, logger)
	}

	allocator, err := browser.NewProxyAllocator(cfg.Proxy.Templates)
	if err != nil {
		return nil, fmt.Errorf("surveyflow: %w", err)
	}
	control := browser.NewControlClient(cfg.Control, collector, logger)
	lifecycle := browser.NewSessionLifecycle(control, allocator, cfg.Control.ProfileCap, cfg.Control.EchoURL, collector, logger)
	tiler := browser.NewWindowTiler(cfg.Tiler.ScreenWidth, cfg.Tiler.ScreenHeight, cfg.Tiler.Columns, cfg.Tiler.Rows, logger)

	ephemeral, err := kb.NewEphemeralStore(cfg.KB, logger)
	if err != nil {
		return nil, fmt.Errorf("surveyflow: %w", err)
	}
	var persistent *kb.PersistentStore
	if cfg.KB.SQLitePath != "" {
		persistent, err = kb.NewPersistentStore(cfg.KB.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("surveyflow: %w", err)
		}
	}
	store := kb.NewDualKB(ephemeral, persistent, logger)

	provider := o.provider
	if !o.providerSet && cfg.LLM.APIKey != "" {
		provider = gemini.New(cfg.LLM, collector, logger)
	}

	directory := persona.NewDirectory(cfg.Persona, logger)
	driver := agent.NewDriver(o.engine, store, cfg.Agent, nil, collector, logger)
	runner := pipeline.NewStageRunner(lifecycle, tiler, driver, cfg.Pipeline.BatchSize, collector, logger)

	controller := pipeline.NewController(
		pipeline.NewScoutStage(runner, directory, logger),
		pipeline.NewMainStage(runner, directory, store, logger),
		analyzer.New(store, provider, logger),
		store,
		cfg.Pipeline,
		logger,
	)

	return &System{
		Controller: controller,
		Lifecycle:  lifecycle,
		KB:         store,
		Directory:  directory,
		Logger:     logger,
	}, nil
}

// Close releases the system's storage handles.
func (s *System) Close() error {
	return s.KB.Close()
}
