// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector 指标收集器
//
// All methods are nil-safe: a nil *Collector records nothing, so callers can
// run without metrics wired.
type Collector struct {
	// 控制面指标
	controlRequestsTotal   *prometheus.CounterVec
	controlRequestDuration *prometheus.HistogramVec

	// 会话生命周期指标
	sessionsProvisioned prometheus.Counter
	sessionsTornDown    prometheus.Counter
	sessionsLive        prometheus.Gauge

	// 流水线指标
	stageDuration *prometheus.HistogramVec
	agentOutcomes *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到给定 registry（nil 则使用默认）
func NewCollector(reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		controlRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveyflow",
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Control-plane requests by verb and result.",
		}, []string{"verb", "result"}),
		controlRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "surveyflow",
			Subsystem: "control",
			Name:      "request_duration_seconds",
			Help:      "Control-plane request latency by verb.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),
		sessionsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "surveyflow",
			Subsystem: "session",
			Name:      "provisioned_total",
			Help:      "Browser profiles provisioned.",
		}),
		sessionsTornDown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "surveyflow",
			Subsystem: "session",
			Name:      "torn_down_total",
			Help:      "Browser profiles torn down.",
		}),
		sessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "surveyflow",
			Subsystem: "session",
			Name:      "live",
			Help:      "Live browser profiles.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "surveyflow",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage wall-clock duration.",
			Buckets:   []float64{1, 5, 15, 60, 180, 600, 1800},
		}, []string{"stage"}),
		agentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveyflow",
			Subsystem: "agent",
			Name:      "outcomes_total",
			Help:      "Agent run outcomes by termination classification.",
		}, []string{"termination"}),
		llmRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveyflow",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Vision LLM requests by provider and result.",
		}, []string{"provider", "result"}),
		llmRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "surveyflow",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Vision LLM request latency by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		logger: logger,
	}

	for _, col := range []prometheus.Collector{
		c.controlRequestsTotal, c.controlRequestDuration,
		c.sessionsProvisioned, c.sessionsTornDown, c.sessionsLive,
		c.stageDuration, c.agentOutcomes,
		c.llmRequestsTotal, c.llmRequestDuration,
	} {
		if err := reg.Register(col); err != nil {
			// Already-registered collectors are tolerated so tests can build
			// multiple collectors against the default registry.
			logger.Debug("metrics register skipped", zap.Error(err))
		}
	}
	return c
}

// ControlRequest records one control-plane request.
func (c *Collector) ControlRequest(verb, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.controlRequestsTotal.WithLabelValues(verb, result).Inc()
	c.controlRequestDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// SessionProvisioned records a provisioned profile.
func (c *Collector) SessionProvisioned() {
	if c == nil {
		return
	}
	c.sessionsProvisioned.Inc()
	c.sessionsLive.Inc()
}

// SessionTornDown records a torn-down profile.
func (c *Collector) SessionTornDown() {
	if c == nil {
		return
	}
	c.sessionsTornDown.Inc()
	c.sessionsLive.Dec()
}

// StageDone records one pipeline stage completion.
func (c *Collector) StageDone(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AgentOutcome records one agent run termination.
func (c *Collector) AgentOutcome(termination string) {
	if c == nil {
		return
	}
	c.agentOutcomes.WithLabelValues(termination).Inc()
}

// LLMRequest records one vision LLM call.
func (c *Collector) LLMRequest(provider, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, result).Inc()
	c.llmRequestDuration.WithLabelValues(provider).Observe(d.Seconds())
}
