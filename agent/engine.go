// Package agent drives one browser-agent run end to end: it builds the
// persona prompt, hands the session to the pluggable engine, bounds the run,
// and classifies how it ended. The engine itself (CDP automation, model
// loop) is out of process scope and injected behind the Engine interface.
package agent

import (
	"context"
	"time"
)

// Bounds limits one agent run. The engine is expected to cooperate; the
// driver enforces the wall clock regardless.
type Bounds struct {
	MaxSteps               int           `json:"max_steps"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	Timeout                time.Duration `json:"timeout"`
}

// Step is one entry of the engine's structured history.
type Step struct {
	Index   int    `json:"index"`
	Action  string `json:"action"`           // engine action name, e.g. "click_element", "input_text"
	Target  string `json:"target,omitempty"` // selector or element description
	Detail  string `json:"detail,omitempty"` // engine log line for this step
	Failed  bool   `json:"failed,omitempty"`
	Page    int    `json:"page,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// RunInput is everything the engine needs for one session.
type RunInput struct {
	DebugEndpoint string `json:"debug_endpoint"` // host:port of the running browser
	URL           string `json:"url"`
	Prompt        string `json:"prompt"`
	Bounds        Bounds `json:"bounds"`
}

// RunOutput is the engine's return contract: a structured history plus a
// free-text final result. TextLog is the fallback when Steps is empty.
type RunOutput struct {
	Steps       []Step `json:"steps,omitempty"`
	TextLog     string `json:"text_log,omitempty"`
	FinalResult string `json:"final_result"`
	Screenshot  []byte `json:"screenshot,omitempty"` // final page, may be nil
}

// Engine executes one browsing session against a debug endpoint. It is
// opaque to the driver; only the return contract matters.
type Engine interface {
	Run(ctx context.Context, in RunInput) (*RunOutput, error)
}
