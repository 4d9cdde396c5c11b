package types

import "time"

// QuestionType classifies a questionnaire question by its input control.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionDropdown     QuestionType = "dropdown"
	QuestionText         QuestionType = "text"
	QuestionScale        QuestionType = "scale"
)

// Termination classifies how an agent run ended. Trap termination and normal
// completion are valid outcomes, not errors; the technical kinds mark runs
// that say nothing about the questionnaire itself.
type Termination string

const (
	TerminationNone    Termination = "none"
	TerminationCode    Termination = "code_error"   // stack traces, undefined symbols
	TerminationAPI     Termination = "api_error"    // LLM quota/auth/timeout markers
	TerminationServer  Termination = "server_error" // 5xx markers
	TerminationTrap    Termination = "trap_termination"
	TerminationNormal  Termination = "normal_completion"
	TerminationCancel  Termination = "cancelled"
	TerminationTimeout Termination = "timeout"
)

// IsTechnical reports whether the termination is a technical failure that
// must not be treated as evidence about the questionnaire.
func (t Termination) IsTechnical() bool {
	switch t {
	case TerminationCode, TerminationAPI, TerminationServer, TerminationCancel, TerminationTimeout:
		return true
	}
	return false
}

// Success reports whether the run reached the questionnaire's completion signal.
func (t Termination) Success() bool {
	return t == TerminationNormal
}

// QuestionTrace is one observation of one question on one page of one session.
type QuestionTrace struct {
	QuestionnaireURL string       `json:"questionnaire_url"`
	PersonaID        int          `json:"persona_id"`
	Page             int          `json:"page"`
	Ordinal          int          `json:"ordinal"`
	QuestionText     string       `json:"question_text"`
	QuestionType     QuestionType `json:"question_type"`
	Answer           string       `json:"answer"`
	Reasoning        string       `json:"reasoning,omitempty"` // agent's stated reasoning, opaque
	Advanced         bool         `json:"advanced"`            // whether the page advanced after this answer
}

// ScoutExperience is the full trace of one scout run. One record per started
// session is written to the ephemeral store before the stage barrier releases.
type ScoutExperience struct {
	ScoutID          string          `json:"scout_id"`
	QuestionnaireURL string          `json:"questionnaire_url"`
	Persona          Persona         `json:"persona"` // snapshot, deep-copied at recruit time
	Traces           []QuestionTrace `json:"traces,omitempty"`
	Screenshot       []byte          `json:"screenshot,omitempty"` // bounded, may be nil
	Termination      Termination     `json:"termination"`
	FinalResult      string          `json:"final_result,omitempty"` // engine's final-result text
	AnsweredCount    int             `json:"answered_count"`
	CompletionDepth  float64         `json:"completion_depth"` // estimated, in [0,1]
	TrapTriggered    bool            `json:"trap_triggered"`
	StepCount        int             `json:"step_count"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Diagnostic       string          `json:"diagnostic,omitempty"` // verbatim error text for technical runs
}

// MaxScreenshotBytes bounds the screenshot retained on an experience record.
const MaxScreenshotBytes = 512 * 1024

// Clone returns a deep copy of the experience.
func (e ScoutExperience) Clone() ScoutExperience {
	out := e
	out.Persona = e.Persona.Clone()
	out.Traces = append([]QuestionTrace(nil), e.Traces...)
	out.Screenshot = append([]byte(nil), e.Screenshot...)
	return out
}
