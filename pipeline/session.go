package pipeline

import (
	"time"

	"github.com/BaSui01/surveyflow/analyzer"
	"github.com/BaSui01/surveyflow/types"
)

// Stage is where a task currently is in the pipeline.
type Stage string

const (
	StageScout        Stage = "scout"
	StageAnalyze      Stage = "analyze"
	StageAwaitingGate Stage = "awaiting_gate"
	StageMain         Stage = "main"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// TaskSession is one questionnaire task's live state. The controller
// mutates it under its own lock; Snapshot returns copies.
type TaskSession struct {
	TaskID           string                         `json:"task_id"`
	QuestionnaireURL string                         `json:"questionnaire_url"`
	Stage            Stage                          `json:"stage"`
	FailReason       string                         `json:"fail_reason,omitempty"`
	ScoutResults     []types.ScoutExperience        `json:"scout_results,omitempty"`
	MainResults      []types.ScoutExperience        `json:"main_results,omitempty"`
	Intelligence     *types.QuestionnaireIntelligence `json:"intelligence,omitempty"`
	Diagnostics      *analyzer.Diagnostics          `json:"diagnostics,omitempty"`
	StartedAt        time.Time                      `json:"started_at"`
	FinishedAt       time.Time                      `json:"finished_at,omitempty"`
}

// clone deep-copies the session so a snapshot cannot alias live state.
func (s *TaskSession) clone() TaskSession {
	out := *s
	out.ScoutResults = cloneExperiences(s.ScoutResults)
	out.MainResults = cloneExperiences(s.MainResults)
	if s.Intelligence != nil {
		qi := *s.Intelligence
		out.Intelligence = &qi
	}
	if s.Diagnostics != nil {
		d := *s.Diagnostics
		d.TechnicalTraces = append([]string(nil), s.Diagnostics.TechnicalTraces...)
		out.Diagnostics = &d
	}
	return out
}

func cloneExperiences(in []types.ScoutExperience) []types.ScoutExperience {
	if in == nil {
		return nil
	}
	out := make([]types.ScoutExperience, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// Report is the final artifact of a task run.
type Report struct {
	TaskID           string   `json:"task_id"`
	QuestionnaireURL string   `json:"questionnaire_url"`
	Stage            Stage    `json:"stage"`
	FailReason       string   `json:"fail_reason,omitempty"`
	ScoutCount       int      `json:"scout_count"`
	MainCount        int      `json:"main_count"`
	ScoutSuccessRate float64  `json:"scout_success_rate"`
	MainSuccessRate  float64  `json:"main_success_rate"`
	ImprovementRate  float64  `json:"improvement_rate"`
	Confidence       float64  `json:"confidence"`
	Recommendations  []string `json:"recommendations,omitempty"`
	TechnicalTraces  []string `json:"technical_traces,omitempty"`
	Duration         time.Duration `json:"duration"`
}

func successRate(results []types.ScoutExperience) float64 {
	if len(results) == 0 {
		return 0
	}
	n := 0
	for _, r := range results {
		if r.Termination.Success() {
			n++
		}
	}
	return float64(n) / float64(len(results))
}
