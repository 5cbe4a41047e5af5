// Package pipeline defines analysis pipelines and the executor that
// walks their stages against a job.
package pipeline

import "time"

// Condition controls whether a stage runs, evaluated against the
// previous stage's result and the running pipeline context.
type Condition string

const (
	Always      Condition = "always"
	OnSuccess   Condition = "on_success"
	OnFailure   Condition = "on_failure"
	OnFindings  Condition = "on_findings"
	OnHighRisk  Condition = "on_high_risk"
	Conditional Condition = "conditional"
)

// DefaultStageTimeout bounds stages that declare no timeout.
const DefaultStageTimeout = 300 * time.Second

// Stage binds a plugin id, config, and condition to a named step.
type Stage struct {
	Name           string         `json:"name"`
	PluginID       string         `json:"plugin_id"`
	Config         map[string]any `json:"config,omitempty"`
	Condition      Condition      `json:"condition"`
	ConditionExpr  string         `json:"condition_expr,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Optional       bool           `json:"optional"`
}

// Timeout returns the stage's execution deadline.
func (s Stage) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return DefaultStageTimeout
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Pipeline is an ordered list of conditionally-executed stages.
type Pipeline struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Stages      []Stage  `json:"stages"`
}

// AddStage appends a stage and returns the pipeline for chaining.
func (p *Pipeline) AddStage(s Stage) *Pipeline {
	p.Stages = append(p.Stages, s)
	return p
}
