package aether

import "time"

// TargetType identifies what kind of analysis target a job points at.
type TargetType string

const (
	TargetBinary     TargetType = "binary"
	TargetAPK        TargetType = "apk"
	TargetPID        TargetType = "pid"
	TargetMemoryDump TargetType = "memory_dump"
	TargetTraceLog   TargetType = "trace_log"
)

// ValidTargetType reports whether t is one of the declared target types.
func ValidTargetType(t TargetType) bool {
	switch t {
	case TargetBinary, TargetAPK, TargetPID, TargetMemoryDump, TargetTraceLog:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is one submitted analysis: a target bound to a pipeline, plus the
// lifecycle bookkeeping the worker maintains.
type Job struct {
	ID         int64          `json:"id"`
	Target     string         `json:"target"`
	TargetType TargetType     `json:"target_type"`
	Status     JobStatus      `json:"status"`
	PipelineID string         `json:"pipeline_id"`
	Options    map[string]any `json:"options,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
	Progress   int            `json:"progress"`
	Result     map[string]any `json:"result,omitempty"`
	Error      *string        `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool { return j.Status.Terminal() }
