// Package orchestrator drives queued jobs through their pipelines:
// it owns the job row's lifecycle from dequeue to terminal state and
// persists everything the run produced.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/pipeline"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/queue"
	"github.com/aetherframe/aetherframe/internal/storage"
	"github.com/aetherframe/aetherframe/internal/store"
)

// Store is the slice of the persistence layer the orchestrator needs.
type Store interface {
	GetJob(ctx context.Context, id int64) (*aether.Job, error)
	MarkJobRunning(ctx context.Context, id int64) error
	FinishJob(ctx context.Context, id int64, status aether.JobStatus, result map[string]any, errMsg *string) error
	SetJobProgress(ctx context.Context, id int64, progress int) error
	CreateFinding(ctx context.Context, f *aether.Finding) error
	CreateArtifact(ctx context.Context, a *aether.Artifact) error
	CreateTraceEvent(ctx context.Context, e *aether.TraceEvent) error
	CreateEvent(ctx context.Context, e *aether.Event) error
}

// TargetResolver turns a job's declared target into a local path the
// stage plugins can read.
type TargetResolver func(ctx context.Context, job *aether.Job) (string, error)

// ResolvePath is the resolver for file-backed targets. The target must
// already exist on the worker's filesystem.
func ResolvePath(_ context.Context, job *aether.Job) (string, error) {
	if _, err := os.Stat(job.Target); err != nil {
		return "", fmt.Errorf("target %s: %w", job.Target, err)
	}
	return job.Target, nil
}

func resolvePID(_ context.Context, job *aether.Job) (string, error) {
	return "", fmt.Errorf("target type %s needs a live-process resolver, none configured", job.TargetType)
}

// Orchestrator processes one task at a time; concurrency lives in the
// worker pool above it, which runs one Process call per goroutine.
type Orchestrator struct {
	store     Store
	layout    *storage.Layout
	registry  *plugin.Registry
	catalogue *pipeline.Catalogue
	log       *slog.Logger
	resolvers map[aether.TargetType]TargetResolver

	// CleanupWorkspace removes the job's scratch directory after the
	// run. The artifacts directory is always retained.
	CleanupWorkspace bool
}

// New builds an orchestrator with path resolution for file-backed
// target types and workspace cleanup enabled.
func New(st Store, layout *storage.Layout, registry *plugin.Registry, catalogue *pipeline.Catalogue, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:     st,
		layout:    layout,
		registry:  registry,
		catalogue: catalogue,
		log:       log,
		resolvers: map[aether.TargetType]TargetResolver{
			aether.TargetPID: resolvePID,
		},
		CleanupWorkspace: true,
	}
}

// RegisterResolver installs a resolver for a target type, replacing
// the default path resolution for that type.
func (o *Orchestrator) RegisterResolver(t aether.TargetType, r TargetResolver) {
	o.resolvers[t] = r
}

// Process runs one dequeued task to a terminal job state. The returned
// error is reserved for infrastructure faults (job row unreadable,
// lifecycle update unreachable); analysis failures are recorded on the
// job row and return nil.
func (o *Orchestrator) Process(ctx context.Context, task queue.Task) error {
	job, err := o.store.GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", task.JobID, err)
	}
	// Redelivered tasks for finished jobs are dropped.
	if job.Terminal() {
		o.log.Info("skipping terminal job", "job_id", job.ID, "status", job.Status)
		return nil
	}

	targetPath, err := o.resolveTarget(ctx, job)
	if err != nil {
		return o.failJob(ctx, job.ID, err)
	}

	workspace, artifacts, err := o.layout.JobDirs(job.ID)
	if err != nil {
		return o.failJob(ctx, job.ID, err)
	}

	if err := o.store.MarkJobRunning(ctx, job.ID); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			o.log.Info("job cancelled before start", "job_id", job.ID)
			return nil
		}
		return fmt.Errorf("mark job %d running: %w", job.ID, err)
	}
	o.log.Info("job started", "job_id", job.ID, "pipeline", job.PipelineID, "target", job.Target)

	exec := pipeline.NewExecutor(o.registry, o.catalogue, o.log)
	exec.Cancelled = o.jobCancelled
	exec.OnProgress = func(done, total int) {
		if total == 0 {
			return
		}
		if err := o.store.SetJobProgress(ctx, job.ID, done*100/total); err != nil {
			o.log.Warn("update progress", "job_id", job.ID, "error", err)
		}
	}

	base := &plugin.Context{
		Job:          job,
		TargetPath:   targetPath,
		WorkspaceDir: workspace,
		ArtifactsDir: artifacts,
	}

	result, err := exec.Execute(ctx, job, job.PipelineID, base)
	if err != nil {
		return o.failJob(ctx, job.ID, err)
	}

	o.persistOutputs(ctx, job.ID, result)
	o.finishJob(ctx, job.ID, result)

	if o.CleanupWorkspace {
		if err := o.layout.RemoveWorkspace(job.ID); err != nil {
			o.log.Warn("remove workspace", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) resolveTarget(ctx context.Context, job *aether.Job) (string, error) {
	if r, ok := o.resolvers[job.TargetType]; ok {
		return r(ctx, job)
	}
	return ResolvePath(ctx, job)
}

// jobCancelled is polled by the executor between stages.
func (o *Orchestrator) jobCancelled(ctx context.Context, jobID int64) bool {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.log.Warn("cancellation poll", "job_id", jobID, "error", err)
		return false
	}
	return job.Status == aether.JobCancelled
}

// persistOutputs writes findings, artifacts and trace events in
// executor order. A row that fails to persist is logged and skipped;
// siblings are not rolled back.
func (o *Orchestrator) persistOutputs(ctx context.Context, jobID int64, result *pipeline.ExecutionResult) {
	for i := range result.Findings {
		f := result.Findings[i]
		f.JobID = jobID
		if err := o.store.CreateFinding(ctx, &f); err != nil {
			o.log.Error("persist finding", "job_id", jobID, "title", f.Title, "error", err)
		}
	}
	for i := range result.Artifacts {
		a := result.Artifacts[i]
		a.JobID = jobID
		if err := storage.Finalize(&a); err != nil {
			o.log.Error("finalize artifact", "job_id", jobID, "artifact", a.Name, "error", err)
			continue
		}
		if err := o.store.CreateArtifact(ctx, &a); err != nil {
			o.log.Error("persist artifact", "job_id", jobID, "artifact", a.Name, "error", err)
		}
	}
	for i := range result.Events {
		e := result.Events[i]
		e.JobID = jobID
		if err := o.store.CreateTraceEvent(ctx, &e); err != nil {
			o.log.Error("persist trace event", "job_id", jobID, "event_type", e.EventType, "error", err)
		}
	}
}

// finishJob moves the row to completed or failed with the run summary.
// A row cancelled mid-run keeps its cancelled status.
func (o *Orchestrator) finishJob(ctx context.Context, jobID int64, result *pipeline.ExecutionResult) {
	summary := map[string]any{
		"pipeline_id":       result.PipelineID,
		"stages_executed":   result.StagesExecuted,
		"stages_failed":     result.StagesFailed,
		"risk_score":        result.RiskScore,
		"execution_time_ms": result.ExecutionTimeMS,
		"findings_count":    len(result.Findings),
		"artifacts_count":   len(result.Artifacts),
	}
	if result.Error != "" {
		summary["error"] = result.Error
	}

	status := aether.JobCompleted
	var errMsg *string
	if !result.Success {
		status = aether.JobFailed
		if result.Error != "" {
			errMsg = &result.Error
		}
	}

	if err := o.store.FinishJob(ctx, jobID, status, summary, errMsg); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			o.log.Info("job already terminal, keeping its status", "job_id", jobID)
			return
		}
		o.log.Error("finish job", "job_id", jobID, "error", err)
		return
	}
	o.log.Info("job finished",
		"job_id", jobID,
		"status", status,
		"stages_executed", len(result.StagesExecuted),
		"findings", len(result.Findings),
		"risk_score", result.RiskScore)
}

// failJob records a fatal worker error on the job row and emits the
// job_failed audit event. Analysis-level failures always resolve to
// nil so the task is not retried.
func (o *Orchestrator) failJob(ctx context.Context, jobID int64, cause error) error {
	msg := cause.Error()
	o.log.Error("job failed", "job_id", jobID, "error", msg)

	payload := map[string]any{
		"error": msg,
		"ts":    float64(time.Now().UnixNano()) / 1e9,
	}
	if err := o.store.FinishJob(ctx, jobID, aether.JobFailed, payload, &msg); err != nil && !errors.Is(err, store.ErrTerminal) {
		o.log.Error("mark job failed", "job_id", jobID, "error", err)
	}
	if err := o.store.CreateEvent(ctx, &aether.Event{
		EventType: "job_failed",
		JobID:     &jobID,
		Payload:   payload,
	}); err != nil {
		o.log.Error("emit job_failed event", "job_id", jobID, "error", err)
	}
	return nil
}
