package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/storage"
	"github.com/aetherframe/aetherframe/internal/store"
)

// JanitorStore is the slice of the persistence layer the janitor needs.
type JanitorStore interface {
	GetJob(ctx context.Context, id int64) (*aether.Job, error)
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*aether.Job, error)
	FinishJob(ctx context.Context, id int64, status aether.JobStatus, result map[string]any, errMsg *string) error
	CreateEvent(ctx context.Context, e *aether.Event) error
}

// Janitor periodically fails jobs stuck in running (worker crashed or
// was killed mid-run) and removes workspace directories left behind by
// jobs that have since reached a terminal state.
type Janitor struct {
	store   JanitorStore
	layout  *storage.Layout
	log     *slog.Logger
	cron    *cron.Cron
	timeout time.Duration
}

// NewJanitor builds a janitor. staleTimeout values at or below zero
// disable the stale-job reaper; workspace sweeping always runs.
func NewJanitor(st JanitorStore, layout *storage.Layout, staleTimeout time.Duration, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{
		store:   st,
		layout:  layout,
		log:     log,
		cron:    cron.New(),
		timeout: staleTimeout,
	}
}

// Start registers the sweep on the given cron schedule (standard
// 5-field expressions or descriptors like "@every 10m") and begins
// running it.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		j.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("register janitor schedule %q: %w", schedule, err)
	}
	j.cron.Start()
	j.log.Info("janitor started", "schedule", schedule, "stale_timeout", j.timeout)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.log.Info("janitor stopped")
}

// Sweep runs one pass of both cleanups.
func (j *Janitor) Sweep(ctx context.Context) {
	j.reapStaleJobs(ctx)
	j.sweepWorkspaces(ctx)
}

// reapStaleJobs fails running jobs older than the stale timeout. The
// guarded FinishJob keeps a race with a live worker harmless: whoever
// writes first wins, the other sees ErrTerminal.
func (j *Janitor) reapStaleJobs(ctx context.Context) {
	if j.timeout <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-j.timeout)
	jobs, err := j.store.ListStaleRunning(ctx, cutoff)
	if err != nil {
		j.log.Error("list stale jobs", "error", err)
		return
	}
	for _, job := range jobs {
		msg := fmt.Sprintf("job exceeded stale timeout of %s", j.timeout)
		payload := map[string]any{
			"error": msg,
			"ts":    float64(time.Now().UnixNano()) / 1e9,
		}
		if err := j.store.FinishJob(ctx, job.ID, aether.JobFailed, payload, &msg); err != nil {
			if !errors.Is(err, store.ErrTerminal) {
				j.log.Error("reap stale job", "job_id", job.ID, "error", err)
			}
			continue
		}
		jobID := job.ID
		if err := j.store.CreateEvent(ctx, &aether.Event{
			EventType: "job_failed",
			JobID:     &jobID,
			Payload:   payload,
		}); err != nil {
			j.log.Error("emit job_failed event", "job_id", job.ID, "error", err)
		}
		j.log.Warn("reaped stale job", "job_id", job.ID, "started_at", job.StartedAt)
	}
}

// sweepWorkspaces removes scratch directories whose jobs are terminal
// or gone. Directories of pending and running jobs are left alone.
func (j *Janitor) sweepWorkspaces(ctx context.Context) {
	ids, err := j.layout.WorkspaceJobs()
	if err != nil {
		j.log.Error("scan workspaces", "error", err)
		return
	}
	for _, id := range ids {
		job, err := j.store.GetJob(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Job row deleted; the directory is an orphan.
		case err != nil:
			j.log.Error("check workspace job", "job_id", id, "error", err)
			continue
		case !job.Terminal():
			continue
		}
		if err := j.layout.RemoveWorkspace(id); err != nil {
			j.log.Error("remove workspace", "job_id", id, "error", err)
			continue
		}
		j.log.Info("removed workspace", "job_id", id)
	}
}
