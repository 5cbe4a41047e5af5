package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
)

// ExecutionResult aggregates everything one pipeline run produced.
type ExecutionResult struct {
	JobID           int64
	PipelineID      string
	Success         bool
	Cancelled       bool
	StagesExecuted  []string
	StagesSkipped   []string
	StagesFailed    []string
	Findings        []aether.Finding
	Artifacts       []aether.Artifact
	Events          []aether.TraceEvent
	ExecutionTimeMS int64
	Error           string
	RiskScore       float64
}

// Executor runs one pipeline against one job, sequentially stage by
// stage. Between-jobs concurrency lives in the worker pool; the
// executor itself never parallelizes stages.
type Executor struct {
	registry  *plugin.Registry
	catalogue *Catalogue
	log       *slog.Logger

	// OnStageComplete, when set, is called after every successful stage.
	OnStageComplete func(stage string, result *plugin.Result)

	// OnProgress, when set, is called after every stage disposition
	// (executed, skipped or failed) with the running tally.
	OnProgress func(done, total int)

	// Cancelled, when set, is polled between stages. A true return
	// halts the pipeline; the stage in flight always runs to
	// completion or timeout first.
	Cancelled func(ctx context.Context, jobID int64) bool
}

// NewExecutor creates an executor over the given registry and catalogue.
func NewExecutor(registry *plugin.Registry, catalogue *Catalogue, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{registry: registry, catalogue: catalogue, log: log}
}

// Execute runs the pipeline for the job. An unknown pipeline id is an
// error; every other outcome is reported on the ExecutionResult.
//
// Per stage: the condition is evaluated against the previous stage's
// result and the running pipeline context; satisfied stages get a
// fresh context carrying all accumulated findings and artifacts; their
// outputs are stamped with the stage's plugin id and name. A stage
// either succeeds wholly or contributes nothing: validation refusal,
// a run error, a timeout, and a result with Success=false all discard
// the stage's outputs. Non-optional failures halt the pipeline.
func (e *Executor) Execute(ctx context.Context, job *aether.Job, pipelineID string, base *plugin.Context) (*ExecutionResult, error) {
	pl, err := e.catalogue.Get(pipelineID)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	res := &ExecutionResult{
		JobID:          job.ID,
		PipelineID:     pipelineID,
		StagesExecuted: []string{},
		StagesSkipped:  []string{},
		StagesFailed:   []string{},
	}
	runningCtx := map[string]any{}
	var last *plugin.Result

	total := len(pl.Stages)
	done := 0
	progress := func() {
		done++
		if e.OnProgress != nil {
			e.OnProgress(done, total)
		}
	}

	stageNames := make([]string, total)
	for i, s := range pl.Stages {
		stageNames[i] = s.Name
	}
	res.Events = append(res.Events, e.event(job.ID, aether.EventStageStart, map[string]any{
		"pipeline": pipelineID,
		"stages":   stageNames,
	}))

	for _, stage := range pl.Stages {
		if e.Cancelled != nil && e.Cancelled(ctx, job.ID) {
			e.log.Info("pipeline cancelled", "job_id", job.ID, "pipeline", pipelineID)
			res.Cancelled = true
			res.Error = "job cancelled"
			break
		}

		if !shouldExecute(stage, last, runningCtx) {
			res.StagesSkipped = append(res.StagesSkipped, stage.Name)
			e.log.Info("skipping stage", "stage", stage.Name, "condition", stage.Condition)
			progress()
			continue
		}

		e.log.Info("executing stage", "stage", stage.Name, "plugin", stage.PluginID)
		res.Events = append(res.Events, e.event(job.ID, aether.EventStageStart, map[string]any{
			"stage":  stage.Name,
			"plugin": stage.PluginID,
		}))

		result, err := e.runStage(ctx, stage, job, base, res.Findings, res.Artifacts, runningCtx)
		if err != nil {
			e.log.Error("stage failed", "stage", stage.Name, "error", err)
			res.StagesFailed = append(res.StagesFailed, stage.Name)
			res.Events = append(res.Events, e.event(job.ID, aether.EventStageError, map[string]any{
				"stage": stage.Name,
				"error": err.Error(),
			}))
			progress()
			if stage.Optional {
				continue
			}
			res.Success = false
			res.Error = fmt.Sprintf("stage %s failed: %v", stage.Name, err)
			res.RiskScore = contextRisk(runningCtx)
			res.ExecutionTimeMS = time.Since(start).Milliseconds()
			return res, nil
		}

		for i := range result.Findings {
			result.Findings[i].PluginID = stage.PluginID
			result.Findings[i].Stage = stage.Name
		}
		for i := range result.Artifacts {
			result.Artifacts[i].PluginID = stage.PluginID
			result.Artifacts[i].Stage = stage.Name
		}

		res.Findings = append(res.Findings, result.Findings...)
		res.Artifacts = append(res.Artifacts, result.Artifacts...)
		res.Events = append(res.Events, result.Events...)
		res.StagesExecuted = append(res.StagesExecuted, stage.Name)

		for k, v := range result.ContextData {
			runningCtx[k] = v
		}
		if result.RiskScore > contextRisk(runningCtx) {
			runningCtx[riskScoreKey] = result.RiskScore
		}

		last = result

		res.Events = append(res.Events, e.event(job.ID, aether.EventStageComplete, map[string]any{
			"stage":     stage.Name,
			"plugin":    stage.PluginID,
			"findings":  len(result.Findings),
			"artifacts": len(result.Artifacts),
		}))
		progress()

		if e.OnStageComplete != nil {
			e.OnStageComplete(stage.Name, result)
		}

		if result.SkipRemaining {
			e.log.Warn("pipeline aborted by stage", "stage", stage.Name)
			break
		}
	}

	res.Success = len(res.StagesFailed) == 0 && !res.Cancelled
	res.RiskScore = contextRisk(runningCtx)
	res.ExecutionTimeMS = time.Since(start).Milliseconds()
	return res, nil
}

// runStage resolves the plugin, validates it against the stage
// context, and runs it under the stage deadline.
func (e *Executor) runStage(
	ctx context.Context,
	stage Stage,
	job *aether.Job,
	base *plugin.Context,
	priorFindings []aether.Finding,
	priorArtifacts []aether.Artifact,
	pipelineCtx map[string]any,
) (*plugin.Result, error) {
	inst, err := e.registry.GetInstance(stage.PluginID, stage.Config)
	if err != nil {
		return nil, err
	}

	// The stage gets its own copy of the pipeline context. A plugin
	// goroutine abandoned after a timeout may keep writing to its map;
	// handing out the live map would race with later stages, and a
	// failed stage's writes must not leak into the pipeline. ContextData
	// on a successful result is the only way back in.
	jc := &plugin.Context{
		Job:               job,
		TargetPath:        base.TargetPath,
		WorkspaceDir:      base.WorkspaceDir,
		ArtifactsDir:      base.ArtifactsDir,
		PreviousFindings:  priorFindings,
		PreviousArtifacts: priorArtifacts,
		Pipeline:          maps.Clone(pipelineCtx),
	}

	if err := inst.Validate(jc); err != nil {
		return nil, err
	}

	timeout := stage.Timeout()
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *plugin.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := inst.Run(stageCtx, jc)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		if o.result == nil {
			return nil, fmt.Errorf("plugin %s returned no result", stage.PluginID)
		}
		if !o.result.Success {
			msg := o.result.Error
			if msg == "" {
				msg = "plugin reported failure"
			}
			return nil, errors.New(msg)
		}
		return o.result, nil
	case <-stageCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("timed out after %s", timeout)
	}
}

func (e *Executor) event(jobID int64, eventType aether.EventType, payload map[string]any) aether.TraceEvent {
	return aether.TraceEvent{
		JobID:     jobID,
		TS:        time.Now().UTC(),
		Source:    aether.SourceOrchestrator,
		EventType: eventType,
		Payload:   payload,
	}
}
