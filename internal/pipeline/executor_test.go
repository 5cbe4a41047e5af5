package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
)

type fakeAnalyzer struct {
	plugin.Base
	validateErr error
	run         func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error)
}

func (f *fakeAnalyzer) Validate(jc *plugin.Context) error { return f.validateErr }

func (f *fakeAnalyzer) Run(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
	return f.run(ctx, jc)
}

type fakeSpec struct {
	validateErr error
	run         func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error)
}

func okResult() *plugin.Result { return &plugin.Result{Success: true} }

func registerFakes(t *testing.T, specs map[string]fakeSpec) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for id, spec := range specs {
		m := &plugin.Manifest{
			ID:           id,
			Name:         id,
			Version:      "1.0.0",
			Kind:         plugin.KindAnalyzer,
			Capabilities: []string{id + ".run"},
		}
		spec := spec
		err := r.Register(m, func(m *plugin.Manifest, config map[string]any) plugin.Plugin {
			return &fakeAnalyzer{Base: plugin.NewBase(m, config), validateErr: spec.validateErr, run: spec.run}
		})
		if err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	return r
}

func newTestExecutor(t *testing.T, reg *plugin.Registry, pipelines ...*Pipeline) *Executor {
	t.Helper()
	cat := NewCatalogue()
	for _, p := range pipelines {
		if err := cat.Register(p); err != nil {
			t.Fatalf("Register pipeline %s: %v", p.ID, err)
		}
	}
	return NewExecutor(reg, cat, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testBaseContext(t *testing.T) *plugin.Context {
	t.Helper()
	return &plugin.Context{
		TargetPath:   "/samples/target.bin",
		WorkspaceDir: t.TempDir(),
		ArtifactsDir: t.TempDir(),
	}
}

func eventsOfType(events []aether.TraceEvent, et aether.EventType) []aether.TraceEvent {
	var out []aether.TraceEvent
	for _, e := range events {
		if e.EventType == et {
			out = append(out, e)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExecuteHappyPath(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"alpha": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return &plugin.Result{
				Success:   true,
				Findings:  []aether.Finding{{Title: "observation", Severity: aether.SeverityLow, Category: aether.CategoryStatic}},
				Artifacts: []aether.Artifact{{Name: "report.json", ArtifactType: aether.ArtifactJSON, URI: "file:///tmp/report.json"}},
				RiskScore: 0.2,
			}, nil
		}},
		"beta": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			if len(jc.PreviousFindings) != 1 {
				t.Errorf("beta saw %d previous findings, want 1", len(jc.PreviousFindings))
			}
			return okResult(), nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "two-step"}).
		AddStage(Stage{Name: "first", PluginID: "alpha", Condition: Always}).
		AddStage(Stage{Name: "second", PluginID: "beta"}))

	job := &aether.Job{ID: 42, Target: "/samples/target.bin"}
	res, err := ex.Execute(context.Background(), job, "two-step", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !res.Success {
		t.Fatalf("success = false: %s", res.Error)
	}
	if !equalStrings(res.StagesExecuted, []string{"first", "second"}) {
		t.Fatalf("executed = %v", res.StagesExecuted)
	}
	if len(res.StagesSkipped)+len(res.StagesFailed) != 0 {
		t.Fatalf("skipped = %v, failed = %v", res.StagesSkipped, res.StagesFailed)
	}

	// Outputs are stamped with the producing stage.
	if len(res.Findings) != 1 || res.Findings[0].PluginID != "alpha" || res.Findings[0].Stage != "first" {
		t.Fatalf("findings = %+v", res.Findings)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Stage != "first" {
		t.Fatalf("artifacts = %+v", res.Artifacts)
	}
	if res.RiskScore != 0.2 {
		t.Fatalf("risk = %v, want 0.2", res.RiskScore)
	}

	// One pipeline-level start, one start per stage, one complete per stage.
	starts := eventsOfType(res.Events, aether.EventStageStart)
	completes := eventsOfType(res.Events, aether.EventStageComplete)
	if len(starts) != 3 || len(completes) != 2 {
		t.Fatalf("starts = %d, completes = %d", len(starts), len(completes))
	}
	for _, e := range res.Events {
		if e.Source != aether.SourceOrchestrator {
			t.Fatalf("event source = %s, want orchestrator", e.Source)
		}
		if e.JobID != job.ID {
			t.Fatalf("event job_id = %d, want %d", e.JobID, job.ID)
		}
	}
}

func TestExecuteOptionalStageFailure(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) { return okResult(), nil }},
		"b": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return nil, errors.New("boom")
		}},
		"c": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) { return okResult(), nil }},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "a", Condition: Always}).
		AddStage(Stage{Name: "B", PluginID: "b", Optional: true}).
		AddStage(Stage{Name: "C", PluginID: "c"}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !equalStrings(res.StagesExecuted, []string{"A", "C"}) {
		t.Fatalf("executed = %v, want [A C]", res.StagesExecuted)
	}
	if !equalStrings(res.StagesFailed, []string{"B"}) {
		t.Fatalf("failed = %v, want [B]", res.StagesFailed)
	}
	if len(res.StagesSkipped) != 0 {
		t.Fatalf("skipped = %v, want none", res.StagesSkipped)
	}
	if res.Success {
		t.Fatal("pipeline with a failed stage must not be successful")
	}
	if errs := eventsOfType(res.Events, aether.EventStageError); len(errs) != 1 {
		t.Fatalf("stage_error events = %d, want 1", len(errs))
	}
}

func TestExecuteNonOptionalStageFailureHalts(t *testing.T) {
	cCalled := false
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return nil, errors.New("boom")
		}},
		"c": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			cCalled = true
			return okResult(), nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "a", Condition: Always}).
		AddStage(Stage{Name: "C", PluginID: "c"}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(res.StagesExecuted) != 0 || !equalStrings(res.StagesFailed, []string{"A"}) {
		t.Fatalf("executed = %v, failed = %v", res.StagesExecuted, res.StagesFailed)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got success=%v error=%q", res.Success, res.Error)
	}
	if cCalled {
		t.Fatal("stage C must never be evaluated after a non-optional failure")
	}
}

func TestExecuteResultFailureDiscardsOutputs(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return &plugin.Result{
				Success:  false,
				Error:    "analysis refused",
				Findings: []aether.Finding{{Title: "partial"}},
			}, nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "a", Condition: Always, Optional: true}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Findings) != 0 {
		t.Fatalf("failed stage leaked findings: %+v", res.Findings)
	}
	if !equalStrings(res.StagesFailed, []string{"A"}) {
		t.Fatalf("failed = %v", res.StagesFailed)
	}
}

func TestExecuteValidationRefusalIsStageFailure(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {
			validateErr: &plugin.ValidationError{PluginID: "a", Reason: "target too large"},
			run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
				return okResult(), nil
			},
		},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "a", Condition: Always}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !equalStrings(res.StagesFailed, []string{"A"}) {
		t.Fatalf("success = %v, failed = %v", res.Success, res.StagesFailed)
	}
}

func TestExecuteMissingPluginIsStageFailure(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "ghost", Condition: Always}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !equalStrings(res.StagesFailed, []string{"A"}) {
		t.Fatalf("success = %v, failed = %v", res.Success, res.StagesFailed)
	}
}

func TestExecuteSkipRemaining(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return &plugin.Result{Success: true, SkipRemaining: true}, nil
		}},
		"b": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			t.Error("stage after skip_remaining must not run")
			return okResult(), nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "a", Condition: Always}).
		AddStage(Stage{Name: "B", PluginID: "b"}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("halt by skip_remaining is a success, got error %q", res.Error)
	}
	if !equalStrings(res.StagesExecuted, []string{"A"}) {
		t.Fatalf("executed = %v", res.StagesExecuted)
	}
}

func TestExecuteHighRiskGate(t *testing.T) {
	run := func(risk float64) (*ExecutionResult, error) {
		reg := registerFakes(t, map[string]fakeSpec{
			"scorer": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
				return &plugin.Result{Success: true, RiskScore: risk}, nil
			}},
			"deep": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
				return okResult(), nil
			}},
		})
		ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
			AddStage(Stage{Name: "score", PluginID: "scorer", Condition: Always}).
			AddStage(Stage{Name: "deep", PluginID: "deep", Condition: OnHighRisk, Optional: true}))
		return ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	}

	res, err := run(0.9)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !equalStrings(res.StagesExecuted, []string{"score", "deep"}) {
		t.Fatalf("high risk: executed = %v", res.StagesExecuted)
	}

	res, err = run(0.3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !equalStrings(res.StagesExecuted, []string{"score"}) || !equalStrings(res.StagesSkipped, []string{"deep"}) {
		t.Fatalf("low risk: executed = %v, skipped = %v", res.StagesExecuted, res.StagesSkipped)
	}
}

func TestExecuteRiskScoreMonotonic(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"high": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return &plugin.Result{Success: true, RiskScore: 0.8}, nil
		}},
		"low": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return &plugin.Result{Success: true, RiskScore: 0.1}, nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "first", PluginID: "high", Condition: Always}).
		AddStage(Stage{Name: "second", PluginID: "low"}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RiskScore != 0.8 {
		t.Fatalf("risk = %v, want max 0.8", res.RiskScore)
	}
}

func TestExecuteContextDataFlow(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"producer": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return &plugin.Result{Success: true, ContextData: map[string]any{"verdict": "suspicious"}}, nil
		}},
		"consumer": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			if jc.Pipeline["verdict"] != "suspicious" {
				t.Errorf("pipeline context = %v", jc.Pipeline)
			}
			return okResult(), nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "produce", PluginID: "producer", Condition: Always}).
		AddStage(Stage{Name: "consume", PluginID: "consumer", Condition: Conditional, ConditionExpr: `ctx.verdict == "suspicious"`}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !equalStrings(res.StagesExecuted, []string{"produce", "consume"}) {
		t.Fatalf("executed = %v", res.StagesExecuted)
	}
}

func TestExecuteStageTimeout(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"slow": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return okResult(), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "slow", PluginID: "slow", Condition: Always, TimeoutSeconds: 1}))

	start := time.Now()
	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout was not enforced")
	}
	if res.Success || !equalStrings(res.StagesFailed, []string{"slow"}) {
		t.Fatalf("success = %v, failed = %v", res.Success, res.StagesFailed)
	}
}

func TestExecuteStageContextIsolation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	reg := registerFakes(t, map[string]fakeSpec{
		"producer": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return &plugin.Result{Success: true, ContextData: map[string]any{"verdict": "clean"}}, nil
		}},
		"runaway": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			// Ignores its deadline and keeps mutating the handed-out
			// map long after the executor has moved on.
			for i := 0; ; i++ {
				select {
				case <-release:
					return okResult(), nil
				default:
					jc.Pipeline["runaway"] = i
					time.Sleep(time.Millisecond)
				}
			}
		}},
		"after": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			if jc.Pipeline["verdict"] != "clean" {
				t.Errorf("pipeline context lost earlier stage data: %v", jc.Pipeline)
			}
			if _, ok := jc.Pipeline["runaway"]; ok {
				t.Error("timed-out stage writes leaked into the pipeline context")
			}
			return okResult(), nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "produce", PluginID: "producer", Condition: Always}).
		AddStage(Stage{Name: "runaway", PluginID: "runaway", Optional: true, TimeoutSeconds: 1}).
		AddStage(Stage{Name: "after", PluginID: "after"}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !equalStrings(res.StagesFailed, []string{"runaway"}) {
		t.Fatalf("failed = %v, want [runaway]", res.StagesFailed)
	}
	if !equalStrings(res.StagesExecuted, []string{"produce", "after"}) {
		t.Fatalf("executed = %v, want [produce after]", res.StagesExecuted)
	}
}

func TestExecuteCancellationBetweenStages(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) { return okResult(), nil }},
		"b": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			t.Error("stage after cancellation must not run")
			return okResult(), nil
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "a", Condition: Always}).
		AddStage(Stage{Name: "B", PluginID: "b"}))

	checks := 0
	ex.Cancelled = func(ctx context.Context, jobID int64) bool {
		checks++
		return checks > 1
	}

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Cancelled {
		t.Fatal("expected cancelled result")
	}
	if !equalStrings(res.StagesExecuted, []string{"A"}) {
		t.Fatalf("executed = %v", res.StagesExecuted)
	}
	if res.Success {
		t.Fatal("cancelled run must not be successful")
	}
}

func TestExecuteUnknownPipeline(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{})
	ex := newTestExecutor(t, reg)
	if _, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "ghost", testBaseContext(t)); !errors.Is(err, ErrUnknownPipeline) {
		t.Fatalf("Execute: %v, want ErrUnknownPipeline", err)
	}
}

func TestExecuteStageCountInvariant(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) { return okResult(), nil }},
		"b": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return nil, errors.New("boom")
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "one", PluginID: "a", Condition: Always}).
		AddStage(Stage{Name: "two", PluginID: "b", Optional: true}).
		AddStage(Stage{Name: "three", PluginID: "a", Condition: OnHighRisk}).
		AddStage(Stage{Name: "four", PluginID: "a"}))

	res, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	total := len(res.StagesExecuted) + len(res.StagesSkipped) + len(res.StagesFailed)
	if total != 4 {
		t.Fatalf("stage accounting: executed=%v skipped=%v failed=%v",
			res.StagesExecuted, res.StagesSkipped, res.StagesFailed)
	}
}

func TestExecuteOnStageCompleteCallback(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) { return okResult(), nil }},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "A", PluginID: "a", Condition: Always}))

	var completed []string
	ex.OnStageComplete = func(stage string, result *plugin.Result) {
		completed = append(completed, stage)
	}

	if _, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !equalStrings(completed, []string{"A"}) {
		t.Fatalf("callback saw %v", completed)
	}
}

func TestExecuteOnProgressCountsEveryDisposition(t *testing.T) {
	reg := registerFakes(t, map[string]fakeSpec{
		"a": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) { return okResult(), nil }},
		"b": {run: func(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
			return nil, errors.New("boom")
		}},
	})
	ex := newTestExecutor(t, reg, (&Pipeline{ID: "p"}).
		AddStage(Stage{Name: "one", PluginID: "a", Condition: Always}).
		AddStage(Stage{Name: "two", PluginID: "b", Optional: true}).
		AddStage(Stage{Name: "three", PluginID: "a", Condition: OnHighRisk}).
		AddStage(Stage{Name: "four", PluginID: "a"}))

	var ticks []int
	total := 0
	ex.OnProgress = func(done, t int) {
		ticks = append(ticks, done)
		total = t
	}

	if _, err := ex.Execute(context.Background(), &aether.Job{ID: 1}, "p", testBaseContext(t)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	want := []int{1, 2, 3, 4}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
}
