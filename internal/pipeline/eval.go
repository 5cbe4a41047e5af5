package pipeline

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/aetherframe/aetherframe/internal/plugin"
)

// riskScoreKey is the pipeline context key carrying the running
// maximum risk score.
const riskScoreKey = "_risk_score"

// highRiskThreshold is the on_high_risk condition cutoff.
const highRiskThreshold = 0.7

// shouldExecute decides whether a stage runs. With no previous result
// only always-conditioned stages run. Unknown conditions fall through
// to run.
func shouldExecute(stage Stage, last *plugin.Result, pipelineCtx map[string]any) bool {
	if stage.Condition == Always {
		return true
	}
	if last == nil {
		return false
	}
	switch stage.Condition {
	case OnSuccess:
		return last.Success
	case OnFailure:
		return !last.Success
	case OnFindings:
		return len(last.Findings) > 0
	case OnHighRisk:
		return contextRisk(pipelineCtx) >= highRiskThreshold
	case Conditional:
		if stage.ConditionExpr == "" {
			return true
		}
		ok, err := evalCondition(stage.ConditionExpr, pipelineCtx, last)
		if err != nil {
			return false
		}
		return ok
	}
	return true
}

// evalCondition evaluates a condition expression against the pipeline
// context and the previous stage's result. The expression sees "ctx"
// (the pipeline context map) and "result" (success, risk_score,
// findings, skip_remaining).
func evalCondition(expression string, pipelineCtx map[string]any, last *plugin.Result) (bool, error) {
	env := map[string]any{
		"ctx": pipelineCtx,
		"result": map[string]any{
			"success":        last.Success,
			"risk_score":     last.RiskScore,
			"findings":       len(last.Findings),
			"skip_remaining": last.SkipRemaining,
		},
	}

	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	return isTruthy(out), nil
}

// isTruthy converts an evaluation result to a boolean.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

// contextRisk reads the running risk score from the pipeline context.
func contextRisk(pipelineCtx map[string]any) float64 {
	switch v := pipelineCtx[riskScoreKey].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
