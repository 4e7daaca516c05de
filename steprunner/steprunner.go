// Package steprunner drives one playbook step through its full
// lifecycle: pre-validation, approval gate, interpolation, retried
// action execution, post-validation, output export, and rollback
// registration.
package steprunner

import (
	"context"
	"fmt"
	"time"

	"github.com/lancejames221b/playbook-engine/action"
	"github.com/lancejames221b/playbook-engine/classify"
	"github.com/lancejames221b/playbook-engine/condition"
	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/interpolate"
	"github.com/lancejames221b/playbook-engine/playbook"
	"github.com/lancejames221b/playbook-engine/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Validator is an external pre-execution check, dispatched by
// playbook.Validator.Type. The registry it comes from is a pluggable
// collaborator (service-running, disk-space, etc. are out of scope
// here and implemented by the host).
type Validator func(ctx context.Context, cfg map[string]interface{}, ec *playbook.ExecutionContext) (playbook.ValidationResult, error)

// ApprovalHandler decides or awaits an approval gate. It returns
// approved=true to let the step proceed immediately, or approved=false
// to put the step into WAITING_APPROVAL (a later re-invocation of Run
// represents the `approve_step` re-enqueue). ec is the owning run, so
// a handler can consult ec.Approvals for a decision already recorded
// by a prior approve_step call.
type ApprovalHandler func(ctx context.Context, ec *playbook.ExecutionContext, gate playbook.ApprovalGate, stepID string) (approved bool, err error)

// DefaultApprovalHandler approves a step only if ec.Approvals already
// holds a recorded, non-denied approval for it — the behavior a
// Supervisor relies on to re-run a step after approve_step.
func DefaultApprovalHandler(_ context.Context, ec *playbook.ExecutionContext, _ playbook.ApprovalGate, stepID string) (bool, error) {
	record, ok := ec.GetApproval(stepID)
	if !ok {
		return false, nil
	}
	return record.Approved && !record.Denied, nil
}

// EventSink receives awareness events. Implementations must never
// block or fail the caller; the awareness package provides the
// production bounded-queue implementation.
type EventSink interface {
	Emit(content string, category string, metadata map[string]interface{}, tags []string)
}

type noopSink struct{}

func (noopSink) Emit(string, string, map[string]interface{}, []string) {}

// Runner executes individual steps. It is stateless beyond its
// injected collaborators and is safe for concurrent use across steps
// of the same wave.
type Runner struct {
	executor   *action.Executor
	classifier *classify.Classifier
	validators map[string]Validator
	approve    ApprovalHandler
	sink       EventSink
	logger     core.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor overrides the default action executor.
func WithExecutor(e *action.Executor) Option {
	return func(r *Runner) { r.executor = e }
}

// WithClassifier overrides the default error classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(r *Runner) { r.classifier = c }
}

// WithValidator registers a named pre-execution validator.
func WithValidator(name string, v Validator) Option {
	return func(r *Runner) { r.validators[name] = v }
}

// WithApprovalHandler sets the approval-gate collaborator. The
// default is DefaultApprovalHandler.
func WithApprovalHandler(h ApprovalHandler) Option {
	return func(r *Runner) { r.approve = h }
}

// WithEventSink attaches an awareness publisher.
func WithEventSink(sink EventSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithLogger attaches a component-tagged logger.
func WithLogger(logger core.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner builds a Runner with safe defaults.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		executor:   action.NewExecutor(),
		classifier: classify.NewClassifier(),
		validators: make(map[string]Validator),
		approve:    DefaultApprovalHandler,
		sink:       noopSink{},
		logger:     &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives one step of a wave through its full lifecycle, mutating
// only that step's own StepResult entry in ec and, on eventual
// success, appending to ec.Variables and ec.RollbackStack via their
// sanctioned setters.
func (r *Runner) Run(ctx context.Context, ec *playbook.ExecutionContext, step playbook.Step) {
	telemetry.AddSpanEvent(ctx, "step.started", attribute.String("step.id", step.ID))

	result := &playbook.StepResult{
		StepID:        step.ID,
		Name:          step.Name,
		StartedAt:     time.Now(),
		State:         playbook.StepRunning,
		ParallelGroup: step.ParallelGroup,
		Dependencies:  step.DependsOn,
	}
	ec.PutStepResult(result)

	ctxVars := ec.SnapshotVariables()

	// Pre-validation: when conditions.
	for _, when := range step.When {
		interpolated := interpolate.Substitute(conditionToMap(when), ctxVars)
		pred := mapToCondition(interpolated)
		if !condition.Evaluate(pred, ctxVars) {
			r.finish(ec, result, playbook.StepSkipped, nil, "")
			r.sink.Emit(fmt.Sprintf("step %s skipped", step.ID), "execution", map[string]interface{}{"step_id": step.ID}, []string{"skip"})
			return
		}
	}

	// Pre-validation: external validators.
	for _, v := range step.Validators {
		validator, ok := r.validators[v.Type]
		if !ok {
			r.logger.Warn("no validator registered", map[string]interface{}{"type": v.Type, "step_id": step.ID})
			continue
		}
		vr, err := validator(ctx, v.Config, ec)
		result.ValidationResults = append(result.ValidationResults, vr)
		if err != nil || !vr.Valid {
			r.finish(ec, result, playbook.StepFailed, nil, "Pre-execution validation failed")
			return
		}
	}

	// Approval gate.
	if step.ApprovalGate != nil {
		gate := *step.ApprovalGate
		record, seen := ec.GetApproval(step.ID)
		if !seen {
			record = &playbook.ApprovalRecord{StepID: step.ID, CreatedAt: time.Now()}
			ec.SetApproval(step.ID, record)
		}

		approved, err := r.approve(ctx, ec, gate, step.ID)
		if err != nil {
			r.finish(ec, result, playbook.StepFailed, nil, fmt.Sprintf("approval check failed: %v", err))
			return
		}

		if !approved && record.Denied {
			r.finish(ec, result, playbook.StepFailed, nil, "approval not granted")
			return
		}

		if !approved && gate.TimeoutSeconds > 0 && time.Since(record.CreatedAt) >= time.Duration(gate.TimeoutSeconds*float64(time.Second)) {
			if gate.AutoApproveAfterTimeout {
				approved = true
			} else {
				r.finish(ec, result, playbook.StepFailed, nil, "approval not granted")
				return
			}
		}

		if !approved {
			r.finish(ec, result, playbook.StepWaitingApproval, nil, "")
			return
		}
	}

	// Interpolation.
	interpolatedArgs, _ := interpolate.Substitute(step.Args, ctxVars).(map[string]interface{})

	// Retried execution loop.
	outputs, execErr := r.executeWithRetry(ctx, step, interpolatedArgs, ctxVars, result)
	if execErr != nil {
		r.classifier.RecordOutcome(step.ID, classify.CategoryUnknown, false)
		r.finish(ec, result, playbook.StepFailed, nil, execErr.Error())
		r.sink.Emit(fmt.Sprintf("step %s failed: %s", step.ID, execErr.Error()), "execution", map[string]interface{}{"step_id": step.ID}, []string{"failure"})
		return
	}

	// Output export.
	for _, out := range step.Outputs {
		ec.SetVariable(out.Name, resolveOutput(out, outputs))
	}

	// Rollback registration.
	for _, rb := range step.Rollback {
		ec.PushRollback(step.ID, rb)
	}
	result.RollbackActions = step.Rollback

	r.finish(ec, result, playbook.StepCompleted, outputs, "")
	r.sink.Emit(fmt.Sprintf("step %s completed", step.ID), "execution", map[string]interface{}{"step_id": step.ID}, []string{"success"})
}

// DryRun pre-validates a step (when conditions and validators) without
// executing its action or post-validations, used for plan
// verification. A step is marked COMPLETED if all pre-validators pass,
// SKIPPED if a when condition fails, FAILED otherwise.
func (r *Runner) DryRun(ctx context.Context, ec *playbook.ExecutionContext, step playbook.Step) {
	result := &playbook.StepResult{
		StepID:        step.ID,
		Name:          step.Name,
		StartedAt:     time.Now(),
		State:         playbook.StepRunning,
		ParallelGroup: step.ParallelGroup,
		Dependencies:  step.DependsOn,
	}
	ec.PutStepResult(result)

	ctxVars := ec.SnapshotVariables()

	for _, when := range step.When {
		interpolated := interpolate.Substitute(conditionToMap(when), ctxVars)
		pred := mapToCondition(interpolated)
		if !condition.Evaluate(pred, ctxVars) {
			r.finish(ec, result, playbook.StepSkipped, nil, "")
			return
		}
	}

	for _, v := range step.Validators {
		validator, ok := r.validators[v.Type]
		if !ok {
			continue
		}
		vr, err := validator(ctx, v.Config, ec)
		result.ValidationResults = append(result.ValidationResults, vr)
		if err != nil || !vr.Valid {
			r.finish(ec, result, playbook.StepFailed, nil, "Pre-execution validation failed")
			return
		}
	}

	r.finish(ec, result, playbook.StepCompleted, nil, "")
}

// RunRollback executes a single rollback action directly, bypassing
// retry/classify/validation — rollback actions run best-effort once.
func (r *Runner) RunRollback(ctx context.Context, spec playbook.RollbackSpec) (map[string]interface{}, error) {
	return r.executor.Execute(ctx, string(spec.Action), spec.Args)
}

func (r *Runner) executeWithRetry(ctx context.Context, step playbook.Step, args map[string]interface{}, ctxVars map[string]interface{}, result *playbook.StepResult) (map[string]interface{}, error) {
	stepMax := 0
	if step.Retry != nil {
		stepMax = step.Retry.MaxAttempts
	}

	attempt := 0
	var lastCategory classify.Category
	for {
		outputs, err := r.executor.Execute(ctx, string(step.ActionType), args)
		if err == nil {
			postCtx := mergeContexts(ctxVars, outputs)
			if postErr := evaluatePostValidations(step.Validations, postCtx); postErr != "" {
				err = fmt.Errorf("%s", postErr)
			} else {
				if attempt > 0 {
					r.classifier.RecordOutcome(step.ID, lastCategory, true)
				}
				return outputs, nil
			}
		}

		decision := r.classifier.Decide(step.ID, err.Error(), attempt, stepMax)
		lastCategory = decision.Category
		result.RetryCount = attempt
		if !decision.ShouldRetry {
			r.classifier.RecordOutcome(step.ID, decision.Category, false)
			return nil, err
		}

		attempt++
		if err := sleepCtx(ctx, time.Duration(decision.DelaySeconds*float64(time.Second))); err != nil {
			return nil, err
		}
	}
}

func (r *Runner) finish(ec *playbook.ExecutionContext, result *playbook.StepResult, state playbook.StepState, outputs map[string]interface{}, errMsg string) {
	result.State = state
	result.FinishedAt = time.Now()
	result.Outputs = outputs
	result.Error = errMsg
	ec.PutStepResult(result)
}

func evaluatePostValidations(validations []playbook.Condition, ctxVars map[string]interface{}) string {
	for _, v := range validations {
		interpolated := interpolate.Substitute(conditionToMap(v), ctxVars)
		pred := mapToCondition(interpolated)
		if !condition.Evaluate(pred, ctxVars) {
			return fmt.Sprintf("post-validation failed: type=%s", v.Type)
		}
	}
	return ""
}

func mergeContexts(base map[string]interface{}, outputs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(outputs))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range outputs {
		out[k] = v
	}
	return out
}

func resolveOutput(out playbook.Output, outputs map[string]interface{}) interface{} {
	if out.From == "" {
		return out.Value
	}
	if outputs == nil {
		return nil
	}
	return outputs[out.From]
}

func conditionToMap(c playbook.Condition) map[string]interface{} {
	return map[string]interface{}{
		"type":  c.Type,
		"left":  c.Left,
		"right": c.Right,
		"value": c.Value,
	}
}

func mapToCondition(v interface{}) condition.Predicate {
	m, ok := v.(map[string]interface{})
	if !ok {
		return condition.Predicate{}
	}
	typeStr, _ := m["type"].(string)
	return condition.Predicate{Type: typeStr, Left: m["left"], Right: m["right"], Value: m["value"]}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
