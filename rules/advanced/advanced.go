// Package advanced dispatches the six advanced-rule lanes the governance
// engine supports beyond plain conditional matching: conditional (with
// cooldown), cascading, time-based (cron), context-aware, compliance, and
// security-adaptive.
package advanced

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/rules"
)

// ComplianceAuditor is the minimal collaborator interface the compliance
// lane delegates to; a host wires in its own implementation.
type ComplianceAuditor interface {
	Audit(ctx context.Context, rule *rules.AdvancedRule, ruleCtx map[string]interface{}) ([]rules.ValidationResult, error)
}

// noopAuditor reports no findings; the default when no auditor is wired.
type noopAuditor struct{}

func (noopAuditor) Audit(ctx context.Context, rule *rules.AdvancedRule, ruleCtx map[string]interface{}) ([]rules.ValidationResult, error) {
	return nil, nil
}

// Cascader schedules a delayed follow-up evaluation; a host wires this to
// its own job queue or timer.
type Cascader interface {
	Schedule(ctx context.Context, ruleIDs []string, delay time.Duration, contextOverride map[string]interface{}) error
}

// noopCascader drops cascades silently.
type noopCascader struct{}

func (noopCascader) Schedule(ctx context.Context, ruleIDs []string, delay time.Duration, contextOverride map[string]interface{}) error {
	return nil
}

// Outcome is the result of dispatching one AdvancedRule.
type Outcome struct {
	RuleID     string
	Fired      bool
	Actions    []rules.RuleAction
	Validation []rules.ValidationResult
	Reason     string
}

// Dispatcher routes an AdvancedRule to its lane handler and tracks
// per-rule trigger state (cooldowns, execution counts).
type Dispatcher struct {
	mu        sync.Mutex
	auditor   ComplianceAuditor
	cascader  Cascader
	logger    core.Logger
	lastFired map[string]time.Time
	execCount map[string]int
	cronCache map[string]cron.Schedule
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithComplianceAuditor wires a ComplianceAuditor for the compliance lane.
func WithComplianceAuditor(a ComplianceAuditor) Option {
	return func(d *Dispatcher) { d.auditor = a }
}

// WithCascader wires a Cascader for the cascading lane.
func WithCascader(c Cascader) Option {
	return func(d *Dispatcher) { d.cascader = c }
}

// WithLogger sets the Dispatcher's structured logger.
func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New builds a Dispatcher with no-op collaborators until overridden.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		auditor:   noopAuditor{},
		cascader:  noopCascader{},
		logger:    &core.NoOpLogger{},
		lastFired: make(map[string]time.Time),
		execCount: make(map[string]int),
		cronCache: make(map[string]cron.Schedule),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes rule to its advanced-type lane.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *rules.AdvancedRule, ruleCtx map[string]interface{}, now time.Time) (*Outcome, error) {
	switch rule.AdvancedType {
	case rules.AdvancedConditional:
		return d.dispatchConditional(rule, ruleCtx, now)
	case rules.AdvancedCascading:
		return d.dispatchCascading(ctx, rule, ruleCtx)
	case rules.AdvancedTimeBased:
		return d.dispatchTimeBased(rule, now)
	case rules.AdvancedContextAware:
		return d.dispatchContextAware(rule, ruleCtx)
	case rules.AdvancedCompliance:
		return d.dispatchCompliance(ctx, rule, ruleCtx)
	case rules.AdvancedSecurityAdaptive:
		return d.dispatchSecurityAdaptive(rule, ruleCtx)
	default:
		return nil, fmt.Errorf("advanced: unknown advanced_type %q for rule %s", rule.AdvancedType, rule.ID)
	}
}

func (d *Dispatcher) dispatchConditional(rule *rules.AdvancedRule, ruleCtx map[string]interface{}, now time.Time) (*Outcome, error) {
	if rule.Conditional == nil {
		return nil, fmt.Errorf("advanced: rule %s missing conditional config", rule.ID)
	}
	d.mu.Lock()
	last, ok := d.lastFired[rule.ID]
	d.mu.Unlock()
	if ok && rule.Conditional.CooldownSeconds > 0 {
		if now.Sub(last) < time.Duration(rule.Conditional.CooldownSeconds*float64(time.Second)) {
			return &Outcome{RuleID: rule.ID, Fired: false, Reason: "cooldown active"}, nil
		}
	}
	if !matchExpression(rule.Conditional.Expression, ruleCtx) {
		return &Outcome{RuleID: rule.ID, Fired: false, Reason: "condition not met"}, nil
	}
	d.mu.Lock()
	d.lastFired[rule.ID] = now
	d.mu.Unlock()
	return &Outcome{RuleID: rule.ID, Fired: true, Actions: rule.Actions}, nil
}

func (d *Dispatcher) dispatchCascading(ctx context.Context, rule *rules.AdvancedRule, ruleCtx map[string]interface{}) (*Outcome, error) {
	if rule.Cascading == nil {
		return nil, fmt.Errorf("advanced: rule %s missing cascading config", rule.ID)
	}
	delay := time.Duration(rule.Cascading.DelaySeconds * float64(time.Second))
	override := rule.Cascading.ContextOverride
	if override == nil {
		override = ruleCtx
	}
	if err := d.cascader.Schedule(ctx, rule.Cascading.TargetRuleIDs, delay, override); err != nil {
		return nil, fmt.Errorf("advanced: schedule cascade for %s: %w", rule.ID, err)
	}
	return &Outcome{RuleID: rule.ID, Fired: true, Actions: rule.Actions, Reason: "cascade scheduled"}, nil
}

func (d *Dispatcher) dispatchTimeBased(rule *rules.AdvancedRule, now time.Time) (*Outcome, error) {
	if rule.TimeBased == nil {
		return nil, fmt.Errorf("advanced: rule %s missing time_based config", rule.ID)
	}
	d.mu.Lock()
	count := d.execCount[rule.ID]
	d.mu.Unlock()
	if rule.TimeBased.MaxExecutions > 0 && count >= rule.TimeBased.MaxExecutions {
		return &Outcome{RuleID: rule.ID, Fired: false, Reason: "max_executions reached"}, nil
	}

	schedule, err := d.scheduleFor(rule.TimeBased.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("advanced: parse cron for rule %s: %w", rule.ID, err)
	}
	windowStart := now.Truncate(time.Minute)
	next := schedule.Next(windowStart.Add(-time.Second))
	if !next.Truncate(time.Minute).Equal(windowStart) {
		return &Outcome{RuleID: rule.ID, Fired: false, Reason: "not in current cron window"}, nil
	}

	d.mu.Lock()
	d.execCount[rule.ID]++
	d.mu.Unlock()
	return &Outcome{RuleID: rule.ID, Fired: true, Actions: rule.Actions}, nil
}

func (d *Dispatcher) scheduleFor(expr string) (cron.Schedule, error) {
	d.mu.Lock()
	if s, ok := d.cronCache[expr]; ok {
		d.mu.Unlock()
		return s, nil
	}
	d.mu.Unlock()

	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.cronCache[expr] = s
	d.mu.Unlock()
	return s, nil
}

func (d *Dispatcher) dispatchContextAware(rule *rules.AdvancedRule, ruleCtx map[string]interface{}) (*Outcome, error) {
	if rule.ContextAware == nil {
		return nil, fmt.Errorf("advanced: rule %s missing context_aware config", rule.ID)
	}
	score, _ := asFloat(ruleCtx["adaptation_score"])
	if score < rule.ContextAware.Threshold {
		return &Outcome{RuleID: rule.ID, Fired: false, Reason: "below adaptation threshold"}, nil
	}
	return &Outcome{RuleID: rule.ID, Fired: true, Actions: rule.Actions}, nil
}

func (d *Dispatcher) dispatchCompliance(ctx context.Context, rule *rules.AdvancedRule, ruleCtx map[string]interface{}) (*Outcome, error) {
	if rule.Compliance == nil {
		return nil, fmt.Errorf("advanced: rule %s missing compliance config", rule.ID)
	}
	findings, err := d.auditor.Audit(ctx, rule, ruleCtx)
	if err != nil {
		return nil, fmt.Errorf("advanced: compliance audit for %s: %w", rule.ID, err)
	}
	fired := len(findings) == 0
	return &Outcome{RuleID: rule.ID, Fired: fired, Actions: rule.Actions, Validation: findings}, nil
}

// securityBucket buckets a 0..1 threat level: low < 0.5, medium < 0.7,
// high < 0.9, critical otherwise.
func securityBucket(level float64) string {
	switch {
	case level < 0.5:
		return "low"
	case level < 0.7:
		return "medium"
	case level < 0.9:
		return "high"
	default:
		return "critical"
	}
}

func (d *Dispatcher) dispatchSecurityAdaptive(rule *rules.AdvancedRule, ruleCtx map[string]interface{}) (*Outcome, error) {
	if rule.SecurityAdaptive == nil {
		return nil, fmt.Errorf("advanced: rule %s missing security_adaptive config", rule.ID)
	}
	level, _ := asFloat(ruleCtx["threat_level"])
	bucket := securityBucket(level)

	var actions []rules.RuleAction
	switch bucket {
	case "low":
		actions = rule.SecurityAdaptive.LowActions
	case "medium":
		actions = rule.SecurityAdaptive.MediumActions
	case "high":
		actions = rule.SecurityAdaptive.HighActions
	case "critical":
		actions = rule.SecurityAdaptive.CriticalActions
	}
	reason := "threat bucket " + bucket
	if rule.SecurityAdaptive.Escalate && (bucket == "high" || bucket == "critical") {
		reason += " (escalated)"
	}
	return &Outcome{RuleID: rule.ID, Fired: len(actions) > 0, Actions: actions, Reason: reason}, nil
}

func matchExpression(expr rules.RuleCondition, ruleCtx map[string]interface{}) bool {
	actual, present := ruleCtx[expr.Field]
	switch expr.Operator {
	case rules.OpExists:
		return present
	case rules.OpNotExists:
		return !present
	case rules.OpEq:
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expr.Value)
	case rules.OpNe:
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expr.Value)
	case rules.OpGt, rules.OpLt, rules.OpGte, rules.OpLte:
		a, aok := asFloat(actual)
		b, bok := asFloat(expr.Value)
		if !aok || !bok {
			return false
		}
		switch expr.Operator {
		case rules.OpGt:
			return a > b
		case rules.OpLt:
			return a < b
		case rules.OpGte:
			return a >= b
		default:
			return a <= b
		}
	default:
		return false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}
