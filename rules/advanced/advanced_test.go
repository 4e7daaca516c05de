package advanced

import (
	"context"
	"testing"
	"time"

	"github.com/lancejames221b/playbook-engine/rules"
)

func baseAdvanced(id string, t rules.AdvancedType) *rules.AdvancedRule {
	return &rules.AdvancedRule{
		Rule:         rules.Rule{ID: id, Name: id, Status: rules.StatusActive},
		AdvancedType: t,
	}
}

func TestDispatchConditional_FiresAndRespectsCooldown(t *testing.T) {
	r := baseAdvanced("cond", rules.AdvancedConditional)
	r.Conditional = &rules.ConditionalConfig{
		Expression:      rules.RuleCondition{Field: "load", Operator: rules.OpGt, Value: 0.8},
		CooldownSeconds: 60,
	}
	r.Actions = []rules.RuleAction{{ActionType: rules.ActionSet, Target: "scale", Value: true}}

	d := New()
	now := time.Now()
	out, err := d.Dispatch(context.Background(), r, map[string]interface{}{"load": 0.9}, now)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.Fired {
		t.Fatalf("expected fire, got %+v", out)
	}

	out2, err := d.Dispatch(context.Background(), r, map[string]interface{}{"load": 0.95}, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out2.Fired {
		t.Errorf("expected cooldown to suppress second fire, got %+v", out2)
	}
}

func TestDispatchTimeBased_MatchesCurrentMinuteWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	r := baseAdvanced("cron1", rules.AdvancedTimeBased)
	r.TimeBased = &rules.TimeBasedConfig{CronExpression: "30 9 * * *", MaxExecutions: 2}

	d := New()
	out, err := d.Dispatch(context.Background(), r, nil, now)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.Fired {
		t.Fatalf("expected fire at matching minute window, got %+v", out)
	}

	outOff := mustDispatchOffWindow(t, d, r, now.Add(17*time.Minute))
	if outOff.Fired {
		t.Errorf("expected no fire outside the cron window, got %+v", outOff)
	}
}

func mustDispatchOffWindow(t *testing.T, d *Dispatcher, r *rules.AdvancedRule, now time.Time) *Outcome {
	t.Helper()
	out, err := d.Dispatch(context.Background(), r, nil, now)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	return out
}

func TestDispatchTimeBased_RespectsMaxExecutions(t *testing.T) {
	r := baseAdvanced("cron2", rules.AdvancedTimeBased)
	r.TimeBased = &rules.TimeBasedConfig{CronExpression: "* * * * *", MaxExecutions: 1}

	d := New()
	now := time.Now()
	first, err := d.Dispatch(context.Background(), r, nil, now)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !first.Fired {
		t.Fatalf("expected first fire, got %+v", first)
	}
	second, err := d.Dispatch(context.Background(), r, nil, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if second.Fired {
		t.Errorf("expected max_executions to suppress second fire, got %+v", second)
	}
}

func TestDispatchContextAware_ThresholdGate(t *testing.T) {
	r := baseAdvanced("ctx", rules.AdvancedContextAware)
	r.ContextAware = &rules.ContextAwareConfig{Threshold: 0.5}

	d := New()
	below, _ := d.Dispatch(context.Background(), r, map[string]interface{}{"adaptation_score": 0.3}, time.Now())
	if below.Fired {
		t.Errorf("expected no fire below threshold, got %+v", below)
	}
	above, _ := d.Dispatch(context.Background(), r, map[string]interface{}{"adaptation_score": 0.9}, time.Now())
	if !above.Fired {
		t.Errorf("expected fire above threshold, got %+v", above)
	}
}

func TestDispatchSecurityAdaptive_BucketsThreatLevel(t *testing.T) {
	r := baseAdvanced("sec", rules.AdvancedSecurityAdaptive)
	r.SecurityAdaptive = &rules.SecurityAdaptiveConfig{
		HighActions:     []rules.RuleAction{{ActionType: rules.ActionBlock, Target: "api"}},
		CriticalActions: []rules.RuleAction{{ActionType: rules.ActionBlock, Target: "all"}},
		Escalate:        true,
	}

	d := New()
	high, err := d.Dispatch(context.Background(), r, map[string]interface{}{"threat_level": 0.75}, time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(high.Actions) != 1 || high.Actions[0].Target != "api" {
		t.Errorf("high bucket actions = %+v, want api block", high.Actions)
	}

	critical, _ := d.Dispatch(context.Background(), r, map[string]interface{}{"threat_level": 0.95}, time.Now())
	if len(critical.Actions) != 1 || critical.Actions[0].Target != "all" {
		t.Errorf("critical bucket actions = %+v, want all block", critical.Actions)
	}
}

func TestDispatchCompliance_DelegatesToAuditor(t *testing.T) {
	auditor := fakeAuditor{findings: []rules.ValidationResult{{Level: rules.LevelError, Category: rules.CategoryCompatibility, Message: "nope"}}}
	d := New(WithComplianceAuditor(auditor))
	r := baseAdvanced("comp", rules.AdvancedCompliance)
	r.Compliance = &rules.ComplianceConfig{Framework: "soc2", ControlID: "cc1"}

	out, err := d.Dispatch(context.Background(), r, nil, time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Fired {
		t.Errorf("expected no fire when auditor reports findings, got %+v", out)
	}
	if len(out.Validation) != 1 {
		t.Errorf("validation = %+v, want one finding", out.Validation)
	}
}

type fakeAuditor struct {
	findings []rules.ValidationResult
}

func (f fakeAuditor) Audit(ctx context.Context, rule *rules.AdvancedRule, ruleCtx map[string]interface{}) ([]rules.ValidationResult, error) {
	return f.findings, nil
}

type fakeCascader struct {
	scheduled bool
}

func (f *fakeCascader) Schedule(ctx context.Context, ruleIDs []string, delay time.Duration, contextOverride map[string]interface{}) error {
	f.scheduled = true
	return nil
}

func TestDispatchCascading_DelegatesToCascader(t *testing.T) {
	casc := &fakeCascader{}
	d := New(WithCascader(casc))
	r := baseAdvanced("casc", rules.AdvancedCascading)
	r.Cascading = &rules.CascadingConfig{TargetRuleIDs: []string{"other"}, DelaySeconds: 5}

	out, err := d.Dispatch(context.Background(), r, nil, time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.Fired || !casc.scheduled {
		t.Errorf("expected cascade scheduled, got out=%+v scheduled=%v", out, casc.scheduled)
	}
}
