package evaluate

import (
	"context"
	"testing"
	"time"

	"github.com/lancejames221b/playbook-engine/rules"
)

type fakeStore struct {
	active      []*rules.Rule
	evaluations []rules.RuleEvaluation
	conflicts   []rules.RuleConflict
}

func (f *fakeStore) ListActiveRules(ctx context.Context) ([]*rules.Rule, error) { return f.active, nil }
func (f *fakeStore) RecordEvaluation(ctx context.Context, e rules.RuleEvaluation) error {
	f.evaluations = append(f.evaluations, e)
	return nil
}
func (f *fakeStore) RecordConflict(ctx context.Context, c rules.RuleConflict) error {
	f.conflicts = append(f.conflicts, c)
	return nil
}

func baseRule(id string, priority int) *rules.Rule {
	return &rules.Rule{
		ID: id, Name: id, Status: rules.StatusActive, Scope: rules.ScopeGlobal,
		Priority: priority, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
}

func TestEvaluate_NoConditionsAlwaysMatches(t *testing.T) {
	r := baseRule("r1", rules.PriorityNormal)
	r.Actions = []rules.RuleAction{{ActionType: rules.ActionSet, Target: "max_retries", Value: 3}}
	store := &fakeStore{active: []*rules.Rule{r}}

	result, err := New(store).Evaluate(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Values["max_retries"] != 3 {
		t.Errorf("max_retries = %v, want 3", result.Values["max_retries"])
	}
	if len(result.Applications) != 1 || result.Applications[0].RuleID != "r1" {
		t.Errorf("applications = %+v, want one entry from r1", result.Applications)
	}
}

func TestEvaluate_ConditionMismatchSkipsRule(t *testing.T) {
	r := baseRule("r1", rules.PriorityNormal)
	r.Conditions = []rules.RuleCondition{{Field: "env", Operator: rules.OpEq, Value: "production"}}
	r.Actions = []rules.RuleAction{{ActionType: rules.ActionSet, Target: "x", Value: 1}}
	store := &fakeStore{active: []*rules.Rule{r}}

	result, err := New(store).Evaluate(context.Background(), map[string]interface{}{"env": "staging"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Values["x"]; ok {
		t.Errorf("rule should not have matched, but x was set")
	}
	if len(store.evaluations) != 1 || store.evaluations[0].Matched {
		t.Errorf("expected one unmatched evaluation record, got %+v", store.evaluations)
	}
}

func TestEvaluate_HighestPriorityWinsConflict(t *testing.T) {
	low := baseRule("low", rules.PriorityLow)
	low.Actions = []rules.RuleAction{{ActionType: rules.ActionSet, Target: "timeout", Value: 10}}
	high := baseRule("high", rules.PriorityCritical)
	high.Actions = []rules.RuleAction{{ActionType: rules.ActionSet, Target: "timeout", Value: 60}}
	store := &fakeStore{active: []*rules.Rule{low, high}}

	result, err := New(store).Evaluate(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Values["timeout"] != 60 {
		t.Errorf("timeout = %v, want 60 (highest priority)", result.Values["timeout"])
	}
	if len(store.conflicts) != 1 || store.conflicts[0].WinnerID != "high" {
		t.Errorf("conflicts = %+v, want winner high", store.conflicts)
	}
}

func TestEvaluate_MostSpecificOverridesPriority(t *testing.T) {
	global := baseRule("global", rules.PriorityCritical)
	global.ConflictResolution = rules.ResolveMostSpecific
	global.Actions = []rules.RuleAction{{ActionType: rules.ActionSet, Target: "x", Value: "global"}}
	session := baseRule("session", rules.PriorityLow)
	session.Scope = rules.ScopeSession
	session.ConflictResolution = rules.ResolveMostSpecific
	session.Actions = []rules.RuleAction{{ActionType: rules.ActionSet, Target: "x", Value: "session"}}
	store := &fakeStore{active: []*rules.Rule{global, session}}

	result, err := New(store).Evaluate(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Values["x"] != "session" {
		t.Errorf("x = %v, want session (most specific scope)", result.Values["x"])
	}
}

func TestEvaluate_BlockActionRecordedSeparately(t *testing.T) {
	r := baseRule("blocker", rules.PriorityNormal)
	r.Actions = []rules.RuleAction{{ActionType: rules.ActionBlock, Target: "deploy"}}
	store := &fakeStore{active: []*rules.Rule{r}}

	result, err := New(store).Evaluate(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Blocked) != 1 || result.Blocked[0] != "deploy" {
		t.Errorf("blocked = %v, want [deploy]", result.Blocked)
	}
	if _, ok := result.Values["deploy"]; ok {
		t.Errorf("blocked target should not appear in values")
	}
}

func TestEvaluate_AppendAccumulates(t *testing.T) {
	r1 := baseRule("r1", rules.PriorityNormal)
	r1.Actions = []rules.RuleAction{{ActionType: rules.ActionAppend, Target: "tags", Value: "a"}}
	store := &fakeStore{active: []*rules.Rule{r1}}

	result, err := New(store).Evaluate(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, ok := result.Values["tags"].([]interface{})
	if !ok || len(list) != 1 || list[0] != "a" {
		t.Errorf("tags = %v, want [a]", result.Values["tags"])
	}
}
