package inherit

import (
	"context"
	"testing"

	"github.com/lancejames221b/playbook-engine/rules"
)

type fakeStore struct {
	byID map[string]*rules.Rule
}

func (f *fakeStore) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, context.Canceled
	}
	return r, nil
}

func TestResolve_MergesParentAndChild(t *testing.T) {
	parent := &rules.Rule{
		ID: "parent", Scope: rules.ScopeGlobal,
		Conditions: []rules.RuleCondition{{Field: "env", Operator: rules.OpEq, Value: "prod"}},
		Actions:    []rules.RuleAction{{ActionType: rules.ActionSet, Target: "timeout", Value: 10}},
		Tags:       []string{"base"},
	}
	child := &rules.Rule{
		ID: "child", ParentRuleID: "parent", Scope: rules.ScopeProject,
		Actions: []rules.RuleAction{{ActionType: rules.ActionSet, Target: "timeout", Value: 30}},
		Tags:    []string{"override"},
	}
	store := &fakeStore{byID: map[string]*rules.Rule{"parent": parent, "child": child}}

	merged, warnings, err := New(store).Resolve(context.Background(), child)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none for a 1-level chain", warnings)
	}
	if len(merged.Conditions) != 1 || merged.Conditions[0].Field != "env" {
		t.Errorf("conditions = %+v, want inherited from parent", merged.Conditions)
	}
	var timeout interface{}
	for _, a := range merged.Actions {
		if a.Target == "timeout" {
			timeout = a.Value
		}
	}
	if timeout != 30 {
		t.Errorf("timeout = %v, want 30 (child wins)", timeout)
	}
	if len(merged.Tags) != 2 {
		t.Errorf("tags = %v, want union of base+override", merged.Tags)
	}
	if merged.Metadata["inherited_from"] != "parent" {
		t.Errorf("metadata.inherited_from = %v, want parent", merged.Metadata["inherited_from"])
	}
}

func TestResolve_DetectsCycle(t *testing.T) {
	a := &rules.Rule{ID: "a", ParentRuleID: "b"}
	b := &rules.Rule{ID: "b", ParentRuleID: "a"}
	store := &fakeStore{byID: map[string]*rules.Rule{"a": a, "b": b}}

	_, _, err := New(store).Resolve(context.Background(), a)
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestResolve_WarnsOnDeepChain(t *testing.T) {
	store := &fakeStore{byID: map[string]*rules.Rule{}}
	prev := ""
	var head *rules.Rule
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		r := &rules.Rule{ID: id, ParentRuleID: prev}
		store.byID[id] = r
		prev = id
		head = r
	}

	_, warnings, err := New(store).Resolve(context.Background(), head)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one deep-chain warning", warnings)
	}
}

func TestLayerScopes_SessionOverridesGlobal(t *testing.T) {
	global := &rules.Rule{ID: "g", Scope: rules.ScopeGlobal, Actions: []rules.RuleAction{{ActionType: rules.ActionSet, Target: "x", Value: "global"}}}
	session := &rules.Rule{ID: "s", Scope: rules.ScopeSession, Actions: []rules.RuleAction{{ActionType: rules.ActionSet, Target: "x", Value: "session"}}}

	merged := LayerScopes([]ScopedRule{
		{Rule: global, ScopeType: rules.ScopeGlobal},
		{Rule: session, ScopeType: rules.ScopeSession},
	})
	var x interface{}
	for _, a := range merged.Actions {
		if a.Target == "x" {
			x = a.Value
		}
	}
	if x != "session" {
		t.Errorf("x = %v, want session", x)
	}
}

func TestValidateCrossScope_RejectsUpInheritance(t *testing.T) {
	sessionRule := &rules.Rule{ID: "r", Scope: rules.ScopeSession}
	if err := ValidateCrossScope(sessionRule, rules.ScopeGlobal); err == nil {
		t.Error("expected error assigning a session-scoped rule at global scope")
	}
	globalRule := &rules.Rule{ID: "r2", Scope: rules.ScopeGlobal}
	if err := ValidateCrossScope(globalRule, rules.ScopeSession); err != nil {
		t.Errorf("global rule assigned at session scope should be allowed: %v", err)
	}
}
