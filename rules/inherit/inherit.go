// Package inherit resolves rule inheritance and scope overrides: merging
// a rule with its parent_rule_id ancestry, and layering assignments across
// scopes from global down to session.
package inherit

import (
	"context"
	"fmt"

	"github.com/lancejames221b/playbook-engine/rules"
)

// ruleStore is the subset of rules.Store the resolver depends on.
type ruleStore interface {
	GetRule(ctx context.Context, id string) (*rules.Rule, error)
}

// maxChainDepth is the chain length past which Resolve records a warning
// rather than failing outright.
const maxChainDepth = 3

// Resolver materializes a rule's effective body by folding in its
// parent_rule_id ancestry.
type Resolver struct {
	store ruleStore
}

// New builds a Resolver backed by store.
func New(store ruleStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve walks r's parent_rule_id chain (child wins on conflicts) and
// returns the materialized rule plus any warnings (e.g. chain depth > 3).
func (rs *Resolver) Resolve(ctx context.Context, r *rules.Rule) (*rules.Rule, []string, error) {
	visited := map[string]bool{r.ID: true}
	chain := []*rules.Rule{r}
	current := r
	depth := 0

	for current.ParentRuleID != "" {
		if visited[current.ParentRuleID] {
			return nil, nil, fmt.Errorf("inherit: cycle detected involving rule %s", current.ParentRuleID)
		}
		parent, err := rs.store.GetRule(ctx, current.ParentRuleID)
		if err != nil {
			return nil, nil, fmt.Errorf("inherit: resolve parent %s: %w", current.ParentRuleID, err)
		}
		visited[parent.ID] = true
		chain = append(chain, parent)
		current = parent
		depth++
	}

	var warnings []string
	if depth > maxChainDepth {
		warnings = append(warnings, fmt.Sprintf("inheritance chain for rule %s exceeds %d levels (depth %d)", r.ID, maxChainDepth, depth))
	}

	// chain[0] is the most specific (child); fold from oldest ancestor
	// forward so each step's child-wins merge sees the correct precedence.
	merged := chain[len(chain)-1]
	for i := len(chain) - 2; i >= 0; i-- {
		merged = merge(merged, chain[i])
	}
	return merged, warnings, nil
}

// merge folds child over parent: conditions AND-combine (deduped by
// field+operator, child wins on a clash), actions union per target
// (child wins on a clash), tags unite, metadata shallow-merges with
// child winning, and metadata.inherited_from records the parent.
func merge(parent, child *rules.Rule) *rules.Rule {
	out := *child

	condByKey := make(map[string]rules.RuleCondition)
	for _, c := range parent.Conditions {
		condByKey[condKey(c)] = c
	}
	for _, c := range child.Conditions {
		condByKey[condKey(c)] = c
	}
	out.Conditions = make([]rules.RuleCondition, 0, len(condByKey))
	for _, c := range condByKey {
		out.Conditions = append(out.Conditions, c)
	}

	actByTarget := make(map[string]rules.RuleAction)
	for _, a := range parent.Actions {
		actByTarget[a.Target] = a
	}
	for _, a := range child.Actions {
		actByTarget[a.Target] = a
	}
	out.Actions = make([]rules.RuleAction, 0, len(actByTarget))
	for _, a := range actByTarget {
		out.Actions = append(out.Actions, a)
	}

	tagSet := make(map[string]bool)
	for _, t := range parent.Tags {
		tagSet[t] = true
	}
	for _, t := range child.Tags {
		tagSet[t] = true
	}
	out.Tags = make([]string, 0, len(tagSet))
	for t := range tagSet {
		out.Tags = append(out.Tags, t)
	}

	meta := make(map[string]interface{}, len(parent.Metadata)+len(child.Metadata)+1)
	for k, v := range parent.Metadata {
		meta[k] = v
	}
	for k, v := range child.Metadata {
		meta[k] = v
	}
	meta["inherited_from"] = parent.ID
	out.Metadata = meta

	return &out
}

func condKey(c rules.RuleCondition) string {
	return string(c.Operator) + "|" + c.Field
}

// ScopedRule pairs a rule with the scope assignment that selected it, so
// LayerScopes can report which binding won.
type ScopedRule struct {
	Rule      *rules.Rule
	ScopeType rules.Scope
}

// LayerScopes merges a set of per-scope candidate rules (same rule id
// space, one entry per scope that has a binding) from most general to
// most specific: global, then project, then machine, then agent, then
// session, with each later layer's actions/conditions overriding the
// earlier ones via merge. candidates need not cover every scope.
func LayerScopes(candidates []ScopedRule) *rules.Rule {
	if len(candidates) == 0 {
		return nil
	}
	order := []rules.Scope{rules.ScopeGlobal, rules.ScopeProject, rules.ScopeMachine, rules.ScopeAgent, rules.ScopeSession}
	byScope := make(map[rules.Scope]*rules.Rule, len(candidates))
	for _, c := range candidates {
		byScope[c.ScopeType] = c.Rule
	}

	var result *rules.Rule
	for _, scope := range order {
		r, ok := byScope[scope]
		if !ok {
			continue
		}
		if result == nil {
			result = r
		} else {
			result = merge(result, r)
		}
	}
	return result
}

// ValidateCrossScope rejects an assignment that binds a rule whose own
// declared scope is more specific than the scope instance it is being
// assigned to (a session-scoped rule cannot be assigned at project or
// global scope) — up-inheritance across
// scopes is rejected, down-inheritance (a global rule assigned at
// session level) is allowed.
func ValidateCrossScope(rule *rules.Rule, assignScope rules.Scope) error {
	if rule.Scope.Rank() > assignScope.Rank() {
		return fmt.Errorf("inherit: rule %s scoped to %s cannot be assigned at broader scope %s", rule.ID, rule.Scope, assignScope)
	}
	return nil
}
