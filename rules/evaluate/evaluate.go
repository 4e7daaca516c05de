// Package evaluate implements the rule evaluator: matching active rules
// against a context, resolving action conflicts on a shared target, and
// folding the winners into a result document.
package evaluate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/rules"
)

// ruleStore is the subset of rules.Store the evaluator depends on,
// narrowed so tests can supply an in-memory fake.
type ruleStore interface {
	ListActiveRules(ctx context.Context) ([]*rules.Rule, error)
	RecordEvaluation(ctx context.Context, e rules.RuleEvaluation) error
	RecordConflict(ctx context.Context, c rules.RuleConflict) error
}

// Evaluator matches rules against a context and folds their actions into
// a result document.
type Evaluator struct {
	store  ruleStore
	logger core.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the Evaluator's structured logger.
func WithLogger(logger core.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// New builds an Evaluator backed by store.
func New(store ruleStore, opts ...Option) *Evaluator {
	e := &Evaluator{store: store, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RuleApplication records which rule contributed to a target's final value
// in the result's "_rule_applications" entry.
type RuleApplication struct {
	RuleID     string `json:"rule_id"`
	Target     string `json:"target"`
	ActionType string `json:"action_type"`
}

// Result is the folded outcome of one evaluation pass.
type Result struct {
	Values       map[string]interface{} `json:"values"`
	Applications []RuleApplication       `json:"_rule_applications"`
	Blocked      []string                `json:"blocked,omitempty"`
}

// Evaluate runs the evaluation algorithm: fetch active rules, match
// conditions, group matching actions by target, resolve conflicts per
// target, fold the winner via its apply_action semantics, and record an
// analytics row per rule considered.
func (e *Evaluator) Evaluate(ctx context.Context, ruleCtx map[string]interface{}) (*Result, error) {
	start := time.Now()
	active, err := e.store.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate: list active rules: %w", err)
	}

	hash := contextHash(ruleCtx)
	now := time.Now()

	type candidate struct {
		rule   *rules.Rule
		action rules.RuleAction
	}
	byTarget := make(map[string][]candidate)

	for _, r := range active {
		if !r.Applicable(now) {
			continue
		}
		matched := matchConditions(r.Conditions, ruleCtx)
		if recErr := e.store.RecordEvaluation(ctx, rules.RuleEvaluation{
			ID: uuid.NewString(), RuleID: r.ID, ContextHash: hash,
			Matched: matched, Duration: time.Since(start), CreatedAt: now,
		}); recErr != nil {
			e.logger.Warn("failed to record rule evaluation", map[string]interface{}{"rule_id": r.ID, "error": recErr.Error()})
		}
		if !matched {
			continue
		}
		for _, a := range r.Actions {
			byTarget[a.Target] = append(byTarget[a.Target], candidate{rule: r, action: a})
		}
	}

	result := &Result{Values: make(map[string]interface{})}
	targets := make([]string, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, target := range targets {
		cands := byTarget[target]
		winner := resolveConflict(cands, func(c candidate) *rules.Rule { return c.rule })
		winnerRule := cands[winner].rule
		winnerAction := cands[winner].action

		if len(cands) > 1 {
			var losers []string
			for i, c := range cands {
				if i != winner {
					losers = append(losers, c.rule.ID)
				}
			}
			resolution := winnerRule.ConflictResolution
			if resolution == "" {
				resolution = rules.ResolveHighestPriority
			}
			if recErr := e.store.RecordConflict(ctx, rules.RuleConflict{
				ID: uuid.NewString(), Target: target, WinnerID: winnerRule.ID,
				LoserIDs: losers, Resolution: resolution, CreatedAt: now,
			}); recErr != nil {
				e.logger.Warn("failed to record rule conflict", map[string]interface{}{"target": target, "error": recErr.Error()})
			}
		}

		if winnerAction.ActionType == rules.ActionBlock {
			result.Blocked = append(result.Blocked, target)
			continue
		}
		applyAction(result.Values, target, winnerAction)
		result.Applications = append(result.Applications, RuleApplication{
			RuleID: winnerRule.ID, Target: target, ActionType: string(winnerAction.ActionType),
		})
	}

	return result, nil
}

// matchConditions reports whether every condition passes (AND semantics);
// a rule with zero conditions always matches.
func matchConditions(conds []rules.RuleCondition, ctx map[string]interface{}) bool {
	for _, c := range conds {
		if !matchOne(c, ctx) {
			return false
		}
	}
	return true
}

func matchOne(c rules.RuleCondition, ctx map[string]interface{}) bool {
	actual, present := ctx[c.Field]
	switch c.Operator {
	case rules.OpExists:
		return present
	case rules.OpNotExists:
		return !present
	case rules.OpEq:
		return stringify(actual, c.CaseSensitive) == stringify(c.Value, c.CaseSensitive)
	case rules.OpNe:
		return stringify(actual, c.CaseSensitive) != stringify(c.Value, c.CaseSensitive)
	case rules.OpContains:
		return strings.Contains(stringify(actual, c.CaseSensitive), stringify(c.Value, c.CaseSensitive))
	case rules.OpStartsWith:
		return strings.HasPrefix(stringify(actual, c.CaseSensitive), stringify(c.Value, c.CaseSensitive))
	case rules.OpEndsWith:
		return strings.HasSuffix(stringify(actual, c.CaseSensitive), stringify(c.Value, c.CaseSensitive))
	case rules.OpRegex:
		re, err := regexp.Compile(fmt.Sprintf("%v", c.Value))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", actual))
	case rules.OpIn:
		list, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, v := range list {
			if stringify(actual, c.CaseSensitive) == stringify(v, c.CaseSensitive) {
				return true
			}
		}
		return false
	case rules.OpGt, rules.OpLt, rules.OpGte, rules.OpLte:
		a, aok := asFloat(actual)
		b, bok := asFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Operator {
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

// resolveConflict picks the winning candidate index among same-target
// actions. Each candidate is compared against the current best using the
// candidate's own conflict_resolution: most_specific prefers the narrower
// scope and latest_created the newer created_at. When that comparison is
// equal, or the candidate names no strategy or highest_priority, the
// higher priority wins and equal priorities go to the newer created_at.
func resolveConflict[T any](cands []T, ruleOf func(T) *rules.Rule) int {
	best := 0
	for i := 1; i < len(cands); i++ {
		if better(ruleOf(cands[i]), ruleOf(cands[best])) {
			best = i
		}
	}
	return best
}

func better(a, b *rules.Rule) bool {
	strategy := a.ConflictResolution
	if strategy == "" {
		strategy = rules.ResolveHighestPriority
	}
	switch strategy {
	case rules.ResolveMostSpecific:
		if a.Scope.Rank() != b.Scope.Rank() {
			return a.Scope.Rank() > b.Scope.Rank()
		}
	case rules.ResolveLatestCreated:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// applyAction folds one action into the result's values map per its
// apply_action semantics.
func applyAction(values map[string]interface{}, target string, action rules.RuleAction) {
	switch action.ActionType {
	case rules.ActionSet:
		values[target] = action.Value
	case rules.ActionAppend:
		existing, _ := values[target].([]interface{})
		values[target] = append(existing, action.Value)
	case rules.ActionMerge:
		existing, ok := values[target].(map[string]interface{})
		if !ok {
			existing = make(map[string]interface{})
		}
		if incoming, ok := action.Value.(map[string]interface{}); ok {
			for k, v := range incoming {
				existing[k] = v
			}
		}
		values[target] = existing
	case rules.ActionValidate, rules.ActionTransform, rules.ActionInvoke:
		values[target] = action.Value
	}
}

func contextHash(ctx map[string]interface{}) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]interface{}, len(ctx))
	for _, k := range keys {
		ordered[k] = ctx[k]
	}
	b, _ := json.Marshal(ordered)
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func stringify(v interface{}, caseSensitive bool) string {
	s := fmt.Sprintf("%v", v)
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
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
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
