package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lancejames221b/playbook-engine/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Rule{ID: "r1", Name: "first", Scope: ScopeGlobal, Priority: PriorityNormal}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if r.Version != 1 {
		t.Errorf("Version = %d, want 1", r.Version)
	}

	got, err := s.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Name != "first" || got.Status != StatusActive {
		t.Errorf("got = %+v", got)
	}
}

func TestGetRule_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRule(context.Background(), "missing")
	if !errors.Is(err, core.ErrRuleNotFound) {
		t.Errorf("err = %v, want ErrRuleNotFound", err)
	}
}

func TestUpdateRule_IncrementsVersionAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := &Rule{ID: "r1", Name: "first", Scope: ScopeGlobal, Priority: PriorityNormal}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	r.Name = "second"
	if err := s.UpdateRule(ctx, r); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if r.Version != 2 {
		t.Fatalf("Version = %d, want 2", r.Version)
	}

	versions, err := s.ListVersions(ctx, "r1")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2", len(versions))
	}
	if versions[0].ChangeType != ChangeCreated || versions[1].ChangeType != ChangeUpdated {
		t.Errorf("versions = %+v", versions)
	}
}

func TestListActiveRules_OrdersByPriorityDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	low := &Rule{ID: "low", Name: "low", Scope: ScopeGlobal, Priority: PriorityLow}
	high := &Rule{ID: "high", Name: "high", Scope: ScopeGlobal, Priority: PriorityCritical}
	if err := s.CreateRule(ctx, low); err != nil {
		t.Fatalf("CreateRule low: %v", err)
	}
	if err := s.CreateRule(ctx, high); err != nil {
		t.Fatalf("CreateRule high: %v", err)
	}

	active, err := s.ListActiveRules(ctx)
	if err != nil {
		t.Fatalf("ListActiveRules: %v", err)
	}
	if len(active) != 2 || active[0].ID != "high" {
		t.Fatalf("active = %+v, want high first", active)
	}
}

func TestSetStatus_RecordsActivationChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := &Rule{ID: "r1", Name: "r1", Scope: ScopeGlobal, Priority: PriorityNormal, Status: StatusTesting}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := s.SetStatus(ctx, "r1", StatusActive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, err := s.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %v, want active", got.Status)
	}
}

func TestActivationDependencies_RequiresBlocksWhenInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dep := &Rule{ID: "dep", Name: "dep", Scope: ScopeGlobal, Priority: PriorityNormal, Status: StatusInactive}
	if err := s.CreateRule(ctx, dep); err != nil {
		t.Fatalf("CreateRule dep: %v", err)
	}
	main := &Rule{ID: "main", Name: "main", Scope: ScopeGlobal, Priority: PriorityNormal}
	if err := s.CreateRule(ctx, main); err != nil {
		t.Fatalf("CreateRule main: %v", err)
	}
	if err := s.AddDependency(ctx, RuleDependency{RuleID: "main", DependsOnRuleID: "dep", DependencyType: DependencyRequires}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	results, err := s.CheckActivationDependencies(ctx, "main")
	if err != nil {
		t.Fatalf("CheckActivationDependencies: %v", err)
	}
	if len(results) != 1 || results[0].Level != LevelError {
		t.Fatalf("results = %+v, want one ERROR finding", results)
	}
}

func TestActivationDependencies_ConflictsBlocksWhenActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	other := &Rule{ID: "other", Name: "other", Scope: ScopeGlobal, Priority: PriorityNormal}
	if err := s.CreateRule(ctx, other); err != nil {
		t.Fatalf("CreateRule other: %v", err)
	}
	main := &Rule{ID: "main", Name: "main", Scope: ScopeGlobal, Priority: PriorityNormal}
	if err := s.CreateRule(ctx, main); err != nil {
		t.Fatalf("CreateRule main: %v", err)
	}
	if err := s.AddDependency(ctx, RuleDependency{RuleID: "main", DependsOnRuleID: "other", DependencyType: DependencyConflicts}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	results, err := s.CheckActivationDependencies(ctx, "main")
	if err != nil {
		t.Fatalf("CheckActivationDependencies: %v", err)
	}
	if len(results) != 1 || results[0].Level != LevelError {
		t.Fatalf("results = %+v, want one ERROR finding", results)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := &Rule{ID: "r1", Name: "r1", Scope: ScopeGlobal, Priority: PriorityNormal,
		Conditions: []RuleCondition{{Field: "env", Operator: OpEq, Value: "prod"}},
		Actions:    []RuleAction{{ActionType: ActionSet, Target: "x", Value: 1}},
	}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	data, err := s.ExportJSON(ctx)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	s2 := newTestStore(t)
	n, err := s2.ImportJSON(ctx, data)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if n != 1 {
		t.Fatalf("imported %d rules, want 1", n)
	}
	got, err := s2.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule after import: %v", err)
	}
	if got.Name != "r1" || len(got.Conditions) != 1 || got.Conditions[0].Field != "env" {
		t.Errorf("round-tripped rule = %+v", got)
	}
}

func TestExpireAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := &Rule{ID: "r1", Name: "r1", Scope: ScopeGlobal, Priority: PriorityNormal}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	past, _ := time.Parse(time.RFC3339, "2000-01-01T00:00:00Z")
	if err := s.AssignRule(ctx, RuleAssignment{RuleID: "r1", ScopeType: ScopeProject, ScopeID: "proj-1", EffectiveUntil: &past}); err != nil {
		t.Fatalf("AssignRule: %v", err)
	}

	n, err := s.ExpireAssignments(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireAssignments: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}

	assignments, err := s.ListAssignments(ctx, ScopeProject, "proj-1")
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(assignments) != 0 {
		t.Fatalf("ListAssignments after expiry = %v, want none", assignments)
	}

	var rowCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rule_assignments WHERE rule_id = ?`, "r1").Scan(&rowCount); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("rule_assignments row count = %d, want 1 (expiry must not delete the row)", rowCount)
	}

	// Expiring again is a no-op: the row is already marked expired.
	n, err = s.ExpireAssignments(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireAssignments (second pass): %v", err)
	}
	if n != 0 {
		t.Fatalf("second expire pass affected %d rows, want 0", n)
	}
}

func TestAnalytics_AggregatesMatchesLatencyAndConflictLosses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Hour)
	for i, d := range []time.Duration{10 * time.Millisecond, 30 * time.Millisecond} {
		err := s.RecordEvaluation(ctx, RuleEvaluation{
			ID:          fmt.Sprintf("eval-%d", i),
			RuleID:      "r1",
			ContextHash: "h",
			Matched:     i == 0,
			Duration:    d,
			CreatedAt:   start.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordEvaluation: %v", err)
		}
	}

	if err := s.RecordConflict(ctx, RuleConflict{
		ID: "c1", Target: "step-1", WinnerID: "r2", LoserIDs: []string{"r1"},
		Resolution: ResolveHighestPriority, CreatedAt: start.Add(time.Minute),
	}); err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	got, err := s.Analytics(ctx, start.Add(-time.Minute), time.Now())
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}

	byID := make(map[string]RuleAnalytics, len(got))
	for _, a := range got {
		byID[a.RuleID] = a
	}

	r1, ok := byID["r1"]
	if !ok {
		t.Fatalf("no analytics for r1 in %+v", got)
	}
	if r1.EvaluationCount != 2 {
		t.Errorf("r1 EvaluationCount = %d, want 2", r1.EvaluationCount)
	}
	if r1.MatchCount != 1 {
		t.Errorf("r1 MatchCount = %d, want 1", r1.MatchCount)
	}
	if r1.AvgDuration != 20*time.Millisecond {
		t.Errorf("r1 AvgDuration = %v, want 20ms", r1.AvgDuration)
	}
	if r1.ConflictLossCount != 1 {
		t.Errorf("r1 ConflictLossCount = %d, want 1", r1.ConflictLossCount)
	}

	if byID["r2"].ConflictLossCount != 0 {
		t.Errorf("r2 should not have a conflict loss recorded, got %+v", byID["r2"])
	}
}
