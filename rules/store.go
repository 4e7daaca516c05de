package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lancejames221b/playbook-engine/core"
)

// ddl creates the seven governance tables with CREATE TABLE IF NOT
// EXISTS; there are no ALTER TABLE migrations.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		tags TEXT,
		rule_type TEXT,
		scope TEXT NOT NULL,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		conditions TEXT,
		actions TEXT,
		parent_rule_id TEXT,
		conflict_resolution TEXT,
		effective_from TEXT,
		effective_until TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rule_versions (
		rule_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		change_type TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (rule_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS rule_assignments (
		rule_id TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		priority_override INTEGER,
		effective_from TEXT,
		effective_until TEXT,
		expired_at TEXT,
		PRIMARY KEY (rule_id, scope_type, scope_id)
	)`,
	`CREATE TABLE IF NOT EXISTS rule_dependencies (
		rule_id TEXT NOT NULL,
		depends_on_rule_id TEXT NOT NULL,
		dependency_type TEXT NOT NULL,
		PRIMARY KEY (rule_id, depends_on_rule_id, dependency_type)
	)`,
	`CREATE TABLE IF NOT EXISTS rule_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT,
		parameters TEXT,
		template_content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rule_evaluations (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		context_hash TEXT NOT NULL,
		matched INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rule_conflicts (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		winner_id TEXT NOT NULL,
		loser_ids TEXT,
		resolution TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}

// Store is the SQLite-backed persistence layer for rule governance: rule
// bodies, version history, scope assignments, dependency edges, templates,
// and evaluation/conflict analytics. A single shared connection serializes
// writers, matching SQLite's single-writer model.
type Store struct {
	db     *sql.DB
	logger core.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the Store's structured logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens (creating if absent) a SQLite database at path and returns a
// Store. Call Init before first use.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rules: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the governance schema if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rules: create schema: %w", err)
		}
	}
	s.logger.Debug("rules store initialized", map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()})
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateRule inserts a new rule at version 1 and records a "created"
// version entry, all within one transaction.
func (s *Store) CreateRule(ctx context.Context, r *Rule) error {
	now := time.Now().UTC()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = StatusActive
	}
	return s.writeVersioned(ctx, r, ChangeCreated)
}

// UpdateRule increments the rule's version, persists the new body, and
// appends a version-history row — the append-only versioning invariant.
func (s *Store) UpdateRule(ctx context.Context, r *Rule) error {
	existing, err := s.GetRule(ctx, r.ID)
	if err != nil {
		return err
	}
	r.Version = existing.Version + 1
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	return s.writeVersioned(ctx, r, ChangeUpdated)
}

// SetStatus transitions a rule's status and records the corresponding
// change_type in rule_versions (activated/deactivated/deprecated).
func (s *Store) SetStatus(ctx context.Context, ruleID string, status Status) error {
	r, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	r.Status = status
	r.Version++
	r.UpdatedAt = time.Now().UTC()

	var change ChangeType
	switch status {
	case StatusActive:
		change = ChangeActivated
	case StatusDeprecated:
		change = ChangeDeprecated
	default:
		change = ChangeDeactivated
	}
	return s.writeVersioned(ctx, r, change)
}

func (s *Store) writeVersioned(ctx context.Context, r *Rule, change ChangeType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rules: begin tx: %w", err)
	}
	defer tx.Rollback()

	tagsJSON, _ := json.Marshal(r.Tags)
	condJSON, _ := json.Marshal(r.Conditions)
	actJSON, _ := json.Marshal(r.Actions)
	metaJSON, _ := json.Marshal(r.Metadata)

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO rules
			(id, version, name, description, tags, rule_type, scope, priority, status,
			 conditions, actions, parent_rule_id, conflict_resolution,
			 effective_from, effective_until, metadata, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Version, r.Name, r.Description, string(tagsJSON), r.RuleType, string(r.Scope), r.Priority, string(r.Status),
		string(condJSON), string(actJSON), r.ParentRuleID, string(r.ConflictResolution),
		nullTime(r.EffectiveFrom), nullTime(r.EffectiveUntil), string(metaJSON),
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("rules: write rule: %w", err)
	}

	snapshot, _ := json.Marshal(r)
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_versions (rule_id, version, change_type, snapshot, created_at)
		VALUES (?,?,?,?,?)`,
		r.ID, r.Version, string(change), string(snapshot), r.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("rules: write version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rules: commit: %w", err)
	}
	s.logger.Debug("rule written", map[string]interface{}{"rule_id": r.ID, "version": r.Version, "change_type": change})
	return nil
}

// GetRule fetches a rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, name, description, tags, rule_type, scope, priority, status,
		       conditions, actions, parent_rule_id, conflict_resolution,
		       effective_from, effective_until, metadata, created_at, updated_at
		FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rules: %s: %w", id, core.ErrRuleNotFound)
	}
	return r, err
}

// ListActiveRules returns every rule with status=active, ordered by
// priority descending (ties broken by created_at ascending).
func (s *Store) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, name, description, tags, rule_type, scope, priority, status,
		       conditions, actions, parent_rule_id, conflict_resolution,
		       effective_from, effective_until, metadata, created_at, updated_at
		FROM rules WHERE status = ? ORDER BY priority DESC, created_at ASC`, string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("rules: list active: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule and records a "deleted" version entry before
// the row disappears, preserving history for anything that already
// referenced the rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	r.Version++
	if err := s.recordVersionOnly(ctx, r, ChangeDeleted); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("rules: delete: %w", err)
	}
	return nil
}

func (s *Store) recordVersionOnly(ctx context.Context, r *Rule, change ChangeType) error {
	snapshot, _ := json.Marshal(r)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_versions (rule_id, version, change_type, snapshot, created_at)
		VALUES (?,?,?,?,?)`,
		r.ID, r.Version, string(change), string(snapshot), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// ListVersions returns a rule's full version history, oldest first.
func (s *Store) ListVersions(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, version, change_type, snapshot, created_at
		FROM rule_versions WHERE rule_id = ? ORDER BY version ASC`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rules: list versions: %w", err)
	}
	defer rows.Close()

	var out []RuleVersion
	for rows.Next() {
		var v RuleVersion
		var created string
		if err := rows.Scan(&v.RuleID, &v.Version, &v.ChangeType, &v.Snapshot, &created); err != nil {
			return nil, err
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, v)
	}
	return out, rows.Err()
}

// AssignRule binds a rule to a concrete scope instance.
func (s *Store) AssignRule(ctx context.Context, a RuleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_assignments
			(rule_id, scope_type, scope_id, priority_override, effective_from, effective_until)
		VALUES (?,?,?,?,?,?)`,
		a.RuleID, string(a.ScopeType), a.ScopeID, nullInt(a.PriorityOverride), nullTime(a.EffectiveFrom), nullTime(a.EffectiveUntil))
	if err != nil {
		return fmt.Errorf("rules: assign: %w", err)
	}
	return nil
}

// ListAssignments returns every still-applicable assignment for a scope
// instance. Expired assignments remain in the table for audit purposes
// (see ExpireAssignments) but are filtered out here.
func (s *Store) ListAssignments(ctx context.Context, scopeType Scope, scopeID string) ([]RuleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, scope_type, scope_id, priority_override, effective_from, effective_until
		FROM rule_assignments WHERE scope_type = ? AND scope_id = ? AND expired_at IS NULL`, string(scopeType), scopeID)
	if err != nil {
		return nil, fmt.Errorf("rules: list assignments: %w", err)
	}
	defer rows.Close()

	var out []RuleAssignment
	for rows.Next() {
		var a RuleAssignment
		var scope string
		var prio sql.NullInt64
		var from, until sql.NullString
		if err := rows.Scan(&a.RuleID, &scope, &a.ScopeID, &prio, &from, &until); err != nil {
			return nil, err
		}
		a.ScopeType = Scope(scope)
		if prio.Valid {
			v := int(prio.Int64)
			a.PriorityOverride = &v
		}
		if from.Valid {
			t, _ := time.Parse(time.RFC3339Nano, from.String)
			a.EffectiveFrom = &t
		}
		if until.Valid {
			t, _ := time.Parse(time.RFC3339Nano, until.String)
			a.EffectiveUntil = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ExpireAssignments marks every assignment whose effective_until has
// passed as of now as expired, returning the count affected. Expiry
// removes the assignment's applicability (ListAssignments stops
// returning it) without deleting the row, so ListVersions-style audit
// of who was assigned what, and for how long, survives expiry.
func (s *Store) ExpireAssignments(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rule_assignments SET expired_at = ?
		WHERE effective_until IS NOT NULL AND effective_until < ? AND expired_at IS NULL`,
		now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("rules: expire assignments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AddDependency records a directed rule-to-rule dependency edge.
func (s *Store) AddDependency(ctx context.Context, d RuleDependency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_dependencies (rule_id, depends_on_rule_id, dependency_type)
		VALUES (?,?,?)`, d.RuleID, d.DependsOnRuleID, string(d.DependencyType))
	if err != nil {
		return fmt.Errorf("rules: add dependency: %w", err)
	}
	return nil
}

// ListDependencies returns every dependency edge originating at ruleID.
func (s *Store) ListDependencies(ctx context.Context, ruleID string) ([]RuleDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, depends_on_rule_id, dependency_type
		FROM rule_dependencies WHERE rule_id = ?`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rules: list dependencies: %w", err)
	}
	defer rows.Close()

	var out []RuleDependency
	for rows.Next() {
		var d RuleDependency
		var dt string
		if err := rows.Scan(&d.RuleID, &d.DependsOnRuleID, &dt); err != nil {
			return nil, err
		}
		d.DependencyType = DependencyType(dt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CheckActivationDependencies enforces requires/conflicts edges at
// activation time: every "requires" target must be active, and no
// "conflicts" target may be active. A violation yields a ValidationResult
// at ERROR level in the logic category rather than an error return, so
// callers can surface it through the same channel as other rule
// validation findings.
func (s *Store) CheckActivationDependencies(ctx context.Context, ruleID string) ([]ValidationResult, error) {
	deps, err := s.ListDependencies(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	var results []ValidationResult
	for _, d := range deps {
		target, err := s.GetRule(ctx, d.DependsOnRuleID)
		active := err == nil && target.Status == StatusActive
		switch d.DependencyType {
		case DependencyRequires:
			if !active {
				results = append(results, ValidationResult{
					Level: LevelError, Category: CategoryLogic,
					Message: fmt.Sprintf("rule %s requires %s to be active", ruleID, d.DependsOnRuleID),
				})
			}
		case DependencyConflicts:
			if active {
				results = append(results, ValidationResult{
					Level: LevelError, Category: CategoryLogic,
					Message: fmt.Sprintf("rule %s conflicts with active rule %s", ruleID, d.DependsOnRuleID),
				})
			}
		}
	}
	return results, nil
}

// CreateTemplate stores a reusable rule template.
func (s *Store) CreateTemplate(ctx context.Context, t *RuleTemplate) error {
	paramsJSON, _ := json.Marshal(t.Parameters)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_templates (id, name, description, category, parameters, template_content)
		VALUES (?,?,?,?,?,?)`, t.ID, t.Name, t.Description, t.Category, string(paramsJSON), t.TemplateContent)
	if err != nil {
		return fmt.Errorf("rules: create template: %w", err)
	}
	return nil
}

// GetTemplate fetches a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*RuleTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, parameters, template_content
		FROM rule_templates WHERE id = ?`, id)
	var t RuleTemplate
	var paramsJSON string
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &paramsJSON, &t.TemplateContent); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rules: %s: %w", id, core.ErrTemplateNotFound)
		}
		return nil, err
	}
	json.Unmarshal([]byte(paramsJSON), &t.Parameters)
	return &t, nil
}

// ListTemplates returns every stored template, optionally filtered by
// category (empty string matches all).
func (s *Store) ListTemplates(ctx context.Context, category string) ([]*RuleTemplate, error) {
	query := `SELECT id, name, description, category, parameters, template_content FROM rule_templates`
	args := []interface{}{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rules: list templates: %w", err)
	}
	defer rows.Close()

	var out []*RuleTemplate
	for rows.Next() {
		var t RuleTemplate
		var paramsJSON string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &paramsJSON, &t.TemplateContent); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(paramsJSON), &t.Parameters)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// RecordEvaluation appends one analytics row for a rule evaluation.
func (s *Store) RecordEvaluation(ctx context.Context, e RuleEvaluation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_evaluations (id, rule_id, context_hash, matched, duration_ns, created_at)
		VALUES (?,?,?,?,?,?)`,
		e.ID, e.RuleID, e.ContextHash, boolToInt(e.Matched), e.Duration.Nanoseconds(), e.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// RecordConflict appends one analytics row for a conflict resolution.
func (s *Store) RecordConflict(ctx context.Context, c RuleConflict) error {
	losersJSON, _ := json.Marshal(c.LoserIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_conflicts (id, target, winner_id, loser_ids, resolution, created_at)
		VALUES (?,?,?,?,?,?)`,
		c.ID, c.Target, c.WinnerID, string(losersJSON), string(c.Resolution), c.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Analytics aggregates per-rule match counts, average evaluation latency,
// and conflict-loss counts for every rule evaluated or involved in a
// conflict within [since, until). Rules with no activity in the window
// are omitted rather than returned with zero rows.
func (s *Store) Analytics(ctx context.Context, since, until time.Time) ([]RuleAnalytics, error) {
	byRule := make(map[string]*RuleAnalytics)

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, COUNT(*), SUM(matched), AVG(duration_ns)
		FROM rule_evaluations
		WHERE created_at >= ? AND created_at < ?
		GROUP BY rule_id`,
		since.UTC().Format(time.RFC3339Nano), until.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("rules: analytics evaluations: %w", err)
	}
	for rows.Next() {
		var ruleID string
		var evalCount, matchCount int
		var avgNs float64
		if err := rows.Scan(&ruleID, &evalCount, &matchCount, &avgNs); err != nil {
			rows.Close()
			return nil, err
		}
		byRule[ruleID] = &RuleAnalytics{
			RuleID:          ruleID,
			EvaluationCount: evalCount,
			MatchCount:      matchCount,
			AvgDuration:     time.Duration(avgNs),
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// loser_ids is a JSON array column rather than a normalized join
	// table, so conflict losses are tallied in Go after pulling the
	// rows in range; the count-per-rule SQL above still covers the
	// evaluation side of the aggregate.
	conflictRows, err := s.db.QueryContext(ctx, `
		SELECT loser_ids FROM rule_conflicts WHERE created_at >= ? AND created_at < ?`,
		since.UTC().Format(time.RFC3339Nano), until.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("rules: analytics conflicts: %w", err)
	}
	defer conflictRows.Close()
	for conflictRows.Next() {
		var losersJSON string
		if err := conflictRows.Scan(&losersJSON); err != nil {
			return nil, err
		}
		var losers []string
		if err := json.Unmarshal([]byte(losersJSON), &losers); err != nil {
			continue
		}
		for _, ruleID := range losers {
			a, ok := byRule[ruleID]
			if !ok {
				a = &RuleAnalytics{RuleID: ruleID}
				byRule[ruleID] = a
			}
			a.ConflictLossCount++
		}
	}
	if err := conflictRows.Err(); err != nil {
		return nil, err
	}

	out := make([]RuleAnalytics, 0, len(byRule))
	for _, a := range byRule {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRule.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*Rule, error) {
	var r Rule
	var tagsJSON, condJSON, actJSON, metaJSON, scope, status, created, updated string
	var from, until sql.NullString
	err := row.Scan(&r.ID, &r.Version, &r.Name, &r.Description, &tagsJSON, &r.RuleType, &scope, &r.Priority, &status,
		&condJSON, &actJSON, &r.ParentRuleID, &r.ConflictResolution,
		&from, &until, &metaJSON, &created, &updated)
	if err != nil {
		return nil, err
	}
	r.Scope = Scope(scope)
	r.Status = Status(status)
	json.Unmarshal([]byte(tagsJSON), &r.Tags)
	json.Unmarshal([]byte(condJSON), &r.Conditions)
	json.Unmarshal([]byte(actJSON), &r.Actions)
	json.Unmarshal([]byte(metaJSON), &r.Metadata)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if from.Valid {
		t, _ := time.Parse(time.RFC3339Nano, from.String)
		r.EffectiveFrom = &t
	}
	if until.Valid {
		t, _ := time.Parse(time.RFC3339Nano, until.String)
		r.EffectiveUntil = &t
	}
	return &r, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// validIdentifier rejects anything but letters, digits, underscore and
// hyphen, guarding any place an id is interpolated into a non-parameterized
// fragment (e.g. a generated export filename).
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return false
		}
	}
	return true
}
