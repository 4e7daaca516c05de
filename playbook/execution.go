package playbook

import (
	"sync"
	"time"
)

// ApprovalRecord tracks an outstanding or resolved approval gate for
// one step.
type ApprovalRecord struct {
	StepID    string
	Approvers []string
	Approved  bool
	Denied    bool
	CreatedAt time.Time
}

// ExecutionContext is the single mutable record of one playbook run.
// A Supervisor exclusively owns it; Step Runners hold a per-step
// borrow of their own StepResult entry only.
type ExecutionContext struct {
	mu sync.Mutex

	RunID      string
	PlaybookID string
	VersionID  string
	State      ExecutionState
	StartedAt  time.Time
	FinishedAt time.Time

	Parameters map[string]interface{}
	Variables  map[string]interface{}

	Steps map[string]*StepResult

	CurrentWaveIndex int
	Waves            []Wave

	Approvals     map[string]*ApprovalRecord
	RollbackStack []rollbackEntry
	ErrorLog      []string

	PauseRequested  bool
	CancelRequested bool
}

type rollbackEntry struct {
	StepID string
	Spec   RollbackSpec
}

// NewExecutionContext builds a fresh ExecutionContext in PENDING state.
func NewExecutionContext(runID, playbookID string, parameters map[string]interface{}, waves []Wave) *ExecutionContext {
	params := make(map[string]interface{}, len(parameters))
	for k, v := range parameters {
		params[k] = v
	}
	return &ExecutionContext{
		RunID:      runID,
		PlaybookID: playbookID,
		State:      StatePending,
		Parameters: params,
		Variables:  make(map[string]interface{}),
		Steps:      make(map[string]*StepResult),
		Waves:      waves,
		Approvals:  make(map[string]*ApprovalRecord),
	}
}

// SetVariable appends or overwrites a single key in the run's
// variable map. It is the only sanctioned write path: callers must
// hold the Supervisor's serialization discipline (called only between
// waves, or synchronously by a single step's own completion).
func (ec *ExecutionContext) SetVariable(key string, value interface{}) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.Variables[key] = value
}

// SnapshotVariables returns a shallow copy of parameters merged with
// variables, the read view Step Runner and Condition Evaluator use.
func (ec *ExecutionContext) SnapshotVariables() map[string]interface{} {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	out := make(map[string]interface{}, len(ec.Parameters)+len(ec.Variables))
	for k, v := range ec.Parameters {
		out[k] = v
	}
	for k, v := range ec.Variables {
		out[k] = v
	}
	return out
}

// PushRollback appends a rollback entry; only called once a step
// reaches COMPLETED.
func (ec *ExecutionContext) PushRollback(stepID string, spec RollbackSpec) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.RollbackStack = append(ec.RollbackStack, rollbackEntry{StepID: stepID, Spec: spec})
}

// PopRollback removes and returns the most recently pushed rollback
// entry, for LIFO unwind. ok is false once the stack is empty.
func (ec *ExecutionContext) PopRollback() (stepID string, spec RollbackSpec, ok bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	n := len(ec.RollbackStack)
	if n == 0 {
		return "", RollbackSpec{}, false
	}
	entry := ec.RollbackStack[n-1]
	ec.RollbackStack = ec.RollbackStack[:n-1]
	return entry.StepID, entry.Spec, true
}

// RollbackStackLen reports the current stack depth, used to verify
// invariant 3 (stack size equals completed-step count).
func (ec *ExecutionContext) RollbackStackLen() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.RollbackStack)
}

// AppendError records a non-fatal error to the run's error log (e.g.
// a rollback action failure).
func (ec *ExecutionContext) AppendError(msg string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.ErrorLog = append(ec.ErrorLog, msg)
}

// GetErrorLog returns a shallow copy of the run's non-fatal error log.
func (ec *ExecutionContext) GetErrorLog() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]string, len(ec.ErrorLog))
	copy(out, ec.ErrorLog)
	return out
}

// SetState transitions the run's lifecycle state.
func (ec *ExecutionContext) SetState(state ExecutionState) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.State = state
}

// GetState reads the current lifecycle state.
func (ec *ExecutionContext) GetState() ExecutionState {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.State
}

// RequestPause sets the pause latch; the Supervisor observes it at
// the next wave boundary.
func (ec *ExecutionContext) RequestPause() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.PauseRequested = true
}

// RequestCancel sets the cancel latch.
func (ec *ExecutionContext) RequestCancel() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.CancelRequested = true
}

// ClearPause resets the pause latch on resume.
func (ec *ExecutionContext) ClearPause() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.PauseRequested = false
}

// Latches reads both cooperative-cancellation latches under one lock.
func (ec *ExecutionContext) Latches() (pause, cancel bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.PauseRequested, ec.CancelRequested
}

// PutStepResult installs or replaces a step's result record.
func (ec *ExecutionContext) PutStepResult(result *StepResult) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.Steps[result.StepID] = result
}

// GetStepResult reads a step's result record, if present.
func (ec *ExecutionContext) GetStepResult(stepID string) (*StepResult, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	r, ok := ec.Steps[stepID]
	return r, ok
}

// SetApproval records an approval decision for a step's gate.
func (ec *ExecutionContext) SetApproval(stepID string, record *ApprovalRecord) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.Approvals[stepID] = record
}

// GetApproval reads a previously recorded approval decision, if any.
func (ec *ExecutionContext) GetApproval(stepID string) (*ApprovalRecord, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	record, ok := ec.Approvals[stepID]
	return record, ok
}

// StepStates returns a snapshot of every step's terminal/interim
// state, used by get_execution_status.
func (ec *ExecutionContext) StepStates() map[string]StepState {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	out := make(map[string]StepState, len(ec.Steps))
	for id, r := range ec.Steps {
		out[id] = r.State
	}
	return out
}
