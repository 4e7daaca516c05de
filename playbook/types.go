// Package playbook holds the declarative playbook data model, its
// YAML/JSON parsing, and the execution planner that turns a validated
// playbook into an ordered list of waves.
package playbook

import "time"

// Action is one of the four built-in step side-effect kinds.
type Action string

const (
	ActionNoop        Action = "noop"
	ActionWait        Action = "wait"
	ActionHTTPRequest Action = "http_request"
	ActionShell       Action = "shell"
)

// ExecutionState is the lifecycle state of a whole run.
type ExecutionState string

const (
	StatePending     ExecutionState = "PENDING"
	StateRunning     ExecutionState = "RUNNING"
	StatePaused      ExecutionState = "PAUSED"
	StateCompleted   ExecutionState = "COMPLETED"
	StateFailed      ExecutionState = "FAILED"
	StateCancelled   ExecutionState = "CANCELLED"
	StateRollingBack ExecutionState = "ROLLING_BACK"
	StateRolledBack  ExecutionState = "ROLLED_BACK"
)

// StepState is the lifecycle state of a single step within a run.
type StepState string

const (
	StepPending          StepState = "PENDING"
	StepRunning          StepState = "RUNNING"
	StepCompleted        StepState = "COMPLETED"
	StepFailed           StepState = "FAILED"
	StepSkipped          StepState = "SKIPPED"
	StepWaitingApproval  StepState = "WAITING_APPROVAL"
	StepRollingBack      StepState = "ROLLING_BACK"
	StepRolledBack       StepState = "ROLLED_BACK"
)

// Parameter describes one named input a playbook accepts.
type Parameter struct {
	Name        string `yaml:"name" json:"name"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Prerequisite is a precondition checked before a run is accepted.
type Prerequisite struct {
	Type  string `yaml:"type" json:"type"`
	Param string `yaml:"param" json:"param"`
}

// Condition is a structured boolean predicate, consumed by the
// condition package once interpolated.
type Condition struct {
	Type  string      `yaml:"type" json:"type"`
	Left  interface{} `yaml:"left,omitempty" json:"left,omitempty"`
	Right interface{} `yaml:"right,omitempty" json:"right,omitempty"`
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`
}

// Validator is an external pre-execution check descriptor; the engine
// dispatches it to a registered validator plug-in by Type.
type Validator struct {
	Type   string                 `yaml:"type" json:"type"`
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// Output maps a step's result field into the run's variable map.
type Output struct {
	Name  string      `yaml:"name" json:"name"`
	From  string      `yaml:"from,omitempty" json:"from,omitempty"`
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`
}

// RetryPolicy configures a step's retry loop, overriding the
// classifier's category default when set.
type RetryPolicy struct {
	MaxAttempts        int      `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BaseDelay          float64  `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
	MaxDelay           float64  `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
	ExponentialBackoff bool     `yaml:"exponential_backoff,omitempty" json:"exponential_backoff,omitempty"`
	RetryOnErrors      []string `yaml:"retry_on_errors,omitempty" json:"retry_on_errors,omitempty"`
}

// RollbackSpec describes one inverse action to register on step success.
type RollbackSpec struct {
	Action      Action                 `yaml:"action" json:"action"`
	Args        map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
}

// ApprovalGate configures a human-in-the-loop pause before a step runs.
type ApprovalGate struct {
	Message                string   `yaml:"message,omitempty" json:"message,omitempty"`
	RequiredApprovers      []string `yaml:"required_approvers,omitempty" json:"required_approvers,omitempty"`
	TimeoutSeconds         float64  `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	AutoApproveAfterTimeout bool    `yaml:"auto_approve_after_timeout,omitempty" json:"auto_approve_after_timeout,omitempty"`
}

// Step is one unit of work in a Playbook.
type Step struct {
	ID            string                 `yaml:"id,omitempty" json:"id,omitempty"`
	Name          string                 `yaml:"name,omitempty" json:"name,omitempty"`
	ActionType    Action                 `yaml:"action" json:"action"`
	Args          map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
	DependsOn     []string               `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ParallelGroup string                 `yaml:"parallel_group,omitempty" json:"parallel_group,omitempty"`
	When          []Condition            `yaml:"when,omitempty" json:"when,omitempty"`
	Validators    []Validator            `yaml:"validators,omitempty" json:"validators,omitempty"`
	Validations   []Condition            `yaml:"validations,omitempty" json:"validations,omitempty"`
	Outputs       []Output               `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Retry         *RetryPolicy           `yaml:"retry,omitempty" json:"retry,omitempty"`
	Rollback      []RollbackSpec         `yaml:"rollback,omitempty" json:"rollback,omitempty"`
	ApprovalGate  *ApprovalGate          `yaml:"approval_gate,omitempty" json:"approval_gate,omitempty"`
}

// Playbook is the top-level declarative descriptor.
type Playbook struct {
	Version            int            `yaml:"version,omitempty" json:"version,omitempty"`
	Name               string         `yaml:"name" json:"name"`
	Description        string         `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters         []Parameter    `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Prerequisites      []Prerequisite `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	ContinueOnFailure  bool           `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
	Steps              []Step         `yaml:"steps" json:"steps"`
}

// ValidationResult is the outcome of a single validator or
// post-validation predicate.
type ValidationResult struct {
	Valid   bool                   `json:"valid"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StepResult is the per-step execution record kept inside an
// ExecutionContext.
type StepResult struct {
	StepID            string                 `json:"step_id"`
	Name              string                 `json:"name"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        time.Time              `json:"finished_at"`
	State             StepState              `json:"state"`
	Outputs           map[string]interface{} `json:"outputs,omitempty"`
	Error             string                 `json:"error,omitempty"`
	ValidationResults []ValidationResult     `json:"validation_results,omitempty"`
	RetryCount        int                    `json:"retry_count"`
	RollbackActions   []RollbackSpec         `json:"rollback_actions,omitempty"`
	Approvers         []string               `json:"approvers,omitempty"`
	ParallelGroup     string                 `json:"parallel_group,omitempty"`
	Dependencies      []string               `json:"dependencies,omitempty"`
}
