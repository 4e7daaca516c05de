// Package supervisor owns running playbook executions: it builds the
// execution plan, drives waves respecting pause/resume/cancel
// latches and max_parallel_steps, and runs the rollback stack on
// demand. It is the single coarse-mutex registry of active runs.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/playbook"
	"github.com/lancejames221b/playbook-engine/steprunner"
)

// Supervisor is the engine's control surface: one instance owns every
// active ExecutionContext and dispatches execute/pause/resume/cancel/
// rollback/approve operations under a single coarse mutex.
type Supervisor struct {
	mu          sync.Mutex
	executions  map[string]*run
	runner      *steprunner.Runner
	maxParallel int
	logger      core.Logger
	store       RunStore
}

type run struct {
	ec       *playbook.ExecutionContext
	playbook *playbook.Playbook
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRunner overrides the default step runner.
func WithRunner(r *steprunner.Runner) Option {
	return func(s *Supervisor) { s.runner = r }
}

// WithMaxParallelSteps bounds wave concurrency. Default 5.
func WithMaxParallelSteps(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// WithLogger attaches a component-tagged logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithRunStore attaches a durable run-snapshot sink (e.g. a
// RedisRunStore). A best-effort, non-blocking snapshot write happens
// each time driving a run returns and after a rollback; cancel and
// pause do not write one. A write failure is logged, never propagated
// into the run itself.
func WithRunStore(store RunStore) Option {
	return func(s *Supervisor) { s.store = store }
}

// New builds a Supervisor with safe defaults.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		executions:  make(map[string]*run),
		runner:      steprunner.NewRunner(),
		maxParallel: 5,
		logger:      &core.NoOpLogger{},
		store:       NoOpRunStore{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// persistSnapshot fires a best-effort, asynchronous snapshot write; it
// never blocks the caller and never surfaces a store failure to the run.
func (s *Supervisor) persistSnapshot(runID string, pb *playbook.Playbook, ec *playbook.ExecutionContext) {
	if _, ok := s.store.(NoOpRunStore); ok {
		return
	}
	snap := RunSnapshot{
		RunID:      runID,
		PlaybookID: pb.Name,
		State:      ec.GetState(),
		StepStates: ec.StepStates(),
		ErrorLog:   ec.GetErrorLog(),
		UpdatedAt:  time.Now(),
	}
	go func() {
		if err := s.store.Save(context.Background(), snap); err != nil {
			s.logger.Warn("supervisor: run snapshot write failed", map[string]interface{}{"run_id": runID, "error": err.Error()})
		}
	}()
}

// StatusSnapshot is a copy-out view of one run's status.
type StatusSnapshot struct {
	RunID      string
	State      playbook.ExecutionState
	StepStates map[string]playbook.StepState
	ErrorLog   []string
}

// ExecutePlaybook validates pb, plans it, and drives it to a terminal
// or suspended (PAUSED / WAITING_APPROVAL-in-place) state. If runID is
// empty a uuid is generated. dryRun skips action execution entirely.
func (s *Supervisor) ExecutePlaybook(ctx context.Context, pb *playbook.Playbook, parameters map[string]interface{}, runID string, dryRun bool) (*playbook.ExecutionContext, error) {
	if err := playbook.Validate(pb); err != nil {
		return nil, err
	}
	waves, err := playbook.Plan(pb)
	if err != nil {
		return nil, err
	}

	if runID == "" {
		runID = uuid.New().String()
	}

	ec := playbook.NewExecutionContext(runID, pb.Name, parameters, waves)
	ec.StartedAt = time.Now()
	ec.SetState(playbook.StateRunning)

	s.mu.Lock()
	s.executions[runID] = &run{ec: ec, playbook: pb}
	s.mu.Unlock()

	s.drive(ctx, runID, dryRun)
	return ec, nil
}

// drive runs waves starting at ec.CurrentWaveIndex until the run
// reaches a terminal state or is suspended by a latch or an
// outstanding approval gate.
func (s *Supervisor) drive(ctx context.Context, runID string, dryRun bool) {
	r := s.get(runID)
	if r == nil {
		return
	}
	ec := r.ec
	pb := r.playbook
	defer s.persistSnapshot(runID, pb, ec)

	for waveIdx := ec.CurrentWaveIndex; waveIdx < len(ec.Waves); waveIdx++ {
		pause, cancel := ec.Latches()
		if cancel {
			ec.SetState(playbook.StateCancelled)
			ec.FinishedAt = time.Now()
			return
		}
		if pause {
			ec.CurrentWaveIndex = waveIdx
			ec.SetState(playbook.StatePaused)
			return
		}

		s.runWave(ctx, ec, pb, ec.Waves[waveIdx], dryRun)

		if awaitingApproval(ec, ec.Waves[waveIdx]) {
			ec.CurrentWaveIndex = waveIdx
			return
		}

		if anyFailed(ec, ec.Waves[waveIdx]) && !pb.ContinueOnFailure {
			ec.SetState(playbook.StateFailed)
			ec.FinishedAt = time.Now()
			return
		}

		ec.CurrentWaveIndex = waveIdx + 1
	}

	if anyFailedOverall(ec) {
		ec.SetState(playbook.StateFailed)
	} else {
		ec.SetState(playbook.StateCompleted)
	}
	ec.FinishedAt = time.Now()
}

func (s *Supervisor) runWave(ctx context.Context, ec *playbook.ExecutionContext, pb *playbook.Playbook, wave playbook.Wave, dryRun bool) {
	pending := make([]playbook.Step, 0, len(wave))
	for _, id := range wave {
		if existing, ok := ec.GetStepResult(id); ok {
			switch existing.State {
			case playbook.StepCompleted, playbook.StepSkipped, playbook.StepFailed:
				continue
			}
		}
		pending = append(pending, findStep(pb, id))
	}

	if len(pending) == 0 {
		return
	}

	if len(pending) == 1 {
		s.runOne(ctx, ec, pending[0], dryRun)
		return
	}

	sem := make(chan struct{}, s.maxParallel)
	var wg sync.WaitGroup
	for _, step := range pending {
		step := step
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.runOne(ctx, ec, step, dryRun)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) runOne(ctx context.Context, ec *playbook.ExecutionContext, step playbook.Step, dryRun bool) {
	if dryRun {
		s.runner.DryRun(ctx, ec, step)
		return
	}
	s.runner.Run(ctx, ec, step)
}

// PauseExecution sets the pause latch; the Supervisor stops
// scheduling new waves at the next boundary.
func (s *Supervisor) PauseExecution(runID string) error {
	r := s.get(runID)
	if r == nil {
		return fmt.Errorf("execution %s: %w", runID, core.ErrExecutionNotFound)
	}
	r.ec.RequestPause()
	return nil
}

// ResumeExecution clears the pause latch and continues scheduling
// from the current wave index.
func (s *Supervisor) ResumeExecution(ctx context.Context, runID string) error {
	r := s.get(runID)
	if r == nil {
		return fmt.Errorf("execution %s: %w", runID, core.ErrExecutionNotFound)
	}
	if r.ec.GetState() != playbook.StatePaused {
		return fmt.Errorf("execution %s is not paused: %w", runID, core.ErrExecutionNotResumable)
	}
	r.ec.ClearPause()
	r.ec.SetState(playbook.StateRunning)
	s.drive(ctx, runID, false)
	return nil
}

// CancelExecution sets the cancel latch; the run transitions to
// CANCELLED immediately and no further waves are scheduled.
func (s *Supervisor) CancelExecution(runID string) error {
	r := s.get(runID)
	if r == nil {
		return fmt.Errorf("execution %s: %w", runID, core.ErrExecutionNotFound)
	}
	r.ec.RequestCancel()
	r.ec.SetState(playbook.StateCancelled)
	r.ec.FinishedAt = time.Now()
	return nil
}

// ApproveStep marks an approval gate approved and resumes the run
// from its current wave, re-running only that step.
func (s *Supervisor) ApproveStep(ctx context.Context, runID, stepID, approver string) error {
	r := s.get(runID)
	if r == nil {
		return fmt.Errorf("execution %s: %w", runID, core.ErrExecutionNotFound)
	}
	result, ok := r.ec.GetStepResult(stepID)
	if !ok || result.State != playbook.StepWaitingApproval {
		return fmt.Errorf("step %s is not awaiting approval: %w", stepID, core.ErrApprovalDenied)
	}

	r.ec.SetApproval(stepID, &playbook.ApprovalRecord{
		StepID:    stepID,
		Approvers: []string{approver},
		Approved:  true,
		CreatedAt: time.Now(),
	})

	s.drive(ctx, runID, false)
	return nil
}

// RollbackExecution runs the registered rollback stack in reverse
// order. Rollback action errors are logged but never halt the sweep.
func (s *Supervisor) RollbackExecution(ctx context.Context, runID string) error {
	r := s.get(runID)
	if r == nil {
		return fmt.Errorf("execution %s: %w", runID, core.ErrExecutionNotFound)
	}
	ec := r.ec
	ec.SetState(playbook.StateRollingBack)

	for {
		stepID, spec, ok := ec.PopRollback()
		if !ok {
			break
		}
		if _, err := s.runner.RunRollback(ctx, spec); err != nil {
			ec.AppendError(fmt.Sprintf("rollback for step %s failed: %v", stepID, err))
		}
	}

	ec.SetState(playbook.StateRolledBack)
	s.persistSnapshot(runID, r.playbook, ec)
	ec.FinishedAt = time.Now()
	return nil
}

// GetExecutionStatus returns a copy-out status snapshot.
func (s *Supervisor) GetExecutionStatus(runID string) (*StatusSnapshot, error) {
	r := s.get(runID)
	if r == nil {
		return nil, fmt.Errorf("execution %s: %w", runID, core.ErrExecutionNotFound)
	}
	return &StatusSnapshot{
		RunID:      runID,
		State:      r.ec.GetState(),
		StepStates: r.ec.StepStates(),
		ErrorLog:   r.ec.ErrorLog,
	}, nil
}

// ListActiveExecutions returns run ids whose state is not terminal.
func (s *Supervisor) ListActiveExecutions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, r := range s.executions {
		switch r.ec.GetState() {
		case playbook.StateCompleted, playbook.StateFailed, playbook.StateCancelled, playbook.StateRolledBack:
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) get(runID string) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions[runID]
}

func findStep(pb *playbook.Playbook, id string) playbook.Step {
	for _, s := range pb.Steps {
		if s.ID == id {
			return s
		}
	}
	return playbook.Step{ID: id}
}

func awaitingApproval(ec *playbook.ExecutionContext, wave playbook.Wave) bool {
	for _, id := range wave {
		if r, ok := ec.GetStepResult(id); ok && r.State == playbook.StepWaitingApproval {
			return true
		}
	}
	return false
}

func anyFailed(ec *playbook.ExecutionContext, wave playbook.Wave) bool {
	for _, id := range wave {
		if r, ok := ec.GetStepResult(id); ok && r.State == playbook.StepFailed {
			return true
		}
	}
	return false
}

func anyFailedOverall(ec *playbook.ExecutionContext) bool {
	for _, r := range ec.Steps {
		if r.State == playbook.StepFailed {
			return true
		}
	}
	return false
}
