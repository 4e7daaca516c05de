package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedAllowsExecution(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	if !cb.CanExecute() {
		t.Fatal("a fresh breaker must be closed")
	}
	if cb.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("after 1/2 failures State() = %v, want closed", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("after 2/2 failures State() = %v, want open", cb.State())
	}
	if cb.CanExecute() {
		t.Fatal("an open breaker must not allow execution before the recovery timeout")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("State() = %v, want closed (success should have reset the streak)", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeSucceedsAndCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected the recovery timeout to allow a half-open probe")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("State() = %v, want closed after a successful probe", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.CanExecute() // admits the probe, transitions to half-open

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open after a failed probe", cb.State())
	}
	if cb.CanExecute() {
		t.Fatal("a reopened breaker must not allow another attempt before its new recovery window elapses")
	}
}

func TestCircuitBreaker_HalfOpenAdmitsOnlyOneProbeAtATime(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.CanExecute() {
		t.Fatal("expected the first half-open probe to be admitted")
	}
	if cb.CanExecute() {
		t.Fatal("a second concurrent probe must not be admitted while the first is in flight")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed || !cb.CanExecute() {
		t.Fatal("Reset must force the breaker back to closed")
	}
}

func TestCircuitState_String(t *testing.T) {
	cases := map[CircuitState]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
