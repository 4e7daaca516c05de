package classify

import (
	"testing"
	"time"
)

func TestClassify_MatchesKnownPatterns(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name     string
		message  string
		category Category
	}{
		{"connection timeout", "Connection Timeout while dialing host", CategoryTimeout},
		{"read timeout", "read timeout after 30s", CategoryTimeout},
		{"connection refused", "connection refused by peer", CategoryNetwork},
		{"dns failure", "DNS resolution failed for host", CategoryNetwork},
		{"http 5xx", "http 503 internal server error", CategoryTemporary},
		{"http 429", "HTTP 429 too many requests", CategoryTemporary},
		{"http 4xx client", "403 forbidden", CategoryAuthentication},
		{"token expired", "auth token expired, please relogin", CategoryAuthentication},
		{"disk full", "no space left on device", CategoryResource},
		{"memory exhausted", "out of memory", CategoryResource},
		{"service unavailable", "service unavailable, try later", CategoryTemporary},
		{"validation failed", "validation failed: missing field", CategoryValidation},
		{"unknown falls back", "a completely novel error", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := c.Classify(tt.message)
			if p.Category != tt.category {
				t.Errorf("Classify(%q).Category = %v, want %v", tt.message, p.Category, tt.category)
			}
		})
	}
}

func TestDecide_NoneStrategyNeverRetries(t *testing.T) {
	c := NewClassifier()
	d := c.Decide("step-1", "403 forbidden", 0, 0)
	if d.ShouldRetry {
		t.Error("expected http_4xx_client (none strategy) to never retry")
	}
}

func TestDecide_ExponentialRetriesUntilCeiling(t *testing.T) {
	c := NewClassifier()
	d := c.Decide("step-1", "connection timeout", 0, 0)
	if !d.ShouldRetry {
		t.Fatal("expected retry on first attempt")
	}
	if d.Category != CategoryTimeout {
		t.Errorf("Category = %v, want timeout", d.Category)
	}

	d = c.Decide("step-1", "connection timeout", 5, 0)
	if d.ShouldRetry {
		t.Error("expected no retry once max_retries (5) reached")
	}
	if !d.MaxAttemptsReached {
		t.Error("expected MaxAttemptsReached=true")
	}
}

func TestDecide_StepOverridesMaxAttempts(t *testing.T) {
	c := NewClassifier()
	d := c.Decide("step-1", "connection timeout", 1, 2)
	if d.ShouldRetry {
		t.Error("expected step-level max_attempts=2 to cap retry at attempt 1")
	}
}

func TestDecide_CircuitBreakerOpensAfterThreshold(t *testing.T) {
	c := NewClassifier()
	for i := 0; i < circuitFailureThreshold; i++ {
		c.RecordOutcome("step-2", CategoryNetwork, false)
	}
	d := c.Decide("step-2", "connection refused", 0, 0)
	if d.ShouldRetry {
		t.Error("expected circuit breaker to be open and block retry")
	}
}

func TestDecide_CircuitBreakerIsolatedPerStepAndCategory(t *testing.T) {
	c := NewClassifier()
	for i := 0; i < circuitFailureThreshold; i++ {
		c.RecordOutcome("step-a", CategoryNetwork, false)
	}
	// A different step id with the same category must have its own breaker.
	d := c.Decide("step-b", "connection refused", 0, 0)
	if !d.ShouldRetry {
		t.Error("expected step-b's breaker to be independent of step-a's")
	}
}

func TestDelayFor_LinearAndExponential(t *testing.T) {
	linear := Pattern{Strategy: StrategyLinear, BaseDelay: 10 * time.Second}
	if got := delayFor(linear, 2); got < 27 || got > 33 {
		t.Errorf("linear delay at attempt 2 = %v, want ~30 (±10%%)", got)
	}

	exp := Pattern{Strategy: StrategyExponential, BaseDelay: 1 * time.Second, MaxDelay: 16 * time.Second}
	if got := delayFor(exp, 10); got > 17.6 {
		t.Errorf("exponential delay must cap at max_delay+jitter, got %v", got)
	}
}

func TestDecide_CustomHandlerInvoked(t *testing.T) {
	called := false
	c := NewClassifier(WithCustomHandler("refresh_auth_token", func() error {
		called = true
		return nil
	}))

	d := c.Decide("step-3", "token expired", 0, 0)
	if !d.ShouldRetry {
		t.Fatal("expected auth_token_expired to retry (immediate strategy)")
	}
	if !called {
		t.Error("expected custom handler to be invoked before retry")
	}
	if d.DelaySeconds != 0 {
		t.Errorf("immediate strategy should have zero delay, got %v", d.DelaySeconds)
	}
}
