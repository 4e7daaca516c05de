// Package classify maps a step failure's error text to a category via a
// prioritized regex table, turns that category into a retry decision, and
// guards each (step_id, category) pair behind its own circuit breaker.
package classify

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/resilience"
	"github.com/lancejames221b/playbook-engine/telemetry"
)

// Strategy is a retry delay strategy.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyImmediate   Strategy = "immediate"
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Category is one of the classifier's fixed failure categories.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryTimeout       Category = "timeout"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization Category = "authorization"
	CategoryValidation    Category = "validation"
	CategoryResource      Category = "resource"
	CategoryDependency    Category = "dependency"
	CategoryConfiguration Category = "configuration"
	CategoryTemporary     Category = "temporary"
	CategoryPermanent     Category = "permanent"
	CategoryUnknown       Category = "unknown"
)

// Pattern is one named entry in the classification table.
type Pattern struct {
	Name           string
	Regexes        []*regexp.Regexp
	Category       Category
	Strategy       Strategy
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	CustomHandler  string
}

// Decision is what the Step Runner consults after an action or
// post-validation failure.
type Decision struct {
	ShouldRetry        bool
	DelaySeconds        float64
	Strategy           Strategy
	Reason             string
	Category           Category
	MaxAttemptsReached bool
	CustomHandler      string
}

func mustCompile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// DefaultTable is the prioritized pattern table from the component design.
// Patterns are scanned in order; the first match wins.
func DefaultTable() []Pattern {
	return []Pattern{
		{
			Name:       "connection_timeout",
			Regexes:    mustCompile(`connection.*timeout`, `read.*timeout`),
			Category:   CategoryTimeout,
			Strategy:   StrategyExponential,
			MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second,
		},
		{
			Name:       "connection_refused",
			Regexes:    mustCompile(`connection.*refused`, `no route to host`),
			Category:   CategoryNetwork,
			Strategy:   StrategyExponential,
			MaxRetries: 3, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second,
		},
		{
			Name:       "dns_resolution",
			Regexes:    mustCompile(`name.*not.*resolved`, `dns.*resolution.*failed`),
			Category:   CategoryNetwork,
			Strategy:   StrategyLinear,
			MaxRetries: 3, BaseDelay: 10 * time.Second,
		},
		{
			Name:       "http_5xx",
			Regexes:    mustCompile(`http.*5\d\d`, `internal.*server.*error`),
			Category:   CategoryTemporary,
			Strategy:   StrategyExponential,
			MaxRetries: 4, BaseDelay: 1 * time.Second, MaxDelay: 16 * time.Second,
		},
		{
			Name:       "http_429",
			Regexes:    mustCompile(`http.*429`, `too.*many.*requests`),
			Category:   CategoryTemporary,
			Strategy:   StrategyExponential,
			MaxRetries: 5, BaseDelay: 5 * time.Second, MaxDelay: 120 * time.Second,
		},
		{
			Name:       "http_4xx_client",
			Regexes:    mustCompile(`http.*40[0-3]`, `unauthorized`, `forbidden`),
			Category:   CategoryAuthentication,
			Strategy:   StrategyNone,
			MaxRetries: 0,
		},
		{
			Name:          "auth_token_expired",
			Regexes:       mustCompile(`token.*expired`),
			Category:      CategoryAuthentication,
			Strategy:      StrategyImmediate,
			MaxRetries:    2,
			CustomHandler: "refresh_auth_token",
		},
		{
			Name:          "disk_full",
			Regexes:       mustCompile(`no.*space.*left`, `disk.*full`),
			Category:      CategoryResource,
			Strategy:      StrategyLinear,
			MaxRetries:    2, BaseDelay: 30 * time.Second,
			CustomHandler: "cleanup_disk_space",
		},
		{
			Name:          "memory_exhausted",
			Regexes:       mustCompile(`out.*of.*memory`),
			Category:      CategoryResource,
			Strategy:      StrategyLinear,
			MaxRetries:    2, BaseDelay: 60 * time.Second,
			CustomHandler: "free_memory",
		},
		{
			Name:       "service_unavailable",
			Regexes:    mustCompile(`service.*unavailable`),
			Category:   CategoryTemporary,
			Strategy:   StrategyExponential,
			MaxRetries: 5, BaseDelay: 10 * time.Second, MaxDelay: 300 * time.Second,
		},
		{
			Name:       "validation_failed",
			Regexes:    mustCompile(`validation.*failed`),
			Category:   CategoryValidation,
			Strategy:   StrategyNone,
			MaxRetries: 0,
		},
		{
			Name:       "temporary_failure",
			Regexes:    mustCompile(`try.*again.*later`),
			Category:   CategoryTemporary,
			Strategy:   StrategyExponential,
			MaxRetries: 3, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second,
		},
	}
}

const (
	conservativeMaxRetries = 2
	conservativeBaseDelay  = 5 * time.Second
	circuitFailureThreshold = 5
	circuitResetTimeout     = 300 * time.Second
)

// CustomHandler is a named side-effecting hook (refresh_auth_token,
// cleanup_disk_space, free_memory) invoked before the retry delay.
type CustomHandler func() error

// Classifier classifies failures, plans retries, and holds a registry of
// per-(step_id, category) circuit breakers.
type Classifier struct {
	table    []Pattern
	handlers map[string]CustomHandler
	logger   core.Logger

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTable overrides the default pattern table.
func WithTable(table []Pattern) Option {
	return func(c *Classifier) { c.table = table }
}

// WithCustomHandler registers a named side-effecting hook.
func WithCustomHandler(name string, handler CustomHandler) Option {
	return func(c *Classifier) { c.handlers[name] = handler }
}

// WithLogger attaches a component-tagged logger.
func WithLogger(logger core.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// NewClassifier builds a Classifier with the default pattern table.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		table:    DefaultTable(),
		handlers: make(map[string]CustomHandler),
		logger:   &core.NoOpLogger{},
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify scans the table for the first pattern whose regex matches msg.
// An empty match falls back to CategoryUnknown with a conservative profile.
func (c *Classifier) Classify(msg string) Pattern {
	for _, p := range c.table {
		for _, re := range p.Regexes {
			if re.MatchString(msg) {
				return p
			}
		}
	}
	return Pattern{
		Name:       "unknown",
		Category:   CategoryUnknown,
		Strategy:   StrategyExponential,
		MaxRetries: conservativeMaxRetries,
		BaseDelay:  conservativeBaseDelay,
	}
}

// Decide classifies errMsg, checks the (stepID, category) circuit breaker,
// and returns a retry decision. attempt is the number of retries already
// made (0 on the first failure). stepMaxAttempts, if > 0, overrides the
// pattern's default MaxRetries (a step's own `retry.max_attempts`): it
// counts total attempts, so it allows stepMaxAttempts-1 retries.
func (c *Classifier) Decide(stepID, errMsg string, attempt int, stepMaxAttempts int) Decision {
	pattern := c.Classify(errMsg)
	maxRetries := pattern.MaxRetries
	if stepMaxAttempts > 0 {
		maxRetries = stepMaxAttempts - 1
	}

	breaker := c.breakerFor(stepID, pattern.Category)
	if !breaker.CanExecute() {
		return Decision{
			ShouldRetry: false,
			Category:    pattern.Category,
			Reason:      fmt.Sprintf("circuit breaker open for step %q category %q", stepID, pattern.Category),
			Strategy:    pattern.Strategy,
		}
	}

	if attempt >= maxRetries {
		return Decision{
			ShouldRetry:        false,
			Category:           pattern.Category,
			Reason:             fmt.Sprintf("max retry attempts (%d) reached for category %q", maxRetries, pattern.Category),
			Strategy:           pattern.Strategy,
			MaxAttemptsReached: true,
		}
	}

	if pattern.Strategy == StrategyNone {
		return Decision{
			ShouldRetry: false,
			Category:    pattern.Category,
			Reason:      fmt.Sprintf("category %q is not retryable", pattern.Category),
			Strategy:    pattern.Strategy,
		}
	}

	if handler, ok := c.handlers[pattern.CustomHandler]; ok && pattern.CustomHandler != "" {
		if err := handler(); err != nil && c.logger != nil {
			c.logger.Warn("custom retry handler failed", map[string]interface{}{
				"handler": pattern.CustomHandler,
				"step_id": stepID,
				"error":   err.Error(),
			})
		}
	}

	return Decision{
		ShouldRetry:   true,
		DelaySeconds:  delayFor(pattern, attempt),
		Category:      pattern.Category,
		Reason:        fmt.Sprintf("retrying category %q via %s strategy", pattern.Category, pattern.Strategy),
		Strategy:      pattern.Strategy,
		CustomHandler: pattern.CustomHandler,
	}
}

// RecordOutcome feeds a step's action result back into its (stepID,
// category) circuit breaker.
func (c *Classifier) RecordOutcome(stepID string, category Category, success bool) {
	breaker := c.breakerFor(stepID, category)
	if success {
		breaker.RecordSuccess()
	} else {
		breaker.RecordFailure()
	}
	emitBreakerState(stepID, category, breaker)
}

func (c *Classifier) breakerFor(stepID string, category Category) *resilience.CircuitBreaker {
	key := stepID + "|" + string(category)

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[key]; ok {
		return b
	}
	b := resilience.NewCircuitBreaker(circuitFailureThreshold, circuitResetTimeout)
	c.breakers[key] = b
	return b
}

// emitBreakerState reports a breaker's state after a recorded outcome as a
// gauge (0=closed, 1=open, 2=half-open) so a dashboard can chart how often a
// given step/category pair is tripping, independent of whether the run
// that tripped it is still active.
func emitBreakerState(stepID string, category Category, b *resilience.CircuitBreaker) {
	telemetry.Gauge("classify.circuit_breaker.state", float64(b.State()),
		"step_id", stepID, "category", string(category))
}

// delayFor computes the retry delay in seconds per the strategy, with ±10%
// jitter applied (except immediate/none).
func delayFor(p Pattern, attempt int) float64 {
	base := p.BaseDelay.Seconds()
	var delay float64

	switch p.Strategy {
	case StrategyImmediate, StrategyNone:
		return 0
	case StrategyFixed:
		delay = base
	case StrategyLinear:
		delay = base * float64(attempt+1)
	case StrategyExponential:
		delay = base * math.Pow(2, float64(attempt))
		if p.MaxDelay > 0 && delay > p.MaxDelay.Seconds() {
			delay = p.MaxDelay.Seconds()
		}
	default:
		delay = base
	}

	jitter := (rand.Float64()*2 - 1) * 0.1 * delay
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}

// NormalizeMessage lowercases and trims an error message before
// classification, matching the table's case-insensitive intent.
func NormalizeMessage(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}
