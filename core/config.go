package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the ambient configuration for the engine. It supports the
// same three-layer priority as the rest of this stack:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("prod-engine"),
//	    WithMaxParallelSteps(8),
//	    WithRulesDBPath("/var/lib/playbooks/rules.db"),
//	)
type Config struct {
	Name      string `json:"name" env:"ENGINE_NAME"`
	Namespace string `json:"namespace" env:"ENGINE_NAMESPACE" default:"default"`

	Playbook PlaybookConfig `json:"playbook"`
	Rules    RulesConfig    `json:"rules"`
	Awareness AwarenessConfig `json:"awareness"`

	Telemetry TelemetryConfig `json:"telemetry"`
	Logging   LoggingConfig   `json:"logging"`

	Development DevelopmentConfig `json:"development"`

	logger Logger `json:"-"`
}

// PlaybookConfig configures the execution engine (C3/C5/C6/C7).
type PlaybookConfig struct {
	MaxParallelSteps int           `json:"max_parallel_steps" env:"PLAYBOOK_MAX_PARALLEL_STEPS" default:"5"`
	HTTPTimeout      time.Duration `json:"http_timeout" env:"PLAYBOOK_HTTP_TIMEOUT" default:"20s"`
	// ShellEnabled is a hard gate: shell actions fail closed unless this is
	// explicitly set true at construction. There is no runtime override.
	ShellEnabled bool `json:"shell_enabled" env:"PLAYBOOK_SHELL_ENABLED" default:"false"`
}

// RulesConfig configures the Rule Model & Store (C8).
type RulesConfig struct {
	DBPath              string `json:"db_path" env:"RULES_DB_PATH" default:"./rules.db"`
	BroadcastRedisURL   string `json:"broadcast_redis_url" env:"RULES_BROADCAST_REDIS_URL"`
	BroadcastEnabled    bool   `json:"broadcast_enabled" env:"RULES_BROADCAST_ENABLED" default:"false"`
}

// AwarenessConfig configures the Awareness Publisher (C12).
type AwarenessConfig struct {
	QueueSize int `json:"queue_size" env:"AWARENESS_SINK_QUEUE_SIZE" default:"1024"`
}

// TelemetryConfig contains observability configuration for metrics and
// distributed tracing. Optional module; only initialized when Enabled=true.
type TelemetryConfig struct {
	Enabled        bool    `json:"enabled" env:"ENGINE_TELEMETRY_ENABLED" default:"false"`
	Endpoint       string  `json:"endpoint" env:"ENGINE_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string  `json:"service_name" env:"ENGINE_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	MetricsEnabled bool    `json:"metrics_enabled" env:"ENGINE_TELEMETRY_METRICS" default:"true"`
	TracingEnabled bool    `json:"tracing_enabled" env:"ENGINE_TELEMETRY_TRACING" default:"true"`
	SamplingRate   float64 `json:"sampling_rate" env:"ENGINE_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure       bool    `json:"insecure" env:"ENGINE_TELEMETRY_INSECURE" default:"true"`
}

// LoggingConfig contains logging configuration. Supports structured (JSON)
// and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" env:"ENGINE_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"ENGINE_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"ENGINE_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"ENGINE_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.999999999Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"ENGINE_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"ENGINE_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"ENGINE_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring the engine.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:      "playbook-engine",
		Namespace: "default",
		Playbook: PlaybookConfig{
			MaxParallelSteps: 5,
			HTTPTimeout:      20 * time.Second,
			ShellEnabled:     false,
		},
		Rules: RulesConfig{
			DBPath:           "./rules.db",
			BroadcastEnabled: false,
		},
		Awareness: AwarenessConfig{
			QueueSize: 1024,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			MetricsEnabled: true,
			TracingEnabled: true,
			SamplingRate:   1.0,
			Insecure:       true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
		Development: DevelopmentConfig{
			Enabled:      false,
			DebugLogging: false,
			PrettyLogs:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables and validates
// the result. Environment variables take precedence over defaults but are
// overridden by functional options.
func (c *Config) LoadFromEnv() error {
	if c.logger != nil {
		c.logger.Info("Loading configuration from environment", map[string]interface{}{
			"config_source": "environment_variables",
		})
	}

	if v := os.Getenv("ENGINE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("ENGINE_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	if v := os.Getenv("PLAYBOOK_MAX_PARALLEL_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Playbook.MaxParallelSteps = n
		} else if c.logger != nil {
			c.logger.Warn("Invalid PLAYBOOK_MAX_PARALLEL_STEPS", map[string]interface{}{"value": v})
		}
	}
	if v := os.Getenv("PLAYBOOK_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Playbook.HTTPTimeout = d
		}
	}
	if v := os.Getenv("PLAYBOOK_SHELL_ENABLED"); v != "" {
		c.Playbook.ShellEnabled = parseBool(v)
	}

	if v := os.Getenv("RULES_DB_PATH"); v != "" {
		c.Rules.DBPath = v
	}
	if v := os.Getenv("RULES_BROADCAST_REDIS_URL"); v != "" {
		c.Rules.BroadcastRedisURL = v
		c.Rules.BroadcastEnabled = true
	}
	if v := os.Getenv("RULES_BROADCAST_ENABLED"); v != "" {
		c.Rules.BroadcastEnabled = parseBool(v)
	}

	if v := os.Getenv("AWARENESS_SINK_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Awareness.QueueSize = n
		}
	}

	if v := os.Getenv("ENGINE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("ENGINE_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("ENGINE_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.Name
	}

	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ENGINE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("ENGINE_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("ENGINE_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	if err := c.Validate(); err != nil {
		if c.logger != nil {
			c.logger.Error("Configuration validation failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return err
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file. File settings override
// environment variables but are overridden by functional options.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath)) // nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "engine name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Playbook.MaxParallelSteps < 1 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid max_parallel_steps: %d", c.Playbook.MaxParallelSteps),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Rules.DBPath == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "rules db path is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required when telemetry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WithName sets the engine name, used for identification in logs.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithNamespace sets the logical namespace (multi-tenancy, env separation).
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithMaxParallelSteps bounds how many steps within one wave run
// concurrently (§5 resource limits, default 5).
func WithMaxParallelSteps(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &FrameworkError{Op: "WithMaxParallelSteps", Kind: "config", Message: fmt.Sprintf("invalid max_parallel_steps: %d", n), Err: ErrInvalidConfiguration}
		}
		c.Playbook.MaxParallelSteps = n
		return nil
	}
}

// WithHTTPTimeout sets the default timeout for http_request actions.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Playbook.HTTPTimeout = d
		return nil
	}
}

// WithShellEnabled flips the shell-action hard gate. Disabled by default;
// there is no per-step override, only this construction-time flag.
func WithShellEnabled(enabled bool) Option {
	return func(c *Config) error {
		c.Playbook.ShellEnabled = enabled
		return nil
	}
}

// WithRulesDBPath sets the sqlite file backing the Rule Store.
func WithRulesDBPath(path string) Option {
	return func(c *Config) error {
		c.Rules.DBPath = path
		return nil
	}
}

// WithRulesBroadcast enables cross-node rule change broadcast over Redis
// pub/sub.
func WithRulesBroadcast(redisURL string) Option {
	return func(c *Config) error {
		c.Rules.BroadcastRedisURL = redisURL
		c.Rules.BroadcastEnabled = true
		return nil
	}
}

// WithAwarenessQueueSize sets the bounded local queue size for the
// Awareness Publisher's best-effort emission.
func WithAwarenessQueueSize(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &FrameworkError{Op: "WithAwarenessQueueSize", Kind: "config", Message: "queue size must be positive", Err: ErrInvalidConfiguration}
		}
		c.Awareness.QueueSize = n
		return nil
	}
}

// WithTelemetry enables telemetry with the specified OTLP endpoint.
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		if c.Telemetry.ServiceName == "" {
			c.Telemetry.ServiceName = c.Name
		}
		return nil
	}
}

// WithLogLevel sets the minimum logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithConfigFile loads configuration from a JSON file before other options
// are applied, so later options can override file settings.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithDevelopmentMode enables developer-friendly defaults: pretty logs,
// debug level, text format.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// WithLogger sets a logger used during config loading, parsing, and
// validation. If not set, configuration operations are silent.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig creates a new configuration with the provided options, applied
// in order: defaults, environment, functional options, then validation.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the engine-wide logger configured for this Config.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return &NoOpLogger{}
	}
	return c.logger
}

// ============================================================================
// ProductionLogger — layered observability (structured logs + metrics)
// ============================================================================

// ProductionLogger provides layered observability for engine operations:
// structured log lines plus, once telemetry registers a MetricsRegistry,
// a parallel metrics emission for every logged event.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		metricsEnabled: false,
	}
}

// EnableMetrics is called once a telemetry MetricsRegistry becomes
// available.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) WithComponent(component string) Logger {
	return &componentLogger{base: p, component: component}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	p.logEventComponent(level, "engine", msg, fields, ctx)
}

func (p *ProductionLogger) logEventComponent(level, component, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": component,
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fmt.Fprintf(&fieldStr, "%s=%v ", k, v)
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n",
			timestamp, level, p.serviceName, component, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitEngineMetric(level, component, fields, ctx)
	}
}

func (p *ProductionLogger) emitEngineMetric(level, component string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
		"component", component,
	}

	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "category", "state":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "engine.operations", 1.0, labels...)
	} else {
		emitMetric("engine.operations", 1.0, labels...)
	}
}

// componentLogger tags every log line with a fixed component name while
// delegating the actual write to the base ProductionLogger.
type componentLogger struct {
	base      *ProductionLogger
	component string
}

func (c *componentLogger) Info(msg string, fields map[string]interface{}) {
	c.base.logEventComponent("INFO", c.component, msg, fields, nil)
}
func (c *componentLogger) Error(msg string, fields map[string]interface{}) {
	c.base.logEventComponent("ERROR", c.component, msg, fields, nil)
}
func (c *componentLogger) Warn(msg string, fields map[string]interface{}) {
	c.base.logEventComponent("WARN", c.component, msg, fields, nil)
}
func (c *componentLogger) Debug(msg string, fields map[string]interface{}) {
	if c.base.debug {
		c.base.logEventComponent("DEBUG", c.component, msg, fields, nil)
	}
}
func (c *componentLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.base.logEventComponent("INFO", c.component, msg, fields, ctx)
}
func (c *componentLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.base.logEventComponent("ERROR", c.component, msg, fields, ctx)
}
func (c *componentLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.base.logEventComponent("WARN", c.component, msg, fields, ctx)
}
func (c *componentLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if c.base.debug {
		c.base.logEventComponent("DEBUG", c.component, msg, fields, ctx)
	}
}

func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
