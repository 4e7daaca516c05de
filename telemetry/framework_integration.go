package telemetry

import (
	"context"

	"github.com/lancejames221b/playbook-engine/core"
)

// engineMetricsRegistry implements core.MetricsRegistry, letting
// core.Logger emit a metric alongside every structured log line once
// telemetry has been initialized.
type engineMetricsRegistry struct {
	logger *TelemetryLogger
}

func (r *engineMetricsRegistry) Counter(name string, labels ...string) {
	Emit(name, 1.0, labels...)
}

func (r *engineMetricsRegistry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	EmitWithContext(ctx, name, value, labels...)
}

func (r *engineMetricsRegistry) GetBaggage(ctx context.Context) map[string]string {
	return GetBaggage(ctx)
}

func (r *engineMetricsRegistry) Gauge(name string, value float64, labels ...string) {
	Gauge(name, value, labels...)
}

func (r *engineMetricsRegistry) Histogram(name string, value float64, labels ...string) {
	Histogram(name, value, labels...)
}

// EnableFrameworkIntegration registers telemetry as core's MetricsRegistry
// so every core.Logger call (step runner, supervisor, rule store, Redis
// awareness client) emits a correlated metric, not just a log line. Called
// once from Initialize.
func EnableFrameworkIntegration(logger *TelemetryLogger) {
	core.SetMetricsRegistry(&engineMetricsRegistry{logger: logger})
	if logger != nil {
		logger.Info("core metrics registry enabled", map[string]interface{}{
			"methods": []string{"Counter", "EmitWithContext", "GetBaggage"},
		})
	}
}
