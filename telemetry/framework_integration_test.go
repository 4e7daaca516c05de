package telemetry

import (
	"context"
	"testing"

	"github.com/lancejames221b/playbook-engine/core"
)

func TestEnableFrameworkIntegration_RegistersWithCore(t *testing.T) {
	EnableFrameworkIntegration(nil)
	t.Cleanup(func() { core.SetMetricsRegistry(nil) })

	reg := core.GetGlobalMetricsRegistry()
	if reg == nil {
		t.Fatal("expected a metrics registry to be registered")
	}

	// These must not panic even with no telemetry registry initialized.
	reg.Counter("test.counter")
	reg.Gauge("test.gauge", 1.0)
	reg.Histogram("test.histogram", 1.0)
	reg.EmitWithContext(context.Background(), "test.metric", 1.0)
	if baggage := reg.GetBaggage(context.Background()); baggage != nil {
		t.Errorf("expected nil baggage on a bare context, got %v", baggage)
	}
}
