package telemetry

// init declares the engine's own metric catalog up front, before
// Initialize() runs, so the OTel provider registers them with correct
// types/units/buckets rather than inferring them from whatever value
// happens to show up first.
func init() {
	DeclareMetrics("playbook", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    "step.duration_ms",
				Type:    "histogram",
				Help:    "Step execution duration in milliseconds",
				Labels:  []string{"action_type", "status"},
				Unit:    "ms",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000},
			},
			{
				Name:   "step.retries",
				Type:   "counter",
				Help:   "Step retry attempts by error category",
				Labels: []string{"step_id", "category"},
			},
			{
				Name:   "classify.circuit_breaker.state",
				Type:   "gauge",
				Help:   "Per-(step,category) circuit breaker state (0=closed,1=open,2=half-open)",
				Labels: []string{"step_id", "category"},
			},
			{
				Name:   "run.completed",
				Type:   "counter",
				Help:   "Playbook runs reaching a terminal state",
				Labels: []string{"playbook", "final_state"},
			},
		},
	})

	DeclareMetrics("rules", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "rules.evaluations",
				Type:   "counter",
				Help:   "Rule evaluations by match outcome",
				Labels: []string{"rule_id", "matched"},
			},
			{
				Name:   "rules.conflicts",
				Type:   "counter",
				Help:   "Conflict resolutions between competing rules",
				Labels: []string{"resolution"},
			},
			{
				Name:   "rules.assignments.expired",
				Type:   "counter",
				Help:   "Rule assignments marked expired by a sweep",
				Labels: []string{},
			},
		},
	})
}
