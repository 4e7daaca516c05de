package condition

import "testing"

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		pred     Predicate
		expected bool
	}{
		{"eq true", Predicate{Type: "eq", Left: "a", Right: "a"}, true},
		{"eq false", Predicate{Type: "eq", Left: "a", Right: "b"}, false},
		{"equals alias", Predicate{Type: "equals", Left: 1, Right: "1"}, true},
		{"ne true", Predicate{Type: "ne", Left: "a", Right: "b"}, true},
		{"not_equals alias", Predicate{Type: "not_equals", Left: "a", Right: "a"}, false},
		{"contains true", Predicate{Type: "contains", Left: "hello world", Right: "wor"}, true},
		{"contains false", Predicate{Type: "contains", Left: "hello", Right: "xyz"}, false},
		{"http_status match", Predicate{Type: "http_status", Left: 200, Right: 200}, true},
		{"http_status default 200", Predicate{Type: "http_status", Left: 200}, true},
		{"status_code mismatch", Predicate{Type: "status_code", Left: 404, Right: 200}, false},
		{"truthy bool", Predicate{Type: "truthy", Value: true}, true},
		{"truthy string yes", Predicate{Type: "truthy", Value: "yes"}, true},
		{"truthy string on", Predicate{Type: "truthy", Value: "on"}, true},
		{"truthy number nonzero", Predicate{Type: "truthy", Value: 5}, true},
		{"truthy number zero", Predicate{Type: "truthy", Value: 0}, false},
		{"falsy string no", Predicate{Type: "falsy", Value: "no"}, true},
		{"greater_than true", Predicate{Type: "greater_than", Left: 5, Right: 3}, true},
		{"greater_than false", Predicate{Type: "greater_than", Left: 1, Right: 3}, false},
		{"less_than true", Predicate{Type: "less_than", Left: 1.5, Right: 3}, true},
		{"unknown type fails safe", Predicate{Type: "bogus"}, false},
		{"non-numeric greater_than fails safe", Predicate{Type: "greater_than", Left: "abc", Right: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.pred, nil); got != tt.expected {
				t.Errorf("Evaluate(%+v) = %v, want %v", tt.pred, got, tt.expected)
			}
		})
	}
}

func TestEvaluateAll(t *testing.T) {
	allTrue := []Predicate{
		{Type: "eq", Left: "a", Right: "a"},
		{Type: "truthy", Value: true},
	}
	if !EvaluateAll(allTrue, nil) {
		t.Error("expected all predicates true to pass")
	}

	oneFalse := []Predicate{
		{Type: "eq", Left: "a", Right: "a"},
		{Type: "eq", Left: "a", Right: "b"},
	}
	if EvaluateAll(oneFalse, nil) {
		t.Error("expected one false predicate to fail the whole list")
	}

	if !EvaluateAll(nil, nil) {
		t.Error("expected empty predicate list to pass (vacuous AND)")
	}
}
