package playbook

import (
	"strings"
	"testing"
)

const basicYAML = `
name: Basic
steps:
  - id: s1
    action: http_request
    args: {method: GET, url: "https://example.com"}
  - id: s2
    action: wait
    args: {seconds: 1}
    depends_on: [s1]
  - id: s3
    action: noop
    args: {message: "done"}
    depends_on: [s2]
`

func TestParse_YAML(t *testing.T) {
	pb, err := Parse([]byte(basicYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pb.Name != "Basic" {
		t.Errorf("Name = %q, want Basic", pb.Name)
	}
	if len(pb.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(pb.Steps))
	}
}

func TestParse_JSON(t *testing.T) {
	doc := `{"name":"Basic","steps":[{"action":"noop","args":{"message":"hi"}}]}`
	pb, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pb.Steps[0].ID != "step_1" {
		t.Errorf("auto-assigned ID = %q, want step_1", pb.Steps[0].ID)
	}
}

func TestParse_MissingName(t *testing.T) {
	_, err := Parse([]byte(`steps: [{action: noop}]`))
	if err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestParse_DuplicateStepID(t *testing.T) {
	_, err := Parse([]byte(`
name: Dup
steps:
  - {id: s1, action: noop}
  - {id: s1, action: noop}
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate step id error, got %v", err)
	}
}

func TestParse_UnknownDependency(t *testing.T) {
	_, err := Parse([]byte(`
name: Unknown
steps:
  - {id: s1, action: noop, depends_on: [ghost]}
`))
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestParse_CircularDependency(t *testing.T) {
	_, err := Parse([]byte(`
name: Circular
steps:
  - {id: s1, action: noop, depends_on: [s2]}
  - {id: s2, action: noop, depends_on: [s1]}
`))
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular dependency error, got %v", err)
	}
}

func TestParse_ParallelGroupConflict(t *testing.T) {
	_, err := Parse([]byte(`
name: GroupConflict
steps:
  - {id: s1, action: noop, parallel_group: g}
  - {id: s2, action: noop, parallel_group: g, depends_on: [s1]}
`))
	if err == nil {
		t.Fatal("expected error: sibling in same parallel_group cannot be a dependency")
	}
}
