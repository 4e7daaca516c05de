package playbook

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lancejames221b/playbook-engine/core"
)

// Parse decodes a playbook from raw YAML or JSON bytes, auto-detecting
// the format from leading whitespace-trimmed content: '{' means
// JSON, anything else is tried as YAML (a superset of JSON already
// handles pure JSON documents, but explicit JSON detection keeps error
// messages format-specific).
func Parse(data []byte) (*Playbook, error) {
	trimmed := strings.TrimSpace(string(data))
	var pb Playbook

	var err error
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal(data, &pb)
	} else {
		err = yaml.Unmarshal(data, &pb)
	}
	if err != nil {
		return nil, fmt.Errorf("parse playbook: %w: %w", core.ErrPlaybookInvalid, err)
	}

	assignStepIDs(&pb)

	if err := Validate(&pb); err != nil {
		return nil, err
	}
	return &pb, nil
}

// assignStepIDs fills in auto step_N ids for steps that omit one.
func assignStepIDs(pb *Playbook) {
	for i := range pb.Steps {
		if pb.Steps[i].ID == "" {
			pb.Steps[i].ID = fmt.Sprintf("step_%d", i+1)
		}
	}
}

// Validate checks the structural invariants a playbook must satisfy
// before any wave is planned: unique step ids, every depends_on target
// resolvable, and no parallel_group member depending on a sibling in
// the same group.
func Validate(pb *Playbook) error {
	if pb.Name == "" {
		return fmt.Errorf("playbook name is required: %w", core.ErrPlaybookInvalid)
	}
	if len(pb.Steps) == 0 {
		return fmt.Errorf("playbook must declare at least one step: %w", core.ErrPlaybookInvalid)
	}

	seen := make(map[string]bool, len(pb.Steps))
	groupOf := make(map[string]string, len(pb.Steps))
	for _, s := range pb.Steps {
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q: %w", s.ID, core.ErrDuplicateStepID)
		}
		seen[s.ID] = true
		if s.ParallelGroup != "" {
			groupOf[s.ID] = s.ParallelGroup
		}
	}

	for _, s := range pb.Steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("step %q depends on unknown step %q: %w", s.ID, dep, core.ErrUnknownDependency)
			}
			if group, ok := groupOf[s.ID]; ok && groupOf[dep] == group && group != "" {
				return fmt.Errorf("step %q in parallel_group %q cannot depend on sibling %q: %w", s.ID, group, dep, core.ErrParallelGroupConflict)
			}
		}
	}

	if err := detectCycles(pb); err != nil {
		return err
	}

	return nil
}

func detectCycles(pb *Playbook) error {
	deps := make(map[string][]string, len(pb.Steps))
	for _, s := range pb.Steps {
		deps[s.ID] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(pb.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("circular dependency detected at step %q: %w", id, core.ErrCircularDependency)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range pb.Steps {
		if color[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
