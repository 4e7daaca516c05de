package playbook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lancejames221b/playbook-engine/core"
)

// Wave is one set of step ids the Execution Supervisor may run
// concurrently.
type Wave []string

// Plan builds the ordered list of waves for a validated playbook.
// Steps are scanned in declaration order; a wave starts with the
// first not-yet-done step whose dependencies are all satisfied, and
// absorbs any later candidate that also has a non-empty parallel_group
// (steps need not share the same group name to run concurrently).
// Plan assumes pb has already passed Validate.
func Plan(pb *Playbook) ([]Wave, error) {
	byID := make(map[string]Step, len(pb.Steps))
	for _, s := range pb.Steps {
		byID[s.ID] = s
	}

	done := make(map[string]bool, len(pb.Steps))
	var waves []Wave

	for len(done) < len(pb.Steps) {
		var wave Wave

		for _, s := range pb.Steps {
			if done[s.ID] {
				continue
			}
			if !dependenciesSatisfied(s.DependsOn, done) {
				continue
			}

			if len(wave) == 0 || s.ParallelGroup != "" {
				wave = append(wave, s.ID)
				continue
			}
			// Sequential candidate after the wave has a member: stop here.
			break
		}

		if len(wave) == 0 {
			remaining := make([]string, 0, len(pb.Steps)-len(done))
			for _, s := range pb.Steps {
				if !done[s.ID] {
					remaining = append(remaining, s.ID)
				}
			}
			sort.Strings(remaining)
			return nil, fmt.Errorf("cannot resolve dependencies for: %s: %w", strings.Join(remaining, ", "), core.ErrPlaybookInvalid)
		}

		for _, id := range wave {
			done[id] = true
		}
		waves = append(waves, wave)
	}

	return waves, nil
}

func dependenciesSatisfied(dependsOn []string, done map[string]bool) bool {
	for _, dep := range dependsOn {
		if !done[dep] {
			return false
		}
	}
	return true
}
