package playbook

import "testing"

func TestPlan_SequentialChain(t *testing.T) {
	pb := &Playbook{
		Name: "Seq",
		Steps: []Step{
			{ID: "s1", ActionType: ActionNoop},
			{ID: "s2", ActionType: ActionNoop, DependsOn: []string{"s1"}},
			{ID: "s3", ActionType: ActionNoop, DependsOn: []string{"s2"}},
		},
	}
	waves, err := Plan(pb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("len(waves) = %d, want 3", len(waves))
	}
	for i, w := range waves {
		if len(w) != 1 {
			t.Errorf("wave %d has %d steps, want 1", i, len(w))
		}
	}
}

func TestPlan_ParallelGroupThenSequential(t *testing.T) {
	pb := &Playbook{
		Name: "Parallel",
		Steps: []Step{
			{ID: "p1", ActionType: ActionWait, ParallelGroup: "g"},
			{ID: "p2", ActionType: ActionWait, ParallelGroup: "g"},
			{ID: "p3", ActionType: ActionWait, ParallelGroup: "g"},
			{ID: "s4", ActionType: ActionNoop, DependsOn: []string{"p1", "p2", "p3"}},
		},
	}
	waves, err := Plan(pb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 2 {
		t.Fatalf("len(waves) = %d, want 2", len(waves))
	}
	if len(waves[0]) != 3 {
		t.Fatalf("first wave size = %d, want 3", len(waves[0]))
	}
	if len(waves[1]) != 1 || waves[1][0] != "s4" {
		t.Fatalf("second wave = %v, want [s4]", waves[1])
	}
}

func TestPlan_DeclarationOrderBreaksWaveOnSequentialCandidate(t *testing.T) {
	pb := &Playbook{
		Name: "Mixed",
		Steps: []Step{
			{ID: "a", ActionType: ActionNoop, ParallelGroup: "g"},
			{ID: "b", ActionType: ActionNoop}, // sequential, no group: must start its own wave
			{ID: "c", ActionType: ActionNoop, ParallelGroup: "g"},
		},
	}
	waves, err := Plan(pb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a starts wave 1 (group g); b has no group so it can't join -> new wave;
	// c has group g, so it joins b's wave.
	if len(waves) != 2 {
		t.Fatalf("len(waves) = %d, want 2, got %v", len(waves), waves)
	}
}

func TestPlan_DistinctParallelGroupNamesStillShareAWave(t *testing.T) {
	pb := &Playbook{
		Name: "CrossGroup",
		Steps: []Step{
			{ID: "a", ActionType: ActionWait, ParallelGroup: "fetch"},
			{ID: "b", ActionType: ActionWait, ParallelGroup: "scan"},
		},
	}
	waves, err := Plan(pb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 1 || len(waves[0]) != 2 {
		t.Fatalf("waves = %v, want a single wave containing both steps", waves)
	}
}

func TestPlan_UnresolvableDependency(t *testing.T) {
	// Validate() would normally catch this, but Plan must also defend
	// itself if called directly against a hand-built Playbook.
	pb := &Playbook{
		Name: "Bad",
		Steps: []Step{
			{ID: "s1", ActionType: ActionNoop, DependsOn: []string{"missing"}},
		},
	}
	_, err := Plan(pb)
	if err == nil {
		t.Fatal("expected cannot-resolve-dependencies error")
	}
}
