package playbook

import "testing"

func TestExecutionContext_SetVariableAppendOnly(t *testing.T) {
	ec := NewExecutionContext("run-1", "pb-1", map[string]interface{}{"env": "prod"}, nil)
	ec.SetVariable("status_code", 200)

	snap := ec.SnapshotVariables()
	if snap["env"] != "prod" {
		t.Errorf("params not merged into snapshot")
	}
	if snap["status_code"] != 200 {
		t.Errorf("variable not visible in snapshot")
	}
}

func TestExecutionContext_RollbackStackLIFO(t *testing.T) {
	ec := NewExecutionContext("run-1", "pb-1", nil, nil)
	ec.PushRollback("s1", RollbackSpec{Action: ActionNoop})
	ec.PushRollback("s2", RollbackSpec{Action: ActionShell})

	if ec.RollbackStackLen() != 2 {
		t.Fatalf("stack len = %d, want 2", ec.RollbackStackLen())
	}

	stepID, spec, ok := ec.PopRollback()
	if !ok || stepID != "s2" || spec.Action != ActionShell {
		t.Errorf("expected LIFO pop of s2/shell, got %q/%v ok=%v", stepID, spec.Action, ok)
	}

	stepID, _, ok = ec.PopRollback()
	if !ok || stepID != "s1" {
		t.Errorf("expected s1 next, got %q ok=%v", stepID, ok)
	}

	if _, _, ok := ec.PopRollback(); ok {
		t.Error("expected empty stack to report ok=false")
	}
}

func TestExecutionContext_Latches(t *testing.T) {
	ec := NewExecutionContext("run-1", "pb-1", nil, nil)
	ec.RequestPause()
	pause, cancel := ec.Latches()
	if !pause || cancel {
		t.Errorf("Latches() = (%v, %v), want (true, false)", pause, cancel)
	}
	ec.ClearPause()
	ec.RequestCancel()
	pause, cancel = ec.Latches()
	if pause || !cancel {
		t.Errorf("Latches() = (%v, %v), want (false, true)", pause, cancel)
	}
}

func TestExecutionContext_StepResults(t *testing.T) {
	ec := NewExecutionContext("run-1", "pb-1", nil, nil)
	ec.PutStepResult(&StepResult{StepID: "s1", State: StepCompleted})

	r, ok := ec.GetStepResult("s1")
	if !ok || r.State != StepCompleted {
		t.Fatalf("GetStepResult = %+v, ok=%v", r, ok)
	}

	states := ec.StepStates()
	if states["s1"] != StepCompleted {
		t.Errorf("StepStates()[s1] = %v, want COMPLETED", states["s1"])
	}
}
