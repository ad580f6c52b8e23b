package statemachine

import "testing"

func TestHappyPathPhaseTransitions(t *testing.T) {
	m := New()

	m.RecordToolUse("execute_command", map[string]string{"command": "pytest x.py"}, "… FAILED … 5 failed")
	if m.GetState().Phase != PhaseModify {
		t.Fatalf("phase after call 1 = %s, want MODIFY", m.GetState().Phase)
	}

	if m.IsToolAllowed("attempt_completion") {
		t.Fatal("attempt_completion should not be allowed before VERIFY")
	}

	m.RecordToolUse("apply_diff", map[string]string{"path": "f.py"}, "applied")
	for i := 0; i < VerifyThresholdCommands; i++ {
		m.RecordToolUse("execute_command", map[string]string{"command": "pytest x.py"}, "… PASSED … 5 passed")
	}

	state := m.GetState()
	if state.Phase != PhaseVerify {
		t.Fatalf("phase after call 8 = %s, want VERIFY", state.Phase)
	}
	if !m.IsToolAllowed("attempt_completion") {
		t.Fatal("attempt_completion should be allowed in VERIFY")
	}
	if len(state.ModifiedFiles) != 1 || state.ModifiedFiles[0] != "f.py" {
		t.Fatalf("ModifiedFiles = %v, want [f.py]", state.ModifiedFiles)
	}
}

func TestVerifyInvariantRequiresThreshold(t *testing.T) {
	m := New()
	m.RecordToolUse("execute_command", nil, "failed")
	m.RecordToolUse("apply_diff", map[string]string{"path": "a.py"}, "applied")
	for i := 0; i < VerifyThresholdCommands-1; i++ {
		m.RecordToolUse("execute_command", nil, "passed")
	}
	if m.GetState().Phase == PhaseVerify {
		t.Fatal("should not reach VERIFY before the threshold count of execute_command calls")
	}
}

func TestApplyDiffBlockedFirstInAnalyze(t *testing.T) {
	m := New()
	if m.IsToolAllowed("apply_diff") {
		t.Fatal("apply_diff should be blocked on first attempt in ANALYZE")
	}
	if !m.ShouldShowFirstModificationGuidance() {
		t.Fatal("expected first-modification guidance to be due")
	}
	m.MarkFirstModificationGuidanceShown()
	if m.ShouldShowFirstModificationGuidance() {
		t.Fatal("guidance latch must not re-trigger")
	}
}

func TestApplyDiffAllowedAfterTestRun(t *testing.T) {
	m := New()
	m.RecordToolUse("execute_command", nil, "ran tests")
	if !m.IsToolAllowed("apply_diff") {
		t.Fatal("apply_diff should be allowed in ANALYZE once has_run_tests is true")
	}
}

func TestGetBlockReasonModifyReportsRemaining(t *testing.T) {
	m := New()
	m.RecordToolUse("execute_command", nil, "failed")
	m.RecordToolUse("apply_diff", map[string]string{"path": "a.py"}, "applied")
	reason, blocked := m.GetBlockReason("attempt_completion")
	if !blocked {
		t.Fatal("expected attempt_completion to be blocked in MODIFY")
	}
	if reason == "" {
		t.Fatal("expected a non-empty block reason")
	}
}

func TestReasoningBudgetScalesWithToolCalls(t *testing.T) {
	m := New()
	cfg := m.GetCurrentReasoningConfig()
	if cfg.EffectiveBudget != cfg.MaxBudget/2 {
		t.Fatalf("initial EffectiveBudget = %d, want half of %d", cfg.EffectiveBudget, cfg.MaxBudget)
	}

	for i := 0; i < 50; i++ {
		m.RecordToolUse("read_file", nil, "")
	}
	cfg = m.GetCurrentReasoningConfig()
	if cfg.EffectiveBudget != int(float64(cfg.MaxBudget)*1.0) {
		t.Fatalf("EffectiveBudget after 50 calls = %d, want full %d", cfg.EffectiveBudget, cfg.MaxBudget)
	}
}

func TestCanTransitionToGates(t *testing.T) {
	m := New()
	if !m.CanTransitionTo(PhaseAnalyze) {
		t.Error("ANALYZE should always be reachable")
	}
	if m.CanTransitionTo(PhaseModify) {
		t.Error("MODIFY should require has_run_tests")
	}
	m.RecordToolUse("execute_command", nil, "")
	if !m.CanTransitionTo(PhaseModify) {
		t.Error("MODIFY should be reachable once has_run_tests is true")
	}
}

func TestForcePhaseBypassesInvariants(t *testing.T) {
	m := New()
	m.ForcePhase(PhaseVerify)
	if m.GetState().Phase != PhaseVerify {
		t.Fatal("ForcePhase should apply even when invariants are not satisfied")
	}
}
