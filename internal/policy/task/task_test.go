package task

import (
	"reflect"
	"testing"

	"policyengine.dev/core/internal/policy/exploration"
)

func TestAppendNoteJoinsNonEmptyStrings(t *testing.T) {
	if got := appendNote("", "b"); got != "b" {
		t.Errorf("appendNote(%q, %q) = %q, want %q", "", "b", got, "b")
	}
	if got := appendNote("a", "b"); got != "a b" {
		t.Errorf("appendNote(%q, %q) = %q, want %q", "a", "b", got, "a b")
	}
}

func TestIsProjectRootAcceptsEmptyDotAndBareNames(t *testing.T) {
	for _, p := range []string{"", ".", "/", "src"} {
		if !isProjectRoot(p) {
			t.Errorf("isProjectRoot(%q) = false, want true", p)
		}
	}
	if isProjectRoot("src/pkg/file.py") {
		t.Error("isProjectRoot(\"src/pkg/file.py\") = true, want false")
	}
}

func TestUpdateExplorationSetsFlagsFromToolCalls(t *testing.T) {
	tk := New(Config{InstanceID: "django__django-12325"})

	tk.updateExploration("read_file", map[string]string{"path": "/testbed/README.rst"})
	if !tk.flags.ReadmeRead {
		t.Error("expected ReadmeRead to be set after reading a README path")
	}
	if tk.readCalls != 1 {
		t.Errorf("readCalls = %d, want 1", tk.readCalls)
	}

	tk.updateExploration("list_files", map[string]string{"path": "."})
	if !tk.flags.ProjectExplored {
		t.Error("expected ProjectExplored to be set after listing the project root")
	}

	tk.updateExploration("list_files", map[string]string{"path": "tests/auth_tests"})
	if !tk.flags.TestStructureExplored {
		t.Error("expected TestStructureExplored to be set after listing a test directory")
	}

	tk.updateExploration("read_file", map[string]string{"path": "tests/auth_tests/test_views.py"})
	if !tk.flags.TargetTestsLocated {
		t.Error("expected TargetTestsLocated to be set after reading a matching test file")
	}

	tk.updateExploration("execute_command", map[string]string{"command": "python tests/runtests.py"})
	if tk.testCalls != 1 {
		t.Errorf("testCalls = %d, want 1", tk.testCalls)
	}
}

func TestExplorationReportEscalatesOnRepeatedFingerprint(t *testing.T) {
	tk := New(Config{InstanceID: "psf/requests"})

	first := tk.ExplorationReport()
	second := tk.ExplorationReport()
	if second.EscalationLevel <= first.EscalationLevel {
		t.Errorf("expected escalation level to increase on an immediate repeat: first=%d second=%d",
			first.EscalationLevel, second.EscalationLevel)
	}
	if second.Bucket != exploration.BucketInsufficient {
		t.Errorf("bucket = %v, want %v for a freshly constructed task", second.Bucket, exploration.BucketInsufficient)
	}
}

func TestResetKeepsRepositoryConfigButClearsEverythingElse(t *testing.T) {
	tk := New(Config{InstanceID: "django__django-12325"})
	tk.updateExploration("read_file", map[string]string{"path": "README.md"})
	tk.RecordToolExecution("execute_command", map[string]string{"command": "python tests/runtests.py"}, "OK")

	repoBefore := tk.RepositoryConfig()

	tk.Reset()

	if tk.readCalls != 0 || tk.testCalls != 0 {
		t.Errorf("expected counters to reset, got readCalls=%d testCalls=%d", tk.readCalls, tk.testCalls)
	}
	if tk.flags != (exploration.Flags{}) {
		t.Errorf("expected flags to reset, got %+v", tk.flags)
	}
	if !reflect.DeepEqual(tk.RepositoryConfig(), repoBefore) {
		t.Errorf("expected repository configuration to survive Reset, got %+v want %+v", tk.RepositoryConfig(), repoBefore)
	}
	if tk.GetState().Counters.ToolCallsTotal != 0 {
		t.Error("expected a fresh StateMachine after Reset")
	}
}

func TestSnapshotRoundTripsExecutionHistoryAndResetsJinnangStreak(t *testing.T) {
	tk := New(Config{InstanceID: "psf/requests"})
	for i := 0; i < 3; i++ {
		tk.RecordToolExecution("apply_diff", map[string]string{"path": "requests/models.py"}, "ok")
	}

	snap := tk.Snapshot()
	if len(snap.Executions) != 3 {
		t.Fatalf("len(snap.Executions) = %d, want 3", len(snap.Executions))
	}

	restored := Restore(Config{InstanceID: "psf/requests"}, snap)
	if len(restored.Snapshot().Executions) != 3 {
		t.Error("expected restored task to carry over the execution history")
	}

	// A fourth apply_diff on the restored task must not be immediately
	// blocked as a jinnang streak, since restore resets the streak counter.
	decision := restored.Validate("apply_diff", map[string]string{"path": "requests/models.py"})
	if !decision.Allow {
		t.Errorf("expected apply_diff to be allowed right after restore, got blocked: %q", decision.Reason)
	}
}
