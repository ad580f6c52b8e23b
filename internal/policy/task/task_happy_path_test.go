package task_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"policyengine.dev/core/internal/policy/statemachine"
	"policyengine.dev/core/internal/policy/task"
)

var _ = Describe("Task", func() {
	var tk *task.Task

	BeforeEach(func() {
		tk = task.New(task.Config{InstanceID: "django__django-12325"})
	})

	// S1: happy path. One failing run in ANALYZE, one patch, then enough
	// passing runs to cross the VERIFY threshold.
	Describe("the happy path", func() {
		It("walks ANALYZE -> MODIFY -> VERIFY and tracks the modified file", func() {
			Expect(tk.GetState().Phase).To(Equal(statemachine.PhaseAnalyze))

			decision := tk.Validate("execute_command", map[string]string{"command": "pytest x.py"})
			Expect(decision.Allow).To(BeTrue())
			tk.RecordToolExecution("execute_command", map[string]string{"command": "pytest x.py"}, "... FAILED ... 5 failed")
			Expect(tk.GetState().Phase).To(Equal(statemachine.PhaseModify))

			decision = tk.Validate("apply_diff", map[string]string{"path": "f.py"})
			Expect(decision.Allow).To(BeTrue())
			tk.RecordToolExecution("apply_diff", map[string]string{"path": "f.py"}, "applied")
			Expect(tk.GetState().Phase).To(Equal(statemachine.PhaseModify))
			Expect(tk.GetState().ModifiedFiles).To(ConsistOf("f.py"))

			for i := 0; i < statemachine.VerifyThresholdCommands-1; i++ {
				decision = tk.Validate("execute_command", map[string]string{"command": "pytest x.py"})
				Expect(decision.Allow).To(BeTrue())
				tk.RecordToolExecution("execute_command", map[string]string{"command": "pytest x.py"}, "... PASSED ... 5 passed")
			}
			Expect(tk.GetState().Phase).To(Equal(statemachine.PhaseModify), "threshold not yet reached")

			decision = tk.Validate("attempt_completion", nil)
			Expect(decision.Allow).To(BeFalse(), "completion must stay blocked until VERIFY")

			decision = tk.Validate("execute_command", map[string]string{"command": "pytest x.py"})
			tk.RecordToolExecution("execute_command", map[string]string{"command": "pytest x.py"}, "... PASSED ... 5 passed")
			Expect(tk.GetState().Phase).To(Equal(statemachine.PhaseVerify))

			decision = tk.Validate("attempt_completion", nil)
			Expect(decision.Allow).To(BeTrue())
		})
	})

	// S2: apply-diff thrash. Three apply_diff calls in a row, a fourth
	// blocked with the jinnang message, then a reset counter.
	Describe("apply-diff thrash", func() {
		It("blocks the fourth consecutive apply_diff and recovers after", func() {
			// Move past ANALYZE first: apply_diff is unconditionally allowed
			// in MODIFY, so the thrash below exercises only the rate limiter.
			tk.RecordToolExecution("execute_command", map[string]string{"command": "pytest x.py"}, "... FAILED ... 5 failed")
			Expect(tk.GetState().Phase).To(Equal(statemachine.PhaseModify))

			for i := 0; i < 3; i++ {
				decision := tk.Validate("apply_diff", map[string]string{"path": "f.py"})
				Expect(decision.Allow).To(BeTrue())
				tk.RecordToolExecution("apply_diff", map[string]string{"path": "f.py"}, "applied")
			}

			fourth := tk.Validate("apply_diff", map[string]string{"path": "f.py"})
			Expect(fourth.Allow).To(BeFalse())
			Expect(fourth.Reason).To(ContainSubstring("Jinnang Triggered"))
			Expect(fourth.JinnangTriggered).To(BeTrue())

			fifth := tk.Validate("apply_diff", map[string]string{"path": "f.py"})
			Expect(fifth.Allow).To(BeTrue(), "the streak counter must have reset after the block")
		})
	})

	Describe("the submit-review reminder", func() {
		It("fires once on the first attempt_completion and never again", func() {
			tk.RecordToolExecution("execute_command", map[string]string{"command": "pytest x.py"}, "... FAILED ... 5 failed")
			tk.RecordToolExecution("apply_diff", map[string]string{"path": "f.py"}, "applied")
			for i := 0; i < statemachine.VerifyThresholdCommands; i++ {
				tk.RecordToolExecution("execute_command", map[string]string{"command": "pytest x.py"}, "... PASSED ... 5 passed")
			}
			Expect(tk.GetState().Phase).To(Equal(statemachine.PhaseVerify))

			first := tk.Validate("attempt_completion", nil)
			Expect(first.Guidance).To(ContainSubstring("Before submitting"))

			second := tk.Validate("attempt_completion", nil)
			Expect(second.Guidance).NotTo(ContainSubstring("Before submitting"))
		})
	})
})
