// Package submitgate implements a one-shot reminder, independent of the
// Interceptor's jinnang latches, fired the first time the agent calls
// attempt_completion.
package submitgate

// Gate is a single-fire latch, one per task.
type Gate struct {
	fired bool
}

// New constructs an unfired Gate.
func New() *Gate { return &Gate{} }

// Restore reconstructs a Gate in a previously observed fired state, for
// resuming a task from a stored snapshot.
func Restore(fired bool) *Gate { return &Gate{fired: fired} }

const reminder = "Before submitting, confirm: the diff has been inspected, " +
	"behaviour/edge-case/regression impact has been reviewed, FAIL_TO_PASS " +
	"tests pass, PASS_TO_PASS tests still pass, and the test logs have been " +
	"read end to end."

// Observe reports the one-time review reminder on the first
// attempt_completion call, and nothing thereafter.
func (g *Gate) Observe(tool string) (string, bool) {
	if tool != "attempt_completion" || g.fired {
		return "", false
	}
	g.fired = true
	return reminder, true
}

// Fired reports whether the gate has already fired.
func (g *Gate) Fired() bool { return g.fired }
