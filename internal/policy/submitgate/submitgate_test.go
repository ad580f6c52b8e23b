package submitgate

import "testing"

func TestObserveFiresOnceOnAttemptCompletion(t *testing.T) {
	g := New()

	msg, fired := g.Observe("read_file")
	if fired {
		t.Fatal("non-attempt_completion calls must not fire the gate")
	}

	msg, fired = g.Observe("attempt_completion")
	if !fired || msg == "" {
		t.Fatal("expected the gate to fire with a non-empty reminder on first attempt_completion")
	}

	msg, fired = g.Observe("attempt_completion")
	if fired || msg != "" {
		t.Fatal("expected the gate to stay silent on subsequent attempt_completion calls")
	}

	if !g.Fired() {
		t.Error("Fired() should report true after the gate has fired")
	}
}
