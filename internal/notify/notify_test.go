package notify_test

import (
	"context"
	"testing"

	"policyengine.dev/core/internal/notify"
)

// A Notifier built with a nil client (REDIS_URL unset) must never panic;
// every publish path is a no-op. There's no in-pack Redis test double to
// exercise the actual XAdd call, so that path is left to manual/staging
// verification against a real stream.
func TestNotifierWithNilClientNeverPanics(t *testing.T) {
	n := notify.New(nil)
	ctx := context.Background()

	n.JinnangTriggered(ctx, "django__django-12325", "apply_diff", "consecutive apply_diff limit reached")
	n.BudgetEscalated(ctx, "django__django-12325", 0.5, 0.7, "repeated stagnation")
	n.PhaseTransitioned(ctx, "django__django-12325", "ANALYZE", "MODIFY")
	n.ExplorationInsufficient(ctx, "django__django-12325", 2)
}
