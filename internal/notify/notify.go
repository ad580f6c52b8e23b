// Package notify publishes a best-effort observability side-channel for a
// supervising dashboard: jinnang triggers, reasoning-budget escalations,
// and phase transitions. It never affects policy decisions -- task.Task
// works identically with no Notifier configured -- and every publish call
// swallows its own errors, since a missed notice should never fail the
// tool call it describes.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 2000

// Notifier publishes task events to a per-instance Redis stream.
type Notifier struct {
	client *redis.Client
	maxLen int64
}

// New builds a Notifier. A nil client is valid and turns every publish call
// into a no-op, so callers that construct a Notifier unconditionally (e.g.
// when REDIS_URL is unset) don't need a separate enabled/disabled branch.
func New(client *redis.Client) *Notifier {
	return &Notifier{client: client, maxLen: defaultStreamMaxLen}
}

// StreamName is the per-instance key a Notifier publishes to, matching
// internal/httpapi's StreamEvents reader.
func StreamName(instanceID string) string {
	return fmt.Sprintf("policyd:events:%s", instanceID)
}

func (n *Notifier) emit(ctx context.Context, instanceID, level, event, message string, fields map[string]any) {
	if n == nil || n.client == nil {
		return
	}
	values := map[string]any{
		"instance_id": instanceID,
		"level":       level,
		"event":       event,
		"message":     message,
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		values[k] = v
	}
	_ = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(instanceID),
		MaxLen: n.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// JinnangTriggered reports a blocked tool call caused by a loop detector
// or the consecutive-apply_diff rate limit.
func (n *Notifier) JinnangTriggered(ctx context.Context, instanceID, tool, reason string) {
	n.emit(ctx, instanceID, "warn", "jinnang_triggered", reason, map[string]any{"tool": tool})
}

// BudgetEscalated reports the StateMachine's reasoning token budget being
// raised past a threshold.
func (n *Notifier) BudgetEscalated(ctx context.Context, instanceID string, fromPct, toPct float64, reason string) {
	n.emit(ctx, instanceID, "info", "budget_escalated", reason, map[string]any{
		"from_pct": fromPct,
		"to_pct":   toPct,
	})
}

// PhaseTransitioned reports the state machine moving between phases.
func (n *Notifier) PhaseTransitioned(ctx context.Context, instanceID, from, to string) {
	n.emit(ctx, instanceID, "info", "phase_transitioned", "phase advanced", map[string]any{
		"from": from,
		"to":   to,
	})
}

// ExplorationInsufficient reports the Escalator crossing its repeated-
// stagnation threshold, mirroring the compressor/exploration escalation
// the rest of the tree already tracks internally.
func (n *Notifier) ExplorationInsufficient(ctx context.Context, instanceID string, escalationLevel int) {
	n.emit(ctx, instanceID, "warn", "exploration_insufficient", "repeated low-exploration state", map[string]any{
		"escalation_level": escalationLevel,
	})
}
