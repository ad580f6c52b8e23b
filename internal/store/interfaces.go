// Package store persists task snapshots and tool execution history so a
// long-running policyd process can recover after a restart instead of
// re-deriving state from scratch. It is optional: task.Task works
// standalone with no store configured, and policyd only wires one in when
// DATABASE_URL is set.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TaskSnapshotRow is the persisted form of a task.Snapshot. The payload is
// kept as a raw JSON blob rather than a typed struct so this package never
// imports internal/policy/task; callers marshal/unmarshal task.Snapshot
// themselves at the call site.
type TaskSnapshotRow struct {
	InstanceID string
	Snapshot   json.RawMessage
	UpdatedAt  time.Time
}

// ExecutionLogRow is one entry in the append-only tool execution audit
// trail, mirroring interceptor.ExecutionRecord.
type ExecutionLogRow struct {
	ID         int64
	InstanceID string
	Tool       string
	Params     json.RawMessage
	Output     string
	Normalized string
	Success    bool
	OccurredAt time.Time
}

// SnapshotStore persists the last-known snapshot per task instance.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, instanceID string) (TaskSnapshotRow, error)
	PutSnapshot(ctx context.Context, instanceID string, snapshot json.RawMessage) error
	DeleteSnapshot(ctx context.Context, instanceID string) error
}

// ExecutionLogStore persists the audit trail of executed tool calls.
type ExecutionLogStore interface {
	AppendExecution(ctx context.Context, row ExecutionLogRow) error
	ListExecutions(ctx context.Context, instanceID string, limit int32) ([]ExecutionLogRow, error)
}
