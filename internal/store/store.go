package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides typed accessors over task_snapshots and
// tool_execution_log. It issues hand-written queries directly against a
// *pgxpool.Pool or, inside db.WithTx, a pgx.Tx -- there is no sqlc codegen
// step in this tree, so queries live here instead of in a generated
// package.
type Store struct {
	q queryable
}

// queryable is satisfied by both *pgxpool.Pool and pgx.Tx, letting Store
// run either against the pool directly or inside a db.WithTx callback.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{q: pool}
}

// NewFromTx builds a Store bound to a transaction, for callers composing
// a snapshot write with other work inside db.DB.WithTx.
func NewFromTx(tx pgx.Tx) *Store {
	return &Store{q: tx}
}

func (s *Store) GetSnapshot(ctx context.Context, instanceID string) (TaskSnapshotRow, error) {
	var row TaskSnapshotRow
	err := s.q.QueryRow(ctx, `
		SELECT instance_id, snapshot, updated_at
		FROM task_snapshots
		WHERE instance_id = $1
	`, instanceID).Scan(&row.InstanceID, &row.Snapshot, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaskSnapshotRow{}, ErrNotFound
		}
		return TaskSnapshotRow{}, err
	}
	return row, nil
}

func (s *Store) PutSnapshot(ctx context.Context, instanceID string, snapshot json.RawMessage) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO task_snapshots (instance_id, snapshot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (instance_id) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`, instanceID, snapshot)
	return err
}

func (s *Store) DeleteSnapshot(ctx context.Context, instanceID string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM task_snapshots WHERE instance_id = $1`, instanceID)
	return err
}

func (s *Store) AppendExecution(ctx context.Context, row ExecutionLogRow) error {
	occurredAt := row.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO tool_execution_log
			(instance_id, tool, params, output, normalized, success, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, row.InstanceID, row.Tool, row.Params, row.Output, row.Normalized, row.Success, occurredAt)
	return err
}

func (s *Store) ListExecutions(ctx context.Context, instanceID string, limit int32) ([]ExecutionLogRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, instance_id, tool, params, output, normalized, success, occurred_at
		FROM tool_execution_log
		WHERE instance_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionLogRow
	for rows.Next() {
		var r ExecutionLogRow
		if err := rows.Scan(&r.ID, &r.InstanceID, &r.Tool, &r.Params, &r.Output, &r.Normalized, &r.Success, &r.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ SnapshotStore = (*Store)(nil)
var _ ExecutionLogStore = (*Store)(nil)
