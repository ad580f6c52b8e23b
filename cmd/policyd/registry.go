package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"policyengine.dev/core/internal/llmclient"
	"policyengine.dev/core/internal/policy/task"
	"policyengine.dev/core/internal/store"
)

// taskRegistry owns the in-memory set of live task.Task handles, one per
// SWE-bench instance currently being worked. It is the composition root's
// runtime counterpart to task.New/task.Restore: the first request for an
// instance either restores it from the last persisted snapshot or starts
// it fresh, and every subsequent request for that instance reuses the same
// handle for the lifetime of the process.
type taskRegistry struct {
	mu        sync.Mutex
	tasks     map[string]*task.Task
	snapshots *store.Store
	llmClient llmclient.Client
}

func newTaskRegistry(snapshots *store.Store, llmClient llmclient.Client) *taskRegistry {
	return &taskRegistry{
		tasks:     make(map[string]*task.Task),
		snapshots: snapshots,
		llmClient: llmClient,
	}
}

// Get returns the Task for instanceID, restoring it from the snapshot
// store on first sight if one is configured and a snapshot exists, or
// constructing a fresh Task otherwise.
func (r *taskRegistry) Get(ctx context.Context, instanceID string) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tasks[instanceID]; ok {
		return t, nil
	}

	cfg := task.Config{InstanceID: instanceID, LLMClient: r.llmClient}

	if r.snapshots != nil {
		row, err := r.snapshots.GetSnapshot(ctx, instanceID)
		switch {
		case err == nil:
			var snap task.Snapshot
			if unmarshalErr := json.Unmarshal(row.Snapshot, &snap); unmarshalErr != nil {
				return nil, fmt.Errorf("unmarshalling snapshot for %s: %w", instanceID, unmarshalErr)
			}
			t := task.Restore(cfg, snap)
			r.tasks[instanceID] = t
			return t, nil
		case errors.Is(err, store.ErrNotFound):
			// No prior snapshot; fall through to a fresh Task.
		default:
			return nil, fmt.Errorf("loading snapshot for %s: %w", instanceID, err)
		}
	}

	t := task.New(cfg)
	r.tasks[instanceID] = t
	return t, nil
}

// Persist writes t's current snapshot back to the store, a no-op when no
// store is configured.
func (r *taskRegistry) Persist(ctx context.Context, t *task.Task) error {
	if r.snapshots == nil {
		return nil
	}
	payload, err := json.Marshal(t.Snapshot())
	if err != nil {
		return fmt.Errorf("marshalling snapshot for %s: %w", t.InstanceID(), err)
	}
	return r.snapshots.PutSnapshot(ctx, t.InstanceID(), payload)
}
