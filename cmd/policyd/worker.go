package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"policyengine.dev/core/common/logger"
	"policyengine.dev/core/core/config"
	"policyengine.dev/core/internal/notify"
	"policyengine.dev/core/internal/queue"
	"policyengine.dev/core/internal/store"
)

func marshalParams(params map[string]string) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

func appendGuidance(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + " " + note
}

// requestWorker drains the request queue, dispatches each request to the
// right task.Task, and publishes a Reply on its reply stream.
type requestWorker struct {
	consumer *queue.RedisConsumer
	producer queue.Producer
	registry *taskRegistry
	notifier *notify.Notifier
	cfg      config.QueueConfig
}

func (w *requestWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		requests, err := w.consumer.Read(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "queue read failed", "error", err)
			continue
		}

		for _, req := range requests {
			w.handle(ctx, req)
		}
	}
}

func (w *requestWorker) handle(ctx context.Context, req queue.Request) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "policyd.worker",
		InstanceID: logger.Ptr(req.InstanceID),
		Tool:       logger.Ptr(req.Tool),
		ToolCallID: logger.Ptr(req.ID),
	})

	t, err := w.registry.Get(ctx, req.InstanceID)
	if err != nil {
		w.fail(ctx, req, fmt.Errorf("resolving task: %w", err))
		return
	}

	beforePhase := t.GetState().Phase
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Phase:            logger.Ptr(string(beforePhase)),
		ConsecutiveDiffs: logger.Ptr(t.ConsecutiveApplyDiffs()),
	})

	reply := queue.Reply{
		InstanceID: req.InstanceID,
		RequestID:  req.ID,
		Type:       req.Type,
		Attempt:    req.Attempt,
	}

	switch req.Type {
	case queue.RequestTypeValidate:
		decision := t.Validate(req.Tool, req.Params)
		reply.Allow = decision.Allow
		reply.Reason = decision.Reason
		reply.Guidance = decision.Guidance
		reply.JinnangTriggered = decision.JinnangTriggered
		if decision.JinnangTriggered {
			w.notifier.JinnangTriggered(ctx, req.InstanceID, req.Tool, decision.Reason)
		}

	case queue.RequestTypeRecord:
		outcome := t.RecordToolExecution(req.Tool, req.Params, req.Output)
		reply.Allow = true
		for _, notice := range outcome.Notices {
			reply.Guidance = appendGuidance(reply.Guidance, notice)
		}
		w.appendExecutionLog(ctx, req)

	default:
		w.fail(ctx, req, fmt.Errorf("unhandled request type %q", req.Type))
		return
	}

	if afterPhase := t.GetState().Phase; afterPhase != beforePhase {
		w.notifier.PhaseTransitioned(ctx, req.InstanceID, string(beforePhase), string(afterPhase))
		ctx = logger.WithLogFields(ctx, logger.LogFields{Phase: logger.Ptr(string(afterPhase))})
	}

	if err := w.registry.Persist(ctx, t); err != nil {
		slog.ErrorContext(ctx, "failed to persist snapshot", "error", err)
	}

	if err := w.producer.Enqueue(ctx, reply); err != nil {
		slog.ErrorContext(ctx, "failed to publish reply", "error", err)
	}

	if err := w.consumer.Ack(ctx, req); err != nil {
		slog.ErrorContext(ctx, "failed to ack request", "error", err)
	}
}

func (w *requestWorker) appendExecutionLog(ctx context.Context, req queue.Request) {
	s := w.registry.snapshots
	if s == nil {
		return
	}
	params, err := marshalParams(req.Params)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal execution params", "error", err)
		return
	}
	if err := s.AppendExecution(ctx, store.ExecutionLogRow{
		InstanceID: req.InstanceID,
		Tool:       req.Tool,
		Params:     params,
		Output:     req.Output,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to append execution log", "error", err)
	}
}

func (w *requestWorker) fail(ctx context.Context, req queue.Request, err error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "policyd.worker",
		InstanceID: logger.Ptr(req.InstanceID),
		Tool:       logger.Ptr(req.Tool),
		ToolCallID: logger.Ptr(req.ID),
	})
	slog.ErrorContext(ctx, "request handling failed", "error", err)
	if req.Attempt >= w.cfg.MaxAttempts {
		if dlqErr := w.consumer.SendDLQ(ctx, req, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send request to dlq", "error", dlqErr)
		}
		return
	}
	if requeueErr := w.consumer.Requeue(ctx, req, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue request", "error", requeueErr)
	}
}
