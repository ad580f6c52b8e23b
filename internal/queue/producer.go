package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"policyengine.dev/core/common/logger"
)

// Reply is the outcome policyd publishes back to a task instance's reply
// stream after handling one Request. For a validate request it carries the
// interceptor's decision; for a record request it acknowledges that the
// execution was logged and carries any post-execution notices in Guidance.
// It is kept as plain fields rather than an
// imported interceptor.Decision so this package stays independent of the
// policy core, mirroring the JSON-blob boundary internal/store keeps against
// internal/policy/task.
type Reply struct {
	InstanceID       string
	RequestID        string
	Type             RequestType
	Allow            bool
	Reason           string
	Guidance         string
	JinnangTriggered bool
	Attempt          int
}

type Producer interface {
	Enqueue(ctx context.Context, reply Reply) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
}

func NewRedisProducer(client *redis.Client) Producer {
	return &redisProducer{client: client}
}

func (p *redisProducer) Enqueue(ctx context.Context, reply Reply) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "policy.queue.producer"})

	attempt := reply.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	stream := ReplyStreamName(reply.InstanceID)
	fields := map[string]any{
		"request_id": reply.RequestID,
		"type":       string(reply.Type),
		"allow":      reply.Allow,
		"attempt":    attempt,
	}
	if reply.Reason != "" {
		fields["reason"] = reply.Reason
	}
	if reply.Guidance != "" {
		fields["guidance"] = reply.Guidance
	}
	if reply.JinnangTriggered {
		fields["jinnang_triggered"] = reply.JinnangTriggered
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 500,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue reply (stream=%s): %w", stream, err)
	}

	slog.InfoContext(ctx, "published reply", "instance_id", reply.InstanceID, "type", reply.Type, "allow", reply.Allow, "stream", stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
