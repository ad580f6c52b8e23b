package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"policyengine.dev/core/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter stream for requests that exceed MaxAttempts
	BatchSize    int64         // Number of requests to read per batch
	Block        time.Duration // How long to block/poll for new requests
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying a failed request
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{client: client, cfg: cfg}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting from "0" instead of "$" means a restarted consumer still sees
	// whatever was already in the stream, rather than losing it.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Request, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "policy.queue.consumer"})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Request{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var requests []Request
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseRequest(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse queued request",
					"error", parseErr, "raw_message_id", msg.ID, "stream", c.cfg.Stream)
				_ = c.Ack(ctx, Request{ID: msg.ID, Raw: msg})
				continue
			}
			requests = append(requests, parsed)
		}
	}

	if len(requests) > 0 {
		slog.DebugContext(ctx, "read requests from stream",
			"count", len(requests), "stream", c.cfg.Stream, "consumer", c.cfg.Consumer)
	}

	return requests, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, req Request) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, req.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, req Request, errMsg string) error {
	return c.RequeueWithAttempt(ctx, req, req.Attempt+1, errMsg)
}

func (c *RedisConsumer) RequeueWithAttempt(ctx context.Context, req Request, attempt int, errMsg string) error {
	if attempt <= 0 {
		attempt = 1
	}

	if err := c.Ack(ctx, req); err != nil {
		return fmt.Errorf("acking request before requeue: %w", err)
	}

	values := messageValues(req, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		time.Sleep(c.cfg.RequeueDelay)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.Stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "request requeued for retry", "next_attempt", attempt, "reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, req Request, errMsg string) error {
	if err := c.Ack(ctx, req); err != nil {
		return fmt.Errorf("acking request before dlq: %w", err)
	}

	values := messageValues(req, req.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "request sent to DLQ", "final_error", errMsg, "dlq_stream", c.cfg.DLQStream)
	return nil
}

// ParseRequest decodes a raw stream message into a Request, validating that
// the discriminator and its required companion fields are present.
func ParseRequest(msg redis.XMessage) (Request, error) {
	instanceID, err := parseRequiredString(msg.Values, "instance_id")
	if err != nil {
		return Request{}, err
	}
	typeStr, err := parseRequiredString(msg.Values, "type")
	if err != nil {
		return Request{}, err
	}
	tool, err := parseRequiredString(msg.Values, "tool")
	if err != nil {
		return Request{}, err
	}

	reqType := RequestType(typeStr)
	if reqType != RequestTypeValidate && reqType != RequestTypeRecord {
		return Request{}, fmt.Errorf("unknown request type %q", typeStr)
	}

	params, err := parseParams(msg.Values)
	if err != nil {
		return Request{}, err
	}

	output, err := parseOptionalString(msg.Values, "output")
	if err != nil {
		return Request{}, err
	}
	if reqType == RequestTypeRecord && output == "" {
		return Request{}, fmt.Errorf("missing output for record request")
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Request{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Request{
		ID:         msg.ID,
		InstanceID: instanceID,
		Type:       reqType,
		Tool:       tool,
		Params:     params,
		Output:     output,
		Attempt:    attempt,
		Raw:        msg,
	}, nil
}

func parseParams(values map[string]any) (map[string]string, error) {
	raw, ok := values["params"]
	if !ok {
		return nil, nil
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return nil, nil
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(s), &params); err != nil {
		return nil, fmt.Errorf("parsing params: %w", err)
	}
	return params, nil
}

func parseRequiredString(values map[string]any, key string) (string, error) {
	v, err := parseOptionalString(values, key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
