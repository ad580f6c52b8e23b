// Package httpapi is a small gin debug surface over the persisted task
// state: healthz, the last stored snapshot for an instance, and an SSE
// stream of the notifications internal/notify publishes. It is not the
// SWE-bench harness surface -- invoking tools, running the agent loop, or
// driving ANALYZE/MODIFY/VERIFY from HTTP are explicitly out of scope --
// this package only ever reads what cmd/policyd has already persisted.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"policyengine.dev/core/internal/store"
)

// SnapshotReader is the read side of store.SnapshotStore; handler depends
// on this narrower interface so tests can fake it without a database.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, instanceID string) (store.TaskSnapshotRow, error)
}

// Handler serves the debug endpoints. Either dependency may be nil: a nil
// Snapshots makes the snapshot endpoint report 503, a nil Redis makes the
// event stream report 503 rather than panic.
type Handler struct {
	Snapshots SnapshotReader
	Redis     *redis.Client
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetSnapshot(c *gin.Context) {
	if h.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store not configured"})
		return
	}

	instanceID := c.Param("id")
	row, err := h.Snapshots.GetSnapshot(c.Request.Context(), instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for instance"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
		return
	}

	c.Data(http.StatusOK, "application/json", row.Snapshot)
}

// StreamEvents relays internal/notify's per-instance Redis stream as SSE.
func (h *Handler) StreamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	if h.Redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis not configured"})
		return
	}

	instanceID := c.Param("id")
	if instanceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing instance id"})
		return
	}

	stream := fmt.Sprintf("policyd:events:%s", instanceID)
	lastID := c.Query("last_id")
	if lastID == "" {
		lastID = "$"
	}

	setSSEHeaders(c.Writer)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := h.Redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   25 * time.Second,
			Count:   100,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
				flusher.Flush()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			sseWrite(c.Writer, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			continue
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				lastID = msg.ID
				sseWrite(c.Writer, "event", msg.Values)
				flusher.Flush()
			}
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	payload := fmt.Sprintf("%v", data)
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}
