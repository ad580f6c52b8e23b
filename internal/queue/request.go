package queue

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RequestType discriminates the two points at which an external harness
// hands a tool call to policyd over the queue: before running the tool
// (Validate) and after (Record).
type RequestType string

const (
	RequestTypeValidate RequestType = "validate"
	RequestTypeRecord   RequestType = "record"
)

// Request is one queued tool-call event for a single task instance.
type Request struct {
	ID         string
	InstanceID string
	Type       RequestType
	Tool       string
	Params     map[string]string
	Output     string // only set for RequestTypeRecord
	Attempt    int
	Raw        redis.XMessage
}

// ReplyStreamName is the per-instance stream policyd publishes decisions
// and execution outcomes to.
func ReplyStreamName(instanceID string) string {
	return fmt.Sprintf("policyd:replies:%s", instanceID)
}

func messageValues(req Request, attempt int) map[string]any {
	paramsJSON, _ := json.Marshal(req.Params)
	values := map[string]any{
		"instance_id": req.InstanceID,
		"type":        string(req.Type),
		"tool":        req.Tool,
		"params":      string(paramsJSON),
		"attempt":     attempt,
	}
	if req.Output != "" {
		values["output"] = req.Output
	}
	return values
}
