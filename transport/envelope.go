package transport

import (
	"encoding/json"

	coorderr "github.com/swarmops/coordhub/errors"
)

// Op names a hub operation reachable over the wire.
type Op string

const (
	OpRegister   Op = "register"
	OpUnregister Op = "unregister"
	OpHeartbeat  Op = "heartbeat"
	OpStatus     Op = "status"
	OpAgents     Op = "agents"
	OpSubmit     Op = "submit"
	OpSend       Op = "send"
	OpReceive    Op = "receive"
	OpRequest    Op = "request"
	OpRelease    Op = "release"
	OpMetrics    Op = "metrics"
)

// Request is one inbound JSON envelope. Fields beyond Op are read
// per-operation; unused fields are ignored.
type Request struct {
	Op Op `json:"op"`

	// Agent identifies the caller for agent-scoped ops. A connection
	// adopts the first agent name it registers or heartbeats as.
	Agent string `json:"agent,omitempty"`

	// register
	Capabilities []string           `json:"capabilities,omitempty"`
	Resources    map[string]float64 `json:"resources,omitempty"`

	// status
	Status   string  `json:"status,omitempty"`
	Workload float64 `json:"workload,omitempty"`

	// send
	To       string          `json:"to,omitempty"`
	Type     string          `json:"type,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority int             `json:"priority,omitempty"`

	// receive
	Limit int `json:"limit,omitempty"`

	// submit
	Task *TaskRequest `json:"task,omitempty"`

	// request / release
	Kind            string  `json:"kind,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	DurationSeconds int     `json:"duration_seconds,omitempty"`
	LockID          string  `json:"lock_id,omitempty"`
}

// TaskRequest carries a task submission.
type TaskRequest struct {
	Type          string          `json:"type"`
	Required      []string        `json:"required,omitempty"`
	EstimatedLoad float64         `json:"estimated_load,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      int             `json:"priority,omitempty"`
}

// Response is one outbound JSON envelope.
type Response struct {
	Op     Op              `json:"op"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *coorderr.Error `json:"error,omitempty"`
}

// okResponse builds a success envelope, marshalling the result.
func okResponse(op Op, result interface{}) *Response {
	resp := &Response{Op: op, OK: true}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return errResponse(op, coorderr.Wrap(err, "encode result"))
		}
		resp.Result = data
	}
	return resp
}

// errResponse builds a failure envelope with a classified error.
func errResponse(op Op, err error) *Response {
	return &Response{Op: op, OK: false, Error: Classify(err)}
}
