package handler

import "time"

// Response is the JSON envelope of every API response except /metrics and
// raw KV reads.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SessionStatus describes the replication session of this node.
type SessionStatus struct {
	SessionID         string `json:"session_id,omitempty"`
	Role              string `json:"role"`
	State             string `json:"state"`
	Requested         bool   `json:"requested"`
	Replicated        bool   `json:"replicated"`
	FailoverRequested bool   `json:"failover_requested"`
	FailoverReason    string `json:"failover_reason,omitempty"`
	Checkpoints       uint64 `json:"checkpoints"`
	LastSeq           uint64 `json:"last_seq"`
	LastDigest        string `json:"last_digest,omitempty"`
	PeerAlive         bool   `json:"peer_alive"`
	Writable          bool   `json:"writable"`
}

// FailoverRequest is the body of POST /v1/failover.
type FailoverRequest struct {
	Reason string `json:"reason"`
}

// FailoverResponse reports whether this request started the failover.
type FailoverResponse struct {
	Started bool `json:"started"`
}

// DeleteResponse reports whether a key existed.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}
