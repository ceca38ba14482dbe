// internal/api/http/dto.go
package http

import (
	"encoding/json"
	"time"

	"ideworker/internal/domain"
)

// CallRequest is the body of POST /workers/{plugin}/call.
type CallRequest struct {
	Method    string          `json:"method" validate:"required,min=1,max=256,excludesall=0x20"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty" validate:"gte=0,lte=600000"`
}

// Timeout returns the requested call timeout, or zero for the default.
func (r *CallRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// WaitRequest holds the query of GET /workers/{plugin}/wait.
type WaitRequest struct {
	State     string `validate:"oneof=spawned connected closed"`
	TimeoutMs int    `validate:"gte=0,lte=600000"`
}

// Timeout returns the requested wait, or 30s when none was given.
func (r *WaitRequest) Timeout() time.Duration {
	if r.TimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// WaitResponse is the reply of GET /workers/{plugin}/wait.
type WaitResponse struct {
	Plugin string `json:"plugin"`
	State  string `json:"state"`
	PID    int    `json:"pid"`
}

// CallResponse is the reply of POST /workers/{plugin}/call.
type CallResponse struct {
	Plugin string          `json:"plugin"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
}

// WorkerResponse is the DTO for one worker.
type WorkerResponse struct {
	Plugin      string     `json:"plugin"`
	PID         int        `json:"pid"`
	State       string     `json:"state"`
	ManagerID   string     `json:"manager_id,omitempty"`
	SpawnedAt   time.Time  `json:"spawned_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ToWorkerResponse converts a domain.WorkerInfo to its DTO.
func ToWorkerResponse(info domain.WorkerInfo) WorkerResponse {
	resp := WorkerResponse{
		Plugin:    info.Plugin,
		PID:       info.PID,
		State:     string(info.State),
		ManagerID: info.ManagerID,
		SpawnedAt: info.SpawnedAt,
		Error:     info.Error,
	}
	if !info.ConnectedAt.IsZero() {
		t := info.ConnectedAt
		resp.ConnectedAt = &t
	}
	return resp
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
