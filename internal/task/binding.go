package task

import (
	"context"
	"errors"
	"time"
)

var ErrBindingNotFound = errors.New("task binding not found")

// Binding maps an externally issued task id to the thread/response it must
// ultimately update. A cancelled-and-rerun flow supersedes a previous binding
// without losing the audit trail: the new binding records PreviousTaskID.
type Binding struct {
	TaskID         string    `json:"task_id"`
	Kind           Kind      `json:"kind"`
	ThreadID       int       `json:"thread_id,omitempty"`
	ResponseID     int       `json:"response_id,omitempty"`
	PreviousTaskID string    `json:"previous_task_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type BindingStore interface {
	Save(ctx context.Context, b Binding) error
	Get(ctx context.Context, taskID string) (Binding, error)
	Close() error
}
