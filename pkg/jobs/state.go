package jobs

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusStarted   Status = "STARTED"
	StatusProgress  Status = "PROGRESS"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ErrStateNotFound is returned by state stores for unknown task ids.
var ErrStateNotFound = errors.New("jobs: task state not found")

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// State is the pollable record of one task invocation.
type State struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StateStore persists task states for polling.
type StateStore interface {
	Save(ctx context.Context, state State) error
	Get(ctx context.Context, id string) (*State, error)
}
