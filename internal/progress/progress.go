// Package progress tracks background task status and fans out progress
// events. Delivery is best-effort and state is lost on restart.
package progress

import (
	"context"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event is one progress notification for a task.
type Event struct {
	TaskID  string    `json:"task_id"`
	Percent float64   `json:"percent"`
	Message string    `json:"message,omitempty"`
	PointID string    `json:"point_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	Done    bool      `json:"done,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Task is the latest known state of a task.
type Task struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	LastEvent *Event    `json:"last_event,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker records task status and delivers events to subscribers.
type Tracker interface {
	Start(ctx context.Context, taskID, kind string, total int) error
	Publish(ctx context.Context, ev Event) error
	Finish(ctx context.Context, taskID string, result any, err error) error
	Get(ctx context.Context, taskID string) (Task, error)
	// Subscribe streams events for taskID until the returned cancel func is
	// called or the terminal event has been delivered.
	Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error)
}

// apply folds ev into t and returns ev with the task's percent. With a known
// total the percent follows the completed count, so reports arriving out of
// order never move it backwards.
func apply(t *Task, ev Event) Event {
	if ev.PointID != "" {
		t.Completed++
	}
	switch {
	case t.Total > 0:
		t.Percent = min(100, float64(t.Completed)/float64(t.Total)*100)
	case ev.Percent > t.Percent:
		t.Percent = ev.Percent
	}
	ev.Percent = t.Percent
	if ev.Message != "" {
		t.Message = ev.Message
	}
	if t.Status == StatusPending {
		t.Status = StatusRunning
	}
	t.UpdatedAt = ev.At
	e := ev
	t.LastEvent = &e
	return ev
}

// finalEvent builds the terminal event for a task and updates t.
func finalEvent(t *Task, result any, err error, now time.Time) Event {
	t.Percent = 100
	t.Result = result
	t.UpdatedAt = now
	ev := Event{TaskID: t.ID, Percent: 100, Done: true, Result: result, At: now}
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		ev.Status = string(StatusFailed)
		ev.Error = err.Error()
		ev.Message = "failed"
	} else {
		t.Status = StatusCompleted
		ev.Status = string(StatusCompleted)
		ev.Message = "completed"
	}
	t.Message = ev.Message
	e := ev
	t.LastEvent = &e
	return ev
}
