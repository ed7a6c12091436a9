package progress

import (
	"context"
	"sync"
	"time"

	"github.com/TobiSchelling/kursil/internal/apperr"
)

const subscriberBuffer = 64

// subscription is one event stream. done closes when the stream is torn
// down, by cancel or by Finish.
type subscription struct {
	ch   chan Event
	done chan struct{}
}

// MemoryTracker keeps tasks in process memory.
type MemoryTracker struct {
	mu    sync.Mutex
	tasks map[string]*Task
	subs  map[string]map[*subscription]struct{}
	now   func() time.Time
}

// NewMemoryTracker returns an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		tasks: make(map[string]*Task),
		subs:  make(map[string]map[*subscription]struct{}),
		now:   time.Now,
	}
}

func (m *MemoryTracker) Start(_ context.Context, taskID, kind string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.tasks[taskID] = &Task{
		ID:        taskID,
		Kind:      kind,
		Status:    StatusPending,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (m *MemoryTracker) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[ev.TaskID]
	if !ok {
		return apperr.Newf(apperr.KindTaskNotFound, "task %s not found", ev.TaskID)
	}
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	ev = apply(t, ev)
	for sub := range m.subs[ev.TaskID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}

// Finish records the outcome and delivers the terminal event to every
// subscriber. A subscriber whose buffer is full loses its oldest pending
// event instead of the terminal one.
func (m *MemoryTracker) Finish(_ context.Context, taskID string, result any, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return apperr.Newf(apperr.KindTaskNotFound, "task %s not found", taskID)
	}
	ev := finalEvent(t, result, err, m.now())
	for sub := range m.subs[taskID] {
		deliverFinal(sub.ch, ev)
		close(sub.ch)
		close(sub.done)
	}
	delete(m.subs, taskID)
	return nil
}

// deliverFinal sends ev, evicting buffered events until it fits. Only the
// tracker sends on ch and the caller holds m.mu, so the loop terminates.
func deliverFinal(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m *MemoryTracker) Get(_ context.Context, taskID string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return Task{}, apperr.Newf(apperr.KindTaskNotFound, "task %s not found", taskID)
	}
	return *t, nil
}

// Subscribe replays the last event to the new subscriber, then streams.
// A subscriber to a finished task receives the terminal event and a closed
// channel.
func (m *MemoryTracker) Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, func() {}, apperr.Newf(apperr.KindTaskNotFound, "task %s not found", taskID)
	}

	ch := make(chan Event, subscriberBuffer)
	if t.LastEvent != nil {
		ch <- *t.LastEvent
	}
	if t.Status == StatusCompleted || t.Status == StatusFailed {
		close(ch)
		return ch, func() {}, nil
	}

	sub := &subscription{ch: ch, done: make(chan struct{})}
	if m.subs[taskID] == nil {
		m.subs[taskID] = make(map[*subscription]struct{})
	}
	m.subs[taskID][sub] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.subs[taskID]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
					close(sub.done)
				}
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return ch, cancel, nil
}

// subscribers reports the open subscriptions for taskID.
func (m *MemoryTracker) subscribers(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[taskID])
}
