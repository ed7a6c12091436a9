package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/logger"
)

// RedisTracker stores task state as JSON strings with a TTL and publishes
// events on a per-task channel.
type RedisTracker struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

const maxUpdateRetries = 10

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func taskKey(id string) string     { return "kursil:task:" + id }
func progressKey(id string) string { return "kursil:progress:" + id }

// NewRedisTracker connects to addr and verifies the connection.
func NewRedisTracker(ctx context.Context, addr string, ttl time.Duration, log *logger.Logger) (*RedisTracker, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if log == nil {
		log = logger.Nop()
	}
	return &RedisTracker{rdb: rdb, ttl: ttl, log: log.With("component", "progress.redis")}, nil
}

// Close closes the Redis client.
func (r *RedisTracker) Close() error {
	return r.rdb.Close()
}

func (r *RedisTracker) Start(ctx context.Context, taskID, kind string, total int) error {
	now := time.Now()
	return r.save(ctx, &Task{
		ID:        taskID,
		Kind:      kind,
		Status:    StatusPending,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (r *RedisTracker) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	err := r.update(ctx, ev.TaskID, func(t *Task) {
		ev = apply(t, ev)
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, ev)
}

func (r *RedisTracker) Finish(ctx context.Context, taskID string, result any, runErr error) error {
	var ev Event
	err := r.update(ctx, taskID, func(t *Task) {
		ev = finalEvent(t, result, runErr, time.Now())
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, ev)
}

// update applies fn to the stored task inside a WATCH transaction, retrying
// when a concurrent writer changed the key first.
func (r *RedisTracker) update(ctx context.Context, taskID string, fn func(*Task)) error {
	key := taskKey(taskID)
	txf := func(tx *goredis.Tx) error {
		t, err := r.load(ctx, tx, taskID)
		if err != nil {
			return err
		}
		fn(&t)
		raw, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			return nil
		})
		return err
	}
	for range maxUpdateRetries {
		err := r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("task %s: too many concurrent updates", taskID)
}

func (r *RedisTracker) Get(ctx context.Context, taskID string) (Task, error) {
	return r.load(ctx, r.rdb, taskID)
}

func (r *RedisTracker) load(ctx context.Context, c getter, taskID string) (Task, error) {
	raw, err := c.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Task{}, apperr.Newf(apperr.KindTaskNotFound, "task %s not found", taskID)
	}
	if err != nil {
		return Task{}, fmt.Errorf("reading task: %w", err)
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, fmt.Errorf("decoding task: %w", err)
	}
	return t, nil
}

// Subscribe relays the task channel. The channel is joined before the
// snapshot is read, so a terminal event published in between is still seen.
// The current last event is replayed first; the stream ends after a Done
// event.
func (r *RedisTracker) Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := r.rdb.Subscribe(subCtx, progressKey(taskID))
	if _, err := sub.Receive(subCtx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, func() {}, fmt.Errorf("redis subscribe: %w", err)
	}

	t, err := r.Get(ctx, taskID)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, func() {}, err
	}

	out := make(chan Event, subscriberBuffer)
	if t.LastEvent != nil {
		out <- *t.LastEvent
	}
	if t.Status == StatusCompleted || t.Status == StatusFailed {
		cancel()
		_ = sub.Close()
		close(out)
		return out, func() {}, nil
	}

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					r.log.Warn("bad progress payload", "error", err)
					continue
				}
				if ev.Done {
					select {
					case out <- ev:
					case <-subCtx.Done():
					}
					return
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}

func (r *RedisTracker) save(ctx context.Context, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, taskKey(t.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving task: %w", err)
	}
	return nil
}

func (r *RedisTracker) publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, progressKey(ev.TaskID), raw).Err()
}
