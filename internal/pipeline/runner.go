package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/logger"
	"github.com/TobiSchelling/kursil/internal/progress"
)

// TaskFunc is a unit of background work. report publishes a progress event
// for the running task.
type TaskFunc func(ctx context.Context, report func(progress.Event)) (any, error)

// Runner runs tasks detached from the submitting request and records their
// progress.
type Runner struct {
	tracker progress.Tracker
	timeout time.Duration
	log     *logger.Logger
	wg      sync.WaitGroup
}

// NewRunner creates a runner. A zero timeout means no limit.
func NewRunner(tracker progress.Tracker, timeout time.Duration, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{tracker: tracker, timeout: timeout, log: log.With("component", "runner")}
}

// Tracker returns the progress tracker tasks report to.
func (r *Runner) Tracker() progress.Tracker { return r.tracker }

// Submit starts run in the background and returns its task id.
func (r *Runner) Submit(ctx context.Context, kind string, total int, run TaskFunc) (string, error) {
	id := uuid.NewString()
	if err := r.tracker.Start(ctx, id, kind, total); err != nil {
		return "", fmt.Errorf("registering task: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		taskCtx, cancel := bg, context.CancelFunc(func() {})
		if r.timeout > 0 {
			taskCtx, cancel = context.WithTimeout(bg, r.timeout)
		}
		defer cancel()

		report := func(ev progress.Event) {
			ev.TaskID = id
			if err := r.tracker.Publish(bg, ev); err != nil {
				r.log.Warn("progress event dropped", "task_id", id, "error", err)
			}
		}

		r.log.Info("task started", "task_id", id, "kind", kind, "total", total)
		result, err := run(taskCtx, report)
		if err != nil {
			r.log.Warn("task failed", "task_id", id, "kind", kind, "error", err)
		} else {
			r.log.Info("task finished", "task_id", id, "kind", kind)
		}
		if ferr := r.tracker.Finish(bg, id, result, err); ferr != nil {
			r.log.Error("task result not recorded", "task_id", id, "error", ferr)
		}
	}()
	return id, nil
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// SubmitTopicStage validates the topic, then advances it through stage in
// the background, publishing one event per point.
func (o *Orchestrator) SubmitTopicStage(ctx context.Context, r *Runner, topicID string, stage Stage) (string, error) {
	if stage != StageElaboration && !IsPointStage(stage) {
		return "", apperr.Newf(apperr.KindInvalidRequest, "unknown point stage %q", stage)
	}
	topic, err := o.requireTopic(ctx, topicID)
	if err != nil {
		return "", err
	}
	points, err := o.store.GetPointsByTopic(ctx, topic.ID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "loading points", err)
	}
	total := batchSize(topic, points, stage)

	return r.Submit(ctx, "advance_topic:"+string(stage), total, func(ctx context.Context, report func(progress.Event)) (any, error) {
		return o.AdvanceTopic(ctx, topicID, stage, WithReport(progressReporter(report)))
	})
}

// batchSize counts the items a topic batch will report. Elaboration also
// covers discussion items that have no point row yet; other stages run only
// over stored points.
func batchSize(topic *database.Topic, points []database.Point, stage Stage) int {
	if stage != StageElaboration {
		return len(points)
	}
	positions := make(map[int]bool, len(points)+len(topic.DiscussionPoints))
	for _, p := range points {
		positions[p.Position] = true
	}
	for i := range topic.DiscussionPoints {
		positions[i] = true
	}
	return len(positions)
}

// progressReporter maps batch items onto progress events.
func progressReporter(report func(progress.Event)) ReportFunc {
	return func(item StepResult, completed, total int) {
		pct := 100.0
		if total > 0 {
			pct = float64(completed) / float64(total) * 100
		}
		report(progress.Event{
			Percent: pct,
			Message: fmt.Sprintf("%s: %s", item.Point, item.Status),
			PointID: item.PointID,
			Status:  string(item.Status),
		})
	}
}
