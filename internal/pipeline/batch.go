package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/outline"
)

// ReportFunc receives each finished item with the running count.
type ReportFunc func(item StepResult, completed, total int)

type batchOptions struct {
	report ReportFunc
}

// BatchOption configures a topic fan-out.
type BatchOption func(*batchOptions)

// WithReport registers a per-item progress callback.
func WithReport(fn ReportFunc) BatchOption {
	return func(o *batchOptions) { o.report = fn }
}

func collectOptions(opts []BatchOption) batchOptions {
	var o batchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.report == nil {
		o.report = func(StepResult, int, int) {}
	}
	return o
}

// AdvanceTopic applies a point stage to every point of a topic in position
// order. Point failures are reported per item and never stop the batch.
// Elaboration delegates to ElaborateTopic so points are created on demand.
func (o *Orchestrator) AdvanceTopic(ctx context.Context, topicID string, stage Stage, opts ...BatchOption) (BatchResult, error) {
	if stage == StageElaboration {
		return o.ElaborateTopic(ctx, topicID, opts...)
	}
	if !IsPointStage(stage) {
		return BatchResult{}, apperr.Newf(apperr.KindInvalidRequest, "unknown point stage %q", stage)
	}

	topic, err := o.requireTopic(ctx, topicID)
	if err != nil {
		return BatchResult{}, err
	}
	points, err := o.store.GetPointsByTopic(ctx, topic.ID)
	if err != nil {
		return BatchResult{}, apperr.Wrap(apperr.KindInternal, "loading points", err)
	}

	ctx, span := tracer.Start(ctx, "pipeline.advance_topic")
	defer span.End()
	span.SetAttributes(attribute.String("kursil.stage", string(stage)), attribute.Int("kursil.points", len(points)))

	bo := collectOptions(opts)
	br := BatchResult{TopicID: topic.ID, Topic: topic.Name, Stage: stage}
	br.Items = o.runPoints(ctx, points, stage, 0, len(points), bo.report)
	br.tally()
	o.log.Info("topic batch finished", "topic", topic.Name, "stage", stage,
		"generated", br.Generated, "existing", br.Existing, "failed", br.Failed, "skipped", br.Skipped)
	return br, nil
}

// runPoints steps each point, preserving order in the returned slice. The
// context is checked between items; an in-flight step runs to completion.
// offset and total feed the progress counter when the points are part of a
// larger batch.
func (o *Orchestrator) runPoints(ctx context.Context, points []database.Point, stage Stage, offset, total int, report ReportFunc) []StepResult {
	items := make([]StepResult, len(points))
	if len(points) == 0 {
		return items
	}

	var delay time.Duration
	if len(points) > o.settings.DelayThreshold {
		delay = o.settings.InterItemDelay
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		completed = offset
	)
	g.SetLimit(o.settings.Concurrency)

	done := func(i int, res StepResult) {
		items[i] = res
		mu.Lock()
		completed++
		n := completed
		mu.Unlock()
		report(res, n, total)
	}

	stepCtx := context.WithoutCancel(ctx)
	for i, p := range points {
		if i > 0 && delay > 0 {
			sleep(ctx, delay)
		}
		if ctx.Err() != nil {
			_ = g.Wait()
			for j := i; j < len(points); j++ {
				done(j, StepResult{
					Stage:   stage,
					PointID: points[j].ID,
					Point:   points[j].Text,
					TopicID: points[j].TopicID,
					Status:  StatusSkipped,
					Reason:  "cancelled",
				})
			}
			return items
		}

		g.Go(func() error {
			res, err := o.AdvancePoint(stepCtx, p.ID, stage)
			if err != nil && res.Status == "" {
				res.fail(err)
			}
			if res.Point == "" {
				res.Point = p.Text
			}
			done(i, res)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// ElaborateTopic fills the elaboration of every discussion point of a topic.
//
// When the topic has no points yet one topic-level call elaborates all of
// them, and the sections are matched back to the discussion points. Points
// left without a section, or all points when the bulk call fails, fall back
// to the point-level step.
func (o *Orchestrator) ElaborateTopic(ctx context.Context, topicID string, opts ...BatchOption) (BatchResult, error) {
	unlock := o.locks.lock("topic:" + topicID)
	defer unlock()

	topic, err := o.requireTopic(ctx, topicID)
	if err != nil {
		return BatchResult{}, err
	}
	bo := collectOptions(opts)
	br := BatchResult{TopicID: topic.ID, Topic: topic.Name, Stage: StageElaboration}

	ctx, span := tracer.Start(ctx, "pipeline.elaborate_topic")
	defer span.End()

	points, err := o.store.GetPointsByTopic(ctx, topic.ID)
	if err != nil {
		return BatchResult{}, apperr.Wrap(apperr.KindInternal, "loading points", err)
	}

	if len(points) > 0 {
		points, err = o.insertMissingPoints(ctx, topic, points)
		if err != nil {
			return BatchResult{}, err
		}
		br.Items = o.runPoints(ctx, points, StageElaboration, 0, len(points), bo.report)
		br.tally()
		return br, nil
	}

	if len(topic.DiscussionPoints) == 0 {
		return br, nil
	}

	matched, bulkCost := o.bulkElaborate(ctx, topic)

	total := len(topic.DiscussionPoints)
	items := make([]StepResult, total)
	var (
		fallback    []database.Point
		fallbackIdx []int
		completed   int
	)
	for i, text := range topic.DiscussionPoints {
		id, err := o.store.InsertPoint(ctx, topic.ID, i, text)
		if err != nil {
			o.log.Error("point not created", "topic", topic.Name, "point", text, "error", err)
			items[i] = StepResult{Stage: StageElaboration, Point: text, TopicID: topic.ID}
			items[i].fail(apperr.Wrap(apperr.KindPersistenceFailure, "creating point", err))
			completed++
			bo.report(items[i], completed, total)
			continue
		}
		body, ok := matched[i]
		if !ok || body == "" {
			fallback = append(fallback, database.Point{ID: id, TopicID: topic.ID, Position: i, Text: text})
			fallbackIdx = append(fallbackIdx, i)
			continue
		}

		res := o.storeBulkElaboration(ctx, topic, id, text, body)
		items[i] = res
		completed++
		bo.report(res, completed, total)
	}

	if len(fallback) > 0 {
		o.log.Info("elaborating unmatched points individually", "topic", topic.Name, "count", len(fallback))
		results := o.runPoints(ctx, fallback, StageElaboration, completed, total, bo.report)
		for j, res := range results {
			items[fallbackIdx[j]] = res
		}
	}

	br.Items = items
	br.tally()
	br.Cost += bulkCost
	return br, nil
}

// storeBulkElaboration writes one matched section unless a point-level step
// filled the elaboration first.
func (o *Orchestrator) storeBulkElaboration(ctx context.Context, topic *database.Topic, pointID, text, body string) StepResult {
	unlock := o.locks.lock(pointID)
	defer unlock()

	res := StepResult{Stage: StageElaboration, PointID: pointID, Point: text, TopicID: topic.ID, MainTopicID: topic.MainTopicID}
	p, err := o.store.GetPoint(ctx, pointID)
	if err != nil {
		res.fail(apperr.Wrap(apperr.KindInternal, "loading point", err))
		return res
	}
	if p != nil && strings.TrimSpace(p.Elaboration) != "" {
		res.Status = StatusExisting
		res.Value = p.Elaboration
		return res
	}
	if err := o.store.SetPointField(ctx, pointID, database.FieldElaboration, body); err != nil {
		o.log.Error("generated content not persisted", "stage", StageElaboration, "point_id", pointID, "error", err)
		res.fail(apperr.Wrap(apperr.KindPersistenceFailure, "storing elaboration", err))
		return res
	}
	res.Status = StatusGenerated
	res.Value = body
	return res
}

// bulkElaborate runs the topic-level elaboration call and maps its sections
// onto discussion point positions. A failed call returns no matches.
func (o *Orchestrator) bulkElaborate(ctx context.Context, topic *database.Topic) (map[int]string, float64) {
	mt, err := o.store.GetMainTopic(ctx, topic.MainTopicID)
	if err != nil {
		o.log.Warn("main topic lookup failed", "main_topic_id", topic.MainTopicID, "error", err)
	}
	system, prompt, err := o.prompts.Render("topic_elaboration", o.topicData(topic, mt))
	if err != nil {
		o.log.Error("rendering topic elaboration", "error", err)
		return nil, 0
	}
	comp, err := o.gen.Generate(ctx, "topic_elaboration", system, prompt)
	if err != nil {
		o.log.Warn("bulk elaboration failed, falling back per point", "topic", topic.Name, "error", err)
		return nil, 0
	}
	o.recordCost(ctx, topic.ID, topic.MainTopicID, topic.Name, StageElaboration, comp)

	recs := outline.ParseElaboration(comp.Text)
	matched := outline.MatchElaborations(topic.DiscussionPoints, recs)
	o.log.Debug("bulk elaboration parsed", "topic", topic.Name, "sections", len(recs), "matched", len(matched))
	return matched, comp.Cost
}

// insertMissingPoints creates rows for discussion items that have none and
// returns the topic's points in position order.
func (o *Orchestrator) insertMissingPoints(ctx context.Context, topic *database.Topic, points []database.Point) ([]database.Point, error) {
	have := make(map[int]bool, len(points))
	for _, p := range points {
		have[p.Position] = true
	}
	added := false
	for i, text := range topic.DiscussionPoints {
		if have[i] {
			continue
		}
		if _, err := o.store.InsertPoint(ctx, topic.ID, i, text); err != nil {
			o.log.Error("point not created", "topic", topic.Name, "point", text, "error", err)
			continue
		}
		added = true
	}
	if !added {
		return points, nil
	}
	points, err := o.store.GetPointsByTopic(ctx, topic.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "reloading points", err)
	}
	return points, nil
}

// RunTopic advances a topic through every stage in FullRun. A stage whose
// items all fail still lets later stages report their prerequisite errors.
func (o *Orchestrator) RunTopic(ctx context.Context, topicID string, opts ...BatchOption) ([]BatchResult, error) {
	var results []BatchResult
	for _, stage := range FullRun {
		if ctx.Err() != nil {
			break
		}
		br, err := o.AdvanceTopic(ctx, topicID, stage, opts...)
		if err != nil {
			return results, err
		}
		results = append(results, br)
	}
	return results, nil
}

func (o *Orchestrator) requireTopic(ctx context.Context, topicID string) (*database.Topic, error) {
	topic, err := o.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading topic", err)
	}
	if topic == nil {
		return nil, apperr.Newf(apperr.KindTopicNotFound, "topic %s not found", topicID)
	}
	return topic, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
