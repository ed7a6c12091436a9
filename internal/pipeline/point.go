package pipeline

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/llm"
	"github.com/TobiSchelling/kursil/internal/prompts"
)

// AdvancePoint runs one point stage on one point.
//
// A missing point or an empty prerequisite is returned as an error. A
// generation or persistence failure comes back as a failed result with a nil
// error so batch callers can carry on.
func (o *Orchestrator) AdvancePoint(ctx context.Context, pointID string, stage Stage) (StepResult, error) {
	def, ok := pointStages[stage]
	if !ok {
		return StepResult{Stage: stage, PointID: pointID}, apperr.Newf(apperr.KindInvalidRequest, "unknown point stage %q", stage)
	}

	unlock := o.locks.lock(pointID)
	defer unlock()

	ctx, span := tracer.Start(ctx, "pipeline.advance_point")
	defer span.End()
	span.SetAttributes(attribute.String("kursil.stage", string(stage)), attribute.String("kursil.point_id", pointID))

	res := StepResult{Stage: stage, PointID: pointID}

	p, err := o.store.GetPoint(ctx, pointID)
	if err != nil {
		err = apperr.Wrap(apperr.KindInternal, "loading point", err)
		res.fail(err)
		return res, err
	}
	if p == nil {
		err := apperr.Newf(apperr.KindPointNotFound, "point %s not found", pointID)
		res.fail(err)
		return res, err
	}
	res.Point = p.Text
	res.TopicID = p.TopicID

	var missing []database.PointField
	for _, f := range def.targets {
		if strings.TrimSpace(p.Field(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		res.Status = StatusExisting
		res.Value = joinFields(p, def.targets)
		return res, nil
	}

	if def.requires != "" && strings.TrimSpace(p.Field(def.requires)) == "" {
		err := apperr.Newf(apperr.KindPrerequisiteMissing, "%s requires %s for point %q", stage, def.requires, p.Text)
		res.fail(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	topic, mainTopic, err := o.pointContext(ctx, p)
	if err != nil {
		res.fail(err)
		return res, err
	}
	res.MainTopicID = topic.MainTopicID

	system, prompt, err := o.prompts.Render(string(stage), o.pointData(p, topic, mainTopic))
	if err != nil {
		err = apperr.Wrap(apperr.KindInternal, "rendering prompt", err)
		res.fail(err)
		return res, err
	}

	comp, err := o.gen.Generate(ctx, string(stage), system, prompt)
	if err != nil {
		o.log.Warn("stage failed", "stage", stage, "point_id", pointID, "error", err)
		span.RecordError(err)
		res.fail(err)
		return res, nil
	}
	res.Cost = comp.Cost

	values := map[database.PointField]string{}
	if stage == StageMisc {
		parsed := llm.ParseJSONResponse(comp.Text)
		for _, f := range missing {
			if v := strings.TrimSpace(llm.StringField(parsed, string(f))); v != "" {
				values[f] = v
			}
		}
		if len(values) == 0 {
			o.recordCost(ctx, topic.ID, topic.MainTopicID, p.Text, stage, comp)
			res.fail(apperr.New(apperr.KindParseAmbiguous, "misc response carried none of the expected fields"))
			return res, nil
		}
	} else {
		values[missing[0]] = comp.Text
	}

	if len(values) == 1 {
		for f, v := range values {
			err = o.store.SetPointField(ctx, pointID, f, v)
		}
	} else {
		err = o.store.SetPointFields(ctx, pointID, values)
	}
	if err != nil {
		o.log.Error("generated content not persisted",
			"stage", stage, "point_id", pointID, "cost", comp.Cost, "error", err)
		res.fail(apperr.Wrap(apperr.KindPersistenceFailure, "storing "+string(stage), err))
		return res, nil
	}

	o.recordCost(ctx, topic.ID, topic.MainTopicID, p.Text, stage, comp)

	for f, v := range values {
		setField(p, f, v)
	}
	res.Status = StatusGenerated
	res.Value = joinFields(p, def.targets)
	o.log.Info("stage generated", "stage", stage, "point", p.Text, "cost", comp.Cost)
	return res, nil
}

// pointContext loads the topic and main topic a point belongs to. The main
// topic may be nil for rows created before main topics existed.
func (o *Orchestrator) pointContext(ctx context.Context, p *database.Point) (*database.Topic, *database.MainTopic, error) {
	topic, err := o.store.GetTopic(ctx, p.TopicID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "loading topic", err)
	}
	if topic == nil {
		return nil, nil, apperr.Newf(apperr.KindTopicNotFound, "topic %s of point %s not found", p.TopicID, p.ID)
	}
	mt, err := o.store.GetMainTopic(ctx, topic.MainTopicID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "loading main topic", err)
	}
	return topic, mt, nil
}

func (o *Orchestrator) topicData(topic *database.Topic, mt *database.MainTopic) prompts.Data {
	d := prompts.Data{
		Topic:          topic.Name,
		Objective:      topic.Objective,
		KeyConcepts:    topic.KeyConcepts,
		Skills:         topic.Skills,
		Points:         topic.DiscussionPoints,
		TargetLanguage: o.settings.TargetLanguage,
	}
	if mt != nil {
		d.Subject = mt.Subject
	}
	return d
}

func (o *Orchestrator) pointData(p *database.Point, topic *database.Topic, mt *database.MainTopic) prompts.Data {
	d := o.topicData(topic, mt)
	d.Point = p.Text
	d.Elaboration = p.Elaboration
	d.Prompting = p.Prompting
	d.Handout = p.Handout
	return d
}

func joinFields(p *database.Point, fields []database.PointField) string {
	if len(fields) == 1 {
		return p.Field(fields[0])
	}
	var b strings.Builder
	for _, f := range fields {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(f))
		b.WriteString(": ")
		b.WriteString(p.Field(f))
	}
	return b.String()
}

func setField(p *database.Point, f database.PointField, v string) {
	switch f {
	case database.FieldElaboration:
		p.Elaboration = v
	case database.FieldPrompting:
		p.Prompting = v
	case database.FieldHandout:
		p.Handout = v
	case database.FieldQuiz:
		p.Quiz = v
	case database.FieldMethod:
		p.Method = v
	case database.FieldAssessment:
		p.Assessment = v
	case database.FieldLearnObjective:
		p.LearnObjective = v
	case database.FieldDuration:
		p.Duration = v
	case database.FieldHandoutTranslation:
		p.HandoutTranslation = v
	}
}
