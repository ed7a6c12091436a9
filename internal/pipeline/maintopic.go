package pipeline

import (
	"bytes"
	"context"
	"strings"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/generate"
	"github.com/TobiSchelling/kursil/internal/media"
	"github.com/TobiSchelling/kursil/internal/prompts"
)

// AdvanceTopicStage runs a topic-level stage (analogy, topic_translation).
func (o *Orchestrator) AdvanceTopicStage(ctx context.Context, topicID string, stage Stage) (StepResult, error) {
	field, ok := topicStages[stage]
	if !ok {
		return StepResult{Stage: stage, TopicID: topicID}, apperr.Newf(apperr.KindInvalidRequest, "unknown topic stage %q", stage)
	}
	unlock := o.locks.lock("topic:" + topicID)
	defer unlock()

	ctx, span := tracer.Start(ctx, "pipeline.advance_topic_stage")
	defer span.End()

	topic, err := o.requireTopic(ctx, topicID)
	if err != nil {
		return StepResult{Stage: stage, TopicID: topicID}, err
	}
	res := StepResult{Stage: stage, TopicID: topic.ID, MainTopicID: topic.MainTopicID}

	current := topic.Analogy
	if field == database.FieldTranslation {
		current = topic.Translation
	}
	if strings.TrimSpace(current) != "" {
		res.Status = StatusExisting
		res.Value = current
		return res, nil
	}

	mt, err := o.store.GetMainTopic(ctx, topic.MainTopicID)
	if err != nil {
		return res, apperr.Wrap(apperr.KindInternal, "loading main topic", err)
	}
	comp, ok := o.generateInto(ctx, &res, stage, o.topicData(topic, mt))
	if !ok {
		return res, nil
	}
	if err := o.store.SetTopicField(ctx, topic.ID, field, comp.Text); err != nil {
		o.persistFailed(&res, comp, err)
		return res, nil
	}
	o.recordCost(ctx, topic.ID, topic.MainTopicID, topic.Name, stage, comp)
	res.Status = StatusGenerated
	res.Value = comp.Text
	return res, nil
}

// TranslateSubject stores the subject in the target language.
func (o *Orchestrator) TranslateSubject(ctx context.Context, mainTopicID string) (StepResult, error) {
	return o.mainTopicText(ctx, mainTopicID, StageSubjectTranslation,
		func(mt *database.MainTopic) string { return mt.TranslatedSubject },
		func(_ []database.Topic, d *prompts.Data) error { return nil },
		func(u *database.MainTopicUpdate, v string) { u.TranslatedSubject = &v })
}

// SummarizeObjectives condenses the topic objectives into one paragraph.
// It needs at least one topic.
func (o *Orchestrator) SummarizeObjectives(ctx context.Context, mainTopicID string) (StepResult, error) {
	return o.mainTopicText(ctx, mainTopicID, StageObjectivesSummary,
		func(mt *database.MainTopic) string { return mt.ObjectivesSummary },
		func(topics []database.Topic, d *prompts.Data) error {
			if len(topics) == 0 {
				return apperr.New(apperr.KindPrerequisiteMissing, "objectives summary requires at least one topic")
			}
			for _, t := range topics {
				obj := t.Objective
				if obj == "" {
					obj = t.Name
				}
				d.Objectives = append(d.Objectives, obj)
			}
			return nil
		},
		func(u *database.MainTopicUpdate, v string) { u.ObjectivesSummary = &v })
}

// mainTopicText runs a text stage whose output lands on the main topic.
func (o *Orchestrator) mainTopicText(
	ctx context.Context,
	mainTopicID string,
	stage Stage,
	current func(*database.MainTopic) string,
	prepare func([]database.Topic, *prompts.Data) error,
	apply func(*database.MainTopicUpdate, string),
) (StepResult, error) {
	unlock := o.locks.lock("main:" + mainTopicID)
	defer unlock()

	ctx, span := tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()

	mt, err := o.requireMainTopic(ctx, mainTopicID)
	if err != nil {
		return StepResult{Stage: stage, MainTopicID: mainTopicID}, err
	}
	res := StepResult{Stage: stage, MainTopicID: mt.ID}
	if v := current(mt); strings.TrimSpace(v) != "" {
		res.Status = StatusExisting
		res.Value = v
		return res, nil
	}

	topics, err := o.store.GetTopicsByMainTopic(ctx, mt.ID)
	if err != nil {
		return res, apperr.Wrap(apperr.KindInternal, "loading topics", err)
	}
	data := prompts.Data{Subject: mt.Subject, TargetLanguage: o.settings.TargetLanguage}
	if err := prepare(topics, &data); err != nil {
		res.fail(err)
		return res, err
	}

	comp, ok := o.generateInto(ctx, &res, stage, data)
	if !ok {
		return res, nil
	}
	var u database.MainTopicUpdate
	apply(&u, comp.Text)
	if err := o.store.UpdateMainTopic(ctx, mt.ID, u); err != nil {
		o.persistFailed(&res, comp, err)
		return res, nil
	}
	o.recordCost(ctx, mt.ID, mt.ID, mt.Subject, stage, comp)
	res.Status = StatusGenerated
	res.Value = comp.Text
	return res, nil
}

// GenerateCover asks the model for an image prompt, renders it and stores
// the uploaded image locator on the main topic.
func (o *Orchestrator) GenerateCover(ctx context.Context, mainTopicID string) (StepResult, error) {
	unlock := o.locks.lock("main:" + mainTopicID)
	defer unlock()

	ctx, span := tracer.Start(ctx, "pipeline.image")
	defer span.End()

	mt, err := o.requireMainTopic(ctx, mainTopicID)
	if err != nil {
		return StepResult{Stage: StageImage, MainTopicID: mainTopicID}, err
	}
	res := StepResult{Stage: StageImage, MainTopicID: mt.ID}
	if mt.ImageURL != "" {
		res.Status = StatusExisting
		res.Value = mt.ImageURL
		return res, nil
	}
	if o.images == nil || o.uploader == nil {
		res.fail(apperr.New(apperr.KindUpstreamUnavailable, "no image generator or uploader configured"))
		return res, nil
	}

	data := prompts.Data{Subject: mt.Subject, Text: mt.ObjectivesSummary}
	comp, ok := o.generateInto(ctx, &res, "image_prompt", data)
	if !ok {
		return res, nil
	}
	o.recordCost(ctx, mt.ID, mt.ID, mt.Subject, StageImage, comp)
	res.Cost = comp.Cost

	img, err := o.images.GenerateImage(ctx, comp.Text, media.ImageOptions{Size: o.settings.ImageSize, Title: mt.Subject})
	if err != nil {
		o.log.Warn("cover generation failed", "main_topic_id", mt.ID, "error", err)
		res.fail(apperr.Wrap(apperr.KindUpstreamUnavailable, "generating cover", err))
		return res, nil
	}
	key := media.ObjectKey(mt.Subject, "png", o.now())
	url, err := o.uploader.Upload(ctx, key, "image/png", bytes.NewReader(img))
	if err != nil {
		o.log.Warn("cover upload failed", "main_topic_id", mt.ID, "key", key, "error", err)
		res.fail(apperr.Wrap(apperr.KindUpstreamUnavailable, "uploading cover", err))
		return res, nil
	}
	if err := o.store.UpdateMainTopic(ctx, mt.ID, database.MainTopicUpdate{ImageURL: &url}); err != nil {
		o.persistFailed(&res, comp, err)
		return res, nil
	}
	res.Status = StatusGenerated
	res.Value = url
	return res, nil
}

// GenerateNarration synthesises an audio introduction. A non-empty text is
// used verbatim; otherwise the model writes a script from the objectives
// summary, or the subject when there is none.
func (o *Orchestrator) GenerateNarration(ctx context.Context, mainTopicID, text string) (StepResult, error) {
	unlock := o.locks.lock("main:" + mainTopicID)
	defer unlock()

	ctx, span := tracer.Start(ctx, "pipeline.speech")
	defer span.End()

	mt, err := o.requireMainTopic(ctx, mainTopicID)
	if err != nil {
		return StepResult{Stage: StageSpeech, MainTopicID: mainTopicID}, err
	}
	res := StepResult{Stage: StageSpeech, MainTopicID: mt.ID}
	text = strings.TrimSpace(text)
	if mt.AudioURL != "" && text == "" {
		res.Status = StatusExisting
		res.Value = mt.AudioURL
		return res, nil
	}
	if o.speech == nil || o.uploader == nil {
		res.fail(apperr.New(apperr.KindUpstreamUnavailable, "no speech synthesizer or uploader configured"))
		return res, nil
	}

	script := text
	if script == "" {
		source := mt.ObjectivesSummary
		if source == "" {
			source = mt.Subject
		}
		comp, ok := o.generateInto(ctx, &res, "narration", prompts.Data{Subject: mt.Subject, Text: source})
		if !ok {
			return res, nil
		}
		o.recordCost(ctx, mt.ID, mt.ID, mt.Subject, StageSpeech, comp)
		res.Cost = comp.Cost
		script = comp.Text
	}

	audio, err := o.speech.Synthesize(ctx, script, media.SpeechOptions{VoiceID: o.settings.VoiceID})
	if err != nil {
		o.log.Warn("speech synthesis failed", "main_topic_id", mt.ID, "error", err)
		res.fail(apperr.Wrap(apperr.KindUpstreamUnavailable, "synthesising narration", err))
		return res, nil
	}
	key := media.ObjectKey(mt.Subject, "mp3", o.now())
	url, err := o.uploader.Upload(ctx, key, "audio/mpeg", bytes.NewReader(audio))
	if err != nil {
		o.log.Warn("narration upload failed", "main_topic_id", mt.ID, "key", key, "error", err)
		res.fail(apperr.Wrap(apperr.KindUpstreamUnavailable, "uploading narration", err))
		return res, nil
	}
	if err := o.store.UpdateMainTopic(ctx, mt.ID, database.MainTopicUpdate{AudioURL: &url}); err != nil {
		o.log.Error("generated content not persisted", "stage", StageSpeech, "main_topic_id", mt.ID, "error", err)
		res.fail(apperr.Wrap(apperr.KindPersistenceFailure, "storing audio url", err))
		return res, nil
	}
	res.Status = StatusGenerated
	res.Value = url
	return res, nil
}

// generateInto renders and runs a template, marking res failed on error.
func (o *Orchestrator) generateInto(ctx context.Context, res *StepResult, stage Stage, data prompts.Data) (generate.Completion, bool) {
	system, prompt, err := o.prompts.Render(string(stage), data)
	if err != nil {
		res.fail(apperr.Wrap(apperr.KindInternal, "rendering prompt", err))
		return generate.Completion{}, false
	}
	comp, err := o.gen.Generate(ctx, string(stage), system, prompt)
	if err != nil {
		o.log.Warn("stage failed", "stage", stage, "main_topic_id", res.MainTopicID, "topic_id", res.TopicID, "error", err)
		res.fail(err)
		return generate.Completion{}, false
	}
	res.Cost = comp.Cost
	return comp, true
}

func (o *Orchestrator) persistFailed(res *StepResult, comp generate.Completion, err error) {
	o.log.Error("generated content not persisted",
		"stage", res.Stage, "main_topic_id", res.MainTopicID, "topic_id", res.TopicID, "cost", comp.Cost, "error", err)
	res.fail(apperr.Wrap(apperr.KindPersistenceFailure, "storing "+string(res.Stage), err))
}

func (o *Orchestrator) requireMainTopic(ctx context.Context, id string) (*database.MainTopic, error) {
	mt, err := o.store.GetMainTopic(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading main topic", err)
	}
	if mt == nil {
		return nil, apperr.Newf(apperr.KindMainTopicNotFound, "main topic %s not found", id)
	}
	return mt, nil
}
