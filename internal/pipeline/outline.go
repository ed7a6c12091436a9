package pipeline

import (
	"context"
	"strings"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/outline"
	"github.com/TobiSchelling/kursil/internal/prompts"
)

// OutlineRequest asks for a new curriculum.
type OutlineRequest struct {
	Subject       string   `json:"subject"`
	ReferenceURLs []string `json:"reference_urls,omitempty"`
}

// TopicSummary identifies a created topic.
type TopicSummary struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Points []string `json:"points"`
}

// OutlineResult is the persisted outline.
type OutlineResult struct {
	MainTopicID string         `json:"main_topic_id"`
	Subject     string         `json:"subject"`
	Topics      []TopicSummary `json:"topics"`
	References  int            `json:"references"`
	Cost        float64        `json:"cost"`
}

// CreateOutline generates and stores an outline for a subject. Nothing is
// persisted when the response yields no topics.
func (o *Orchestrator) CreateOutline(ctx context.Context, req OutlineRequest) (*OutlineResult, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "subject is required")
	}

	ctx, span := tracer.Start(ctx, "pipeline.create_outline")
	defer span.End()

	data := prompts.Data{Subject: subject}
	if o.fetcher != nil && len(req.ReferenceURLs) > 0 {
		for _, ref := range o.fetcher.FetchAll(ctx, req.ReferenceURLs) {
			data.References = append(data.References, prompts.Reference{URL: ref.URL, Title: ref.Title, Text: ref.Text})
		}
	}

	system, prompt, err := o.prompts.Render(string(StageOutline), data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "rendering outline prompt", err)
	}
	comp, err := o.gen.Generate(ctx, string(StageOutline), system, prompt)
	if err != nil {
		return nil, err
	}

	records, err := outline.ParseOutline(comp.Text, outline.WithLogger(o.log))
	if err != nil {
		o.log.Error("outline not persisted", "subject", subject, "cost", comp.Cost, "error", err)
		return nil, err
	}

	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	mainID, err := o.store.InsertMainTopic(ctx, database.MainTopic{
		Subject:    subject,
		Cost:       comp.Cost,
		TopicNames: names,
	})
	if err != nil {
		o.log.Error("generated content not persisted", "stage", StageOutline, "subject", subject, "cost", comp.Cost, "error", err)
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, "storing main topic", err)
	}

	res := &OutlineResult{MainTopicID: mainID, Subject: subject, References: len(data.References), Cost: comp.Cost}
	for i, r := range records {
		id, err := o.store.InsertTopic(ctx, database.Topic{
			MainTopicID:      mainID,
			Position:         i,
			Name:             r.Name,
			Objective:        r.Objective,
			KeyConcepts:      r.KeyConcepts,
			Skills:           r.Skills,
			DiscussionPoints: r.Points,
		})
		if err != nil {
			o.log.Error("topic not persisted", "main_topic_id", mainID, "topic", r.Name, "error", err)
			continue
		}
		res.Topics = append(res.Topics, TopicSummary{ID: id, Name: r.Name, Points: r.Points})
	}

	if _, err := o.store.AppendCostEntry(ctx, database.CostEntry{
		TopicID:      mainID,
		MainTopicID:  mainID,
		Label:        subject,
		Stage:        string(StageOutline),
		InputTokens:  comp.InputTokens,
		OutputTokens: comp.OutputTokens,
		Cost:         comp.Cost,
	}); err != nil {
		o.log.Error("cost entry not recorded", "stage", StageOutline, "main_topic_id", mainID, "error", err)
	}

	o.log.Info("outline created", "subject", subject, "topics", len(res.Topics), "cost", comp.Cost)
	return res, nil
}
