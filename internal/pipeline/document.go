package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/docgen"
	"github.com/TobiSchelling/kursil/internal/media"
)

// BuildDocument resolves a main topic into the tree the assemblers render.
func (o *Orchestrator) BuildDocument(ctx context.Context, mainTopicID string) (docgen.Document, error) {
	mt, err := o.requireMainTopic(ctx, mainTopicID)
	if err != nil {
		return docgen.Document{}, err
	}
	topics, err := o.store.GetTopicsByMainTopic(ctx, mt.ID)
	if err != nil {
		return docgen.Document{}, apperr.Wrap(apperr.KindInternal, "loading topics", err)
	}

	doc := docgen.Document{
		MainTopicID:       mt.ID,
		Subject:           mt.Subject,
		TranslatedSubject: mt.TranslatedSubject,
		ObjectivesSummary: mt.ObjectivesSummary,
	}
	for _, t := range topics {
		points, err := o.store.GetPointsByTopic(ctx, t.ID)
		if err != nil {
			return docgen.Document{}, apperr.Wrap(apperr.KindInternal, "loading points", err)
		}
		dt := docgen.Topic{
			Name:             t.Name,
			Objective:        t.Objective,
			KeyConcepts:      t.KeyConcepts,
			Skills:           t.Skills,
			Analogy:          t.Analogy,
			DiscussionPoints: t.DiscussionPoints,
		}
		for _, p := range points {
			body := p.Handout
			if body == "" {
				body = p.Elaboration
			}
			dt.Points = append(dt.Points, docgen.Point{
				Text:           p.Text,
				Body:           body,
				LearnObjective: p.LearnObjective,
				Assessment:     p.Assessment,
				Method:         p.Method,
				Duration:       p.Duration,
			})
		}
		doc.Topics = append(doc.Topics, dt)
	}
	return doc, nil
}

// ExportResult describes a written document.
type ExportResult struct {
	MainTopicID string      `json:"main_topic_id"`
	Kind        docgen.Kind `json:"kind"`
	Path        string      `json:"path"`
	Locator     string      `json:"locator"`
}

// ExportDocument renders one document kind, uploads it when an uploader is
// configured and stores the locator on the main topic.
func (o *Orchestrator) ExportDocument(ctx context.Context, mainTopicID string, kind docgen.Kind) (ExportResult, error) {
	asm, ok := o.assemblers[kind]
	if !ok {
		return ExportResult{}, apperr.Newf(apperr.KindInvalidRequest, "unknown document kind %q", kind)
	}

	ctx, span := tracer.Start(ctx, "pipeline.export_document")
	defer span.End()

	doc, err := o.BuildDocument(ctx, mainTopicID)
	if err != nil {
		return ExportResult{}, err
	}
	if kind == docgen.KindHandout && !doc.HasBody() {
		return ExportResult{}, apperr.New(apperr.KindPrerequisiteMissing, "no point has a handout or elaboration yet")
	}

	path, err := asm.Assemble(ctx, doc)
	if err != nil {
		return ExportResult{}, apperr.Wrap(apperr.KindInternal, "assembling "+string(kind), err)
	}
	res := ExportResult{MainTopicID: doc.MainTopicID, Kind: kind, Path: path, Locator: path}

	if o.uploader != nil {
		if url, err := o.upload(ctx, path); err != nil {
			o.log.Warn("document upload failed, keeping local path", "path", path, "error", err)
		} else {
			res.Locator = url
		}
	}

	var u database.MainTopicUpdate
	switch kind {
	case docgen.KindKursil:
		u.KursilDocument = &res.Locator
	case docgen.KindHandout:
		u.HandoutDocument = &res.Locator
	case docgen.KindSlides:
		u.SlidesDocument = &res.Locator
	}
	if err := o.store.UpdateMainTopic(ctx, doc.MainTopicID, u); err != nil {
		o.log.Error("document locator not persisted", "kind", kind, "locator", res.Locator, "error", err)
		return res, apperr.Wrap(apperr.KindPersistenceFailure, "storing document locator", err)
	}
	o.log.Info("document exported", "kind", kind, "locator", res.Locator)
	return res, nil
}

func (o *Orchestrator) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := filepath.ToSlash(filepath.Join(media.KeyPrefix, "documents", filepath.Base(path)))
	return o.uploader.Upload(ctx, key, media.ContentTypeForKey(path), f)
}
