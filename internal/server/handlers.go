package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/docgen"
	"github.com/TobiSchelling/kursil/internal/media"
	"github.com/TobiSchelling/kursil/internal/pipeline"
)

func (s *Server) handleCreateOutline(w http.ResponseWriter, r *http.Request) {
	var req pipeline.OutlineRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.orch.CreateOutline(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListMainTopics(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	mts, err := s.db.ListMainTopics(r.Context(), limit)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "listing main topics", err))
		return
	}
	out := make([]mainTopicView, 0, len(mts))
	for i := range mts {
		out = append(out, newMainTopicView(&mts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) mainTopic(w http.ResponseWriter, r *http.Request) (*database.MainTopic, bool) {
	id := chi.URLParam(r, "id")
	mt, err := s.db.GetMainTopic(r.Context(), id)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "loading main topic", err))
		return nil, false
	}
	if mt == nil {
		s.writeError(w, apperr.Newf(apperr.KindMainTopicNotFound, "main topic %s not found", id))
		return nil, false
	}
	return mt, true
}

func (s *Server) handleGetMainTopic(w http.ResponseWriter, r *http.Request) {
	mt, ok := s.mainTopic(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newMainTopicView(mt))
}

func (s *Server) handleMainTopicTopics(w http.ResponseWriter, r *http.Request) {
	mt, ok := s.mainTopic(w, r)
	if !ok {
		return
	}
	topics, err := s.db.GetTopicsByMainTopic(r.Context(), mt.ID)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "loading topics", err))
		return
	}
	out := make([]topicView, 0, len(topics))
	for i := range topics {
		out = append(out, newTopicView(&topics[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMainTopicCost(w http.ResponseWriter, r *http.Request) {
	mt, ok := s.mainTopic(w, r)
	if !ok {
		return
	}
	total, err := s.db.SumCostByMainTopic(r.Context(), mt.ID)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "summing cost", err))
		return
	}
	rows, err := s.db.SummarizeCosts(r.Context(), mt.ID)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "summarising cost", err))
		return
	}
	writeJSON(w, http.StatusOK, newCostView(mt.ID, total, rows))
}

func (s *Server) handleTranslateSubject(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.TranslateSubject(r.Context(), chi.URLParam(r, "id"))
	s.writeStep(w, res, err)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.SummarizeObjectives(r.Context(), chi.URLParam(r, "id"))
	s.writeStep(w, res, err)
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.GenerateCover(r.Context(), chi.URLParam(r, "id"))
	s.writeStep(w, res, err)
}

func (s *Server) handleNarration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.orch.GenerateNarration(r.Context(), chi.URLParam(r, "id"), body.Text)
	s.writeStep(w, res, err)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		s.writeError(w, apperr.New(apperr.KindUpstreamUnavailable, "retrieval is not configured"))
		return
	}
	res, err := s.rag.Ingest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		s.writeError(w, apperr.New(apperr.KindUpstreamUnavailable, "retrieval is not configured"))
		return
	}
	var body struct {
		Question string `json:"question"`
		K        int    `json:"k"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.rag.Query(r.Context(), chi.URLParam(r, "id"), body.Question, body.K)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func documentKind(r *http.Request) (docgen.Kind, error) {
	raw := chi.URLParam(r, "kind")
	kind, ok := docgen.ParseKind(raw)
	if !ok {
		return "", apperr.Newf(apperr.KindInvalidRequest, "unknown document kind %q", raw)
	}
	return kind, nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kind, err := documentKind(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.orch.ExportDocument(r.Context(), chi.URLParam(r, "id"), kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleDownload serves an exported document, redirecting when the locator
// is a URL.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	kind, err := documentKind(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mt, ok := s.mainTopic(w, r)
	if !ok {
		return
	}
	var locator string
	switch kind {
	case docgen.KindHandout:
		locator = mt.HandoutDocument
	case docgen.KindKursil:
		locator = mt.KursilDocument
	case docgen.KindSlides:
		locator = mt.SlidesDocument
	}
	if locator == "" {
		s.writeError(w, apperr.Newf(apperr.KindPrerequisiteMissing, "no %s document exported for %q yet", kind, mt.Subject))
		return
	}
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		http.Redirect(w, r, locator, http.StatusFound)
		return
	}
	if _, err := os.Stat(locator); err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "exported document is missing", err))
		return
	}
	w.Header().Set("Content-Type", media.ContentTypeForKey(locator))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(locator)+`"`)
	http.ServeFile(w, r, locator)
}

func (s *Server) topic(w http.ResponseWriter, r *http.Request) (*database.Topic, bool) {
	id := chi.URLParam(r, "id")
	t, err := s.db.GetTopic(r.Context(), id)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "loading topic", err))
		return nil, false
	}
	if t == nil {
		s.writeError(w, apperr.Newf(apperr.KindTopicNotFound, "topic %s not found", id))
		return nil, false
	}
	return t, true
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, ok := s.topic(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newTopicView(t))
}

func (s *Server) handleTopicPoints(w http.ResponseWriter, r *http.Request) {
	t, ok := s.topic(w, r)
	if !ok {
		return
	}
	points, err := s.db.GetPointsByTopic(r.Context(), t.ID)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "loading points", err))
		return
	}
	out := make([]pointView, 0, len(points))
	for i := range points {
		out = append(out, newPointView(&points[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTopicCost(w http.ResponseWriter, r *http.Request) {
	t, ok := s.topic(w, r)
	if !ok {
		return
	}
	total, err := s.db.SumCostByTopic(r.Context(), t.ID)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "summing cost", err))
		return
	}
	writeJSON(w, http.StatusOK, newCostView(t.ID, total, nil))
}

func (s *Server) handleElaborate(w http.ResponseWriter, r *http.Request) {
	s.runTopicBatch(w, r, pipeline.StageElaboration)
}

func (s *Server) handleTopicStage(w http.ResponseWriter, r *http.Request) {
	stage := pipeline.Stage(chi.URLParam(r, "stage"))
	switch {
	case stage == pipeline.StageElaboration || pipeline.IsPointStage(stage):
		s.runTopicBatch(w, r, stage)
	case pipeline.IsTopicStage(stage):
		res, err := s.orch.AdvanceTopicStage(r.Context(), chi.URLParam(r, "id"), stage)
		s.writeStep(w, res, err)
	default:
		s.writeError(w, apperr.Newf(apperr.KindInvalidRequest, "unknown stage %q", stage))
	}
}

// runTopicBatch fans a point stage out over a topic, in the background when
// ?background=true.
func (s *Server) runTopicBatch(w http.ResponseWriter, r *http.Request, stage pipeline.Stage) {
	topicID := chi.URLParam(r, "id")
	if background, _ := strconv.ParseBool(r.URL.Query().Get("background")); background {
		if s.runner == nil {
			s.writeError(w, apperr.New(apperr.KindInvalidRequest, "background execution is not enabled"))
			return
		}
		id, err := s.orch.SubmitTopicStage(r.Context(), s.runner, topicID, stage)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, newTaskAccepted(id))
		return
	}
	br, err := s.orch.AdvanceTopic(r.Context(), topicID, stage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, br)
}

func (s *Server) point(w http.ResponseWriter, r *http.Request) (*database.Point, bool) {
	id := chi.URLParam(r, "id")
	p, err := s.db.GetPoint(r.Context(), id)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "loading point", err))
		return nil, false
	}
	if p == nil {
		s.writeError(w, apperr.Newf(apperr.KindPointNotFound, "point %s not found", id))
		return nil, false
	}
	return p, true
}

func (s *Server) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	p, ok := s.point(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newPointView(p))
}

func (s *Server) handlePointStage(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.AdvancePoint(r.Context(), chi.URLParam(r, "id"), pipeline.Stage(chi.URLParam(r, "stage")))
	s.writeStep(w, res, err)
}

// writeStep reports a single step. A failed step is an error response.
func (s *Server) writeStep(w http.ResponseWriter, res pipeline.StepResult, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Status == pipeline.StatusFailed {
		kind := res.Kind
		if kind == "" {
			kind = apperr.KindInternal
		}
		s.writeError(w, apperr.New(kind, res.Reason))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePreview renders the handout, or another text field via ?field=, as
// HTML.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.point(w, r)
	if !ok {
		return
	}
	field := database.PointField(r.URL.Query().Get("field"))
	if field == "" {
		field = database.FieldHandout
		if p.Handout == "" {
			field = database.FieldElaboration
		}
	}
	body := p.Field(field)
	if body == "" {
		s.writeError(w, apperr.Newf(apperr.KindPrerequisiteMissing, "point %q has no %s yet", p.Text, field))
		return
	}
	topicName := ""
	if t, err := s.db.GetTopic(r.Context(), p.TopicID); err == nil && t != nil {
		topicName = t.Name
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.preview.Execute(w, map[string]any{
		"Point": p.Text,
		"Topic": topicName,
		"Field": string(field),
		"Body":  body,
	}); err != nil {
		s.log.Error("rendering preview", "point_id", p.ID, "error", err)
	}
}
