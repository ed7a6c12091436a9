// Package rag answers questions about a curriculum from its handouts.
//
// Ingest chunks and embeds every handout of a main topic; Query embeds the
// question, ranks the stored chunks by cosine similarity and asks the model
// to answer from the best ones.
package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/generate"
	"github.com/TobiSchelling/kursil/internal/llm"
	"github.com/TobiSchelling/kursil/internal/logger"
	"github.com/TobiSchelling/kursil/internal/prompts"
)

var tracer = otel.Tracer("github.com/TobiSchelling/kursil/internal/rag")

const (
	stageAnswer = "answer"
	// DefaultTopK is the number of chunks handed to the model.
	DefaultTopK = 4
	embedBatch  = 64
)

// Store is the persistence the service needs.
type Store interface {
	GetMainTopic(ctx context.Context, id string) (*database.MainTopic, error)
	GetTopicsByMainTopic(ctx context.Context, mainTopicID string) ([]database.Topic, error)
	GetPointsByTopic(ctx context.Context, topicID string) ([]database.Point, error)
	ReplaceChunks(ctx context.Context, mainTopicID string, chunks []database.HandoutChunk) error
	GetChunks(ctx context.Context, mainTopicID string) ([]database.HandoutChunk, error)
	AppendCostEntry(ctx context.Context, e database.CostEntry) (string, error)
	AddMainTopicCost(ctx context.Context, id string, delta float64) error
}

// Options tune chunking and retrieval.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Service ingests handouts and answers questions over them.
type Service struct {
	store    Store
	embedder llm.Embedder
	gen      *generate.Generator
	prompts  *prompts.Library
	opts     Options
	log      *logger.Logger
}

// New creates a Service. embedder may be nil; every call then fails with
// UpstreamUnavailable.
func New(store Store, embedder llm.Embedder, gen *generate.Generator, lib *prompts.Library, opts Options, log *logger.Logger) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if lib == nil {
		lib = prompts.MustDefault()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, embedder: embedder, gen: gen, prompts: lib, opts: opts, log: log.With("component", "rag")}
}

// IngestResult summarises an ingest run.
type IngestResult struct {
	MainTopicID string `json:"main_topic_id"`
	Handouts    int    `json:"handouts"`
	Chunks      int    `json:"chunks"`
	Model       string `json:"model"`
}

// Ingest replaces the retrieval chunks of a main topic with fresh ones built
// from its current handouts.
func (s *Service) Ingest(ctx context.Context, mainTopicID string) (IngestResult, error) {
	ctx, span := tracer.Start(ctx, "rag.ingest")
	defer span.End()

	mt, err := s.requireMainTopic(ctx, mainTopicID)
	if err != nil {
		return IngestResult{}, err
	}
	if s.embedder == nil {
		return IngestResult{}, apperr.New(apperr.KindUpstreamUnavailable, "no embedding model configured")
	}

	topics, err := s.store.GetTopicsByMainTopic(ctx, mt.ID)
	if err != nil {
		return IngestResult{}, apperr.Wrap(apperr.KindInternal, "loading topics", err)
	}

	var chunks []database.HandoutChunk
	handouts := 0
	for _, t := range topics {
		points, err := s.store.GetPointsByTopic(ctx, t.ID)
		if err != nil {
			return IngestResult{}, apperr.Wrap(apperr.KindInternal, "loading points", err)
		}
		for _, p := range points {
			if strings.TrimSpace(p.Handout) == "" {
				continue
			}
			handouts++
			doc := fmt.Sprintf("Topic: %s\nPoint of Discussion: %s\n\n%s", t.Name, p.Text, p.Handout)
			for _, c := range Split(doc, s.opts.ChunkSize, s.opts.ChunkOverlap) {
				chunks = append(chunks, database.HandoutChunk{
					MainTopicID: mt.ID,
					PointID:     p.ID,
					Position:    len(chunks),
					Content:     c,
				})
			}
		}
	}
	if handouts == 0 {
		return IngestResult{}, apperr.Newf(apperr.KindPrerequisiteMissing, "main topic %q has no handouts to ingest", mt.Subject)
	}

	model := s.embedder.Model()
	for start := 0; start < len(chunks); start += embedBatch {
		end := min(start+embedBatch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return IngestResult{}, apperr.Wrap(apperr.KindUpstreamUnavailable, "embedding handout chunks", err)
		}
		if len(vecs) != len(texts) {
			return IngestResult{}, apperr.Newf(apperr.KindUpstreamUnavailable, "embedder returned %d vectors for %d chunks", len(vecs), len(texts))
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = v
			chunks[start+i].Model = model
		}
	}

	if err := s.store.ReplaceChunks(ctx, mt.ID, chunks); err != nil {
		return IngestResult{}, apperr.Wrap(apperr.KindPersistenceFailure, "storing chunks", err)
	}
	span.SetAttributes(attribute.Int("rag.chunks", len(chunks)))
	s.log.Info("handouts ingested", "main_topic_id", mt.ID, "handouts", handouts, "chunks", len(chunks), "model", model)
	return IngestResult{MainTopicID: mt.ID, Handouts: handouts, Chunks: len(chunks), Model: model}, nil
}

// Source is a retrieved chunk.
type Source struct {
	PointID string  `json:"point_id"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

// Answer is a grounded reply.
type Answer struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Cost     float64  `json:"cost"`
}

// Query answers question from the k most similar chunks. k <= 0 uses the
// configured default.
func (s *Service) Query(ctx context.Context, mainTopicID, question string, k int) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, apperr.New(apperr.KindInvalidRequest, "question is required")
	}
	if k <= 0 {
		k = s.opts.TopK
	}

	ctx, span := tracer.Start(ctx, "rag.query")
	defer span.End()

	mt, err := s.requireMainTopic(ctx, mainTopicID)
	if err != nil {
		return Answer{}, err
	}
	if s.embedder == nil {
		return Answer{}, apperr.New(apperr.KindUpstreamUnavailable, "no embedding model configured")
	}
	chunks, err := s.store.GetChunks(ctx, mt.ID)
	if err != nil {
		return Answer{}, apperr.Wrap(apperr.KindInternal, "loading chunks", err)
	}
	if len(chunks) == 0 {
		return Answer{}, apperr.Newf(apperr.KindPrerequisiteMissing, "main topic %q has not been ingested", mt.Subject)
	}

	vecs, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Answer{}, apperr.Wrap(apperr.KindUpstreamUnavailable, "embedding question", err)
	}
	if len(vecs) != 1 {
		return Answer{}, apperr.New(apperr.KindUpstreamUnavailable, "embedder returned no vector for the question")
	}

	sources := rank(vecs[0], chunks, k)
	data := prompts.Data{Subject: mt.Subject, Question: question}
	for _, src := range sources {
		data.Context = append(data.Context, src.Content)
	}
	system, prompt, err := s.prompts.Render(stageAnswer, data)
	if err != nil {
		return Answer{}, apperr.Wrap(apperr.KindInternal, "rendering answer prompt", err)
	}
	comp, err := s.gen.Generate(ctx, stageAnswer, system, prompt)
	if err != nil {
		return Answer{}, err
	}

	if _, err := s.store.AppendCostEntry(ctx, database.CostEntry{
		TopicID:      mt.ID,
		MainTopicID:  mt.ID,
		Label:        question,
		Stage:        stageAnswer,
		InputTokens:  comp.InputTokens,
		OutputTokens: comp.OutputTokens,
		Cost:         comp.Cost,
	}); err != nil {
		s.log.Error("cost entry not recorded", "stage", stageAnswer, "main_topic_id", mt.ID, "error", err)
	} else if err := s.store.AddMainTopicCost(ctx, mt.ID, comp.Cost); err != nil {
		s.log.Error("main topic cost not updated", "main_topic_id", mt.ID, "error", err)
	}

	return Answer{Question: question, Answer: comp.Text, Sources: sources, Cost: comp.Cost}, nil
}

// rank returns the k chunks most similar to q, best first. Chunks whose
// vector dimension differs from q are ignored.
func rank(q []float64, chunks []database.HandoutChunk, k int) []Source {
	scored := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != len(q) {
			continue
		}
		scored = append(scored, Source{PointID: c.PointID, Score: Cosine(q, c.Embedding), Content: c.Content})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *Service) requireMainTopic(ctx context.Context, id string) (*database.MainTopic, error) {
	mt, err := s.store.GetMainTopic(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading main topic", err)
	}
	if mt == nil {
		return nil, apperr.Newf(apperr.KindMainTopicNotFound, "main topic %s not found", id)
	}
	return mt, nil
}
