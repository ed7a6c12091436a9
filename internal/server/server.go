package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/logger"
	"github.com/TobiSchelling/kursil/internal/pipeline"
	"github.com/TobiSchelling/kursil/internal/rag"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

// Deps are the collaborators of the API. RAG may be nil.
type Deps struct {
	DB           *database.DB
	Orchestrator *pipeline.Orchestrator
	Runner       *pipeline.Runner
	RAG          *rag.Service
	Logger       *logger.Logger
}

// Server is the HTTP API for curriculum generation.
type Server struct {
	db      *database.DB
	orch    *pipeline.Orchestrator
	runner  *pipeline.Runner
	rag     *rag.Service
	log     *logger.Logger
	preview *template.Template
	router  chi.Router
}

// New creates a new Server.
func New(d Deps) (*Server, error) {
	preview, err := template.New("preview.html").Funcs(template.FuncMap{
		"markdown": renderMarkdown,
	}).ParseFS(templateFS, "templates/preview.html")
	if err != nil {
		return nil, fmt.Errorf("parsing preview template: %w", err)
	}
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		db:      d.DB,
		orch:    d.Orchestrator,
		runner:  d.Runner,
		rag:     d.RAG,
		log:     log.With("component", "server"),
		preview: preview,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/outlines", s.handleCreateOutline)

		r.Get("/main-topics", s.handleListMainTopics)
		r.Route("/main-topics/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMainTopic)
			r.Get("/topics", s.handleMainTopicTopics)
			r.Get("/cost", s.handleMainTopicCost)
			r.Post("/translate", s.handleTranslateSubject)
			r.Post("/summary", s.handleSummary)
			r.Post("/cover", s.handleCover)
			r.Post("/narration", s.handleNarration)
			r.Post("/ingest", s.handleIngest)
			r.Post("/query", s.handleQuery)
			r.Post("/documents/{kind}", s.handleExport)
			r.Get("/documents/{kind}", s.handleDownload)
		})

		r.Route("/topics/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTopic)
			r.Get("/points", s.handleTopicPoints)
			r.Get("/cost", s.handleTopicCost)
			r.Post("/elaborate", s.handleElaborate)
			r.Post("/stages/{stage}", s.handleTopicStage)
		})

		r.Route("/points/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPoint)
			r.Get("/preview", s.handlePreview)
			r.Post("/stages/{stage}", s.handlePointStage)
		})

		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/tasks/{id}/events", s.handleTaskEvents)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.StatusOf(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes an optional JSON body into v. An empty body is fine.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Wrap(apperr.KindInvalidRequest, "invalid JSON body", err)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", "http://"+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if s.runner != nil {
		s.runner.Wait()
	}
	return nil
}
