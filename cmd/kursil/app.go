package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/kursil/internal/config"
	"github.com/TobiSchelling/kursil/internal/cost"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/docgen"
	"github.com/TobiSchelling/kursil/internal/fetch"
	"github.com/TobiSchelling/kursil/internal/generate"
	"github.com/TobiSchelling/kursil/internal/llm"
	"github.com/TobiSchelling/kursil/internal/logger"
	"github.com/TobiSchelling/kursil/internal/media"
	"github.com/TobiSchelling/kursil/internal/pipeline"
	"github.com/TobiSchelling/kursil/internal/progress"
	"github.com/TobiSchelling/kursil/internal/prompts"
	"github.com/TobiSchelling/kursil/internal/rag"
)

// app holds the wired collaborators for one command invocation.
type app struct {
	db     *database.DB
	orch   *pipeline.Orchestrator
	runner *pipeline.Runner
	rag    *rag.Service

	closers []func() error
}

func openDB(cfg *config.Config, log *logger.Logger) (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, "kursil.db"),
		database.WithBusyTimeout(cfg.Storage.BusyTimeoutMS),
		database.WithLogger(log),
	)
}

// newApp wires storage, the LLM provider, media backends and the progress
// tracker from cfg.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := openDB(cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}
	a.closers = append(a.closers, db.Close)

	lib, err := prompts.New(cfg.Prompts.Dir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	apiKey := cfg.Secrets.OpenAIAPIKey
	gen := generate.New(llm.CreateProvider(cfg.LLM, apiKey, log), cost.NewCalculator(cfg.Cost), log)

	deps := pipeline.Deps{
		Store:     db,
		Generator: gen,
		Prompts:   lib,
		Fetcher:   fetch.New(cfg.Outline.FetchTimeout, cfg.Outline.ReferenceMaxChars, log),
		Logger:    log,
	}

	if strings.EqualFold(cfg.Media.Image.Provider, "openai") {
		deps.Images = media.NewOpenAIImages(cfg.Media.Image, apiKey, cfg.LLM.OpenAIBaseURL)
	} else {
		cover, err := media.NewCoverRenderer()
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Images = cover
	}
	if key := cfg.Secrets.ElevenLabsAPIKey; key != "" {
		deps.Speech = media.NewElevenLabs(cfg.Media.Speech, key)
	}

	switch strings.ToLower(cfg.Media.Upload.Backend) {
	case "gcs":
		up, err := media.NewGCSUploader(ctx, cfg.Media.Upload.Bucket, cfg.Media.Upload.CDNBase, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, up.Close)
		deps.Uploader = up
	default:
		deps.Uploader = media.NewLocalUploader(filepath.Join(cfg.GetDataDir(), "media"), cfg.Output.PublicBaseURL)
	}

	docs := cfg.GetDocumentsDir()
	deps.Assemblers = []docgen.Assembler{
		docgen.NewKursilWord(docs),
		docgen.NewHandoutWord(docs),
		docgen.NewSlides(docs),
	}

	a.orch = pipeline.New(deps, pipeline.SettingsFromConfig(cfg))

	var tracker progress.Tracker
	if strings.EqualFold(cfg.Progress.Backend, "redis") {
		rt, err := progress.NewRedisTracker(ctx, cfg.Progress.RedisAddr, cfg.Progress.TTL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rt.Close)
		tracker = rt
	} else {
		tracker = progress.NewMemoryTracker()
	}
	a.runner = pipeline.NewRunner(tracker, cfg.Pipeline.BackgroundTimeout, log)

	a.rag = rag.New(db, llm.CreateEmbedder(cfg.LLM, apiKey), gen, lib, rag.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		TopK:         cfg.RAG.TopK,
	}, log)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
