// Package pipeline drives curriculum content through its generation stages.
//
// Every stage follows the same contract: a filled target is reported as
// existing without a generation call, an empty prerequisite fails fast, and
// a successful generation is persisted and costed in the ledger.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/TobiSchelling/kursil/internal/config"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/docgen"
	"github.com/TobiSchelling/kursil/internal/fetch"
	"github.com/TobiSchelling/kursil/internal/generate"
	"github.com/TobiSchelling/kursil/internal/logger"
	"github.com/TobiSchelling/kursil/internal/media"
	"github.com/TobiSchelling/kursil/internal/prompts"
)

var tracer = otel.Tracer("github.com/TobiSchelling/kursil/internal/pipeline")

// Store is the persistence the orchestrator needs. Reads of missing rows
// return (nil, nil).
type Store interface {
	GetPoint(ctx context.Context, id string) (*database.Point, error)
	GetPointsByTopic(ctx context.Context, topicID string) ([]database.Point, error)
	InsertPoint(ctx context.Context, topicID string, position int, text string) (string, error)
	SetPointField(ctx context.Context, pointID string, field database.PointField, value string) error
	SetPointFields(ctx context.Context, pointID string, values map[database.PointField]string) error

	GetTopic(ctx context.Context, id string) (*database.Topic, error)
	GetTopicByName(ctx context.Context, name string) (*database.Topic, error)
	GetTopicsByMainTopic(ctx context.Context, mainTopicID string) ([]database.Topic, error)
	InsertTopic(ctx context.Context, t database.Topic) (string, error)
	SetTopicField(ctx context.Context, topicID string, field database.TopicField, value string) error

	GetMainTopic(ctx context.Context, id string) (*database.MainTopic, error)
	InsertMainTopic(ctx context.Context, mt database.MainTopic) (string, error)
	UpdateMainTopic(ctx context.Context, id string, u database.MainTopicUpdate) error
	AddMainTopicCost(ctx context.Context, id string, delta float64) error

	AppendCostEntry(ctx context.Context, e database.CostEntry) (string, error)
	SumCostByTopic(ctx context.Context, topicID string) (float64, error)
	SumCostByMainTopic(ctx context.Context, mainTopicID string) (float64, error)
}

// ReferenceFetcher loads grounding material for outlines.
type ReferenceFetcher interface {
	FetchAll(ctx context.Context, urls []string) []fetch.Reference
}

// Settings tune scheduling and stage inputs.
type Settings struct {
	Concurrency    int
	InterItemDelay time.Duration
	DelayThreshold int
	TargetLanguage string
	ImageSize      string
	VoiceID        string
}

// SettingsFromConfig maps the loaded configuration onto Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Concurrency:    cfg.Pipeline.Concurrency,
		InterItemDelay: cfg.Pipeline.InterItemDelay,
		DelayThreshold: cfg.Pipeline.DelayThreshold,
		TargetLanguage: cfg.Prompts.TargetLanguage,
		ImageSize:      cfg.Media.Image.Size,
		VoiceID:        cfg.Media.Speech.VoiceID,
	}
}

// Deps are the collaborators of an Orchestrator. Store, Generator and
// Prompts are required; the rest may be nil.
type Deps struct {
	Store      Store
	Generator  *generate.Generator
	Prompts    *prompts.Library
	Fetcher    ReferenceFetcher
	Images     media.ImageGenerator
	Speech     media.SpeechSynthesizer
	Uploader   media.Uploader
	Assemblers []docgen.Assembler
	Logger     *logger.Logger
}

// Orchestrator runs stages against the store.
type Orchestrator struct {
	store      Store
	gen        *generate.Generator
	prompts    *prompts.Library
	fetcher    ReferenceFetcher
	images     media.ImageGenerator
	speech     media.SpeechSynthesizer
	uploader   media.Uploader
	assemblers map[docgen.Kind]docgen.Assembler
	settings   Settings
	log        *logger.Logger
	locks      keyedMutex
	now        func() time.Time
}

// New creates an orchestrator.
func New(d Deps, s Settings) *Orchestrator {
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.DelayThreshold < 0 {
		s.DelayThreshold = 0
	}
	if s.TargetLanguage == "" {
		s.TargetLanguage = "Indonesian"
	}
	lib := d.Prompts
	if lib == nil {
		lib = prompts.MustDefault()
	}
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	asm := make(map[docgen.Kind]docgen.Assembler, len(d.Assemblers))
	for _, a := range d.Assemblers {
		asm[a.Kind()] = a
	}
	return &Orchestrator{
		store:      d.Store,
		gen:        d.Generator,
		prompts:    lib,
		fetcher:    d.Fetcher,
		images:     d.Images,
		speech:     d.Speech,
		uploader:   d.Uploader,
		assemblers: asm,
		settings:   s,
		log:        log.With("component", "pipeline"),
		now:        time.Now,
	}
}

// Settings returns the effective scheduling settings.
func (o *Orchestrator) Settings() Settings { return o.settings }

// recordCost appends a ledger row and rolls the cost up to the main topic.
// Ledger failures are logged; the generated content is already stored.
func (o *Orchestrator) recordCost(ctx context.Context, ownerID, mainTopicID, label string, stage Stage, c generate.Completion) {
	_, err := o.store.AppendCostEntry(ctx, database.CostEntry{
		TopicID:      ownerID,
		MainTopicID:  mainTopicID,
		Label:        label,
		Stage:        string(stage),
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		Cost:         c.Cost,
	})
	if err != nil {
		o.log.Error("cost entry not recorded", "stage", stage, "owner", ownerID, "cost", c.Cost, "error", err)
		return
	}
	if mainTopicID == "" {
		return
	}
	if err := o.store.AddMainTopicCost(ctx, mainTopicID, c.Cost); err != nil {
		o.log.Error("main topic cost not updated", "main_topic_id", mainTopicID, "cost", c.Cost, "error", err)
	}
}

// keyedMutex serialises work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
