// Package generate wraps one completion call with token counting and
// costing. It is stage-agnostic: callers supply the rendered system role
// and prompt.
package generate

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/cost"
	"github.com/TobiSchelling/kursil/internal/llm"
	"github.com/TobiSchelling/kursil/internal/logger"
)

var tracer = otel.Tracer("github.com/TobiSchelling/kursil/internal/generate")

// Completion is the result of one successful generation call.
type Completion struct {
	Stage        string
	Text         string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Model        string
}

// Generator calls the completion provider and prices the result.
type Generator struct {
	provider   llm.Provider
	calculator cost.Calculator
	tokenizer  cost.Tokenizer
	log        *logger.Logger
}

// New creates a Generator. provider may be nil when no LLM is configured;
// every call then fails with UpstreamUnavailable.
func New(provider llm.Provider, calculator cost.Calculator, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		provider:   provider,
		calculator: calculator,
		log:        log.With("component", "generate"),
	}
}

// Calculator returns the pricing used by the generator.
func (g *Generator) Calculator() cost.Calculator { return g.calculator }

// Model returns the provider's model name, or "" when unconfigured.
func (g *Generator) Model() string {
	if g.provider == nil {
		return ""
	}
	return g.provider.Model()
}

// CountTokens counts text with the provider's model family.
func (g *Generator) CountTokens(text string) int {
	return g.tokenizer.Count(g.Model(), text)
}

// Generate performs one completion for stage.
func (g *Generator) Generate(ctx context.Context, stage, system, prompt string) (Completion, error) {
	ctx, span := tracer.Start(ctx, "generate."+stage)
	defer span.End()

	if g.provider == nil {
		err := apperr.New(apperr.KindUpstreamUnavailable, "no LLM provider configured")
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, err
	}

	model := g.provider.Model()
	span.SetAttributes(attribute.String("llm.model", model), attribute.String("kursil.stage", stage))

	text, err := g.provider.Complete(ctx, system, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return Completion{}, apperr.Wrap(apperr.KindUpstreamUnavailable, stage+" completion failed", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		span.SetStatus(codes.Error, "empty completion")
		return Completion{}, apperr.New(apperr.KindEmptyCompletion, stage+" completion was empty")
	}

	inTokens := g.tokenizer.Count(model, system) + g.tokenizer.Count(model, prompt)
	outTokens := g.tokenizer.Count(model, text)
	c := Completion{
		Stage:        stage,
		Text:         text,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Cost:         g.calculator.Cost(inTokens, outTokens),
		Model:        model,
	}

	span.SetAttributes(
		attribute.Int("llm.input_tokens", inTokens),
		attribute.Int("llm.output_tokens", outTokens),
		attribute.Float64("kursil.cost", c.Cost),
	)
	g.log.Debug("completion", "stage", stage, "model", model,
		"input_tokens", inTokens, "output_tokens", outTokens, "cost", c.Cost)
	return c, nil
}
