package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/kursil/internal/config"
	"github.com/TobiSchelling/kursil/internal/httputil"
	"github.com/TobiSchelling/kursil/internal/logger"
)

// Provider is the interface for text-completion services.
type Provider interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Model() string
	IsConfigured() bool
}

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// Options tune a completion request.
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 120 * time.Second
	}
	return o.Timeout
}

// messages builds a chat message list, omitting an empty system role.
func messages(system, prompt string) []map[string]string {
	msgs := make([]map[string]string, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": system})
	}
	return append(msgs, map[string]string{"role": "user", "content": prompt})
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	ModelName string
	BaseURL   string
	Options   Options
	client    *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string, opts Options) *OllamaProvider {
	return &OllamaProvider{
		ModelName: model,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Options:   opts,
		client:    &http.Client{Timeout: opts.timeout()},
	}
}

func (o *OllamaProvider) Model() string { return o.ModelName }

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.ModelName, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	return false
}

// Complete sends a system role and prompt to Ollama and returns the reply.
func (o *OllamaProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	options := map[string]any{"temperature": o.Options.Temperature}
	if o.Options.MaxTokens > 0 {
		options["num_predict"] = o.Options.MaxTokens
	}
	body := map[string]any{
		"model":    o.ModelName,
		"messages": messages(system, prompt),
		"stream":   false,
		"options":  options,
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/api/chat", "", body, &result, "ollama"); err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI chat-completions provider.
type OpenAIProvider struct {
	ModelName string
	APIKey    string
	BaseURL   string
	Options   Options
	client    *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider. An empty baseURL uses
// the public API.
func NewOpenAIProvider(model, apiKey, baseURL string, opts Options) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIProvider{
		ModelName: model,
		APIKey:    apiKey,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Options:   opts,
		client:    &http.Client{Timeout: opts.timeout()},
	}
}

func (o *OpenAIProvider) Model() string { return o.ModelName }

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Complete sends a system role and prompt to OpenAI and returns the reply.
func (o *OpenAIProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model":       o.ModelName,
		"messages":    messages(system, prompt),
		"temperature": o.Options.Temperature,
	}
	if o.Options.MaxTokens > 0 {
		body["max_tokens"] = o.Options.MaxTokens
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/v1/chat/completions", o.APIKey, body, &result, "OpenAI"); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return result.Choices[0].Message.Content, nil
}

// OllamaEmbedder generates embeddings via the Ollama API.
type OllamaEmbedder struct {
	ModelName string
	BaseURL   string
	client    *http.Client
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(model, baseURL string) *OllamaEmbedder {
	return &OllamaEmbedder{
		ModelName: model,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *OllamaEmbedder) Model() string { return e.ModelName }

// Embed generates embeddings for the given texts.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body := map[string]any{
		"model": e.ModelName,
		"input": texts,
	}
	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := postJSON(ctx, e.client, e.BaseURL+"/api/embed", "", body, &result, "ollama embed"); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	ModelName string
	APIKey    string
	BaseURL   string
	client    *http.Client
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(model, apiKey, baseURL string) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIEmbedder{
		ModelName: model,
		APIKey:    apiKey,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *OpenAIEmbedder) Model() string { return e.ModelName }

// Embed generates embeddings for the given texts, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	body := map[string]any{
		"model": e.ModelName,
		"input": texts,
	}
	var result struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, e.client, e.BaseURL+"/v1/embeddings", e.APIKey, body, &result, "OpenAI embed"); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("OpenAI embed: missing embedding for input %d", i)
		}
	}
	return out, nil
}

// postJSON marshals body, POSTs it with 429 retry, and decodes the reply
// into out. A non-empty bearer token sets the Authorization header.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, body, out any, label string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, httputil.DefaultMaxRetries)
	if err != nil {
		return fmt.Errorf("%s API error: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s API returned %d: %s", label, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// CreateProvider creates an LLM provider based on configuration. It returns
// nil when no provider is reachable.
func CreateProvider(cfg config.LLM, apiKey string, log *logger.Logger) Provider {
	opts := Options{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature, Timeout: cfg.Timeout}

	if strings.ToLower(cfg.Provider) == "ollama" {
		p := NewOllamaProvider(cfg.Model, cfg.OllamaURL, opts)
		if p.IsConfigured() {
			log.Info("using ollama", "model", cfg.Model)
			return p
		}
		log.Warn("ollama not available, trying OpenAI fallback", "url", cfg.OllamaURL)
	}

	model := cfg.Model
	if strings.ToLower(cfg.Provider) == "ollama" {
		model = "gpt-4o-mini"
	}
	p := NewOpenAIProvider(model, apiKey, cfg.OpenAIBaseURL, opts)
	if p.IsConfigured() {
		log.Info("using OpenAI", "model", model)
		return p
	}

	log.Warn("no LLM provider available; check Ollama is running or set OPENAI_API_KEY")
	return nil
}

// CreateEmbedder picks the embedder matching the configured provider.
func CreateEmbedder(cfg config.LLM, apiKey string) Embedder {
	if strings.ToLower(cfg.Provider) == "ollama" {
		return NewOllamaEmbedder(cfg.EmbeddingModel, cfg.OllamaURL)
	}
	return NewOpenAIEmbedder(cfg.EmbeddingModel, apiKey, cfg.OpenAIBaseURL)
}
