package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/config"
	"github.com/TobiSchelling/kursil/internal/httputil"
)

// OpenAIImages generates images with the OpenAI images API.
type OpenAIImages struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
	client  *http.Client
}

// NewOpenAIImages creates an image generator. baseURL defaults to the
// public API.
func NewOpenAIImages(cfg config.Image, apiKey, baseURL string) *OpenAIImages {
	g := &OpenAIImages{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   cfg.Model,
		Size:    cfg.Size,
		client:  &http.Client{Timeout: 180 * time.Second},
	}
	if g.BaseURL == "" {
		g.BaseURL = "https://api.openai.com"
	}
	if g.Model == "" {
		g.Model = "dall-e-3"
	}
	if g.Size == "" {
		g.Size = "1024x1024"
	}
	return g
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// GenerateImage returns the image bytes for prompt. URL responses are
// downloaded.
func (g *OpenAIImages) GenerateImage(ctx context.Context, prompt string, opts ImageOptions) ([]byte, error) {
	if g.APIKey == "" {
		return nil, apperr.New(apperr.KindUpstreamUnavailable, "OPENAI_API_KEY is not set")
	}
	size := opts.Size
	if size == "" {
		size = g.Size
	}

	body, err := json.Marshal(map[string]any{
		"model":           g.Model,
		"prompt":          prompt,
		"n":               1,
		"size":            size,
		"response_format": "b64_json",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := httputil.DoWithRetry(ctx, g.client, req, httputil.DefaultMaxRetries)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "image request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "reading image response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindUpstreamUnavailable,
			fmt.Sprintf("image API returned %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}

	var out imageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "decoding image response", err)
	}
	if len(out.Data) == 0 {
		return nil, apperr.New(apperr.KindUpstreamUnavailable, "image API returned no images")
	}

	if b := out.Data[0].B64JSON; b != "" {
		img, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "decoding image payload", err)
		}
		return img, nil
	}
	if u := out.Data[0].URL; u != "" {
		return g.download(ctx, u)
	}
	return nil, apperr.New(apperr.KindUpstreamUnavailable, "image API returned an empty image")
}

func (g *OpenAIImages) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "downloading image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindUpstreamUnavailable, fmt.Sprintf("image download returned %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}
