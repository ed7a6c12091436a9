package media

import (
	"bytes"
	"context"
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

const (
	defaultSpeechBaseURL = "https://api.elevenlabs.io"
	defaultSpeechModel   = "eleven_turbo_v2_5"
	defaultVoiceID       = "21m00Tcm4TlvDq8ikWAM"
)

// ElevenLabs synthesises speech with the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	APIKey          string
	BaseURL         string
	Model           string
	VoiceID         string
	Stability       float64
	SimilarityBoost float64
	client          *http.Client
}

// NewElevenLabs creates a synthesizer from config.
func NewElevenLabs(cfg config.Speech, apiKey string) *ElevenLabs {
	e := &ElevenLabs{
		APIKey:          apiKey,
		BaseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		Model:           cfg.Model,
		VoiceID:         cfg.VoiceID,
		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
		client:          &http.Client{Timeout: 120 * time.Second},
	}
	if e.BaseURL == "" {
		e.BaseURL = defaultSpeechBaseURL
	}
	if e.Model == "" {
		e.Model = defaultSpeechModel
	}
	if e.VoiceID == "" {
		e.VoiceID = defaultVoiceID
	}
	if e.Stability == 0 {
		e.Stability = 0.5
	}
	if e.SimilarityBoost == 0 {
		e.SimilarityBoost = 0.5
	}
	return e
}

// Synthesize returns mp3 audio for text.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string, opts SpeechOptions) ([]byte, error) {
	if e.APIKey == "" {
		return nil, apperr.New(apperr.KindUpstreamUnavailable, "ELEVENLABS_API_KEY is not set")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "narration text is empty")
	}
	voice := opts.VoiceID
	if voice == "" {
		voice = e.VoiceID
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.Model,
		"voice_settings": map[string]any{
			"stability":        e.Stability,
			"similarity_boost": e.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/v1/text-to-speech/"+voice, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.APIKey)

	resp, err := httputil.DoWithRetry(ctx, e.client, req, httputil.DefaultMaxRetries)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "speech request failed", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "reading speech response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindUpstreamUnavailable,
			fmt.Sprintf("speech API returned %d: %s", resp.StatusCode, truncate(string(audio), 200)))
	}
	if len(audio) == 0 {
		return nil, apperr.New(apperr.KindUpstreamUnavailable, "speech API returned no audio")
	}
	return audio, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
