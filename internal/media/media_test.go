package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/config"
)

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "kursil/webresources/grid_stability_20240517093000.png", ObjectKey("Grid Stability!", "png", now))
	assert.Equal(t, "kursil/webresources/resource_20240517093000.mp3", ObjectKey("***", ".mp3", now))
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeForKey("a/b.PNG"))
	assert.Equal(t, "audio/mpeg", ContentTypeForKey("x.mp3"))
	assert.Equal(t, "application/octet-stream", ContentTypeForKey("x.bin"))
}

func TestElevenLabsSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello trainees", body["text"])
		assert.Equal(t, "eleven_turbo_v2_5", body["model_id"])
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	s := NewElevenLabs(config.Speech{BaseURL: srv.URL}, "key")
	audio, err := s.Synthesize(context.Background(), "Hello trainees", SpeechOptions{VoiceID: "voice-1"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3audio"), audio)
}

func TestElevenLabsMissingKey(t *testing.T) {
	s := NewElevenLabs(config.Speech{}, "")
	_, err := s.Synthesize(context.Background(), "x", SpeechOptions{})
	assert.True(t, apperr.Is(err, apperr.KindUpstreamUnavailable))
}

func TestElevenLabsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewElevenLabs(config.Speech{BaseURL: srv.URL}, "key")
	_, err := s.Synthesize(context.Background(), "x", SpeechOptions{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstreamUnavailable))
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIImagesBase64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("pngbytes"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"b64_json":"` + payload + `"}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIImages(config.Image{}, "key", srv.URL)
	img, err := g.GenerateImage(context.Background(), "a substation at dawn", ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("pngbytes"), img)
}

func TestOpenAIImagesURLDownload(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/img.png" {
			_, _ = w.Write([]byte("downloaded"))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"url":"` + srv.URL + `/img.png"}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIImages(config.Image{}, "key", srv.URL)
	img, err := g.GenerateImage(context.Background(), "x", ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("downloaded"), img)
}

func TestOpenAIImagesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	g := NewOpenAIImages(config.Image{}, "key", srv.URL)
	_, err := g.GenerateImage(context.Background(), "x", ImageOptions{})
	assert.True(t, apperr.Is(err, apperr.KindUpstreamUnavailable))
}

func TestCoverRendererProducesPNG(t *testing.T) {
	r, err := NewCoverRenderer()
	require.NoError(t, err)

	raw, err := r.GenerateImage(context.Background(), "ignored", ImageOptions{Size: "320x200", Title: "Grid Stability"})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestParseSize(t *testing.T) {
	w, h := parseSize("bogus")
	assert.Equal(t, 1024, w)
	assert.Equal(t, 1024, h)
	w, h = parseSize("512X256")
	assert.Equal(t, 512, w)
	assert.Equal(t, 256, h)
}

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	u := NewLocalUploader(dir, "")

	loc, err := u.Upload(context.Background(), "kursil/webresources/a.png", "image/png", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "kursil", "webresources", "a.png"), loc)
	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestLocalUploaderPublicBaseAndTraversal(t *testing.T) {
	dir := t.TempDir()
	u := NewLocalUploader(dir, "http://localhost:8000/files/")

	loc, err := u.Upload(context.Background(), "../../etc/x y.mp3", "", io.NopCloser(strings.NewReader("a")))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/files/etc/x%20y.mp3", loc)
	_, err = os.Stat(filepath.Join(dir, "etc", "x y.mp3"))
	assert.NoError(t, err)
}
