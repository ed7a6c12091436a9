// Package media produces and stores the audio and image artifacts of a
// curriculum.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// SpeechOptions select the voice for synthesis.
type SpeechOptions struct {
	VoiceID string
}

// SpeechSynthesizer turns text into audio bytes (mp3).
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, opts SpeechOptions) ([]byte, error)
}

// ImageOptions tune image generation. Title is used by renderers that draw
// text instead of interpreting the prompt.
type ImageOptions struct {
	Size  string
	Title string
}

// ImageGenerator turns a prompt into PNG bytes.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions) ([]byte, error)
}

// Uploader stores an object and returns its public locator.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// KeyPrefix is the folder all generated web resources go under.
const KeyPrefix = "kursil/webresources"

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

// ObjectKey builds kursil/webresources/<name>_<timestamp>.<ext>.
func ObjectKey(name, ext string, now time.Time) string {
	slug := strings.Trim(unsafeKeyChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		slug = "resource"
	}
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "_")
	}
	return path.Join(KeyPrefix, fmt.Sprintf("%s_%s.%s", slug, now.UTC().Format("20060102150405"), strings.TrimPrefix(ext, ".")))
}

// ContentTypeForKey guesses the MIME type from the key's extension.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(s, ".pptx"):
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	default:
		return "application/octet-stream"
	}
}
