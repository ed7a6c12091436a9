// Package docgen renders a resolved curriculum into Word and PowerPoint
// files.
package docgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Kind names a document type.
type Kind string

const (
	KindKursil  Kind = "kursil"
	KindHandout Kind = "handout"
	KindSlides  Kind = "slides"
)

// ParseKind validates a document kind name.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindKursil, KindHandout, KindSlides:
		return k, true
	}
	return "", false
}

// Document is the tree an assembler renders.
type Document struct {
	MainTopicID       string
	Subject           string
	TranslatedSubject string
	ObjectivesSummary string
	Topics            []Topic
}

// Topic is one topic with its resolved points.
type Topic struct {
	Name             string
	Objective        string
	KeyConcepts      string
	Skills           string
	Analogy          string
	DiscussionPoints []string
	Points           []Point
}

// Point carries the content of one discussion point. Body is the handout,
// or the elaboration when no handout exists.
type Point struct {
	Text           string
	Body           string
	LearnObjective string
	Assessment     string
	Method         string
	Duration       string
}

// HasBody reports whether any point carries body text.
func (d Document) HasBody() bool {
	for _, t := range d.Topics {
		for _, p := range t.Points {
			if strings.TrimSpace(p.Body) != "" {
				return true
			}
		}
	}
	return false
}

// Assembler writes one kind of document and returns its file path.
type Assembler interface {
	Kind() Kind
	Assemble(ctx context.Context, doc Document) (string, error)
}

var (
	unsafeName = regexp.MustCompile(`[^\w\-. ]`)
	spaces     = regexp.MustCompile(`\s+`)
)

// SanitizeFilename replaces characters unsafe in file names.
func SanitizeFilename(name string) string {
	name = unsafeName.ReplaceAllString(strings.TrimSpace(name), "_")
	name = spaces.ReplaceAllString(name, "_")
	if name == "" {
		return "untitled"
	}
	return name
}

// outputPath returns "<dir>/<subject> - <yy-mm-dd> - <kind>[ (n)].<ext>",
// choosing the first n that does not exist yet.
func outputPath(dir, subject string, kind Kind, ext string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating documents directory: %w", err)
	}
	base := fmt.Sprintf("%s - %s - %s", SanitizeFilename(subject), now.Format("06-01-02"), kind)
	for i := 0; ; i++ {
		name := base + "." + ext
		if i > 0 {
			name = fmt.Sprintf("%s (%d).%s", base, i, ext)
		}
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p, nil
		} else if err != nil {
			return "", err
		}
	}
}

// writer is shared by the assemblers.
type writer struct {
	dir string
	now func() time.Time
}

func newWriter(dir string) writer {
	if dir == "" {
		dir = "documents"
	}
	return writer{dir: dir, now: time.Now}
}
