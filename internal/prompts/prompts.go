// Package prompts holds the per-stage prompt templates and system roles.
//
// Templates are embedded under templates/<stage>.txt and use text/template
// syntax over Data. A directory of <stage>.txt files may override any of
// them at load time.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

//go:embed templates/*.txt
var embedded embed.FS

// DefaultSystemRole is the role used for every stage without its own.
const DefaultSystemRole = "You are an educational content developer and are a consultant for PLN Pusdiklat " +
	"(education and training centre) which supports Perusahaan Listrik Negara (PLN) in running " +
	"the electricity business and other related fields."

var systemRoles = map[string]string{
	"translation":         "You are a professional technical translator for training material in the electricity sector.",
	"topic_translation":   "You are a professional technical translator for training material in the electricity sector.",
	"subject_translation": "You are a professional technical translator for training material in the electricity sector.",
	"misc":                DefaultSystemRole + " You always answer with valid JSON only.",
	"image_prompt":        "You write concise, vivid prompts for an image generation model.",
	"answer":              "You answer questions about training material strictly from the supplied context.",
}

// Reference is grounding material fetched for the outline stage.
type Reference struct {
	URL   string
	Title string
	Text  string
}

// Data is the context available to every template. Stages use the subset
// they need.
type Data struct {
	Subject        string
	Topic          string
	Objective      string
	KeyConcepts    string
	Skills         string
	Points         []string
	Objectives     []string
	Point          string
	Elaboration    string
	Prompting      string
	Handout        string
	TargetLanguage string
	References     []Reference
	Text           string
	Question       string
	Context        []string
}

// Library renders stage prompts.
type Library struct {
	templates map[string]*template.Template
}

// New loads the embedded templates, then applies overrides from dir when it
// is non-empty.
func New(dir string) (*Library, error) {
	lib := &Library{templates: make(map[string]*template.Template)}

	entries, err := fs.ReadDir(embedded, "templates")
	if err != nil {
		return nil, fmt.Errorf("reading embedded templates: %w", err)
	}
	for _, e := range entries {
		data, err := embedded.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", e.Name(), err)
		}
		if err := lib.add(strings.TrimSuffix(e.Name(), ".txt"), string(data)); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return lib, nil
	}
	overrides, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("listing prompt overrides: %w", err)
	}
	for _, path := range overrides {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompt override: %w", err)
		}
		if err := lib.add(strings.TrimSuffix(filepath.Base(path), ".txt"), string(data)); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// MustDefault returns the embedded library. It panics only if the embedded
// templates fail to parse.
func MustDefault() *Library {
	lib, err := New("")
	if err != nil {
		panic(err)
	}
	return lib
}

func (l *Library) add(stage, text string) error {
	tmpl, err := template.New(stage).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("parsing template %s: %w", stage, err)
	}
	l.templates[stage] = tmpl
	return nil
}

// Has reports whether a template exists for stage.
func (l *Library) Has(stage string) bool {
	_, ok := l.templates[stage]
	return ok
}

// Stages lists the loaded template names in sorted order.
func (l *Library) Stages() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemRole returns the system role for stage.
func SystemRole(stage string) string {
	if role, ok := systemRoles[stage]; ok {
		return role
	}
	return DefaultSystemRole
}

// Render returns the system role and the rendered prompt for stage.
func (l *Library) Render(stage string, data Data) (system, prompt string, err error) {
	tmpl, ok := l.templates[stage]
	if !ok {
		return "", "", fmt.Errorf("no prompt template for stage %q", stage)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("rendering %s prompt: %w", stage, err)
	}
	return SystemRole(stage), strings.TrimSpace(buf.String()), nil
}
