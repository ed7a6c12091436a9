package docgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

// bulletStyles are the list styles of the default template by nesting depth.
var bulletStyles = []string{"List Bullet", "List Bullet 2", "List Bullet 3"}

// wordDoc wraps a godocx document with the block vocabulary the assemblers
// share.
type wordDoc struct {
	doc *docx.RootDoc
	err error
}

func newWordDoc() (*wordDoc, error) {
	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("creating word document: %w", err)
	}
	return &wordDoc{doc: doc}, nil
}

func (d *wordDoc) title(text string) {
	d.addHeading(text, 0)
}

func (d *wordDoc) heading(level int, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	d.addHeading(text, max(1, min(level, 4)))
}

func (d *wordDoc) addHeading(text string, level int) {
	if d.err != nil {
		return
	}
	if _, err := d.doc.AddHeading(flatten(text), uint(level)); err != nil {
		d.err = fmt.Errorf("adding heading %q: %w", text, err)
	}
}

func (d *wordDoc) text(text string) {
	d.runs("", []Run{{Text: text}})
}

func (d *wordDoc) bullet(text string) {
	d.runs(bulletStyles[0], []Run{{Text: text}})
}

func (d *wordDoc) pageBreak() {
	d.doc.AddPageBreak()
}

// runs adds one paragraph of formatted runs.
func (d *wordDoc) runs(style string, runs []Run) {
	p := d.doc.AddParagraph("")
	if style != "" {
		p.Style(style)
	}
	for _, r := range runs {
		run := p.AddText(flatten(r.Text))
		if r.Bold {
			run.Bold(true)
		}
		if r.Italic || r.Code {
			run.Italic(true)
		}
	}
}

// markdown renders body blocks. Headings inside the body are placed below
// headingBase.
func (d *wordDoc) markdown(body string, headingBase int) {
	for _, b := range ParseMarkdown(body) {
		switch b.Kind {
		case BlockHeading:
			d.heading(headingBase+1, b.Text())
		case BlockBullet:
			d.runs(bulletStyles[max(0, min(b.Level-1, len(bulletStyles)-1))], b.Runs)
		case BlockCode:
			for _, line := range strings.Split(b.Text(), "\n") {
				d.runs("", []Run{{Text: line, Code: true}})
			}
		default:
			d.runs("", b.Runs)
		}
	}
}

func (d *wordDoc) save(path string) error {
	if d.err != nil {
		return d.err
	}
	if err := d.doc.SaveTo(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// flatten folds soft line breaks into spaces; a run holds one line.
func flatten(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// KursilWord writes the curriculum (kursil) document.
type KursilWord struct {
	writer
}

// NewKursilWord writes into dir.
func NewKursilWord(dir string) *KursilWord {
	return &KursilWord{writer: newWriter(dir)}
}

func (*KursilWord) Kind() Kind { return KindKursil }

func (k *KursilWord) Assemble(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d, err := newWordDoc()
	if err != nil {
		return "", err
	}
	d.title("Kursil Document")
	d.heading(1, doc.Subject)
	if doc.ObjectivesSummary != "" {
		d.markdown(doc.ObjectivesSummary, 1)
	}

	for _, t := range doc.Topics {
		d.heading(2, t.Name)
		if t.Objective != "" {
			d.heading(3, "Objective")
			d.text(t.Objective)
		}
		if t.KeyConcepts != "" {
			d.heading(3, "Key Concepts")
			d.text(t.KeyConcepts)
		}
		if t.Skills != "" {
			d.heading(3, "Skills to be Mastered")
			d.text(t.Skills)
		}
		if len(t.DiscussionPoints) > 0 {
			d.heading(3, "Points of Discussion")
			for _, p := range t.DiscussionPoints {
				d.bullet(p)
			}
		}
		for _, p := range t.Points {
			d.heading(3, p.Text)
			for _, f := range []struct{ label, value string }{
				{"Learn Objective", p.LearnObjective},
				{"Assessment", p.Assessment},
				{"Method", p.Method},
			} {
				if strings.TrimSpace(f.value) == "" {
					continue
				}
				d.heading(4, f.label)
				d.markdown(f.value, 4)
			}
			if p.Duration != "" {
				d.heading(4, "Duration")
				d.text(formatDuration(p.Duration))
			}
		}
		d.pageBreak()
	}

	path, err := outputPath(k.dir, doc.Subject, KindKursil, "docx", k.now())
	if err != nil {
		return "", err
	}
	if err := d.save(path); err != nil {
		return "", err
	}
	return path, nil
}

// HandoutWord writes the trainee handout document.
type HandoutWord struct {
	writer
}

// NewHandoutWord writes into dir.
func NewHandoutWord(dir string) *HandoutWord {
	return &HandoutWord{writer: newWriter(dir)}
}

func (*HandoutWord) Kind() Kind { return KindHandout }

func (h *HandoutWord) Assemble(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d, err := newWordDoc()
	if err != nil {
		return "", err
	}
	d.title("Handouts Document")
	d.heading(1, doc.Subject)

	first := true
	for _, t := range doc.Topics {
		var points []Point
		for _, p := range t.Points {
			if strings.TrimSpace(p.Body) != "" {
				points = append(points, p)
			}
		}
		if len(points) == 0 {
			continue
		}
		if !first {
			d.pageBreak()
		}
		first = false
		d.heading(1, t.Name)
		for _, p := range points {
			d.heading(2, p.Text)
			d.markdown(p.Body, 2)
		}
	}

	path, err := outputPath(h.dir, doc.Subject, KindHandout, "docx", h.now())
	if err != nil {
		return "", err
	}
	if err := d.save(path); err != nil {
		return "", err
	}
	return path, nil
}

// formatDuration renders "30" as "30 minutes" and leaves other text alone.
func formatDuration(s string) string {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return s + " minutes"
}
