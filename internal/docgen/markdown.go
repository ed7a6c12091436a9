package docgen

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// Run is a span of uniformly formatted text.
type Run struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

// BlockKind classifies a rendered block.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockBullet
	BlockCode
)

// Block is one paragraph-level element. Level is the heading level or the
// list nesting depth.
type Block struct {
	Kind  BlockKind
	Level int
	Runs  []Run
}

// Text concatenates the block's runs.
func (b Block) Text() string {
	var sb strings.Builder
	for _, r := range b.Runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// ParseMarkdown flattens markdown into blocks.
func ParseMarkdown(src string) []Block {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))
	c := &collector{src: source}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		c.block(n, 0)
	}
	return c.out
}

type collector struct {
	src []byte
	out []Block
}

func (c *collector) emit(kind BlockKind, level int, runs []Run) {
	runs = mergeRuns(runs)
	if len(runs) == 0 {
		return
	}
	c.out = append(c.out, Block{Kind: kind, Level: level, Runs: runs})
}

func (c *collector) block(n ast.Node, depth int) {
	switch n := n.(type) {
	case *ast.Heading:
		c.emit(BlockHeading, n.Level, c.inline(n, Run{}))
	case *ast.Paragraph, *ast.TextBlock:
		if depth > 0 {
			c.emit(BlockBullet, depth, c.inline(n, Run{}))
		} else {
			c.emit(BlockParagraph, 0, c.inline(n, Run{}))
		}
	case *ast.List:
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			for child := item.FirstChild(); child != nil; child = child.NextSibling() {
				c.block(child, depth+1)
			}
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		var sb strings.Builder
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(c.src))
		}
		code := strings.TrimRight(sb.String(), "\n")
		if code != "" {
			c.out = append(c.out, Block{Kind: BlockCode, Runs: []Run{{Text: code, Code: true}}})
		}
	case *ast.Blockquote:
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			c.block(child, depth)
		}
	case *ast.ThematicBreak, *ast.HTMLBlock:
	default:
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			c.block(child, depth)
		}
	}
}

func (c *collector) inline(n ast.Node, style Run) []Run {
	var runs []Run
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch t := child.(type) {
		case *ast.Text:
			r := style
			r.Text = string(t.Segment.Value(c.src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				r.Text += " "
			}
			runs = append(runs, r)
		case *ast.String:
			r := style
			r.Text = string(t.Value)
			runs = append(runs, r)
		case *ast.Emphasis:
			s := style
			if t.Level >= 2 {
				s.Bold = true
			} else {
				s.Italic = true
			}
			runs = append(runs, c.inline(t, s)...)
		case *ast.CodeSpan:
			s := style
			s.Code = true
			runs = append(runs, c.inline(t, s)...)
		case *ast.AutoLink:
			r := style
			r.Text = string(t.URL(c.src))
			runs = append(runs, r)
		default:
			runs = append(runs, c.inline(child, style)...)
		}
	}
	return runs
}

func mergeRuns(runs []Run) []Run {
	var out []Run
	for _, r := range runs {
		if r.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Bold == r.Bold && out[n-1].Italic == r.Italic && out[n-1].Code == r.Code {
			out[n-1].Text += r.Text
			continue
		}
		out = append(out, r)
	}
	if n := len(out); n > 0 {
		out[n-1].Text = strings.TrimRight(out[n-1].Text, " ")
		if out[n-1].Text == "" {
			out = out[:n-1]
		}
	}
	return out
}

// Summarize returns up to n short lines for a slide: the first bullet items
// of the body, or its first sentences when it has no list.
func Summarize(body string, n int) []string {
	blocks := ParseMarkdown(body)
	var lines []string
	for _, b := range blocks {
		if b.Kind == BlockBullet && b.Level == 1 {
			lines = append(lines, b.Text())
			if len(lines) == n {
				return lines
			}
		}
	}
	if len(lines) > 0 {
		return lines
	}
	for _, b := range blocks {
		if b.Kind != BlockParagraph {
			continue
		}
		for _, s := range sentences(b.Text()) {
			lines = append(lines, s)
			if len(lines) == n {
				return lines
			}
		}
	}
	return lines
}

func sentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') && (i+1 == len(s) || s[i+1] == ' ') {
			if sent := strings.TrimSpace(s[start : i+1]); sent != "" {
				out = append(out, sent)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
