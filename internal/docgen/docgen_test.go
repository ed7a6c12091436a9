package docgen

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() Document {
	return Document{
		Subject:           "Grid Stability",
		TranslatedSubject: "Stabilitas Jaringan",
		ObjectivesSummary: "Trainees keep the grid **stable**.",
		Topics: []Topic{
			{
				Name:             "Frequency Control",
				Objective:        "Keep 50 Hz",
				KeyConcepts:      "Inertia, droop",
				Skills:           "Reading governor curves",
				DiscussionPoints: []string{"Inertia", "Droop"},
				Points: []Point{
					{
						Text:           "Inertia",
						Body:           "## Why it matters\n\nRotating mass **resists** change.\n\n- Synchronous machines\n- Flywheels\n",
						LearnObjective: "Explain inertia",
						Method:         "1. Lecture\n2. Demo",
						Duration:       "30",
					},
					{Text: "Droop", Body: "Governors share load. Droop sets the slope. A third sentence."},
				},
			},
			{
				Name:             "Voltage Stability",
				DiscussionPoints: []string{"Reactive power"},
				Points:           []Point{{Text: "Reactive power"}},
			},
		},
	}
}

func readPart(t *testing.T, path, name string) string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			b, err := io.ReadAll(rc)
			require.NoError(t, err)
			return string(b)
		}
	}
	t.Fatalf("part %s not found in %s", name, path)
	return ""
}

func assertWellFormed(t *testing.T, data string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(data))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
	}
}

// boldRuns returns the text of every bold run in a document.xml body.
func boldRuns(t *testing.T, data string) []string {
	t.Helper()
	var (
		out    []string
		inRun  bool
		bold   bool
		buf    strings.Builder
		dec    = xml.NewDecoder(strings.NewReader(data))
		isFlag = func(e xml.StartElement) bool {
			for _, a := range e.Attr {
				if a.Name.Local == "val" && (a.Value == "false" || a.Value == "0") {
					return false
				}
			}
			return true
		}
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "r":
				inRun, bold = true, false
				buf.Reset()
			case "b":
				if inRun {
					bold = isFlag(el)
				}
			}
		case xml.CharData:
			if inRun {
				buf.Write(el)
			}
		case xml.EndElement:
			if el.Name.Local == "r" && inRun {
				if bold {
					out = append(out, buf.String())
				}
				inRun = false
			}
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "Grid_Stability", SanitizeFilename("Grid Stability"))
	assert.Equal(t, "a_b_c", SanitizeFilename("a/b:c"))
	assert.Equal(t, "untitled", SanitizeFilename("  "))
}

func TestOutputPathNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)

	a := NewHandoutWord(dir)
	a.now = func() time.Time { return now }
	first, err := a.Assemble(context.Background(), sampleDoc())
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), sampleDoc())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Grid_Stability - 24-05-17 - handout.docx"), first)
	assert.Equal(t, filepath.Join(dir, "Grid_Stability - 24-05-17 - handout (1).docx"), second)
}

func TestHandoutWordContent(t *testing.T) {
	path, err := NewHandoutWord(t.TempDir()).Assemble(context.Background(), sampleDoc())
	require.NoError(t, err)

	body := readPart(t, path, "word/document.xml")
	assertWellFormed(t, body)
	assert.Contains(t, body, "Handouts Document")
	assert.Contains(t, body, "Frequency Control")
	assert.Contains(t, boldRuns(t, body), "resists")
	assert.Contains(t, body, "Flywheels")
	assert.NotContains(t, body, "Voltage Stability", "topics without handouts are skipped")
	assertWellFormed(t, readPart(t, path, "[Content_Types].xml"))
	assertWellFormed(t, readPart(t, path, "word/styles.xml"))
}

func TestKursilWordContent(t *testing.T) {
	path, err := NewKursilWord(t.TempDir()).Assemble(context.Background(), sampleDoc())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "kursil.docx"))

	body := readPart(t, path, "word/document.xml")
	assertWellFormed(t, body)
	assert.NotContains(t, body, "**", "markdown markers are rendered, not copied")
	for _, want := range []string{"Kursil Document", "Objective", "Key Concepts", "Skills to be Mastered",
		"Points of Discussion", "Learn Objective", "Lecture", "30 minutes", "Voltage Stability"} {
		assert.Contains(t, body, want)
	}
}

func TestSlidesDeck(t *testing.T) {
	path, err := NewSlides(t.TempDir()).Assemble(context.Background(), sampleDoc())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".pptx"))

	pres := readPart(t, path, "ppt/presentation.xml")
	assertWellFormed(t, pres)
	// title + 2 topics + 3 points
	assert.Equal(t, 6, strings.Count(pres, "<p:sldId "))

	cover := readPart(t, path, "ppt/slides/slide1.xml")
	assertWellFormed(t, cover)
	assert.Contains(t, cover, "Grid Stability")
	assert.Contains(t, cover, "Stabilitas Jaringan")

	inertia := readPart(t, path, "ppt/slides/slide3.xml")
	assert.Contains(t, inertia, "Synchronous machines")

	droop := readPart(t, path, "ppt/slides/slide4.xml")
	assert.Contains(t, droop, "Governors share load.")
	assertWellFormed(t, readPart(t, path, "ppt/theme/theme1.xml"))
}

func TestParseMarkdown(t *testing.T) {
	blocks := ParseMarkdown("# Title\n\nSome **bold** and *em* text.\n\n- one\n  - nested\n- two\n\n```\ncode\n```\n")
	require.Len(t, blocks, 6)
	assert.Equal(t, BlockHeading, blocks[0].Kind)
	assert.Equal(t, 1, blocks[0].Level)
	assert.Equal(t, "Some bold and em text.", blocks[1].Text())
	assert.True(t, blocks[1].Runs[1].Bold)
	assert.True(t, blocks[1].Runs[3].Italic)
	assert.Equal(t, BlockBullet, blocks[2].Kind)
	assert.Equal(t, "nested", blocks[3].Text())
	assert.Equal(t, 2, blocks[3].Level)
	assert.Equal(t, "two", blocks[4].Text())
	assert.Equal(t, BlockCode, blocks[5].Kind)
	assert.Equal(t, "code", blocks[5].Text())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Summarize("intro\n\n- a\n- b\n- c", 2))
	assert.Equal(t, []string{"One.", "Two?"}, Summarize("One. Two? Three.", 2))
	assert.Empty(t, Summarize("", 3))
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("Handout")
	assert.True(t, ok)
	assert.Equal(t, KindHandout, k)
	_, ok = ParseKind("pdf")
	assert.False(t, ok)
}

func TestHasBody(t *testing.T) {
	assert.True(t, sampleDoc().HasBody())
	assert.False(t, Document{Topics: []Topic{{Points: []Point{{Text: "x"}}}}}.HasBody())
}
