package media

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

var coverPalette = []color.NRGBA{
	{R: 0x0B, G: 0x3D, B: 0x91, A: 0xFF},
	{R: 0x00, G: 0x6D, B: 0x77, A: 0xFF},
	{R: 0x2D, G: 0x31, B: 0x42, A: 0xFF},
	{R: 0x6A, G: 0x4C, B: 0x93, A: 0xFF},
	{R: 0x1B, G: 0x5E, B: 0x20, A: 0xFF},
}

// CoverRenderer draws a title card locally. It is used when no image
// provider is configured.
type CoverRenderer struct {
	title    *truetype.Font
	subtitle *truetype.Font
}

// NewCoverRenderer parses the embedded Go fonts.
func NewCoverRenderer() (*CoverRenderer, error) {
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse title font: %w", err)
	}
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subtitle font: %w", err)
	}
	return &CoverRenderer{title: bold, subtitle: regular}, nil
}

// GenerateImage renders opts.Title (or the prompt when no title is given)
// onto a square card. The background colour is derived from the text.
func (c *CoverRenderer) GenerateImage(ctx context.Context, prompt string, opts ImageOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := parseSize(opts.Size)
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = strings.TrimSpace(prompt)
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(pickColor(title))
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	// Accent band along the bottom.
	dc.SetColor(color.NRGBA{R: 0xFF, G: 0xC1, B: 0x07, A: 0xFF})
	dc.DrawRectangle(0, float64(h)*0.86, float64(w), float64(h)*0.02)
	dc.Fill()

	margin := float64(w) * 0.1
	dc.SetFontFace(face(c.title, float64(w)/14))
	dc.SetColor(color.White)
	dc.DrawStringWrapped(title, float64(w)/2, float64(h)*0.42, 0.5, 0.5, float64(w)-2*margin, 1.3, gg.AlignCenter)

	dc.SetFontFace(face(c.subtitle, float64(w)/32))
	dc.SetColor(color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xC0})
	dc.DrawStringAnchored("Training Programme", float64(w)/2, float64(h)*0.8, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

func pickColor(s string) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return coverPalette[h.Sum32()%uint32(len(coverPalette))]
}

// parseSize reads "WxH", defaulting to 1024 square.
func parseSize(s string) (int, int) {
	const def = 1024
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return def, def
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 || w > 4096 || h > 4096 {
		return def, def
	}
	return w, h
}
