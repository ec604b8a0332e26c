package helio

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TextVertex is one overlay vertex in clip space, laid out for direct upload.
type TextVertex struct {
	Pos   [2]float32
	UV    [2]float32
	Color [4]float32
}

// TextItem is one block of text placed in pixels from the top-left corner.
type TextItem struct {
	Text     string
	Position [2]float32
	Scale    float32
	Color    [4]float32
}

// GlyphInfo locates one baked glyph in the atlas. Size and Off are in pixels
// relative to the pen, Adv is the pen advance.
type GlyphInfo struct {
	UVMin [2]float32
	UVMax [2]float32
	Size  [2]float32
	Off   [2]float32
	Adv   float32
}

const overlayAtlasSize = 512

// TextRenderer bakes an ASCII glyph atlas once and turns text into textured
// quads. Layout needs only the glyph table and the metrics captured at bake
// time, not the font itself.
type TextRenderer struct {
	AtlasImage *image.Alpha
	Glyphs     map[rune]GlyphInfo

	ascent     float32
	lineHeight float32
}

func NewTextRenderer(fontPath string, fontSize float64) (*TextRenderer, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create face: %w", err)
	}

	atlas := image.NewAlpha(image.Rect(0, 0, overlayAtlasSize, overlayAtlasSize))
	glyphs := make(map[rune]GlyphInfo)

	x, y := 2, 2
	rowHeight := 0
	for r := rune(32); r < 127; r++ {
		bounds, mask, _, adv, ok := face.Glyph(fixed.Point26_6{}, r)
		if !ok {
			continue
		}
		w := mask.Bounds().Dx()
		h := mask.Bounds().Dy()
		if x+w >= overlayAtlasSize {
			x = 2
			y += rowHeight + 4
			rowHeight = 0
		}
		if y+h >= overlayAtlasSize {
			break
		}
		draw.Draw(atlas, image.Rect(x, y, x+w, y+h), mask, mask.Bounds().Min, draw.Src)
		glyphs[r] = GlyphInfo{
			UVMin: [2]float32{float32(x) / overlayAtlasSize, float32(y) / overlayAtlasSize},
			UVMax: [2]float32{float32(x+w) / overlayAtlasSize, float32(y+h) / overlayAtlasSize},
			Size:  [2]float32{float32(w), float32(h)},
			Off:   [2]float32{float32(bounds.Min.X), float32(bounds.Min.Y)},
			Adv:   float32(adv) / 64.0, // fixed 26.6
		}
		x += w + 4
		if h > rowHeight {
			rowHeight = h
		}
	}

	metrics := face.Metrics()
	return &TextRenderer{
		AtlasImage: atlas,
		Glyphs:     glyphs,
		ascent:     float32(metrics.Ascent.Ceil()),
		lineHeight: float32(metrics.Height.Ceil()),
	}, nil
}

// BuildVertices lays the items out glyph by glyph and returns two clip-space
// triangles per glyph for the host's overlay pipeline.
func (tr *TextRenderer) BuildVertices(items []TextItem, screenW, screenH int) []TextVertex {
	n := 0
	for _, item := range items {
		n += len(item.Text)
	}
	vertices := make([]TextVertex, 0, n*6)

	sw := float32(screenW)
	sh := float32(screenH)

	for _, item := range items {
		startX := item.Position[0]
		posX := startX
		posY := item.Position[1] + tr.ascent*item.Scale

		for _, r := range item.Text {
			if r == '\n' {
				posX = startX
				posY += tr.lineHeight * item.Scale
				continue
			}

			g, ok := tr.Glyphs[r]
			if !ok {
				continue
			}

			x0 := (posX+g.Off[0]*item.Scale)/sw*2.0 - 1.0
			y0 := 1.0 - (posY+g.Off[1]*item.Scale)/sh*2.0
			x1 := (posX+(g.Off[0]+g.Size[0])*item.Scale)/sw*2.0 - 1.0
			y1 := 1.0 - (posY+(g.Off[1]+g.Size[1])*item.Scale)/sh*2.0

			vertices = append(vertices,
				TextVertex{Pos: [2]float32{x0, y0}, UV: [2]float32{g.UVMin[0], g.UVMin[1]}, Color: item.Color},
				TextVertex{Pos: [2]float32{x1, y0}, UV: [2]float32{g.UVMax[0], g.UVMin[1]}, Color: item.Color},
				TextVertex{Pos: [2]float32{x0, y1}, UV: [2]float32{g.UVMin[0], g.UVMax[1]}, Color: item.Color},
				TextVertex{Pos: [2]float32{x1, y0}, UV: [2]float32{g.UVMax[0], g.UVMin[1]}, Color: item.Color},
				TextVertex{Pos: [2]float32{x1, y1}, UV: [2]float32{g.UVMax[0], g.UVMax[1]}, Color: item.Color},
				TextVertex{Pos: [2]float32{x0, y1}, UV: [2]float32{g.UVMin[0], g.UVMax[1]}, Color: item.Color},
			)

			posX += g.Adv * item.Scale
		}
	}

	return vertices
}

// MeasureText returns the pixel width and height the text would occupy.
func (tr *TextRenderer) MeasureText(text string, scale float32) (float32, float32) {
	if tr == nil {
		return 0, 0
	}

	maxW := float32(0)
	currentW := float32(0)
	lines := 1

	for _, r := range text {
		if r == '\n' {
			if currentW > maxW {
				maxW = currentW
			}
			currentW = 0
			lines++
			continue
		}
		g, ok := tr.Glyphs[r]
		if !ok {
			continue
		}
		currentW += g.Adv * scale
	}
	if currentW > maxW {
		maxW = currentW
	}

	return maxW, tr.lineHeight * scale * float32(lines)
}

func (tr *TextRenderer) GetLineHeight(scale float32) float32 {
	if tr == nil {
		return 0
	}
	return tr.lineHeight * scale
}
