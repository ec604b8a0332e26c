package helio

import (
	"math"
	"testing"
)

func fakeTextRenderer() *TextRenderer {
	glyph := GlyphInfo{Size: [2]float32{8, 10}, Off: [2]float32{0, -10}, Adv: 9}
	return &TextRenderer{
		Glyphs:     map[rune]GlyphInfo{'A': glyph, 'B': glyph},
		ascent:     10,
		lineHeight: 14,
	}
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestOverlayMissingFont(t *testing.T) {
	if _, err := NewTextRenderer("no-such-font.ttf", 14); err == nil {
		t.Fatalf("missing font file accepted")
	}
}

func TestOverlayBuildVertices(t *testing.T) {
	tr := fakeTextRenderer()
	items := []TextItem{{Text: "AB", Position: [2]float32{10, 10}, Scale: 1, Color: [4]float32{1, 1, 0, 1}}}

	verts := tr.BuildVertices(items, 100, 100)
	if len(verts) != 12 {
		t.Fatalf("got %d vertices, want 12", len(verts))
	}

	// First glyph: pen at (10, 20), bitmap spans y 10..20, x 10..18.
	if !near(verts[0].Pos[0], -0.8) || !near(verts[0].Pos[1], 0.8) {
		t.Errorf("first vertex at %v", verts[0].Pos)
	}
	if verts[6].Pos[0] <= verts[0].Pos[0] {
		t.Errorf("second glyph did not advance: %v vs %v", verts[6].Pos, verts[0].Pos)
	}
	for _, v := range verts {
		if v.Color != items[0].Color {
			t.Fatalf("vertex color %v", v.Color)
		}
	}
}

func TestOverlayNewlineAndUnknownRunes(t *testing.T) {
	tr := fakeTextRenderer()

	verts := tr.BuildVertices([]TextItem{{Text: "A\nB", Position: [2]float32{0, 0}, Scale: 1}}, 100, 100)
	if len(verts) != 12 {
		t.Fatalf("got %d vertices, want 12", len(verts))
	}
	if verts[6].Pos[1] >= verts[0].Pos[1] {
		t.Errorf("second line should sit lower in clip space")
	}
	if !near(verts[6].Pos[0], verts[0].Pos[0]) {
		t.Errorf("newline should reset the pen x")
	}

	// Runes without glyphs are skipped, not rendered as boxes.
	verts = tr.BuildVertices([]TextItem{{Text: "AZB", Scale: 1}}, 100, 100)
	if len(verts) != 12 {
		t.Errorf("unknown rune emitted vertices: %d", len(verts))
	}
}

func TestOverlayMeasureText(t *testing.T) {
	tr := fakeTextRenderer()

	w, h := tr.MeasureText("AB", 1)
	if !near(w, 18) || !near(h, 14) {
		t.Errorf("MeasureText(AB) = %v, %v", w, h)
	}
	w, h = tr.MeasureText("A\nB", 1)
	if !near(w, 9) || !near(h, 28) {
		t.Errorf("MeasureText(A\\nB) = %v, %v", w, h)
	}
	if lh := tr.GetLineHeight(2); !near(lh, 28) {
		t.Errorf("GetLineHeight(2) = %v", lh)
	}

	var nilTR *TextRenderer
	if w, h := nilTR.MeasureText("AB", 1); w != 0 || h != 0 {
		t.Errorf("nil renderer measured %v, %v", w, h)
	}
	if nilTR.GetLineHeight(1) != 0 {
		t.Errorf("nil renderer has a line height")
	}
}
