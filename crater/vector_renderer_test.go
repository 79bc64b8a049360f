package crater

import (
	"bytes"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/tdewolff/canvas"
)

func TestVectorRenderer_RenderToSVG(t *testing.T) {
	r := NewVectorRenderer(testOverlay())

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("Failed to render to SVG: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Errorf("Output does not contain <svg tag")
	}
	if !bytes.Contains(buf.Bytes(), []byte("path")) {
		t.Errorf("Output does not contain path elements")
	}
}

func TestVectorRenderer_RenderToPNG(t *testing.T) {
	r := NewVectorRendererFromConfig(testOverlay(), RenderConfig{Width: 50, Resolution: 72})
	if r.Width != 50 {
		t.Errorf("Width = %v, want 50", r.Width)
	}

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("Failed to render to PNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}

	// 60 mm at 72 DPI is about 170 px
	wantWidth := (r.Width + 2*r.Padding) * 72 / 25.4
	if got := float64(img.Bounds().Dx()); got < wantWidth-2 || got > wantWidth+2 {
		t.Errorf("PNG width = %v px, want about %.0f", got, wantWidth)
	}
}

func TestVectorRenderer_Errors(t *testing.T) {
	var buf bytes.Buffer
	err := NewVectorRenderer(&Overlay{}).RenderToSVG(&buf)
	if err == nil || !strings.Contains(err.Error(), "nothing to render") {
		t.Errorf("empty overlay error = %v", err)
	}

	r := NewVectorRenderer(testOverlay())
	r.Width = 0
	if err := r.RenderToPNG(&buf); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestVectorRenderer_SingleCrater(t *testing.T) {
	r := NewVectorRenderer(&Overlay{Craters: []Crater{{Long: 10, Lat: 10, Radius: 30}}})
	r.Resolution = canvas.DPI(50)

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("Failed to render to PNG: %v", err)
	}
	if _, err := png.Decode(&buf); err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}
}

func TestToRGBA(t *testing.T) {
	tests := []struct {
		in   [4]uint8
		want [4]uint8
	}{
		{[4]uint8{10, 20, 30, 0}, [4]uint8{0, 0, 0, 0}},
		{[4]uint8{10, 20, 30, 255}, [4]uint8{10, 20, 30, 255}},
		{[4]uint8{255, 0, 100, 51}, [4]uint8{51, 0, 20, 51}},
	}
	for _, tt := range tests {
		c := toRGBA(color.NRGBA{tt.in[0], tt.in[1], tt.in[2], tt.in[3]})
		if got := [4]uint8{c.R, c.G, c.B, c.A}; got != tt.want {
			t.Errorf("toRGBA(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
