package crater

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testOverlay() *Overlay {
	return &Overlay{
		Markings: []Marking{
			{Long: 30.750, Lat: 20.230, Radius: 40},
			{Long: 30.7501, Lat: 20.2301, Radius: 42},
			{Long: 30.752, Lat: 20.231, Radius: 20},
		},
		Labels:  []int{1, 1, 0},
		Craters: []Crater{{Long: 30.75005, Lat: 20.23005, Radius: 41, Count: 2, CountNotMin: 2}},
		Truth:   []Crater{{Long: 30.75, Lat: 20.23, Radius: 40}},
	}
}

func TestHasDrawableContent(t *testing.T) {
	if (&Overlay{}).HasDrawableContent() {
		t.Fatal("expected no drawable content for an empty overlay")
	}
	if !(&Overlay{Truth: []Crater{{Radius: 20}}}).HasDrawableContent() {
		t.Fatal("expected drawable content when a truth crater is present")
	}
}

func TestOverlayFrame(t *testing.T) {
	o := &Overlay{Craters: []Crater{
		{Long: 0, Lat: 0, Radius: 100},
		{Long: 1000 * DegreesPerMetre, Lat: 500 * DegreesPerMetre, Radius: 100},
	}}
	f := o.frame()
	if math.Abs(f.width-1200) > 0.01 {
		t.Errorf("width = %.3f, want 1200", f.width)
	}
	if math.Abs(f.height-700) > 0.01 {
		t.Errorf("height = %.3f, want 700", f.height)
	}

	x, y := f.toPlane(0, 0)
	if math.Abs(x-100) > 0.01 || math.Abs(y-100) > 0.01 {
		t.Errorf("origin maps to (%.3f, %.3f), want (100, 100)", x, y)
	}

	empty := (&Overlay{}).frame()
	if empty.width != 0 || empty.height != 0 {
		t.Errorf("empty frame = %+v, want zero extent", empty)
	}
}

func TestPreviewRenderer_Render(t *testing.T) {
	r := NewPreviewRenderer(testOverlay())
	img := r.Render()

	b := img.Bounds()
	if b.Dx() > r.MaxSize+2*r.Padding || b.Dy() > r.MaxSize+2*r.Padding {
		t.Errorf("image %dx%d exceeds max size %d", b.Dx(), b.Dy(), r.MaxSize)
	}
	if b.Dx() < 100 || b.Dy() < 100 {
		t.Errorf("image %dx%d is unexpectedly small", b.Dx(), b.Dy())
	}

	var crater int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == craterColor {
				crater++
			}
		}
	}
	if crater == 0 {
		t.Error("no crater ring pixels drawn")
	}
}

func TestPreviewRenderer_EmptyOverlay(t *testing.T) {
	r := NewPreviewRenderer(&Overlay{})
	img := r.Render()
	if img.Bounds().Dx() != 2*r.Padding {
		t.Errorf("empty overlay width = %d, want %d", img.Bounds().Dx(), 2*r.Padding)
	}
}

func TestPreviewRenderer_SavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.png")
	if err := NewPreviewRenderer(testOverlay()).SavePNG(path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
}

func TestLabelColor(t *testing.T) {
	if labelColor(0) != markingGrey {
		t.Error("unlabelled markings should be grey")
	}
	if labelColor(1) != labelColor(1+len(labelColors)) {
		t.Error("label colours should cycle")
	}
	if labelColor(1) == labelColor(2) {
		t.Error("adjacent labels should differ")
	}
}
