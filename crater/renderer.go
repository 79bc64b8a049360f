package crater

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay is the content of a crater map: the raw markings, the clustered
// craters and optionally a truth catalogue.
type Overlay struct {
	Markings []Marking
	Labels   []int // cluster label per marking; nil draws every marking grey
	Craters  []Crater
	Truth    []Crater
}

// HasDrawableContent reports whether there is anything to draw
func (o *Overlay) HasDrawableContent() bool {
	return len(o.Markings) > 0 || len(o.Craters) > 0 || len(o.Truth) > 0
}

var (
	markingGrey  = color.RGBA{150, 150, 150, 255}
	craterColor  = color.RGBA{220, 20, 60, 255} // crimson
	truthColor   = color.RGBA{0, 0, 139, 255}   // dark blue
	background   = color.RGBA{240, 240, 240, 255}
	legendColour = color.RGBA{0, 0, 0, 255}
)

// labelColors cycles through distinct hues for cluster labels
var labelColors = []color.RGBA{
	{100, 149, 237, 255}, // cornflower blue
	{255, 99, 71, 255},   // tomato
	{60, 179, 113, 255},  // medium sea green
	{184, 134, 11, 255},  // dark goldenrod
	{147, 112, 219, 255}, // medium purple
	{0, 139, 139, 255},   // dark cyan
}

func labelColor(label int) color.RGBA {
	if label <= 0 {
		return markingGrey
	}
	return labelColors[(label-1)%len(labelColors)]
}

// frame maps lunar coordinates onto a local plane in metres with x east
// and y north from the south-west corner of the content.
type frame struct {
	longMin, latMin float64
	cosLat          float64
	width, height   float64 // metres
}

func (o *Overlay) frame() frame {
	longMin, latMin := math.Inf(1), math.Inf(1)
	longMax, latMax := math.Inf(-1), math.Inf(-1)
	include := func(long, lat, radius float64) {
		r := radius * DegreesPerMetre
		rl := r / math.Max(math.Cos(lat*math.Pi/180), 1e-6)
		longMin = math.Min(longMin, long-rl)
		longMax = math.Max(longMax, long+rl)
		latMin = math.Min(latMin, lat-r)
		latMax = math.Max(latMax, lat+r)
	}
	for _, m := range o.Markings {
		include(m.Long, m.Lat, m.Radius)
	}
	for _, c := range o.Craters {
		include(c.Long, c.Lat, c.Radius)
	}
	for _, c := range o.Truth {
		include(c.Long, c.Lat, c.Radius)
	}
	if math.IsInf(longMin, 1) {
		return frame{cosLat: 1}
	}

	f := frame{
		longMin: longMin,
		latMin:  latMin,
		cosLat:  math.Cos((latMin + latMax) / 2 * math.Pi / 180),
	}
	f.width, f.height = f.toPlane(longMax, latMax)
	return f
}

func (f frame) toPlane(long, lat float64) (x, y float64) {
	return (long - f.longMin) * f.cosLat / DegreesPerMetre, (lat - f.latMin) / DegreesPerMetre
}

// PreviewRenderer draws an overlay into a raster image with a legend
type PreviewRenderer struct {
	Overlay *Overlay
	Scale   float64 // pixels per metre, 0 fits MaxSize
	Padding int
	MaxSize int // longest image side in pixels
}

// NewPreviewRenderer creates a preview renderer with default settings
func NewPreviewRenderer(o *Overlay) *PreviewRenderer {
	return &PreviewRenderer{Overlay: o, Padding: 20, MaxSize: 1600}
}

// Render draws the preview. Markings are thin rings coloured by cluster,
// craters thick crimson rings and truth craters dark blue crosses.
func (r *PreviewRenderer) Render() *image.RGBA {
	f := r.Overlay.frame()
	scale := r.Scale
	longest := math.Max(f.width, f.height)
	if scale <= 0 || longest*scale > float64(r.MaxSize) {
		if longest > 0 {
			scale = float64(r.MaxSize) / longest
		} else {
			scale = 1
		}
	}

	width := int(f.width*scale) + 2*r.Padding
	height := int(f.height*scale) + 2*r.Padding
	if width <= 0 || height <= 0 {
		width, height = 2*r.Padding+1, 2*r.Padding+1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, background)
		}
	}

	// image y grows southwards
	toImage := func(long, lat float64) (int, int) {
		x, y := f.toPlane(long, lat)
		return int(x*scale) + r.Padding, height - r.Padding - int(y*scale)
	}

	for i, m := range r.Overlay.Markings {
		c := markingGrey
		if i < len(r.Overlay.Labels) {
			c = labelColor(r.Overlay.Labels[i])
		}
		ix, iy := toImage(m.Long, m.Lat)
		drawRing(img, ix, iy, m.Radius*scale, 1, c)
	}
	for _, t := range r.Overlay.Truth {
		ix, iy := toImage(t.Long, t.Lat)
		drawCross(img, ix, iy, int(math.Max(t.Radius*scale/2, 3)), truthColor)
	}
	for _, c := range r.Overlay.Craters {
		ix, iy := toImage(c.Long, c.Lat)
		drawRing(img, ix, iy, c.Radius*scale, 2, craterColor)
	}

	r.drawLegend(img)
	return img
}

// SavePNG renders the preview to a PNG file
func (r *PreviewRenderer) SavePNG(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

func (r *PreviewRenderer) drawLegend(img *image.RGBA) {
	entries := []struct {
		label string
		c     color.RGBA
	}{
		{fmt.Sprintf("markings (%d)", len(r.Overlay.Markings)), labelColors[0]},
		{fmt.Sprintf("craters (%d)", len(r.Overlay.Craters)), craterColor},
	}
	if len(r.Overlay.Truth) > 0 {
		entries = append(entries, struct {
			label string
			c     color.RGBA
		}{fmt.Sprintf("truth (%d)", len(r.Overlay.Truth)), truthColor})
	}

	y := 15
	for _, e := range entries {
		for dy := 0; dy < 10; dy++ {
			for dx := 0; dx < 10; dx++ {
				img.SetRGBA(6+dx, y+dy-8, e.c)
			}
		}
		drawText(img, 22, y, e.label, legendColour)
		y += 16
	}
}

// drawRing draws a circle outline of the given pixel thickness. Rings
// smaller than a pixel are drawn as a dot.
func drawRing(img *image.RGBA, cx, cy int, radius float64, thickness int, c color.RGBA) {
	b := img.Bounds()
	set := func(x, y int) {
		if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
			img.SetRGBA(x, y, c)
		}
	}
	if radius < 1 {
		set(cx, cy)
		return
	}
	steps := int(2*math.Pi*radius) + 8
	for s := 0; s < steps; s++ {
		a := 2 * math.Pi * float64(s) / float64(steps)
		for k := 0; k < thickness; k++ {
			rr := radius - float64(k)
			set(cx+int(math.Round(rr*math.Cos(a))), cy+int(math.Round(rr*math.Sin(a))))
		}
	}
}

// drawCross draws a plus sign with arms of the given length
func drawCross(img *image.RGBA, cx, cy, arm int, c color.RGBA) {
	b := img.Bounds()
	for d := -arm; d <= arm; d++ {
		if x, y := cx+d, cy; x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
			img.SetRGBA(x, y, c)
		}
		if x, y := cx, cy+d; x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// Overlay returns the drawable content of a run
func (r *RunResult) Overlay() *Overlay {
	return &Overlay{Markings: r.Markings, Labels: r.Labels, Craters: r.Craters, Truth: r.Truth}
}
