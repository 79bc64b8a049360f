package crater

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer renders an overlay as vector graphics. Canvas units are
// millimetres; north is up.
type VectorRenderer struct {
	Overlay     *Overlay
	Width       float64           // drawing width in mm, padding excluded
	Padding     float64           // mm
	Resolution  canvas.Resolution // PNG output resolution
	GridSpacing float64           // grid spacing on the ground in metres, 0 disables
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(o *Overlay) *VectorRenderer {
	return &VectorRenderer{
		Overlay:     o,
		Width:       200,
		Padding:     5,
		Resolution:  canvas.DPI(150),
		GridSpacing: 100,
	}
}

// NewVectorRendererFromConfig applies the render section of the config
func NewVectorRendererFromConfig(o *Overlay, cfg RenderConfig) *VectorRenderer {
	r := NewVectorRenderer(o)
	if cfg.Width > 0 {
		r.Width = cfg.Width
	}
	if cfg.Resolution > 0 {
		r.Resolution = canvas.DPI(cfg.Resolution)
	}
	return r
}

// canvasRenderer is implemented by the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// toRGBA premultiplies alpha for canvas paints
func toRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// layout returns the ground frame, the mm per metre scale and the page size
func (r *VectorRenderer) layout() (f frame, scale, width, height float64, err error) {
	if r.Overlay == nil || !r.Overlay.HasDrawableContent() {
		return frame{}, 0, 0, 0, fmt.Errorf("nothing to render")
	}
	if r.Width <= 0 {
		return frame{}, 0, 0, 0, fmt.Errorf("render width must be positive, got %v", r.Width)
	}
	f = r.Overlay.frame()
	scale = 1
	if f.width > 0 {
		scale = r.Width / f.width
	}
	width = f.width*scale + 2*r.Padding
	height = f.height*scale + 2*r.Padding
	return f, scale, width, height, nil
}

// RenderToSVG writes the overlay as an SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	f, scale, width, height, err := r.layout()
	if err != nil {
		return err
	}
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, f, scale, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as a PNG at the configured resolution
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	f, scale, width, height, err := r.layout()
	if err != nil {
		return err
	}
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, f, scale, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, f frame, scale, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(long, lat float64) (float64, float64) {
		x, y := f.toPlane(long, lat)
		return x*scale + r.Padding, y*scale + r.Padding
	}
	circle := func(long, lat, radius float64, style canvas.Style) {
		cx, cy := toCanvas(long, lat)
		rr := math.Max(radius*scale, 0.1)
		renderer.RenderPath(canvas.Circle(rr).Translate(cx, cy), style, canvas.Identity)
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.1
		gridStyle.Dashes = []float64{1.0, 1.0}

		for x := 0.0; x <= f.width; x += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(x*scale+r.Padding, r.Padding)
			p.LineTo(x*scale+r.Padding, f.height*scale+r.Padding)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := 0.0; y <= f.height; y += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(r.Padding, y*scale+r.Padding)
			p.LineTo(f.width*scale+r.Padding, y*scale+r.Padding)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	// Markings: translucent fill coloured by cluster
	for i, m := range r.Overlay.Markings {
		c := markingGrey
		if i < len(r.Overlay.Labels) {
			c = labelColor(r.Overlay.Labels[i])
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: toRGBA(color.NRGBA{c.R, c.G, c.B, 40})}
		style.Stroke = canvas.Paint{Color: toRGBA(color.NRGBA{c.R, c.G, c.B, 160})}
		style.StrokeWidth = 0.1
		circle(m.Long, m.Lat, m.Radius, style)
	}

	truthStyle := canvas.DefaultStyle
	truthStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	truthStyle.Stroke = canvas.Paint{Color: truthColor}
	truthStyle.StrokeWidth = 0.3
	truthStyle.Dashes = []float64{0.8, 0.5}
	for _, t := range r.Overlay.Truth {
		circle(t.Long, t.Lat, t.Radius, truthStyle)
	}

	craterStyle := canvas.DefaultStyle
	craterStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	craterStyle.Stroke = canvas.Paint{Color: craterColor}
	craterStyle.StrokeWidth = 0.4
	for _, c := range r.Overlay.Craters {
		circle(c.Long, c.Lat, c.Radius, craterStyle)
	}
}
