package align

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA premultiplies alpha for the canvas library
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overlay as SVG in world units
func (r *OverlayRenderer) RenderToSVG(w io.Writer) error {
	model, scan := r.projected()
	b := r.worldBound(model, scan)

	svgRenderer := svg.New(w, b.Max[0]-b.Min[0], b.Max[1]-b.Min[1], nil)
	r.renderToCanvas(svgRenderer, b, model, scan)
	return svgRenderer.Close()
}

// RenderToPNG rasterizes the vector overlay at Resolution
func (r *OverlayRenderer) RenderToPNG(w io.Writer) error {
	model, scan := r.projected()
	b := r.worldBound(model, scan)

	rast := rasterizer.New(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1], r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, model, scan)
	return png.Encode(w, rast)
}

func (r *OverlayRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, model, scan orb.MultiPoint) {
	width := b.Max[0] - b.Min[0]
	height := b.Max[1] - b.Min[1]

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p orb.Point) (float64, float64) {
		return p[0] - b.Min[0], p[1] - b.Min[1]
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = r.GridSpacing / 200
		gridStyle.Dashes = []float64{r.GridSpacing / 50, r.GridSpacing / 50}

		for x := math.Ceil(b.Min[0]/r.GridSpacing) * r.GridSpacing; x <= b.Max[0]; x += r.GridSpacing {
			p := &canvas.Path{}
			x1, y1 := toCanvas(orb.Point{x, b.Min[1]})
			x2, y2 := toCanvas(orb.Point{x, b.Max[1]})
			p.MoveTo(x1, y1)
			p.LineTo(x2, y2)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := math.Ceil(b.Min[1]/r.GridSpacing) * r.GridSpacing; y <= b.Max[1]; y += r.GridSpacing {
			p := &canvas.Path{}
			x1, y1 := toCanvas(orb.Point{b.Min[0], y})
			x2, y2 := toCanvas(orb.Point{b.Max[0], y})
			p.MoveTo(x1, y1)
			p.LineTo(x2, y2)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	// Footprint outlines below the points
	modelHull, scanHull := r.hulls()
	for _, h := range []struct {
		ring orb.Ring
		c    CloudColor
	}{{scanHull, r.ScanColor}, {modelHull, r.ModelColor}} {
		if len(h.ring) < 4 {
			continue
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(h.c.Hull)}
		style.Stroke = canvas.Paint{Color: nrgbaToRGBA(h.c.Point)}
		style.StrokeWidth = r.PointRadius
		p := &canvas.Path{}
		for i, pt := range h.ring {
			cx, cy := toCanvas(pt)
			if i == 0 {
				p.MoveTo(cx, cy)
			} else {
				p.LineTo(cx, cy)
			}
		}
		p.Close()
		renderer.RenderPath(p, style, canvas.Identity)
	}

	radius := r.PointRadius
	if radius <= 0 {
		radius = 0.01
	}
	for _, layer := range []struct {
		points orb.MultiPoint
		c      color.NRGBA
	}{{scan, r.ScanColor.Point}, {model, r.ModelColor.Point}} {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(layer.c)}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}
		dots := &canvas.Path{}
		for _, pt := range layer.points {
			cx, cy := toCanvas(pt)
			dots = dots.Append(canvas.Circle(radius).Translate(cx, cy))
		}
		if !dots.Empty() {
			renderer.RenderPath(dots, style, canvas.Identity)
		}
	}
}
