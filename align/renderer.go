package align

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// CloudColor defines how one cloud is drawn in an overlay
type CloudColor struct {
	Point color.NRGBA
	Hull  color.NRGBA
}

// DefaultOverlayColors returns the model (blue) and scan (red) colors
func DefaultOverlayColors() (model, scan CloudColor) {
	model = CloudColor{
		Point: color.NRGBA{0, 0, 139, 200},    // Dark blue
		Hull:  color.NRGBA{100, 149, 237, 90}, // Cornflower blue
	}
	scan = CloudColor{
		Point: color.NRGBA{139, 0, 0, 200},  // Dark red
		Hull:  color.NRGBA{255, 99, 71, 90}, // Tomato
	}
	return model, scan
}

// OverlayRenderer draws the placed model over the scan, projected onto the
// ground plane perpendicular to Up.
type OverlayRenderer struct {
	Model     *PointCloud
	Scan      *PointCloud
	Transform Matrix4
	Up        r3.Vector
	Metrics   *RegistrationMetrics

	ModelColor CloudColor
	ScanColor  CloudColor

	PixelsPerUnit float64           // Raster scale (default 100 px per unit)
	Padding       float64           // Padding in world units
	MaxPoints     int               // Points drawn per cloud; clouds are subsampled beyond this
	PointRadius   float64           // Vector point radius in world units
	GridSpacing   float64           // Vector grid spacing in world units; 0 disables
	HullTolerance float64           // Douglas-Peucker tolerance for footprint outlines
	Resolution    canvas.Resolution // RenderToPNG dots per world unit (default 100)
}

// NewOverlayRenderer creates a renderer with default settings
func NewOverlayRenderer(model, scan *PointCloud, transform Matrix4, up r3.Vector) *OverlayRenderer {
	mc, sc := DefaultOverlayColors()
	return &OverlayRenderer{
		Model:         model,
		Scan:          scan,
		Transform:     transform,
		Up:            up,
		ModelColor:    mc,
		ScanColor:     sc,
		PixelsPerUnit: 100,
		Padding:       0.25,
		MaxPoints:     20000,
		PointRadius:   0.01,
		GridSpacing:   1.0,
		HullTolerance: 0.02,
		Resolution:    canvas.Resolution(100),
	}
}

// projected returns both clouds on the ground plane, the model moved by Transform
func (r *OverlayRenderer) projected() (model, scan orb.MultiPoint) {
	if r.Model.Len() > 0 {
		placed := TransformPoints(r.Model.Subsample(r.MaxPoints).Points, r.Transform)
		model = Footprint(placed, r.Up)
	}
	if r.Scan.Len() > 0 {
		scan = Footprint(r.Scan.Subsample(r.MaxPoints).Points, r.Up)
	}
	return model, scan
}

// hulls returns the footprint outlines of both clouds
func (r *OverlayRenderer) hulls() (model, scan orb.Ring) {
	if r.Model.Len() > 0 {
		model = FootprintHull(TransformPoints(r.Model.Points, r.Transform), r.Up, r.HullTolerance)
	}
	if r.Scan.Len() > 0 {
		scan = FootprintHull(r.Scan.Points, r.Up, r.HullTolerance)
	}
	return model, scan
}

// worldBound returns the padded union bound of both projections
func (r *OverlayRenderer) worldBound(model, scan orb.MultiPoint) orb.Bound {
	var b orb.Bound
	switch {
	case len(model) > 0 && len(scan) > 0:
		b = model.Bound().Union(scan.Bound())
	case len(model) > 0:
		b = model.Bound()
	case len(scan) > 0:
		b = scan.Bound()
	default:
		b = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	}
	return b.Pad(r.Padding)
}

// Caption summarizes the registration shown in the overlay
func (r *OverlayRenderer) Caption() string {
	if r.Metrics == nil {
		return "unregistered"
	}
	yaw := r.Transform.YawAbout(r.Up) * 180 / math.Pi
	return fmt.Sprintf("rmse %.4f  inliers %.0f%%  iter %d  yaw %.1f",
		r.Metrics.RMSE, r.Metrics.InlierFraction*100, r.Metrics.Iterations, yaw)
}

// RenderRaster draws both clouds as dots with a legend and metrics caption
func (r *OverlayRenderer) RenderRaster() *image.RGBA {
	model, scan := r.projected()
	b := r.worldBound(model, scan)

	scale := r.PixelsPerUnit
	if scale <= 0 {
		scale = 100
	}
	width := int(math.Ceil((b.Max[0] - b.Min[0]) * scale))
	height := int(math.Ceil((b.Max[1] - b.Min[1]) * scale))

	// Limit size
	if width > 4000 || height > 4000 {
		shrink := 4000 / float64(max(width, height))
		scale *= shrink
		width = int(float64(width) * shrink)
		height = int(float64(height) * shrink)
	}
	width = max(width, 200)
	height = max(height, 60)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{240, 240, 240, 255})
		}
	}

	// Image rows grow downward; world v grows upward
	toImage := func(p orb.Point) (int, int) {
		x := int((p[0] - b.Min[0]) * scale)
		y := height - 1 - int((p[1]-b.Min[1])*scale)
		return x, y
	}

	for _, layer := range []struct {
		points orb.MultiPoint
		c      color.NRGBA
	}{{scan, r.ScanColor.Point}, {model, r.ModelColor.Point}} {
		for _, p := range layer.points {
			ix, iy := toImage(p)
			if ix >= 0 && ix < width && iy >= 0 && iy < height {
				img.Set(ix, iy, blendColors(img.RGBAAt(ix, iy), layer.c))
			}
		}
	}

	r.drawLegend(img, height)
	return img
}

// SavePNG renders the raster overlay to a file
func (r *OverlayRenderer) SavePNG(path string) error {
	img := r.RenderRaster()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

func (r *OverlayRenderer) drawLegend(img *image.RGBA, height int) {
	y := 15
	for _, entry := range []struct {
		label string
		c     color.NRGBA
	}{{"model", r.ModelColor.Point}, {"scan", r.ScanColor.Point}} {
		swatch := color.RGBA{entry.c.R, entry.c.G, entry.c.B, 255}
		drawSquare(img, 16, y-4, 12, swatch)
		drawText(img, 28, y, entry.label, color.RGBA{0, 0, 0, 255})
		y += 18
	}
	drawText(img, 10, height-8, r.Caption(), color.RGBA{0, 0, 0, 255})
}

// blendColors alpha-blends fg over an opaque background pixel
func blendColors(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	alpha := float64(fg.A) / 255.0
	inv := 1.0 - alpha
	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*inv),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*inv),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*inv),
		A: 255,
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
