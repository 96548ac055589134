package align

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection returns the overlay footprints as GeoJSON in ground-plane
// coordinates: the placed model and the scan as hull polygons, plus the
// overlap of their bounds when they intersect.
func (r *OverlayRenderer) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	modelHull, scanHull := r.hulls()

	if f := hullFeature("model", modelHull, r.ModelColor.Hull, r.Model.Len()); f != nil {
		if r.Metrics != nil {
			f.Properties["rmse"] = r.Metrics.RMSE
			f.Properties["inlierFraction"] = r.Metrics.InlierFraction
			f.Properties["iterations"] = r.Metrics.Iterations
		}
		f.Properties["transform"] = r.Transform
		fc.Append(f)
	}
	if f := hullFeature("scan", scanHull, r.ScanColor.Hull, r.Scan.Len()); f != nil {
		fc.Append(f)
	}

	if len(modelHull) >= 4 && len(scanHull) >= 4 {
		mb, sb := modelHull.Bound(), scanHull.Bound()
		if mb.Intersects(sb) {
			overlap := orb.Bound{
				Min: orb.Point{max(mb.Min[0], sb.Min[0]), max(mb.Min[1], sb.Min[1])},
				Max: orb.Point{min(mb.Max[0], sb.Max[0]), min(mb.Max[1], sb.Max[1])},
			}
			f := geojson.NewFeature(overlap.ToPolygon())
			f.Properties["role"] = "overlap"
			f.Properties["area"] = boundArea(overlap)
			fc.Append(f)
		}
	}
	return fc
}

func hullFeature(role string, hull orb.Ring, c color.NRGBA, points int) *geojson.Feature {
	if len(hull) < 4 {
		return nil
	}
	f := geojson.NewFeature(orb.Polygon{hull})
	f.ID = role
	f.Properties["role"] = role
	f.Properties["points"] = points
	f.Properties["fill"] = fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	f.Properties["fill-opacity"] = float64(c.A) / 255
	return f
}

// RenderToGeoJSON writes FeatureCollection as JSON
func (r *OverlayRenderer) RenderToGeoJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(r.FeatureCollection())
}
