package align

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// Diagnostics describes a registration beyond its RMSE. Callers use it to
// decide whether a result is good enough; the engine never rejects one.
type Diagnostics struct {
	MeanResidual     float64 `json:"meanResidual"`
	StdResidual      float64 `json:"stdResidual"`
	MedianResidual   float64 `json:"medianResidual"`
	InlierFraction   float64 `json:"inlierFraction"`
	FootprintOverlap float64 `json:"footprintOverlap"`
	YawDeg           float64 `json:"yawDeg"`
	Scale            float64 `json:"scale"`
}

// Diagnose measures scan-to-model residuals after moving the model by the
// result's transform. maxDist bounds what counts as an inlier.
func Diagnose(model, scan *PointCloud, result RegistrationResult, up r3.Vector, maxDist float64) Diagnostics {
	d := Diagnostics{
		YawDeg: result.Transform.YawAbout(up) * 180 / math.Pi,
		Scale:  result.Transform.Scale(),
	}
	if model.Len() == 0 || scan.Len() == 0 {
		return d
	}

	placed := TransformPoints(model.Points, result.Transform)
	d.FootprintOverlap = FootprintOverlap(placed, scan.Points, up)

	index := NewNearestIndex(placed)
	residuals := make([]float64, 0, scan.Len())
	inliers := 0
	for _, p := range scan.Points {
		_, dist, ok := index.Nearest(p)
		if !ok {
			continue
		}
		residuals = append(residuals, dist)
		if dist <= maxDist {
			inliers++
		}
	}
	if len(residuals) == 0 {
		return d
	}

	d.MeanResidual, d.StdResidual = stat.MeanStdDev(residuals, nil)
	if math.IsNaN(d.StdResidual) {
		d.StdResidual = 0
	}
	sort.Float64s(residuals)
	d.MedianResidual = stat.Quantile(0.5, stat.Empirical, residuals, nil)
	d.InlierFraction = float64(inliers) / float64(scan.Len())
	return d
}
