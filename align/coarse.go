package align

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// CoarseParams configures the yaw sweep
type CoarseParams struct {
	YawStepDeg float64 `yaml:"yawStepDeg" json:"yawStepDeg"` // Angular spacing of yaw candidates
	// EvalSamples is the model subsample size used to score each candidate
	EvalSamples int `yaml:"evalSamples" json:"evalSamples"`
	// MaxEvalDistance is the inlier radius for scoring; 0 derives it from the
	// model voxel size and extent.
	MaxEvalDistance float64 `yaml:"maxEvalDistance,omitempty" json:"maxEvalDistance,omitempty"`
}

// DefaultCoarseParams returns a 10 degree sweep (36 candidates)
func DefaultCoarseParams() CoarseParams {
	return CoarseParams{
		YawStepDeg:  10,
		EvalSamples: 200,
	}
}

// SeedPose is a candidate model-to-scan transform with its overlap score
type SeedPose struct {
	Pose  Matrix4 `json:"pose"`
	Yaw   float64 `json:"yaw"` // radians about up
	Score float64 `json:"score"`
}

// CoarseEstimator produces ranked initial poses by sweeping yaw about the up
// axis with centroid alignment.
type CoarseEstimator struct {
	Params CoarseParams
}

// NewCoarseEstimator creates an estimator
func NewCoarseEstimator(params CoarseParams) *CoarseEstimator {
	return &CoarseEstimator{Params: params}
}

// YawCandidates returns the sweep angles in radians: k*step for k = 0..ceil(360/step)-1.
func YawCandidates(stepDeg float64) ([]float64, error) {
	if stepDeg <= 0 || stepDeg > 360 || math.IsNaN(stepDeg) {
		return nil, fmt.Errorf("yaw step %v degrees: %w", stepDeg, ErrInvalidInput)
	}
	count := int(math.Ceil(360/stepDeg - 1e-9))
	yaws := make([]float64, count)
	for k := range yaws {
		yaws[k] = float64(k) * stepDeg * math.Pi / 180
	}
	return yaws, nil
}

// Seeds scores every yaw candidate and returns all of them best first; equal
// scores keep yaw order.
func (ce *CoarseEstimator) Seeds(model, scan *PointCloud, up r3.Vector) ([]SeedPose, error) {
	if model.Len() == 0 || scan.Len() == 0 {
		return nil, fmt.Errorf("model has %d points, scan has %d: %w", model.Len(), scan.Len(), ErrNoSeedFound)
	}
	if up.Norm2() == 0 {
		return nil, fmt.Errorf("up vector is zero: %w", ErrInvalidInput)
	}
	yaws, err := YawCandidates(ce.Params.YawStepDeg)
	if err != nil {
		return nil, err
	}

	samples := ce.Params.EvalSamples
	if samples <= 0 {
		samples = DefaultCoarseParams().EvalSamples
	}
	probe := model.Subsample(samples).Points
	scanIndex := NewNearestIndex(scan.Points)

	maxDist := ce.Params.MaxEvalDistance
	if maxDist <= 0 {
		maxDist = math.Max(3*model.VoxelSize, 0.05*model.Diagonal())
	}
	maxDist = math.Max(maxDist, 1e-6)

	modelCentroid := model.Centroid()
	scanCentroid := scan.Centroid()
	toOrigin := Translation(modelCentroid.Mul(-1))
	toScan := Translation(scanCentroid)

	seeds := make([]SeedPose, len(yaws))
	for k, yaw := range yaws {
		// Rotate about the model centroid, then move the centroid onto the scan's
		pose := toScan.Mul(Rotation(up, yaw)).Mul(toOrigin)
		score, _, _ := InlierScore(TransformPoints(probe, pose), scanIndex, maxDist)
		seeds[k] = SeedPose{Pose: pose, Yaw: yaw, Score: score}
	}

	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].Score > seeds[j].Score })
	return seeds, nil
}

// InlierScore measures how well source overlaps the indexed target. Higher is
// better: fraction / (1 + avgInlierDist / (2*maxDist)), roughly 0..1.
// It also returns the inlier fraction and mean inlier distance.
func InlierScore(source []r3.Vector, target *NearestIndex, maxDist float64) (float64, float64, float64) {
	if len(source) == 0 || target.Len() == 0 {
		return 0, 0, math.MaxFloat64
	}
	inlierCount := 0
	totalDist := 0.0

	for _, p := range source {
		_, d, ok := target.Nearest(p)
		if ok && d <= maxDist {
			inlierCount++
			totalDist += d
		}
	}

	if inlierCount == 0 {
		return 0, 0, math.MaxFloat64
	}

	inlierFraction := float64(inlierCount) / float64(len(source))
	avgInlierDist := totalDist / float64(inlierCount)
	score := inlierFraction / (1.0 + avgInlierDist/(2*maxDist))

	return score, inlierFraction, avgInlierDist
}
