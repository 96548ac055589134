package align

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// DefaultMinPoints is the smallest cloud either side may have
const DefaultMinPoints = 100

// FastProgress reports an iteration of the interactive registration
type FastProgress struct {
	Iteration     int     `json:"iteration"`
	MaxIterations int     `json:"maxIterations"`
	RMSE          float64 `json:"rmse"`
}

// ModelRegistrationService is the single-resolution registration path for
// interactive use: a yaw sweep followed by yaw-constrained ICP with
// unbounded nearest-neighbour matching, no normal gate and no trimming.
// The zero value is usable: Balanced quality, Z up, uniform sampling.
type ModelRegistrationService struct {
	Quality    Quality
	MinPoints  int
	Up         r3.Vector
	YawStepDeg float64
	Similarity bool

	sampler *Sampler
}

// NewModelRegistrationService creates a service for the given preset, Z up
func NewModelRegistrationService(q Quality) *ModelRegistrationService {
	return &ModelRegistrationService{
		Quality:    q,
		MinPoints:  DefaultMinPoints,
		Up:         r3.Vector{Z: 1},
		YawStepDeg: DefaultCoarseParams().YawStepDeg,
		sampler:    NewSampler(SampleUniform, 1),
	}
}

// ExtractPointCloud samples a mesh surface
func (s *ModelRegistrationService) ExtractPointCloud(mesh *Mesh, sampleCount int) (*PointCloud, error) {
	sampler := s.sampler
	if sampler == nil {
		sampler = NewSampler(SampleUniform, 1)
	}
	return sampler.Extract(mesh, sampleCount)
}

// Register samples both meshes with the preset's counts and registers them.
func (s *ModelRegistrationService) Register(ctx context.Context, model, scan *Mesh, progress func(FastProgress)) (*RegistrationResult, error) {
	qp := s.Quality.Params()
	modelCloud, err := s.ExtractPointCloud(model, qp.ModelSampleCount)
	if err != nil {
		return nil, fmt.Errorf("sampling model: %w", err)
	}
	scanCloud, err := s.ExtractPointCloud(scan, qp.ScanSampleCount)
	if err != nil {
		return nil, fmt.Errorf("sampling scan: %w", err)
	}
	return s.RegisterModels(ctx, modelCloud.Points, scanCloud.Points, qp.MaxIterations, qp.ConvergenceThreshold, progress)
}

// RegisterModels aligns model points to scan points. The returned transform
// maps model coordinates into the scan frame.
func (s *ModelRegistrationService) RegisterModels(ctx context.Context, model, scan []r3.Vector, maxIterations int, convergenceThreshold float64, progress func(FastProgress)) (*RegistrationResult, error) {
	minPoints := s.MinPoints
	if minPoints <= 0 {
		minPoints = DefaultMinPoints
	}
	if len(model) < minPoints || len(scan) < minPoints {
		return nil, fmt.Errorf("model has %d points, scan %d, need %d: %w", len(model), len(scan), minPoints, ErrInsufficientGeometry)
	}
	if maxIterations < 1 {
		return nil, fmt.Errorf("maxIterations %d: %w", maxIterations, ErrInvalidInput)
	}
	modelCloud, err := NewPointCloud(model, nil)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	scanCloud, err := NewPointCloud(scan, nil)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	up := s.Up
	if up.Norm2() == 0 {
		up = r3.Vector{Z: 1}
	}
	step := s.YawStepDeg
	if step <= 0 {
		step = DefaultCoarseParams().YawStepDeg
	}

	seeds, err := NewCoarseEstimator(CoarseParams{YawStepDeg: step}).Seeds(modelCloud, scanCloud, up)
	if err != nil {
		return nil, err
	}

	level := ICPParams{
		MaxIterations:             maxIterations,
		MaxCorrespondenceDistance: math.Inf(1),
		MinNormalAlignment:        -1,
		TrimFraction:              1,
	}
	opts := RefineOptions{
		Mode:                 ModeYaw,
		Up:                   up,
		Similarity:           s.Similarity,
		ConvergenceThreshold: convergenceThreshold,
		Parallelism:          1,
	}
	if progress != nil {
		opts.Progress = func(ev ProgressEvent) {
			progress(FastProgress{Iteration: ev.Iteration, MaxIterations: maxIterations, RMSE: ev.RMSE})
		}
	}

	result, err := NewRefiner(opts).Refine(ctx, Pyramid{modelCloud}, Pyramid{scanCloud}, seeds[:1], []ICPParams{level})
	if err != nil {
		return nil, err
	}
	return &result.RegistrationResult, nil
}
