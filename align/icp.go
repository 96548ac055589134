package align

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"sort"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

// ICPParams configures one pyramid level of the refinement.
// Distances are in the same units as the input clouds.
type ICPParams struct {
	MaxIterations             int     `yaml:"maxIterations" json:"maxIterations"`                         // Iteration cap for this level
	MaxCorrespondenceDistance float64 `yaml:"maxCorrespondenceDistance" json:"maxCorrespondenceDistance"` // Pairs farther apart are ignored (+Inf for unbounded)
	MinNormalAlignment        float64 `yaml:"minNormalAlignment" json:"minNormalAlignment"`               // Minimum |cos| between normals; -1 disables the check
	TrimFraction              float64 `yaml:"trimFraction" json:"trimFraction"`                           // Keep this fraction of the closest pairs (0-1]
	RobustLossDelta           float64 `yaml:"robustLossDelta" json:"robustLossDelta"`                     // Huber delta; 0 disables robust weighting
}

// Validate rejects unusable level parameters
func (p ICPParams) Validate() error {
	if p.MaxIterations < 1 {
		return fmt.Errorf("maxIterations must be >= 1, got %d: %w", p.MaxIterations, ErrInvalidInput)
	}
	if !(p.MaxCorrespondenceDistance > 0) {
		return fmt.Errorf("maxCorrespondenceDistance must be positive, got %v: %w", p.MaxCorrespondenceDistance, ErrInvalidInput)
	}
	if p.MinNormalAlignment < -1 || p.MinNormalAlignment > 1 {
		return fmt.Errorf("minNormalAlignment must be within [-1, 1], got %v: %w", p.MinNormalAlignment, ErrInvalidInput)
	}
	if !(p.TrimFraction > 0 && p.TrimFraction <= 1) {
		return fmt.Errorf("trimFraction must be within (0, 1], got %v: %w", p.TrimFraction, ErrInvalidInput)
	}
	if p.RobustLossDelta < 0 {
		return fmt.Errorf("robustLossDelta must be >= 0, got %v: %w", p.RobustLossDelta, ErrInvalidInput)
	}
	return nil
}

// RefineMode selects the degrees of freedom solved for
type RefineMode int

const (
	// ModeFull solves a full 6-DoF rigid transform
	ModeFull RefineMode = iota
	// ModeYaw only rotates about the up axis (plus 3D translation)
	ModeYaw
)

// String returns the config name of the mode
func (m RefineMode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeYaw:
		return "yaw"
	default:
		return fmt.Sprintf("RefineMode(%d)", int(m))
	}
}

// ProgressEvent reports one completed ICP iteration for a seed.
// Iteration counts across all levels of that seed.
type ProgressEvent struct {
	Seed      int
	Level     int
	Iteration int
	RMSE      float64
}

// RefineOptions holds settings shared by all levels
type RefineOptions struct {
	Mode RefineMode
	Up   r3.Vector
	// Similarity additionally estimates a uniform scale
	Similarity bool
	// ConvergenceThreshold stops a level once the RMSE changes by less than this
	ConvergenceThreshold float64
	// MaxSeeds refines only the best ranked seeds; 0 refines all of them
	MaxSeeds int
	// Parallelism bounds concurrently refined seeds; 0 uses GOMAXPROCS
	Parallelism int
	// Progress is called after every iteration, possibly from several goroutines
	Progress func(ProgressEvent)
}

// DefaultRefineOptions returns full 6-DoF refinement with Z up
func DefaultRefineOptions() RefineOptions {
	return RefineOptions{
		Mode:                 ModeFull,
		Up:                   r3.Vector{Z: 1},
		ConvergenceThreshold: 1e-6,
	}
}

// RegistrationMetrics summarizes alignment quality. RMSE and InlierFraction
// come from the last pyramid level that found correspondences (the finest,
// unless it matched nothing). InlierFraction is the number of kept, trimmed
// pairs divided by the scan points of that level, not by the candidate
// correspondences, so it also drops when scan points find no model point
// within range.
type RegistrationMetrics struct {
	RMSE           float64 `json:"rmse"`
	InlierFraction float64 `json:"inlierFraction"`
	Iterations     int     `json:"iterations"`
}

// RegistrationResult is the transform to apply to the model's placement,
// mapping model coordinates into scan coordinates.
type RegistrationResult struct {
	Transform Matrix4             `json:"transform"`
	Metrics   RegistrationMetrics `json:"metrics"`
}

// RefineResult is the winning seed's registration
type RefineResult struct {
	RegistrationResult
	SeedIndex int      `json:"seedIndex"`
	Seed      SeedPose `json:"seed"`
}

// Refiner runs coarse-to-fine trimmed ICP from several seeds and keeps the
// lowest-RMSE outcome.
type Refiner struct {
	Options RefineOptions
}

// NewRefiner creates a refiner
func NewRefiner(opts RefineOptions) *Refiner {
	return &Refiner{Options: opts}
}

// seedOutcome is the per-seed refinement state. Seeds share nothing else.
type seedOutcome struct {
	pose    Matrix4 // scan -> model
	metrics RegistrationMetrics
	valid   bool
}

// Refine aligns the scan pyramid to the model pyramid starting from each
// seed. Seeds map model to scan; internally the scan is moved onto the model
// so the model kd-trees are built once per level and shared by all seeds.
func (r *Refiner) Refine(ctx context.Context, modelPyr, scanPyr Pyramid, seeds []SeedPose, params []ICPParams) (*RefineResult, error) {
	if len(modelPyr) == 0 || len(modelPyr) != len(scanPyr) || len(params) != len(modelPyr) {
		return nil, fmt.Errorf("model has %d levels, scan %d, params %d: %w",
			len(modelPyr), len(scanPyr), len(params), ErrInvalidInput)
	}
	for i, p := range params {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
	}
	if r.Options.Mode == ModeYaw && r.Options.Up.Norm2() == 0 {
		return nil, fmt.Errorf("yaw mode needs an up axis: %w", ErrInvalidInput)
	}
	if len(seeds) == 0 {
		return nil, ErrNoSeedFound
	}
	if r.Options.MaxSeeds > 0 && len(seeds) > r.Options.MaxSeeds {
		seeds = seeds[:r.Options.MaxSeeds]
	}

	indexes := make([]*NearestIndex, len(modelPyr))
	for i, level := range modelPyr {
		indexes[i] = NewNearestIndex(level.Points)
	}

	outcomes := make([]seedOutcome, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	limit := r.Options.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for i := range seeds {
		g.Go(func() error {
			out, err := r.refineSeed(gctx, i, seeds[i], modelPyr, scanPyr, indexes, params)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("refining seeds: %w", err)
	}

	best := -1
	for i, out := range outcomes {
		if !out.valid {
			continue
		}
		if best < 0 || out.metrics.RMSE < outcomes[best].metrics.RMSE {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%d seeds tried: %w", len(seeds), ErrNoCorrespondenceFound)
	}

	transform, ok := outcomes[best].pose.Inverse()
	if !ok {
		return nil, fmt.Errorf("seed %d produced a singular transform: %w", best, ErrNoCorrespondenceFound)
	}
	log.Printf("[ICP] best seed %d of %d: yaw=%.1f° rmse=%.5f inliers=%.2f iterations=%d",
		best, len(seeds), seeds[best].Yaw*180/math.Pi, outcomes[best].metrics.RMSE,
		outcomes[best].metrics.InlierFraction, outcomes[best].metrics.Iterations)

	return &RefineResult{
		RegistrationResult: RegistrationResult{
			Transform: transform,
			Metrics:   outcomes[best].metrics,
		},
		SeedIndex: best,
		Seed:      seeds[best],
	}, nil
}

// refineSeed runs all levels coarse to fine; each level starts from the
// previous level's pose.
func (r *Refiner) refineSeed(ctx context.Context, seedIdx int, seed SeedPose, modelPyr, scanPyr Pyramid, indexes []*NearestIndex, params []ICPParams) (seedOutcome, error) {
	pose, ok := seed.Pose.Inverse()
	if !ok {
		return seedOutcome{}, nil
	}
	out := seedOutcome{pose: pose}

	for level := range params {
		progress := func(iter int, rmse float64) {
			if r.Options.Progress != nil {
				r.Options.Progress(ProgressEvent{
					Seed:      seedIdx,
					Level:     level,
					Iteration: out.metrics.Iterations + iter,
					RMSE:      rmse,
				})
			}
		}
		newPose, stats, err := r.runLevel(ctx, out.pose, scanPyr[level], modelPyr[level], indexes[level], params[level], progress)
		if err != nil {
			return seedOutcome{}, err
		}
		out.pose = newPose
		out.metrics.Iterations += stats.iterations
		if stats.matched {
			out.valid = true
			out.metrics.RMSE = stats.rmse
			out.metrics.InlierFraction = float64(stats.kept) / float64(scanPyr[level].Len())
		}
	}
	return out, nil
}

// levelStats describes the last iteration of a level
type levelStats struct {
	iterations int
	rmse       float64
	kept       int
	matched    bool
}

// runLevel iterates correspondence search, trimming, weighted solve and
// composition until the iteration cap or convergence.
func (r *Refiner) runLevel(ctx context.Context, pose Matrix4, scan, model *PointCloud, index *NearestIndex, params ICPParams, progress func(int, float64)) (Matrix4, levelStats, error) {
	var stats levelStats
	prevRMSE := math.Inf(1)

	for iter := 0; iter < params.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return pose, stats, err
		}

		corrs := findCorrespondences(scan, model, index, pose, params)
		if len(corrs) == 0 {
			break
		}
		kept := trimCorrespondences(corrs, params.TrimFraction)
		weights := huberWeights(kept, params.RobustLossDelta)

		increment, _ := solveIncrement(kept, weights, r.Options.Mode, r.Options.Up, r.Options.Similarity)
		pose = increment.Mul(pose)
		rmse := correspondenceRMSE(kept, increment)

		stats.iterations++
		stats.rmse = rmse
		stats.kept = len(kept)
		stats.matched = true
		progress(stats.iterations, rmse)

		if math.Abs(prevRMSE-rmse) < r.Options.ConvergenceThreshold {
			break
		}
		prevRMSE = rmse
	}
	return pose, stats, nil
}

// findCorrespondences pairs every scan point, moved by pose, with its nearest
// model point within the level's distance and normal gates.
func findCorrespondences(scan, model *PointCloud, index *NearestIndex, pose Matrix4, params ICPParams) []correspondence {
	useNormals := params.MinNormalAlignment > -1 && scan.HasNormals() && model.HasNormals()
	corrs := make([]correspondence, 0, scan.Len())

	for i, p := range scan.Points {
		q := pose.Apply(p)
		j, d, ok := index.Nearest(q)
		if !ok || d > params.MaxCorrespondenceDistance {
			continue
		}
		if useNormals {
			// PCA normals are sign-ambiguous, so compare unsigned
			n := pose.ApplyDirection(scan.Normals[i])
			if math.Abs(n.Dot(model.Normals[j])) < params.MinNormalAlignment {
				continue
			}
		}
		corrs = append(corrs, correspondence{src: q, dst: model.Points[j], dist: d})
	}
	return corrs
}

// trimCorrespondences keeps the ceil(fraction*n) closest pairs, never fewer
// than min(3, n).
func trimCorrespondences(corrs []correspondence, fraction float64) []correspondence {
	sorted := make([]correspondence, len(corrs))
	copy(sorted, corrs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	keep := int(math.Ceil(fraction * float64(len(sorted))))
	if floor := min(3, len(sorted)); keep < floor {
		keep = floor
	}
	if keep > len(sorted) {
		keep = len(sorted)
	}
	return sorted[:keep]
}
