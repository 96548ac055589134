package align

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// Phase is a stage of an alignment attempt
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseLoadingModel    Phase = "loadingModel"
	PhaseScanning        Phase = "scanning"
	PhasePreprocessing   Phase = "preprocessing"
	PhaseCoarseAlignment Phase = "coarseAlignment"
	PhaseICPRefinement   Phase = "icpRefinement"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
)

// AlignmentState is a snapshot of an attempt's progress
type AlignmentState struct {
	AttemptID  string      `json:"attemptId"`
	Phase      Phase       `json:"phase"`
	Level      int         `json:"level"`
	Levels     int         `json:"levels,omitempty"`
	Iterations int         `json:"iterations"`
	Failure    FailureKind `json:"failure,omitempty"`
	Message    string      `json:"message"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// IsTerminal reports whether the attempt has finished
func (s AlignmentState) IsTerminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseFailed
}

// String returns a human-readable description
func (s AlignmentState) String() string {
	if s.Message != "" {
		return s.Message
	}
	return describePhase(s)
}

func describePhase(s AlignmentState) string {
	switch s.Phase {
	case PhaseIdle:
		return "Waiting"
	case PhaseLoadingModel:
		return "Loading model"
	case PhaseScanning:
		return "Scanning"
	case PhasePreprocessing:
		return "Preprocessing scan"
	case PhaseCoarseAlignment:
		return "Searching initial pose"
	case PhaseICPRefinement:
		if s.Levels > 0 {
			return fmt.Sprintf("Refining level %d/%d (iteration %d)", s.Level+1, s.Levels, s.Iterations)
		}
		return fmt.Sprintf("Refining (iteration %d)", s.Iterations)
	case PhaseCompleted:
		return "Alignment complete"
	case PhaseFailed:
		return fmt.Sprintf("Alignment failed: %s", s.Failure)
	default:
		return string(s.Phase)
	}
}

// Observer receives every state transition of an attempt in order.
// It is called synchronously from the goroutine driving the attempt.
type Observer func(AlignmentState)

// ChannelObserver forwards states to ch. The receiver must keep draining
// ch or the attempt blocks.
func ChannelObserver(ch chan<- AlignmentState) Observer {
	return func(s AlignmentState) {
		ch <- s
	}
}

// CoordinatorConfig bundles the parameters of every pipeline stage
type CoordinatorConfig struct {
	Quality Quality
	Pyramid PyramidParams
	Coarse  CoarseParams
	Refine  RefineOptions
	// Levels overrides the per-level ICP parameters derived from Quality
	Levels     []ICPParams
	MinPoints  int
	SampleMode SampleMode
	SampleSeed int64
}

// DefaultCoordinatorConfig returns the balanced preset with full 6-DoF refinement
func DefaultCoordinatorConfig() CoordinatorConfig {
	q := Balanced()
	return CoordinatorConfig{
		Quality:   q,
		Pyramid:   q.Pyramid(),
		Coarse:    DefaultCoarseParams(),
		Refine:    DefaultRefineOptions(),
		MinPoints: DefaultMinPoints,
	}
}

// LevelParams returns the explicit level overrides or the preset's levels
func (cfg CoordinatorConfig) LevelParams() []ICPParams {
	if len(cfg.Levels) > 0 {
		return cfg.Levels
	}
	return cfg.Quality.LevelParams(cfg.Pyramid.VoxelSizes())
}

// Coordinator drives one alignment attempt through its phases. Stage methods
// are synchronous; run them on a worker goroutine. The coordinator is the
// only writer of its state; readers get copies.
type Coordinator struct {
	cfg          CoordinatorConfig
	id           string
	sampler      *Sampler
	preprocessor *Preprocessor
	coarse       *CoarseEstimator

	// notifyMu serializes transitions with their delivery so observers see
	// them in order.
	notifyMu sync.Mutex

	mu         sync.RWMutex
	state      AlignmentState
	busy       bool
	observers  []Observer
	modelPyr   Pyramid
	scanPyr    Pyramid
	scanUp     r3.Vector
	result     *RefineResult

	// progressMu orders refinement progress from concurrent seeds. Level is
	// the deepest level any seed has reached and iterations counts every
	// seed's iterations, so both only grow.
	progressMu sync.Mutex
	iterations int
	maxLevel   int
}

// NewCoordinator creates an idle attempt
func NewCoordinator(cfg CoordinatorConfig, observers ...Observer) *Coordinator {
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = DefaultMinPoints
	}
	if cfg.Refine.Up.Norm2() == 0 {
		cfg.Refine.Up = r3.Vector{Z: 1}
	}
	c := &Coordinator{
		cfg:          cfg,
		id:           uuid.NewString(),
		sampler:      NewSampler(cfg.SampleMode, cfg.SampleSeed),
		preprocessor: &Preprocessor{Parallelism: cfg.Refine.Parallelism},
		coarse:       NewCoarseEstimator(cfg.Coarse),
		observers:    observers,
	}
	c.state = AlignmentState{AttemptID: c.id, Phase: PhaseIdle, UpdatedAt: time.Now()}
	c.state.Message = describePhase(c.state)
	return c
}

// ID returns the attempt ID
func (c *Coordinator) ID() string {
	return c.id
}

// Subscribe adds an observer for subsequent transitions
func (c *Coordinator) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns the current state
func (c *Coordinator) State() AlignmentState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Result returns the registration once the attempt completed, nil otherwise
func (c *Coordinator) Result() *RefineResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

// ModelPyramid returns the prepared model pyramid, if any
func (c *Coordinator) ModelPyramid() Pyramid {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelPyr
}

// ScanPyramid returns the prepared scan pyramid, if any
func (c *Coordinator) ScanPyramid() Pyramid {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanPyr
}

// begin claims the attempt for a stage. allowed lists the resting phases the
// stage may start from.
func (c *Coordinator) begin(allowed ...Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return fmt.Errorf("attempt %s is %s: %w", c.id, c.state.Phase, ErrAttemptFinished)
	}
	if c.busy {
		return fmt.Errorf("attempt %s is %s: %w", c.id, c.state.Phase, ErrBusy)
	}
	for _, p := range allowed {
		if c.state.Phase == p {
			c.busy = true
			return nil
		}
	}
	return fmt.Errorf("cannot start from %s: %w", c.state.Phase, ErrBusy)
}

// transition records and delivers a new state
func (c *Coordinator) transition(s AlignmentState, release bool) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	prev := c.state.Phase
	s.AttemptID = c.id
	s.UpdatedAt = time.Now()
	if s.Message == "" {
		s.Message = describePhase(s)
	}
	c.state = s
	if release {
		c.busy = false
	}
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	if prev != s.Phase {
		log.Printf("[ALIGN] %s: %s -> %s", shortID(c.id), prev, s.String())
	}
	for _, o := range observers {
		o(s)
	}
}

// fail ends the attempt with err's failure kind and returns err
func (c *Coordinator) fail(err error) error {
	c.transition(AlignmentState{
		Phase:   PhaseFailed,
		Failure: FailureKindOf(err),
		Message: fmt.Sprintf("Alignment failed: %v", err),
	}, true)
	return err
}

// BeginScan marks that a capture is in progress
func (c *Coordinator) BeginScan() error {
	if err := c.begin(PhaseIdle); err != nil {
		return err
	}
	c.transition(AlignmentState{Phase: PhaseScanning}, true)
	return nil
}

// LoadModel samples the reference mesh and builds its pyramid
func (c *Coordinator) LoadModel(ctx context.Context, mesh *Mesh, sampleCount int) error {
	if err := c.begin(PhaseIdle); err != nil {
		return err
	}
	c.transition(AlignmentState{Phase: PhaseLoadingModel}, false)

	if sampleCount <= 0 {
		sampleCount = c.cfg.Quality.Params().ModelSampleCount
	}
	cloud, err := c.sampler.Extract(mesh, sampleCount)
	if err != nil {
		return c.fail(fmt.Errorf("sampling model: %w", err))
	}
	return c.prepareModel(ctx, cloud)
}

// LoadModelCloud builds the model pyramid from an already sampled cloud
func (c *Coordinator) LoadModelCloud(ctx context.Context, cloud *PointCloud) error {
	if err := c.begin(PhaseIdle); err != nil {
		return err
	}
	c.transition(AlignmentState{Phase: PhaseLoadingModel}, false)
	if err := cloud.Validate(); err != nil {
		return c.fail(fmt.Errorf("model cloud: %w", err))
	}
	return c.prepareModel(ctx, cloud)
}

func (c *Coordinator) prepareModel(ctx context.Context, cloud *PointCloud) error {
	if cloud.Len() < c.cfg.MinPoints {
		return c.fail(fmt.Errorf("model has %d points, need %d: %w", cloud.Len(), c.cfg.MinPoints, ErrInsufficientGeometry))
	}
	pyr, err := c.preprocessor.BuildPyramid(ctx, cloud.Points, c.cfg.Refine.Up, c.cfg.Pyramid)
	if err != nil {
		return c.fail(fmt.Errorf("model pyramid: %w", err))
	}

	c.mu.Lock()
	c.modelPyr = pyr
	c.mu.Unlock()
	c.transition(AlignmentState{Phase: PhaseIdle, Message: fmt.Sprintf("Model ready (%d points)", cloud.Len())}, true)
	return nil
}

// PreprocessScan builds the scan pyramid and returns to idle. Use Run to
// align afterwards, or Align to do both in one go.
func (c *Coordinator) PreprocessScan(ctx context.Context, raw []r3.Vector, up r3.Vector) error {
	if err := c.begin(PhaseIdle, PhaseScanning); err != nil {
		return err
	}
	if err := c.prepareScan(ctx, raw, up); err != nil {
		return err
	}
	c.transition(AlignmentState{Phase: PhaseIdle, Message: fmt.Sprintf("Scan ready (%d points)", len(raw))}, true)
	return nil
}

// Align preprocesses the scan and continues straight into coarse alignment
// and refinement. The model must already be loaded.
func (c *Coordinator) Align(ctx context.Context, raw []r3.Vector, up r3.Vector) (*RefineResult, error) {
	if c.ModelPyramid() == nil {
		if c.State().IsTerminal() {
			return nil, fmt.Errorf("attempt %s: %w", c.id, ErrAttemptFinished)
		}
		return nil, fmt.Errorf("model not loaded: %w", ErrNotReady)
	}
	if err := c.begin(PhaseIdle, PhaseScanning); err != nil {
		return nil, err
	}
	if err := c.prepareScan(ctx, raw, up); err != nil {
		return nil, err
	}
	return c.align(ctx)
}

func (c *Coordinator) prepareScan(ctx context.Context, raw []r3.Vector, up r3.Vector) error {
	c.transition(AlignmentState{Phase: PhasePreprocessing}, false)

	if up.Norm2() == 0 || !isFinite(up) {
		return c.fail(fmt.Errorf("scan up vector %v: %w", up, ErrInvalidInput))
	}
	if len(raw) < c.cfg.MinPoints {
		return c.fail(fmt.Errorf("scan has %d points, need %d: %w", len(raw), c.cfg.MinPoints, ErrInsufficientGeometry))
	}
	pyr, err := c.preprocessor.BuildPyramid(ctx, raw, up, c.cfg.Pyramid)
	if err != nil {
		return c.fail(fmt.Errorf("scan pyramid: %w", err))
	}

	c.mu.Lock()
	c.scanPyr = pyr
	c.scanUp = up.Normalize()
	c.mu.Unlock()
	return nil
}

// Run aligns a prepared scan to a loaded model. It fails with ErrNotReady,
// without changing state, if either is missing.
func (c *Coordinator) Run(ctx context.Context) (*RefineResult, error) {
	c.mu.RLock()
	ready := c.modelPyr != nil && c.scanPyr != nil
	terminal := c.state.IsTerminal()
	c.mu.RUnlock()
	if terminal {
		return nil, fmt.Errorf("attempt %s: %w", c.id, ErrAttemptFinished)
	}
	if !ready {
		return nil, fmt.Errorf("model and scan pyramids required: %w", ErrNotReady)
	}
	if err := c.begin(PhaseIdle, PhaseScanning); err != nil {
		return nil, err
	}
	return c.align(ctx)
}

// align runs coarse search and refinement; the caller holds the busy flag.
func (c *Coordinator) align(ctx context.Context) (*RefineResult, error) {
	c.mu.RLock()
	modelPyr, scanPyr, up := c.modelPyr, c.scanPyr, c.scanUp
	c.mu.RUnlock()

	c.transition(AlignmentState{Phase: PhaseCoarseAlignment}, false)
	if err := ctx.Err(); err != nil {
		return nil, c.fail(err)
	}
	seeds, err := c.coarse.Seeds(modelPyr.Coarsest(), scanPyr.Coarsest(), up)
	if err != nil {
		return nil, c.fail(fmt.Errorf("coarse alignment: %w", err))
	}

	levels := c.cfg.LevelParams()
	c.transition(AlignmentState{Phase: PhaseICPRefinement, Levels: len(levels)}, false)

	opts := c.cfg.Refine
	opts.Up = up
	opts.Progress = func(ev ProgressEvent) {
		c.progressMu.Lock()
		defer c.progressMu.Unlock()
		c.iterations++
		c.maxLevel = max(c.maxLevel, ev.Level)
		c.transition(AlignmentState{
			Phase:      PhaseICPRefinement,
			Level:      c.maxLevel,
			Levels:     len(levels),
			Iterations: c.iterations,
		}, false)
	}

	result, err := NewRefiner(opts).Refine(ctx, modelPyr, scanPyr, seeds, levels)
	if err != nil {
		return nil, c.fail(fmt.Errorf("refinement: %w", err))
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	c.progressMu.Lock()
	total := c.iterations
	c.progressMu.Unlock()
	// The completed state keeps the total over all seeds; the winning seed's
	// own count is in the result metrics.
	c.transition(AlignmentState{
		Phase:      PhaseCompleted,
		Level:      len(levels) - 1,
		Levels:     len(levels),
		Iterations: total,
		Message: fmt.Sprintf("Alignment complete: rmse=%.4f inliers=%.0f%% yaw=%.1f°",
			result.Metrics.RMSE, result.Metrics.InlierFraction*100,
			result.Transform.YawAbout(up)*180/math.Pi),
	}, true)

	r := *result
	return &r, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
