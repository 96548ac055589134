package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/kwv/meshalign/align"
)

const (
	defaultConfigFile = "config.yaml"
	defaultHTTPPort   = 8080
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *align.Config
	Cache      *align.RegistrationCache
	Tracker    *align.StatusTracker
	MQTTClient *align.MQTTClient
	Publisher  *align.Publisher

	opts AppOptions
	out  io.Writer

	cacheMu sync.Mutex
	modelMu sync.Mutex
	models  map[string]*align.PointCloud // sampled model clouds by pairing
	wg      sync.WaitGroup               // in-flight service attempts

	// intakeMu guards intakeClosed and every wg.Add, so shutdown can close
	// intake and then Wait without racing a late scan.
	intakeMu     sync.Mutex
	intakeClosed bool
}

// job names one model/scan pair to work on
type job struct {
	pairingID   string
	modelPath   string
	scanPath    string
	sampleCount int
}

// alignment is one finished coordinator attempt
type alignment struct {
	ID          string
	Result      align.RegistrationResult
	Diagnostics align.Diagnostics
	Model       *align.PointCloud // finest model level
	Scan        *align.PointCloud // finest scan level
}

// NewApp creates a new App writing its reports to out
func NewApp(out io.Writer) *App {
	return &App{
		Tracker: align.NewStatusTracker(),
		out:     out,
		models:  make(map[string]*align.PointCloud),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig reads the config file once. A missing default config.yaml
// falls back to the built-in defaults so single-file runs need no config.
func (a *App) loadConfig() error {
	if a.Config != nil {
		return nil
	}
	path := a.opts.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}

	var cfg *align.Config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigFile {
		log.Printf("No %s found, using defaults", path)
		cfg = align.DefaultConfig()
	} else {
		cfg, err = align.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w (looked at %s)", err, path)
		}
		log.Printf("Loaded config from %s", path)
	}

	if a.opts.Quality != "" {
		q, err := align.ParseQuality(a.opts.Quality)
		if err != nil {
			return err
		}
		cfg.Registration.Quality = q
	}
	a.Config = cfg
	return nil
}

func (a *App) cachePath() string {
	switch {
	case a.opts.CachePath != "":
		return a.opts.CachePath
	case a.Config != nil && a.Config.CachePath != "":
		return a.Config.CachePath
	}
	return align.DefaultCachePath
}

func (a *App) httpPort() int {
	switch {
	case a.opts.HttpPort > 0:
		return a.opts.HttpPort
	case a.Config != nil && a.Config.HTTPPort > 0:
		return a.Config.HTTPPort
	}
	return defaultHTTPPort
}

// ensureCache loads the registration cache on first use. Callers hold cacheMu.
func (a *App) ensureCache() {
	if a.Cache != nil {
		return
	}
	path := a.cachePath()
	cache, err := align.LoadCache(path)
	if err != nil {
		log.Printf("[CACHE] Warning: failed to load %s: %v", path, err)
	}
	if cache == nil {
		cache = align.NewRegistrationCache()
	} else {
		log.Printf("[CACHE] Loaded %d registrations from %s", len(cache.Pairings), path)
	}
	a.Cache = cache
}

// resolveJob combines --pairing with the --model and --scan overrides
func (a *App) resolveJob(needScan bool) (job, error) {
	var j job
	if a.opts.Pairing != "" {
		p := a.Config.GetPairing(a.opts.Pairing)
		if p == nil {
			return j, fmt.Errorf("pairing %q not found in config", a.opts.Pairing)
		}
		j = job{pairingID: p.ID, modelPath: p.Model, scanPath: p.Scan, sampleCount: p.SampleCount}
	}
	if a.opts.ModelFile != "" {
		j.modelPath = a.opts.ModelFile
	}
	if a.opts.ScanFile != "" {
		j.scanPath = a.opts.ScanFile
	}
	if j.modelPath == "" {
		return j, errors.New("no model given: use --model or --pairing")
	}
	if needScan && j.scanPath == "" {
		return j, errors.New("no scan given: use --scan or a pairing with a scan file")
	}
	if j.pairingID == "" {
		base := filepath.Base(j.modelPath)
		j.pairingID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return j, nil
}

// modelCloud samples the pairing's model once and reuses it afterwards
func (a *App) modelCloud(ctx context.Context, j job, cfg align.CoordinatorConfig) (*align.PointCloud, error) {
	a.modelMu.Lock()
	defer a.modelMu.Unlock()

	if cloud, ok := a.models[j.pairingID]; ok {
		return cloud, nil
	}
	m, err := align.LoadMesh(ctx, j.modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", j.modelPath, err)
	}
	n := j.sampleCount
	if n <= 0 {
		n = cfg.Quality.Params().ModelSampleCount
	}
	cloud, err := align.NewSampler(cfg.SampleMode, cfg.SampleSeed).Extract(m, n)
	if err != nil {
		return nil, fmt.Errorf("sampling model %s: %w", j.modelPath, err)
	}
	log.Printf("[ALIGN] %s: sampled %d model points from %s", j.pairingID, cloud.Len(), j.modelPath)
	a.models[j.pairingID] = cloud
	return cloud, nil
}

// alignScan runs one coordinator attempt and measures its outcome
func (a *App) alignScan(ctx context.Context, cfg align.CoordinatorConfig, model *align.PointCloud, scan *align.Scan, observers ...align.Observer) (*alignment, error) {
	coord := align.NewCoordinator(cfg, observers...)
	if err := coord.LoadModelCloud(ctx, model); err != nil {
		return nil, err
	}
	result, err := coord.Align(ctx, scan.Points, scan.Up)
	if err != nil {
		return nil, err
	}

	finestModel := coord.ModelPyramid().Finest()
	finestScan := coord.ScanPyramid().Finest()
	diag := align.Diagnose(finestModel, finestScan, result.RegistrationResult, scan.Up.Normalize(), 2*cfg.Pyramid.FinestVoxel)
	return &alignment{
		ID:          coord.ID(),
		Result:      result.RegistrationResult,
		Diagnostics: diag,
		Model:       finestModel,
		Scan:        finestScan,
	}, nil
}

// storeResult records a registration in the cache file
func (a *App) storeResult(pairingID, attemptID, quality string, result align.RegistrationResult, modelPoints, scanPoints int) error {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()

	a.ensureCache()
	a.Cache.Update(pairingID, align.CachedRegistration{
		AttemptID:   attemptID,
		Transform:   result.Transform,
		Metrics:     result.Metrics,
		Quality:     quality,
		ModelPoints: modelPoints,
		ScanPoints:  scanPoints,
		LastUpdated: time.Now().Unix(),
	})
	path := a.cachePath()
	if err := align.SaveCache(path, a.Cache); err != nil {
		return fmt.Errorf("saving cache: %w", err)
	}
	log.Printf("[CACHE] Saved %s to %s", pairingID, path)
	return nil
}

// progressPrinter reports phase changes and every 25th ICP iteration
func (a *App) progressPrinter() align.Observer {
	var last align.Phase
	return func(s align.AlignmentState) {
		if s.Phase == align.PhaseICPRefinement && s.Phase == last && s.Iterations%25 != 0 {
			return
		}
		last = s.Phase
		fmt.Fprintf(a.out, "  %s\n", s)
	}
}

func (a *App) printResult(pairingID string, result align.RegistrationResult, diag align.Diagnostics) {
	fmt.Fprintf(a.out, "\n=== %s ===\n", pairingID)
	fmt.Fprintf(a.out, "RMSE:            %.5f\n", result.Metrics.RMSE)
	fmt.Fprintf(a.out, "Inlier fraction: %.1f%%\n", result.Metrics.InlierFraction*100)
	fmt.Fprintf(a.out, "Iterations:      %d\n", result.Metrics.Iterations)
	fmt.Fprintf(a.out, "Yaw:             %.2f°\n", diag.YawDeg)
	if diag.Scale != 1 {
		fmt.Fprintf(a.out, "Scale:           %.4f\n", diag.Scale)
	}
	t := result.Transform.Offset()
	fmt.Fprintf(a.out, "Translation:     (%.4f, %.4f, %.4f)\n", t.X, t.Y, t.Z)
	fmt.Fprintf(a.out, "Residuals:       mean %.5f, median %.5f, std %.5f\n", diag.MeanResidual, diag.MedianResidual, diag.StdResidual)
	fmt.Fprintf(a.out, "Footprint overlap: %.1f%%\n", diag.FootprintOverlap*100)
}

// RunInspect prints cloud summaries and the pyramid each would produce
func (a *App) RunInspect() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	ctx := context.Background()
	j, err := a.resolveJob(false)
	if err != nil {
		return err
	}
	cfg, err := a.Config.Registration.CoordinatorConfig()
	if err != nil {
		return err
	}

	model, err := a.modelCloud(ctx, j, cfg)
	if err != nil {
		return err
	}
	up := cfg.Refine.Up
	fmt.Fprintf(a.out, "=== %s (%s) ===\n", j.pairingID, cfg.Quality)
	a.printCloud("Model", j.modelPath, model, up, cfg.Pyramid)

	if j.scanPath == "" {
		return nil
	}
	scan, err := align.LoadScan(ctx, j.scanPath)
	if err != nil {
		return fmt.Errorf("loading scan %s: %w", j.scanPath, err)
	}
	cloud, err := align.NewPointCloud(scan.Points, nil)
	if err != nil {
		return fmt.Errorf("scan %s: %w", j.scanPath, err)
	}
	a.printCloud("Scan", j.scanPath, cloud, scan.Up, cfg.Pyramid)
	return nil
}

func (a *App) printCloud(label, path string, cloud *align.PointCloud, up r3.Vector, params align.PyramidParams) {
	s := align.Summarize(cloud)
	fmt.Fprintf(a.out, "\n%s: %s\n", label, path)
	fmt.Fprintf(a.out, "  Points:   %d\n", s.Points)
	fmt.Fprintf(a.out, "  Bounds:   (%.3f, %.3f, %.3f) - (%.3f, %.3f, %.3f)\n", s.Min.X, s.Min.Y, s.Min.Z, s.Max.X, s.Max.Y, s.Max.Z)
	fmt.Fprintf(a.out, "  Diagonal: %.3f\n", s.Diagonal)
	fmt.Fprintf(a.out, "  Footprint area: %.3f\n", align.FootprintArea(cloud.Points, up))

	pyr, err := align.NewPreprocessor().BuildPyramid(context.Background(), cloud.Points, up, params)
	if err != nil {
		fmt.Fprintf(a.out, "  Pyramid:  %v\n", err)
		return
	}
	for i, level := range pyr {
		fmt.Fprintf(a.out, "  Level %d:  voxel %.3f, %d points\n", i, level.VoxelSize, level.Len())
	}
}

// RunAlign runs the full coarse-to-fine registration for one pairing
func (a *App) RunAlign() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := a.resolveJob(true)
	if err != nil {
		return err
	}
	cfg, err := a.Config.Registration.CoordinatorConfig()
	if err != nil {
		return err
	}
	model, err := a.modelCloud(ctx, j, cfg)
	if err != nil {
		return err
	}
	scan, err := align.LoadScan(ctx, j.scanPath)
	if err != nil {
		return fmt.Errorf("loading scan %s: %w", j.scanPath, err)
	}

	fmt.Fprintf(a.out, "Aligning %s (%d scan points, %s)\n", j.pairingID, len(scan.Points), cfg.Quality)
	al, err := a.alignScan(ctx, cfg, model, scan, a.progressPrinter())
	if err != nil {
		return fmt.Errorf("alignment failed (%s): %w", align.FailureKindOf(err), err)
	}
	a.printResult(j.pairingID, al.Result, al.Diagnostics)
	return a.storeResult(j.pairingID, al.ID, cfg.Quality.String(), al.Result, model.Len(), len(scan.Points))
}

// RunFast runs the single-resolution interactive registration
func (a *App) RunFast() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := a.resolveJob(true)
	if err != nil {
		return err
	}
	svc, err := a.Config.Registration.FastService()
	if err != nil {
		return err
	}
	qp := svc.Quality.Params()

	m, err := align.LoadMesh(ctx, j.modelPath)
	if err != nil {
		return fmt.Errorf("loading model %s: %w", j.modelPath, err)
	}
	n := j.sampleCount
	if n <= 0 {
		n = qp.ModelSampleCount
	}
	model, err := svc.ExtractPointCloud(m, n)
	if err != nil {
		return fmt.Errorf("sampling model %s: %w", j.modelPath, err)
	}

	scan, err := align.LoadScan(ctx, j.scanPath)
	if err != nil {
		return fmt.Errorf("loading scan %s: %w", j.scanPath, err)
	}
	scanCloud, err := align.NewPointCloud(scan.Points, nil)
	if err != nil {
		return fmt.Errorf("scan %s: %w", j.scanPath, err)
	}
	scanCloud = scanCloud.Subsample(qp.ScanSampleCount)
	svc.Up = scan.Up.Normalize()

	fmt.Fprintf(a.out, "Fast registration of %s (%d model, %d scan points)\n", j.pairingID, model.Len(), scanCloud.Len())
	result, err := svc.RegisterModels(ctx, model.Points, scanCloud.Points, qp.MaxIterations, qp.ConvergenceThreshold, func(p align.FastProgress) {
		if p.Iteration%10 == 0 {
			fmt.Fprintf(a.out, "  iteration %d/%d, rmse %.5f\n", p.Iteration, p.MaxIterations, p.RMSE)
		}
	})
	if err != nil {
		return fmt.Errorf("registration failed (%s): %w", align.FailureKindOf(err), err)
	}

	diag := align.Diagnose(model, scanCloud, *result, svc.Up, 2*svc.Quality.Pyramid().FinestVoxel)
	a.printResult(j.pairingID, *result, diag)
	return a.storeResult(j.pairingID, uuid.NewString(), svc.Quality.String(), *result, model.Len(), scanCloud.Len())
}

// RunRender writes the overlay of the placed model over the scan
func (a *App) RunRender() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := a.resolveJob(true)
	if err != nil {
		return err
	}
	cfg, err := a.Config.Registration.CoordinatorConfig()
	if err != nil {
		return err
	}
	model, err := a.modelCloud(ctx, j, cfg)
	if err != nil {
		return err
	}
	scan, err := align.LoadScan(ctx, j.scanPath)
	if err != nil {
		return fmt.Errorf("loading scan %s: %w", j.scanPath, err)
	}
	scanCloud, err := align.NewPointCloud(scan.Points, nil)
	if err != nil {
		return fmt.Errorf("scan %s: %w", j.scanPath, err)
	}

	var (
		transform align.Matrix4
		metrics   *align.RegistrationMetrics
	)
	if !a.opts.Recompute {
		a.cacheMu.Lock()
		a.ensureCache()
		entry, ok := a.Cache.Get(j.pairingID)
		a.cacheMu.Unlock()
		if ok {
			log.Printf("[CACHE] Using cached registration for %s (attempt %s)", j.pairingID, entry.AttemptID)
			transform = entry.Transform
			metrics = &entry.Metrics
		}
	}
	if metrics == nil {
		al, err := a.alignScan(ctx, cfg, model, scan, a.progressPrinter())
		if err != nil {
			return fmt.Errorf("alignment failed (%s): %w", align.FailureKindOf(err), err)
		}
		transform = al.Result.Transform
		metrics = &al.Result.Metrics
		if err := a.storeResult(j.pairingID, al.ID, cfg.Quality.String(), al.Result, model.Len(), len(scan.Points)); err != nil {
			return err
		}
	}

	renderer := align.NewOverlayRenderer(model, scanCloud, transform, scan.Up)
	renderer.Metrics = metrics

	output := a.opts.OutputFile
	switch a.opts.Format {
	case "", "raster":
		err = renderer.SavePNG(output)
	case "svg":
		err = writeFile(output, renderer.RenderToSVG)
	case "png":
		err = writeFile(output, renderer.RenderToPNG)
	case "geojson":
		err = writeFile(output, renderer.RenderToGeoJSON)
	default:
		return fmt.Errorf("unknown format %q: use raster, svg, png or geojson", a.opts.Format)
	}
	if err != nil {
		return fmt.Errorf("rendering overlay: %w", err)
	}
	fmt.Fprintf(a.out, "Saved overlay to %s (%s)\n", output, renderer.Caption())
	return nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// handleScan starts one attempt per incoming scan. Scans that arrive while
// their pairing is still aligning are dropped.
func (a *App) handleScan(ctx context.Context) align.ScanHandler {
	return func(pairingID string, scan *align.Scan, err error) {
		if err != nil {
			log.Printf("[ALIGN] %s: dropping undecodable scan: %v", pairingID, err)
			return
		}
		a.intakeMu.Lock()
		if a.intakeClosed {
			a.intakeMu.Unlock()
			log.Printf("[ALIGN] %s: shutting down, dropping scan", pairingID)
			return
		}
		if !a.Tracker.TryStart(pairingID) {
			a.intakeMu.Unlock()
			log.Printf("[ALIGN] %s: attempt already running, dropping scan", pairingID)
			return
		}
		a.wg.Add(1)
		a.intakeMu.Unlock()
		go func() {
			defer a.wg.Done()
			defer a.Tracker.Finish(pairingID)
			if err := a.processScan(ctx, pairingID, scan); err != nil {
				log.Printf("[ALIGN] %s: %v", pairingID, err)
			}
		}()
	}
}

// stopIntake rejects further scans and waits for running attempts
func (a *App) stopIntake() {
	a.intakeMu.Lock()
	a.intakeClosed = true
	a.intakeMu.Unlock()
	a.wg.Wait()
}

// startMQTT publishes through client and then connects it. The publisher
// exists before the first scan can be delivered.
func (a *App) startMQTT(client *align.MQTTClient) {
	a.MQTTClient = client
	a.Publisher = align.NewPublisher(client.GetClient(), a.Config.MQTT.PublishPrefix)
	client.Start()
}

// processScan aligns a received scan against its pairing's model, then
// publishes and caches the result.
func (a *App) processScan(ctx context.Context, pairingID string, scan *align.Scan) error {
	pairing := a.Config.GetPairing(pairingID)
	if pairing == nil {
		return fmt.Errorf("unknown pairing %q", pairingID)
	}
	cfg, err := a.Config.Registration.CoordinatorConfig()
	if err != nil {
		return err
	}
	model, err := a.modelCloud(ctx, job{pairingID: pairing.ID, modelPath: pairing.Model, sampleCount: pairing.SampleCount}, cfg)
	if err != nil {
		a.Tracker.UpdateState(pairingID, align.AlignmentState{
			Phase:     align.PhaseFailed,
			Failure:   align.FailureKindOf(err),
			Message:   err.Error(),
			UpdatedAt: time.Now(),
		})
		return err
	}

	observers := []align.Observer{a.Tracker.Observer(pairingID)}
	if a.Publisher != nil {
		observers = append(observers, a.Publisher.Observer(pairingID))
	}
	log.Printf("[ALIGN] %s: aligning %d scan points", pairingID, len(scan.Points))
	al, err := a.alignScan(ctx, cfg, model, scan, observers...)
	if err != nil {
		return fmt.Errorf("alignment failed (%s): %w", align.FailureKindOf(err), err)
	}
	log.Printf("[ALIGN] %s: rmse %.5f, inliers %.1f%%, yaw %.1f°", pairingID,
		al.Result.Metrics.RMSE, al.Result.Metrics.InlierFraction*100, al.Diagnostics.YawDeg)

	a.Tracker.UpdateResult(pairingID, al.Result, &al.Diagnostics)
	a.Tracker.SetClouds(pairingID, al.Model, al.Scan)
	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(pairingID, al.ID, al.Result, &al.Diagnostics); err != nil {
			log.Printf("[MQTT] Error publishing result for %s: %v", pairingID, err)
		}
	}
	return a.storeResult(pairingID, al.ID, cfg.Quality.String(), al.Result, model.Len(), len(scan.Points))
}

// seedTracker shows cached registrations until fresh scans arrive
func (a *App) seedTracker() {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.ensureCache()

	for _, p := range a.Config.Pairings {
		entry, ok := a.Cache.Get(p.ID)
		if !ok {
			a.Tracker.UpdateState(p.ID, align.AlignmentState{Phase: align.PhaseIdle, UpdatedAt: time.Now()})
			continue
		}
		a.Tracker.UpdateResult(p.ID, align.RegistrationResult{Transform: entry.Transform, Metrics: entry.Metrics}, nil)
	}
}

// RunService runs MQTT scan intake and the HTTP status server until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.out, "Starting meshalign service...")
	if err := a.loadConfig(); err != nil {
		return err
	}
	a.seedTracker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.opts.MqttMode {
		client, err := align.NewMQTTClient(a.Config, a.handleScan(ctx))
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		a.startMQTT(client)
		fmt.Fprintln(a.out, "MQTT result publisher initialized")
	}

	var server *http.Server
	if a.opts.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.httpPort()),
			Handler:           newHTTPServer(a.Tracker, a.Config),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.out, "\nShutting down service...")
	cancel()
	a.stopIntake()
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")

	if a.opts.MqttMode && a.Publisher != nil {
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintln(a.out, "  Subscribed topics:")
		for _, p := range a.Config.Pairings {
			if p.ScanTopic != "" {
				fmt.Fprintf(a.out, "    - %s (%s)\n", p.ScanTopic, p.ID)
			}
		}
		fmt.Fprintf(a.out, "  Publishing state to:  %s\n", a.Publisher.StateTopic("{pairing}"))
		fmt.Fprintf(a.out, "  Publishing result to: %s\n", a.Publisher.ResultTopic("{pairing}"))
	}

	if a.opts.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.httpPort())
		fmt.Fprintln(a.out, "  GET /health                    - Health check")
		fmt.Fprintln(a.out, "  GET /status                    - Status of every pairing")
		fmt.Fprintln(a.out, "  GET /status/{pairing}          - Status of one pairing")
		fmt.Fprintln(a.out, "  GET /overlay.svg?pairing={id}  - Vector overlay of the last registration")
		fmt.Fprintln(a.out, "  GET /overlay.png?pairing={id}  - Raster overlay of the last registration")
		fmt.Fprintln(a.out, "  GET /overlay.geojson?pairing={id} - Footprints of the last registration")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
