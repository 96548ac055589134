package align

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r3"
)

// Config represents the full configuration file
type Config struct {
	MQTT         MQTTConfig         `yaml:"mqtt" json:"mqtt"`
	Registration RegistrationConfig `yaml:"registration" json:"registration"`
	Pairings     []PairingConfig    `yaml:"pairings" json:"pairings"`
	CachePath    string             `yaml:"cachePath,omitempty" json:"cachePath,omitempty"` // Registration cache file (default .registration-cache.json)
	HTTPPort     int                `yaml:"httpPort,omitempty" json:"httpPort,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// RegistrationConfig selects the quality preset and engine options.
// Pyramid and Levels override what the preset derives.
type RegistrationConfig struct {
	Up          []float64      `yaml:"up,flow,omitempty" json:"up,omitempty"`
	Quality     Quality        `yaml:"quality" json:"quality"`
	Mode        string         `yaml:"mode,omitempty" json:"mode,omitempty"` // "full" or "yaw"
	Similarity  bool           `yaml:"similarity,omitempty" json:"similarity,omitempty"`
	YawStepDeg  float64        `yaml:"yawStepDeg,omitempty" json:"yawStepDeg,omitempty"`
	MaxSeeds    int            `yaml:"maxSeeds,omitempty" json:"maxSeeds,omitempty"`
	Parallelism int            `yaml:"parallelism,omitempty" json:"parallelism,omitempty"`
	MinPoints   int            `yaml:"minPoints,omitempty" json:"minPoints,omitempty"`
	SampleMode  string         `yaml:"sampleMode,omitempty" json:"sampleMode,omitempty"` // "uniform" or "random"
	Pyramid     *PyramidParams `yaml:"pyramid,omitempty" json:"pyramid,omitempty"`
	Levels      []ICPParams    `yaml:"levels,omitempty" json:"levels,omitempty"`
}

// PairingConfig binds a reference model to the scans that should be aligned to it
type PairingConfig struct {
	ID          string `yaml:"id" json:"id"`
	Model       string `yaml:"model" json:"model"`                             // Mesh file (.obj, .json)
	Scan        string `yaml:"scan,omitempty" json:"scan,omitempty"`           // Scan file for CLI runs
	ScanTopic   string `yaml:"scanTopic,omitempty" json:"scanTopic,omitempty"` // MQTT topic delivering scans
	SampleCount int    `yaml:"sampleCount,omitempty" json:"sampleCount,omitempty"`
}

// DefaultConfig returns a config with the balanced preset and no pairings
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			PublishPrefix: "meshalign",
			ClientID:      "meshalign",
		},
		Registration: RegistrationConfig{
			Up:         []float64{0, 0, 1},
			Quality:    Balanced(),
			Mode:       ModeFull.String(),
			YawStepDeg: DefaultCoarseParams().YawStepDeg,
			MinPoints:  DefaultMinPoints,
			SampleMode: SampleUniform.String(),
		},
	}
}

// GetPairing returns the pairing with the given ID
func (c *Config) GetPairing(id string) *PairingConfig {
	for i := range c.Pairings {
		if c.Pairings[i].ID == id {
			return &c.Pairings[i]
		}
	}
	return nil
}

// UpVector returns the configured up axis, +Z when unset
func (rc RegistrationConfig) UpVector() (r3.Vector, error) {
	if len(rc.Up) == 0 {
		return r3.Vector{Z: 1}, nil
	}
	if len(rc.Up) != 3 {
		return r3.Vector{}, fmt.Errorf("registration.up needs 3 components, got %d: %w", len(rc.Up), ErrInvalidInput)
	}
	up := r3.Vector{X: rc.Up[0], Y: rc.Up[1], Z: rc.Up[2]}
	if up.Norm2() == 0 || !isFinite(up) {
		return r3.Vector{}, fmt.Errorf("registration.up %v: %w", rc.Up, ErrInvalidInput)
	}
	return up.Normalize(), nil
}

// RefineMode parses the configured mode
func (rc RegistrationConfig) RefineMode() (RefineMode, error) {
	switch strings.ToLower(rc.Mode) {
	case "", "full":
		return ModeFull, nil
	case "yaw":
		return ModeYaw, nil
	default:
		return ModeFull, fmt.Errorf("registration.mode %q: %w", rc.Mode, ErrInvalidInput)
	}
}

// ParseSampleMode parses a sampler mode name
func ParseSampleMode(name string) (SampleMode, error) {
	switch strings.ToLower(name) {
	case "", "uniform":
		return SampleUniform, nil
	case "random":
		return SampleRandom, nil
	default:
		return SampleUniform, fmt.Errorf("sample mode %q: %w", name, ErrInvalidInput)
	}
}

// CoordinatorConfig resolves the registration settings into engine parameters
func (rc RegistrationConfig) CoordinatorConfig() (CoordinatorConfig, error) {
	cfg := DefaultCoordinatorConfig()
	cfg.Quality = rc.Quality
	cfg.Pyramid = rc.Quality.Pyramid()
	if rc.Pyramid != nil {
		cfg.Pyramid = *rc.Pyramid
	}
	if err := cfg.Pyramid.Validate(); err != nil {
		return cfg, fmt.Errorf("registration.pyramid: %w", err)
	}

	up, err := rc.UpVector()
	if err != nil {
		return cfg, err
	}
	mode, err := rc.RefineMode()
	if err != nil {
		return cfg, err
	}
	sampleMode, err := ParseSampleMode(rc.SampleMode)
	if err != nil {
		return cfg, err
	}

	if rc.YawStepDeg != 0 {
		cfg.Coarse.YawStepDeg = rc.YawStepDeg
	}
	if _, err := YawCandidates(cfg.Coarse.YawStepDeg); err != nil {
		return cfg, fmt.Errorf("registration.yawStepDeg: %w", err)
	}

	cfg.Refine.Up = up
	cfg.Refine.Mode = mode
	cfg.Refine.Similarity = rc.Similarity
	cfg.Refine.MaxSeeds = rc.MaxSeeds
	cfg.Refine.Parallelism = rc.Parallelism
	cfg.Refine.ConvergenceThreshold = rc.Quality.Params().ConvergenceThreshold
	cfg.SampleMode = sampleMode
	if rc.MinPoints > 0 {
		cfg.MinPoints = rc.MinPoints
	}

	if len(rc.Levels) > 0 {
		if len(rc.Levels) != cfg.Pyramid.Levels {
			return cfg, fmt.Errorf("registration.levels has %d entries for %d pyramid levels: %w",
				len(rc.Levels), cfg.Pyramid.Levels, ErrInvalidInput)
		}
		for i, lp := range rc.Levels {
			if err := lp.Validate(); err != nil {
				return cfg, fmt.Errorf("registration.levels[%d]: %w", i, err)
			}
		}
		cfg.Levels = rc.Levels
	}
	return cfg, nil
}

// FastService builds the interactive registration service for these settings
func (rc RegistrationConfig) FastService() (*ModelRegistrationService, error) {
	up, err := rc.UpVector()
	if err != nil {
		return nil, err
	}
	s := NewModelRegistrationService(rc.Quality)
	s.Up = up
	s.Similarity = rc.Similarity
	if rc.YawStepDeg != 0 {
		s.YawStepDeg = rc.YawStepDeg
	}
	if rc.MinPoints > 0 {
		s.MinPoints = rc.MinPoints
	}
	return s, nil
}
