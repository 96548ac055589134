package align

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// QualityParams is the parameter bundle a quality preset resolves to
type QualityParams struct {
	ModelSampleCount     int     `yaml:"modelSampleCount" json:"modelSampleCount"`
	ScanSampleCount      int     `yaml:"scanSampleCount" json:"scanSampleCount"`
	MaxIterations        int     `yaml:"maxIterations" json:"maxIterations"`
	ConvergenceThreshold float64 `yaml:"convergenceThreshold" json:"convergenceThreshold"`
}

// Validate checks a custom bundle
func (p QualityParams) Validate() error {
	if p.ModelSampleCount <= 0 || p.ScanSampleCount <= 0 {
		return fmt.Errorf("sample counts must be positive (model %d, scan %d): %w",
			p.ModelSampleCount, p.ScanSampleCount, ErrInvalidInput)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("maxIterations must be >= 1, got %d: %w", p.MaxIterations, ErrInvalidInput)
	}
	if p.ConvergenceThreshold < 0 {
		return fmt.Errorf("convergenceThreshold must be >= 0, got %v: %w", p.ConvergenceThreshold, ErrInvalidInput)
	}
	return nil
}

type qualityKind int

const (
	qualityBalanced qualityKind = iota
	qualityFast
	qualityAccurate
	qualityCustom
)

// Quality is one of Fast, Balanced, Accurate or Custom. The zero value is Balanced.
type Quality struct {
	kind   qualityKind
	custom QualityParams
}

// Fast trades accuracy for latency
func Fast() Quality { return Quality{kind: qualityFast} }

// Balanced is the default preset
func Balanced() Quality { return Quality{kind: qualityBalanced} }

// Accurate uses more points, iterations and pyramid levels
func Accurate() Quality { return Quality{kind: qualityAccurate} }

// Custom wraps explicit parameters after validating them
func Custom(p QualityParams) (Quality, error) {
	if err := p.Validate(); err != nil {
		return Quality{}, err
	}
	return Quality{kind: qualityCustom, custom: p}, nil
}

// ParseQuality resolves a preset name
func ParseQuality(name string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fast":
		return Fast(), nil
	case "", "balanced":
		return Balanced(), nil
	case "accurate":
		return Accurate(), nil
	default:
		return Quality{}, fmt.Errorf("unknown quality preset %q: %w", name, ErrInvalidInput)
	}
}

// String returns the preset name
func (q Quality) String() string {
	switch q.kind {
	case qualityFast:
		return "fast"
	case qualityAccurate:
		return "accurate"
	case qualityCustom:
		return "custom"
	default:
		return "balanced"
	}
}

// IsCustom reports whether q carries explicit parameters
func (q Quality) IsCustom() bool {
	return q.kind == qualityCustom
}

// Params returns the sample counts and iteration settings of the preset
func (q Quality) Params() QualityParams {
	switch q.kind {
	case qualityFast:
		return QualityParams{ModelSampleCount: 2000, ScanSampleCount: 2000, MaxIterations: 20, ConvergenceThreshold: 1e-3}
	case qualityAccurate:
		return QualityParams{ModelSampleCount: 10000, ScanSampleCount: 10000, MaxIterations: 80, ConvergenceThreshold: 1e-5}
	case qualityCustom:
		return q.custom
	default:
		return QualityParams{ModelSampleCount: 5000, ScanSampleCount: 5000, MaxIterations: 40, ConvergenceThreshold: 1e-4}
	}
}

// Pyramid returns the preprocessing pyramid the preset refines over
func (q Quality) Pyramid() PyramidParams {
	p := DefaultPyramidParams()
	switch q.kind {
	case qualityFast:
		p.Levels = 2
		p.FinestVoxel = 0.1
	case qualityAccurate:
		p.Levels = 4
		p.FinestVoxel = 0.025
		p.NormalNeighbors = 16
	}
	return p
}

// LevelParams derives per-level ICP settings from the pyramid voxel sizes
// (coarsest first). The correspondence gate widens from 4 voxels at the
// finest level to 8 at the coarsest.
func (q Quality) LevelParams(voxelSizes []float64) []ICPParams {
	qp := q.Params()
	n := len(voxelSizes)
	params := make([]ICPParams, n)
	for i, v := range voxelSizes {
		coarseness := 0.0
		if n > 1 {
			coarseness = float64(n-1-i) / float64(n-1)
		}
		params[i] = ICPParams{
			MaxIterations:             qp.MaxIterations,
			MaxCorrespondenceDistance: v * (4 + 4*coarseness),
			MinNormalAlignment:        0.5,
			TrimFraction:              0.8,
			RobustLossDelta:           2 * v,
		}
	}
	return params
}

// qualityDoc is the serialized form of a custom preset
type qualityDoc struct {
	Preset string `yaml:"preset" json:"preset"`
	QualityParams `yaml:",inline" json:",inline"`
}

// MarshalYAML writes named presets as a scalar and custom ones as a mapping
func (q Quality) MarshalYAML() (interface{}, error) {
	if q.kind != qualityCustom {
		return q.String(), nil
	}
	return qualityDoc{Preset: "custom", QualityParams: q.custom}, nil
}

// UnmarshalYAML accepts "fast", "balanced", "accurate" or a mapping of custom parameters
func (q *Quality) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseQuality(value.Value)
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	}
	var doc qualityDoc
	if err := value.Decode(&doc); err != nil {
		return fmt.Errorf("decoding custom quality: %w", err)
	}
	custom, err := Custom(doc.QualityParams)
	if err != nil {
		return err
	}
	*q = custom
	return nil
}

// MarshalJSON mirrors MarshalYAML
func (q Quality) MarshalJSON() ([]byte, error) {
	if q.kind != qualityCustom {
		return json.Marshal(q.String())
	}
	return json.Marshal(struct {
		Preset string `json:"preset"`
		QualityParams
	}{Preset: "custom", QualityParams: q.custom})
}

// UnmarshalJSON mirrors UnmarshalYAML
func (q *Quality) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseQuality(name)
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	}
	var p QualityParams
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding custom quality: %w", err)
	}
	custom, err := Custom(p)
	if err != nil {
		return err
	}
	*q = custom
	return nil
}
