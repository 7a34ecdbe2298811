package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Assignment strategies accepted by assignment_strategy.
const (
	AssignmentGreedy  = "greedy"
	AssignmentOptimal = "optimal"
)

// TuningConfig represents the root configuration for the tracking core.
// All values are read once at startup and treated as constants for a run.
type TuningConfig struct {
	// Motion model
	DT            *float64 `json:"dt,omitempty"`              // fixed time step (seconds)
	ProcessNoiseQ *float64 `json:"process_noise_q,omitempty"` // white-noise acceleration intensity

	// Association
	GatingConfidence   *float64 `json:"gating_confidence,omitempty"`   // chi-square confidence level, (0, 1)
	AssignmentStrategy *string  `json:"assignment_strategy,omitempty"` // "greedy" or "optimal"
	MaxConditionNumber *float64 `json:"max_condition_number,omitempty"`

	// Lifecycle
	ScoreWindow              *int      `json:"score_window,omitempty"`
	ConfirmThreshold         *float64  `json:"confirm_threshold,omitempty"`
	DeleteThreshold          *float64  `json:"delete_threshold,omitempty"`
	TentativeDeleteThreshold *float64  `json:"tentative_delete_threshold,omitempty"`
	OutOfViewDecay           *float64  `json:"out_of_view_decay,omitempty"`
	MaxPositionVariance      *float64  `json:"max_position_variance,omitempty"`
	InitialVelocitySigma     []float64 `json:"initial_velocity_sigma,omitempty"`
	AttributeWeight          *float64  `json:"attribute_weight,omitempty"`
	MaxTracks                *int      `json:"max_tracks,omitempty"`

	// Sensor noise
	LidarSigma  []float64 `json:"lidar_sigma,omitempty"`  // x, y, z (metres)
	CameraSigma []float64 `json:"camera_sigma,omitempty"` // i, j (pixels)
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		DT:                       ptrFloat64(0.1),
		ProcessNoiseQ:            ptrFloat64(3.0),
		GatingConfidence:         ptrFloat64(0.995),
		AssignmentStrategy:       ptrString(AssignmentGreedy),
		MaxConditionNumber:       ptrFloat64(1e12),
		ScoreWindow:              ptrInt(6),
		ConfirmThreshold:         ptrFloat64(0.8),
		DeleteThreshold:          ptrFloat64(0.6),
		TentativeDeleteThreshold: ptrFloat64(0.1),
		OutOfViewDecay:           ptrFloat64(1.0 / 12.0),
		MaxPositionVariance:      ptrFloat64(9.0),
		InitialVelocitySigma:     []float64{50, 50, 5},
		AttributeWeight:          ptrFloat64(0.1),
		MaxTracks:                ptrInt(100),
		LidarSigma:               []float64{0.1, 0.1, 0.1},
		CameraSigma:              []float64{5, 5},
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to defaults through the Get*
// accessors, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,             // from cmd/fusion-replay/
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/fusion/tracks/
		"../../../../" + DefaultConfigPath,    // from internal/fusion/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DT != nil && *c.DT <= 0 {
		return fmt.Errorf("dt must be positive, got %f", *c.DT)
	}
	if c.ProcessNoiseQ != nil && *c.ProcessNoiseQ < 0 {
		return fmt.Errorf("process_noise_q must be non-negative, got %f", *c.ProcessNoiseQ)
	}
	if c.GatingConfidence != nil {
		if *c.GatingConfidence <= 0 || *c.GatingConfidence >= 1 {
			return fmt.Errorf("gating_confidence must be in (0, 1), got %f", *c.GatingConfidence)
		}
	}
	if c.AssignmentStrategy != nil {
		switch *c.AssignmentStrategy {
		case AssignmentGreedy, AssignmentOptimal:
		default:
			return fmt.Errorf("assignment_strategy must be %q or %q, got %q",
				AssignmentGreedy, AssignmentOptimal, *c.AssignmentStrategy)
		}
	}
	if c.MaxConditionNumber != nil && *c.MaxConditionNumber <= 1 {
		return fmt.Errorf("max_condition_number must exceed 1, got %g", *c.MaxConditionNumber)
	}
	if c.ScoreWindow != nil && *c.ScoreWindow < 1 {
		return fmt.Errorf("score_window must be at least 1, got %d", *c.ScoreWindow)
	}
	for name, v := range map[string]*float64{
		"confirm_threshold":          c.ConfirmThreshold,
		"delete_threshold":           c.DeleteThreshold,
		"tentative_delete_threshold": c.TentativeDeleteThreshold,
		"out_of_view_decay":          c.OutOfViewDecay,
		"attribute_weight":           c.AttributeWeight,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	// Unset thresholds take their defaults, so a partial override is checked
	// against the values it will actually run with.
	if td, d, cf := c.GetTentativeDeleteThreshold(), c.GetDeleteThreshold(), c.GetConfirmThreshold(); td > d || d > cf {
		return fmt.Errorf("thresholds must satisfy tentative_delete_threshold (%f) <= delete_threshold (%f) <= confirm_threshold (%f)",
			td, d, cf)
	}
	if c.MaxPositionVariance != nil && *c.MaxPositionVariance <= 0 {
		return fmt.Errorf("max_position_variance must be positive, got %f", *c.MaxPositionVariance)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
	}
	if err := validateSigmas("initial_velocity_sigma", c.InitialVelocitySigma, 3); err != nil {
		return err
	}
	if err := validateSigmas("lidar_sigma", c.LidarSigma, 3); err != nil {
		return err
	}
	if err := validateSigmas("camera_sigma", c.CameraSigma, 2); err != nil {
		return err
	}
	return nil
}

func validateSigmas(name string, v []float64, n int) error {
	if v == nil {
		return nil
	}
	if len(v) != n {
		return fmt.Errorf("%s must have %d elements, got %d", name, n, len(v))
	}
	for i, s := range v {
		if s <= 0 {
			return fmt.Errorf("%s[%d] must be positive, got %f", name, i, s)
		}
	}
	return nil
}

// GetDT returns the dt value or the default.
func (c *TuningConfig) GetDT() float64 {
	if c.DT == nil {
		return 0.1
	}
	return *c.DT
}

// GetProcessNoiseQ returns the process_noise_q value or the default.
func (c *TuningConfig) GetProcessNoiseQ() float64 {
	if c.ProcessNoiseQ == nil {
		return 3.0
	}
	return *c.ProcessNoiseQ
}

// GetGatingConfidence returns the gating_confidence value or the default.
func (c *TuningConfig) GetGatingConfidence() float64 {
	if c.GatingConfidence == nil {
		return 0.995
	}
	return *c.GatingConfidence
}

// GetAssignmentStrategy returns the assignment_strategy value or the default.
func (c *TuningConfig) GetAssignmentStrategy() string {
	if c.AssignmentStrategy == nil || *c.AssignmentStrategy == "" {
		return AssignmentGreedy
	}
	return *c.AssignmentStrategy
}

// GetMaxConditionNumber returns the max_condition_number value or the default.
func (c *TuningConfig) GetMaxConditionNumber() float64 {
	if c.MaxConditionNumber == nil {
		return 1e12
	}
	return *c.MaxConditionNumber
}

// GetScoreWindow returns the score_window value or the default.
func (c *TuningConfig) GetScoreWindow() int {
	if c.ScoreWindow == nil {
		return 6
	}
	return *c.ScoreWindow
}

// GetConfirmThreshold returns the confirm_threshold value or the default.
func (c *TuningConfig) GetConfirmThreshold() float64 {
	if c.ConfirmThreshold == nil {
		return 0.8
	}
	return *c.ConfirmThreshold
}

// GetDeleteThreshold returns the delete_threshold value or the default.
func (c *TuningConfig) GetDeleteThreshold() float64 {
	if c.DeleteThreshold == nil {
		return 0.6
	}
	return *c.DeleteThreshold
}

// GetTentativeDeleteThreshold returns the tentative_delete_threshold value or the default.
func (c *TuningConfig) GetTentativeDeleteThreshold() float64 {
	if c.TentativeDeleteThreshold == nil {
		return 0.1
	}
	return *c.TentativeDeleteThreshold
}

// GetOutOfViewDecay returns the out_of_view_decay value or the default.
func (c *TuningConfig) GetOutOfViewDecay() float64 {
	if c.OutOfViewDecay == nil {
		return 1.0 / 12.0
	}
	return *c.OutOfViewDecay
}

// GetMaxPositionVariance returns the max_position_variance value or the default.
func (c *TuningConfig) GetMaxPositionVariance() float64 {
	if c.MaxPositionVariance == nil {
		return 9.0 // 3 m standard deviation
	}
	return *c.MaxPositionVariance
}

// GetInitialVelocitySigma returns the initial_velocity_sigma value or the default.
func (c *TuningConfig) GetInitialVelocitySigma() [3]float64 {
	if len(c.InitialVelocitySigma) != 3 {
		return [3]float64{50, 50, 5}
	}
	return [3]float64{c.InitialVelocitySigma[0], c.InitialVelocitySigma[1], c.InitialVelocitySigma[2]}
}

// GetAttributeWeight returns the attribute_weight value or the default.
func (c *TuningConfig) GetAttributeWeight() float64 {
	if c.AttributeWeight == nil {
		return 0.1
	}
	return *c.AttributeWeight
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 100
	}
	return *c.MaxTracks
}

// GetLidarSigma returns the lidar_sigma value or the default.
func (c *TuningConfig) GetLidarSigma() [3]float64 {
	if len(c.LidarSigma) != 3 {
		return [3]float64{0.1, 0.1, 0.1}
	}
	return [3]float64{c.LidarSigma[0], c.LidarSigma[1], c.LidarSigma[2]}
}

// GetCameraSigma returns the camera_sigma value or the default.
func (c *TuningConfig) GetCameraSigma() [2]float64 {
	if len(c.CameraSigma) != 2 {
		return [2]float64{5, 5}
	}
	return [2]float64{c.CameraSigma[0], c.CameraSigma[1]}
}
