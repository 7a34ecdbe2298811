package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.DT == nil || *cfg.DT != 0.1 {
		t.Errorf("Expected DT 0.1, got %v", cfg.DT)
	}
	if cfg.GatingConfidence == nil || *cfg.GatingConfidence != 0.995 {
		t.Errorf("Expected GatingConfidence 0.995, got %v", cfg.GatingConfidence)
	}
	if cfg.AssignmentStrategy == nil || *cfg.AssignmentStrategy != AssignmentGreedy {
		t.Errorf("Expected AssignmentStrategy greedy, got %v", cfg.AssignmentStrategy)
	}
	if cfg.ScoreWindow == nil || *cfg.ScoreWindow != 6 {
		t.Errorf("Expected ScoreWindow 6, got %v", cfg.ScoreWindow)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultTuningConfig() failed validation: %v", err)
	}

	// Getters must agree with the populated pointers.
	empty := EmptyTuningConfig()
	if cfg.GetDT() != empty.GetDT() {
		t.Errorf("GetDT() = %f, empty default %f", cfg.GetDT(), empty.GetDT())
	}
	if cfg.GetProcessNoiseQ() != empty.GetProcessNoiseQ() {
		t.Errorf("GetProcessNoiseQ() = %f, empty default %f", cfg.GetProcessNoiseQ(), empty.GetProcessNoiseQ())
	}
	if cfg.GetConfirmThreshold() != empty.GetConfirmThreshold() {
		t.Errorf("GetConfirmThreshold() = %f, empty default %f", cfg.GetConfirmThreshold(), empty.GetConfirmThreshold())
	}
	if cfg.GetOutOfViewDecay() != empty.GetOutOfViewDecay() {
		t.Errorf("GetOutOfViewDecay() = %f, empty default %f", cfg.GetOutOfViewDecay(), empty.GetOutOfViewDecay())
	}
	if cfg.GetInitialVelocitySigma() != empty.GetInitialVelocitySigma() {
		t.Errorf("GetInitialVelocitySigma() = %v, empty default %v", cfg.GetInitialVelocitySigma(), empty.GetInitialVelocitySigma())
	}
	if cfg.GetLidarSigma() != empty.GetLidarSigma() {
		t.Errorf("GetLidarSigma() = %v, empty default %v", cfg.GetLidarSigma(), empty.GetLidarSigma())
	}
	if cfg.GetCameraSigma() != empty.GetCameraSigma() {
		t.Errorf("GetCameraSigma() = %v, empty default %v", cfg.GetCameraSigma(), empty.GetCameraSigma())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "dt": 0.05,
  "process_noise_q": 1.5,
  "gating_confidence": 0.99,
  "assignment_strategy": "optimal",
  "score_window": 4,
  "lidar_sigma": [0.2, 0.2, 0.3]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetDT() != 0.05 {
		t.Errorf("GetDT() = %f, want 0.05", cfg.GetDT())
	}
	if cfg.GetProcessNoiseQ() != 1.5 {
		t.Errorf("GetProcessNoiseQ() = %f, want 1.5", cfg.GetProcessNoiseQ())
	}
	if cfg.GetGatingConfidence() != 0.99 {
		t.Errorf("GetGatingConfidence() = %f, want 0.99", cfg.GetGatingConfidence())
	}
	if cfg.GetAssignmentStrategy() != AssignmentOptimal {
		t.Errorf("GetAssignmentStrategy() = %q, want optimal", cfg.GetAssignmentStrategy())
	}
	if cfg.GetScoreWindow() != 4 {
		t.Errorf("GetScoreWindow() = %d, want 4", cfg.GetScoreWindow())
	}
	if got := cfg.GetLidarSigma(); got != [3]float64{0.2, 0.2, 0.3} {
		t.Errorf("GetLidarSigma() = %v, want [0.2 0.2 0.3]", got)
	}

	// Omitted fields fall back to defaults.
	if cfg.GetConfirmThreshold() != 0.8 {
		t.Errorf("GetConfirmThreshold() = %f, want default 0.8", cfg.GetConfirmThreshold())
	}
	if cfg.GetMaxTracks() != 100 {
		t.Errorf("GetMaxTracks() = %d, want default 100", cfg.GetMaxTracks())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("dt: 0.1"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for non-.json config, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "dt": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults file failed validation: %v", err)
	}

	// The defaults file and the built-in defaults must not drift apart.
	builtin := DefaultTuningConfig()
	if cfg.GetDT() != builtin.GetDT() {
		t.Errorf("defaults file dt = %f, built-in %f", cfg.GetDT(), builtin.GetDT())
	}
	if cfg.GetGatingConfidence() != builtin.GetGatingConfidence() {
		t.Errorf("defaults file gating_confidence = %f, built-in %f", cfg.GetGatingConfidence(), builtin.GetGatingConfidence())
	}
	if cfg.GetScoreWindow() != builtin.GetScoreWindow() {
		t.Errorf("defaults file score_window = %d, built-in %d", cfg.GetScoreWindow(), builtin.GetScoreWindow())
	}
	if cfg.GetMaxPositionVariance() != builtin.GetMaxPositionVariance() {
		t.Errorf("defaults file max_position_variance = %f, built-in %f", cfg.GetMaxPositionVariance(), builtin.GetMaxPositionVariance())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultTuningConfig(),
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name:    "zero dt",
			cfg:     &TuningConfig{DT: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "negative process noise",
			cfg:     &TuningConfig{ProcessNoiseQ: ptrFloat64(-1)},
			wantErr: true,
		},
		{
			name:    "zero process noise is allowed",
			cfg:     &TuningConfig{ProcessNoiseQ: ptrFloat64(0)},
			wantErr: false,
		},
		{
			name:    "gating confidence of one",
			cfg:     &TuningConfig{GatingConfidence: ptrFloat64(1)},
			wantErr: true,
		},
		{
			name:    "unknown assignment strategy",
			cfg:     &TuningConfig{AssignmentStrategy: ptrString("auction")},
			wantErr: true,
		},
		{
			name:    "zero score window",
			cfg:     &TuningConfig{ScoreWindow: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "confirm threshold above one",
			cfg:     &TuningConfig{ConfirmThreshold: ptrFloat64(1.5)},
			wantErr: true,
		},
		{
			name: "delete threshold above confirm threshold",
			cfg: &TuningConfig{
				ConfirmThreshold: ptrFloat64(0.5),
				DeleteThreshold:  ptrFloat64(0.7),
			},
			wantErr: true,
		},
		{
			name:    "delete threshold above default confirm threshold",
			cfg:     &TuningConfig{DeleteThreshold: ptrFloat64(0.9)},
			wantErr: true,
		},
		{
			name: "tentative delete threshold above delete threshold",
			cfg: &TuningConfig{
				DeleteThreshold:          ptrFloat64(0.3),
				TentativeDeleteThreshold: ptrFloat64(0.5),
			},
			wantErr: true,
		},
		{
			name:    "tentative delete threshold above default delete threshold",
			cfg:     &TuningConfig{TentativeDeleteThreshold: ptrFloat64(0.7)},
			wantErr: true,
		},
		{
			name:    "equal thresholds are allowed",
			cfg:     &TuningConfig{TentativeDeleteThreshold: ptrFloat64(0.6), ConfirmThreshold: ptrFloat64(0.6)},
			wantErr: false,
		},
		{
			name:    "zero max tracks",
			cfg:     &TuningConfig{MaxTracks: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "one max track",
			cfg:     &TuningConfig{MaxTracks: ptrInt(1)},
			wantErr: false,
		},
		{
			name:    "lidar sigma wrong length",
			cfg:     &TuningConfig{LidarSigma: []float64{0.1, 0.1}},
			wantErr: true,
		},
		{
			name:    "camera sigma non-positive",
			cfg:     &TuningConfig{CameraSigma: []float64{5, 0}},
			wantErr: true,
		},
		{
			name:    "condition number too small",
			cfg:     &TuningConfig{MaxConditionNumber: ptrFloat64(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
