package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/trackfusion/internal/config"
	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"github.com/banshee-data/trackfusion/internal/fusion/storage/sqlite"
	"github.com/banshee-data/trackfusion/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, name string, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// movingObject is one object crossing in front of a forward lidar at
// 1 m/s, plus a camera that never reports.
func movingObject(frames int) Scenario {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sc := Scenario{
		Start: &start,
		Sensors: []SensorSpec{
			{Name: "front_lidar", Type: sensorLidar, FOV: [2]float64{-1.5, 1.5}, MaxRange: 120},
			{Name: "front_cam", Type: sensorCamera, FOV: [2]float64{-0.6, 0.6}, Focal: [2]float64{800, 800}, Center: [2]float64{640, 360}},
		},
	}
	for i := 1; i <= frames; i++ {
		sc.Frames = append(sc.Frames, FrameSpec{
			Index:  i,
			Sensor: "front_lidar",
			Detections: []DetectionSpec{
				{Z: []float64{10 + 0.1*float64(i), 2, 0}, Class: "car", Width: 1.8, Length: 4.4},
			},
		})
	}
	return sc
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	monitoring.SetLogger(nil)

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayConfirmsTrack(t *testing.T) {
	input := writeJSON(t, "scenario.json", movingObject(8))

	out, err := runCmd(t, "--input", input)
	require.NoError(t, err)
	assert.Contains(t, out, "frames: 8\n")
	assert.Contains(t, out, "tracks created: 1, confirmed: 1, deleted: 0")
	assert.Contains(t, out, "confirmed tracks: 1\n")
	assert.Contains(t, out, "car")
}

func TestReplayRecordsRun(t *testing.T) {
	input := writeJSON(t, "scenario.json", movingObject(6))
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	out, err := runCmd(t, "--input", input, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "run: ")

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var runID string
	require.NoError(t, db.QueryRow(`SELECT run_id FROM runs`).Scan(&runID))
	frames, err := db.FrameCount(runID)
	require.NoError(t, err)
	assert.Equal(t, 6, frames)

	ids, err := db.TrackIDs(runID, "confirmed")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	hist, err := db.TrackHistory(runID, ids[0])
	require.NoError(t, err)
	assert.Len(t, hist, 6)

	run, err := db.GetRun(runID)
	require.NoError(t, err)
	assert.False(t, run.FinishedAt.IsZero())
	assert.Contains(t, run.ConfigJSON, `"dt":0.1`)
}

func TestReplayWithTuningFile(t *testing.T) {
	input := writeJSON(t, "scenario.json", movingObject(8))
	tuning := writeJSON(t, "tuning.json", map[string]interface{}{
		"assignment_strategy": "optimal",
		"confirm_threshold":   0.95,
	})

	out, err := runCmd(t, "--input", input, "--config", tuning, "--verbose")
	require.NoError(t, err)
	// Reaching 0.95 from the initial score of 1/6 takes five hits.
	assert.Contains(t, out, "confirmed tracks: 1\n")
}

func TestReplayErrors(t *testing.T) {
	good := movingObject(2)

	unknownSensor := movingObject(2)
	unknownSensor.Frames[1].Sensor = "rear_lidar"

	badDim := movingObject(2)
	badDim.Frames[0].Detections[0].Z = []float64{1, 2}

	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{"missing input flag", func(t *testing.T) []string { return nil }},
		{"missing file", func(t *testing.T) []string { return []string{"--input", "/nonexistent/scenario.json"} }},
		{"unknown frame sensor", func(t *testing.T) []string {
			return []string{"--input", writeJSON(t, "s.json", unknownSensor)}
		}},
		{"measurement dimension", func(t *testing.T) []string {
			return []string{"--input", writeJSON(t, "s.json", badDim)}
		}},
		{"tuning not json", func(t *testing.T) []string {
			return []string{"--input", writeJSON(t, "s.json", good), "--config", "tuning.yaml"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, tt.args(t)...)
			assert.Error(t, err)
		})
	}
}

func TestBuildSensors(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultTuningConfig()

	sc := movingObject(0)
	sc.Sensors[0].Sigma = []float64{0.2, 0.2, 0.3}
	byName, err := sc.BuildSensors(cfg)
	require.NoError(t, err)
	require.Len(t, byName, 2)

	l, ok := byName["front_lidar"].(*sensors.Lidar)
	require.True(t, ok)
	assert.Equal(t, [3]float64{0.2, 0.2, 0.3}, l.Sigma())

	c, ok := byName["front_cam"].(*sensors.Camera)
	require.True(t, ok)
	assert.Equal(t, cfg.GetCameraSigma(), c.Sigma())

	tests := []struct {
		name   string
		mutate func(sc *Scenario)
	}{
		{"unknown type", func(sc *Scenario) { sc.Sensors[0].Type = "radar" }},
		{"duplicate name", func(sc *Scenario) { sc.Sensors[1].Name = sc.Sensors[0].Name }},
		{"missing name", func(sc *Scenario) { sc.Sensors[0].Name = "" }},
		{"lidar sigma length", func(sc *Scenario) { sc.Sensors[0].Sigma = []float64{1} }},
		{"camera focal", func(sc *Scenario) { sc.Sensors[1].Focal = [2]float64{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := movingObject(0)
			tt.mutate(&sc)
			_, err := sc.BuildSensors(cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuildFrameTimestamps(t *testing.T) {
	t.Parallel()
	sc := movingObject(3)
	byName, err := sc.BuildSensors(config.DefaultTuningConfig())
	require.NoError(t, err)
	start := *sc.Start

	fr, err := BuildFrame(sc.Frames[2], byName, start, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 3, fr.Index)
	assert.True(t, fr.Timestamp.Equal(start.Add(300*time.Millisecond)))
	require.Len(t, fr.Measurements, 1)
	assert.Equal(t, "car", fr.Measurements[0].Attributes().Class)

	offset := 2.5
	fs := sc.Frames[0]
	fs.TimeS = &offset
	fr, err = BuildFrame(fs, byName, start, 0.1)
	require.NoError(t, err)
	assert.True(t, fr.Timestamp.Equal(start.Add(2500*time.Millisecond)))

	// Empty frames need no sensor.
	fr, err = BuildFrame(FrameSpec{Index: 9}, byName, start, 0.1)
	require.NoError(t, err)
	assert.Empty(t, fr.Measurements)
}
