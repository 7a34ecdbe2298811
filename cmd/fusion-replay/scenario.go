package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/trackfusion/internal/config"
	"github.com/banshee-data/trackfusion/internal/fusion/pipeline"
	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
)

// maxScenarioSize caps the scenario file read into memory.
const maxScenarioSize = 64 << 20

// Sensor types accepted in a scenario.
const (
	sensorLidar  = "lidar"
	sensorCamera = "camera"
)

// Scenario is a recorded sequence of frames plus the sensors that produced
// them.
type Scenario struct {
	Start   *time.Time   `json:"start,omitempty"`
	Sensors []SensorSpec `json:"sensors"`
	Frames  []FrameSpec  `json:"frames"`
}

// SensorSpec describes one mounted sensor. Sigma falls back to the tuning
// defaults for the sensor type when omitted.
type SensorSpec struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	SensToVeh []float64  `json:"sens_to_veh,omitempty"`
	FOV       [2]float64 `json:"fov"`
	MaxRange  float64    `json:"max_range,omitempty"`
	Sigma     []float64  `json:"sigma,omitempty"`

	// Camera intrinsics (pixels).
	Focal  [2]float64 `json:"focal,omitempty"`
	Center [2]float64 `json:"center,omitempty"`
}

// FrameSpec is one frame of detections from a single sensor. TimeS is the
// offset from the scenario start; when omitted the frame index times the
// tuning dt is used.
type FrameSpec struct {
	Index      int             `json:"index"`
	TimeS      *float64        `json:"time_s,omitempty"`
	Sensor     string          `json:"sensor"`
	Detections []DetectionSpec `json:"detections"`
}

// DetectionSpec is a single measurement. R optionally overrides the
// sensor's diagonal noise with a full row-major covariance.
type DetectionSpec struct {
	Z      []float64 `json:"z"`
	R      []float64 `json:"r,omitempty"`
	Class  string    `json:"class,omitempty"`
	Width  float64   `json:"width,omitempty"`
	Length float64   `json:"length,omitempty"`
	Height float64   `json:"height,omitempty"`
	Yaw    float64   `json:"yaw,omitempty"`
}

// LoadScenario reads a scenario JSON file.
func LoadScenario(path string) (*Scenario, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat scenario: %w", err)
	}
	if info.Size() > maxScenarioSize {
		return nil, fmt.Errorf("scenario %s is %d bytes, limit is %d", cleanPath, info.Size(), maxScenarioSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", cleanPath, err)
	}
	if len(sc.Sensors) == 0 {
		return nil, fmt.Errorf("scenario %s declares no sensors", cleanPath)
	}
	return &sc, nil
}

// BuildSensors constructs the sensor models keyed by name.
func (sc *Scenario) BuildSensors(cfg *config.TuningConfig) (map[string]sensors.Sensor, error) {
	out := make(map[string]sensors.Sensor, len(sc.Sensors))
	for _, spec := range sc.Sensors {
		if spec.Name == "" {
			return nil, fmt.Errorf("sensor of type %q has no name", spec.Type)
		}
		if _, dup := out[spec.Name]; dup {
			return nil, fmt.Errorf("sensor %q declared twice", spec.Name)
		}

		switch spec.Type {
		case sensorLidar:
			sigma := cfg.GetLidarSigma()
			if len(spec.Sigma) > 0 {
				if len(spec.Sigma) != 3 {
					return nil, fmt.Errorf("lidar %q: sigma needs 3 values, got %d", spec.Name, len(spec.Sigma))
				}
				copy(sigma[:], spec.Sigma)
			}
			l, err := sensors.NewLidar(sensors.LidarConfig{
				Name:      spec.Name,
				SensToVeh: spec.SensToVeh,
				FOV:       spec.FOV,
				MaxRange:  spec.MaxRange,
				Sigma:     sigma,
			})
			if err != nil {
				return nil, err
			}
			out[spec.Name] = l

		case sensorCamera:
			sigma := cfg.GetCameraSigma()
			if len(spec.Sigma) > 0 {
				if len(spec.Sigma) != 2 {
					return nil, fmt.Errorf("camera %q: sigma needs 2 values, got %d", spec.Name, len(spec.Sigma))
				}
				copy(sigma[:], spec.Sigma)
			}
			c, err := sensors.NewCamera(sensors.CameraConfig{
				Name:      spec.Name,
				SensToVeh: spec.SensToVeh,
				FOV:       spec.FOV,
				FocalI:    spec.Focal[0],
				FocalJ:    spec.Focal[1],
				CenterI:   spec.Center[0],
				CenterJ:   spec.Center[1],
				Sigma:     sigma,
			})
			if err != nil {
				return nil, err
			}
			out[spec.Name] = c

		default:
			return nil, fmt.Errorf("sensor %q: unknown type %q", spec.Name, spec.Type)
		}
	}
	return out, nil
}

// BuildFrame turns a FrameSpec into a pipeline frame.
func BuildFrame(fs FrameSpec, byName map[string]sensors.Sensor, start time.Time, dt float64) (pipeline.Frame, error) {
	offset := float64(fs.Index) * dt
	if fs.TimeS != nil {
		offset = *fs.TimeS
	}
	ts := start.Add(time.Duration(offset * float64(time.Second)))
	fr := pipeline.Frame{Index: fs.Index, Timestamp: ts}
	if len(fs.Detections) == 0 {
		return fr, nil
	}

	s, ok := byName[fs.Sensor]
	if !ok {
		return pipeline.Frame{}, fmt.Errorf("frame %d: unknown sensor %q", fs.Index, fs.Sensor)
	}
	for i, d := range fs.Detections {
		attrs := sensors.Attributes{
			Class:  d.Class,
			Width:  d.Width,
			Length: d.Length,
			Height: d.Height,
			Yaw:    d.Yaw,
		}
		r := d.R
		if r == nil {
			r = sensorNoise(s)
		}
		m, err := sensors.NewMeasurement(s, d.Z, r, ts, attrs)
		if err != nil {
			return pipeline.Frame{}, fmt.Errorf("frame %d detection %d: %w", fs.Index, i, err)
		}
		fr.Measurements = append(fr.Measurements, m)
	}
	return fr, nil
}

// sensorNoise returns the sensor's diagonal noise in row-major form.
func sensorNoise(s sensors.Sensor) []float64 {
	var sigma []float64
	switch v := s.(type) {
	case *sensors.Lidar:
		sg := v.Sigma()
		sigma = sg[:]
	case *sensors.Camera:
		sg := v.Sigma()
		sigma = sg[:]
	}
	n := len(sigma)
	r := make([]float64, n*n)
	for i, sd := range sigma {
		r[i*n+i] = sd * sd
	}
	return r
}
