package association

import (
	"errors"
	"fmt"

	"github.com/banshee-data/trackfusion/internal/config"
	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"github.com/banshee-data/trackfusion/internal/fusion/tracks"
	"gonum.org/v1/gonum/mat"
)

// Reasons reported to the Observer when a resolved pair is not applied.
const (
	SkipOutOfView   = "out_of_fov"
	SkipDegenerate  = "degenerate_innovation"
	// SkipUnprojected is only reachable when a sensor projects a state at
	// gating time and then refuses it at update time. Pairs the sensor
	// cannot project while the matrix is built are never admitted.
	SkipUnprojected = "projection_undefined"
)

// Strategy selects how the matrix is resolved.
type Strategy int

const (
	// StrategyGreedy repeatedly takes the globally smallest distance. It is
	// not optimal when measurements compete for a track, but is cheap and
	// adequate for sparse, well-separated detections.
	StrategyGreedy Strategy = iota
	// StrategyOptimal restricts the matrix to the Hungarian solution before
	// extraction, minimising the total distance.
	StrategyOptimal
)

func (s Strategy) String() string {
	switch s {
	case StrategyGreedy:
		return config.AssignmentGreedy
	case StrategyOptimal:
		return config.AssignmentOptimal
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps a tuning value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case config.AssignmentGreedy, "":
		return StrategyGreedy, nil
	case config.AssignmentOptimal:
		return StrategyOptimal, nil
	default:
		return 0, fmt.Errorf("unknown assignment strategy %q", s)
	}
}

// Config holds the association parameters.
type Config struct {
	GatingConfidence float64
	Strategy         Strategy
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. The tuning
// file is validated on load, so an unknown strategy falls back to greedy.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	s, err := ParseStrategy(cfg.GetAssignmentStrategy())
	if err != nil {
		s = StrategyGreedy
	}
	return Config{
		GatingConfidence: cfg.GetGatingConfidence(),
		Strategy:         s,
	}
}

// Manager is the lifecycle side of the association loop.
type Manager interface {
	TrackList() []*tracks.Track
	HandleUpdatedTrack(t *tracks.Track)
	ManageTracks(unassignedTracks, unassignedMeas []int, meas []sensors.Measurement)
}

// Update records one applied association.
type Update struct {
	TrackID     string
	Track       int
	Measurement int
	Distance    float64
}

// Result summarises one frame. Indices refer to the track list as it was
// when the frame started and to the frame's measurement slice.
type Result struct {
	Updates                []Update
	UnassignedTracks       []int
	UnassignedMeasurements []int
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the event observer. A nil observer is ignored.
func WithObserver(obs tracks.Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.obs = obs
		}
	}
}

// Engine associates measurements with tracks and drives the filter update.
// It is not safe for concurrent use.
type Engine struct {
	filter   *tracks.Filter
	gate     *Gate
	strategy Strategy
	obs      tracks.Observer
}

// NewEngine returns an Engine that uses f for residuals, innovation
// covariances and updates.
func NewEngine(f *tracks.Filter, cfg Config, opts ...Option) (*Engine, error) {
	if f == nil {
		return nil, fmt.Errorf("association: nil filter")
	}
	gate, err := NewGate(cfg.GatingConfidence)
	if err != nil {
		return nil, fmt.Errorf("association: %w", err)
	}
	if cfg.Strategy != StrategyGreedy && cfg.Strategy != StrategyOptimal {
		return nil, fmt.Errorf("association: unknown strategy %v", cfg.Strategy)
	}
	e := &Engine{
		filter:   f,
		gate:     gate,
		strategy: cfg.Strategy,
		obs:      tracks.NopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Gate returns the engine's gate.
func (e *Engine) Gate() *Gate { return e.gate }

// Strategy returns the configured resolution strategy.
func (e *Engine) Strategy() Strategy { return e.strategy }

// MahalanobisSquared returns gamma^T * S^-1 * gamma for the pair.
func (e *Engine) MahalanobisSquared(t *tracks.Track, m sensors.Measurement) (float64, error) {
	h, err := m.Sensor().H(t.Mean())
	if err != nil {
		return 0, err
	}
	gamma, err := e.filter.Residual(t, m)
	if err != nil {
		return 0, err
	}
	chol, err := e.filter.Factorize(e.filter.InnovationCovariance(t, m, h))
	if err != nil {
		return 0, err
	}
	var y mat.VecDense
	if err := chol.SolveVecTo(&y, gamma); err != nil {
		return 0, fmt.Errorf("%w: %v", tracks.ErrDegenerateInnovation, err)
	}
	return mat.Dot(gamma, &y), nil
}

// Build computes the gated distance matrix for the frame. Pairs that fail
// the gate or whose distance cannot be computed reliably are +Inf.
func (e *Engine) Build(trks []*tracks.Track, meas []sensors.Measurement) (*Matrix, error) {
	mx := NewMatrix(len(trks), len(meas))
	for i, t := range trks {
		for j, m := range meas {
			d2, err := e.MahalanobisSquared(t, m)
			if err != nil {
				if droppable(err) {
					continue
				}
				return nil, fmt.Errorf("distance track %s to measurement %d: %w", t.ID, j, err)
			}
			if e.gate.Admit(d2, m.Dim()) {
				mx.Set(i, j, d2)
			}
		}
	}
	if e.strategy == StrategyOptimal {
		mx.restrictToOptimal()
	}
	return mx, nil
}

// AssociateAndUpdate runs one frame: build the matrix, resolve pairs one at
// a time, update each resolved track whose predicted position is inside the
// measurement sensor's field of view, and finally hand the unassigned
// tracks and measurements to the manager. Pairs outside the field of view
// or with a degenerate innovation go back to the unassigned pools. Any
// other update error aborts the frame before lifecycle management runs.
func (e *Engine) AssociateAndUpdate(mgr Manager, meas []sensors.Measurement) (Result, error) {
	trks := mgr.TrackList()
	mx, err := e.Build(trks, meas)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for !mx.Empty() {
		pair, ok := mx.ExtractBestPair()
		if !ok {
			rows, cols := mx.Live()
			e.obs.NoMoreAssociations(rows, cols)
			break
		}
		t := trks[pair.Track]
		m := meas[pair.Measurement]

		if !m.Sensor().InFOV(t.Mean()) {
			mx.Release(pair)
			e.obs.AssociationSkipped(t.ID, m.Sensor().Name(), pair.Measurement, SkipOutOfView)
			continue
		}

		if err := e.filter.Update(t, m); err != nil {
			if droppable(err) {
				mx.Release(pair)
				e.obs.AssociationSkipped(t.ID, m.Sensor().Name(), pair.Measurement, skipReason(err))
				continue
			}
			return Result{}, err
		}
		mgr.HandleUpdatedTrack(t)
		e.obs.TrackUpdated(t.ID, m.Sensor().Name(), pair.Measurement, t.Score)
		res.Updates = append(res.Updates, Update{
			TrackID:     t.ID,
			Track:       pair.Track,
			Measurement: pair.Measurement,
			Distance:    pair.Distance,
		})
	}

	res.UnassignedTracks = mx.UnassignedTracks()
	res.UnassignedMeasurements = mx.UnassignedMeasurements()
	mgr.ManageTracks(res.UnassignedTracks, res.UnassignedMeasurements, meas)
	return res, nil
}

// droppable reports whether err only invalidates the pair for this frame.
func droppable(err error) bool {
	return errors.Is(err, tracks.ErrDegenerateInnovation) || errors.Is(err, sensors.ErrProjectionUndefined)
}

func skipReason(err error) string {
	if errors.Is(err, sensors.ErrProjectionUndefined) {
		return SkipUnprojected
	}
	return SkipDegenerate
}
