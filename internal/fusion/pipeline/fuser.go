package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/trackfusion/internal/config"
	"github.com/banshee-data/trackfusion/internal/fusion/association"
	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"github.com/banshee-data/trackfusion/internal/fusion/tracks"
)

var (
	// ErrFrameOutOfOrder is returned when a frame index does not advance.
	ErrFrameOutOfOrder = errors.New("frame index did not advance")
	// ErrRunAborted is returned by every ProcessFrame call after a frame
	// has failed inside the engine.
	ErrRunAborted = errors.New("run aborted by an earlier frame")
)

// Frame is one batch of measurements taken at a single time step. All
// measurements in a frame are expected to come from the same sensor.
type Frame struct {
	Index        int
	Timestamp    time.Time
	Measurements []sensors.Measurement
}

// Recorder persists the track list after each processed frame.
type Recorder interface {
	RecordFrame(index int, ts time.Time, snaps []tracks.Snapshot) error
}

// Option configures a Fuser.
type Option func(*Fuser)

// WithRecorder attaches a Recorder that receives every frame's snapshots.
func WithRecorder(r Recorder) Option {
	return func(f *Fuser) { f.recorder = r }
}

// WithObserver routes engine and lifecycle events to obs.
func WithObserver(obs tracks.Observer) Option {
	return func(f *Fuser) {
		if obs != nil {
			f.obs = obs
		}
	}
}

// WithIDGenerator replaces the track id generator.
func WithIDGenerator(gen func() string) Option {
	return func(f *Fuser) { f.idGen = gen }
}

// Fuser is safe for concurrent use. ProcessFrame holds the lock for the
// whole frame, so readers never observe a half-updated track list.
type Fuser struct {
	mu sync.Mutex

	filter  *tracks.Filter
	engine  *association.Engine
	manager *tracks.Manager

	recorder Recorder
	obs      tracks.Observer
	idGen    func() string

	frames    int
	lastIndex int
	failed    error
}

// New builds a Fuser from tuning. A nil cfg uses the built-in defaults.
func New(cfg *config.TuningConfig, opts ...Option) (*Fuser, error) {
	if cfg == nil {
		cfg = config.DefaultTuningConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}

	f := &Fuser{obs: tracks.NopObserver{}}
	for _, opt := range opts {
		opt(f)
	}

	filter, err := tracks.NewFilter(tracks.FilterConfigFromTuning(cfg))
	if err != nil {
		return nil, err
	}
	engine, err := association.NewEngine(filter, association.ConfigFromTuning(cfg), association.WithObserver(f.obs))
	if err != nil {
		return nil, err
	}
	mopts := []tracks.Option{tracks.WithObserver(f.obs)}
	if f.idGen != nil {
		mopts = append(mopts, tracks.WithIDGenerator(f.idGen))
	}
	manager, err := tracks.NewManager(tracks.ManagerConfigFromTuning(cfg), mopts...)
	if err != nil {
		return nil, err
	}

	f.filter = filter
	f.engine = engine
	f.manager = manager
	return f, nil
}

// ProcessFrame predicts every live track once, associates the frame's
// measurements, updates the matched tracks and runs lifecycle management.
//
// An engine error stops the frame part way: pairs resolved before the
// failing one keep their updates and lifecycle management does not run.
// The track list is then inconsistent, so the error is latched and every
// later call returns ErrRunAborted wrapping it. A recorder failure is
// returned after the frame has been fully applied and does not latch.
func (f *Fuser) ProcessFrame(fr Frame) (association.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed != nil {
		return association.Result{}, fmt.Errorf("%w: %w", ErrRunAborted, f.failed)
	}
	if f.frames > 0 && fr.Index <= f.lastIndex {
		return association.Result{}, fmt.Errorf("%w: got %d after %d", ErrFrameOutOfOrder, fr.Index, f.lastIndex)
	}

	for _, t := range f.manager.TrackList() {
		f.filter.Predict(t)
	}

	res, err := f.engine.AssociateAndUpdate(f.manager, fr.Measurements)
	if err != nil {
		f.failed = fmt.Errorf("frame %d: %w", fr.Index, err)
		opsf("frame %d aborted, run failed: %v", fr.Index, err)
		return association.Result{}, f.failed
	}
	f.frames++
	f.lastIndex = fr.Index

	for _, u := range res.Updates {
		tracef("frame %d: %s <- meas %d (d2=%.3f)", fr.Index, u.TrackID, u.Measurement, u.Distance)
	}
	c := f.manager.Counts()
	diagf("frame %d: %d meas, %d updates, %d unassigned tracks, %d unassigned meas, tracks init=%d tent=%d conf=%d",
		fr.Index, len(fr.Measurements), len(res.Updates), len(res.UnassignedTracks), len(res.UnassignedMeasurements),
		c.Initialized, c.Tentative, c.Confirmed)

	if f.recorder != nil {
		if err := f.recorder.RecordFrame(fr.Index, fr.Timestamp, f.snapshots()); err != nil {
			opsf("frame %d: record failed: %v", fr.Index, err)
			return res, fmt.Errorf("record frame %d: %w", fr.Index, err)
		}
	}
	return res, nil
}

// Snapshots returns a copy of every live track, ordered by id.
func (f *Fuser) Snapshots() []tracks.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots()
}

// ConfirmedTracks returns copies of the confirmed tracks, ordered by id.
func (f *Fuser) ConfirmedTracks() []tracks.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []tracks.Snapshot
	for _, s := range f.snapshots() {
		if s.State == tracks.TrackConfirmed {
			out = append(out, s)
		}
	}
	return out
}

// Counts returns the live track counts per state.
func (f *Fuser) Counts() tracks.Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manager.Counts()
}

// Stats returns the lifetime lifecycle totals.
func (f *Fuser) Stats() tracks.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manager.Stats()
}

// Err returns the error that aborted the run, or nil.
func (f *Fuser) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

// Frames returns the number of frames applied so far.
func (f *Fuser) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *Fuser) snapshots() []tracks.Snapshot {
	list := f.manager.TrackList()
	out := make([]tracks.Snapshot, 0, len(list))
	for _, t := range list {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
