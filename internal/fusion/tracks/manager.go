package tracks

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/trackfusion/internal/config"
	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// ErrDuplicateTrackID is returned when a track id is already active or has
// been issued before.
var ErrDuplicateTrackID = errors.New("tracks: duplicate track id")

// Deletion reasons reported to the Observer.
const (
	ReasonLowScore           = "low_score"
	ReasonCovarianceDiverged = "covariance_diverged"
)

// ManagerConfig holds the lifecycle policy.
type ManagerConfig struct {
	Window                   int        // Score step is 1/Window
	ConfirmThreshold         float64    // Tentative -> Confirmed at or above this score
	DeleteThreshold          float64    // Confirmed tracks below this score are deleted
	TentativeDeleteThreshold float64    // Unconfirmed tracks below this score are deleted
	OutOfViewDecay           float64    // Score lost per miss outside the sensor FOV
	MaxPositionVariance      float64    // Any position variance above this deletes the track (m²)
	InitialVelocitySigma     [3]float64 // Velocity standard deviation of new tracks (m/s)
	MaxTracks                int        // Upper bound on the active population
}

// DefaultManagerConfig returns the lifecycle policy from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfigFromTuning(config.MustLoadDefaultConfig())
}

// ManagerConfigFromTuning builds a ManagerConfig from a loaded TuningConfig.
func ManagerConfigFromTuning(cfg *config.TuningConfig) ManagerConfig {
	return ManagerConfig{
		Window:                   cfg.GetScoreWindow(),
		ConfirmThreshold:         cfg.GetConfirmThreshold(),
		DeleteThreshold:          cfg.GetDeleteThreshold(),
		TentativeDeleteThreshold: cfg.GetTentativeDeleteThreshold(),
		OutOfViewDecay:           cfg.GetOutOfViewDecay(),
		MaxPositionVariance:      cfg.GetMaxPositionVariance(),
		InitialVelocitySigma:     cfg.GetInitialVelocitySigma(),
		MaxTracks:                cfg.GetMaxTracks(),
	}
}

// Counts is the number of active tracks per lifecycle state.
type Counts struct {
	Initialized int
	Tentative   int
	Confirmed   int
}

// Total returns the size of the active population.
func (c Counts) Total() int { return c.Initialized + c.Tentative + c.Confirmed }

// Stats are cumulative lifecycle totals since the manager was created.
type Stats struct {
	Created          int // Tracks spawned or added
	Confirmed        int // Promotions to Confirmed
	Deleted          int // Tracks removed for any reason
	DeletedTentative int // Tracks removed before ever being confirmed
}

// FragmentationRatio is the share of created tracks that were deleted
// without being confirmed. High values indicate clutter or a gate that is
// too tight.
func (s Stats) FragmentationRatio() float64 {
	if s.Created == 0 {
		return 0
	}
	return float64(s.DeletedTentative) / float64(s.Created)
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator replaces the default trk_<uuid> id generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithObserver sets the event observer. A nil observer is ignored.
func WithObserver(obs Observer) Option {
	return func(m *Manager) {
		if obs != nil {
			m.obs = obs
		}
	}
}

// Manager owns the active track population and its lifecycle policy. It
// is not safe for concurrent use; callers serialise frames.
type Manager struct {
	cfg    ManagerConfig
	step   float64
	tracks []*Track
	issued map[string]struct{}
	newID  func() string
	obs    Observer
	stats  Stats
}

// NewManager validates cfg and returns an empty Manager.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if cfg.Window < 1 {
		return nil, fmt.Errorf("manager: window must be at least 1, got %d", cfg.Window)
	}
	if cfg.TentativeDeleteThreshold > cfg.DeleteThreshold || cfg.DeleteThreshold > cfg.ConfirmThreshold {
		return nil, fmt.Errorf("manager: thresholds must satisfy tentative_delete (%f) <= delete (%f) <= confirm (%f)",
			cfg.TentativeDeleteThreshold, cfg.DeleteThreshold, cfg.ConfirmThreshold)
	}
	if cfg.OutOfViewDecay < 0 {
		return nil, fmt.Errorf("manager: out-of-view decay must be non-negative, got %f", cfg.OutOfViewDecay)
	}
	if !(cfg.MaxPositionVariance > 0) {
		return nil, fmt.Errorf("manager: max position variance must be positive, got %f", cfg.MaxPositionVariance)
	}
	for i, s := range cfg.InitialVelocitySigma {
		if s < 0 {
			return nil, fmt.Errorf("manager: initial velocity sigma[%d] must be non-negative, got %f", i, s)
		}
	}
	if cfg.MaxTracks < 1 {
		return nil, fmt.Errorf("manager: max tracks must be at least 1, got %d", cfg.MaxTracks)
	}

	m := &Manager{
		cfg:    cfg,
		step:   1 / float64(cfg.Window),
		issued: make(map[string]struct{}),
		newID:  func() string { return fmt.Sprintf("trk_%s", uuid.NewString()) },
		obs:    NopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the lifecycle policy.
func (m *Manager) Config() ManagerConfig { return m.cfg }

// InitialScore is the score given to a freshly spawned track.
func (m *Manager) InitialScore() float64 { return m.step }

// TrackList returns the active tracks in insertion order. The slice is a
// copy; the tracks are not.
func (m *Manager) TrackList() []*Track {
	out := make([]*Track, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// AddTrack inserts an externally built track. Ids that are active or were
// issued before are rejected.
func (m *Manager) AddTrack(t *Track) error {
	if t == nil {
		return fmt.Errorf("manager: nil track")
	}
	if t.State == TrackDeleted {
		return fmt.Errorf("manager: track %s is already deleted", t.ID)
	}
	if _, ok := m.issued[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTrackID, t.ID)
	}
	if len(m.tracks) >= m.cfg.MaxTracks {
		return fmt.Errorf("manager: track limit %d reached", m.cfg.MaxTracks)
	}
	m.issued[t.ID] = struct{}{}
	m.tracks = append(m.tracks, t)
	m.stats.Created++
	return nil
}

// HandleUpdatedTrack applies a hit: the score rises by one step (capped at
// 1) and the lifecycle tag advances by at most one level.
func (m *Manager) HandleUpdatedTrack(t *Track) {
	t.Score = math.Min(1, t.Score+m.step)
	t.Hits++
	t.Misses = 0

	switch t.State {
	case TrackInitialized:
		m.transition(t, TrackTentative)
	case TrackTentative:
		if t.Score >= m.cfg.ConfirmThreshold {
			m.transition(t, TrackConfirmed)
			m.stats.Confirmed++
		}
	}
}

// ManageTracks runs once per frame after association. Indices in
// unassignedTracks refer to TrackList as it was when the frame started;
// indices in unassignedMeas refer to meas.
//
// Unassigned tracks lose score: one step when inside the frame sensor's
// field of view, OutOfViewDecay otherwise. Frames without measurements
// carry no sensor and cause no decay. Tracks whose score drops below their
// deletion threshold, or whose position variance diverges, are deleted.
// Unassigned measurements from sensors that can seed tracks spawn new
// Initialized tracks while the population is below MaxTracks.
func (m *Manager) ManageTracks(unassignedTracks, unassignedMeas []int, meas []sensors.Measurement) {
	if len(meas) > 0 {
		s := meas[0].Sensor()
		for _, i := range unassignedTracks {
			if i < 0 || i >= len(m.tracks) {
				continue
			}
			t := m.tracks[i]
			if s.InFOV(t.x) {
				t.Score -= m.step
			} else {
				t.Score -= m.cfg.OutOfViewDecay
			}
			t.Score = math.Max(0, t.Score)
			t.Misses++
			t.Hits = 0
		}
	}

	kept := make([]*Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		if reason := m.deletionReason(t); reason != "" {
			m.delete(t, reason)
			continue
		}
		kept = append(kept, t)
	}
	m.tracks = kept

	for _, j := range unassignedMeas {
		if len(m.tracks) >= m.cfg.MaxTracks {
			break
		}
		if j < 0 || j >= len(meas) {
			continue
		}
		init, ok := meas[j].Sensor().(sensors.Initializer)
		if !ok {
			continue
		}
		m.spawn(init, meas[j])
	}
}

func (m *Manager) deletionReason(t *Track) string {
	threshold := m.cfg.TentativeDeleteThreshold
	if t.State == TrackConfirmed {
		threshold = m.cfg.DeleteThreshold
	}
	if t.Score < threshold {
		return ReasonLowScore
	}
	for _, v := range t.PositionVariance() {
		if v > m.cfg.MaxPositionVariance {
			return ReasonCovarianceDiverged
		}
	}
	return ""
}

func (m *Manager) delete(t *Track, reason string) {
	if t.State != TrackConfirmed {
		m.stats.DeletedTentative++
	}
	m.stats.Deleted++
	m.transition(t, TrackDeleted)
	m.obs.TrackDeleted(t.ID, reason, t.Score)
}

// spawn seeds a track at the measured position with zero velocity.
func (m *Manager) spawn(s sensors.Initializer, meas sensors.Measurement) {
	pos, posCov := s.InitialPosition(meas.Z(), meas.R())

	n := sensors.StateDim
	x := mat.NewVecDense(n, nil)
	p := mat.NewSymDense(n, nil)
	for i := 0; i < 3; i++ {
		x.SetVec(i, pos.AtVec(i))
		for j := i; j < 3; j++ {
			p.SetSym(i, j, posCov.At(i, j))
		}
		sv := m.cfg.InitialVelocitySigma[i]
		p.SetSym(i+3, i+3, sv*sv)
	}

	t := &Track{
		ID:          m.issueID(),
		State:       TrackInitialized,
		Score:       m.step,
		Attributes:  meas.Attributes(),
		LastSensor:  s.Name(),
		FirstSeen:   meas.Timestamp(),
		LastUpdated: meas.Timestamp(),
		x:           x,
		p:           p,
	}
	m.tracks = append(m.tracks, t)
	m.stats.Created++
	m.obs.TrackCreated(t.ID, s.Name(), t.Position())
}

// issueID returns a fresh id. A generator that repeats an id breaks the
// never-reused invariant and panics.
func (m *Manager) issueID() string {
	id := m.newID()
	if _, ok := m.issued[id]; ok {
		panic(fmt.Sprintf("tracks: id generator returned %q twice", id))
	}
	m.issued[id] = struct{}{}
	return id
}

func (m *Manager) transition(t *Track, to TrackState) {
	from := t.State
	if from == to {
		return
	}
	t.State = to
	m.obs.TrackStateChanged(t.ID, from.String(), to.String())
}

// Counts returns the active population per lifecycle state.
func (m *Manager) Counts() Counts {
	var c Counts
	for _, t := range m.tracks {
		switch t.State {
		case TrackInitialized:
			c.Initialized++
		case TrackTentative:
			c.Tentative++
		case TrackConfirmed:
			c.Confirmed++
		}
	}
	return c
}

// Stats returns the cumulative lifecycle totals.
func (m *Manager) Stats() Stats { return m.stats }
