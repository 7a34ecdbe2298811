package tracks

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"gonum.org/v1/gonum/mat"
)

// TrackState is the lifecycle tag of a track. Values are ordered by
// confidence; TrackDeleted is terminal.
type TrackState int

const (
	TrackInitialized TrackState = iota // Spawned from a single measurement
	TrackTentative                     // Associated at least once
	TrackConfirmed                     // Score crossed the confirmation threshold
	TrackDeleted                       // Removed from the active population
)

func (s TrackState) String() string {
	switch s {
	case TrackInitialized:
		return "initialized"
	case TrackTentative:
		return "tentative"
	case TrackConfirmed:
		return "confirmed"
	case TrackDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("TrackState(%d)", int(s))
	}
}

// Track is a persistent estimate of one object's kinematic state. The state
// vector is [x, y, z, vx, vy, vz] in the vehicle frame.
type Track struct {
	// Identity
	ID    string
	State TrackState
	Score float64

	// Lifecycle counters
	Hits   int // Consecutive successful associations
	Misses int // Consecutive frames without association

	Attributes  sensors.Attributes
	LastSensor  string
	FirstSeen   time.Time
	LastUpdated time.Time

	x *mat.VecDense
	p *mat.SymDense
}

// NewTrack builds a track from a 6-element state and a row-major 6x6
// symmetric covariance.
func NewTrack(id string, x []float64, p []float64, state TrackState, score float64) (*Track, error) {
	if id == "" {
		return nil, fmt.Errorf("track id must not be empty")
	}
	if len(x) != sensors.StateDim {
		return nil, fmt.Errorf("track %s: %w: state has %d elements, want %d",
			id, sensors.ErrDimensionMismatch, len(x), sensors.StateDim)
	}
	if len(p) != sensors.StateDim*sensors.StateDim {
		return nil, fmt.Errorf("track %s: %w: covariance has %d elements, want %d",
			id, sensors.ErrDimensionMismatch, len(p), sensors.StateDim*sensors.StateDim)
	}
	n := sensors.StateDim
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if p[i*n+j] != p[j*n+i] {
				return nil, fmt.Errorf("track %s: %w: covariance is not symmetric at (%d,%d)", id, ErrInvalidCovariance, i, j)
			}
			cov.SetSym(i, j, p[i*n+j])
		}
	}
	mean := mat.NewVecDense(n, append([]float64(nil), x...))
	if err := checkEstimate(mean, cov); err != nil {
		return nil, fmt.Errorf("track %s: %w", id, err)
	}
	return &Track{
		ID:    id,
		State: state,
		Score: score,
		x:     mean,
		p:     cov,
	}, nil
}

// Mean returns a copy of the state vector.
func (t *Track) Mean() *mat.VecDense {
	return mat.VecDenseCopyOf(t.x)
}

// Covariance returns a copy of the state covariance.
func (t *Track) Covariance() *mat.SymDense {
	c := mat.NewSymDense(sensors.StateDim, nil)
	c.CopySym(t.p)
	return c
}

// Position returns the estimated position in the vehicle frame.
func (t *Track) Position() [3]float64 {
	return [3]float64{t.x.AtVec(0), t.x.AtVec(1), t.x.AtVec(2)}
}

// Velocity returns the estimated velocity in the vehicle frame.
func (t *Track) Velocity() [3]float64 {
	return [3]float64{t.x.AtVec(3), t.x.AtVec(4), t.x.AtVec(5)}
}

// Speed returns the magnitude of the estimated velocity.
func (t *Track) Speed() float64 {
	v := t.Velocity()
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// PositionVariance returns the diagonal of the position block of P.
func (t *Track) PositionVariance() [3]float64 {
	return [3]float64{t.p.At(0, 0), t.p.At(1, 1), t.p.At(2, 2)}
}

// Snapshot is a value copy of a track suitable for reporting and storage.
type Snapshot struct {
	ID          string
	State       TrackState
	Score       float64
	Hits        int
	Misses      int
	X           [sensors.StateDim]float64
	P           [sensors.StateDim * sensors.StateDim]float64 // row-major
	Attributes  sensors.Attributes
	LastSensor  string
	FirstSeen   time.Time
	LastUpdated time.Time
}

// Snapshot copies the track into a Snapshot.
func (t *Track) Snapshot() Snapshot {
	s := Snapshot{
		ID:          t.ID,
		State:       t.State,
		Score:       t.Score,
		Hits:        t.Hits,
		Misses:      t.Misses,
		Attributes:  t.Attributes,
		LastSensor:  t.LastSensor,
		FirstSeen:   t.FirstSeen,
		LastUpdated: t.LastUpdated,
	}
	n := sensors.StateDim
	for i := 0; i < n; i++ {
		s.X[i] = t.x.AtVec(i)
		for j := 0; j < n; j++ {
			s.P[i*n+j] = t.p.At(i, j)
		}
	}
	return s
}

// updateAttributes merges the auxiliary data of an associated measurement.
// Dimensions and heading are exponentially smoothed with w as the weight of
// the previous value; a reported class replaces the stored one.
func (t *Track) updateAttributes(m sensors.Measurement, w float64) {
	a := m.Attributes()
	if a.Class != "" {
		t.Attributes.Class = a.Class
	}
	t.Attributes.Width = smooth(t.Attributes.Width, a.Width, w)
	t.Attributes.Length = smooth(t.Attributes.Length, a.Length, w)
	t.Attributes.Height = smooth(t.Attributes.Height, a.Height, w)
	if a.Yaw != 0 {
		if t.Attributes.Yaw == 0 {
			t.Attributes.Yaw = a.Yaw
		} else {
			// Average on the unit circle so headings near ±π don't collapse to 0.
			s := w*math.Sin(t.Attributes.Yaw) + (1-w)*math.Sin(a.Yaw)
			c := w*math.Cos(t.Attributes.Yaw) + (1-w)*math.Cos(a.Yaw)
			t.Attributes.Yaw = math.Atan2(s, c)
		}
	}

	t.LastSensor = m.Sensor().Name()
	if ts := m.Timestamp(); !ts.IsZero() {
		t.LastUpdated = ts
	}
}

func smooth(prev, next, w float64) float64 {
	switch {
	case next <= 0:
		return prev
	case prev <= 0:
		return next
	default:
		return w*prev + (1-w)*next
	}
}
