package sensors

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Attributes carries the auxiliary detection data that tracks merge on
// update. Zero values mean "not reported".
type Attributes struct {
	Class  string
	Width  float64
	Length float64
	Height float64
	Yaw    float64 // radians, sensor frame
}

// Measurement is a single detection from one sensor in one frame. It is
// immutable after construction and is not retained past the frame's
// association/update cycle.
type Measurement struct {
	sensor Sensor
	z      *mat.VecDense
	r      *mat.SymDense
	ts     time.Time
	attrs  Attributes
}

// NewMeasurement builds a measurement with observation z and row-major
// noise covariance r (DimMeas x DimMeas).
func NewMeasurement(s Sensor, z []float64, r []float64, ts time.Time, attrs Attributes) (Measurement, error) {
	if s == nil {
		return Measurement{}, fmt.Errorf("measurement: nil sensor")
	}
	n := s.DimMeas()
	if len(z) != n {
		return Measurement{}, fmt.Errorf("measurement for %q: %w: z has %d elements, want %d",
			s.Name(), ErrDimensionMismatch, len(z), n)
	}
	if len(r) != n*n {
		return Measurement{}, fmt.Errorf("measurement for %q: %w: R has %d elements, want %d",
			s.Name(), ErrDimensionMismatch, len(r), n*n)
	}
	for i, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Measurement{}, fmt.Errorf("measurement for %q: z[%d] is not finite", s.Name(), i)
		}
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := r[i*n+j], r[j*n+i]
			if math.IsNaN(a) || math.IsInf(a, 0) || a != b {
				return Measurement{}, fmt.Errorf("measurement for %q: %w: R[%d,%d]=%g R[%d,%d]=%g",
					s.Name(), ErrInvalidNoise, i, j, a, j, i, b)
			}
			if i == j && a < 0 {
				return Measurement{}, fmt.Errorf("measurement for %q: %w: negative variance %g at %d",
					s.Name(), ErrInvalidNoise, a, i)
			}
			cov.SetSym(i, j, a)
		}
	}
	return Measurement{
		sensor: s,
		z:      mat.NewVecDense(n, append([]float64(nil), z...)),
		r:      cov,
		ts:     ts,
		attrs:  attrs,
	}, nil
}

// NewLidarMeasurement builds a lidar position measurement with diagonal
// noise taken from the sensor's configured sigmas.
func NewLidarMeasurement(l *Lidar, x, y, z float64, ts time.Time, attrs Attributes) (Measurement, error) {
	s := l.Sigma()
	return NewMeasurement(l, []float64{x, y, z}, diag(s[:]), ts, attrs)
}

// NewCameraMeasurement builds an image-plane measurement with diagonal
// noise taken from the sensor's configured sigmas.
func NewCameraMeasurement(c *Camera, i, j float64, ts time.Time, attrs Attributes) (Measurement, error) {
	s := c.Sigma()
	return NewMeasurement(c, []float64{i, j}, diag(s[:]), ts, attrs)
}

// diag returns a row-major diagonal covariance from standard deviations.
func diag(sigma []float64) []float64 {
	n := len(sigma)
	out := make([]float64, n*n)
	for i, s := range sigma {
		out[i*n+i] = s * s
	}
	return out
}

// Sensor returns the producing sensor.
func (m Measurement) Sensor() Sensor { return m.sensor }

// Z returns the observation vector. Callers must not modify it.
func (m Measurement) Z() mat.Vector { return m.z }

// R returns the measurement noise covariance. Callers must not modify it.
func (m Measurement) R() mat.Symmetric { return m.r }

// Dim returns the measurement dimension.
func (m Measurement) Dim() int { return m.z.Len() }

// Timestamp returns the capture time.
func (m Measurement) Timestamp() time.Time { return m.ts }

// Attributes returns the auxiliary detection data.
func (m Measurement) Attributes() Attributes { return m.attrs }
