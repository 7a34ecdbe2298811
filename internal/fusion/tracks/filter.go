package tracks

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/trackfusion/internal/config"
	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDegenerateInnovation is returned when the innovation covariance S
	// cannot be inverted reliably. Callers drop the association for the
	// frame; the track is left untouched.
	ErrDegenerateInnovation = errors.New("tracks: innovation covariance is singular or ill-conditioned")
	// ErrInvalidCovariance marks a state or covariance that is not finite
	// or has a negative variance. It indicates a configuration or
	// programming defect and must not be swallowed.
	ErrInvalidCovariance = errors.New("tracks: invalid state covariance")
)

// negativeVarianceTolerance absorbs round-off in (I - KH)P for variances
// that are numerically zero.
const negativeVarianceTolerance = 1e-12

// FilterConfig holds the parameters of the constant-velocity Kalman filter.
type FilterConfig struct {
	DT                 float64 // Time step between frames (seconds)
	ProcessNoise       float64 // White-noise acceleration intensity q
	AttributeWeight    float64 // Weight of the previous attribute value when merging
	MaxConditionNumber float64 // Above this, S is treated as singular
}

// FilterConfigFromTuning builds a FilterConfig from a loaded TuningConfig.
func FilterConfigFromTuning(cfg *config.TuningConfig) FilterConfig {
	return FilterConfig{
		DT:                 cfg.GetDT(),
		ProcessNoise:       cfg.GetProcessNoiseQ(),
		AttributeWeight:    cfg.GetAttributeWeight(),
		MaxConditionNumber: cfg.GetMaxConditionNumber(),
	}
}

// Filter is the state estimator. It owns the motion model and is the only
// component that writes a track's x and P.
type Filter struct {
	cfg FilterConfig
	f   *mat.Dense
	q   *mat.SymDense
}

// NewFilter validates cfg and precomputes F and Q for the configured step.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	if !(cfg.DT > 0) || math.IsInf(cfg.DT, 0) {
		return nil, fmt.Errorf("filter: dt must be positive and finite, got %f", cfg.DT)
	}
	if cfg.ProcessNoise < 0 || math.IsNaN(cfg.ProcessNoise) || math.IsInf(cfg.ProcessNoise, 0) {
		return nil, fmt.Errorf("filter: process noise must be non-negative and finite, got %f", cfg.ProcessNoise)
	}
	if cfg.AttributeWeight < 0 || cfg.AttributeWeight > 1 {
		return nil, fmt.Errorf("filter: attribute weight must be between 0 and 1, got %f", cfg.AttributeWeight)
	}
	if !(cfg.MaxConditionNumber > 1) {
		return nil, fmt.Errorf("filter: max condition number must exceed 1, got %g", cfg.MaxConditionNumber)
	}
	return &Filter{
		cfg: cfg,
		f:   transition(cfg.DT),
		q:   processNoise(cfg.ProcessNoise, cfg.DT),
	}, nil
}

// Config returns the filter configuration.
func (f *Filter) Config() FilterConfig { return f.cfg }

// F returns a copy of the state transition matrix for the configured step.
func (f *Filter) F() *mat.Dense { return mat.DenseCopyOf(f.f) }

// Q returns a copy of the process noise covariance for the configured step.
func (f *Filter) Q() *mat.SymDense {
	q := mat.NewSymDense(sensors.StateDim, nil)
	q.CopySym(f.q)
	return q
}

// transition builds the constant-velocity F: identity with dt coupling each
// position to its own velocity.
func transition(dt float64) *mat.Dense {
	f := mat.NewDense(sensors.StateDim, sensors.StateDim, nil)
	for i := 0; i < sensors.StateDim; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		f.Set(i, i+3, dt)
	}
	return f
}

// processNoise builds the continuous white-noise-acceleration Q. Each axis
// gets q*dt^3/3 on position, q*dt^2/2 between position and its own
// velocity, and q*dt on velocity. There are no cross-axis terms.
func processNoise(q, dt float64) *mat.SymDense {
	qm := mat.NewSymDense(sensors.StateDim, nil)
	q3 := q * dt * dt * dt / 3
	q2 := q * dt * dt / 2
	q1 := q * dt
	for i := 0; i < 3; i++ {
		qm.SetSym(i, i, q3)
		qm.SetSym(i, i+3, q2)
		qm.SetSym(i+3, i+3, q1)
	}
	return qm
}

// Predict propagates the track one configured step: x = F*x,
// P = F*P*F^T + Q.
func (f *Filter) Predict(t *Track) {
	f.predict(t, f.f, f.q)
}

// PredictDT propagates the track by an explicit step. Non-positive steps
// leave the track unchanged.
func (f *Filter) PredictDT(t *Track, dt float64) {
	if !(dt > 0) {
		return
	}
	if dt == f.cfg.DT {
		f.predict(t, f.f, f.q)
		return
	}
	f.predict(t, transition(dt), processNoise(f.cfg.ProcessNoise, dt))
}

func (f *Filter) predict(t *Track, fm *mat.Dense, q *mat.SymDense) {
	var x mat.VecDense
	x.MulVec(fm, t.x)

	var fp, p mat.Dense
	fp.Mul(fm, t.p)
	p.Mul(&fp, fm.T())
	p.Add(&p, q)

	t.x = &x
	t.p = symmetrize(&p)
}

// Residual returns gamma = z - hx(x) for the track's current estimate.
func (f *Filter) Residual(t *Track, m sensors.Measurement) (*mat.VecDense, error) {
	hx, err := m.Sensor().HX(t.x)
	if err != nil {
		return nil, err
	}
	if hx.Len() != m.Dim() {
		return nil, fmt.Errorf("%w: hx has %d elements, measurement has %d",
			sensors.ErrDimensionMismatch, hx.Len(), m.Dim())
	}
	var gamma mat.VecDense
	gamma.SubVec(m.Z(), hx)
	return &gamma, nil
}

// InnovationCovariance returns S = H*P*H^T + R, symmetrised.
func (f *Filter) InnovationCovariance(t *Track, m sensors.Measurement, h mat.Matrix) *mat.SymDense {
	var hp, s mat.Dense
	hp.Mul(h, t.p)
	s.Mul(&hp, h.T())
	s.Add(&s, m.R())
	return symmetrize(&s)
}

// Factorize returns the Cholesky factorisation of S, or
// ErrDegenerateInnovation when S is not positive definite or its condition
// number exceeds the configured limit.
func (f *Filter) Factorize(s *mat.SymDense) (*mat.Cholesky, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return nil, fmt.Errorf("%w: not positive definite", ErrDegenerateInnovation)
	}
	if c := chol.Cond(); math.IsNaN(c) || c > f.cfg.MaxConditionNumber {
		return nil, fmt.Errorf("%w: condition number %g", ErrDegenerateInnovation, c)
	}
	return &chol, nil
}

// Update corrects the track with an associated measurement. H is taken
// from the measurement's sensor at the current estimate. On error the
// track is unchanged.
func (f *Filter) Update(t *Track, m sensors.Measurement) error {
	h, err := m.Sensor().H(t.x)
	if err != nil {
		return fmt.Errorf("update track %s with %s: %w", t.ID, m.Sensor().Name(), err)
	}
	gamma, err := f.Residual(t, m)
	if err != nil {
		return fmt.Errorf("update track %s with %s: %w", t.ID, m.Sensor().Name(), err)
	}
	chol, err := f.Factorize(f.InnovationCovariance(t, m, h))
	if err != nil {
		return fmt.Errorf("update track %s with %s: %w", t.ID, m.Sensor().Name(), err)
	}

	// K = P*H^T*S^-1. S and P are symmetric, so K^T = S^-1*(H*P).
	var hp, kt mat.Dense
	hp.Mul(h, t.p)
	if err := chol.SolveTo(&kt, &hp); err != nil {
		return fmt.Errorf("update track %s with %s: %w: %v", t.ID, m.Sensor().Name(), ErrDegenerateInnovation, err)
	}
	k := kt.T()

	var dx, x mat.VecDense
	dx.MulVec(k, gamma)
	x.AddVec(t.x, &dx)

	var ikh, p mat.Dense
	ikh.Mul(k, h)
	ikh.Scale(-1, &ikh)
	for i := 0; i < sensors.StateDim; i++ {
		ikh.Set(i, i, ikh.At(i, i)+1)
	}
	p.Mul(&ikh, t.p)
	cov := symmetrize(&p)

	if err := checkEstimate(&x, cov); err != nil {
		return fmt.Errorf("update track %s with %s: %w", t.ID, m.Sensor().Name(), err)
	}

	t.x = &x
	t.p = cov
	t.updateAttributes(m, f.cfg.AttributeWeight)
	return nil
}

// checkEstimate rejects non-finite states and covariances with NaN, Inf or
// negative variances.
func checkEstimate(x *mat.VecDense, p *mat.SymDense) error {
	n := x.Len()
	for i := 0; i < n; i++ {
		if v := x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: state[%d] = %g", ErrInvalidCovariance, i, v)
		}
		for j := i; j < n; j++ {
			if v := p.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: P[%d,%d] = %g", ErrInvalidCovariance, i, j, v)
			}
		}
		if v := p.At(i, i); v < -negativeVarianceTolerance {
			return fmt.Errorf("%w: negative variance %g at %d", ErrInvalidCovariance, v, i)
		}
	}
	return nil
}

// symmetrize averages a square matrix with its transpose.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}
