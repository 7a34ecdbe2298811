package sensors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LidarConfig describes a lidar mounted on the vehicle.
type LidarConfig struct {
	Name      string
	SensToVeh []float64  // row-major 4x4 homogeneous transform; nil means identity
	FOV       [2]float64 // azimuth limits (radians), exclusive
	MaxRange  float64    // metres; zero disables the range check
	Sigma     [3]float64 // measurement standard deviation per axis (metres)
}

// DefaultLidarConfig returns a forward-facing lidar at the vehicle origin
// that sees the front half-plane.
func DefaultLidarConfig() LidarConfig {
	return LidarConfig{
		Name:  "lidar",
		FOV:   [2]float64{-math.Pi / 2, math.Pi / 2},
		Sigma: [3]float64{0.1, 0.1, 0.1},
	}
}

// Lidar measures object positions directly in its own Cartesian frame, so
// its measurement model is linear: hx(x) is the track position rotated and
// translated into the sensor frame.
type Lidar struct {
	name     string
	mount    mounting
	fov      [2]float64
	maxRange float64
	sigma    [3]float64
	h        *mat.Dense
}

// NewLidar validates cfg and builds a Lidar sensor model.
func NewLidar(cfg LidarConfig) (*Lidar, error) {
	if cfg.Name == "" {
		cfg.Name = "lidar"
	}
	if cfg.FOV[0] >= cfg.FOV[1] {
		return nil, fmt.Errorf("lidar %q: fov lower bound %f must be below upper bound %f", cfg.Name, cfg.FOV[0], cfg.FOV[1])
	}
	if cfg.MaxRange < 0 {
		return nil, fmt.Errorf("lidar %q: max range must be non-negative, got %f", cfg.Name, cfg.MaxRange)
	}
	for i, s := range cfg.Sigma {
		if s <= 0 {
			return nil, fmt.Errorf("lidar %q: sigma[%d] must be positive, got %f", cfg.Name, i, s)
		}
	}
	mount, err := newMounting(cfg.SensToVeh)
	if err != nil {
		return nil, fmt.Errorf("lidar %q: %w", cfg.Name, err)
	}

	// H = [Rot(veh->sens) | 0]; constant because the model is linear.
	h := mat.NewDense(3, StateDim, nil)
	h.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rotation(mount.vehToSens))

	return &Lidar{
		name:     cfg.Name,
		mount:    mount,
		fov:      cfg.FOV,
		maxRange: cfg.MaxRange,
		sigma:    cfg.Sigma,
		h:        h,
	}, nil
}

// Name returns the configured sensor name.
func (l *Lidar) Name() string { return l.name }

// DimMeas is 3: x, y, z in the sensor frame.
func (l *Lidar) DimMeas() int { return 3 }

// Sigma returns the per-axis measurement standard deviation.
func (l *Lidar) Sigma() [3]float64 { return l.sigma }

// H returns a copy of the constant observation matrix.
func (l *Lidar) H(x mat.Vector) (*mat.Dense, error) {
	checkState(x)
	return mat.DenseCopyOf(l.h), nil
}

// HX returns the track position expressed in the sensor frame.
func (l *Lidar) HX(x mat.Vector) (*mat.VecDense, error) {
	checkState(x)
	p := l.mount.toSensor(x)
	return mat.NewVecDense(3, p[:]), nil
}

// InFOV reports whether the position lies strictly inside the azimuth
// limits and, when configured, within range.
func (l *Lidar) InFOV(x mat.Vector) bool {
	checkState(x)
	p := l.mount.toSensor(x)
	alpha := azimuth(p)
	if alpha <= l.fov[0] || alpha >= l.fov[1] {
		return false
	}
	if l.maxRange > 0 && math.Sqrt(p[0]*p[0]+p[1]*p[1]+p[2]*p[2]) > l.maxRange {
		return false
	}
	return true
}

// InitialPosition transforms a lidar measurement into the vehicle frame and
// rotates its covariance accordingly: P_pos = M * R * M^T.
func (l *Lidar) InitialPosition(z mat.Vector, r mat.Symmetric) (*mat.VecDense, *mat.SymDense) {
	p := l.mount.toVehicle(z.AtVec(0), z.AtVec(1), z.AtVec(2))
	pos := mat.NewVecDense(3, p[:])

	m := rotation(l.mount.sensToVeh)
	var mr, mrmt mat.Dense
	mr.Mul(m, r)
	mrmt.Mul(&mr, m.T())
	return pos, symmetrize(&mrmt)
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
