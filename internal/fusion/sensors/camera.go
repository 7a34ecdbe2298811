package sensors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// minDepth is the smallest sensor-frame depth (metres along the optical
// axis) for which the pinhole projection is evaluated.
const minDepth = 1e-6

// CameraConfig describes a pinhole camera mounted on the vehicle. The
// camera frame follows the vehicle convention: x forward along the optical
// axis, y left, z up.
type CameraConfig struct {
	Name      string
	SensToVeh []float64  // row-major 4x4 homogeneous transform; nil means identity
	FOV       [2]float64 // azimuth limits (radians), exclusive
	FocalI    float64    // focal length along image i (pixels)
	FocalJ    float64    // focal length along image j (pixels)
	CenterI   float64    // principal point i (pixels)
	CenterJ   float64    // principal point j (pixels)
	Sigma     [2]float64 // measurement standard deviation (pixels)
}

// Camera observes the image-plane projection of an object. Its measurement
// model is non-linear, so H is the Jacobian of hx re-evaluated at every
// call.
type Camera struct {
	name   string
	mount  mounting
	fov    [2]float64
	fi, fj float64
	ci, cj float64
	sigma  [2]float64
}

// NewCamera validates cfg and builds a Camera sensor model.
func NewCamera(cfg CameraConfig) (*Camera, error) {
	if cfg.Name == "" {
		cfg.Name = "camera"
	}
	if cfg.FOV[0] >= cfg.FOV[1] {
		return nil, fmt.Errorf("camera %q: fov lower bound %f must be below upper bound %f", cfg.Name, cfg.FOV[0], cfg.FOV[1])
	}
	if cfg.FocalI <= 0 || cfg.FocalJ <= 0 {
		return nil, fmt.Errorf("camera %q: focal lengths must be positive, got (%f, %f)", cfg.Name, cfg.FocalI, cfg.FocalJ)
	}
	for i, s := range cfg.Sigma {
		if s <= 0 {
			return nil, fmt.Errorf("camera %q: sigma[%d] must be positive, got %f", cfg.Name, i, s)
		}
	}
	mount, err := newMounting(cfg.SensToVeh)
	if err != nil {
		return nil, fmt.Errorf("camera %q: %w", cfg.Name, err)
	}
	return &Camera{
		name:  cfg.Name,
		mount: mount,
		fov:   cfg.FOV,
		fi:    cfg.FocalI,
		fj:    cfg.FocalJ,
		ci:    cfg.CenterI,
		cj:    cfg.CenterJ,
		sigma: cfg.Sigma,
	}, nil
}

// Name returns the configured sensor name.
func (c *Camera) Name() string { return c.name }

// DimMeas is 2: image coordinates i and j.
func (c *Camera) DimMeas() int { return 2 }

// Sigma returns the per-axis measurement standard deviation.
func (c *Camera) Sigma() [2]float64 { return c.sigma }

// HX projects the track position onto the image plane:
// [c_i - f_i*p_y/p_x, c_j - f_j*p_z/p_x].
func (c *Camera) HX(x mat.Vector) (*mat.VecDense, error) {
	checkState(x)
	p := c.mount.toSensor(x)
	if math.Abs(p[0]) < minDepth {
		return nil, fmt.Errorf("camera %q: %w (depth %g)", c.name, ErrProjectionUndefined, p[0])
	}
	return mat.NewVecDense(2, []float64{
		c.ci - c.fi*p[1]/p[0],
		c.cj - c.fj*p[2]/p[0],
	}), nil
}

// H returns the Jacobian of HX with respect to the vehicle-frame state.
// Velocity columns are zero.
func (c *Camera) H(x mat.Vector) (*mat.Dense, error) {
	checkState(x)
	p := c.mount.toSensor(x)
	if math.Abs(p[0]) < minDepth {
		return nil, fmt.Errorf("camera %q: %w (depth %g)", c.name, ErrProjectionUndefined, p[0])
	}
	r := rotation(c.mount.vehToSens)
	px2 := p[0] * p[0]
	h := mat.NewDense(2, StateDim, nil)
	for k := 0; k < 3; k++ {
		h.Set(0, k, c.fi*(-r.At(1, k)/p[0]+r.At(0, k)*p[1]/px2))
		h.Set(1, k, c.fj*(-r.At(2, k)/p[0]+r.At(0, k)*p[2]/px2))
	}
	return h, nil
}

// InFOV reports whether the position lies in front of the camera and
// strictly inside its azimuth limits.
func (c *Camera) InFOV(x mat.Vector) bool {
	checkState(x)
	p := c.mount.toSensor(x)
	if p[0] < minDepth {
		return false
	}
	alpha := azimuth(p)
	return alpha > c.fov[0] && alpha < c.fov[1]
}
