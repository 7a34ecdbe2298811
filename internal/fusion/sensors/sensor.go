package sensors

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StateDim is the dimension of the constant-velocity track state
// [x, y, z, vx, vy, vz] expressed in the vehicle frame.
const StateDim = 6

var (
	// ErrProjectionUndefined is returned when a sensor cannot project the
	// state into measurement space (e.g. a point on the camera plane).
	ErrProjectionUndefined = errors.New("sensors: projection undefined at state")
	// ErrDimensionMismatch is returned when a vector or matrix does not
	// match the sensor's measurement dimension.
	ErrDimensionMismatch = errors.New("sensors: dimension mismatch")
	// ErrInvalidNoise is returned for measurement covariances that are not
	// symmetric, not finite, or have negative variances.
	ErrInvalidNoise = errors.New("sensors: invalid measurement noise")
	// ErrInvalidTransform is returned when a mounting transform is not an
	// invertible 4x4 homogeneous matrix.
	ErrInvalidTransform = errors.New("sensors: invalid sensor-to-vehicle transform")
)

// Sensor is the capability every measurement source exposes to the
// tracking core. Implementations must be safe to call repeatedly with the
// same state and must not retain x.
type Sensor interface {
	// Name identifies the sensor in diagnostics.
	Name() string
	// DimMeas is the measurement dimensionality (>= 1).
	DimMeas() int
	// H returns the DimMeas x StateDim observation matrix linearised at x.
	H(x mat.Vector) (*mat.Dense, error)
	// HX returns the predicted measurement hx(x).
	HX(x mat.Vector) (*mat.VecDense, error)
	// InFOV reports whether the state's position lies inside the sensor's
	// field of view.
	InFOV(x mat.Vector) bool
}

// Initializer is implemented by sensors whose measurements carry a full 3D
// position and can therefore seed a new track.
type Initializer interface {
	Sensor
	// InitialPosition returns the vehicle-frame position for measurement z
	// and its 3x3 covariance derived from r.
	InitialPosition(z mat.Vector, r mat.Symmetric) (*mat.VecDense, *mat.SymDense)
}

// mounting holds a sensor-to-vehicle homogeneous transform and its inverse.
type mounting struct {
	sensToVeh *mat.Dense
	vehToSens *mat.Dense
}

// newMounting validates a row-major 4x4 transform. A nil slice means the
// sensor sits at the vehicle origin with no rotation.
func newMounting(sensToVeh []float64) (mounting, error) {
	if sensToVeh == nil {
		return mounting{sensToVeh: identity4(), vehToSens: identity4()}, nil
	}
	if len(sensToVeh) != 16 {
		return mounting{}, fmt.Errorf("%w: want 16 elements, got %d", ErrInvalidTransform, len(sensToVeh))
	}
	for _, v := range sensToVeh {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return mounting{}, fmt.Errorf("%w: non-finite element", ErrInvalidTransform)
		}
	}
	if sensToVeh[12] != 0 || sensToVeh[13] != 0 || sensToVeh[14] != 0 || sensToVeh[15] != 1 {
		return mounting{}, fmt.Errorf("%w: last row must be [0 0 0 1]", ErrInvalidTransform)
	}
	fwd := mat.NewDense(4, 4, append([]float64(nil), sensToVeh...))
	var inv mat.Dense
	if err := inv.Inverse(fwd); err != nil {
		return mounting{}, fmt.Errorf("%w: %v", ErrInvalidTransform, err)
	}
	return mounting{sensToVeh: fwd, vehToSens: &inv}, nil
}

func identity4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// toSensor transforms the position part of a vehicle-frame state into the
// sensor frame.
func (m mounting) toSensor(x mat.Vector) [3]float64 {
	return applyTransform(m.vehToSens, x.AtVec(0), x.AtVec(1), x.AtVec(2))
}

// toVehicle transforms a sensor-frame point into the vehicle frame.
func (m mounting) toVehicle(px, py, pz float64) [3]float64 {
	return applyTransform(m.sensToVeh, px, py, pz)
}

func applyTransform(t *mat.Dense, px, py, pz float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = t.At(i, 0)*px + t.At(i, 1)*py + t.At(i, 2)*pz + t.At(i, 3)
	}
	return out
}

// rotation returns the 3x3 rotation block of t.
func rotation(t *mat.Dense) mat.Matrix {
	return t.Slice(0, 3, 0, 3)
}

// azimuth is the bearing of a sensor-frame point measured from the
// sensor's x axis.
func azimuth(p [3]float64) float64 {
	return math.Atan2(p[1], p[0])
}

// checkState panics on a state vector of the wrong length. A short state is
// a programming error in the caller, not a recoverable condition.
func checkState(x mat.Vector) {
	if x.Len() != StateDim {
		panic(fmt.Sprintf("sensors: state has length %d, want %d", x.Len(), StateDim))
	}
}
