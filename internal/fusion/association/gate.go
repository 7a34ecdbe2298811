package association

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// Gate admits a track-measurement pair when its squared Mahalanobis
// distance is strictly below the chi-square quantile at the configured
// confidence, with degrees of freedom equal to the measurement dimension.
// Thresholds are cached per dimension. A Gate is not safe for concurrent
// use.
type Gate struct {
	confidence float64
	thresholds map[int]float64
}

// NewGate returns a gate for a confidence level in (0, 1).
func NewGate(confidence float64) (*Gate, error) {
	if !(confidence > 0 && confidence < 1) {
		return nil, fmt.Errorf("gate: confidence must be in (0, 1), got %f", confidence)
	}
	return &Gate{confidence: confidence, thresholds: make(map[int]float64)}, nil
}

// Confidence returns the configured confidence level.
func (g *Gate) Confidence() float64 { return g.confidence }

// Threshold returns the chi-square quantile for dof degrees of freedom.
func (g *Gate) Threshold(dof int) float64 {
	if th, ok := g.thresholds[dof]; ok {
		return th
	}
	if dof < 1 {
		panic(fmt.Sprintf("gate: degrees of freedom must be at least 1, got %d", dof))
	}
	th := distuv.ChiSquared{K: float64(dof)}.Quantile(g.confidence)
	g.thresholds[dof] = th
	return th
}

// Admit reports whether d2 passes the gate for a dof-dimensional
// measurement.
func (g *Gate) Admit(d2 float64, dof int) bool {
	return d2 < g.Threshold(dof)
}
