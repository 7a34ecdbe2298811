// Package association matches measurements to tracks once per frame.
//
// Responsibilities: chi-square gating of squared Mahalanobis distances,
// the per-frame association matrix with global-minimum pair extraction,
// an optional Hungarian solver, and the AssociateAndUpdate orchestration
// that drives the filter update and hands the leftovers to the lifecycle
// manager.
// Key types: Engine, Gate, Matrix, Pair, Result.
//
// Dependency rule: association depends on tracks and sensors; tracks never
// depends on association.
package association
