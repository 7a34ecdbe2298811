// Package tracks owns the per-object state of the tracking core.
//
// Responsibilities: the Track entity and its lifecycle tag, the
// constant-velocity Kalman filter (predict, residual, innovation
// covariance, update), and the lifecycle Manager that scores tracks on
// hits and misses, promotes them, deletes them, and seeds new tracks from
// unassigned measurements.
// Key types: Track, Filter, Manager, Observer.
//
// Dependency rule: tracks may depend on sensors and config, but never on
// association or pipeline. Track state is mutated only by Filter (x, P)
// and Manager (score, lifecycle tag).
package tracks
