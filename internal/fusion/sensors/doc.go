// Package sensors owns the sensor models and measurements consumed by the
// tracking core.
//
// Responsibilities: the Sensor capability interface (measurement
// dimensionality, observation matrix H(x), predicted measurement hx(x),
// field-of-view test), the Lidar and Camera variants, and the immutable
// per-frame Measurement.
// Key types: Sensor, Initializer, Lidar, Camera, Measurement.
//
// Dependency rule: sensors depends on nothing else in internal/fusion.
// Detection extraction from raw sensor data happens upstream and is not
// part of this package.
package sensors
