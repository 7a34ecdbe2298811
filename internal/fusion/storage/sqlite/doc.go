// Package sqlite records tracking runs to a SQLite database.
//
// A run is one replay or live session with its tuning. Every processed
// frame stores one row per live track: queryable columns for the common
// filters plus the complete snapshot as a compact protobuf-wire blob.
// The schema is managed with golang-migrate from embedded migrations.
package sqlite
