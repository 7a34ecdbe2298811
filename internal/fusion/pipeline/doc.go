// Package pipeline runs the tracking core one frame at a time.
//
// A Fuser owns the filter, the association engine and the track manager,
// and serialises frame processing against readers of the track list. Each
// frame predicts every live track once, associates and updates, hands the
// leftovers to lifecycle management and finally records a snapshot of the
// surviving tracks when a Recorder is attached.
package pipeline
