package monitoring

// LogfObserver reports tracking events through Logf, one line per event.
// It satisfies the tracker's Observer interface.
type LogfObserver struct {
	// Verbose also logs per-pair updates, which fire every frame for
	// every associated track.
	Verbose bool
}

func (o LogfObserver) TrackCreated(trackID, sensor string, position [3]float64) {
	Logf("[tracks] created %s from %s at (%.2f, %.2f, %.2f)", trackID, sensor, position[0], position[1], position[2])
}

func (o LogfObserver) TrackUpdated(trackID, sensor string, measIndex int, score float64) {
	if o.Verbose {
		Logf("[tracks] updated %s with %s measurement %d, score %.3f", trackID, sensor, measIndex, score)
	}
}

func (o LogfObserver) AssociationSkipped(trackID, sensor string, measIndex int, reason string) {
	Logf("[tracks] skipped %s with %s measurement %d: %s", trackID, sensor, measIndex, reason)
}

func (o LogfObserver) NoMoreAssociations(unassignedTracks, unassignedMeasurements int) {
	if o.Verbose {
		Logf("[tracks] no admissible pairs left: %d tracks, %d measurements", unassignedTracks, unassignedMeasurements)
	}
}

func (o LogfObserver) TrackStateChanged(trackID, from, to string) {
	Logf("[tracks] %s %s -> %s", trackID, from, to)
}

func (o LogfObserver) TrackDeleted(trackID, reason string, score float64) {
	Logf("[tracks] deleted %s (%s, score %.3f)", trackID, reason, score)
}
