package monitoring

import "go.uber.org/zap"

// ZapObserver reports tracking events as structured zap entries. Lifecycle
// changes log at info, per-pair telemetry at debug.
type ZapObserver struct {
	logger *zap.SugaredLogger
}

// NewZapObserver wraps logger. A nil logger discards every event.
func NewZapObserver(logger *zap.SugaredLogger) *ZapObserver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ZapObserver{logger: logger.Named("tracks")}
}

func (z *ZapObserver) TrackCreated(trackID, sensor string, position [3]float64) {
	z.logger.Infow("track created",
		"track_id", trackID,
		"sensor", sensor,
		"x", position[0],
		"y", position[1],
		"z", position[2],
	)
}

func (z *ZapObserver) TrackUpdated(trackID, sensor string, measIndex int, score float64) {
	z.logger.Debugw("track updated",
		"track_id", trackID,
		"sensor", sensor,
		"measurement", measIndex,
		"score", score,
	)
}

func (z *ZapObserver) AssociationSkipped(trackID, sensor string, measIndex int, reason string) {
	z.logger.Debugw("association skipped",
		"track_id", trackID,
		"sensor", sensor,
		"measurement", measIndex,
		"reason", reason,
	)
}

func (z *ZapObserver) NoMoreAssociations(unassignedTracks, unassignedMeasurements int) {
	z.logger.Debugw("no admissible pairs left",
		"unassigned_tracks", unassignedTracks,
		"unassigned_measurements", unassignedMeasurements,
	)
}

func (z *ZapObserver) TrackStateChanged(trackID, from, to string) {
	z.logger.Infow("track state changed",
		"track_id", trackID,
		"from", from,
		"to", to,
	)
}

func (z *ZapObserver) TrackDeleted(trackID, reason string, score float64) {
	z.logger.Infow("track deleted",
		"track_id", trackID,
		"reason", reason,
		"score", score,
	)
}
