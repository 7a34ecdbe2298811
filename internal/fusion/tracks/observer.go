package tracks

// Observer receives structured events from the tracking core. Arguments are
// plain values so adapters need not import this package. Implementations
// are called synchronously on the frame-processing goroutine and must not
// block.
type Observer interface {
	TrackCreated(trackID, sensor string, position [3]float64)
	TrackUpdated(trackID, sensor string, measIndex int, score float64)
	AssociationSkipped(trackID, sensor string, measIndex int, reason string)
	NoMoreAssociations(unassignedTracks, unassignedMeasurements int)
	TrackStateChanged(trackID, from, to string)
	TrackDeleted(trackID, reason string, score float64)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) TrackCreated(string, string, [3]float64) {}
func (NopObserver) TrackUpdated(string, string, int, float64) {}
func (NopObserver) AssociationSkipped(string, string, int, string) {}
func (NopObserver) NoMoreAssociations(int, int) {}
func (NopObserver) TrackStateChanged(string, string, string) {}
func (NopObserver) TrackDeleted(string, string, float64) {}
