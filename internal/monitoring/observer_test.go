package monitoring

import (
	"fmt"
	"testing"

	"github.com/banshee-data/trackfusion/internal/fusion/tracks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	_ tracks.Observer = LogfObserver{}
	_ tracks.Observer = (*ZapObserver)(nil)
)

func captureLogf(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func emitAll(obs tracks.Observer) {
	obs.TrackCreated("trk_1", "lidar", [3]float64{1, 2, 3})
	obs.TrackUpdated("trk_1", "lidar", 0, 0.5)
	obs.AssociationSkipped("trk_1", "camera", 2, "out_of_fov")
	obs.NoMoreAssociations(1, 2)
	obs.TrackStateChanged("trk_1", "tentative", "confirmed")
	obs.TrackDeleted("trk_1", "low_score", 0.05)
}

func TestLogfObserver(t *testing.T) {
	lines := captureLogf(t)
	emitAll(LogfObserver{})

	assert.Equal(t, []string{
		"[tracks] created trk_1 from lidar at (1.00, 2.00, 3.00)",
		"[tracks] skipped trk_1 with camera measurement 2: out_of_fov",
		"[tracks] trk_1 tentative -> confirmed",
		"[tracks] deleted trk_1 (low_score, score 0.050)",
	}, *lines)
}

func TestLogfObserverVerbose(t *testing.T) {
	lines := captureLogf(t)
	emitAll(LogfObserver{Verbose: true})

	require.Len(t, *lines, 6)
	assert.Equal(t, "[tracks] updated trk_1 with lidar measurement 0, score 0.500", (*lines)[1])
	assert.Equal(t, "[tracks] no admissible pairs left: 1 tracks, 2 measurements", (*lines)[3])
}

func TestZapObserver(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	emitAll(NewZapObserver(zap.New(core).Sugar()))

	entries := logs.All()
	require.Len(t, entries, 6)

	want := []struct {
		msg   string
		level zapcore.Level
	}{
		{"track created", zap.InfoLevel},
		{"track updated", zap.DebugLevel},
		{"association skipped", zap.DebugLevel},
		{"no admissible pairs left", zap.DebugLevel},
		{"track state changed", zap.InfoLevel},
		{"track deleted", zap.InfoLevel},
	}
	for i, w := range want {
		assert.Equal(t, w.msg, entries[i].Message)
		assert.Equal(t, w.level, entries[i].Level)
		assert.Equal(t, "tracks", entries[i].LoggerName)
	}

	fields := entries[2].ContextMap()
	assert.Equal(t, "trk_1", fields["track_id"])
	assert.Equal(t, "out_of_fov", fields["reason"])
	assert.Equal(t, int64(2), fields["measurement"])

	assert.Equal(t, "confirmed", entries[4].ContextMap()["to"])
}

func TestZapObserverInfoLevelDropsTelemetry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	emitAll(NewZapObserver(zap.New(core).Sugar()))
	assert.Equal(t, 3, logs.Len())
}

func TestNewZapObserverNil(t *testing.T) {
	assert.NotPanics(t, func() { emitAll(NewZapObserver(nil)) })
}
