package sqlite

import (
	"testing"
	"time"

	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"github.com/banshee-data/trackfusion/internal/fusion/tracks"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleSnapshot() tracks.Snapshot {
	s := tracks.Snapshot{
		ID:     "trk_a",
		State:  tracks.TrackConfirmed,
		Score:  5.0 / 6.0,
		Hits:   4,
		Misses: 0,
		X:      [sensors.StateDim]float64{10, -2, 0.5, 1.5, 0, -0.1},
		Attributes: sensors.Attributes{
			Class:  "car",
			Width:  1.8,
			Length: 4.5,
			Yaw:    -3.1,
		},
		LastSensor:  "lidar",
		FirstSeen:   time.Unix(1700000000, 0).UTC(),
		LastUpdated: time.Unix(1700000001, 500).UTC(),
	}
	n := sensors.StateDim
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := 0.01 * float64(1+i+j)
			if i == j {
				v = float64(i + 1)
			}
			s.P[i*n+j] = v
		}
	}
	return s
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		snap tracks.Snapshot
	}{
		{"full", sampleSnapshot()},
		{"minimal", tracks.Snapshot{ID: "trk_b", State: tracks.TrackInitialized, Score: 1.0 / 6.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSnapshot(EncodeSnapshot(tt.snap))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.snap, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSnapshotCovarianceIsPackedUpperTriangle(t *testing.T) {
	t.Parallel()
	b := EncodeSnapshot(sampleSnapshot())

	var found bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.Positive(t, n)
		b = b[n:]
		if num == fieldCovariance {
			require.Equal(t, protowire.BytesType, typ)
			v, n := protowire.ConsumeBytes(b)
			require.Positive(t, n)
			assert.Len(t, v, 8*21)
			found = true
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		require.Positive(t, n)
		b = b[n:]
	}
	assert.True(t, found)
}

func TestDecodeSnapshotSkipsUnknownFields(t *testing.T) {
	t.Parallel()
	b := EncodeSnapshot(sampleSnapshot())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	got, err := DecodeSnapshot(b)
	require.NoError(t, err)
	assert.Equal(t, "trk_a", got.ID)
}

func TestDecodeSnapshotRejectsMalformed(t *testing.T) {
	t.Parallel()
	full := EncodeSnapshot(sampleSnapshot())

	shortMean := protowire.AppendTag(nil, fieldID, protowire.BytesType)
	shortMean = protowire.AppendString(shortMean, "x")
	shortMean = appendPacked(shortMean, fieldMean, []float64{1, 2})

	tests := []struct {
		name string
		blob []byte
	}{
		{"truncated", full[:len(full)-3]},
		{"missing id", appendDouble(nil, fieldScore, 0.5)},
		{"short mean", shortMean},
		{"ragged packed", append(protowire.AppendTag(nil, fieldMean, protowire.BytesType), 3, 1, 2, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(tt.blob)
			assert.ErrorIs(t, err, errMalformedSnapshot)
		})
	}
}
