package sqlite

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/trackfusion/internal/fusion/sensors"
	"github.com/banshee-data/trackfusion/internal/fusion/tracks"
	"google.golang.org/protobuf/encoding/protowire"
)

// Snapshot blob field numbers. Numbers are never reused.
const (
	fieldID          protowire.Number = 1
	fieldState       protowire.Number = 2
	fieldScore       protowire.Number = 3
	fieldHits        protowire.Number = 4
	fieldMisses      protowire.Number = 5
	fieldMean        protowire.Number = 6 // packed doubles, StateDim
	fieldCovariance  protowire.Number = 7 // packed doubles, upper triangle row by row
	fieldClass       protowire.Number = 8
	fieldWidth       protowire.Number = 9
	fieldLength      protowire.Number = 10
	fieldHeight      protowire.Number = 11
	fieldYaw         protowire.Number = 12
	fieldLastSensor  protowire.Number = 13
	fieldFirstSeen   protowire.Number = 14 // unix nanos, zigzag
	fieldLastUpdated protowire.Number = 15 // unix nanos, zigzag
)

const upperTriangle = sensors.StateDim * (sensors.StateDim + 1) / 2

var errMalformedSnapshot = errors.New("malformed snapshot blob")

// EncodeSnapshot serialises s in protobuf wire format. The covariance is
// stored as its upper triangle; zero-valued optional fields are omitted.
func EncodeSnapshot(s tracks.Snapshot) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, s.ID)
	b = protowire.AppendTag(b, fieldState, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.State))
	b = appendDouble(b, fieldScore, s.Score)
	b = protowire.AppendTag(b, fieldHits, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Hits))
	b = protowire.AppendTag(b, fieldMisses, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Misses))

	b = appendPacked(b, fieldMean, s.X[:])
	n := sensors.StateDim
	tri := make([]float64, 0, upperTriangle)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			tri = append(tri, s.P[i*n+j])
		}
	}
	b = appendPacked(b, fieldCovariance, tri)

	if s.Attributes.Class != "" {
		b = protowire.AppendTag(b, fieldClass, protowire.BytesType)
		b = protowire.AppendString(b, s.Attributes.Class)
	}
	for _, f := range []struct {
		num protowire.Number
		v   float64
	}{
		{fieldWidth, s.Attributes.Width},
		{fieldLength, s.Attributes.Length},
		{fieldHeight, s.Attributes.Height},
		{fieldYaw, s.Attributes.Yaw},
	} {
		if f.v != 0 {
			b = appendDouble(b, f.num, f.v)
		}
	}
	if s.LastSensor != "" {
		b = protowire.AppendTag(b, fieldLastSensor, protowire.BytesType)
		b = protowire.AppendString(b, s.LastSensor)
	}
	if !s.FirstSeen.IsZero() {
		b = protowire.AppendTag(b, fieldFirstSeen, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.FirstSeen.UnixNano()))
	}
	if !s.LastUpdated.IsZero() {
		b = protowire.AppendTag(b, fieldLastUpdated, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.LastUpdated.UnixNano()))
	}
	return b
}

// DecodeSnapshot parses a blob written by EncodeSnapshot. Unknown fields
// are skipped.
func DecodeSnapshot(b []byte) (tracks.Snapshot, error) {
	var s tracks.Snapshot
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return tracks.Snapshot{}, fmt.Errorf("%w: %v", errMalformedSnapshot, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldID || num == fieldClass || num == fieldLastSensor):
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return tracks.Snapshot{}, fmt.Errorf("%w: field %d: %v", errMalformedSnapshot, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldID:
				s.ID = v
			case fieldClass:
				s.Attributes.Class = v
			default:
				s.LastSensor = v
			}

		case typ == protowire.BytesType && (num == fieldMean || num == fieldCovariance):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return tracks.Snapshot{}, fmt.Errorf("%w: field %d: %v", errMalformedSnapshot, num, protowire.ParseError(n))
			}
			b = b[n:]
			vals, err := unpackDoubles(v)
			if err != nil {
				return tracks.Snapshot{}, err
			}
			if num == fieldMean {
				if len(vals) != sensors.StateDim {
					return tracks.Snapshot{}, fmt.Errorf("%w: mean has %d values", errMalformedSnapshot, len(vals))
				}
				copy(s.X[:], vals)
				continue
			}
			if len(vals) != upperTriangle {
				return tracks.Snapshot{}, fmt.Errorf("%w: covariance has %d values", errMalformedSnapshot, len(vals))
			}
			dim := sensors.StateDim
			k := 0
			for i := 0; i < dim; i++ {
				for j := i; j < dim; j++ {
					s.P[i*dim+j] = vals[k]
					s.P[j*dim+i] = vals[k]
					k++
				}
			}

		case typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return tracks.Snapshot{}, fmt.Errorf("%w: field %d: %v", errMalformedSnapshot, num, protowire.ParseError(n))
			}
			b = b[n:]
			f := math.Float64frombits(v)
			switch num {
			case fieldScore:
				s.Score = f
			case fieldWidth:
				s.Attributes.Width = f
			case fieldLength:
				s.Attributes.Length = f
			case fieldHeight:
				s.Attributes.Height = f
			case fieldYaw:
				s.Attributes.Yaw = f
			}

		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return tracks.Snapshot{}, fmt.Errorf("%w: field %d: %v", errMalformedSnapshot, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldState:
				s.State = tracks.TrackState(v)
			case fieldHits:
				s.Hits = int(v)
			case fieldMisses:
				s.Misses = int(v)
			case fieldFirstSeen:
				s.FirstSeen = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			case fieldLastUpdated:
				s.LastUpdated = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return tracks.Snapshot{}, fmt.Errorf("%w: field %d: %v", errMalformedSnapshot, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if s.ID == "" {
		return tracks.Snapshot{}, fmt.Errorf("%w: missing track id", errMalformedSnapshot)
	}
	return s, nil
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPacked(b []byte, num protowire.Number, vals []float64) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(vals)))
	for _, v := range vals {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func unpackDoubles(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: packed doubles length %d", errMalformedSnapshot, len(b))
	}
	out := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedSnapshot, protowire.ParseError(n))
		}
		out = append(out, math.Float64frombits(v))
		b = b[n:]
	}
	return out, nil
}
