package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/trackfusion/internal/fusion/tracks"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run describes one recorded session.
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is open
	FrameCount int
	ConfigJSON string
}

// TrackRecord is one stored snapshot of a track together with the frame
// it was taken in.
type TrackRecord struct {
	FrameIndex int
	Timestamp  time.Time
	Snapshot   tracks.Snapshot
}

// StartRun creates a run and returns its id. configJSON is stored verbatim
// so the run can be reproduced.
func (db *DB) StartRun(configJSON string, startedAt time.Time) (string, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	runID := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO runs (run_id, started_unix_nanos, config_json)
		VALUES (?, ?, ?)
	`, runID, unixNanos(startedAt), configJSON)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the end time of a run.
func (db *DB) FinishRun(runID string, finishedAt time.Time) error {
	res, err := db.Exec(`UPDATE runs SET finished_unix_nanos = ? WHERE run_id = ?`, unixNanos(finishedAt), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads a run by id.
func (db *DB) GetRun(runID string) (*Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := db.QueryRow(`
		SELECT run_id, started_unix_nanos, finished_unix_nanos, frame_count, config_json
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &started, &finished, &r.FrameCount, &r.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.StartedAt = fromUnixNanos(started)
	if finished.Valid {
		r.FinishedAt = fromUnixNanos(finished.Int64)
	}
	return &r, nil
}

// Recorder returns a frame recorder bound to runID.
func (db *DB) Recorder(runID string) *RunRecorder {
	return &RunRecorder{db: db, runID: runID}
}

// RunRecorder writes frames of one run.
type RunRecorder struct {
	db    *DB
	runID string
}

// RunID returns the run the recorder writes to.
func (r *RunRecorder) RunID() string { return r.runID }

// RecordFrame stores the frame and one row per snapshot in a single
// transaction.
func (r *RunRecorder) RecordFrame(index int, ts time.Time, snaps []tracks.Snapshot) error {
	return r.db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO frames (run_id, frame_index, ts_unix_nanos, track_count)
			VALUES (?, ?, ?, ?)
		`, r.runID, index, unixNanos(ts), len(snaps)); err != nil {
			return fmt.Errorf("insert frame %d: %w", index, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO track_snapshots (
				run_id, frame_index, track_id, track_state, score,
				x, y, z, vx, vy, vz,
				object_class, last_sensor, snapshot_blob
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range snaps {
			if _, err := stmt.Exec(
				r.runID, index, s.ID, s.State.String(), s.Score,
				s.X[0], s.X[1], s.X[2], s.X[3], s.X[4], s.X[5],
				s.Attributes.Class, s.LastSensor, EncodeSnapshot(s),
			); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", s.ID, err)
			}
		}

		res, err := tx.Exec(`UPDATE runs SET frame_count = frame_count + 1 WHERE run_id = ?`, r.runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, r.runID)
		}
		return nil
	})
}

// TrackHistory returns every stored snapshot of trackID in frame order.
func (db *DB) TrackHistory(runID, trackID string) ([]TrackRecord, error) {
	rows, err := db.Query(`
		SELECT s.frame_index, f.ts_unix_nanos, s.snapshot_blob
		FROM track_snapshots s
		JOIN frames f ON f.run_id = s.run_id AND f.frame_index = s.frame_index
		WHERE s.run_id = ? AND s.track_id = ?
		ORDER BY s.frame_index
	`, runID, trackID)
	if err != nil {
		return nil, fmt.Errorf("query track history: %w", err)
	}
	defer rows.Close()

	var out []TrackRecord
	for rows.Next() {
		var (
			rec  TrackRecord
			ts   int64
			blob []byte
		)
		if err := rows.Scan(&rec.FrameIndex, &ts, &blob); err != nil {
			return nil, fmt.Errorf("scan track history: %w", err)
		}
		snap, err := DecodeSnapshot(blob)
		if err != nil {
			return nil, fmt.Errorf("track %s frame %d: %w", trackID, rec.FrameIndex, err)
		}
		rec.Timestamp = fromUnixNanos(ts)
		rec.Snapshot = snap
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TrackIDs lists the distinct tracks recorded in a run, optionally
// restricted to those that reached state at least once. An empty state
// returns all of them.
func (db *DB) TrackIDs(runID string, state string) ([]string, error) {
	query := `SELECT DISTINCT track_id FROM track_snapshots WHERE run_id = ?`
	args := []interface{}{runID}
	if state != "" {
		query += ` AND track_state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY track_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query track ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan track id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FrameCount returns the number of frames recorded for a run.
func (db *DB) FrameCount(runID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM frames WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
