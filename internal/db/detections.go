package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aerosense-labs/skywatch/internal/lidar/detect"
)

// ErrRunNotFound is returned when a run id has no detection_runs row.
var ErrRunNotFound = errors.New("detection run not found")

// Detection is one stored detected object.
type Detection struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	ScanID     int64   `json:"scan_id"`
	ScanStamp  float64 `json:"scan_stamp"`
	CenterX    float64 `json:"center_x"`
	CenterY    float64 `json:"center_y"`
	CenterZ    float64 `json:"center_z"`
	SizeX      float64 `json:"size_x"`
	SizeY      float64 `json:"size_y"`
	SizeZ      float64 `json:"size_z"`
	Distance   float64 `json:"distance"`
	PointCount int64   `json:"point_count"`
	Confidence float64 `json:"confidence"`
	IsTarget   bool    `json:"is_target"`
	CreatedAt  float64 `json:"created_at"`
}

// RunSummary aggregates a run's row with its stored detections.
type RunSummary struct {
	RunID            string   `json:"run_id"`
	Source           string   `json:"source"`
	Preset           string   `json:"preset"`
	StartedAt        float64  `json:"started_at"`
	EndedAt          *float64 `json:"ended_at,omitempty"`
	ScanCount        int64    `json:"scan_count"`
	ObjectCount      int64    `json:"object_count"`
	TargetCount      int64    `json:"target_count"`
	StoredDetections int64    `json:"stored_detections"`
	MaxConfidence    float64  `json:"max_confidence"`
}

// CreateRun inserts a new detection run and returns its generated id.
// Times are unix seconds.
func (db *DB) CreateRun(source, preset string, startedAt float64) (string, error) {
	runID := uuid.New().String()
	_, err := db.Exec(`
		INSERT INTO detection_runs (run_id, source, preset, started_at)
		VALUES (?, ?, ?, ?)
	`, runID, source, preset, startedAt)
	if err != nil {
		return "", fmt.Errorf("failed to create detection run: %w", err)
	}
	return runID, nil
}

// FinishRun records the end time and final counters for a run.
func (db *DB) FinishRun(runID string, endedAt float64, scanCount, objectCount, targetCount int) error {
	result, err := db.Exec(`
		UPDATE detection_runs
		SET ended_at = ?, scan_count = ?, object_count = ?, target_count = ?
		WHERE run_id = ?
	`, endedAt, scanCount, objectCount, targetCount, runID)
	if err != nil {
		return fmt.Errorf("failed to finish detection run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// InsertDetections stores one detection cycle's objects in a single
// transaction. A cycle with no objects is a no-op.
func (db *DB) InsertDetections(runID string, scanID uint32, scanStamp, createdAt float64, objects []detect.DetectedObject) error {
	if len(objects) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (
			run_id, scan_id, scan_stamp,
			center_x, center_y, center_z,
			size_x, size_y, size_z,
			distance, point_count, confidence, is_target, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for _, obj := range objects {
		_, err := stmt.Exec(
			runID, int64(scanID), scanStamp,
			obj.Center[0], obj.Center[1], obj.Center[2],
			obj.Size[0], obj.Size[1], obj.Size[2],
			obj.Distance, int64(obj.PointCount), obj.Confidence, obj.IsTarget, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// RecentDetections returns the most recently stored detections, newest
// first, capped at limit.
func (db *DB) RecentDetections(limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, run_id, scan_id, scan_stamp,
		       center_x, center_y, center_z,
		       size_x, size_y, size_z,
		       distance, point_count, confidence, is_target, created_at
		FROM detections
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var d Detection
		err := rows.Scan(
			&d.ID, &d.RunID, &d.ScanID, &d.ScanStamp,
			&d.CenterX, &d.CenterY, &d.CenterZ,
			&d.SizeX, &d.SizeY, &d.SizeZ,
			&d.Distance, &d.PointCount, &d.Confidence, &d.IsTarget, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// RunDetections returns all stored detections for a run in insertion
// order.
func (db *DB) RunDetections(runID string) ([]Detection, error) {
	rows, err := db.Query(`
		SELECT id, run_id, scan_id, scan_stamp,
		       center_x, center_y, center_z,
		       size_x, size_y, size_z,
		       distance, point_count, confidence, is_target, created_at
		FROM detections
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run detections: %w", err)
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var d Detection
		err := rows.Scan(
			&d.ID, &d.RunID, &d.ScanID, &d.ScanStamp,
			&d.CenterX, &d.CenterY, &d.CenterZ,
			&d.SizeX, &d.SizeY, &d.SizeZ,
			&d.Distance, &d.PointCount, &d.Confidence, &d.IsTarget, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// RunSummary returns the run row joined with aggregates over its
// stored detections.
func (db *DB) RunSummary(runID string) (*RunSummary, error) {
	var s RunSummary
	var endedAt sql.NullFloat64
	err := db.QueryRow(`
		SELECT r.run_id, r.source, r.preset, r.started_at, r.ended_at,
		       r.scan_count, r.object_count, r.target_count,
		       COUNT(d.id), COALESCE(MAX(d.confidence), 0)
		FROM detection_runs r
		LEFT JOIN detections d ON d.run_id = r.run_id
		WHERE r.run_id = ?
		GROUP BY r.run_id
	`, runID).Scan(
		&s.RunID, &s.Source, &s.Preset, &s.StartedAt, &endedAt,
		&s.ScanCount, &s.ObjectCount, &s.TargetCount,
		&s.StoredDetections, &s.MaxConfidence,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run summary: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Float64
	}
	return &s, nil
}
