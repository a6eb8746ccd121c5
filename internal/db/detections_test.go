package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aerosense-labs/skywatch/internal/lidar/detect"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "skywatch.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testObject(confidence float64, isTarget bool) detect.DetectedObject {
	return detect.DetectedObject{
		Center:     [3]float64{5.0, 1.5, 2.0},
		Size:       [3]float64{0.4, 0.35, 0.3},
		Distance:   5.22,
		PointCount: 18,
		Confidence: confidence,
		IsTarget:   isTarget,
	}
}

func TestCreateAndFinishRun(t *testing.T) {
	db := setupTestDB(t)

	runID, err := db.CreateRun("udp:127.0.0.1:12345", "balanced", 1000.0)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if runID == "" {
		t.Fatal("CreateRun returned empty run id")
	}

	summary, err := db.RunSummary(runID)
	if err != nil {
		t.Fatalf("RunSummary failed: %v", err)
	}
	if summary.Source != "udp:127.0.0.1:12345" {
		t.Errorf("Source mismatch: got %q", summary.Source)
	}
	if summary.Preset != "balanced" {
		t.Errorf("Preset mismatch: got %q", summary.Preset)
	}
	if summary.EndedAt != nil {
		t.Errorf("EndedAt should be nil before FinishRun, got %v", *summary.EndedAt)
	}

	err = db.FinishRun(runID, 1060.0, 600, 42, 7)
	if err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	summary, err = db.RunSummary(runID)
	if err != nil {
		t.Fatalf("RunSummary after finish failed: %v", err)
	}
	if summary.EndedAt == nil || *summary.EndedAt != 1060.0 {
		t.Errorf("EndedAt mismatch: got %v, want 1060", summary.EndedAt)
	}
	if summary.ScanCount != 600 {
		t.Errorf("ScanCount mismatch: got %d, want 600", summary.ScanCount)
	}
	if summary.ObjectCount != 42 {
		t.Errorf("ObjectCount mismatch: got %d, want 42", summary.ObjectCount)
	}
	if summary.TargetCount != 7 {
		t.Errorf("TargetCount mismatch: got %d, want 7", summary.TargetCount)
	}
}

func TestFinishRun_UnknownRun(t *testing.T) {
	db := setupTestDB(t)

	err := db.FinishRun("no-such-run", 1.0, 0, 0, 0)
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestInsertDetections_RoundTrip(t *testing.T) {
	db := setupTestDB(t)

	runID, err := db.CreateRun("archive:test.swrec", "sensitive", 100.0)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	objects := []detect.DetectedObject{
		testObject(0.85, true),
		testObject(0.30, false),
	}
	err = db.InsertDetections(runID, 17, 100.5, 100.6, objects)
	if err != nil {
		t.Fatalf("InsertDetections failed: %v", err)
	}

	stored, err := db.RunDetections(runID)
	if err != nil {
		t.Fatalf("RunDetections failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored detections, got %d", len(stored))
	}

	first := stored[0]
	if first.RunID != runID {
		t.Errorf("RunID mismatch: got %q, want %q", first.RunID, runID)
	}
	if first.ScanID != 17 {
		t.Errorf("ScanID mismatch: got %d, want 17", first.ScanID)
	}
	if first.ScanStamp != 100.5 {
		t.Errorf("ScanStamp mismatch: got %v, want 100.5", first.ScanStamp)
	}
	if first.CenterX != 5.0 || first.CenterY != 1.5 || first.CenterZ != 2.0 {
		t.Errorf("Center mismatch: got (%v, %v, %v)", first.CenterX, first.CenterY, first.CenterZ)
	}
	if first.SizeX != 0.4 || first.SizeY != 0.35 || first.SizeZ != 0.3 {
		t.Errorf("Size mismatch: got (%v, %v, %v)", first.SizeX, first.SizeY, first.SizeZ)
	}
	if first.Distance != 5.22 {
		t.Errorf("Distance mismatch: got %v, want 5.22", first.Distance)
	}
	if first.PointCount != 18 {
		t.Errorf("PointCount mismatch: got %d, want 18", first.PointCount)
	}
	if first.Confidence != 0.85 {
		t.Errorf("Confidence mismatch: got %v, want 0.85", first.Confidence)
	}
	if !first.IsTarget {
		t.Error("first detection should be a target")
	}
	if first.CreatedAt != 100.6 {
		t.Errorf("CreatedAt mismatch: got %v, want 100.6", first.CreatedAt)
	}

	if stored[1].IsTarget {
		t.Error("second detection should not be a target")
	}
	if stored[1].Confidence != 0.30 {
		t.Errorf("second Confidence mismatch: got %v, want 0.30", stored[1].Confidence)
	}
}

func TestInsertDetections_EmptyCycle(t *testing.T) {
	db := setupTestDB(t)

	runID, err := db.CreateRun("", "", 1.0)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	err = db.InsertDetections(runID, 1, 1.0, 1.0, nil)
	if err != nil {
		t.Fatalf("InsertDetections with no objects should succeed: %v", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM detections").Scan(&count)
	if err != nil {
		t.Fatalf("failed to count detections: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 detections, got %d", count)
	}
}

func TestRecentDetections(t *testing.T) {
	db := setupTestDB(t)

	runID, err := db.CreateRun("sim", "debug", 10.0)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		stamp := 10.0 + float64(i)
		err = db.InsertDetections(runID, uint32(i+1), stamp, stamp+0.1, []detect.DetectedObject{
			testObject(float64(i)*0.1, true),
		})
		if err != nil {
			t.Fatalf("InsertDetections cycle %d failed: %v", i, err)
		}
	}

	recent, err := db.RecentDetections(2)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent detections, got %d", len(recent))
	}
	// Newest first
	if recent[0].ScanID != 3 {
		t.Errorf("expected newest detection first (scan 3), got scan %d", recent[0].ScanID)
	}
	if recent[1].ScanID != 2 {
		t.Errorf("expected scan 2 second, got scan %d", recent[1].ScanID)
	}

	all, err := db.RecentDetections(0)
	if err != nil {
		t.Fatalf("RecentDetections with default limit failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected all 3 detections with default limit, got %d", len(all))
	}
}

func TestRunSummary_Aggregates(t *testing.T) {
	db := setupTestDB(t)

	runA, err := db.CreateRun("sim", "balanced", 1.0)
	if err != nil {
		t.Fatalf("CreateRun A failed: %v", err)
	}
	runB, err := db.CreateRun("sim", "balanced", 2.0)
	if err != nil {
		t.Fatalf("CreateRun B failed: %v", err)
	}

	err = db.InsertDetections(runA, 1, 1.0, 1.1, []detect.DetectedObject{
		testObject(0.4, true),
		testObject(0.9, true),
	})
	if err != nil {
		t.Fatalf("InsertDetections A failed: %v", err)
	}
	err = db.InsertDetections(runB, 1, 2.0, 2.1, []detect.DetectedObject{
		testObject(0.99, true),
	})
	if err != nil {
		t.Fatalf("InsertDetections B failed: %v", err)
	}

	summary, err := db.RunSummary(runA)
	if err != nil {
		t.Fatalf("RunSummary A failed: %v", err)
	}
	if summary.StoredDetections != 2 {
		t.Errorf("StoredDetections mismatch: got %d, want 2", summary.StoredDetections)
	}
	if summary.MaxConfidence != 0.9 {
		t.Errorf("MaxConfidence mismatch: got %v, want 0.9", summary.MaxConfidence)
	}
}

func TestRunSummary_NoDetections(t *testing.T) {
	db := setupTestDB(t)

	runID, err := db.CreateRun("sim", "balanced", 1.0)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	summary, err := db.RunSummary(runID)
	if err != nil {
		t.Fatalf("RunSummary failed: %v", err)
	}
	if summary.StoredDetections != 0 {
		t.Errorf("StoredDetections should be 0, got %d", summary.StoredDetections)
	}
	if summary.MaxConfidence != 0 {
		t.Errorf("MaxConfidence should be 0, got %v", summary.MaxConfidence)
	}
}

func TestRunSummary_UnknownRun(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.RunSummary("no-such-run")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
