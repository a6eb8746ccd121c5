package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerosense-labs/skywatch/internal/lidar"
	"github.com/aerosense-labs/skywatch/internal/monitoring"
	"github.com/aerosense-labs/skywatch/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// scriptedSource hands out frames and optionally advances a mock clock
// on every scan poll, so a recorder loop runs deterministically with
// no real time passing.
type scriptedSource struct {
	clock *timeutil.MockClock
	step  time.Duration

	scans     []lidar.ScanFrame
	scanIdx   int
	repeat    bool // keep returning the last scan once exhausted
	imus      []lidar.ImuSample
	imuIdx    int
	scanPolls int
}

func (s *scriptedSource) LatestScan() (lidar.ScanFrame, bool) {
	s.scanPolls++
	if s.clock != nil && s.step > 0 {
		s.clock.Advance(s.step)
	}
	if len(s.scans) == 0 {
		return lidar.ScanFrame{}, false
	}
	if s.scanIdx >= len(s.scans) {
		if !s.repeat {
			return lidar.ScanFrame{}, false
		}
		return s.scans[len(s.scans)-1], true
	}
	scan := s.scans[s.scanIdx]
	s.scanIdx++
	return scan, true
}

func (s *scriptedSource) LatestIMU() (lidar.ImuSample, bool) {
	if len(s.imus) == 0 {
		return lidar.ImuSample{}, false
	}
	if s.imuIdx >= len(s.imus) {
		return s.imus[len(s.imus)-1], true
	}
	imu := s.imus[s.imuIdx]
	s.imuIdx++
	return imu, true
}

func TestRecorder_StopsAtScanLimit(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	source := &scriptedSource{
		scans: []lidar.ScanFrame{
			testScan(1, 0.1, 2), testScan(2, 0.2, 2), testScan(3, 0.3, 2),
			testScan(4, 0.4, 2), testScan(5, 0.5, 2),
		},
		repeat: true,
		imus:   []lidar.ImuSample{testIMU(1, 0.1)},
	}

	rec := NewRecorder(source, Config{
		OutputDir: t.TempDir(),
		Limits:    Limits{MaxScans: 3},
		Clock:     clock,
		Source:    "test:0",
	})

	path, err := rec.Run(context.Background())
	require.NoError(t, err)

	loaded, err := LoadArchive(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())

	assert.Equal(t, 3, loaded.Info.ScanCount, "stops at exactly the scan limit")
	assert.Equal(t, 6, loaded.Info.PointCount)
	assert.Equal(t, rec.SessionID(), loaded.Info.SessionID)
	assert.Equal(t, "test:0", loaded.Info.Source)

	ids, ok := loaded.Array(ArrayScanIDs)
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 2, 3}, ids.U32)
}

func TestRecorder_StopsAtDurationLimit(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)

	// The source repeats one frame forever while advancing the clock
	// 100ms per poll: the session must end on time with a single
	// deduplicated scan.
	source := &scriptedSource{
		clock:  clock,
		step:   100 * time.Millisecond,
		scans:  []lidar.ScanFrame{testScan(9, 4.2, 3)},
		repeat: true,
	}

	rec := NewRecorder(source, Config{
		OutputDir: t.TempDir(),
		Limits:    Limits{MaxDuration: 2 * time.Second},
		Clock:     clock,
	})

	path, err := rec.Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, source.scanPolls, 21, "the loop must stop once the bound trips")

	loaded, err := LoadArchive(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Info.ScanCount, "repeated frames collapse to one")
	assert.InDelta(t, 2.0, loaded.Info.EndTime-loaded.Info.StartTime, 0.11)
}

func TestRecorder_DeduplicatesByIDAndStamp(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	// Same ID with a new stamp still counts as a new frame; sensors
	// restart their counters.
	source := &scriptedSource{
		scans: []lidar.ScanFrame{
			testScan(1, 0.1, 1), testScan(1, 0.1, 1), testScan(1, 0.1, 1),
			testScan(1, 0.2, 1),
			testScan(2, 0.3, 1), testScan(2, 0.3, 1),
		},
	}

	rec := NewRecorder(source, Config{
		OutputDir: t.TempDir(),
		Limits:    Limits{MaxScans: 3},
		Clock:     clock,
	})

	path, err := rec.Run(context.Background())
	require.NoError(t, err)

	loaded, err := LoadArchive(path)
	require.NoError(t, err)

	stamps, ok := loaded.Array(ArrayScanTimestamps)
	require.True(t, ok)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, stamps.F64)
}

func TestRecorder_CancelFlushesPartialCapture(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	source := &scriptedSource{}

	rec := NewRecorder(source, Config{
		OutputDir: t.TempDir(),
		Clock:     clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path, err := rec.Run(ctx)
	require.NoError(t, err, "cancellation is a normal stop")

	loaded, err := LoadArchive(path)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Info.ScanCount)
	assert.NoError(t, loaded.Validate())
}

func TestRecorder_FlushFailureKeepsBuffer(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("a file, not a directory"), 0o644))

	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	source := &scriptedSource{
		scans: []lidar.ScanFrame{testScan(1, 0.1, 4), testScan(2, 0.2, 4)},
	}

	rec := NewRecorder(source, Config{
		OutputDir: filepath.Join(blocker, "out"),
		Limits:    Limits{MaxScans: 2},
		Clock:     clock,
	})

	_, err := rec.Run(context.Background())
	var ioErr *RecordingIOError
	require.ErrorAs(t, err, &ioErr)

	assert.Equal(t, 2, rec.ScanCount(), "buffer survives a failed flush")
	assert.Equal(t, 8, rec.PointCount())

	// Clear the obstruction and retry the same flush.
	require.NoError(t, os.Remove(blocker))

	path, err := rec.Flush()
	require.NoError(t, err)

	loaded, err := LoadArchive(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Info.ScanCount)
	assert.Equal(t, 0, rec.ScanCount(), "buffer clears after a successful flush")
}

func TestRecorder_ArchiveFilename(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 10, 30, 45, 0, time.UTC))
	rec := NewRecorder(&scriptedSource{}, Config{
		OutputDir:  t.TempDir(),
		FilePrefix: "fieldtest",
		Limits:     Limits{MaxScans: 1},
		Clock:      clock,
	})

	path, err := rec.Flush()
	require.NoError(t, err)
	assert.Equal(t, "fieldtest_20260301_103045"+FileExtension, filepath.Base(path))
}

func TestRecorder_IOErrorUnwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := &RecordingIOError{Path: "/data/x.swrec", Err: inner}

	require.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "/data/x.swrec")
}
