package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aerosense-labs/skywatch/internal/lidar"
	"github.com/aerosense-labs/skywatch/internal/monitoring"
	"github.com/aerosense-labs/skywatch/internal/timeutil"
)

// DefaultPollInterval paces the sampling loop. 2ms keeps comfortably
// ahead of the sensor's 100Hz IMU stream.
const DefaultPollInterval = 2 * time.Millisecond

// DefaultFilePrefix names archives when the caller does not.
const DefaultFilePrefix = "skywatch"

// FileExtension is the suffix of recording archive files.
const FileExtension = ".swrec"

// FrameSource supplies the most recent decoded frames. The UDP
// receiver's latest-value cache satisfies this; frames repeat across
// polls until a newer one arrives, and the recorder deduplicates.
type FrameSource interface {
	LatestScan() (lidar.ScanFrame, bool)
	LatestIMU() (lidar.ImuSample, bool)
}

// RecordingIOError reports a failed archive write. The buffered frames
// survive the failure, so the caller can fix the destination (create
// the directory, free disk space) and flush again.
type RecordingIOError struct {
	Path string
	Err  error
}

func (e *RecordingIOError) Error() string {
	return fmt.Sprintf("write recording %s: %v", e.Path, e.Err)
}

func (e *RecordingIOError) Unwrap() error { return e.Err }

// Config carries recorder settings. The zero value records to the
// current directory with default bounds.
type Config struct {
	// OutputDir receives archive files; it is created on flush if
	// absent. Empty means the current directory.
	OutputDir string

	// FilePrefix is the archive filename prefix before the timestamp.
	FilePrefix string

	// Limits bound the session. A zero Limits applies DefaultLimits;
	// set one field and leave the other zero to disable that bound.
	Limits Limits

	// PollInterval paces sampling of the frame source.
	PollInterval time.Duration

	// Source labels the recording's origin (typically the listen
	// address) in the archive info.
	Source string

	// Clock supplies time; nil means the real clock. Tests substitute
	// a mock to drive the duration bound deterministically.
	Clock timeutil.Clock
}

// Recorder samples a FrameSource into a session buffer until a bound
// trips, then flushes a single archive. Each Recorder handles one
// session at a time; Run may be called again after a flush for a fresh
// session under the same bounds.
type Recorder struct {
	source    FrameSource
	outputDir string
	prefix    string
	poll      time.Duration
	srcLabel  string
	clock     timeutil.Clock
	sessionID string
	buffer    *Buffer

	haveScan      bool
	lastScanID    uint32
	lastScanStamp float64

	haveIMU      bool
	lastIMUID    uint32
	lastIMUStamp float64
}

// NewRecorder returns a recorder sampling source under cfg.
func NewRecorder(source FrameSource, cfg Config) *Recorder {
	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	prefix := cfg.FilePrefix
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		source:    source,
		outputDir: outputDir,
		prefix:    prefix,
		poll:      poll,
		srcLabel:  cfg.Source,
		clock:     clock,
		sessionID: uuid.New().String(),
		buffer:    NewBuffer(limits),
	}
}

// SessionID returns the identifier stored in the archive info.
func (r *Recorder) SessionID() string { return r.sessionID }

// ScanCount returns the number of scans buffered so far.
func (r *Recorder) ScanCount() int { return r.buffer.ScanCount() }

// IMUCount returns the number of IMU samples buffered so far.
func (r *Recorder) IMUCount() int { return r.buffer.IMUCount() }

// PointCount returns the total points buffered so far.
func (r *Recorder) PointCount() int { return r.buffer.PointCount() }

// Run samples the frame source until a session bound trips or ctx is
// cancelled, then flushes. Cancellation is not an error: whatever was
// captured up to that point is written out, the same as an operator
// stopping a capture early. The returned path names the archive.
func (r *Recorder) Run(ctx context.Context) (string, error) {
	start := r.clock.Now()
	r.buffer.Begin(start)
	monitoring.Logf("recorder: session %s started (limits: %d scans, %s)",
		r.sessionID, r.buffer.limits.MaxScans, r.buffer.limits.MaxDuration)

	for {
		if r.buffer.Done(r.clock.Now()) {
			break
		}
		if ctx.Err() != nil {
			monitoring.Logf("recorder: session %s interrupted, flushing partial capture", r.sessionID)
			break
		}
		r.pollOnce()
		r.clock.Sleep(r.poll)
	}
	return r.Flush()
}

// pollOnce samples both frame kinds, recording each only when it
// differs from the previously recorded one. Identity is the (ID,
// Stamp) pair; the latest-value cache hands back the same frame until
// the sensor produces a new one.
func (r *Recorder) pollOnce() {
	now := unixSeconds(r.clock.Now())

	if scan, ok := r.source.LatestScan(); ok {
		if !r.haveScan || scan.ID != r.lastScanID || scan.Stamp != r.lastScanStamp {
			r.buffer.AddScan(scan, now)
			r.haveScan = true
			r.lastScanID = scan.ID
			r.lastScanStamp = scan.Stamp
		}
	}

	if imu, ok := r.source.LatestIMU(); ok {
		if !r.haveIMU || imu.ID != r.lastIMUID || imu.Stamp != r.lastIMUStamp {
			r.buffer.AddIMU(imu, now)
			r.haveIMU = true
			r.lastIMUID = imu.ID
			r.lastIMUStamp = imu.Stamp
		}
	}
}

// Flush writes the buffered session to a timestamped archive in the
// output directory and clears the buffer. On failure the buffer is
// left intact and the error is a *RecordingIOError.
func (r *Recorder) Flush() (string, error) {
	now := r.clock.Now()
	name := fmt.Sprintf("%s_%s%s", r.prefix, now.Format("20060102_150405"), FileExtension)
	path := filepath.Join(r.outputDir, name)

	start := r.buffer.StartedAt()
	if start.IsZero() {
		start = now
	}
	info := RecordingInfo{
		SessionID:  r.sessionID,
		Source:     r.srcLabel,
		StartTime:  unixSeconds(start),
		EndTime:    unixSeconds(now),
		ScanCount:  r.buffer.ScanCount(),
		IMUCount:   r.buffer.IMUCount(),
		PointCount: r.buffer.PointCount(),
	}

	arrays := append([]Array{InfoArray(info)}, r.buffer.Arrays()...)

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", &RecordingIOError{Path: path, Err: err}
	}
	if err := WriteArchive(path, info, arrays); err != nil {
		return "", &RecordingIOError{Path: path, Err: err}
	}

	monitoring.Logf("recorder: wrote %s (%d scans, %d points, %d imu samples)",
		path, info.ScanCount, info.PointCount, info.IMUCount)
	r.buffer.Reset()
	return path, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
