// Package monitor collects runtime counters for the ingestion service and
// exposes snapshots for the status API.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/aerosense-labs/skywatch/internal/monitoring"
)

// StatsSnapshot is a point-in-time view of ingestion rates, stored for
// the status API after each LogStats call.
type StatsSnapshot struct {
	DatagramsPerSec float64   `json:"datagrams_per_sec"`
	KBPerSec        float64   `json:"kb_per_sec"`
	ScansPerSec     float64   `json:"scans_per_sec"`
	PointsPerSec    float64   `json:"points_per_sec"`
	IMUPerSec       float64   `json:"imu_per_sec"`
	DecodeFailures  int64     `json:"decode_failures"`
	DroppedForwards int64     `json:"dropped_forwards"`
	Timestamp       time.Time `json:"timestamp"`
}

// FrameStats tracks ingestion statistics with thread-safe operations. It
// satisfies both the receiver's and the forwarder's stats interfaces.
type FrameStats struct {
	mu             sync.Mutex
	datagramCount  int64
	byteCount      int64
	scanCount      int64
	pointCount     int64
	imuCount       int64
	decodeFailures int64
	droppedCount   int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewFrameStats creates a new FrameStats instance.
func NewFrameStats() *FrameStats {
	now := time.Now()
	return &FrameStats{
		lastReset: now,
		startTime: now,
	}
}

// AddDatagram increments datagram and byte counts.
func (fs *FrameStats) AddDatagram(bytes int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.datagramCount++
	fs.byteCount += int64(bytes)
}

// AddScan increments the scan count and adds its decoded points.
func (fs *FrameStats) AddScan(points int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.scanCount++
	fs.pointCount += int64(points)
}

// AddIMU increments the IMU sample count.
func (fs *FrameStats) AddIMU() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.imuCount++
}

// AddDecodeFailure increments the decode failure count.
func (fs *FrameStats) AddDecodeFailure() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.decodeFailures++
}

// AddDropped increments the forward-drop count.
func (fs *FrameStats) AddDropped() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.droppedCount++
}

// GetAndReset returns the interval counters and resets them. Decode
// failures and forward drops are cumulative and survive the reset.
func (fs *FrameStats) GetAndReset() (datagrams, bytes, scans, points, imus int64, duration time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(fs.lastReset)
	datagrams = fs.datagramCount
	bytes = fs.byteCount
	scans = fs.scanCount
	points = fs.pointCount
	imus = fs.imuCount

	fs.datagramCount = 0
	fs.byteCount = 0
	fs.scanCount = 0
	fs.pointCount = 0
	fs.imuCount = 0
	fs.lastReset = now

	return
}

// LogStats logs formatted rates and stores a snapshot for the status API.
func (fs *FrameStats) LogStats() {
	datagrams, bytes, scans, points, imus, duration := fs.GetAndReset()
	if datagrams == 0 {
		return
	}

	perSec := func(n int64) float64 { return float64(n) / duration.Seconds() }
	kbPerSec := float64(bytes) / duration.Seconds() / 1024

	fs.mu.Lock()
	decodeFailures := fs.decodeFailures
	dropped := fs.droppedCount
	fs.latestSnapshot = &StatsSnapshot{
		DatagramsPerSec: perSec(datagrams),
		KBPerSec:        kbPerSec,
		ScansPerSec:     perSec(scans),
		PointsPerSec:    perSec(points),
		IMUPerSec:       perSec(imus),
		DecodeFailures:  decodeFailures,
		DroppedForwards: dropped,
		Timestamp:       time.Now(),
	}
	fs.mu.Unlock()

	logMsg := fmt.Sprintf("Sensor stats (/sec): %.1f KB, %.1f datagrams, %.1f scans, %s points, %.1f imu",
		kbPerSec, perSec(datagrams), perSec(scans), FormatWithCommas(int64(perSec(points))), perSec(imus))
	if decodeFailures > 0 {
		logMsg += fmt.Sprintf(", %d decode failures", decodeFailures)
	}
	if dropped > 0 {
		logMsg += fmt.Sprintf(", %d dropped on forward", dropped)
	}

	monitoring.Logf("%s", logMsg)
}

// GetUptime returns the time since the stats were created.
func (fs *FrameStats) GetUptime() time.Duration {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return time.Since(fs.startTime)
}

// GetLatestSnapshot returns a copy of the most recent snapshot, or nil
// before the first LogStats.
func (fs *FrameStats) GetLatestSnapshot() *StatsSnapshot {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.latestSnapshot == nil {
		return nil
	}
	snapshot := *fs.latestSnapshot
	return &snapshot
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
