// Package recorder captures decoded sensor frames into a bounded
// in-memory session buffer and writes the session out as a single
// named-array archive file. Buffers are columnar: each scalar field
// lands in its own flat slice, so a flush is a straight copy into the
// archive with no per-frame bookkeeping left to do.
package recorder

import (
	"time"

	"github.com/aerosense-labs/skywatch/internal/lidar"
)

// Default session bounds. A session ends when either trips.
const (
	DefaultMaxScans    = 1000
	DefaultMaxDuration = 60 * time.Second
)

// pointFields is the number of columns in the flattened point array:
// x, y, z, intensity, time_offset, ring.
const pointFields = 6

// Limits bound a recording session. A zero or negative value disables
// that bound, so Limits{MaxDuration: 2 * time.Second} records for two
// seconds regardless of scan count.
type Limits struct {
	MaxScans    int
	MaxDuration time.Duration
}

// DefaultLimits returns the stock session bounds: 1000 scans or one
// minute, whichever comes first.
func DefaultLimits() Limits {
	return Limits{MaxScans: DefaultMaxScans, MaxDuration: DefaultMaxDuration}
}

// Buffer accumulates scan and IMU frames in columnar form. It is not
// safe for concurrent use; the Recorder owns it from a single
// goroutine.
type Buffer struct {
	limits  Limits
	start   time.Time
	started bool

	scanStamps []float64
	scanIDs    []uint32
	scanValid  []uint32
	scanSystem []float64

	points     []float32 // pointFields values per point
	pointScans []uint32  // index into the scan columns, one per point

	imuStamps  []float64
	imuIDs     []uint32
	imuSystem  []float64
	imuQuats   []float32 // 4 values per sample
	imuAngVels []float32 // 3 values per sample
	imuLinAccs []float32 // 3 values per sample
}

// NewBuffer returns an empty buffer with the given session bounds.
func NewBuffer(limits Limits) *Buffer {
	return &Buffer{limits: limits}
}

// Begin marks the start of the recording session for the duration
// bound.
func (b *Buffer) Begin(now time.Time) {
	b.start = now
	b.started = true
}

// StartedAt returns the session start time, zero before Begin.
func (b *Buffer) StartedAt() time.Time {
	return b.start
}

// Done reports whether the session has hit a bound: the scan count
// reached MaxScans, or the time since Begin reached MaxDuration. Both
// comparisons are inclusive. Callers check Done before every poll, so
// a session overruns MaxDuration by at most one poll interval.
func (b *Buffer) Done(now time.Time) bool {
	if b.limits.MaxScans > 0 && len(b.scanStamps) >= b.limits.MaxScans {
		return true
	}
	if b.limits.MaxDuration > 0 && b.started && now.Sub(b.start) >= b.limits.MaxDuration {
		return true
	}
	return false
}

// AddScan appends one scan frame. systemTime is the host clock at
// capture, in Unix seconds; the frame's own Stamp is the sensor clock.
func (b *Buffer) AddScan(scan lidar.ScanFrame, systemTime float64) {
	idx := uint32(len(b.scanStamps))
	b.scanStamps = append(b.scanStamps, scan.Stamp)
	b.scanIDs = append(b.scanIDs, scan.ID)
	b.scanValid = append(b.scanValid, uint32(len(scan.Points)))
	b.scanSystem = append(b.scanSystem, systemTime)

	for _, p := range scan.Points {
		b.points = append(b.points, p.X, p.Y, p.Z, p.Intensity, p.TimeOffset, float32(p.Ring))
		b.pointScans = append(b.pointScans, idx)
	}
}

// AddIMU appends one IMU sample.
func (b *Buffer) AddIMU(imu lidar.ImuSample, systemTime float64) {
	b.imuStamps = append(b.imuStamps, imu.Stamp)
	b.imuIDs = append(b.imuIDs, imu.ID)
	b.imuSystem = append(b.imuSystem, systemTime)
	b.imuQuats = append(b.imuQuats, imu.Quaternion[:]...)
	b.imuAngVels = append(b.imuAngVels, imu.AngularVelocity[:]...)
	b.imuLinAccs = append(b.imuLinAccs, imu.LinearAcceleration[:]...)
}

// ScanCount returns the number of buffered scans.
func (b *Buffer) ScanCount() int { return len(b.scanStamps) }

// IMUCount returns the number of buffered IMU samples.
func (b *Buffer) IMUCount() int { return len(b.imuStamps) }

// PointCount returns the total number of buffered points across scans.
func (b *Buffer) PointCount() int { return len(b.pointScans) }

// Reset clears all buffered data and the session start.
func (b *Buffer) Reset() {
	b.start = time.Time{}
	b.started = false
	b.scanStamps = nil
	b.scanIDs = nil
	b.scanValid = nil
	b.scanSystem = nil
	b.points = nil
	b.pointScans = nil
	b.imuStamps = nil
	b.imuIDs = nil
	b.imuSystem = nil
	b.imuQuats = nil
	b.imuAngVels = nil
	b.imuLinAccs = nil
}

// Arrays assembles the buffered columns into archive arrays. A side
// with no data contributes no arrays at all; the loader treats absent
// arrays as empty. The returned arrays alias the buffer's storage, so
// write them out before the next Reset.
func (b *Buffer) Arrays() []Array {
	var arrays []Array

	if n := len(b.scanStamps); n > 0 {
		arrays = append(arrays,
			Array{Name: ArrayScanTimestamps, Dtype: Float64, Shape: []int{n}, F64: b.scanStamps},
			Array{Name: ArrayScanIDs, Dtype: Uint32, Shape: []int{n}, U32: b.scanIDs},
			Array{Name: ArrayScanValidPoints, Dtype: Uint32, Shape: []int{n}, U32: b.scanValid},
			Array{Name: ArrayScanSystemTimes, Dtype: Float64, Shape: []int{n}, F64: b.scanSystem},
		)
		if pn := len(b.pointScans); pn > 0 {
			arrays = append(arrays,
				Array{Name: ArrayPoints, Dtype: Float32, Shape: []int{pn, pointFields}, F32: b.points},
				Array{Name: ArrayPointScanIndices, Dtype: Uint32, Shape: []int{pn}, U32: b.pointScans},
			)
		}
	}

	if n := len(b.imuStamps); n > 0 {
		arrays = append(arrays,
			Array{Name: ArrayIMUTimestamps, Dtype: Float64, Shape: []int{n}, F64: b.imuStamps},
			Array{Name: ArrayIMUIDs, Dtype: Uint32, Shape: []int{n}, U32: b.imuIDs},
			Array{Name: ArrayIMUSystemTimes, Dtype: Float64, Shape: []int{n}, F64: b.imuSystem},
			Array{Name: ArrayIMUQuaternions, Dtype: Float32, Shape: []int{n, 4}, F32: b.imuQuats},
			Array{Name: ArrayIMUAngularVelocities, Dtype: Float32, Shape: []int{n, 3}, F32: b.imuAngVels},
			Array{Name: ArrayIMULinearAccelerations, Dtype: Float32, Shape: []int{n, 3}, F32: b.imuLinAccs},
		)
	}

	return arrays
}
