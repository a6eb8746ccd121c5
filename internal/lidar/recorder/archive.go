package recorder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Archive container layout, all integers little-endian:
//
//	bytes 0-7    magic "SWREC001"
//	bytes 8-11   uint32 header length H
//	bytes 12-    H bytes of JSON header (version, recording info,
//	             array directory)
//	then         raw array blocks, back to back, in directory order
//
// Array offsets in the directory are relative to the start of the data
// section (byte 12+H), so the header does not depend on its own
// encoded size. Arrays are looked up by name; a reader must tolerate
// arrays it does not know and arrays that are absent.
const (
	archiveMagic   = "SWREC001"
	archiveVersion = 1

	// maxHeaderSize bounds the JSON header read so a corrupt length
	// field cannot force a huge allocation.
	maxHeaderSize = 16 << 20
)

// Errors returned by LoadArchive and ArchiveFile.Validate.
var (
	ErrNotArchive     = errors.New("not a recording archive")
	ErrCorruptArchive = errors.New("corrupt recording archive")
)

// Canonical array names. Scan columns are row-aligned with each other,
// IMU columns likewise; point_scan_indices maps each row of points
// back to its scan row.
const (
	ArrayRecordingInfo          = "recording_info"
	ArrayScanTimestamps         = "scan_timestamps"
	ArrayScanIDs                = "scan_ids"
	ArrayScanValidPoints        = "scan_valid_points"
	ArrayScanSystemTimes        = "scan_system_times"
	ArrayPoints                 = "points"
	ArrayPointScanIndices       = "point_scan_indices"
	ArrayIMUTimestamps          = "imu_timestamps"
	ArrayIMUIDs                 = "imu_ids"
	ArrayIMUSystemTimes         = "imu_system_times"
	ArrayIMUQuaternions         = "imu_quaternions"
	ArrayIMUAngularVelocities   = "imu_angular_velocities"
	ArrayIMULinearAccelerations = "imu_linear_accelerations"
)

// Dtype identifies the element type of an archive array.
type Dtype string

const (
	Float64 Dtype = "f64"
	Float32 Dtype = "f32"
	Uint32  Dtype = "u32"
)

// Size returns the byte width of one element, zero for an unknown
// dtype.
func (d Dtype) Size() int {
	switch d {
	case Float64:
		return 8
	case Float32, Uint32:
		return 4
	}
	return 0
}

// Array is one named block of homogeneous values. Exactly one of F64,
// F32 or U32 is populated, matching Dtype. Shape describes the logical
// dimensions; the data slice holds the elements flattened row-major.
type Array struct {
	Name  string
	Dtype Dtype
	Shape []int

	F64 []float64
	F32 []float32
	U32 []uint32
}

// Rows returns the leading dimension of the array, zero for an empty
// shape.
func (a Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// elems returns the element count implied by Shape, or -1 when a
// dimension is negative.
func (a Array) elems() int {
	n := 1
	for _, d := range a.Shape {
		if d < 0 {
			return -1
		}
		n *= d
	}
	if len(a.Shape) == 0 {
		return 0
	}
	return n
}

// payload returns the populated data slice and its element count.
func (a Array) payload() (any, int, error) {
	switch a.Dtype {
	case Float64:
		return a.F64, len(a.F64), nil
	case Float32:
		return a.F32, len(a.F32), nil
	case Uint32:
		return a.U32, len(a.U32), nil
	}
	return nil, 0, fmt.Errorf("array %q: unknown dtype %q", a.Name, a.Dtype)
}

// RecordingInfo describes a capture session. It is stored in the
// archive header and mirrored as the recording_info array.
type RecordingInfo struct {
	SessionID  string  `json:"session_id"`
	Source     string  `json:"source,omitempty"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	ScanCount  int     `json:"scan_count"`
	IMUCount   int     `json:"imu_count"`
	PointCount int     `json:"point_count"`
}

// InfoArray mirrors the session bounds into a plain numeric array:
// start time, end time, scan count, IMU sample count. Tools that only
// walk arrays still see the session shape without parsing the header.
func InfoArray(info RecordingInfo) Array {
	return Array{
		Name:  ArrayRecordingInfo,
		Dtype: Float64,
		Shape: []int{4},
		F64: []float64{
			info.StartTime,
			info.EndTime,
			float64(info.ScanCount),
			float64(info.IMUCount),
		},
	}
}

type arrayHeader struct {
	Name   string `json:"name"`
	Dtype  Dtype  `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

type archiveHeader struct {
	Version int           `json:"version"`
	Info    RecordingInfo `json:"recording_info"`
	Arrays  []arrayHeader `json:"arrays"`
}

// WriteArchive writes info and arrays to path, replacing any existing
// file. On failure the partial file is removed.
func WriteArchive(path string, info RecordingInfo, arrays []Array) error {
	header := archiveHeader{Version: archiveVersion, Info: info}
	var offset int64
	for _, a := range arrays {
		_, n, err := a.payload()
		if err != nil {
			return err
		}
		if n != a.elems() {
			return fmt.Errorf("array %q: %d elements does not match shape %v", a.Name, n, a.Shape)
		}
		length := int64(n) * int64(a.Dtype.Size())
		header.Arrays = append(header.Arrays, arrayHeader{
			Name:   a.Name,
			Dtype:  a.Dtype,
			Shape:  a.Shape,
			Offset: offset,
			Length: length,
		})
		offset += length
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode archive header: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := writeArchiveStream(w, headerBytes, arrays); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func writeArchiveStream(w *bufio.Writer, headerBytes []byte, arrays []Array) error {
	if _, err := w.WriteString(archiveMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(headerBytes))); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	for _, a := range arrays {
		payload, n, err := a.payload()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, payload); err != nil {
			return fmt.Errorf("write array %q: %w", a.Name, err)
		}
	}
	return nil
}

// ArchiveFile is a recording archive loaded fully into memory.
type ArchiveFile struct {
	Version int
	Info    RecordingInfo

	arrays map[string]Array
	names  []string
}

// LoadArchive reads an archive from path. It fails with ErrNotArchive
// for files that were never archives and ErrCorruptArchive for ones
// whose structure does not hold together.
func LoadArchive(path string) (*ArchiveFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	prefix := len(archiveMagic) + 4
	if len(data) < prefix {
		return nil, fmt.Errorf("%w: %s is only %d bytes", ErrNotArchive, path, len(data))
	}
	if string(data[:len(archiveMagic)]) != archiveMagic {
		return nil, fmt.Errorf("%w: %s has no %s signature", ErrNotArchive, path, archiveMagic)
	}

	headerLen := binary.LittleEndian.Uint32(data[len(archiveMagic):prefix])
	if headerLen > maxHeaderSize || int(headerLen) > len(data)-prefix {
		return nil, fmt.Errorf("%w: header length %d exceeds file size %d", ErrCorruptArchive, headerLen, len(data))
	}

	var header archiveHeader
	if err := json.Unmarshal(data[prefix:prefix+int(headerLen)], &header); err != nil {
		return nil, fmt.Errorf("%w: bad header: %v", ErrCorruptArchive, err)
	}

	section := data[prefix+int(headerLen):]
	f := &ArchiveFile{
		Version: header.Version,
		Info:    header.Info,
		arrays:  make(map[string]Array, len(header.Arrays)),
	}

	for _, h := range header.Arrays {
		a, err := decodeArray(h, section)
		if err != nil {
			return nil, err
		}
		f.arrays[h.Name] = a
		f.names = append(f.names, h.Name)
	}
	return f, nil
}

func decodeArray(h arrayHeader, section []byte) (Array, error) {
	elemSize := h.Dtype.Size()
	if elemSize == 0 {
		return Array{}, fmt.Errorf("%w: array %q has unknown dtype %q", ErrCorruptArchive, h.Name, h.Dtype)
	}

	a := Array{Name: h.Name, Dtype: h.Dtype, Shape: h.Shape}
	elems := a.elems()
	if elems < 0 {
		return Array{}, fmt.Errorf("%w: array %q has negative shape %v", ErrCorruptArchive, h.Name, h.Shape)
	}
	if int64(elems)*int64(elemSize) != h.Length {
		return Array{}, fmt.Errorf("%w: array %q length %d does not match shape %v", ErrCorruptArchive, h.Name, h.Length, h.Shape)
	}
	if h.Offset < 0 || h.Length < 0 || h.Offset+h.Length > int64(len(section)) {
		return Array{}, fmt.Errorf("%w: array %q extends past end of file", ErrCorruptArchive, h.Name)
	}

	if elems == 0 {
		return a, nil
	}
	r := bytes.NewReader(section[h.Offset : h.Offset+h.Length])
	var readErr error
	switch h.Dtype {
	case Float64:
		a.F64 = make([]float64, elems)
		readErr = binary.Read(r, binary.LittleEndian, a.F64)
	case Float32:
		a.F32 = make([]float32, elems)
		readErr = binary.Read(r, binary.LittleEndian, a.F32)
	case Uint32:
		a.U32 = make([]uint32, elems)
		readErr = binary.Read(r, binary.LittleEndian, a.U32)
	}
	if readErr != nil {
		return Array{}, fmt.Errorf("%w: array %q: %v", ErrCorruptArchive, h.Name, readErr)
	}
	return a, nil
}

// Array returns the named array and whether it is present.
func (f *ArchiveFile) Array(name string) (Array, bool) {
	a, ok := f.arrays[name]
	return a, ok
}

// ArrayNames returns the array names in file order.
func (f *ArchiveFile) ArrayNames() []string {
	return append([]string(nil), f.names...)
}

// Validate cross-checks the invariants that tie the arrays together:
// scan columns row-aligned, per-scan point counts summing to the point
// rows, the point backmap referencing real scan rows, and IMU columns
// row-aligned. Absent arrays count as zero rows.
func (f *ArchiveFile) Validate() error {
	stamps, _ := f.Array(ArrayScanTimestamps)
	scanRows := stamps.Rows()
	for _, name := range []string{ArrayScanIDs, ArrayScanValidPoints, ArrayScanSystemTimes} {
		if a, ok := f.Array(name); ok && a.Rows() != scanRows {
			return fmt.Errorf("%w: %s has %d rows, want %d", ErrCorruptArchive, name, a.Rows(), scanRows)
		}
	}

	valid, _ := f.Array(ArrayScanValidPoints)
	var wantPoints int
	for _, v := range valid.U32 {
		wantPoints += int(v)
	}
	points, _ := f.Array(ArrayPoints)
	if points.Rows() != wantPoints {
		return fmt.Errorf("%w: %d point rows but scan valid counts sum to %d", ErrCorruptArchive, points.Rows(), wantPoints)
	}
	backmap, _ := f.Array(ArrayPointScanIndices)
	if backmap.Rows() != points.Rows() {
		return fmt.Errorf("%w: %d backmap rows for %d point rows", ErrCorruptArchive, backmap.Rows(), points.Rows())
	}
	for i, idx := range backmap.U32 {
		if int(idx) >= scanRows {
			return fmt.Errorf("%w: point %d references scan %d of %d", ErrCorruptArchive, i, idx, scanRows)
		}
	}

	imuStamps, _ := f.Array(ArrayIMUTimestamps)
	imuRows := imuStamps.Rows()
	for _, name := range []string{
		ArrayIMUIDs, ArrayIMUSystemTimes, ArrayIMUQuaternions,
		ArrayIMUAngularVelocities, ArrayIMULinearAccelerations,
	} {
		if a, ok := f.Array(name); ok && a.Rows() != imuRows {
			return fmt.Errorf("%w: %s has %d rows, want %d", ErrCorruptArchive, name, a.Rows(), imuRows)
		}
	}
	return nil
}
