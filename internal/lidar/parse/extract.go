package parse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/aerosense-labs/skywatch/internal/lidar"
)

/*
Unitree L1 UDP Message Parser

The sensor publishes two message kinds over UDP, one message per datagram.
Every message starts with the same 8-byte header followed by a fixed-layout
payload. All multi-byte fields are little-endian (the sensor packs native
little-endian structs).

MESSAGE STRUCTURE:
├── Header (8 bytes)
│   ├── message_type (u32) - 101 = IMU sample, 102 = scan frame
│   └── declared_length (u32) - payload byte count as stated by the sender
├── IMU payload (52 bytes, type 101)
│   └── stamp (f64) + id (u32) + quaternion (4×f32) + angular_velocity (3×f32)
│       + linear_acceleration (3×f32)
└── Scan payload (16 + N×24 bytes, type 102)
    ├── Prologue: stamp (f64) + id (u32) + valid_count (u32)
    └── valid_count point records, each x/y/z/intensity/time_offset (5×f32)
        + ring (u32)

The declared_length field is informational only: senders in the field have
been observed to state payload sizes that disagree with the datagram, and the
datagram boundary is the authoritative message boundary. The decoder carries
the declared value on the decoded Message so diagnostics can observe
mismatches, but never uses it to delimit the payload. Only a payload with too
few bytes for the layout implied by its type (and valid_count for scans) is a
decode failure.

Decoding is pure and stateless: the same bytes always produce the same
records and no state is carried between datagrams.
*/

// Wire format constants for the L1 UDP protocol.
const (
	MSG_TYPE_IMU  = 101 // IMU sample message
	MSG_TYPE_SCAN = 102 // Scan frame message

	HEADER_SIZE        = 8                     // message_type + declared_length
	IMU_PAYLOAD_SIZE   = 52                    // f64 stamp + u32 id + 10×f32
	SCAN_PROLOGUE_SIZE = 16                    // f64 stamp + u32 id + u32 valid_count
	POINT_SIZE         = 24                    // 5×f32 + u32 ring
	MAX_SCAN_POINTS    = 120                   // sensor caps one scan message at 120 points
	MAX_DATAGRAM_SIZE  = HEADER_SIZE + SCAN_PROLOGUE_SIZE + MAX_SCAN_POINTS*POINT_SIZE
)

// Sentinel decode failures. Wrapped errors carry the offending sizes and
// type codes; callers classify with errors.Is.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrTruncatedPayload   = errors.New("truncated payload")
)

// Message is one decoded datagram. Exactly one of Scan and IMU is non-nil,
// matching Type. DeclaredLen preserves the header's length field for
// diagnostics; it plays no part in decoding.
type Message struct {
	Type        uint32
	DeclaredLen uint32
	Scan        *lidar.ScanFrame
	IMU         *lidar.ImuSample
}

// DecodeMessage decodes a single datagram into a typed record.
// The datagram boundary is the message boundary: the payload is everything
// after the 8-byte header, regardless of DeclaredLen.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < HEADER_SIZE {
		return Message{}, fmt.Errorf("header: need %d bytes, have %d: %w", HEADER_SIZE, len(data), ErrTruncatedPayload)
	}

	msg := Message{
		Type:        binary.LittleEndian.Uint32(data[0:4]),
		DeclaredLen: binary.LittleEndian.Uint32(data[4:8]),
	}
	payload := data[HEADER_SIZE:]

	switch msg.Type {
	case MSG_TYPE_IMU:
		imu, err := decodeIMUPayload(payload)
		if err != nil {
			return Message{}, err
		}
		msg.IMU = imu
	case MSG_TYPE_SCAN:
		scan, err := decodeScanPayload(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Scan = scan
	default:
		return Message{}, fmt.Errorf("message type %d: %w", msg.Type, ErrUnknownMessageType)
	}

	return msg, nil
}

// decodeIMUPayload decodes the fixed 52-byte IMU payload.
func decodeIMUPayload(payload []byte) (*lidar.ImuSample, error) {
	if len(payload) < IMU_PAYLOAD_SIZE {
		return nil, fmt.Errorf("imu payload: need %d bytes, have %d: %w", IMU_PAYLOAD_SIZE, len(payload), ErrTruncatedPayload)
	}

	imu := &lidar.ImuSample{
		Stamp: math.Float64frombits(binary.LittleEndian.Uint64(payload[0:8])),
		ID:    binary.LittleEndian.Uint32(payload[8:12]),
	}
	for i := 0; i < 4; i++ {
		imu.Quaternion[i] = float32At(payload, 12+i*4)
	}
	for i := 0; i < 3; i++ {
		imu.AngularVelocity[i] = float32At(payload, 28+i*4)
	}
	for i := 0; i < 3; i++ {
		imu.LinearAcceleration[i] = float32At(payload, 40+i*4)
	}

	return imu, nil
}

// decodeScanPayload decodes the scan prologue and the point records implied
// by its valid_count.
func decodeScanPayload(payload []byte) (*lidar.ScanFrame, error) {
	if len(payload) < SCAN_PROLOGUE_SIZE {
		return nil, fmt.Errorf("scan prologue: need %d bytes, have %d: %w", SCAN_PROLOGUE_SIZE, len(payload), ErrTruncatedPayload)
	}

	scan := &lidar.ScanFrame{
		Stamp:      math.Float64frombits(binary.LittleEndian.Uint64(payload[0:8])),
		ID:         binary.LittleEndian.Uint32(payload[8:12]),
		ValidCount: binary.LittleEndian.Uint32(payload[12:16]),
	}

	need := SCAN_PROLOGUE_SIZE + int(scan.ValidCount)*POINT_SIZE
	if len(payload) < need {
		return nil, fmt.Errorf("scan payload: need %d bytes for %d points, have %d: %w",
			need, scan.ValidCount, len(payload), ErrTruncatedPayload)
	}

	scan.Points = make([]lidar.Point, 0, scan.ValidCount)
	offset := SCAN_PROLOGUE_SIZE
	for i := uint32(0); i < scan.ValidCount; i++ {
		scan.Points = append(scan.Points, lidar.Point{
			X:          float32At(payload, offset+0),
			Y:          float32At(payload, offset+4),
			Z:          float32At(payload, offset+8),
			Intensity:  float32At(payload, offset+12),
			TimeOffset: float32At(payload, offset+16),
			Ring:       binary.LittleEndian.Uint32(payload[offset+20 : offset+24]),
		})
		offset += POINT_SIZE
	}

	return scan, nil
}

// EncodeScan packs a scan frame into a complete datagram, header included.
// The header's declared_length is set to the payload byte count, matching
// the sensor's own publisher.
func EncodeScan(scan lidar.ScanFrame) ([]byte, error) {
	if int(scan.ValidCount) != len(scan.Points) {
		return nil, fmt.Errorf("scan %d: valid_count %d does not match %d points", scan.ID, scan.ValidCount, len(scan.Points))
	}
	if scan.ValidCount > MAX_SCAN_POINTS {
		return nil, fmt.Errorf("scan %d: %d points exceeds the %d point cap", scan.ID, scan.ValidCount, MAX_SCAN_POINTS)
	}

	payloadLen := SCAN_PROLOGUE_SIZE + len(scan.Points)*POINT_SIZE
	buf := make([]byte, HEADER_SIZE+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], MSG_TYPE_SCAN)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(payloadLen))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(scan.Stamp))
	binary.LittleEndian.PutUint32(buf[16:20], scan.ID)
	binary.LittleEndian.PutUint32(buf[20:24], scan.ValidCount)

	offset := HEADER_SIZE + SCAN_PROLOGUE_SIZE
	for _, p := range scan.Points {
		putFloat32At(buf, offset+0, p.X)
		putFloat32At(buf, offset+4, p.Y)
		putFloat32At(buf, offset+8, p.Z)
		putFloat32At(buf, offset+12, p.Intensity)
		putFloat32At(buf, offset+16, p.TimeOffset)
		binary.LittleEndian.PutUint32(buf[offset+20:offset+24], p.Ring)
		offset += POINT_SIZE
	}

	return buf, nil
}

// EncodeIMU packs an IMU sample into a complete datagram, header included.
func EncodeIMU(imu lidar.ImuSample) []byte {
	buf := make([]byte, HEADER_SIZE+IMU_PAYLOAD_SIZE)
	binary.LittleEndian.PutUint32(buf[0:4], MSG_TYPE_IMU)
	binary.LittleEndian.PutUint32(buf[4:8], IMU_PAYLOAD_SIZE)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(imu.Stamp))
	binary.LittleEndian.PutUint32(buf[16:20], imu.ID)
	for i, q := range imu.Quaternion {
		putFloat32At(buf, 20+i*4, q)
	}
	for i, w := range imu.AngularVelocity {
		putFloat32At(buf, 36+i*4, w)
	}
	for i, a := range imu.LinearAcceleration {
		putFloat32At(buf, 52+i*4, a)
	}
	return buf
}

func float32At(data []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[offset : offset+4]))
}

func putFloat32At(data []byte, offset int, v float32) {
	binary.LittleEndian.PutUint32(data[offset:offset+4], math.Float32bits(v))
}
