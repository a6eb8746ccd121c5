package network

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/aerosense-labs/skywatch/internal/lidar"
	"github.com/aerosense-labs/skywatch/internal/lidar/parse"
)

// MockFrameStats implements FrameStats for testing.
type MockFrameStats struct {
	datagrams      int
	scans          int
	points         int
	imus           int
	decodeFailures int
	logCalls       int
}

func (m *MockFrameStats) AddDatagram(bytes int) { m.datagrams++ }
func (m *MockFrameStats) AddScan(points int)    { m.scans++; m.points += points }
func (m *MockFrameStats) AddIMU()               { m.imus++ }
func (m *MockFrameStats) AddDecodeFailure()     { m.decodeFailures++ }
func (m *MockFrameStats) LogStats()             { m.logCalls++ }

func testScanDatagram(t *testing.T, id uint32, points int) []byte {
	t.Helper()
	scan := lidar.ScanFrame{
		Stamp:      float64(id) * 0.1,
		ID:         id,
		ValidCount: uint32(points),
		Points:     make([]lidar.Point, points),
	}
	for i := range scan.Points {
		scan.Points[i] = lidar.Point{X: float32(i), Y: 1, Z: 1, Ring: uint32(i % 4)}
	}
	data, err := parse.EncodeScan(scan)
	if err != nil {
		t.Fatalf("EncodeScan failed: %v", err)
	}
	return data
}

func TestNewReceiver_Defaults(t *testing.T) {
	r := NewReceiver(ReceiverConfig{})

	if r.address != DefaultListenAddr {
		t.Errorf("Expected default address %q, got %q", DefaultListenAddr, r.address)
	}
	if r.readTimeout != 100*time.Millisecond {
		t.Errorf("Expected default read timeout 100ms, got %v", r.readTimeout)
	}
	if r.logInterval != time.Minute {
		t.Errorf("Expected default log interval 1 minute, got %v", r.logInterval)
	}
	if r.stats == nil {
		t.Error("Expected default noop stats, got nil")
	}
}

func TestReceiver_StartRequiresConnect(t *testing.T) {
	r := NewReceiver(ReceiverConfig{Address: "127.0.0.1:0"})

	err := r.Start(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected before Connect, got: %v", err)
	}
}

func TestReceiver_NoDataYet(t *testing.T) {
	r := NewReceiver(ReceiverConfig{})

	if _, ok := r.LatestScan(); ok {
		t.Error("Expected no scan before any traffic")
	}
	if _, ok := r.LatestIMU(); ok {
		t.Error("Expected no IMU sample before any traffic")
	}
	if err := r.Err(); err != nil {
		t.Errorf("Expected nil terminal error on a fresh receiver, got: %v", err)
	}
}

func TestReceiver_BindErrorWrapping(t *testing.T) {
	r := NewReceiver(ReceiverConfig{Address: "256.0.0.1:notaport"})

	err := r.Connect()
	if err == nil {
		t.Fatal("Expected bind failure for a bogus address")
	}
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Errorf("Expected *BindError, got %T: %v", err, err)
	}
}

func TestReceiver_LatestValueCache(t *testing.T) {
	stats := &MockFrameStats{}
	r := NewReceiver(ReceiverConfig{Stats: stats})

	r.InjectDatagram(testScanDatagram(t, 1, 5))
	r.InjectDatagram(testScanDatagram(t, 2, 3))

	scan, ok := r.LatestScan()
	if !ok {
		t.Fatal("Expected a cached scan after injection")
	}
	if scan.ID != 2 {
		t.Errorf("Expected last-writer-wins scan id 2, got %d", scan.ID)
	}
	if len(scan.Points) != 3 {
		t.Errorf("Expected 3 points in latest scan, got %d", len(scan.Points))
	}

	imu := lidar.ImuSample{Stamp: 9.5, ID: 11, Quaternion: [4]float32{0, 0, 0, 1}}
	r.InjectDatagram(parse.EncodeIMU(imu))

	got, ok := r.LatestIMU()
	if !ok || got.ID != 11 {
		t.Errorf("Expected cached IMU id 11, got ok=%v id=%d", ok, got.ID)
	}

	if stats.datagrams != 3 || stats.scans != 2 || stats.imus != 1 {
		t.Errorf("Stats mismatch: datagrams=%d scans=%d imus=%d", stats.datagrams, stats.scans, stats.imus)
	}
}

// TestReceiver_SnapshotIsolation verifies that mutating a returned scan
// does not reach back into the cache.
func TestReceiver_SnapshotIsolation(t *testing.T) {
	r := NewReceiver(ReceiverConfig{})
	r.InjectDatagram(testScanDatagram(t, 7, 4))

	first, _ := r.LatestScan()
	first.Points[0].X = 9999

	second, _ := r.LatestScan()
	if second.Points[0].X == 9999 {
		t.Error("Cache shares point storage with reader snapshots")
	}
}

// TestReceiver_DecodeFailureIsolation confirms that unknown message types
// and truncated datagrams are swallowed and the cache stays untouched.
func TestReceiver_DecodeFailureIsolation(t *testing.T) {
	stats := &MockFrameStats{}
	r := NewReceiver(ReceiverConfig{Stats: stats})

	r.InjectDatagram(testScanDatagram(t, 21, 2))

	unknown := make([]byte, 16)
	binary.LittleEndian.PutUint32(unknown[0:4], 999)
	r.InjectDatagram(unknown)

	truncated := testScanDatagram(t, 22, 4)
	r.InjectDatagram(truncated[:len(truncated)-10])

	if stats.decodeFailures != 2 {
		t.Errorf("Expected 2 decode failures counted, got %d", stats.decodeFailures)
	}

	scan, ok := r.LatestScan()
	if !ok || scan.ID != 21 {
		t.Errorf("Cache disturbed by bad datagrams: ok=%v id=%d", ok, scan.ID)
	}
	if err := r.Err(); err != nil {
		t.Errorf("Decode failures must not become terminal errors, got: %v", err)
	}
}

// TestReceiver_Loopback runs the full socket path: bind an ephemeral
// port, send datagrams from a second socket, and poll the cache.
func TestReceiver_Loopback(t *testing.T) {
	r := NewReceiver(ReceiverConfig{
		Address:     "127.0.0.1:0",
		ReadTimeout: 20 * time.Millisecond,
	})
	if err := r.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	sender, err := net.Dial("udp", r.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sender.Close()

	if _, err := sender.Write(testScanDatagram(t, 33, 6)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if scan, ok := r.LatestScan(); ok {
			if scan.ID != 33 || len(scan.Points) != 6 {
				t.Errorf("Unexpected scan: id=%d points=%d", scan.ID, len(scan.Points))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for scan over loopback")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.Stop()
	if r.Running() {
		t.Error("Receiver still running after Stop")
	}
}

func TestReceiver_StopIdempotent(t *testing.T) {
	r := NewReceiver(ReceiverConfig{Address: "127.0.0.1:0"})

	// Stop before Connect/Start must be harmless.
	r.Stop()
	r.Stop()

	if err := r.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Stop()
	r.Stop()
}
