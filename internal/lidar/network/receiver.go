package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aerosense-labs/skywatch/internal/lidar"
	"github.com/aerosense-labs/skywatch/internal/lidar/parse"
	"github.com/aerosense-labs/skywatch/internal/monitoring"
)

// DefaultListenAddr is the sensor's factory publish target.
const DefaultListenAddr = "0.0.0.0:12345"

// ErrNotConnected is returned by Start when Connect was never called or
// did not succeed.
var ErrNotConnected = errors.New("receiver not connected")

// BindError reports a failed socket bind during Connect. It wraps the
// underlying network error.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind %s: %v", e.Addr, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// FrameStats receives ingestion counters. A no-op implementation is used
// when none is supplied.
type FrameStats interface {
	AddDatagram(bytes int)
	AddScan(points int)
	AddIMU()
	AddDecodeFailure()
	LogStats()
}

// noopStats is a FrameStats implementation that does nothing. It is the
// safe default when no stats collector is provided.
type noopStats struct{}

func (noopStats) AddDatagram(bytes int) {}
func (noopStats) AddScan(points int)    {}
func (noopStats) AddIMU()               {}
func (noopStats) AddDecodeFailure()     {}
func (noopStats) LogStats()             {}

// ReceiverConfig contains configuration options for the UDP receiver.
type ReceiverConfig struct {
	Address     string        // listen address, host:port
	RcvBuf      int           // kernel receive buffer size, 0 leaves the default
	ReadTimeout time.Duration // socket read deadline, bounds stop latency
	LogInterval time.Duration // cadence of stats reports
	Stats       FrameStats
	Forwarder   *Forwarder // optional raw-datagram tee
}

// Receiver owns the UDP socket and the receive loop. Decoded frames land
// in a single-slot latest-value cache: each arrival replaces the previous
// frame of its kind, and readers take snapshots. A reader polling slower
// than the arrival rate misses intermediate frames; that is the intended
// sampling behavior, not a defect.
type Receiver struct {
	address     string
	rcvBuf      int
	readTimeout time.Duration
	logInterval time.Duration
	stats       FrameStats
	forwarder   *Forwarder

	conn *net.UDPConn

	mu         sync.Mutex
	latestScan *lidar.ScanFrame
	latestIMU  *lidar.ImuSample
	runErr     error
	running    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReceiver creates a receiver with the provided configuration. The
// socket is not opened until Connect.
func NewReceiver(config ReceiverConfig) *Receiver {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}

	address := config.Address
	if address == "" {
		address = DefaultListenAddr
	}

	readTimeout := config.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 100 * time.Millisecond
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	return &Receiver{
		address:     address,
		rcvBuf:      config.RcvBuf,
		readTimeout: readTimeout,
		logInterval: logInterval,
		stats:       stats,
		forwarder:   config.Forwarder,
	}
}

// Connect binds the UDP endpoint. It does not retry: a failed bind is
// reported once as a BindError and the receiver stays unconnected.
func (r *Receiver) Connect() error {
	addr, err := net.ResolveUDPAddr("udp", r.address)
	if err != nil {
		return &BindError{Addr: r.address, Err: err}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &BindError{Addr: r.address, Err: err}
	}

	if r.rcvBuf > 0 {
		if err := conn.SetReadBuffer(r.rcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer to %d: %v", r.rcvBuf, err)
		}
	}

	r.conn = conn
	monitoring.Logf("Receiver bound to %s", r.address)
	return nil
}

// Start spawns the receive loop. It fails with ErrNotConnected when
// Connect has not succeeded.
func (r *Receiver) Start(ctx context.Context) error {
	if r.conn == nil {
		return ErrNotConnected
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("receiver already started")
	}
	r.running = true
	r.runErr = nil
	r.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if r.forwarder != nil {
		r.forwarder.Start(loopCtx)
	}

	r.wg.Add(2)
	go r.statsLoop(loopCtx)
	go r.receiveLoop(loopCtx)

	return nil
}

// receiveLoop blocks on the socket under a read deadline so cancellation
// is observed within that bound even with no traffic. Decode failures are
// logged and skipped; a hard socket error terminates the loop and becomes
// the receiver's terminal state.
func (r *Receiver) receiveLoop(ctx context.Context) {
	defer r.wg.Done()
	defer r.setStopped()

	// Scan datagrams are at most 2904 bytes; leave some margin.
	buffer := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("Receiver stopping")
			return
		default:
			r.conn.SetReadDeadline(time.Now().Add(r.readTimeout))

			n, _, err := r.conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue // check cancellation, then block again
				}
				if ctx.Err() != nil {
					return
				}
				monitoring.Logf("Receiver socket error, stopping: %v", err)
				r.setErr(fmt.Errorf("udp receive: %w", err))
				return
			}

			r.handleDatagram(buffer[:n])
		}
	}
}

// handleDatagram decodes one datagram and publishes the result into the
// latest-value cache. Decode failures never escape: the loop's job is to
// keep fresh data flowing.
func (r *Receiver) handleDatagram(data []byte) {
	r.stats.AddDatagram(len(data))

	if r.forwarder != nil {
		r.forwarder.ForwardAsync(data)
	}

	msg, err := parse.DecodeMessage(data)
	if err != nil {
		r.stats.AddDecodeFailure()
		monitoring.Logf("Datagram decode failed: %v", err)
		return
	}

	switch {
	case msg.Scan != nil:
		r.stats.AddScan(len(msg.Scan.Points))
		r.mu.Lock()
		r.latestScan = msg.Scan
		r.mu.Unlock()
	case msg.IMU != nil:
		r.stats.AddIMU()
		r.mu.Lock()
		r.latestIMU = msg.IMU
		r.mu.Unlock()
	}
}

// InjectDatagram pushes a datagram through the normal decode path without
// the socket. Used by capture replay and tests; live traffic and injected
// datagrams share identical handling.
func (r *Receiver) InjectDatagram(data []byte) {
	r.handleDatagram(data)
}

// statsLoop reports ingestion counters shortly after startup and then on
// the configured interval.
func (r *Receiver) statsLoop(ctx context.Context) {
	defer r.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		r.stats.LogStats()
	}

	ticker := time.NewTicker(r.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.stats.LogStats()
		}
	}
}

// LatestScan returns a snapshot of the most recently decoded scan frame.
// ok is false until the first scan arrives. Never blocks on the socket.
func (r *Receiver) LatestScan() (lidar.ScanFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latestScan == nil {
		return lidar.ScanFrame{}, false
	}
	return r.latestScan.Clone(), true
}

// LatestIMU returns a snapshot of the most recently decoded IMU sample.
// ok is false until the first sample arrives.
func (r *Receiver) LatestIMU() (lidar.ImuSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latestIMU == nil {
		return lidar.ImuSample{}, false
	}
	return *r.latestIMU, true
}

// Addr returns the bound socket address, or nil before Connect. Useful
// when the configured port is 0.
func (r *Receiver) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Err reports the terminal receive-loop error, if any. It stays nil
// through clean stops.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Running reports whether the receive loop is active.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop signals the receive loop, waits for it to exit, and releases the
// socket. Safe to call more than once and before Start.
func (r *Receiver) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *Receiver) setStopped() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Receiver) setErr(err error) {
	r.mu.Lock()
	r.runErr = err
	r.mu.Unlock()
}
