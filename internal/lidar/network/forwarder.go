package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aerosense-labs/skywatch/internal/monitoring"
)

// DropStats counts datagrams dropped by the forwarder.
type DropStats interface {
	AddDropped()
}

type noopDropStats struct{}

func (noopDropStats) AddDropped() {}

// Forwarder tees raw datagrams to a second UDP address without blocking
// the receive loop. Sends are queued on a bounded channel; when the queue
// is full the datagram is dropped and counted.
type Forwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       DropStats
	logInterval time.Duration
	address     string
}

// NewForwarder creates a forwarder that sends datagrams to the specified
// address.
func NewForwarder(addr string, port int, stats DropStats, logInterval time.Duration) (*Forwarder, error) {
	forwardAddress := fmt.Sprintf("%s:%d", addr, port)
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if stats == nil {
		stats = noopDropStats{}
	}

	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     forwardAddress,
	}, nil
}

// Start begins the forwarding goroutine. Send errors are aggregated and
// logged at the configured interval rather than per datagram.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case datagram := <-f.channel:
				if _, err := f.conn.Write(datagram); err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					monitoring.Logf("Dropped %d forwarded datagrams due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding datagrams to %s", f.address)
}

// ForwardAsync queues a datagram for forwarding without blocking. The
// datagram is copied because the caller reuses its receive buffer.
func (f *Forwarder) ForwardAsync(datagram []byte) {
	datagramCopy := make([]byte, len(datagram))
	copy(datagramCopy, datagram)

	select {
	case f.channel <- datagramCopy:
	default:
		f.stats.AddDropped()
	}
}

// Close closes the forwarding connection.
func (f *Forwarder) Close() error {
	return f.conn.Close()
}
