// Command record captures live sensor traffic into a recording
// archive. It listens for sensor datagrams the same way the skywatch
// service does, buffers decoded frames until a session bound trips,
// and writes a single .swrec archive. Interrupting the capture flushes
// whatever was recorded up to that point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/aerosense-labs/skywatch/internal/lidar/monitor"
	"github.com/aerosense-labs/skywatch/internal/lidar/network"
	"github.com/aerosense-labs/skywatch/internal/lidar/recorder"
)

var (
	udpPort     = flag.Int("udp-port", 12345, "UDP port to listen on for sensor data")
	udpAddress  = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "Requested UDP receive buffer size in bytes")
	outputDir   = flag.String("output", ".", "Directory to write the archive into")
	filePrefix  = flag.String("prefix", recorder.DefaultFilePrefix, "Archive filename prefix")
	maxScans    = flag.Int("max-scans", recorder.DefaultMaxScans, "Stop after this many scans (0 or negative disables the bound)")
	maxDuration = flag.Duration("max-duration", recorder.DefaultMaxDuration, "Stop after this much wall-clock time (0 or negative disables the bound)")
	poll        = flag.Duration("poll", recorder.DefaultPollInterval, "Frame poll interval")
)

func main() {
	flag.Parse()

	var listenAddr string
	if *udpAddress == "" {
		listenAddr = fmt.Sprintf(":%d", *udpPort)
	} else {
		listenAddr = fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
	}

	stats := monitor.NewFrameStats()
	receiver := network.NewReceiver(network.ReceiverConfig{
		Address:     listenAddr,
		RcvBuf:      *rcvBuf,
		LogInterval: 30 * time.Second,
		Stats:       stats,
	})
	if err := receiver.Connect(); err != nil {
		log.Fatalf("Failed to open UDP listener on %s: %v", listenAddr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := receiver.Start(ctx); err != nil {
		log.Fatalf("Failed to start receiver: %v", err)
	}
	defer receiver.Stop()

	limits := recorder.Limits{MaxScans: *maxScans, MaxDuration: *maxDuration}
	if limits == (recorder.Limits{}) {
		// Both bounds off must not collapse to the zero value, which
		// NewRecorder replaces with the defaults.
		limits = recorder.Limits{MaxScans: -1, MaxDuration: -1}
	}

	rec := recorder.NewRecorder(receiver, recorder.Config{
		OutputDir:    *outputDir,
		FilePrefix:   *filePrefix,
		Limits:       limits,
		PollInterval: *poll,
		Source:       "udp:" + listenAddr,
	})

	log.Printf("Recording from %s into %s (session %s)", listenAddr, *outputDir, rec.SessionID())

	path, err := rec.Run(ctx)
	if err != nil {
		log.Fatalf("Recording failed: %v", err)
	}

	// The archive path on stdout, everything else on stderr, so shell
	// pipelines can pick the file up directly.
	fmt.Println(path)
}
