// skywatch is the drone detection service. It ingests sensor UDP
// traffic, runs the detection pipeline on a fixed cadence, and serves
// a status API. Detections can optionally be persisted to SQLite and
// published over MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aerosense-labs/skywatch/internal/db"
	"github.com/aerosense-labs/skywatch/internal/lidar/detect"
	"github.com/aerosense-labs/skywatch/internal/lidar/monitor"
	"github.com/aerosense-labs/skywatch/internal/lidar/network"
	"github.com/aerosense-labs/skywatch/internal/publish"
	"github.com/aerosense-labs/skywatch/internal/version"
)

var (
	listen         = flag.String("listen", ":8080", "HTTP listen address for the status API")
	udpPort        = flag.Int("udp-port", 12345, "UDP port to listen for sensor messages")
	udpAddress     = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf         = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval    = flag.Int("log-interval", 60, "Statistics logging interval in seconds")
	configFile     = flag.String("config", "", "Detection config file (.json, .yaml); see config/detection.defaults.json")
	presetName     = flag.String("preset", "", "Detection preset: "+strings.Join(detect.PresetNames(), ", "))
	dbFile         = flag.String("db", "", "SQLite database for detection storage (empty disables storage)")
	migrationsDir  = flag.String("migrations", "", "Apply schema migrations from this directory at startup")
	mqttBroker     = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables publishing)")
	mqttClientID   = flag.String("mqtt-client-id", "", "MQTT client id")
	forwardPackets = flag.Bool("forward", false, "Forward received UDP datagrams to another address")
	forwardPort    = flag.Int("forward-port", 12346, "Port to forward UDP datagrams to")
	forwardAddr    = flag.String("forward-addr", "localhost", "Address to forward UDP datagrams to")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// loadDetectionConfig resolves the detection tuning from the -preset or
// -config flag. Both unset means library defaults (nil config).
func loadDetectionConfig() (*detect.DetectionConfig, error) {
	if *configFile != "" && *presetName != "" {
		return nil, fmt.Errorf("-config and -preset are mutually exclusive")
	}
	if *presetName != "" {
		return detect.Preset(*presetName)
	}
	if *configFile != "" {
		return detect.LoadConfig(*configFile)
	}
	return nil, nil
}

// openStore opens the detection database and registers this run. With
// -migrations the schema is migration-managed; otherwise NewDB applies
// the inline base schema.
func openStore(source string) (*db.DB, string) {
	var store *db.DB
	var err error
	if *migrationsDir != "" {
		store, err = db.OpenDB(*dbFile)
		if err == nil {
			err = store.MigrateUp(*migrationsDir)
		}
	} else {
		store, err = db.NewDB(*dbFile)
	}
	if err != nil {
		log.Fatalf("Failed to open detection store: %v", err)
	}

	runID, err := store.CreateRun(source, *presetName, unixSeconds(time.Now()))
	if err != nil {
		log.Fatalf("Failed to create detection run: %v", err)
	}
	log.Printf("Detection run %s (db %s)", runID, *dbFile)
	return store, runID
}

// runDetectionLoop polls the latest-scan cache on the configured
// interval and runs the pipeline whenever a new frame arrived. Store
// and publish failures are logged and the loop keeps going.
func runDetectionLoop(ctx context.Context, receiver *network.Receiver, detector *detect.Detector, state *detectionState, store *db.DB, runID string, publisher *publish.Publisher) {
	interval := detector.Config().GetDetectionInterval()
	log.Printf("Detection cycle every %v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		haveScan  bool
		lastID    uint32
		lastStamp float64
		errLogged bool
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := receiver.Err(); err != nil && !errLogged {
				log.Printf("Receiver terminated: %v (status API stays up)", err)
				errLogged = true
			}

			scan, ok := receiver.LatestScan()
			if !ok {
				continue
			}
			// Same (id, stamp) means no new frame since the last cycle
			if haveScan && scan.ID == lastID && scan.Stamp == lastStamp {
				continue
			}
			haveScan = true
			lastID = scan.ID
			lastStamp = scan.Stamp

			reported := detector.Report(detector.DetectScan(scan))
			now := unixSeconds(time.Now())

			cycle := publish.BuildCycleMessage(runID, scan.ID, scan.Stamp, now, reported)
			state.Record(cycle)

			if cycle.Targets > 0 {
				log.Printf("Scan %d: %d objects reported, %d targets", scan.ID, cycle.Count, cycle.Targets)
			}

			if store != nil {
				if err := store.InsertDetections(runID, scan.ID, scan.Stamp, now, reported); err != nil {
					log.Printf("Failed to store detections: %v", err)
				}
			}
			if publisher != nil {
				if err := publisher.PublishCycle(scan.ID, scan.Stamp, now, reported); err != nil {
					log.Printf("MQTT publish failed: %v", err)
				}
			}
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	cfg, err := loadDetectionConfig()
	if err != nil {
		log.Fatalf("Detection config error: %v", err)
	}

	var udpListenAddr string
	if *udpAddress == "" {
		udpListenAddr = fmt.Sprintf(":%d", *udpPort)
	} else {
		udpListenAddr = fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
	}

	stats := monitor.NewFrameStats()

	var forwarder *network.Forwarder
	if *forwardPackets {
		forwarder, err = network.NewForwarder(*forwardAddr, *forwardPort, stats, time.Duration(*logInterval)*time.Second)
		if err != nil {
			log.Fatalf("Failed to create forwarder: %v", err)
		}
		defer forwarder.Close()
	}

	receiver := network.NewReceiver(network.ReceiverConfig{
		Address:     udpListenAddr,
		RcvBuf:      *rcvBuf,
		LogInterval: time.Duration(*logInterval) * time.Second,
		Stats:       stats,
		Forwarder:   forwarder,
	})
	if err := receiver.Connect(); err != nil {
		log.Fatalf("Failed to bind UDP socket: %v", err)
	}

	var store *db.DB
	var runID string
	if *dbFile != "" {
		store, runID = openStore("udp:" + udpListenAddr)
		defer store.Close()
	}

	var publisher *publish.Publisher
	if *mqttBroker != "" {
		publisher = publish.NewPublisher(*mqttBroker, *mqttClientID, runID)
		if err := publisher.Connect(); err != nil {
			log.Printf("MQTT connect failed: %v (continuing without publisher)", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	detector := detect.NewDetector(cfg)
	state := newDetectionState()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := receiver.Start(ctx); err != nil {
		log.Fatalf("Failed to start receiver: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDetectionLoop(ctx, receiver, detector, state, store, runID, publisher)
		log.Print("Detection loop terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveAPI(ctx, newMux(state, stats, receiver, cfg, publisher))
	}()

	wg.Wait()
	receiver.Stop()

	if store != nil && runID != "" {
		totals := state.Totals()
		if err := store.FinishRun(runID, unixSeconds(time.Now()), int(totals.Cycles), int(totals.Objects), int(totals.Targets)); err != nil {
			log.Printf("Failed to finish detection run: %v", err)
		}
	}

	log.Print("Graceful shutdown complete")
}
