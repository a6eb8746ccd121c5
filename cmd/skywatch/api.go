package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/aerosense-labs/skywatch/internal/httputil"
	"github.com/aerosense-labs/skywatch/internal/lidar/detect"
	"github.com/aerosense-labs/skywatch/internal/lidar/monitor"
	"github.com/aerosense-labs/skywatch/internal/lidar/network"
	"github.com/aerosense-labs/skywatch/internal/publish"
	"github.com/aerosense-labs/skywatch/internal/version"
)

// detectionState holds the latest detection cycle and running totals
// for the status API and the end-of-run summary.
type detectionState struct {
	mu        sync.Mutex
	haveCycle bool
	lastCycle publish.CycleMessage
	cycles    int64
	objects   int64
	targets   int64
}

func newDetectionState() *detectionState {
	return &detectionState{}
}

// Record stores the cycle and folds its counts into the totals.
func (s *detectionState) Record(cycle publish.CycleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveCycle = true
	s.lastCycle = cycle
	s.cycles++
	s.objects += int64(cycle.Count)
	s.targets += int64(cycle.Targets)
}

// LatestCycle returns the most recent cycle. ok is false before the
// first one completes.
func (s *detectionState) LatestCycle() (publish.CycleMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle, s.haveCycle
}

// DetectionTotals summarises the detection loop for /api/stats.
type DetectionTotals struct {
	Cycles        int64   `json:"cycles"`
	Objects       int64   `json:"objects"`
	Targets       int64   `json:"targets"`
	LastScanID    uint32  `json:"last_scan_id"`
	LastScanStamp float64 `json:"last_scan_stamp"`
	LastCycleTime float64 `json:"last_cycle_time"`
}

// Totals returns the running counters.
func (s *detectionState) Totals() DetectionTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DetectionTotals{
		Cycles:        s.cycles,
		Objects:       s.objects,
		Targets:       s.targets,
		LastScanID:    s.lastCycle.ScanID,
		LastScanStamp: s.lastCycle.ScanStamp,
		LastCycleTime: s.lastCycle.Time,
	}
}

type statsResponse struct {
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	UptimeSec     float64                `json:"uptime_sec"`
	Ingest        *monitor.StatsSnapshot `json:"ingest,omitempty"`
	ReceiverError string                 `json:"receiver_error,omitempty"`
	Detection     DetectionTotals        `json:"detection"`
	Publisher     *publish.Stats         `json:"publisher,omitempty"`
}

// newMux builds the status API routes. publisher may be nil.
func newMux(state *detectionState, stats *monitor.FrameStats, receiver *network.Receiver, cfg *detect.DetectionConfig, publisher *publish.Publisher) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		resp := statsResponse{
			Service:   "skywatch",
			Version:   version.Version,
			UptimeSec: stats.GetUptime().Seconds(),
			Ingest:    stats.GetLatestSnapshot(),
			Detection: state.Totals(),
		}
		if err := receiver.Err(); err != nil {
			resp.ReceiverError = err.Error()
		}
		if publisher != nil {
			ps := publisher.Stats()
			resp.Publisher = &ps
		}
		httputil.WriteJSONOK(w, resp)
	})

	mux.HandleFunc("/api/detections", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		cycle, ok := state.LatestCycle()
		if !ok {
			// No cycle yet: an empty message, not null
			cycle = publish.CycleMessage{Objects: []detect.DetectedObject{}}
		}
		httputil.WriteJSONOK(w, cycle)
	})

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, cfg.Resolved())
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head><title>skywatch</title></head>
<body>
	<h1>skywatch drone detection</h1>
	<p>%s</p>
	<ul>
		<li><a href="/healthz">Health check</a></li>
		<li><a href="/api/stats">Ingest and detection statistics</a></li>
		<li><a href="/api/detections">Latest detection cycle</a></li>
		<li><a href="/api/config">Active detection config</a></li>
	</ul>
</body>
</html>`, version.String())
	})

	return mux
}

// serveAPI runs the HTTP server until ctx is cancelled, then shuts it
// down with a short grace period.
func serveAPI(ctx context.Context, mux *http.ServeMux) {
	server := &http.Server{
		Addr:    *listen,
		Handler: mux,
	}

	go func() {
		log.Printf("Status API listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start status API: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down status API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Status API shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("Status API force close error: %v", err)
		}
	}

	log.Printf("Status API stopped")
}
