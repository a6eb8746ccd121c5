// Command mock-lidar publishes synthetic sensor traffic over UDP for
// exercising the skywatch service without hardware. It emits scan
// frames at 10Hz and IMU samples at 100Hz, the L1 sensor's native
// rates, until the duration elapses or the process is interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/aerosense-labs/skywatch/internal/lidar/parse"
	"github.com/aerosense-labs/skywatch/internal/lidar/sim"
)

func main() {
	target := flag.String("target", "127.0.0.1:12345", "UDP address to send sensor traffic to")
	duration := flag.Duration("duration", 0, "How long to run (0 runs until interrupted)")
	seed := flag.Int64("seed", 0, "Random seed for the synthetic scene (0 derives one from the clock)")
	drone := flag.Bool("drone", true, "Include the orbiting drone-like cluster")
	droneDistance := flag.Float64("drone-distance", 8, "Drone orbit radius in metres")
	droneHeight := flag.Float64("drone-height", 2, "Drone altitude in metres")
	scanRate := flag.Float64("scan-rate", 10, "Scan frames per second")
	imuRate := flag.Float64("imu-rate", 100, "IMU samples per second")
	flag.Parse()

	if *scanRate <= 0 || *imuRate <= 0 {
		log.Fatal("Error: -scan-rate and -imu-rate must be positive")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	raddr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("Bad target %q: %v", *target, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	gen := sim.NewGenerator(sim.Config{
		Seed:          *seed,
		Drone:         *drone,
		DroneDistance: *droneDistance,
		DroneHeight:   *droneHeight,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	log.Printf("Sending synthetic sensor traffic to %s (seed %d, drone %v)", *target, *seed, *drone)

	scanTick := time.NewTicker(time.Duration(float64(time.Second) / *scanRate))
	defer scanTick.Stop()
	imuTick := time.NewTicker(time.Duration(float64(time.Second) / *imuRate))
	defer imuTick.Stop()
	statsTick := time.NewTicker(5 * time.Second)
	defer statsTick.Stop()

	var scans, imus int
	for {
		select {
		case <-ctx.Done():
			log.Printf("Done: sent %d scans, %d IMU samples", scans, imus)
			return
		case t := <-scanTick.C:
			scan := gen.NextScan(unixSeconds(t))
			data, err := parse.EncodeScan(scan)
			if err != nil {
				log.Fatalf("Encode scan %d: %v", scan.ID, err)
			}
			// A connected UDP socket reports ICMP refusals as write
			// errors; the service may simply not be up yet.
			if _, err := conn.Write(data); err != nil {
				log.Printf("Send scan %d: %v", scan.ID, err)
				continue
			}
			scans++
		case t := <-imuTick.C:
			if _, err := conn.Write(parse.EncodeIMU(gen.NextIMU(unixSeconds(t)))); err != nil {
				continue
			}
			imus++
		case <-statsTick.C:
			log.Printf("Sent %d scans, %d IMU samples", scans, imus)
		}
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
