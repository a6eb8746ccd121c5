// Package sim generates synthetic sensor traffic: a ground-return ring
// with realistic noise, an optional orbiting drone-like cluster, and a
// steady IMU stream. The generator is deterministic for a given seed,
// which makes it usable both as a development traffic source and as a
// fixture for end-to-end tests.
package sim

import (
	"math"
	"math/rand"

	"github.com/aerosense-labs/skywatch/internal/lidar"
)

// Drone cluster defaults.
const (
	defaultDroneDistance = 8.0
	defaultDroneHeight   = 2.0
	defaultOrbitStep     = 0.02 // radians per scan
)

// Config controls the synthetic scene.
type Config struct {
	// Seed fixes the random sequence. The same seed always produces
	// the same frames.
	Seed int64

	// Drone adds a compact airborne cluster orbiting the sensor.
	Drone bool

	// DroneDistance is the orbit radius in metres (default 8).
	DroneDistance float64

	// DroneHeight is the cluster's altitude in metres (default 2).
	DroneHeight float64
}

// Generator produces scan frames and IMU samples. Not safe for
// concurrent use.
type Generator struct {
	cfg        Config
	rng        *rand.Rand
	scanID     uint32
	imuID      uint32
	droneAngle float64
}

// NewGenerator returns a generator for cfg with defaults applied.
func NewGenerator(cfg Config) *Generator {
	if cfg.DroneDistance <= 0 {
		cfg.DroneDistance = defaultDroneDistance
	}
	if cfg.DroneHeight <= 0 {
		cfg.DroneHeight = defaultDroneHeight
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// NextScan produces the next scan frame with the given sensor
// timestamp. The frame holds a ground-return ring of 80 or more points
// and, when enabled, the drone cluster; the total never exceeds the
// 120-point frame cap.
func (g *Generator) NextScan(stamp float64) lidar.ScanFrame {
	ringPoints := 80 + g.rng.Intn(41)
	if g.cfg.Drone {
		// Leave headroom for the cluster under the frame cap.
		ringPoints = 80 + g.rng.Intn(20)
	}

	scan := lidar.ScanFrame{Stamp: stamp, ID: g.scanID}
	g.scanID++

	for i := 0; i < ringPoints; i++ {
		theta := 2 * math.Pi * float64(i) / float64(ringPoints)

		// A lobed ring with range and height jitter, the shape a low
		// fence line or hedgerow presents to a 2D sweep.
		dist := 2.0 + 0.5*math.Sin(3*theta) + g.rng.NormFloat64()*0.1
		z := 0.1*math.Sin(5*theta) + g.rng.NormFloat64()*0.02
		intensity := 200 + 50*math.Sin(2*theta) + g.rng.NormFloat64()*10
		intensity = math.Max(0, math.Min(255, intensity))

		scan.Points = append(scan.Points, lidar.Point{
			X:          float32(dist * math.Cos(theta)),
			Y:          float32(dist * math.Sin(theta)),
			Z:          float32(z),
			Intensity:  float32(intensity),
			TimeOffset: float32(i) * 0.0001,
			Ring:       0,
		})
	}

	if g.cfg.Drone {
		g.droneAngle += defaultOrbitStep
		cx := g.cfg.DroneDistance * math.Cos(g.droneAngle)
		cy := g.cfg.DroneDistance * math.Sin(g.droneAngle)

		clusterPoints := 16 + g.rng.Intn(5)
		for i := 0; i < clusterPoints; i++ {
			scan.Points = append(scan.Points, lidar.Point{
				X:          float32(cx + (g.rng.Float64()-0.5)*0.3),
				Y:          float32(cy + (g.rng.Float64()-0.5)*0.3),
				Z:          float32(g.cfg.DroneHeight + (g.rng.Float64()-0.5)*0.25),
				Intensity:  float32(180 + g.rng.NormFloat64()*20),
				TimeOffset: float32(ringPoints+i) * 0.0001,
				Ring:       0,
			})
		}
	}

	scan.ValidCount = uint32(len(scan.Points))
	return scan
}

// NextIMU produces the next IMU sample: a near-level attitude with
// gravity on the Z axis and small jitter on every channel.
func (g *Generator) NextIMU(stamp float64) lidar.ImuSample {
	imu := lidar.ImuSample{
		Stamp: stamp,
		ID:    g.imuID,
		Quaternion: [4]float32{
			0.01 + g.jitter(0.002),
			0.02 + g.jitter(0.002),
			0.01 + g.jitter(0.002),
			0.999,
		},
		AngularVelocity: [3]float32{
			0.01 + g.jitter(0.005),
			-0.005 + g.jitter(0.005),
			0.02 + g.jitter(0.005),
		},
		LinearAcceleration: [3]float32{
			0.1 + g.jitter(0.05),
			0.05 + g.jitter(0.05),
			9.8 + g.jitter(0.05),
		},
	}
	g.imuID++
	return imu
}

func (g *Generator) jitter(scale float64) float32 {
	return float32(g.rng.NormFloat64() * scale)
}
