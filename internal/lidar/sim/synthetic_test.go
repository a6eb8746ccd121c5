package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerosense-labs/skywatch/internal/lidar"
	"github.com/aerosense-labs/skywatch/internal/lidar/detect"
	"github.com/aerosense-labs/skywatch/internal/lidar/parse"
)

func TestGenerator_Deterministic(t *testing.T) {
	a := NewGenerator(Config{Seed: 99, Drone: true})
	b := NewGenerator(Config{Seed: 99, Drone: true})

	for i := 0; i < 3; i++ {
		stamp := float64(i) * 0.1
		assert.Equal(t, a.NextScan(stamp), b.NextScan(stamp), "scan %d", i)
		assert.Equal(t, a.NextIMU(stamp), b.NextIMU(stamp), "imu %d", i)
	}
}

func TestGenerator_SeedsDiffer(t *testing.T) {
	a := NewGenerator(Config{Seed: 1})
	b := NewGenerator(Config{Seed: 2})
	assert.NotEqual(t, a.NextScan(0), b.NextScan(0))
}

func TestGenerator_FrameShape(t *testing.T) {
	g := NewGenerator(Config{Seed: 5, Drone: true})

	for i := 0; i < 50; i++ {
		scan := g.NextScan(float64(i) * 0.1)

		require.Equal(t, int(scan.ValidCount), len(scan.Points))
		assert.GreaterOrEqual(t, len(scan.Points), 80)
		assert.LessOrEqual(t, len(scan.Points), parse.MAX_SCAN_POINTS)
		assert.Equal(t, uint32(i), scan.ID, "scan ids increment")
	}
}

func TestGenerator_FramesEncode(t *testing.T) {
	g := NewGenerator(Config{Seed: 11, Drone: true})

	for i := 0; i < 20; i++ {
		scan := g.NextScan(float64(i) * 0.1)
		_, err := parse.EncodeScan(scan)
		require.NoError(t, err, "generated frames must fit the wire format")
	}

	payload := parse.EncodeIMU(g.NextIMU(2.0))
	msg, err := parse.DecodeMessage(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.IMU)
	assert.InDelta(t, 9.8, float64(msg.IMU.LinearAcceleration[2]), 0.5)
}

func TestGenerator_GroundRingStaysLow(t *testing.T) {
	g := NewGenerator(Config{Seed: 3})

	scan := g.NextScan(0)
	for _, p := range scan.Points {
		assert.Less(t, math.Abs(float64(p.Z)), 0.5, "ground returns sit below the detection height filter")
		assert.GreaterOrEqual(t, float64(p.Intensity), 0.0)
		assert.LessOrEqual(t, float64(p.Intensity), 255.0)
	}
}

func TestGenerator_DroneIsDetectable(t *testing.T) {
	g := NewGenerator(Config{Seed: 21, Drone: true})
	d := detect.NewDetector(nil)

	detected := 0
	for i := 0; i < 10; i++ {
		scan := g.NextScan(float64(i) * 0.1)
		for _, obj := range d.Report(d.DetectScan(scan)) {
			if !obj.IsTarget {
				continue
			}
			detected++
			assert.InDelta(t, defaultDroneDistance, obj.Distance, 0.5)
			assert.InDelta(t, defaultDroneHeight, obj.Center[2], 0.3)
		}
	}
	assert.Equal(t, 10, detected, "the drone cluster must be found in every frame")
}

func TestGenerator_NoDroneNoTargets(t *testing.T) {
	g := NewGenerator(Config{Seed: 21})
	d := detect.NewDetector(nil)

	for i := 0; i < 10; i++ {
		objects := d.DetectScan(g.NextScan(float64(i) * 0.1))
		for _, obj := range objects {
			assert.False(t, obj.IsTarget, "bare ground ring must not produce targets")
		}
	}
}

func TestGenerator_IMUStream(t *testing.T) {
	g := NewGenerator(Config{Seed: 8})

	var last lidar.ImuSample
	for i := 0; i < 5; i++ {
		imu := g.NextIMU(float64(i) * 0.01)
		assert.Equal(t, uint32(i), imu.ID)
		assert.InDelta(t, 0.999, float64(imu.Quaternion[3]), 1e-6)
		last = imu
	}
	assert.InDelta(t, 9.8, float64(last.LinearAcceleration[2]), 0.5)
}
