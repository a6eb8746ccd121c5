package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerosense-labs/skywatch/internal/lidar"
)

func TestDetector_PipelineScenario(t *testing.T) {
	d := NewDetector(nil)

	// A scene with ground clutter below the height filter, a compact
	// drone-like cluster at 5m, and one isolated noise return. Only
	// the drone cluster should survive.
	var points []lidar.Point
	for i := 0; i < 40; i++ {
		points = append(points, pt(float64(i)*0.2, 1, 0.1))
	}
	points = append(points, boxCluster(5, 0, 2, 0.3, 0.3, 0.2, 20)...)
	points = append(points, pt(20, 20, 3))

	objects := d.DetectScan(lidar.ScanFrame{Stamp: 1.5, ID: 7, Points: points})

	require.Len(t, objects, 1)
	obj := objects[0]
	assert.True(t, obj.IsTarget)
	assert.Equal(t, 20, obj.PointCount)
	assert.InDelta(t, 5, obj.Center[0], 0.01)
	assert.InDelta(t, 2, obj.Center[2], 0.1)
	assert.True(t, d.Accept(obj))
}

func TestDetector_TooFewFilteredPoints(t *testing.T) {
	d := NewDetector(nil)

	// Two airborne points with the default minimum of three: the
	// pipeline must bail before clustering.
	points := []lidar.Point{pt(5, 0, 2), pt(5.1, 0, 2)}

	assert.Nil(t, d.DetectPoints(points))
}

func TestDetector_ClusterSizeFilter(t *testing.T) {
	cfg := &DetectionConfig{
		MinClusterSize: intptr(5),
		MaxClusterSize: intptr(10),
	}
	d := NewDetector(cfg)

	var points []lidar.Point
	points = append(points, boxCluster(5, 0, 2, 0.3, 0.3, 0.2, 3)...)    // too small
	points = append(points, boxCluster(15, 0, 2, 0.3, 0.3, 0.2, 8)...)   // in band
	points = append(points, boxCluster(-15, 0, 2, 0.4, 0.4, 0.3, 30)...) // too large

	objects := d.DetectPoints(points)

	require.Len(t, objects, 1)
	assert.Equal(t, 8, objects[0].PointCount)
}

func TestDetector_AcceptPolicy(t *testing.T) {
	confident := DetectedObject{IsTarget: true, Confidence: 0.8}
	hesitant := DetectedObject{IsTarget: true, Confidence: 0.1}
	clutter := DetectedObject{IsTarget: false, Confidence: 0.9}

	cases := []struct {
		name    string
		cfg     *DetectionConfig
		objects map[string]bool // object label -> expected Accept
	}{
		{
			name: "strict",
			cfg: &DetectionConfig{
				ConfidenceThreshold: f64ptr(0.3),
				ShowNonTargets:      boolptr(false),
				ShowLowConfidence:   boolptr(false),
			},
			objects: map[string]bool{"confident": true, "hesitant": false, "clutter": false},
		},
		{
			name: "show everything",
			cfg: &DetectionConfig{
				ConfidenceThreshold: f64ptr(0.3),
				ShowNonTargets:      boolptr(true),
				ShowLowConfidence:   boolptr(true),
			},
			objects: map[string]bool{"confident": true, "hesitant": true, "clutter": true},
		},
		{
			name: "low confidence only",
			cfg: &DetectionConfig{
				ConfidenceThreshold: f64ptr(0.3),
				ShowNonTargets:      boolptr(false),
				ShowLowConfidence:   boolptr(true),
			},
			objects: map[string]bool{"confident": true, "hesitant": true, "clutter": false},
		},
	}

	byLabel := map[string]DetectedObject{
		"confident": confident, "hesitant": hesitant, "clutter": clutter,
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(tc.cfg)
			for label, want := range tc.objects {
				assert.Equal(t, want, d.Accept(byLabel[label]), "object %s", label)
			}
		})
	}
}

func TestDetector_Report(t *testing.T) {
	d := NewDetector(&DetectionConfig{
		ConfidenceThreshold: f64ptr(0.5),
		ShowNonTargets:      boolptr(false),
		ShowLowConfidence:   boolptr(false),
	})

	objects := []DetectedObject{
		{IsTarget: true, Confidence: 0.9, PointCount: 1},
		{IsTarget: false, Confidence: 0.9, PointCount: 2},
		{IsTarget: true, Confidence: 0.2, PointCount: 3},
		{IsTarget: true, Confidence: 0.6, PointCount: 4},
	}

	reported := d.Report(objects)

	require.Len(t, reported, 2)
	assert.Equal(t, 1, reported[0].PointCount, "report must preserve input order")
	assert.Equal(t, 4, reported[1].PointCount)

	assert.Nil(t, d.Report(nil))
	assert.Nil(t, d.Report([]DetectedObject{{IsTarget: false}}))
}

func TestDetector_EmptyScan(t *testing.T) {
	d := NewDetector(nil)
	assert.Nil(t, d.DetectScan(lidar.ScanFrame{Stamp: 1, ID: 1}))
}
