package detect

import (
	"math"

	"github.com/aerosense-labs/skywatch/internal/lidar"
)

// aspectEpsilon keeps the aspect-ratio division finite for clusters
// that are flat along one horizontal axis.
const aspectEpsilon = 0.01

// confidencePointTarget is the cluster point count at which the
// point-count term of the confidence score saturates.
const confidencePointTarget = 20.0

// DetectedObject describes one analysed cluster. Every cluster that
// survives the size filter produces a DetectedObject; IsTarget and
// Confidence record how drone-like it looked.
type DetectedObject struct {
	// Center is the cluster centroid in sensor coordinates (metres).
	Center [3]float64 `json:"center"`

	// Size is the axis-aligned bounding-box extent along X, Y, Z.
	Size [3]float64 `json:"size"`

	// Distance is the horizontal range from the sensor to the centroid.
	Distance float64 `json:"distance"`

	// PointCount is the number of points in the cluster.
	PointCount int `json:"point_count"`

	// Confidence scores how drone-like the cluster geometry is, in [0, 1].
	Confidence float64 `json:"confidence"`

	// IsTarget reports whether the cluster passed every geometric
	// acceptance rule.
	IsTarget bool `json:"is_target"`
}

// Classifier applies geometric acceptance rules to point clusters. The
// rules are intentionally simple: drones at the ranges this sensor
// covers appear as small, roughly isotropic clusters floating clear of
// the ground, and that shape signature separates them well from birds
// in flocks, foliage and buildings.
type Classifier struct {
	cfg *DetectionConfig
}

// NewClassifier returns a classifier using cfg for its thresholds. A
// nil cfg applies the defaults.
func NewClassifier(cfg *DetectionConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Analyze computes the geometry of a cluster and classifies it. The
// cluster must be non-empty.
func (c *Classifier) Analyze(cluster []lidar.Point) DetectedObject {
	var sumX, sumY, sumZ float64
	minX, minY, minZ := math.Inf(1), math.Inf(1), math.Inf(1)
	maxX, maxY, maxZ := math.Inf(-1), math.Inf(-1), math.Inf(-1)

	for _, p := range cluster {
		x, y, z := float64(p.X), float64(p.Y), float64(p.Z)
		sumX += x
		sumY += y
		sumZ += z
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		minZ = math.Min(minZ, z)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
		maxZ = math.Max(maxZ, z)
	}

	n := float64(len(cluster))
	obj := DetectedObject{
		Center:     [3]float64{sumX / n, sumY / n, sumZ / n},
		Size:       [3]float64{maxX - minX, maxY - minY, maxZ - minZ},
		PointCount: len(cluster),
	}
	obj.Distance = math.Hypot(obj.Center[0], obj.Center[1])
	obj.IsTarget = c.isTarget(obj)
	obj.Confidence = clusterConfidence(obj.PointCount, obj.Size[0], obj.Size[1])
	return obj
}

// isTarget applies the acceptance rules: bounding box within the target
// size band on every axis, horizontal distance within the detection
// band, and centroid clear of the ground.
func (c *Classifier) isTarget(obj DetectedObject) bool {
	sizeMin := c.cfg.GetTargetSizeMin()
	if obj.Size[0] < sizeMin || obj.Size[0] > c.cfg.GetTargetSizeMaxXY() {
		return false
	}
	if obj.Size[1] < sizeMin || obj.Size[1] > c.cfg.GetTargetSizeMaxXY() {
		return false
	}
	if obj.Size[2] < sizeMin || obj.Size[2] > c.cfg.GetTargetSizeMaxZ() {
		return false
	}
	if obj.Distance < c.cfg.GetDetectionDistanceMin() || obj.Distance > c.cfg.GetDetectionDistanceMax() {
		return false
	}
	return obj.Center[2] >= c.cfg.GetMinTargetHeight()
}

// clusterConfidence scores a cluster in [0, 1] from two cues: how close
// the point count is to a well-sampled return, and how close the
// horizontal footprint is to square. A rotor craft seen side-on or
// top-down fills its bounding box roughly evenly; elongated clusters
// (wires, branches, wing-on birds) score low.
func clusterConfidence(pointCount int, sizeX, sizeY float64) float64 {
	countScore := math.Min(float64(pointCount)/confidencePointTarget, 1.0)

	aspect := math.Max(sizeX, sizeY) / (math.Min(sizeX, sizeY) + aspectEpsilon)
	aspectScore := math.Max(0, 1-math.Abs(aspect-1))

	return clampConfidence((countScore + aspectScore) / 2)
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
