package detect

import (
	"github.com/aerosense-labs/skywatch/internal/lidar"
)

// Detector runs the full per-scan detection pipeline: height filter,
// clustering, size filter, classification. It holds no per-scan state,
// so a single Detector may be called from one goroutine per scan
// stream.
type Detector struct {
	cfg        *DetectionConfig
	classifier *Classifier
}

// NewDetector returns a detector using cfg for every tunable. A nil
// cfg applies the defaults.
func NewDetector(cfg *DetectionConfig) *Detector {
	return &Detector{
		cfg:        cfg,
		classifier: NewClassifier(cfg),
	}
}

// Config returns the configuration the detector was built with. It may
// be nil when the detector runs on defaults.
func (d *Detector) Config() *DetectionConfig {
	return d.cfg
}

// DetectScan analyses one scan frame and returns every cluster that
// survived the size filter, classified. Use Report to apply the
// display policy on top.
func (d *Detector) DetectScan(scan lidar.ScanFrame) []DetectedObject {
	return d.DetectPoints(scan.Points)
}

// DetectPoints is DetectScan for a bare point slice.
func (d *Detector) DetectPoints(points []lidar.Point) []DetectedObject {
	filtered := FilterHeight(points, d.cfg.GetMinHeight(), d.cfg.GetMaxHeight())
	if len(filtered) < d.cfg.GetMinPointsPerCluster() {
		return nil
	}

	minSize := d.cfg.GetMinClusterSize()
	maxSize := d.cfg.GetMaxClusterSize()

	var objects []DetectedObject
	for _, cluster := range ClusterPoints(filtered, d.cfg.GetClusteringDistance()) {
		if len(cluster) < minSize || len(cluster) > maxSize {
			continue
		}
		objects = append(objects, d.classifier.Analyze(cluster))
	}
	return objects
}

// Accept reports whether obj should be surfaced to operators under the
// current display policy. Confident targets always pass; non-targets
// and low-confidence targets pass only when the corresponding show
// flag is set.
func (d *Detector) Accept(obj DetectedObject) bool {
	if obj.IsTarget {
		if obj.Confidence >= d.cfg.GetConfidenceThreshold() {
			return true
		}
		return d.cfg.GetShowLowConfidence()
	}
	return d.cfg.GetShowNonTargets()
}

// Report filters objects down to those Accept passes, preserving
// order. It returns nil when nothing is reportable.
func (d *Detector) Report(objects []DetectedObject) []DetectedObject {
	var reported []DetectedObject
	for _, obj := range objects {
		if d.Accept(obj) {
			reported = append(reported, obj)
		}
	}
	return reported
}
