// Package detect implements the drone detection pipeline: height
// filtering, distance-threshold clustering and rule-based cluster
// classification. The pipeline operates on single scan frames and is
// deliberately stateless; callers decide how often to run it and what
// to do with the results.
package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default detection parameters. These match the tuning shipped with the
// field units and are used whenever a config file does not override a
// value.
const (
	DefaultConfidenceThreshold      = 0.0
	DefaultClusteringDistance       = 0.5
	DefaultMinPointsPerCluster      = 3
	DefaultMinClusterSize           = 5
	DefaultMaxClusterSize           = 100
	DefaultMinHeight                = 0.5
	DefaultMaxHeight                = 10.0
	DefaultTargetSizeMin            = 0.1
	DefaultTargetSizeMaxXY          = 2.0
	DefaultTargetSizeMaxZ           = 1.0
	DefaultDetectionDistanceMin     = 1.0
	DefaultDetectionDistanceMax     = 50.0
	DefaultMinTargetHeight          = 0.5
	DefaultDetectionIntervalSeconds = 0.5
	DefaultShowNonTargets           = true
	DefaultShowLowConfidence        = true
)

// maxConfigFileSize caps config reads so a mistyped path to a large
// file cannot exhaust memory.
const maxConfigFileSize = 1 << 20

// DetectionConfig holds tunable detection parameters. All fields are
// optional pointers; use the Get* accessors to read values with
// defaults applied. A nil *DetectionConfig is valid and yields defaults
// for every parameter.
type DetectionConfig struct {
	// ConfidenceThreshold is the minimum confidence for a target to be
	// reported, in [0, 1].
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty"`

	// ClusteringDistance is the neighbour distance in metres under
	// which two points belong to the same cluster.
	ClusteringDistance *float64 `json:"clustering_distance,omitempty" yaml:"clustering_distance,omitempty"`

	// MinPointsPerCluster is the minimum number of height-filtered
	// points required before clustering is attempted at all.
	MinPointsPerCluster *int `json:"min_points_per_cluster,omitempty" yaml:"min_points_per_cluster,omitempty"`

	// MinClusterSize and MaxClusterSize bound the point count of
	// clusters passed to classification.
	MinClusterSize *int `json:"min_cluster_size,omitempty" yaml:"min_cluster_size,omitempty"`
	MaxClusterSize *int `json:"max_cluster_size,omitempty" yaml:"max_cluster_size,omitempty"`

	// MinHeight and MaxHeight bound the pre-clustering height filter
	// in metres above the sensor plane.
	MinHeight *float64 `json:"min_height,omitempty" yaml:"min_height,omitempty"`
	MaxHeight *float64 `json:"max_height,omitempty" yaml:"max_height,omitempty"`

	// TargetSizeMin, TargetSizeMaxXY and TargetSizeMaxZ bound the
	// bounding-box extents (metres) a cluster may have and still be
	// considered a drone-like target.
	TargetSizeMin   *float64 `json:"target_size_min,omitempty" yaml:"target_size_min,omitempty"`
	TargetSizeMaxXY *float64 `json:"target_size_max_xy,omitempty" yaml:"target_size_max_xy,omitempty"`
	TargetSizeMaxZ  *float64 `json:"target_size_max_z,omitempty" yaml:"target_size_max_z,omitempty"`

	// DetectionDistanceMin and DetectionDistanceMax bound the
	// horizontal distance (metres) at which targets are accepted.
	DetectionDistanceMin *float64 `json:"detection_distance_min,omitempty" yaml:"detection_distance_min,omitempty"`
	DetectionDistanceMax *float64 `json:"detection_distance_max,omitempty" yaml:"detection_distance_max,omitempty"`

	// MinTargetHeight is the minimum centroid height for a target.
	MinTargetHeight *float64 `json:"min_target_height,omitempty" yaml:"min_target_height,omitempty"`

	// DetectionIntervalSeconds is the cadence of the detection loop.
	DetectionIntervalSeconds *float64 `json:"detection_interval_seconds,omitempty" yaml:"detection_interval_seconds,omitempty"`

	// ShowNonTargets reports clusters that failed the target rule.
	ShowNonTargets *bool `json:"show_non_targets,omitempty" yaml:"show_non_targets,omitempty"`

	// ShowLowConfidence reports targets below the confidence threshold.
	ShowLowConfidence *bool `json:"show_low_confidence,omitempty" yaml:"show_low_confidence,omitempty"`
}

// GetConfidenceThreshold returns the confidence threshold or its default.
func (c *DetectionConfig) GetConfidenceThreshold() float64 {
	if c == nil || c.ConfidenceThreshold == nil {
		return DefaultConfidenceThreshold
	}
	return *c.ConfidenceThreshold
}

// GetClusteringDistance returns the clustering distance or its default.
func (c *DetectionConfig) GetClusteringDistance() float64 {
	if c == nil || c.ClusteringDistance == nil {
		return DefaultClusteringDistance
	}
	return *c.ClusteringDistance
}

// GetMinPointsPerCluster returns the pre-clustering point minimum or its default.
func (c *DetectionConfig) GetMinPointsPerCluster() int {
	if c == nil || c.MinPointsPerCluster == nil {
		return DefaultMinPointsPerCluster
	}
	return *c.MinPointsPerCluster
}

// GetMinClusterSize returns the minimum cluster size or its default.
func (c *DetectionConfig) GetMinClusterSize() int {
	if c == nil || c.MinClusterSize == nil {
		return DefaultMinClusterSize
	}
	return *c.MinClusterSize
}

// GetMaxClusterSize returns the maximum cluster size or its default.
func (c *DetectionConfig) GetMaxClusterSize() int {
	if c == nil || c.MaxClusterSize == nil {
		return DefaultMaxClusterSize
	}
	return *c.MaxClusterSize
}

// GetMinHeight returns the height filter floor or its default.
func (c *DetectionConfig) GetMinHeight() float64 {
	if c == nil || c.MinHeight == nil {
		return DefaultMinHeight
	}
	return *c.MinHeight
}

// GetMaxHeight returns the height filter ceiling or its default.
func (c *DetectionConfig) GetMaxHeight() float64 {
	if c == nil || c.MaxHeight == nil {
		return DefaultMaxHeight
	}
	return *c.MaxHeight
}

// GetTargetSizeMin returns the minimum target extent or its default.
func (c *DetectionConfig) GetTargetSizeMin() float64 {
	if c == nil || c.TargetSizeMin == nil {
		return DefaultTargetSizeMin
	}
	return *c.TargetSizeMin
}

// GetTargetSizeMaxXY returns the maximum horizontal target extent or its default.
func (c *DetectionConfig) GetTargetSizeMaxXY() float64 {
	if c == nil || c.TargetSizeMaxXY == nil {
		return DefaultTargetSizeMaxXY
	}
	return *c.TargetSizeMaxXY
}

// GetTargetSizeMaxZ returns the maximum vertical target extent or its default.
func (c *DetectionConfig) GetTargetSizeMaxZ() float64 {
	if c == nil || c.TargetSizeMaxZ == nil {
		return DefaultTargetSizeMaxZ
	}
	return *c.TargetSizeMaxZ
}

// GetDetectionDistanceMin returns the minimum target distance or its default.
func (c *DetectionConfig) GetDetectionDistanceMin() float64 {
	if c == nil || c.DetectionDistanceMin == nil {
		return DefaultDetectionDistanceMin
	}
	return *c.DetectionDistanceMin
}

// GetDetectionDistanceMax returns the maximum target distance or its default.
func (c *DetectionConfig) GetDetectionDistanceMax() float64 {
	if c == nil || c.DetectionDistanceMax == nil {
		return DefaultDetectionDistanceMax
	}
	return *c.DetectionDistanceMax
}

// GetMinTargetHeight returns the minimum target centroid height or its default.
func (c *DetectionConfig) GetMinTargetHeight() float64 {
	if c == nil || c.MinTargetHeight == nil {
		return DefaultMinTargetHeight
	}
	return *c.MinTargetHeight
}

// GetDetectionInterval returns the detection loop cadence as a
// duration, applying the default when unset.
func (c *DetectionConfig) GetDetectionInterval() time.Duration {
	secs := DefaultDetectionIntervalSeconds
	if c != nil && c.DetectionIntervalSeconds != nil {
		secs = *c.DetectionIntervalSeconds
	}
	return time.Duration(secs * float64(time.Second))
}

// GetShowNonTargets returns the non-target reporting flag or its default.
func (c *DetectionConfig) GetShowNonTargets() bool {
	if c == nil || c.ShowNonTargets == nil {
		return DefaultShowNonTargets
	}
	return *c.ShowNonTargets
}

// GetShowLowConfidence returns the low-confidence reporting flag or its default.
func (c *DetectionConfig) GetShowLowConfidence() bool {
	if c == nil || c.ShowLowConfidence == nil {
		return DefaultShowLowConfidence
	}
	return *c.ShowLowConfidence
}

// Settings is the fully resolved view of a DetectionConfig with every
// default applied. It is what the status API reports and what operators
// see when they ask the service for its live tuning.
type Settings struct {
	ConfidenceThreshold      float64 `json:"confidence_threshold"`
	ClusteringDistance       float64 `json:"clustering_distance"`
	MinPointsPerCluster      int     `json:"min_points_per_cluster"`
	MinClusterSize           int     `json:"min_cluster_size"`
	MaxClusterSize           int     `json:"max_cluster_size"`
	MinHeight                float64 `json:"min_height"`
	MaxHeight                float64 `json:"max_height"`
	TargetSizeMin            float64 `json:"target_size_min"`
	TargetSizeMaxXY          float64 `json:"target_size_max_xy"`
	TargetSizeMaxZ           float64 `json:"target_size_max_z"`
	DetectionDistanceMin     float64 `json:"detection_distance_min"`
	DetectionDistanceMax     float64 `json:"detection_distance_max"`
	MinTargetHeight          float64 `json:"min_target_height"`
	DetectionIntervalSeconds float64 `json:"detection_interval_seconds"`
	ShowNonTargets           bool    `json:"show_non_targets"`
	ShowLowConfidence        bool    `json:"show_low_confidence"`
}

// Resolved returns the configuration with defaults applied to every
// unset field.
func (c *DetectionConfig) Resolved() Settings {
	return Settings{
		ConfidenceThreshold:      c.GetConfidenceThreshold(),
		ClusteringDistance:       c.GetClusteringDistance(),
		MinPointsPerCluster:      c.GetMinPointsPerCluster(),
		MinClusterSize:           c.GetMinClusterSize(),
		MaxClusterSize:           c.GetMaxClusterSize(),
		MinHeight:                c.GetMinHeight(),
		MaxHeight:                c.GetMaxHeight(),
		TargetSizeMin:            c.GetTargetSizeMin(),
		TargetSizeMaxXY:          c.GetTargetSizeMaxXY(),
		TargetSizeMaxZ:           c.GetTargetSizeMaxZ(),
		DetectionDistanceMin:     c.GetDetectionDistanceMin(),
		DetectionDistanceMax:     c.GetDetectionDistanceMax(),
		MinTargetHeight:          c.GetMinTargetHeight(),
		DetectionIntervalSeconds: c.GetDetectionInterval().Seconds(),
		ShowNonTargets:           c.GetShowNonTargets(),
		ShowLowConfidence:        c.GetShowLowConfidence(),
	}
}

// Validate checks that all set fields hold usable values. Unset fields
// are not checked; their defaults are known good.
func (c *DetectionConfig) Validate() error {
	if c == nil {
		return nil
	}
	if v := c.ConfidenceThreshold; v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("confidence_threshold must be in [0, 1], got %v", *v)
	}
	if v := c.ClusteringDistance; v != nil && *v <= 0 {
		return fmt.Errorf("clustering_distance must be positive, got %v", *v)
	}
	if v := c.MinPointsPerCluster; v != nil && *v < 1 {
		return fmt.Errorf("min_points_per_cluster must be at least 1, got %d", *v)
	}
	if v := c.MinClusterSize; v != nil && *v < 1 {
		return fmt.Errorf("min_cluster_size must be at least 1, got %d", *v)
	}
	if v := c.MaxClusterSize; v != nil && *v < 1 {
		return fmt.Errorf("max_cluster_size must be at least 1, got %d", *v)
	}
	if c.GetMinClusterSize() > c.GetMaxClusterSize() {
		return fmt.Errorf("min_cluster_size %d exceeds max_cluster_size %d",
			c.GetMinClusterSize(), c.GetMaxClusterSize())
	}
	if c.GetMinHeight() > c.GetMaxHeight() {
		return fmt.Errorf("min_height %v exceeds max_height %v",
			c.GetMinHeight(), c.GetMaxHeight())
	}
	if v := c.TargetSizeMin; v != nil && *v < 0 {
		return fmt.Errorf("target_size_min must not be negative, got %v", *v)
	}
	if v := c.TargetSizeMaxXY; v != nil && *v <= 0 {
		return fmt.Errorf("target_size_max_xy must be positive, got %v", *v)
	}
	if v := c.TargetSizeMaxZ; v != nil && *v <= 0 {
		return fmt.Errorf("target_size_max_z must be positive, got %v", *v)
	}
	if c.GetDetectionDistanceMin() > c.GetDetectionDistanceMax() {
		return fmt.Errorf("detection_distance_min %v exceeds detection_distance_max %v",
			c.GetDetectionDistanceMin(), c.GetDetectionDistanceMax())
	}
	if v := c.DetectionDistanceMin; v != nil && *v < 0 {
		return fmt.Errorf("detection_distance_min must not be negative, got %v", *v)
	}
	if v := c.DetectionIntervalSeconds; v != nil && *v <= 0 {
		return fmt.Errorf("detection_interval_seconds must be positive, got %v", *v)
	}
	return nil
}

// LoadConfig reads a detection configuration from a JSON or YAML file,
// chosen by extension, and validates it. Fields absent from the file
// stay unset and resolve to defaults.
func LoadConfig(path string) (*DetectionConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have a .json, .yaml or .yml extension, got %q", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is too large (%d bytes, max %d)",
			path, info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &DetectionConfig{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// ErrUnknownPreset is returned by Preset for an unrecognised name.
var ErrUnknownPreset = errors.New("unknown detection preset")

// Preset returns a named ready-made configuration. Presets cover the
// common field situations without hand-editing a config file:
//
//	high_precision  strict thresholds, fewest false positives
//	balanced        everyday monitoring
//	sensitive       catch small or distant objects, more noise
//	debug           report every analysed cluster
func Preset(name string) (*DetectionConfig, error) {
	switch name {
	case "high_precision":
		return &DetectionConfig{
			ConfidenceThreshold: f64ptr(0.5),
			ClusteringDistance:  f64ptr(0.3),
			MinClusterSize:      intptr(8),
			ShowNonTargets:      boolptr(false),
			ShowLowConfidence:   boolptr(false),
		}, nil
	case "balanced":
		return &DetectionConfig{
			ConfidenceThreshold: f64ptr(0.3),
			ClusteringDistance:  f64ptr(0.5),
			MinClusterSize:      intptr(5),
			ShowNonTargets:      boolptr(false),
			ShowLowConfidence:   boolptr(false),
		}, nil
	case "sensitive":
		return &DetectionConfig{
			ConfidenceThreshold: f64ptr(0.1),
			ClusteringDistance:  f64ptr(0.7),
			MinClusterSize:      intptr(3),
			ShowNonTargets:      boolptr(true),
		}, nil
	case "debug":
		return &DetectionConfig{
			ConfidenceThreshold: f64ptr(0.0),
			ClusteringDistance:  f64ptr(0.5),
			MinClusterSize:      intptr(3),
			ShowNonTargets:      boolptr(true),
			ShowLowConfidence:   boolptr(true),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownPreset, name, strings.Join(PresetNames(), ", "))
}

// PresetNames lists the available preset names in sorted order.
func PresetNames() []string {
	names := []string{"high_precision", "balanced", "sensitive", "debug"}
	sort.Strings(names)
	return names
}

func f64ptr(v float64) *float64 { return &v }
func intptr(v int) *int         { return &v }
func boolptr(v bool) *bool      { return &v }
