package recorder

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates a loaded archive for operators: counts, achieved
// rates, spatial coverage and the range/intensity distributions.
type Summary struct {
	ScanCount  int     `json:"scan_count"`
	IMUCount   int     `json:"imu_count"`
	PointCount int     `json:"point_count"`
	Duration   float64 `json:"duration_seconds"`

	// ScanRateHz and IMURateHz are estimated from the sensor
	// timestamps, not the session wall clock, so they reflect what the
	// sensor delivered rather than what the recorder kept up with.
	ScanRateHz float64 `json:"scan_rate_hz"`
	IMURateHz  float64 `json:"imu_rate_hz"`

	MeanPointsPerScan float64 `json:"mean_points_per_scan"`

	Min [3]float64 `json:"min_xyz"`
	Max [3]float64 `json:"max_xyz"`

	DistanceMean   float64 `json:"distance_mean"`
	DistanceStdDev float64 `json:"distance_stddev"`
	DistanceMedian float64 `json:"distance_median"`

	IntensityMean   float64 `json:"intensity_mean"`
	IntensityStdDev float64 `json:"intensity_stddev"`
}

// Summarize computes summary statistics over a loaded archive. Counts
// come from the arrays themselves, not the header, so a foreign or
// partially written archive still summarises honestly. Absent arrays
// contribute zeros.
func Summarize(f *ArchiveFile) Summary {
	var s Summary

	scanStamps, _ := f.Array(ArrayScanTimestamps)
	s.ScanCount = scanStamps.Rows()
	s.ScanRateHz = rateFromStamps(scanStamps.F64)

	imuStamps, _ := f.Array(ArrayIMUTimestamps)
	s.IMUCount = imuStamps.Rows()
	s.IMURateHz = rateFromStamps(imuStamps.F64)

	points, _ := f.Array(ArrayPoints)
	s.PointCount = points.Rows()
	if s.ScanCount > 0 {
		s.MeanPointsPerScan = float64(s.PointCount) / float64(s.ScanCount)
	}
	if f.Info.EndTime > f.Info.StartTime {
		s.Duration = f.Info.EndTime - f.Info.StartTime
	}

	if points.Rows() == 0 {
		return s
	}

	distances := make([]float64, points.Rows())
	intensities := make([]float64, points.Rows())
	for d := range s.Min {
		s.Min[d] = math.Inf(1)
		s.Max[d] = math.Inf(-1)
	}
	for i := 0; i < points.Rows(); i++ {
		row := points.F32[i*pointFields : (i+1)*pointFields]
		x, y, z := float64(row[0]), float64(row[1]), float64(row[2])
		for d, v := range [3]float64{x, y, z} {
			s.Min[d] = math.Min(s.Min[d], v)
			s.Max[d] = math.Max(s.Max[d], v)
		}
		distances[i] = math.Sqrt(x*x + y*y + z*z)
		intensities[i] = float64(row[3])
	}

	s.DistanceMean = stat.Mean(distances, nil)
	s.IntensityMean = stat.Mean(intensities, nil)
	if len(distances) > 1 {
		s.DistanceStdDev = stat.StdDev(distances, nil)
		s.IntensityStdDev = stat.StdDev(intensities, nil)
	}

	// stat.Quantile wants sorted input; sort last so the min/max and
	// moment passes above see the points in capture order.
	sort.Float64s(distances)
	s.DistanceMedian = stat.Quantile(0.5, stat.Empirical, distances, nil)
	return s
}

// rateFromStamps estimates a sample rate as samples elapsed over the
// timestamp span. Fewer than two samples, or a non-increasing span,
// yields zero.
func rateFromStamps(stamps []float64) float64 {
	if len(stamps) < 2 {
		return 0
	}
	span := stamps[len(stamps)-1] - stamps[0]
	if span <= 0 {
		return 0
	}
	return float64(len(stamps)-1) / span
}
