package detect

import (
	"math"

	"github.com/aerosense-labs/skywatch/internal/lidar"
)

// FilterHeight returns the points whose Z coordinate lies within
// [minHeight, maxHeight]. Both bounds are inclusive. The input slice is
// not modified.
func FilterHeight(points []lidar.Point, minHeight, maxHeight float64) []lidar.Point {
	filtered := make([]lidar.Point, 0, len(points))
	for _, p := range points {
		z := float64(p.Z)
		if z >= minHeight && z <= maxHeight {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// ClusterPoints groups points into clusters by single-linkage: two
// points belong to the same cluster when a chain of points connects
// them with every hop shorter than maxDistance. A cluster can therefore
// span far more than maxDistance end to end.
//
// The implementation is a plain breadth-first flood over the pairwise
// distances, O(n^2) in the number of points. At the scan sizes this
// sensor produces (at most 120 points per frame) that is faster in
// practice than maintaining a spatial index, and it has no tuning
// knobs to get wrong.
func ClusterPoints(points []lidar.Point, maxDistance float64) [][]lidar.Point {
	if len(points) == 0 {
		return nil
	}

	visited := make([]bool, len(points))
	var clusters [][]lidar.Point

	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		// Flood outward from the seed point, absorbing every
		// unvisited point within range of any cluster member.
		cluster := []lidar.Point{points[i]}
		queue := []int{i}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for j := range points {
				if visited[j] {
					continue
				}
				if pointDistance(points[cur], points[j]) < maxDistance {
					visited[j] = true
					cluster = append(cluster, points[j])
					queue = append(queue, j)
				}
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// pointDistance is the Euclidean distance between two points, computed
// in float64 to avoid accumulating float32 rounding across the three
// squared terms.
func pointDistance(a, b lidar.Point) float64 {
	dx := float64(a.X) - float64(b.X)
	dy := float64(a.Y) - float64(b.Y)
	dz := float64(a.Z) - float64(b.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
