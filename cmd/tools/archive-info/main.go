// Command archive-info prints the contents of a .swrec recording
// archive: the session header, the array inventory and summary
// statistics over the captured points.
//
// Usage:
//
//	archive-info [flags] <archive.swrec>
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aerosense-labs/skywatch/internal/lidar/recorder"
)

func main() {
	jsonOut := flag.Bool("json", false, "Emit the report as JSON instead of text")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <archive.swrec>\n", os.Args[0])
		os.Exit(2)
	}
	path := flag.Arg(0)

	f, err := recorder.LoadArchive(path)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", path, err)
	}
	if err := f.Validate(); err != nil {
		log.Printf("Warning: %v", err)
	}

	summary := recorder.Summarize(f)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		report := struct {
			Info    recorder.RecordingInfo `json:"recording_info"`
			Arrays  []string               `json:"arrays"`
			Summary recorder.Summary       `json:"summary"`
		}{f.Info, f.ArrayNames(), summary}
		if err := enc.Encode(report); err != nil {
			log.Fatalf("Encode report: %v", err)
		}
		return
	}

	info := f.Info
	fmt.Printf("Archive:  %s (version %d)\n", path, f.Version)
	fmt.Printf("Session:  %s\n", info.SessionID)
	if info.Source != "" {
		fmt.Printf("Source:   %s\n", info.Source)
	}
	fmt.Printf("Started:  %s\n", formatStamp(info.StartTime))
	fmt.Printf("Ended:    %s (%.1fs)\n", formatStamp(info.EndTime), summary.Duration)
	fmt.Printf("Captured: %d scans, %d points, %d IMU samples\n",
		info.ScanCount, info.PointCount, info.IMUCount)

	fmt.Println()
	fmt.Println("Arrays:")
	for _, name := range f.ArrayNames() {
		a, _ := f.Array(name)
		fmt.Printf("  %-26s %-4s %v\n", name, a.Dtype, a.Shape)
	}

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  scan rate        %.2f Hz\n", summary.ScanRateHz)
	fmt.Printf("  imu rate         %.2f Hz\n", summary.IMURateHz)
	fmt.Printf("  points per scan  %.1f\n", summary.MeanPointsPerScan)
	if summary.PointCount > 0 {
		fmt.Printf("  bounds x         [%.2f, %.2f] m\n", summary.Min[0], summary.Max[0])
		fmt.Printf("  bounds y         [%.2f, %.2f] m\n", summary.Min[1], summary.Max[1])
		fmt.Printf("  bounds z         [%.2f, %.2f] m\n", summary.Min[2], summary.Max[2])
		fmt.Printf("  distance         %.2f m (median %.2f, stddev %.2f)\n", summary.DistanceMean, summary.DistanceMedian, summary.DistanceStdDev)
		fmt.Printf("  intensity        %.1f (stddev %.1f)\n", summary.IntensityMean, summary.IntensityStdDev)
	}
}

// formatStamp renders a Unix-seconds timestamp, "-" for the zero value
// an empty archive carries.
func formatStamp(unix float64) string {
	if unix == 0 {
		return "-"
	}
	sec := int64(unix)
	nsec := int64((unix - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}
