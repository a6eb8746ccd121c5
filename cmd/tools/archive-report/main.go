// Command archive-report renders a .swrec recording archive into
// operator-facing charts: an HTML page with a top-down scatter of one
// scan coloured by intensity and the per-scan point count across the
// session, plus a PNG histogram of point ranges.
//
// Usage:
//
//	archive-report [flags] <archive.swrec>
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aerosense-labs/skywatch/internal/lidar/recorder"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func main() {
	outDir := flag.String("o", ".", "Directory to write report files into")
	scanIdx := flag.Int("scan", -1, "Scan row to plot (-1 picks the scan with the most points)")
	bins := flag.Int("bins", 40, "Histogram bin count")
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

	points, _ := f.Array(recorder.ArrayPoints)
	if points.Rows() == 0 {
		log.Fatal("Archive holds no points; nothing to plot")
	}

	idx := *scanIdx
	if idx < 0 {
		idx = densestScan(f)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Failed to create %s: %v", *outDir, err)
	}
	base := strings.TrimSuffix(filepath.Base(path), recorder.FileExtension)

	htmlPath := filepath.Join(*outDir, base+"_report.html")
	if err := writeHTMLReport(f, idx, htmlPath); err != nil {
		log.Fatalf("Failed to write %s: %v", htmlPath, err)
	}
	log.Printf("✓ Wrote %s", htmlPath)

	pngPath := filepath.Join(*outDir, base+"_distances.png")
	if err := writeDistanceHistogram(f, *bins, pngPath); err != nil {
		log.Fatalf("Failed to write %s: %v", pngPath, err)
	}
	log.Printf("✓ Wrote %s", pngPath)
}

// densestScan returns the scan row with the most points, row zero when
// the valid-point column is absent.
func densestScan(f *recorder.ArchiveFile) int {
	valid, ok := f.Array(recorder.ArrayScanValidPoints)
	if !ok {
		return 0
	}
	best, bestCount := 0, uint32(0)
	for i, n := range valid.U32 {
		if n > bestCount {
			best, bestCount = i, n
		}
	}
	return best
}

// pointColumns returns the row width of the points array. The archive
// states the width in the array shape, so readers do not hardcode the
// writer's current column set.
func pointColumns(points recorder.Array) int {
	if len(points.Shape) == 2 {
		return points.Shape[1]
	}
	return 1
}

func writeHTMLReport(f *recorder.ArchiveFile, scanIdx int, path string) error {
	scatter, err := scanScatter(f, scanIdx)
	if err != nil {
		return err
	}

	page := components.NewPage()
	page.AddCharts(scatter, pointsPerScanBar(f))

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return page.Render(out)
}

// scanScatter builds a top-down view of one scan, coloured by
// intensity.
func scanScatter(f *recorder.ArchiveFile, scanIdx int) (*charts.Scatter, error) {
	points, _ := f.Array(recorder.ArrayPoints)
	backmap, ok := f.Array(recorder.ArrayPointScanIndices)
	if !ok || backmap.Rows() != points.Rows() {
		return nil, fmt.Errorf("archive has no usable point backmap")
	}
	width := pointColumns(points)
	if width < 4 {
		return nil, fmt.Errorf("points array is %d columns wide, need at least 4", width)
	}

	data := make([]opts.ScatterData, 0, 128)
	maxAbs := 0.0
	maxIntensity := 1.0
	for i := 0; i < points.Rows(); i++ {
		if int(backmap.U32[i]) != scanIdx {
			continue
		}
		row := points.F32[i*width : i*width+width]
		x, y := float64(row[0]), float64(row[1])
		intensity := float64(row[3])
		if math.Abs(x) > maxAbs {
			maxAbs = math.Abs(x)
		}
		if math.Abs(y) > maxAbs {
			maxAbs = math.Abs(y)
		}
		if intensity > maxIntensity {
			maxIntensity = intensity
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, intensity}})
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("scan %d has no points", scanIdx)
	}

	// Pad the symmetric axes so edge points stay visible.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	var stamp float64
	if stamps, ok := f.Array(recorder.ArrayScanTimestamps); ok && scanIdx < stamps.Rows() {
		stamp = stamps.F64[scanIdx]
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan Point Cloud", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Scan Point Cloud", Subtitle: fmt.Sprintf("scan=%d points=%d stamp=%.3f", scanIdx, len(data), stamp)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxIntensity),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	return scatter, nil
}

// pointsPerScanBar charts how many points each scan carried across
// the session.
func pointsPerScanBar(f *recorder.ArchiveFile) *charts.Bar {
	valid, _ := f.Array(recorder.ArrayScanValidPoints)

	x := make([]string, valid.Rows())
	y := make([]opts.BarData, valid.Rows())
	for i, n := range valid.U32 {
		x[i] = strconv.Itoa(i)
		y[i] = opts.BarData{Value: n}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Points Per Scan", Subtitle: fmt.Sprintf("scans=%d", valid.Rows())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Scan"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Points"}),
	)
	bar.SetXAxis(x).AddSeries("points", y)
	return bar
}

// writeDistanceHistogram renders the range distribution of every
// captured point as a PNG.
func writeDistanceHistogram(f *recorder.ArchiveFile, bins int, path string) error {
	points, _ := f.Array(recorder.ArrayPoints)
	width := pointColumns(points)
	if width < 3 {
		return fmt.Errorf("points array is %d columns wide, need at least 3", width)
	}

	distances := make(plotter.Values, 0, points.Rows())
	for i := 0; i < points.Rows(); i++ {
		row := points.F32[i*width : i*width+width]
		x, y, z := float64(row[0]), float64(row[1]), float64(row[2])
		distances = append(distances, math.Sqrt(x*x+y*y+z*z))
	}

	p := plot.New()
	p.Title.Text = "Point Range Distribution"
	p.X.Label.Text = "Distance (m)"
	p.Y.Label.Text = "Points"

	h, err := plotter.NewHist(distances, bins)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 255}
	p.Add(h)

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
