// Command hit-report renders an HTML report over the stored hit set: hit
// volume by hour of day, a severity histogram, and a map-less scatter of
// the clustered potholes colored by hit count.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pothole.report/internal/cluster"
	"github.com/banshee-data/pothole.report/internal/fsutil"
	"github.com/banshee-data/pothole.report/internal/hits"
	"github.com/banshee-data/pothole.report/internal/storage"
)

func hourlyChart(recs []hits.ServerHitRecord) *charts.Bar {
	var hourly [24]int
	for _, rec := range recs {
		hourly[time.UnixMilli(rec.ServerTimestampMS).UTC().Hour()]++
	}

	x := make([]string, 24)
	y := make([]opts.BarData, 24)
	for h := 0; h < 24; h++ {
		x[h] = fmt.Sprintf("%02d:00", h)
		y[h] = opts.BarData{Value: hourly[h]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Hits by Hour (UTC)", Subtitle: fmt.Sprintf("total=%d", len(recs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("hits", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

func severityChart(recs []hits.ServerHitRecord) *charts.Bar {
	counts := map[int32]int{}
	maxSeverity := int32(3)
	for _, rec := range recs {
		s := rec.Hit.Pattern.Severity
		counts[s]++
		if s > maxSeverity {
			maxSeverity = s
		}
	}

	var x []string
	var y []opts.BarData
	for s := int32(1); s <= maxSeverity; s++ {
		x = append(x, fmt.Sprintf("severity %d", s))
		y = append(y, opts.BarData{Value: counts[s]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Severity Distribution"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("hits", y)
	return bar
}

func clustersChart(clusters []*cluster.Cluster) *charts.Scatter {
	pts := make([]opts.ScatterData, 0, len(clusters))
	maxHits := 1
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for _, c := range clusters {
		if c.HitCount > maxHits {
			maxHits = c.HitCount
		}
		minLat = math.Min(minLat, c.Lat)
		maxLat = math.Max(maxLat, c.Lat)
		minLon = math.Min(minLon, c.Lon)
		maxLon = math.Max(maxLon, c.Lon)
		pts = append(pts, opts.ScatterData{Value: []interface{}{c.Lon, c.Lat, c.HitCount}})
	}
	if len(clusters) == 0 {
		minLat, maxLat, minLon, maxLon = 0, 1, 0, 1
	}

	padLat := math.Max((maxLat-minLat)*0.05, 0.001)
	padLon := math.Max((maxLon-minLon)*0.05, 0.001)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Pothole Clusters", Subtitle: fmt.Sprintf("count=%d", len(clusters))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLon - padLon, Max: maxLon + padLon, Name: "lon"}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat - padLat, Max: maxLat + padLat, Name: "lat"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxHits),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("potholes", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	return scatter
}

func main() {
	baseDir := flag.String("data", "./hit_data", "Hit storage base directory")
	output := flag.String("output", "hit_report.html", "Output HTML file")
	radiusM := flag.Float64("radius", cluster.DefaultRadiusM, "Cluster merge radius in meters")
	flag.Parse()

	store, err := storage.NewFileStore(fsutil.OSFileSystem{}, *baseDir)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer store.Close()

	recs, err := store.ReadAll()
	if err != nil {
		log.Fatalf("failed to read hits: %v", err)
	}
	if len(recs) == 0 {
		log.Fatalf("no hits stored under %s", *baseDir)
	}

	clusters := cluster.ClusterRecords(recs, *radiusM)
	log.Printf("loaded %d hits, %d clusters", len(recs), len(clusters))

	page := components.NewPage()
	page.AddCharts(hourlyChart(recs), severityChart(recs), clustersChart(clusters))

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *output, err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s", *output)
}
