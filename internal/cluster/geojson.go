package cluster

import "math"

// PointGeometry is a GeoJSON Point in [lon, lat] order.
type PointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// FeatureProperties carries the cluster aggregates for one pothole.
type FeatureProperties struct {
	HitCount      int            `json:"hit_count"`
	SeverityAvg   float64        `json:"severity_avg"`
	SeverityMax   int32          `json:"severity_max"`
	PeakMGMax     int32          `json:"peak_mg_max"`
	Confidence    float64        `json:"confidence"`
	Devices       int            `json:"devices"`
	FirstSeenMS   int64          `json:"first_seen_ms"`
	LastSeenMS    int64          `json:"last_seen_ms"`
	ManualReports int            `json:"manual_reports"`
	Sources       map[string]int `json:"sources"`
}

// Feature is one pothole as a GeoJSON Feature.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   PointGeometry     `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// FeatureCollection is the GeoJSON document served to map clients.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// round6 trims coordinates to six decimal places, about 0.1m, which is
// tighter than any phone GPS fix.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ToGeoJSON renders the clusters as a FeatureCollection. Features keep the
// cluster creation order, which follows the input record order.
func ToGeoJSON(clusters []*Cluster) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	for _, c := range clusters {
		avg := math.Round(c.SeverityAvg()*10) / 10
		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: PointGeometry{
				Type:        "Point",
				Coordinates: [2]float64{round6(c.Lon), round6(c.Lat)},
			},
			Properties: FeatureProperties{
				HitCount:      c.HitCount,
				SeverityAvg:   avg,
				SeverityMax:   c.SeverityMax,
				PeakMGMax:     c.PeakMGMax,
				Confidence:    c.Confidence(),
				Devices:       len(c.Devices),
				FirstSeenMS:   c.FirstSeenMS,
				LastSeenMS:    c.LastSeenMS,
				ManualReports: c.Manual,
				Sources:       c.Sources,
			},
		})
	}
	return fc
}
