// Package cluster groups stored hits into pothole entities.
//
// The engine is a greedy single-pass nearest-cluster merge: each hit joins
// the closest existing cluster within the merge radius, or starts a new
// one. Clusters live only for the duration of one call; every invocation
// recomputes from the full stored hit set.
package cluster

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/banshee-data/pothole.report/internal/hits"
)

// DefaultRadiusM is the maximum distance in meters between a hit and a
// cluster centroid for them to be considered the same pothole.
const DefaultRadiusM = 15.0

// earthRadiusM is the mean Earth radius used for great-circle distances.
const earthRadiusM = 6_371_000.0

// Cluster is a running aggregate over the hits merged into one pothole.
// The centroid is always the arithmetic mean of every merged hit, updated
// incrementally from the lat/lon sums.
type Cluster struct {
	Lat         float64
	Lon         float64
	HitCount    int
	SeveritySum int64
	SeverityMax int32
	PeakMGMax   int32
	FirstSeenMS int64
	LastSeenMS  int64
	Devices     map[string]bool
	Manual      int
	Sources     map[string]int

	latSum float64
	lonSum float64
}

func newCluster() *Cluster {
	return &Cluster{
		Devices: make(map[string]bool),
		Sources: make(map[string]int),
	}
}

// add merges one hit into the cluster.
func (c *Cluster) add(lat, lon float64, severity, peakMG int32, timestampMS int64, deviceID, source string) {
	c.HitCount++
	c.latSum += lat
	c.lonSum += lon
	c.Lat = c.latSum / float64(c.HitCount)
	c.Lon = c.lonSum / float64(c.HitCount)

	c.SeveritySum += int64(severity)
	if severity > c.SeverityMax {
		c.SeverityMax = severity
	}
	if peakMG > c.PeakMGMax {
		c.PeakMGMax = peakMG
	}
	if c.FirstSeenMS == 0 || timestampMS < c.FirstSeenMS {
		c.FirstSeenMS = timestampMS
	}
	if timestampMS > c.LastSeenMS {
		c.LastSeenMS = timestampMS
	}
	c.Devices[deviceID] = true
	c.Sources[source]++
	if source != hits.SourceAuto {
		c.Manual++
	}
}

// SeverityAvg returns the mean severity of the cluster's hits.
func (c *Cluster) SeverityAvg() float64 {
	if c.HitCount == 0 {
		return 0
	}
	return float64(c.SeveritySum) / float64(c.HitCount)
}

// Confidence scores the cluster 0–1 from device diversity, hit volume, and
// manual confirmations. Volume saturates at 5 hits so one noisy device
// cannot dominate; manual reports from a person are a strong signal.
func (c *Cluster) Confidence() float64 {
	deviceFactor := math.Min(float64(len(c.Devices))/3, 1)
	countFactor := math.Min(float64(c.HitCount)/5, 1)
	manualFactor := math.Min(float64(c.Manual)/2, 1)
	base := deviceFactor*0.5 + countFactor*0.3 + manualFactor*0.2
	return math.Round(math.Min(base, 1)*100) / 100
}

// distanceM is the great-circle distance in meters between two points,
// using the mean Earth radius.
func distanceM(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * earthRadiusM
}

// ClusterRecords merges the given records into pothole clusters. Hits at
// the (0,0) no-fix sentinel are skipped. When two clusters are equidistant
// from a hit, the first-created cluster wins, keeping results reproducible
// for a fixed input order.
func ClusterRecords(recs []hits.ServerHitRecord, radiusM float64) []*Cluster {
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}

	var clusters []*Cluster
	for i := range recs {
		rec := &recs[i]
		loc := rec.Hit.Location
		if loc.IsZero() {
			continue
		}
		lat, lon := loc.Lat(), loc.Lon()

		var best *Cluster
		bestDist := math.Inf(1)
		for _, c := range clusters {
			if d := distanceM(lat, lon, c.Lat, c.Lon); d < bestDist {
				bestDist = d
				best = c
			}
		}

		if best == nil || bestDist > radiusM {
			best = newCluster()
			clusters = append(clusters, best)
		}
		best.add(lat, lon, rec.Hit.Pattern.Severity, rec.Hit.Pattern.PeakVerticalMG,
			rec.Hit.TimestampMS, rec.DeviceID, rec.NormalisedSource())
	}
	return clusters
}
