// Command simulate generates pothole hit traffic against a running server.
// Each simulated device drives a random walk around the configured center,
// posting hits at the configured rate with occasional batch uploads and
// heartbeats.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pothole.report/internal/hits"
)

const metersPerLatDegree = 111_000.0

type simDevice struct {
	deviceID string
	lat      float64
	lon      float64
	bearing  float64
	speedMPS float64
	rng      *rand.Rand
}

// move advances the device along its bearing with random turns, staying in
// the 3-20 m/s city driving band.
func (d *simDevice) move(dtSeconds float64) {
	d.bearing = math.Mod(d.bearing+d.rng.Float64()*30-15+360, 360)
	d.speedMPS = math.Max(3, math.Min(20, d.speedMPS+d.rng.Float64()*2-1))

	distanceM := d.speedMPS * dtSeconds
	bearingRad := d.bearing * math.Pi / 180
	d.lat += distanceM * math.Cos(bearingRad) / metersPerLatDegree
	d.lon += distanceM * math.Sin(bearingRad) / (metersPerLatDegree * math.Cos(d.lat*math.Pi/180))
}

// waveform builds a gaussian-enveloped pulse around the peak with noise.
func waveform(rng *rand.Rand, peakMG, samples int) []int32 {
	out := make([]int32, samples)
	mid := samples / 2
	sigma := math.Max(float64(mid)*0.4, 1)
	for i := range out {
		dist := float64(i - mid)
		factor := math.Exp(-0.5 * (dist / sigma) * (dist / sigma))
		noise := rng.Intn(201) - 100
		out[i] = int32(1000 + float64(peakMG-1000)*factor + float64(noise))
	}
	return out
}

func (d *simDevice) makeHit(timestampMS int64, waveformSamples int) hits.Hit {
	severity := int32(1)
	switch r := d.rng.Intn(100); {
	case r >= 90:
		severity = 3
	case r >= 60:
		severity = 2
	}
	peakMG := map[int32][2]int{1: {2000, 3000}, 2: {3000, 5000}, 3: {5000, 8000}}[severity]
	peak := peakMG[0] + d.rng.Intn(peakMG[1]-peakMG[0])
	baseline := 950 + d.rng.Intn(150)

	return hits.Hit{
		TimestampMS: timestampMS,
		Location: hits.Location{
			LatMicroDeg: int32(d.lat * hits.MicroDegPerDeg),
			LonMicroDeg: int32(d.lon * hits.MicroDegPerDeg),
			AccuracyM:   int32(3 + d.rng.Intn(13)),
		},
		SpeedMPS:         math.Round(d.speedMPS*10) / 10,
		BearingDeg:       math.Round(d.bearing*10) / 10,
		BearingBeforeDeg: math.Round((d.bearing+d.rng.Float64()*10-5)*10) / 10,
		BearingAfterDeg:  math.Round((d.bearing+d.rng.Float64()*10-5)*10) / 10,
		Pattern: hits.ImpactPattern{
			Severity:            severity,
			PeakVerticalMG:      int32(peak),
			PeakLateralMG:       int32(200 + d.rng.Intn(1300)),
			DurationMS:          int32(50 + d.rng.Intn(250)),
			WaveformVertical:    waveform(d.rng, peak, waveformSamples),
			WaveformLateral:     waveform(d.rng, 200+d.rng.Intn(1300), waveformSamples),
			BaselineMG:          int32(baseline),
			PeakToBaselineRatio: int32(peak * 100 / baseline),
		},
	}
}

func postMessage(client *http.Client, serverURL string, msg *hits.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	resp, err := client.Post(serverURL+"/api/v1/hits", "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func runDevice(ctx context.Context, client *http.Client, dev *simDevice, serverURL string,
	hitsPerMinute float64, waveformSamples int, batchEvery int, sent, errs *atomic.Int64) {

	interval := time.Duration(60 / hitsPerMinute * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []hits.Hit
	iteration := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		iteration++
		dev.move(interval.Seconds())
		nowMS := time.Now().UnixMilli()

		msg := &hits.ClientMessage{
			ProtocolVersion: hits.MinProtocolVersion,
			DeviceID:        dev.deviceID,
			AppVersion:      1,
		}

		switch {
		case batchEvery > 0 && iteration%batchEvery == 0:
			// Hold hits back and upload them together, the way a device on
			// a patchy connection does.
			pending = append(pending, dev.makeHit(nowMS, waveformSamples))
			if len(pending) < 3 {
				msg.Heartbeat = &hits.Heartbeat{TimestampMS: nowMS, PendingHits: int32(len(pending))}
			} else {
				msg.Batch = pending
				pending = nil
			}
		default:
			h := dev.makeHit(nowMS, waveformSamples)
			msg.Hit = &h
		}

		if err := postMessage(client, serverURL, msg); err != nil {
			errs.Add(1)
			log.Printf("device %s: %v", dev.deviceID[:8], err)
			continue
		}
		if msg.Hit != nil {
			sent.Add(1)
		} else if msg.Batch != nil {
			sent.Add(int64(len(msg.Batch)))
		}
	}
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Server base URL")
	devices := flag.Int("devices", 5, "Number of simulated devices")
	hitsPerMinute := flag.Float64("hits-per-minute", 10, "Hit rate per device")
	duration := flag.Duration("duration", 5*time.Minute, "Simulation duration")
	centerLat := flag.Float64("center-lat", 45.7640, "Center latitude")
	centerLon := flag.Float64("center-lon", 4.8357, "Center longitude")
	radiusKM := flag.Float64("radius-km", 5, "Initial scatter radius around the center")
	waveformSamples := flag.Int("waveform-samples", 15, "Samples per waveform")
	batchEvery := flag.Int("batch-every", 7, "Switch to batch mode every N iterations (0 disables)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	log.Printf("starting simulation: %d devices, %.1f hits/min each, %s against %s",
		*devices, *hitsPerMinute, *duration, *serverURL)

	client := &http.Client{Timeout: 10 * time.Second}
	var sent, errs atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < *devices; i++ {
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		angle := rng.Float64() * 2 * math.Pi
		distKM := rng.Float64() * *radiusKM

		dev := &simDevice{
			deviceID: uuid.NewString(),
			lat:      *centerLat + distKM/111*math.Cos(angle),
			lon:      *centerLon + distKM/(111*math.Cos(*centerLat*math.Pi/180))*math.Sin(angle),
			bearing:  rng.Float64() * 360,
			speedMPS: 5 + rng.Float64()*10,
			rng:      rng,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runDevice(ctx, client, dev, *serverURL, *hitsPerMinute, *waveformSamples, *batchEvery, &sent, &errs)
		}()
	}

	wg.Wait()
	log.Printf("simulation complete: %d hits sent, %d errors", sent.Load(), errs.Load())
}
