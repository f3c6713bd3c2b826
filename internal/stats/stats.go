// Package stats tracks server counters and a sliding window of active devices.
//
// All mutation happens under a single mutex per operation. Snapshot prunes
// stale devices and reads under the same lock, so callers always observe a
// consistent state.
package stats

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/pothole.report/internal/monitoring"
	"github.com/banshee-data/pothole.report/internal/timeutil"
)

// Reporting modes. A device's most recent mode is authoritative: a device
// that switches from batch to realtime (or back) is reclassified, never
// counted twice.
const (
	ModeRealtime = "realtime"
	ModeBatch    = "batch"
)

// DefaultActiveWindow is how long a device counts as active after its last
// report or heartbeat.
const DefaultActiveWindow = 120 * time.Second

// DefaultReportInterval is how often RunReporter logs a snapshot line.
const DefaultReportInterval = 60 * time.Second

// DeviceActivity tracks a single device's recent activity.
type DeviceActivity struct {
	LastSeen time.Time
	Mode     string
	HitsSent int64
}

// ActiveDevices summarises the devices seen within the active window.
type ActiveDevices struct {
	Total         int     `json:"total"`
	Realtime      int     `json:"realtime"`
	Batch         int     `json:"batch"`
	WindowSeconds float64 `json:"window_seconds"`
}

// Snapshot is a point-in-time, JSON-serialisable view of all stats.
type Snapshot struct {
	UptimeSeconds      float64       `json:"uptime_seconds"`
	HitsReceived       int64         `json:"hits_received"`
	HitsStored         int64         `json:"hits_stored"`
	HitsRejected       int64         `json:"hits_rejected"`
	BytesReceived      int64         `json:"bytes_received"`
	BytesStored        int64         `json:"bytes_stored"`
	BatchesReceived    int64         `json:"batches_received"`
	HeartbeatsReceived int64         `json:"heartbeats_received"`
	StorageErrors      int64         `json:"storage_errors"`
	QueueDepth         int           `json:"queue_depth"`
	QueueMaxDepthEver  int           `json:"queue_max_depth_ever"`
	ActiveDevices      ActiveDevices `json:"active_devices"`
}

// Tracker is the concurrent-safe server statistics store.
type Tracker struct {
	mu           sync.Mutex
	clock        timeutil.Clock
	startedAt    time.Time
	activeWindow time.Duration

	hitsReceived       int64
	hitsStored         int64
	hitsRejected       int64
	bytesReceived      int64
	bytesStored        int64
	batchesReceived    int64
	heartbeatsReceived int64
	storageErrors      int64
	queueDepth         int
	queueMaxDepth      int

	devices map[string]*DeviceActivity
}

// New creates a Tracker with the given active window. A zero or negative
// window falls back to DefaultActiveWindow.
func New(activeWindow time.Duration, clock timeutil.Clock) *Tracker {
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tracker{
		clock:        clock,
		startedAt:    clock.Now(),
		activeWindow: activeWindow,
		devices:      make(map[string]*DeviceActivity),
	}
}

// RecordHit records a single real-time hit from a device.
func (t *Tracker) RecordHit(deviceID string, sizeBytes int64) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hitsReceived++
	t.bytesReceived += sizeBytes
	t.touchDevice(deviceID, now, ModeRealtime, 1)
}

// RecordBatch records a batch upload of count hits from a device.
func (t *Tracker) RecordBatch(deviceID string, count int, sizeBytes int64) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hitsReceived += int64(count)
	t.batchesReceived++
	t.bytesReceived += sizeBytes
	t.touchDevice(deviceID, now, ModeBatch, int64(count))
}

// RecordHeartbeat refreshes a device's last-seen time without changing its
// reporting mode. A heartbeat from a device with no prior activity does not
// create an entry.
func (t *Tracker) RecordHeartbeat(deviceID string) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heartbeatsReceived++
	if dev, ok := t.devices[deviceID]; ok {
		dev.LastSeen = now
	}
}

// RecordStored counts records durably written by the storage consumer.
func (t *Tracker) RecordStored(count int, sizeBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hitsStored += int64(count)
	t.bytesStored += sizeBytes
}

// RecordRejected counts hits rejected by validation or a full queue.
func (t *Tracker) RecordRejected(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hitsRejected += int64(count)
}

// RecordStorageError counts a failed storage write.
func (t *Tracker) RecordStorageError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.storageErrors++
}

// UpdateQueueDepth publishes the current queue depth and keeps the
// historical maximum.
func (t *Tracker) UpdateQueueDepth(depth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queueDepth = depth
	if depth > t.queueMaxDepth {
		t.queueMaxDepth = depth
	}
}

// Snapshot prunes stale devices and returns a consistent view of all stats.
func (t *Tracker) Snapshot() Snapshot {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneStale(now)

	active := ActiveDevices{WindowSeconds: t.activeWindow.Seconds()}
	for _, dev := range t.devices {
		active.Total++
		switch dev.Mode {
		case ModeRealtime:
			active.Realtime++
		case ModeBatch:
			active.Batch++
		}
	}

	return Snapshot{
		UptimeSeconds:      math.Round(now.Sub(t.startedAt).Seconds()*10) / 10,
		HitsReceived:       t.hitsReceived,
		HitsStored:         t.hitsStored,
		HitsRejected:       t.hitsRejected,
		BytesReceived:      t.bytesReceived,
		BytesStored:        t.bytesStored,
		BatchesReceived:    t.batchesReceived,
		HeartbeatsReceived: t.heartbeatsReceived,
		StorageErrors:      t.storageErrors,
		QueueDepth:         t.queueDepth,
		QueueMaxDepthEver:  t.queueMaxDepth,
		ActiveDevices:      active,
	}
}

// RunReporter logs a one-line snapshot at each interval until ctx is
// cancelled. The log is the only periodic trace of throughput on an
// otherwise quiet server.
func (t *Tracker) RunReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	ticker := t.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			snap := t.Snapshot()
			monitoring.Logf("stats received=%d stored=%d rejected=%d queue=%d active_devices=%d",
				snap.HitsReceived, snap.HitsStored, snap.HitsRejected, snap.QueueDepth, snap.ActiveDevices.Total)
		case <-ctx.Done():
			return
		}
	}
}

// touchDevice updates or creates the activity entry. Caller holds the lock.
func (t *Tracker) touchDevice(deviceID string, now time.Time, mode string, hits int64) {
	if dev, ok := t.devices[deviceID]; ok {
		dev.LastSeen = now
		dev.Mode = mode
		dev.HitsSent += hits
		return
	}
	t.devices[deviceID] = &DeviceActivity{LastSeen: now, Mode: mode, HitsSent: hits}
}

// pruneStale removes devices last seen before now-activeWindow. A device
// exactly on the boundary is kept. Caller holds the lock.
func (t *Tracker) pruneStale(now time.Time) {
	cutoff := now.Add(-t.activeWindow)
	for id, dev := range t.devices {
		if dev.LastSeen.Before(cutoff) {
			delete(t.devices, id)
		}
	}
}
