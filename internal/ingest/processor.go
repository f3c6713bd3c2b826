// Package ingest contains the hit admission pipeline: validation, the
// bounded record queue, and the background storage consumer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pothole.report/internal/hits"
	"github.com/banshee-data/pothole.report/internal/monitoring"
	"github.com/banshee-data/pothole.report/internal/stats"
	"github.com/banshee-data/pothole.report/internal/storage"
	"github.com/banshee-data/pothole.report/internal/timeutil"
)

// enqueueWait bounds how long a producer blocks on a full queue before the
// hit is counted as rejected. Variable so tests can shorten it.
var enqueueWait = 2 * time.Second

// Processor validates inbound client messages, tracks activity, and feeds
// the record queue. A single Processor serves all concurrent request
// handlers; record ids come from one process-lifetime atomic counter.
type Processor struct {
	queue   RecordQueue
	store   storage.HitStore
	tracker *stats.Tracker
	clock   timeutil.Clock

	nextRecordID atomic.Int64
}

// NewProcessor wires a processor to its queue, store and tracker.
func NewProcessor(queue RecordQueue, store storage.HitStore, tracker *stats.Tracker, clock timeutil.Clock) *Processor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	p := &Processor{queue: queue, store: store, tracker: tracker, clock: clock}
	p.nextRecordID.Store(0) // first Add(1) yields record id 1
	return p
}

// Process handles one decoded client message and reports (accepted,
// error message, hits enqueued).
//
// A hit counts as "stored" once its enqueue succeeds. If the background
// write later fails the record is lost and only the storage_errors counter
// shows it; the synchronous response cannot distinguish durably-written
// from accepted. That at-most-once trade-off keeps ingestion from ever
// blocking on storage.
func (p *Processor) Process(ctx context.Context, msg *hits.ClientMessage, sizeBytes int64) (bool, string, int) {
	if msg.ProtocolVersion < hits.MinProtocolVersion {
		p.tracker.RecordRejected(1)
		return false, fmt.Sprintf("protocol_version %d too old, minimum is %d", msg.ProtocolVersion, hits.MinProtocolVersion), 0
	}
	if msg.DeviceID == "" {
		p.tracker.RecordRejected(1)
		return false, "device_id is required", 0
	}

	// Priority order: single hit, else batch, else heartbeat, else no-op.
	var pending []hits.Hit
	isBatch := false
	switch {
	case msg.Hit != nil:
		pending = []hits.Hit{*msg.Hit}
	case len(msg.Batch) > 0:
		pending = msg.Batch
		isBatch = true
	case msg.Heartbeat != nil:
		p.tracker.RecordHeartbeat(msg.DeviceID)
		monitoring.Logf("heartbeat device=%s pending=%d", devicePrefix(msg.DeviceID), msg.Heartbeat.PendingHits)
		return true, "", 0
	default:
		return true, "", 0
	}

	if isBatch {
		p.tracker.RecordBatch(msg.DeviceID, len(pending), sizeBytes)
	} else {
		p.tracker.RecordHit(msg.DeviceID, sizeBytes)
	}

	stored := 0
	now := p.clock.Now().UnixMilli()
	for i := range pending {
		rec := &hits.ServerHitRecord{
			ServerTimestampMS: now,
			ProtocolVersion:   msg.ProtocolVersion,
			DeviceID:          msg.DeviceID,
			AppVersion:        msg.AppVersion,
			Source:            msg.Source,
			RecordID:          p.nextRecordID.Add(1),
			Hit:               pending[i],
		}

		putCtx, cancel := context.WithTimeout(ctx, enqueueWait)
		err := p.queue.Put(putCtx, rec)
		cancel()
		if err != nil {
			// Queue full or cancelled: skip this hit, keep the rest of
			// the batch going.
			monitoring.Logf("enqueue failed device=%s record_id=%d: %v", devicePrefix(msg.DeviceID), rec.RecordID, err)
			p.tracker.RecordRejected(1)
			continue
		}
		stored++
	}

	p.tracker.UpdateQueueDepth(p.queue.Len())

	if stored > 0 {
		monitoring.Logf("hits enqueued device=%s count=%d batch=%v", devicePrefix(msg.DeviceID), stored, isBatch)
	}
	return true, "", stored
}

// RunConsumer drains the queue into the store until ctx is cancelled. A
// failed write increments the storage-error counter and the loop continues;
// one bad write must never stop ingestion.
func (p *Processor) RunConsumer(ctx context.Context) {
	monitoring.Logf("storage consumer started")
	for {
		rec, err := p.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				monitoring.Logf("storage consumer stopped")
				return
			}
			monitoring.Logf("queue get failed: %v", err)
			continue
		}

		if err := p.store.Store(rec); err != nil {
			monitoring.Logf("storage write failed record_id=%d: %v", rec.RecordID, err)
			p.tracker.RecordStorageError()
		} else {
			p.tracker.RecordStored(1, 0)
		}
		p.tracker.UpdateQueueDepth(p.queue.Len())
	}
}

// devicePrefix truncates a device id for log lines.
func devicePrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
