package mqttingest

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/pothole.report/internal/hits"
	"github.com/banshee-data/pothole.report/internal/ingest"
	"github.com/banshee-data/pothole.report/internal/stats"
	"github.com/banshee-data/pothole.report/internal/timeutil"
)

type nullStore struct{}

func (n *nullStore) Store(*hits.ServerHitRecord) error        { return nil }
func (n *nullStore) StoreBatch([]*hits.ServerHitRecord) error { return nil }
func (n *nullStore) ReadAll() ([]hits.ServerHitRecord, error) { return nil, nil }
func (n *nullStore) Delete(map[int64]bool) (int, error)       { return 0, nil }
func (n *nullStore) Close() error                             { return nil }

func newTestBridge(t *testing.T) (*Bridge, *stats.Tracker, *ingest.ChannelQueue) {
	t.Helper()
	clock := timeutil.NewManualClock(time.Unix(1_772_000_000, 0))
	tracker := stats.New(stats.DefaultActiveWindow, clock)
	queue := ingest.NewChannelQueue(16)
	processor := ingest.NewProcessor(queue, &nullStore{}, tracker, clock)
	return NewBridge(processor, "tcp://unused:1883", "pothole/hits", "test-bridge"), tracker, queue
}

func TestHandleMessageEnqueuesHit(t *testing.T) {
	bridge, tracker, queue := newTestBridge(t)
	payload := []byte(`{
		"protocol_version": 1,
		"device_id": "mqtt-device-1",
		"hit": {
			"timestamp_ms": 1700000000000,
			"location": {"lat_microdeg": 51500000, "lon_microdeg": -120000, "accuracy_m": 4},
			"speed_mps": 9.5,
			"pattern": {"severity": 3, "peak_vertical_mg": 800}
		}
	}`)

	bridge.handleMessage(context.Background(), payload)

	if got := queue.Len(); got != 1 {
		t.Fatalf("queue depth = %d, want 1", got)
	}
	if got := tracker.Snapshot().HitsReceived; got != 1 {
		t.Errorf("hits received = %d, want 1", got)
	}
}

func TestHandleMessageDropsMalformedPayload(t *testing.T) {
	bridge, tracker, queue := newTestBridge(t)

	bridge.handleMessage(context.Background(), []byte("{not json"))

	if got := queue.Len(); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
	if got := tracker.Snapshot().HitsReceived; got != 0 {
		t.Errorf("hits received = %d, want 0", got)
	}
}

func TestHandleMessageRejectsOldProtocol(t *testing.T) {
	bridge, tracker, queue := newTestBridge(t)

	bridge.handleMessage(context.Background(), []byte(`{"protocol_version": 0, "device_id": "d", "hit": {"timestamp_ms": 1}}`))

	if got := queue.Len(); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
	if got := tracker.Snapshot().HitsRejected; got != 1 {
		t.Errorf("hits rejected = %d, want 1", got)
	}
}
