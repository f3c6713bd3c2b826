package storage

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/banshee-data/pothole.report/internal/fsutil"
	"github.com/banshee-data/pothole.report/internal/hits"
)

// 2026-03-01T13:45:00Z
const testTimestampMS = int64(1772372700000)

func testRecord(id int64, deviceID string, tsMS int64) *hits.ServerHitRecord {
	return &hits.ServerHitRecord{
		ServerTimestampMS: tsMS,
		ProtocolVersion:   1,
		DeviceID:          deviceID,
		AppVersion:        3,
		RecordID:          id,
		Hit: hits.Hit{
			TimestampMS: tsMS - 1500,
			Location:    hits.Location{LatMicroDeg: 45764043, LonMicroDeg: 4835659, AccuracyM: 5},
			SpeedMPS:    13.52,
			BearingDeg:  270,
			Pattern: hits.ImpactPattern{
				Severity:         2,
				PeakVerticalMG:   4500,
				PeakLateralMG:    800,
				DurationMS:       120,
				WaveformVertical: []int32{1000, 2000, 4500, 1500},
				BaselineMG:       1050,
			},
		},
	}
}

func newTestFileStore(t *testing.T) (*FileStore, *fsutil.MemoryFileSystem) {
	t.Helper()
	mem := fsutil.NewMemoryFileSystem()
	store, err := NewFileStore(mem, "data/incoming")
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return store, mem
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := testRecord(7, "device-abcdef", testTimestampMS)
	frame, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord failed: %v", err)
	}

	recs, err := DecodeRecords(frame)
	if err != nil {
		t.Fatalf("DecodeRecords failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := recs[0]
	if got.RecordID != 7 || got.DeviceID != "device-abcdef" {
		t.Errorf("decoded record = %+v", got)
	}
	if got.Hit.Pattern.PeakVerticalMG != 4500 {
		t.Errorf("PeakVerticalMG = %d, want 4500", got.Hit.Pattern.PeakVerticalMG)
	}
	if len(got.Hit.Pattern.WaveformVertical) != 4 {
		t.Errorf("waveform length = %d, want 4", len(got.Hit.Pattern.WaveformVertical))
	}
}

func TestDecodeTruncated(t *testing.T) {
	rec := testRecord(1, "d", testTimestampMS)
	frame, err := EncodeRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeRecords(frame[:len(frame)-3]); err == nil {
		t.Error("DecodeRecords accepted a truncated frame")
	}
	if _, err := DecodeRecords(frame[:2]); err == nil {
		t.Error("DecodeRecords accepted a truncated length prefix")
	}
}

func TestStoreWritesHourPartition(t *testing.T) {
	store, mem := newTestFileStore(t)
	if err := store.Store(testRecord(1, "device-123456789", testTimestampMS)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	logPath := "data/incoming/2026/03/01/13/hits.binpb"
	if !mem.Exists(logPath) {
		t.Errorf("primary log missing at %s", logPath)
	}

	indexData, err := mem.ReadFile("data/incoming/2026/03/01/13/hits.jsonl")
	if err != nil {
		t.Fatalf("index missing: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(indexData))), &entry); err != nil {
		t.Fatalf("index line is not JSON: %v", err)
	}
	if entry["device"] != "device-1" {
		t.Errorf("device prefix = %v, want device-1 (8 chars)", entry["device"])
	}
	if entry["severity"] != float64(2) {
		t.Errorf("severity = %v, want 2", entry["severity"])
	}
	if entry["speed"] != 13.5 {
		t.Errorf("speed = %v, want 13.5", entry["speed"])
	}
}

func TestReadAllAcrossPartitions(t *testing.T) {
	store, _ := newTestFileStore(t)

	// Two hours and two days apart.
	stamps := []int64{
		testTimestampMS,
		testTimestampMS + 2*3600*1000,
		testTimestampMS + 48*3600*1000,
	}
	for i, ts := range stamps {
		if err := store.Store(testRecord(int64(i+1), "device-a", ts)); err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}

	recs, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("ReadAll returned %d records, want 3", len(recs))
	}

	seen := map[int64]bool{}
	for _, r := range recs {
		seen[r.RecordID] = true
	}
	for id := int64(1); id <= 3; id++ {
		if !seen[id] {
			t.Errorf("record %d missing from ReadAll", id)
		}
	}
}

func TestDeleteCompactsPartition(t *testing.T) {
	store, mem := newTestFileStore(t)
	for id := int64(1); id <= 4; id++ {
		if err := store.Store(testRecord(id, "device-a", testTimestampMS)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.Delete(map[int64]bool{2: true, 4: true, 99: true})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Delete removed %d, want 2 (unknown id 99 is not an error)", n)
	}

	recs, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll after delete failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records after delete, want 2", len(recs))
	}
	for _, r := range recs {
		if r.RecordID == 2 || r.RecordID == 4 {
			t.Errorf("deleted record %d still present", r.RecordID)
		}
	}

	// Index must be compacted in step with the log.
	indexData, err := mem.ReadFile("data/incoming/2026/03/01/13/hits.jsonl")
	if err != nil {
		t.Fatalf("index missing after compaction: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(indexData)), "\n")
	if len(lines) != 2 {
		t.Errorf("index has %d lines after compaction, want 2", len(lines))
	}
}

func TestDeleteEmptyAndUnknownSets(t *testing.T) {
	store, _ := newTestFileStore(t)
	if err := store.Store(testRecord(1, "device-a", testTimestampMS)); err != nil {
		t.Fatal(err)
	}

	if n, err := store.Delete(nil); err != nil || n != 0 {
		t.Errorf("Delete(nil) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := store.Delete(map[int64]bool{42: true}); err != nil || n != 0 {
		t.Errorf("Delete(unknown) = (%d, %v), want (0, nil)", n, err)
	}

	recs, err := store.ReadAll()
	if err != nil || len(recs) != 1 {
		t.Errorf("store disturbed by no-op deletes: %d records, err=%v", len(recs), err)
	}
}

func TestDeleteWholePartitionRemovesFiles(t *testing.T) {
	store, mem := newTestFileStore(t)
	if err := store.Store(testRecord(1, "device-a", testTimestampMS)); err != nil {
		t.Fatal(err)
	}

	if n, err := store.Delete(map[int64]bool{1: true}); err != nil || n != 1 {
		t.Fatalf("Delete = (%d, %v), want (1, nil)", n, err)
	}
	if mem.Exists("data/incoming/2026/03/01/13/hits.binpb") {
		t.Error("empty partition log not removed")
	}

	recs, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestReadAllEmptyStore(t *testing.T) {
	store, _ := newTestFileStore(t)
	recs, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll on empty store failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records from empty store", len(recs))
	}
}
