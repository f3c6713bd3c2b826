package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/pothole.report/internal/config"
	"github.com/banshee-data/pothole.report/internal/hits"
	"github.com/banshee-data/pothole.report/internal/ingest"
	"github.com/banshee-data/pothole.report/internal/stats"
	"github.com/banshee-data/pothole.report/internal/timeutil"
)

// fakeStore is an in-memory HitStore for handler tests.
type fakeStore struct {
	mu   sync.Mutex
	recs []hits.ServerHitRecord
}

func (f *fakeStore) Store(rec *hits.ServerHitRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, *rec)
	return nil
}

func (f *fakeStore) StoreBatch(recs []*hits.ServerHitRecord) error {
	for _, rec := range recs {
		if err := f.Store(rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) ReadAll() ([]hits.ServerHitRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]hits.ServerHitRecord, len(f.recs))
	copy(out, f.recs)
	return out, nil
}

func (f *fakeStore) Delete(ids map[int64]bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []hits.ServerHitRecord
	deleted := 0
	for _, rec := range f.recs {
		if ids[rec.RecordID] {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	f.recs = kept
	return deleted, nil
}

func (f *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	cfg := config.Config{}
	config.ApplyDefaults(&cfg)

	clock := timeutil.NewManualClock(time.Unix(1_772_000_000, 0))
	store := &fakeStore{}
	tracker := stats.New(stats.DefaultActiveWindow, clock)
	queue := ingest.NewChannelQueue(64)
	processor := ingest.NewProcessor(queue, store, tracker, clock)
	return NewServer(processor, store, tracker, cfg, clock), store
}

func seedRecord(id int64, device string, tsMS int64, latMicro, lonMicro int32, severity int32, speedMPS float64) hits.ServerHitRecord {
	return hits.ServerHitRecord{
		ServerTimestampMS: tsMS,
		ProtocolVersion:   1,
		DeviceID:          device,
		RecordID:          id,
		Hit: hits.Hit{
			TimestampMS: tsMS,
			Location:    hits.Location{LatMicroDeg: latMicro, LonMicroDeg: lonMicro, AccuracyM: 5},
			SpeedMPS:    speedMPS,
			Pattern:     hits.ImpactPattern{Severity: severity, PeakVerticalMG: 900},
		},
	}
}

func TestReceiveHitsAcceptsSingleHit(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{
		"protocol_version": 1,
		"device_id": "test-device-1",
		"app_version": 3,
		"hit": {
			"timestamp_ms": 1700000000000,
			"location": {"lat_microdeg": 51500000, "lon_microdeg": -120000, "accuracy_m": 5},
			"speed_mps": 13.5,
			"pattern": {"severity": 4, "peak_vertical_mg": 1200}
		}
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hits", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.receiveHits(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var result ingestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Accepted || result.HitsStored != 1 || result.Error != "" {
		t.Errorf("result = %+v, want accepted with 1 hit", result)
	}
}

func TestReceiveHitsRejectsOldProtocol(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"protocol_version": 0, "device_id": "test-device-1", "hit": {"timestamp_ms": 1}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hits", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.receiveHits(w, req)

	if w.Code != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want 426; body: %s", w.Code, w.Body.String())
	}
}

func TestReceiveHitsRejectsMissingDevice(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"protocol_version": 1, "hit": {"timestamp_ms": 1}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hits", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.receiveHits(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body: %s", w.Code, w.Body.String())
	}
}

func TestReceiveHitsRejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hits", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.receiveHits(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReceiveHitsRejectsProtobuf(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hits", strings.NewReader("\x00\x01"))
	req.Header.Set("Content-Type", "application/x-protobuf")
	w := httptest.NewRecorder()
	srv.receiveHits(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", w.Code)
	}
}

func TestReceiveHitsMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/hits", nil)
	w := httptest.NewRecorder()
	srv.receiveHits(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestShowPotholes(t *testing.T) {
	srv, store := newTestServer(t)
	// Two hits 11m apart cluster into one pothole.
	store.recs = []hits.ServerHitRecord{
		seedRecord(1, "dev-a", 1000, 51500000, -120000, 3, 12),
		seedRecord(2, "dev-b", 2000, 51500100, -120000, 5, 14),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/potholes", nil)
	w := httptest.NewRecorder()
	srv.showPotholes(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q, want application/geo+json", ct)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties struct {
				HitCount int `json:"hit_count"`
				Devices  int `json:"devices"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decode geojson: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("got %d features, want 1; type %q", len(fc.Features), fc.Type)
	}
	if fc.Features[0].Properties.HitCount != 2 || fc.Features[0].Properties.Devices != 2 {
		t.Errorf("properties = %+v, want 2 hits from 2 devices", fc.Features[0].Properties)
	}
}

func TestListRecentHitsLimitAndUnits(t *testing.T) {
	srv, store := newTestServer(t)
	store.recs = []hits.ServerHitRecord{
		seedRecord(1, "dev-a", 1000, 51500000, -120000, 3, 10),
		seedRecord(2, "dev-a", 3000, 51500000, -120000, 3, 10),
		seedRecord(3, "dev-a", 2000, 51500000, -120000, 3, 10),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hits/recent?limit=2&units=kph", nil)
	w := httptest.NewRecorder()
	srv.listRecentHits(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Units string      `json:"units"`
		Count int         `json:"count"`
		Hits  []recentHit `json:"hits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Hits) != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Hits[0].RecordID != 2 || resp.Hits[1].RecordID != 3 {
		t.Errorf("order = [%d %d], want [2 3] (newest first)", resp.Hits[0].RecordID, resp.Hits[1].RecordID)
	}
	if resp.Hits[0].Speed != 36 {
		t.Errorf("speed = %v, want 36 km/h for 10 m/s", resp.Hits[0].Speed)
	}
}

func TestListRecentHitsInvalidUnits(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/hits/recent?units=furlongs", nil)
	w := httptest.NewRecorder()
	srv.listRecentHits(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDeleteHits(t *testing.T) {
	srv, store := newTestServer(t)
	store.recs = []hits.ServerHitRecord{
		seedRecord(1, "dev-a", 1000, 51500000, -120000, 3, 10),
		seedRecord(2, "dev-a", 2000, 51500000, -120000, 3, 10),
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hits/delete",
		strings.NewReader(`{"record_ids": [2, 99]}`))
	w := httptest.NewRecorder()
	srv.deleteHits(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["deleted"] != 1 {
		t.Errorf("deleted = %d, want 1", resp["deleted"])
	}
	if remaining, _ := store.ReadAll(); len(remaining) != 1 || remaining[0].RecordID != 1 {
		t.Errorf("store should retain only record 1, got %+v", remaining)
	}
}

func TestDeleteHitsEmptySetIsNoOp(t *testing.T) {
	srv, store := newTestServer(t)
	store.recs = []hits.ServerHitRecord{
		seedRecord(1, "dev-a", 1000, 51500000, -120000, 2, 10),
	}

	for _, body := range []string{`{}`, `{"record_ids": []}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/hits/delete", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.deleteHits(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("body %s: status = %d, want 200; body: %s", body, w.Code, w.Body.String())
		}
		var resp map[string]int
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["deleted"] != 0 {
			t.Errorf("body %s: deleted = %d, want 0", body, resp["deleted"])
		}
	}
	if remaining, _ := store.ReadAll(); len(remaining) != 1 {
		t.Errorf("empty delete must not touch the store, got %d records", len(remaining))
	}
}

func TestShowSummary(t *testing.T) {
	srv, store := newTestServer(t)
	store.recs = []hits.ServerHitRecord{
		seedRecord(1, "dev-a", 1000, 51500000, -120000, 2, 10),
		seedRecord(2, "dev-b", 2000, 51500000, -120000, 6, 20),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil)
	w := httptest.NewRecorder()
	srv.showSummary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var resp summaryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalHits != 2 || resp.Devices != 2 || resp.Potholes != 1 {
		t.Errorf("summary = %+v, want 2 hits, 2 devices, 1 pothole", resp)
	}
	if resp.SeverityMax != 6 || resp.SeverityAvg != 4 {
		t.Errorf("severity = avg %v max %d, want avg 4 max 6", resp.SeverityAvg, resp.SeverityMax)
	}
	if resp.SpeedMPS.Max != 20 {
		t.Errorf("speed max = %v, want 20", resp.SpeedMPS.Max)
	}
	if resp.Sources[hits.SourceAuto] != 2 {
		t.Errorf("sources = %v, want 2 auto", resp.Sources)
	}
}

func TestShowHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.showHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	for _, key := range []string{"version", "uptime_seconds", "queue_depth", "storage_writable", "disk_free_gb"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("health response missing %q", key)
		}
	}
	if got := resp["server_time_ms"]; got != float64(1_772_000_000_000) {
		t.Errorf("server_time_ms = %v, want the test clock's time", got)
	}
}

func TestShowClientConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	srv.showClientConfig(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["max_batch_size"] != float64(config.DefaultMaxBatchSize) {
		t.Errorf("max_batch_size = %v, want %d", resp["max_batch_size"], config.DefaultMaxBatchSize)
	}
	if resp["min_protocol_version"] != float64(hits.MinProtocolVersion) {
		t.Errorf("min_protocol_version = %v, want %d", resp["min_protocol_version"], hits.MinProtocolVersion)
	}
}

func TestShowStats(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.showStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var snapshot stats.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.HitsReceived != 0 || snapshot.ActiveDevices.Total != 0 {
		t.Errorf("fresh tracker snapshot not zeroed: %+v", snapshot)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, metric := range []string{"pothole_hits_received_total", "pothole_queue_depth", "pothole_active_devices"} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}
