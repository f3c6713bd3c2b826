package api

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pothole.report/internal/cluster"
	"github.com/banshee-data/pothole.report/internal/hits"
	"github.com/banshee-data/pothole.report/internal/httputil"
	"github.com/banshee-data/pothole.report/internal/units"
	"github.com/banshee-data/pothole.report/internal/version"
)

// maxRequestBody caps an ingest request. A full batch with waveforms is
// well under 1MB.
const maxRequestBody = 4 << 20

const defaultRecentLimit = 50

// ingestResult is the response body for the hits endpoint.
type ingestResult struct {
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error"`
	HitsStored int    `json:"hits_stored"`
}

// receiveHits accepts hit reports from devices. Protobuf payloads are not
// supported in the phase-1 wire format and get a 415 pointing at JSON.
func (s *Server) receiveHits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if ct := r.Header.Get("Content-Type"); strings.Contains(ct, "protobuf") {
		httputil.WriteJSON(w, http.StatusUnsupportedMediaType, ingestResult{
			Accepted: false,
			Error:    "protobuf not yet supported, use application/json",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, ingestResult{Accepted: false, Error: "failed to read body"})
		return
	}

	var msg hits.ClientMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, ingestResult{Accepted: false, Error: "invalid JSON"})
		return
	}

	accepted, errMsg, stored := s.processor.Process(r.Context(), &msg, int64(len(body)))

	status := http.StatusOK
	if !accepted {
		status = http.StatusUnprocessableEntity
		if strings.Contains(errMsg, "too old") {
			status = http.StatusUpgradeRequired
		}
	}
	httputil.WriteJSON(w, status, ingestResult{Accepted: accepted, Error: errMsg, HitsStored: stored})
}

// showPotholes serves the clustered potholes as GeoJSON for map clients.
func (s *Server) showPotholes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	recs, err := s.store.ReadAll()
	if err != nil {
		httputil.InternalServerError(w, "failed to read stored hits")
		return
	}

	clusters := cluster.ClusterRecords(recs, s.cfg.Cluster.MergeRadiusM)
	httputil.WriteGeoJSON(w, cluster.ToGeoJSON(clusters))
}

// recentHit is one row of the admin recent-hits listing.
type recentHit struct {
	RecordID          int64   `json:"record_id"`
	DeviceID          string  `json:"device_id"`
	ServerTimestampMS int64   `json:"server_timestamp_ms"`
	TimestampMS       int64   `json:"timestamp_ms"`
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	Severity          int32   `json:"severity"`
	PeakVerticalMG    int32   `json:"peak_vertical_mg"`
	Speed             float64 `json:"speed"`
	Source            string  `json:"source"`
}

func (s *Server) listRecentHits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	speedUnits := units.MPS
	if v := r.URL.Query().Get("units"); v != "" {
		if !units.IsValid(v) {
			httputil.BadRequest(w, "invalid units, must be one of: "+units.GetValidUnitsString())
			return
		}
		speedUnits = v
	}

	recs, err := s.store.ReadAll()
	if err != nil {
		httputil.InternalServerError(w, "failed to read stored hits")
		return
	}

	// Newest first; record id breaks ties within one millisecond.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ServerTimestampMS != recs[j].ServerTimestampMS {
			return recs[i].ServerTimestampMS > recs[j].ServerTimestampMS
		}
		return recs[i].RecordID > recs[j].RecordID
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]recentHit, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recentHit{
			RecordID:          rec.RecordID,
			DeviceID:          rec.DeviceID,
			ServerTimestampMS: rec.ServerTimestampMS,
			TimestampMS:       rec.Hit.TimestampMS,
			Lat:               rec.Hit.Location.Lat(),
			Lon:               rec.Hit.Location.Lon(),
			Severity:          rec.Hit.Pattern.Severity,
			PeakVerticalMG:    rec.Hit.Pattern.PeakVerticalMG,
			Speed:             units.ConvertSpeed(rec.Hit.SpeedMPS, speedUnits),
			Source:            rec.NormalisedSource(),
		})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"units": speedUnits,
		"count": len(out),
		"hits":  out,
	})
}

type deleteRequest struct {
	RecordIDs []int64 `json:"record_ids"`
}

func (s *Server) deleteHits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}
	// An empty id set is a valid no-op; the store reports 0 deleted.
	ids := make(map[int64]bool, len(req.RecordIDs))
	for _, id := range req.RecordIDs {
		ids[id] = true
	}

	deleted, err := s.store.Delete(ids)
	if err != nil {
		httputil.InternalServerError(w, "failed to delete records")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// summaryResponse aggregates the stored hit set for dashboards.
type summaryResponse struct {
	TotalHits   int            `json:"total_hits"`
	Devices     int            `json:"devices"`
	Potholes    int            `json:"potholes"`
	SpeedMPS    percentileSet  `json:"speed_mps"`
	PeakMG      percentileSet  `json:"peak_mg"`
	SeverityAvg float64        `json:"severity_avg"`
	SeverityMax int32          `json:"severity_max"`
	Sources     map[string]int `json:"sources"`
}

type percentileSet struct {
	P50 float64 `json:"p50"`
	P85 float64 `json:"p85"`
	P98 float64 `json:"p98"`
	Max float64 `json:"max"`
}

// percentiles computes the standard reporting quantiles over a sample set.
// The input slice is sorted in place.
func percentiles(values []float64) percentileSet {
	if len(values) == 0 {
		return percentileSet{}
	}
	sort.Float64s(values)
	return percentileSet{
		P50: stat.Quantile(0.50, stat.Empirical, values, nil),
		P85: stat.Quantile(0.85, stat.Empirical, values, nil),
		P98: stat.Quantile(0.98, stat.Empirical, values, nil),
		Max: values[len(values)-1],
	}
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	recs, err := s.store.ReadAll()
	if err != nil {
		httputil.InternalServerError(w, "failed to read stored hits")
		return
	}

	resp := summaryResponse{
		TotalHits: len(recs),
		Sources:   map[string]int{},
	}

	devices := map[string]bool{}
	speeds := make([]float64, 0, len(recs))
	peaks := make([]float64, 0, len(recs))
	var severitySum int64
	for _, rec := range recs {
		devices[rec.DeviceID] = true
		speeds = append(speeds, rec.Hit.SpeedMPS)
		peaks = append(peaks, float64(rec.Hit.Pattern.PeakVerticalMG))
		severitySum += int64(rec.Hit.Pattern.Severity)
		if rec.Hit.Pattern.Severity > resp.SeverityMax {
			resp.SeverityMax = rec.Hit.Pattern.Severity
		}
		resp.Sources[rec.NormalisedSource()]++
	}
	resp.Devices = len(devices)
	resp.Potholes = len(cluster.ClusterRecords(recs, s.cfg.Cluster.MergeRadiusM))
	resp.SpeedMPS = percentiles(speeds)
	resp.PeakMG = percentiles(peaks)
	if len(recs) > 0 {
		resp.SeverityAvg = math.Round(float64(severitySum)/float64(len(recs))*100) / 100
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snapshot := s.tracker.Snapshot()
	freeGB, err := diskFreeGB(s.cfg.Storage.BaseDir)
	writable := err == nil

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"version":          version.Version,
		"server_time_ms":   s.clock.Now().UnixMilli(),
		"uptime_seconds":   snapshot.UptimeSeconds,
		"queue_depth":      snapshot.QueueDepth,
		"storage_writable": writable,
		"disk_free_gb":     freeGB,
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.tracker.Snapshot())
}

// showClientConfig serves the server-controlled parameters the app reads
// on startup. The limits are advisory; devices throttle themselves.
func (s *Server) showClientConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"min_app_version":      1,
		"latest_app_version":   1,
		"min_protocol_version": hits.MinProtocolVersion,
		"update_urgency":       "none",
		"max_waveform_samples": s.cfg.Ingest.MaxWaveformSamples,
		"max_hits_per_hour":    s.cfg.Ingest.MaxHitsPerHour,
		"max_batch_size":       s.cfg.Ingest.MaxBatchSize,
	})
}
