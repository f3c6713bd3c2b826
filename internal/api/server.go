// Package api is the HTTP surface of the hit server: the ingest endpoint
// the devices post to, the pothole map feed, and the monitoring and admin
// endpoints.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/pothole.report/internal/config"
	"github.com/banshee-data/pothole.report/internal/ingest"
	"github.com/banshee-data/pothole.report/internal/stats"
	"github.com/banshee-data/pothole.report/internal/storage"
	"github.com/banshee-data/pothole.report/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server holds the handler dependencies. Handlers are thin adapters: they
// parse the request, call the processor or store, and encode the result.
type Server struct {
	processor *ingest.Processor
	store     storage.HitStore
	tracker   *stats.Tracker
	cfg       config.Config
	clock     timeutil.Clock
}

func NewServer(processor *ingest.Processor, store storage.HitStore, tracker *stats.Tracker, cfg config.Config, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		processor: processor,
		store:     store,
		tracker:   tracker,
		cfg:       cfg,
		clock:     clock,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/hits", s.receiveHits)
	mux.HandleFunc("/api/v1/hits/recent", s.listRecentHits)
	mux.HandleFunc("/api/v1/hits/delete", s.deleteHits)
	mux.HandleFunc("/api/v1/potholes", s.showPotholes)
	mux.HandleFunc("/api/v1/summary", s.showSummary)
	mux.HandleFunc("/api/v1/health", s.showHealth)
	mux.HandleFunc("/api/v1/stats", s.showStats)
	mux.HandleFunc("/api/v1/config", s.showClientConfig)
	mux.Handle("/metrics", s.metricsHandler())
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
