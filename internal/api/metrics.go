package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the tracker counters in Prometheus format. Each
// Server carries its own registry so tests can build servers freely
// without duplicate-registration panics.
func (s *Server) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()

	gauge := func(name, help string, value func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pothole",
			Name:      name,
			Help:      help,
		}, value))
	}

	gauge("hits_received_total", "Hits received over HTTP and MQTT.", func() float64 {
		return float64(s.tracker.Snapshot().HitsReceived)
	})
	gauge("hits_stored_total", "Hits accepted onto the storage queue.", func() float64 {
		return float64(s.tracker.Snapshot().HitsStored)
	})
	gauge("hits_rejected_total", "Hits rejected by validation or a full queue.", func() float64 {
		return float64(s.tracker.Snapshot().HitsRejected)
	})
	gauge("heartbeats_received_total", "Heartbeat messages received.", func() float64 {
		return float64(s.tracker.Snapshot().HeartbeatsReceived)
	})
	gauge("storage_errors_total", "Failed background storage writes.", func() float64 {
		return float64(s.tracker.Snapshot().StorageErrors)
	})
	gauge("queue_depth", "Current record queue depth.", func() float64 {
		return float64(s.tracker.Snapshot().QueueDepth)
	})
	gauge("active_devices", "Devices seen inside the active window.", func() float64 {
		return float64(s.tracker.Snapshot().ActiveDevices.Total)
	})

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
