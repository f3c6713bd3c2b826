package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pothole.report/internal/api"
	"github.com/banshee-data/pothole.report/internal/config"
	"github.com/banshee-data/pothole.report/internal/fsutil"
	"github.com/banshee-data/pothole.report/internal/ingest"
	"github.com/banshee-data/pothole.report/internal/mqttingest"
	"github.com/banshee-data/pothole.report/internal/stats"
	"github.com/banshee-data/pothole.report/internal/storage"
	"github.com/banshee-data/pothole.report/internal/timeutil"
	"github.com/banshee-data/pothole.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional)")
	listen     = flag.String("listen", "", "Listen address, overrides config")
)

func newStore(cfg config.Config) (storage.HitStore, error) {
	if cfg.Storage.Backend == "sqlite" {
		return storage.NewSQLiteStore(cfg.Storage.SQLitePath)
	}
	return storage.NewFileStore(fsutil.OSFileSystem{}, cfg.Storage.BaseDir)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("failed to open %s storage: %v", cfg.Storage.Backend, err)
	}
	defer store.Close()

	clock := timeutil.RealClock{}
	tracker := stats.New(time.Duration(cfg.Ingest.ActiveWindowSec)*time.Second, clock)
	queue := ingest.NewChannelQueue(cfg.Ingest.QueueCapacity)
	processor := ingest.NewProcessor(queue, store, tracker, clock)

	log.Printf("pothole server %s starting: listen=%s storage=%s queue_capacity=%d",
		version.Version, cfg.Listen, cfg.Storage.Backend, cfg.Ingest.QueueCapacity)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// storage consumer drains the queue for the lifetime of the process
	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.RunConsumer(ctx)
	}()

	// periodic throughput log
	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.RunReporter(ctx, stats.DefaultReportInterval)
	}()

	if cfg.MQTT.Enabled {
		bridge := mqttingest.NewBridge(processor, cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.ClientID)
		if err := bridge.Start(ctx); err != nil {
			log.Fatalf("failed to start mqtt bridge: %v", err)
		}
		defer bridge.Stop()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(processor, store, tracker, cfg, clock).ServeMux()
		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
