// tallyd runs the metrics engine as a standalone daemon.
//
// It records the built-in host gauges, flushes and reaps shards on its
// timers, and optionally serves its own counters for Prometheus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/tally/internal/logging"
	"github.com/xtxerr/tally/internal/storage"
	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/telemetry"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "tally.yaml", "config file path")
	storageDir := flag.String("storage-dir", "", "shard directory (overrides config)")
	flushInterval := flag.Duration("flush-interval", 0, "flush interval (overrides config)")
	retentionDays := flag.Int("retention", 0, "retention period in days (overrides config)")
	noPoll := flag.Bool("no-system-poll", false, "disable the host metrics poller")
	metricsListen := flag.String("metrics-listen", "", "address for the /metrics endpoint, empty to disable")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(level, *logJSON)
	log := logging.Component("tallyd")

	log.Info("tallyd starting", "version", Version)

	// Load config
	cfg, err := config.Read(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *storageDir != "" {
		cfg.StorageDir = *storageDir
	}
	if *flushInterval > 0 {
		cfg.FlushInterval = *flushInterval
	}
	if *retentionDays > 0 {
		cfg.RetentionPeriod = *retentionDays
	}
	if *noPoll {
		cfg.SystemPoll.Enabled = false
	}

	// =========================================================================
	// Engine
	// =========================================================================

	svc, err := storage.New(cfg)
	if err != nil {
		log.Error("create engine", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		log.Error("start engine", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Self-metrics endpoint
	// =========================================================================

	var srv *http.Server
	if *metricsListen != "" {
		reg, err := telemetry.NewRegistry(svc)
		if err != nil {
			log.Error("register telemetry", "error", err)
			os.Exit(1)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		srv = &http.Server{
			Addr:              *metricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info("serving self-metrics", "addr", *metricsListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics endpoint shutdown", "error", err)
		}
		cancel()
	}

	// Stop does not flush, so persist what is buffered first.
	if _, err := svc.Flush(); err != nil {
		log.Error("final flush failed", "error", err)
	}
	if err := svc.Stop(); err != nil {
		log.Warn("engine stop", "error", err)
	}
}
