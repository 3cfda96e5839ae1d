package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/publictransport/ptengine/engine"
	"github.com/publictransport/ptengine/engine/request"
)

func main() {
	var (
		providerDir    string
		providerID     string
		stopName       string
		city           string
		maxCount       int
		workers        int
		watchdog       time.Duration
		metricsAddr    string
		showVersion    bool
		enableMetrics  bool
		enableTracing  bool
		watchProviders bool
	)
	flag.StringVar(&providerDir, "providers", "providers", "Directory containing provider manifests and scripts")
	flag.StringVar(&providerID, "provider", "", "Provider id to query; when empty, the loaded provider ids are listed")
	flag.StringVar(&stopName, "stop", "", "Stop name to query departures for")
	flag.StringVar(&city, "city", "", "City disambiguating the stop name")
	flag.IntVar(&maxCount, "count", 20, "Maximum number of results requested")
	flag.IntVar(&workers, "workers", 4, "Scheduler worker pool size")
	flag.DurationVar(&watchdog, "watchdog", 30*time.Second, "Quiescence wait restart interval")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose Prometheus metrics on address (e.g. :9090)")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&enableMetrics, "enable-metrics", true, "Register the scheduler's Prometheus collectors")
	flag.BoolVar(&enableTracing, "enable-tracing", false, "Emit OpenTelemetry spans instead of using the no-op tracer")
	flag.BoolVar(&watchProviders, "watch-providers", true, "Proactively invalidate the capability cache on script changes")
	flag.Parse()

	if showVersion {
		fmt.Println("ptengine - public transport timetable data engine")
		return
	}

	cfg := engine.Defaults()
	cfg.ProviderDir = providerDir
	cfg.SchedulerWorkers = workers
	cfg.Watchdog = watchdog
	cfg.MetricsEnabled = enableMetrics
	cfg.TracingEnabled = enableTracing
	cfg.WatchProviderFiles = watchProviders

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	defer func() { _ = eng.Stop() }()

	eng.RegisterEventObserver(func(ev engine.TelemetryEvent) {
		enc := json.NewEncoder(os.Stdout)
		_ = enc.Encode(ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; shutting down")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if err := eng.Start(ctx); err != nil {
		log.Printf("initial capability discovery: %v", err)
	}

	if metricsAddr != "" {
		if h := eng.MetricsHandler(); h != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			go func() {
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() { <-ctx.Done(); _ = srv.Shutdown(context.Background()) }()
				log.Printf("metrics listening on %s", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("metrics server: %v", err)
				}
			}()
		}
	}

	if providerID == "" {
		ids := eng.ProviderIDs()
		fmt.Printf("loaded %d provider(s): %v\n", len(ids), ids)
		fmt.Println("pass -provider and -stop to run a departures query")
		<-ctx.Done()
		return
	}

	if stopName != "" {
		stop := request.StopRef{Name: stopName}
		if err := eng.GetDepartures(ctx, providerID, stop, time.Now(), maxCount, city); err != nil {
			log.Fatalf("get departures: %v", err)
		}
	}

	<-ctx.Done()
}
