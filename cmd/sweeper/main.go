package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hail/internal/app"
	"github.com/example/ride-hail/internal/config"
)

// Standalone reclamation worker. Runs the same sweep jobs the server
// schedules, for deployments that keep background work off the API
// instances.
func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	a, err := app.Build(cfg)
	if err != nil {
		os.Stderr.WriteString("build: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := a.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	logger.Info("sweeper starting")
	a.Scheduler.Run(ctx)
	logger.Info("sweeper stopped")

	if a.PG != nil {
		_ = a.PG.Close()
	}
}
