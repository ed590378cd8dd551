package main

import (
	"os"

	"github.com/cchambers/director/internal/config"
	"github.com/cchambers/director/internal/dashboard"
	"github.com/cchambers/director/internal/logging"
	"github.com/cchambers/director/internal/version"
	"github.com/cchambers/director/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel)
	logging.Info(logging.CategoryApp, "starting director worker version=%s", version.Version)

	var dash *dashboard.Server
	if cfg.DashboardAddr != "" {
		dash = dashboard.NewServer(cfg.DashboardAddr)
		go dash.Start()
		defer dash.Shutdown()
	}

	w := worker.NewWorker(cfg, dash)
	if err := w.Start(); err != nil {
		logging.Fail(logging.CategoryApp, "worker failed: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "worker shutdown complete")
}
