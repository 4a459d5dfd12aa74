// Command eventvald runs the event validation daemon: a WebSocket ingest
// and watch surface around the validation framework, plus Prometheus
// metrics and reporting endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentwatch/eventval/internal/config"
	"github.com/agentwatch/eventval/internal/server"
	"github.com/agentwatch/eventval/internal/telemetry"
	"github.com/agentwatch/eventval/pkg/events"
	"github.com/agentwatch/eventval/pkg/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.NewLogger("info", "text").WithError(err).Fatal("load config")
	}

	log := telemetry.NewLogger(cfg.Logger.Level, cfg.Logger.Format)

	fwCfg := cfg.Validation.Framework()
	fwCfg.Logger = log

	registry := events.NewRegistry()
	fw := registry.Init(fwCfg)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	telemetry.NewMetrics(promReg).Instrument(fw)

	hub := notify.NewHub(log)
	notifier := notify.NewNotifier(fw, hub, nil, log)

	srv := server.New(cfg.Server, fw, notifier, hub, promReg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("shutdown complete")
}
