// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dulton/liveMediaStreamer/internal/config"
	"github.com/dulton/liveMediaStreamer/internal/control"
	"github.com/dulton/liveMediaStreamer/internal/filter"
	"github.com/dulton/liveMediaStreamer/internal/monitor"
	"github.com/dulton/liveMediaStreamer/internal/observability"
	"github.com/dulton/liveMediaStreamer/internal/pipeline"
	"github.com/dulton/liveMediaStreamer/internal/recorder"
)

// runtime agrega os subsistemas vivos de uma configuração carregada.
type runtime struct {
	mgr      *pipeline.Manager
	ctl      *control.Dispatcher
	sysmon   *monitor.Monitor
	reporter *observability.Reporter
	api      *observability.Server
	events   *observability.EventLog
}

func buildRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	mgr := pipeline.New(logger, cfg.Scheduler)

	// O monitor observa o volume de gravação e alimenta o load shedding
	// dos workers e o gate de disco do recorder.
	sysmon := monitor.New(logger, 0, cfg.Recorder.Dir)
	mgr.SetLoadFactor(sysmon.Pressure)

	events := observability.NewEventLog(cfg.Observability.EventsCapacity)
	mgr.SetEventSink(events.PushEvent)

	ctl := control.NewDispatcher(mgr, logger)
	ctl.RegisterDefaults(cfg)

	// Recorder com arquivamento opcional em S3 e gate de espaço em disco
	var archiver recorder.Archiver
	if cfg.Recorder.S3.Enabled {
		s3arch, err := recorder.NewS3Archiver(context.Background(), cfg.Recorder.S3, logger)
		if err != nil {
			return nil, err
		}
		archiver = s3arch
	}
	minFree := uint64(cfg.Recorder.MinDiskFreeRaw)
	ctl.RegisterFilterType("recorder-tail", func(l *slog.Logger, params map[string]any) (filter.Filter, error) {
		stream, _ := params["stream"].(string)
		if stream == "" {
			stream = "default"
		}
		rec, err := recorder.New(l, cfg.Recorder, stream, archiver)
		if err != nil {
			return nil, err
		}
		rec.SetDiskGate(func() bool { return sysmon.DiskFree(minFree) })
		return rec, nil
	})

	rt := &runtime{
		mgr:    mgr,
		ctl:    ctl,
		sysmon: sysmon,
		events: events,
	}

	snap := func() observability.Snapshot {
		return observability.BuildSnapshot(mgr, rt.sysmon)
	}

	reporter, err := observability.NewReporter(cfg.Observability.StatsSchedule, logger, snap)
	if err != nil {
		return nil, err
	}
	rt.reporter = reporter

	if cfg.Observability.Enabled {
		router := observability.NewRouter(snap, rt.events)
		rt.api = observability.NewServer(cfg.Observability.Listen, router, logger)
	}
	return rt, nil
}

func (rt *runtime) start() {
	rt.sysmon.Start()
	rt.reporter.Start()
	if rt.api != nil {
		rt.api.Start()
	}
	rt.events.PushEvent("info", "lifecycle", "runtime started", 0)
}

func (rt *runtime) stop() {
	rt.events.PushEvent("info", "lifecycle", "runtime stopping", 0)
	rt.mgr.StopWorkers()
	rt.reporter.Emit()
	rt.reporter.Stop()
	if rt.api != nil {
		rt.api.Stop()
	}
	rt.sysmon.Stop()
}

// runDaemon bloqueia até SIGTERM ou SIGINT. SIGHUP recarrega a configuração
// sem derrubar o processo: o runtime inteiro (manager, control plane,
// monitor, reporter, API) é reconstruído a partir da nova configuração; o
// grafo corrente tem os workers parados e é descartado, e o manager novo
// começa vazio.
func runDaemon(configPath string, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting daemon",
		"queues_audio", cfg.Queues.AudioDepth,
		"queues_video", cfg.Queues.VideoDepth,
		"observability", cfg.Observability.Enabled,
	)

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	rt.start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		sig := <-sigCh

		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading config", "path", configPath)

			newCfg, loadErr := config.Load(configPath)
			if loadErr != nil {
				logger.Error("reload failed, keeping current config", "error", loadErr)
				continue
			}

			newRt, buildErr := buildRuntime(newCfg, logger)
			if buildErr != nil {
				logger.Error("reload failed, keeping current runtime", "error", buildErr)
				continue
			}

			rt.stop()
			rt = newRt
			rt.start()
			logger.Info("config reloaded")
			continue
		}

		logger.Info("shutdown signal received", "signal", sig.String())
		rt.stop()
		return nil
	}
}
