// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package observability

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Reporter emite um snapshot agregado do pipeline no log, num schedule cron
// (ex: "@every 5m").
type Reporter struct {
	cron   *cron.Cron
	logger *slog.Logger
	snap   func() Snapshot
}

// NewReporter cria o reporter. O schedule segue a sintaxe do robfig/cron.
func NewReporter(schedule string, logger *slog.Logger, snap func() Snapshot) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		logger: logger.With("component", "stats_reporter"),
		snap:   snap,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(
		slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, r.emit); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	r.cron = c
	return r, nil
}

// Start liga o schedule.
func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop desliga o schedule e espera um emit em andamento terminar.
func (r *Reporter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Emit força uma emissão imediata (usado no shutdown e em testes).
func (r *Reporter) Emit() {
	r.emit()
}

func (r *Reporter) emit() {
	s := r.snap()

	var processed, skipped, overflows uint64
	running := 0
	for _, f := range s.Filters {
		processed += f.Processed
		skipped += f.Skipped
		if f.Running {
			running++
		}
		for _, q := range f.Queues {
			overflows += q.Overflows
		}
	}

	var cycles uint64
	workersRunning := 0
	for _, w := range s.Workers {
		cycles += w.Cycles
		if w.Running {
			workersRunning++
		}
	}

	r.logger.Info("pipeline stats",
		"filters", len(s.Filters),
		"filters_running", running,
		"frames_processed", processed,
		"cycles_skipped", skipped,
		"queue_overflows", overflows,
		"workers_running", workersRunning,
		"worker_cycles", cycles,
		"paths", len(s.Paths),
		"cpu_pct", s.System.CPUPercent,
		"mem_pct", s.System.MemoryPercent,
		"load1", s.System.Load1,
		"pressure", s.Pressure,
	)
}
