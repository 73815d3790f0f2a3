// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package observability

import (
	"time"

	"github.com/dulton/liveMediaStreamer/internal/monitor"
	"github.com/dulton/liveMediaStreamer/internal/pipeline"
)

// startTime registra quando o processo iniciou (para cálculo de uptime).
var startTime = time.Now()

// Version é preenchida via ldflags no build (-X ...Version=x.y.z).
var Version = "dev"

// QueueStatus descreve a queue de um output port.
type QueueStatus struct {
	WriterID   int    `json:"writer_id"`
	PeerID     int    `json:"peer_id"`
	Media      string `json:"media"`
	Depth      int    `json:"depth"`
	Len        int    `json:"len"`
	Overflows  uint64 `json:"overflows"`
	Underflows uint64 `json:"underflows"`
}

// FilterStatus descreve um filtro registrado.
type FilterStatus struct {
	ID            int           `json:"id"`
	Type          string        `json:"type"`
	Shape         string        `json:"shape"`
	Running       bool          `json:"running"`
	Processed     uint64        `json:"frames_processed"`
	Skipped       uint64        `json:"cycles_skipped"`
	PendingEvents int           `json:"pending_events"`
	Readers       int           `json:"readers"`
	Writers       int           `json:"writers"`
	Queues        []QueueStatus `json:"queues,omitempty"`
}

// WorkerStatus descreve um worker.
type WorkerStatus struct {
	ID         int    `json:"id"`
	Running    bool   `json:"running"`
	Cycles     uint64 `json:"cycles"`
	Processors []int  `json:"processors"`
}

// PathStatus descreve um path registrado.
type PathStatus struct {
	ID            int   `json:"id"`
	Origin        int   `json:"origin"`
	Dest          int   `json:"dest"`
	Intermediates []int `json:"intermediates,omitempty"`
	Connected     bool  `json:"connected"`
}

// Snapshot é a visão consistente do grafo num instante.
type Snapshot struct {
	Timestamp     string         `json:"timestamp"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Filters       []FilterStatus `json:"filters"`
	Workers       []WorkerStatus `json:"workers"`
	Paths         []PathStatus   `json:"paths"`
	System        monitor.Sample `json:"system"`
	Pressure      float64        `json:"pressure"`
}

// BuildSnapshot coleta o estado corrente do manager. mon é opcional.
func BuildSnapshot(mgr *pipeline.Manager, mon *monitor.Monitor) Snapshot {
	snap := Snapshot{
		Timestamp:     time.Now().Format(time.RFC3339),
		UptimeSeconds: time.Since(startTime).Seconds(),
		Pressure:      1,
	}
	if mon != nil {
		snap.System = mon.Sample()
		snap.Pressure = mon.Pressure()
	}

	for _, id := range mgr.FilterIDs() {
		f := mgr.GetFilter(id)
		if f == nil {
			continue
		}
		b := f.Base()
		fs := FilterStatus{
			ID:            id,
			Type:          f.Type(),
			Shape:         f.Shape().String(),
			Running:       f.IsRunning(),
			Processed:     b.FramesProcessed(),
			Skipped:       b.CyclesSkipped(),
			PendingEvents: b.PendingEvents(),
			Readers:       b.ReaderCount(),
			Writers:       b.WriterCount(),
		}
		for _, qs := range b.OutputQueueStats() {
			fs.Queues = append(fs.Queues, QueueStatus{
				WriterID:   qs.WriterID,
				PeerID:     qs.PeerID,
				Media:      qs.Media,
				Depth:      qs.Depth,
				Len:        qs.Len,
				Overflows:  qs.Overflows,
				Underflows: qs.Underflows,
			})
		}
		snap.Filters = append(snap.Filters, fs)
	}

	for _, id := range mgr.WorkerIDs() {
		w := mgr.GetWorker(id)
		if w == nil {
			continue
		}
		snap.Workers = append(snap.Workers, WorkerStatus{
			ID:         id,
			Running:    w.IsRunning(),
			Cycles:     w.Cycles(),
			Processors: w.Processors(),
		})
	}

	for _, p := range mgr.GetPaths() {
		snap.Paths = append(snap.Paths, PathStatus{
			ID:            p.ID,
			Origin:        p.OriginFilterID,
			Dest:          p.DestFilterID,
			Intermediates: p.Intermediates,
			Connected:     p.Connected(),
		})
	}

	return snap
}
