// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package observability

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dulton/liveMediaStreamer/internal/config"
	"github.com/dulton/liveMediaStreamer/internal/filter"
	"github.com/dulton/liveMediaStreamer/internal/frame"
	"github.com/dulton/liveMediaStreamer/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventLog_SeverityAwareEviction(t *testing.T) {
	l := NewEventLog(3)

	l.PushEvent("error", "worker_fatal", "queue commit without checkout", 7)
	l.PushEvent("info", "filter_added", "bypass", 1)
	l.PushEvent("info", "filter_added", "zstd", 2)
	// Estouro: o info mais antigo cai, o error sobrevive
	l.PushEvent("info", "path_connected", "path 1", 0)

	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	got := l.Recent(0)
	if got[0].Type != "worker_fatal" {
		t.Fatalf("error entry was evicted: %+v", got)
	}
	if got[1].Message != "zstd" || got[2].Type != "path_connected" {
		t.Fatalf("unexpected survivors: %+v", got)
	}
	if got[0].Timestamp == "" {
		t.Fatal("timestamp not filled")
	}

	// Mais pushes info: o error continua retido
	l.PushEvent("info", "a", "x", 0)
	l.PushEvent("info", "b", "y", 0)
	if l.Recent(0)[0].Type != "worker_fatal" {
		t.Fatal("error entry should outlive info churn")
	}

	// warns caem antes de errors, depois de infos
	l2 := NewEventLog(2)
	l2.PushEvent("warn", "w", "", 0)
	l2.PushEvent("error", "e", "", 0)
	l2.PushEvent("warn", "w2", "", 0)
	got2 := l2.Recent(0)
	if len(got2) != 2 || got2[0].Type != "e" || got2[1].Type != "w2" {
		t.Fatalf("warn eviction order wrong: %+v", got2)
	}
}

func TestEventLog_RecentLimitsAndFilter(t *testing.T) {
	l := NewEventLog(10)
	l.PushEvent("info", "filter_added", "bypass", 1)
	l.PushEvent("info", "filter_added", "merger", 2)
	l.PushEvent("error", "worker_fatal", "boom", 2)

	if got := l.Recent(2); len(got) != 2 || got[1].Type != "worker_fatal" {
		t.Fatalf("Recent(2) = %+v", got)
	}

	byFilter := l.RecentFor(2, 0)
	if len(byFilter) != 2 || byFilter[1].Message != "boom" {
		t.Fatalf("RecentFor(2) = %+v", byFilter)
	}
	if got := l.RecentFor(2, 1); len(got) != 1 || got[0].Type != "worker_fatal" {
		t.Fatalf("RecentFor(2, 1) = %+v", got)
	}
	if got := l.RecentFor(99, 0); len(got) != 0 {
		t.Fatalf("RecentFor(99) = %+v", got)
	}
}

func buildGraph(t *testing.T) (*pipeline.Manager, *EventLog) {
	t.Helper()
	mgr := pipeline.New(testLogger(), config.Default().Scheduler)
	log := NewEventLog(50)
	mgr.SetEventSink(log.PushEvent)

	alloc := filter.FixedAllocator(frame.DataStream("raw"), 4, 32)
	h := filter.NewInjectHead(testLogger(), alloc)
	c := filter.NewCollectorTail(testLogger())
	if err := mgr.AddFilter(1, h); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if err := mgr.AddFilter(2, c); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if err := mgr.CreatePath(1, 1, 2, 1, 1, nil); err != nil {
		t.Fatalf("CreatePath: %v", err)
	}
	if err := mgr.ConnectPath(1); err != nil {
		t.Fatalf("ConnectPath: %v", err)
	}
	h.Inject([]byte{1, 2, 3}, 0)
	return mgr, log
}

func TestEventLog_ReceivesManagerLifecycle(t *testing.T) {
	_, log := buildGraph(t)

	types := map[string]bool{}
	for _, e := range log.Recent(0) {
		types[e.Type] = true
	}
	for _, want := range []string{"filter_added", "path_connected"} {
		if !types[want] {
			t.Errorf("event log missing %q, got %v", want, types)
		}
	}
}

func TestBuildSnapshot(t *testing.T) {
	mgr, _ := buildGraph(t)

	snap := BuildSnapshot(mgr, nil)
	if len(snap.Filters) != 2 {
		t.Fatalf("filters = %d, want 2", len(snap.Filters))
	}
	head := snap.Filters[0]
	if head.ID != 1 || head.Shape != "head" || head.Writers != 1 {
		t.Fatalf("head status: %+v", head)
	}
	if len(head.Queues) != 1 || head.Queues[0].Len != 1 || head.Queues[0].Depth != 4 {
		t.Fatalf("head queue status: %+v", head.Queues)
	}
	if len(snap.Paths) != 1 || !snap.Paths[0].Connected {
		t.Fatalf("path status: %+v", snap.Paths)
	}
	// Sem monitor, a pressão default é neutra
	if snap.Pressure != 1 {
		t.Fatalf("pressure = %v, want 1", snap.Pressure)
	}
}

func TestRouter_Endpoints(t *testing.T) {
	mgr, log := buildGraph(t)

	router := NewRouter(func() Snapshot { return BuildSnapshot(mgr, nil) }, log)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("health = %+v", health)
	}

	resp2, err := http.Get(srv.URL + "/api/v1/pipeline")
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	defer resp2.Body.Close()
	var snap Snapshot
	if err := json.NewDecoder(resp2.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(snap.Filters) != 2 {
		t.Fatalf("snapshot filters = %d", len(snap.Filters))
	}

	resp3, err := http.Get(srv.URL + "/api/v1/events?limit=50")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp3.Body.Close()
	var events []EventEntry
	if err := json.NewDecoder(resp3.Body).Decode(&events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("no lifecycle events surfaced")
	}

	// Restrição por filtro
	resp4, err := http.Get(srv.URL + "/api/v1/events?filter=1")
	if err != nil {
		t.Fatalf("events by filter: %v", err)
	}
	defer resp4.Body.Close()
	var byFilter []EventEntry
	if err := json.NewDecoder(resp4.Body).Decode(&byFilter); err != nil {
		t.Fatalf("decoding filtered events: %v", err)
	}
	for _, e := range byFilter {
		if e.FilterID != 1 {
			t.Fatalf("filtered events leaked other ids: %+v", byFilter)
		}
	}
}

func TestReporter_Emit(t *testing.T) {
	mgr, _ := buildGraph(t)

	r, err := NewReporter("@every 1h", testLogger(), func() Snapshot {
		return BuildSnapshot(mgr, nil)
	})
	if err != nil {
		t.Fatalf("NewReporter: %v", err)
	}
	r.Start()
	r.Emit()
	r.Stop()

	if _, err := NewReporter("not a schedule", testLogger(), nil); err == nil {
		t.Fatal("invalid schedule should fail")
	}
}
