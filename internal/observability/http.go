// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// NewRouter cria o http.Handler da API de observabilidade.
// snap produz a visão corrente do grafo; store é opcional.
func NewRouter(snap func() Snapshot, store *EventLog) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", handleHealth)
	mux.HandleFunc("/api/v1/pipeline", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, snap())
	})

	if store != nil {
		mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if s := r.URL.Query().Get("limit"); s != "" {
				if n, err := strconv.Atoi(s); err == nil {
					limit = n
				}
			}
			// ?filter=<id> restringe aos eventos de um filtro
			if s := r.URL.Query().Get("filter"); s != "" {
				if id, err := strconv.Atoi(s); err == nil {
					writeJSON(w, store.RecentFor(id, limit))
					return
				}
			}
			writeJSON(w, store.Recent(limit))
		})
	}

	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"version":        Version,
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": time.Since(startTime).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Server embrulha o http.Server da API com lifecycle gracioso.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer cria o server de observabilidade no endereço dado.
func NewServer(listen string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:         listen,
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "observability"),
	}
}

// Start dispara o listener em goroutine própria.
func (s *Server) Start() {
	go func() {
		s.logger.Info("observability API listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observability API failed", "error", err)
		}
	}()
}

// Stop encerra o listener com timeout.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("observability API shutdown", "error", err)
	}
}
