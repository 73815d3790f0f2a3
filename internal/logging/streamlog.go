// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// NewStreamLog cria o logger de uma stream de gravação: cada registro vai
// ao handler global E ao diário da stream ({dir}/{stream}.log, JSON,
// nível debug), que fica junto dos segmentos gravados. Assim o operador
// lê a história de uma gravação — segmentos abertos, rolls, uploads —
// sem garimpar o log global do processo.
func NewStreamLog(base *slog.Logger, dir, stream string) (*slog.Logger, io.Closer, error) {
	if base == nil {
		base = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating stream log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, stream+".log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening stream log: %w", err)
	}

	h := &teeHandler{
		global: base.Handler(),
		stream: slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	return slog.New(h).With("stream", stream), f, nil
}

// teeHandler despacha cada registro para o handler global e para o diário
// da stream. O diário aceita tudo a partir de debug, mesmo quando o log
// global filtra em info — é o detalhamento local da gravação.
type teeHandler struct {
	global slog.Handler
	stream slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	// O diário grava a partir de debug: todo registro tem destino.
	return true
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	// Erros de escrita no diário não podem calar o log global.
	if h.stream.Enabled(ctx, r.Level) {
		_ = h.stream.Handle(ctx, r.Clone())
	}
	if !h.global.Enabled(ctx, r.Level) {
		return nil
	}
	return h.global.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		global: h.global.WithAttrs(attrs),
		stream: h.stream.WithAttrs(attrs),
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		global: h.global.WithGroup(name),
		stream: h.stream.WithGroup(name),
	}
}
