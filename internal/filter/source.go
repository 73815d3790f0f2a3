// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package filter

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dulton/liveMediaStreamer/internal/frame"
)

// SignalHead é um source que sintetiza frames a uma taxa fixa, paced por
// token bucket contra wall-clock. O PTS é derivado do mesmo relógio, de modo
// que pacing e timestamps não divergem. A taxa é ajustável em runtime pelo
// evento "setRate"; limit > 0 encerra o source após emitir essa quantidade
// de frames, decrementando uma vez o contador do grupo: o grupo só para
// quando todos os membros completarem.
type SignalHead struct {
	*BaseFilter

	limiter *rate.Limiter
	media   frame.MediaInfo
	payload int
	limit   uint64

	seq   uint64
	epoch time.Time
	done  bool
}

// NewSignalHead cria um source sintético emitindo fps frames/segundo com
// payload bytes por frame.
func NewSignalHead(logger *slog.Logger, alloc QueueAllocator, media frame.MediaInfo, fps float64, payload int, limit uint64) *SignalHead {
	h := &SignalHead{
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		media:   media,
		payload: payload,
		limit:   limit,
		epoch:   time.Now(),
	}
	h.BaseFilter = NewBase(Options{
		Type:   "signal-head",
		Shape:  ShapeHead,
		Alloc:  alloc,
		Logger: logger,
	}, h)

	h.RegisterEvent("setRate", func(params map[string]any) error {
		fps, ok := numberParam(params, "fps")
		if !ok || fps <= 0 {
			return fmt.Errorf("setRate: missing positive numeric parameter %q", "fps")
		}
		h.limiter.SetLimit(rate.Limit(fps))
		h.Logger().Info("emission rate changed", "fps", fps)
		return nil
	})

	return h
}

// EmittedFrames retorna quantos frames o source sintetizou.
func (h *SignalHead) EmittedFrames() uint64 {
	return h.seq
}

// DoProcessHead implementa HeadProducer: emite o mesmo frame em todos os
// writers conectados. Se algum downstream está cheio, nada é emitido neste
// ciclo — a sequência permanece idêntica em todas as saídas e o wake-delay
// cresce com a pressão (S4).
func (h *SignalHead) DoProcessHead() (time.Duration, error) {
	if h.limit > 0 && h.seq >= h.limit {
		// Fonte esgotada: decrementa o contador do cohort uma única vez.
		// O grupo inteiro transiciona quando todos os membros completarem.
		if !h.done {
			h.done = true
			h.UnsetRunning()
		}
		return h.Backoff(), nil
	}

	rsv := h.limiter.Reserve()
	if d := rsv.Delay(); d > 0 {
		rsv.Cancel()
		return d, nil
	}

	h.mu.Lock()
	writers := make([]*Writer, 0, len(h.writers))
	for _, w := range h.writers {
		if w.IsConnected() {
			writers = append(writers, w)
		}
	}
	h.mu.Unlock()

	if len(writers) == 0 {
		rsv.Cancel()
		return h.Backoff(), nil
	}

	slots := make([]*frame.Frame, len(writers))
	for i, w := range writers {
		slot := w.GetFrame()
		if slot == nil {
			// Downstream cheio: devolve o token e recua
			rsv.Cancel()
			h.skipped.Add(1)
			return h.Backoff(), nil
		}
		slots[i] = slot
	}

	pts := time.Since(h.epoch).Microseconds()
	for i, slot := range slots {
		if err := slot.SetLength(min(h.payload, slot.MaxLength())); err != nil {
			return 0, err
		}
		fill(slot.Bytes(), byte(h.seq))
		slot.PTS = pts
		slot.Seq = h.seq
		slot.Media = h.media
		if err := writers[i].AddFrame(); err != nil {
			return 0, err
		}
	}

	h.seq++
	h.processed.Add(1)
	return 0, nil
}

// InjectHead é o source passivo no estilo queue-source: um driver externo
// (adapter de rede, testes) empurra payloads via Inject, e o processFrame do
// worker não produz nada — o writer id de registro é o NullWriterID.
// Invariante SPSC: apenas a thread do driver chama Inject.
type InjectHead struct {
	*BaseFilter
	seq uint64
}

// NewInjectHead cria um source passivo.
func NewInjectHead(logger *slog.Logger, alloc QueueAllocator) *InjectHead {
	h := &InjectHead{}
	h.BaseFilter = NewBase(Options{
		Type:   "inject-head",
		Shape:  ShapeHead,
		Alloc:  alloc,
		Logger: logger,
	}, h)
	return h
}

// DoProcessHead implementa HeadProducer. O source é passivo: o ciclo só
// recua, os frames entram via Inject.
func (h *InjectHead) DoProcessHead() (time.Duration, error) {
	return h.Backoff(), nil
}

// Inject empurra um payload para todos os writers conectados. Retorna false
// quando algum downstream está cheio (o chamador decide drop ou retry).
func (h *InjectHead) Inject(data []byte, pts int64) bool {
	h.mu.Lock()
	writers := make([]*Writer, 0, len(h.writers))
	for _, w := range h.writers {
		if w.IsConnected() {
			writers = append(writers, w)
		}
	}
	h.mu.Unlock()

	if len(writers) == 0 {
		return false
	}

	slots := make([]*frame.Frame, len(writers))
	for i, w := range writers {
		slot := w.GetFrame()
		if slot == nil {
			return false
		}
		slots[i] = slot
	}

	for i, slot := range slots {
		if err := slot.SetData(data); err != nil {
			h.Logger().Warn("inject payload too large, dropping", "bytes", len(data))
			return false
		}
		slot.PTS = pts
		slot.Seq = h.seq
		if err := writers[i].AddFrame(); err != nil {
			h.Logger().Error("inject commit failed", "error", err)
			return false
		}
	}

	h.seq++
	h.processed.Add(1)
	return true
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
