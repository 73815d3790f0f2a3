// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package filter

import (
	"log/slog"
	"sync"

	"github.com/dulton/liveMediaStreamer/internal/frame"
)

// CapturedFrame é a cópia de um frame observado por um CollectorTail.
type CapturedFrame struct {
	Input int
	Data  []byte
	PTS   int64
	Seq   uint64
	Media frame.MediaInfo
}

// CollectorTail é um sink que acumula cópias dos frames consumidos.
// Serve de destino para testes e para embedders que drenam o grafo
// diretamente em memória.
type CollectorTail struct {
	*BaseFilter

	mu     sync.Mutex
	frames []CapturedFrame
}

// NewCollectorTail cria um sink coletor.
func NewCollectorTail(logger *slog.Logger) *CollectorTail {
	c := &CollectorTail{}
	c.BaseFilter = NewBase(Options{
		Type:   "collector-tail",
		Shape:  ShapeTail,
		Logger: logger,
	}, c)
	return c
}

// DoConsumeFrame implementa TailConsumer.
func (c *CollectorTail) DoConsumeFrame(org map[int]*frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range sortedKeys(org) {
		fr := org[id]
		data := make([]byte, fr.Length())
		copy(data, fr.Bytes())
		c.frames = append(c.frames, CapturedFrame{
			Input: id,
			Data:  data,
			PTS:   fr.PTS,
			Seq:   fr.Seq,
			Media: fr.Media,
		})
	}
	return nil
}

// Count retorna quantos frames foram coletados.
func (c *CollectorTail) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Frames retorna uma cópia dos frames coletados, em ordem de chegada.
func (c *CollectorTail) Frames() []CapturedFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CapturedFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// FuncTail é um sink que entrega cada frame consumido a um callback —
// a ponte para adapters de saída externos (rede, gravação).
type FuncTail struct {
	*BaseFilter
	fn func(input int, fr *frame.Frame) error
}

// NewFuncTail cria um sink de callback.
func NewFuncTail(logger *slog.Logger, name string, fn func(input int, fr *frame.Frame) error) *FuncTail {
	t := &FuncTail{fn: fn}
	t.BaseFilter = NewBase(Options{
		Type:   name,
		Shape:  ShapeTail,
		Logger: logger,
	}, t)
	return t
}

// DoConsumeFrame implementa TailConsumer.
func (t *FuncTail) DoConsumeFrame(org map[int]*frame.Frame) error {
	for _, id := range sortedKeys(org) {
		if err := t.fn(id, org[id]); err != nil {
			return err
		}
	}
	return nil
}
