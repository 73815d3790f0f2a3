// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package filter

import (
	"sync/atomic"

	"github.com/dulton/liveMediaStreamer/internal/frame"
)

// Reader é o endpoint de consumo de um filtro sobre uma queue. Pertence a
// exatamente um filtro; peerID referencia o filtro upstream por id (nunca
// por ponteiro) para a notificação de disconnect.
type Reader struct {
	queue     *frame.Queue
	connected atomic.Bool
	peerID    int
}

func newReader(q *frame.Queue, peerID int) *Reader {
	r := &Reader{queue: q, peerID: peerID}
	r.connected.Store(true)
	return r
}

// GetFrame devolve o frame legível mais antigo, ou nil se desconectado
// ou sem frames. Chamadas num endpoint desconectado são non-fatal.
func (r *Reader) GetFrame() *frame.Frame {
	if !r.connected.Load() {
		return nil
	}
	return r.queue.GetFront()
}

// RemoveFrame libera o frame em checkout.
func (r *Reader) RemoveFrame() error {
	if !r.connected.Load() {
		return nil
	}
	return r.queue.RemoveFrame()
}

// IsConnected informa se o endpoint e a queue estão vivos.
func (r *Reader) IsConnected() bool {
	return r.connected.Load() && !r.queue.Closed()
}

// PeerID retorna o id do filtro upstream.
func (r *Reader) PeerID() int {
	return r.peerID
}

// Queue expõe a queue para diagnóstico (contadores de overflow/underflow).
func (r *Reader) Queue() *frame.Queue {
	return r.queue
}

// Disconnect desliga o endpoint e fecha a queue, notificando o peer.
// A queue é destruída quando ambos os lados soltam as referências.
func (r *Reader) Disconnect() {
	if r.connected.CompareAndSwap(true, false) {
		r.queue.Close()
	}
}

// Writer é o endpoint de produção de um filtro sobre uma queue. No máximo
// um Writer por queue; peerID referencia o filtro downstream.
type Writer struct {
	queue     *frame.Queue
	connected atomic.Bool
	peerID    int

	// wrote marca que este ciclo comprometeu um frame — consumido pelo
	// worker para acordar peers no mesmo worker. Atômico porque sources
	// passivos cometem a partir da thread do driver.
	wrote atomic.Bool
}

func newWriter(q *frame.Queue, peerID int) *Writer {
	w := &Writer{queue: q, peerID: peerID}
	w.connected.Store(true)
	return w
}

// GetFrame devolve o próximo slot livre, ou nil se desconectado ou cheio.
func (w *Writer) GetFrame() *frame.Frame {
	if !w.connected.Load() {
		return nil
	}
	return w.queue.GetRear()
}

// AddFrame comete o slot em checkout, tornando-o visível ao consumidor.
func (w *Writer) AddFrame() error {
	if !w.connected.Load() {
		return nil
	}
	if err := w.queue.AddFrame(); err != nil {
		return err
	}
	w.wrote.Store(true)
	return nil
}

// IsConnected informa se o endpoint e a queue estão vivos.
func (w *Writer) IsConnected() bool {
	return w.connected.Load() && !w.queue.Closed()
}

// PeerID retorna o id do filtro downstream.
func (w *Writer) PeerID() int {
	return w.peerID
}

// Queue expõe a queue para diagnóstico.
func (w *Writer) Queue() *frame.Queue {
	return w.queue
}

// Disconnect desliga o endpoint e fecha a queue, notificando o peer.
func (w *Writer) Disconnect() {
	if w.connected.CompareAndSwap(true, false) {
		w.queue.Close()
	}
}
