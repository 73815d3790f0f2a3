// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package event define as mensagens de controle entregues aos filtros e a
// queue ordenada por delivery time que as armazena.
package event

import (
	"container/heap"
	"sync"
	"time"
)

// Responder recebe o resultado do processamento de um evento. O control
// plane adapta esta interface ao seu próprio formato de wire.
type Responder interface {
	Respond(ok bool, message string)
}

// Event é uma mensagem de controle nomeada, com parâmetros opacos e um
// delivery time a partir do qual se torna elegível para dispatch.
type Event struct {
	Name         string
	Params       map[string]any
	DeliveryTime time.Time
	Responder    Responder

	// seq desempata eventos com o mesmo delivery time: ordem de push.
	seq uint64
}

// Respond encaminha o resultado ao Responder, se houver.
func (e Event) Respond(ok bool, message string) {
	if e.Responder != nil {
		e.Responder.Respond(ok, message)
	}
}

// Queue é a fila de eventos de um filtro: ordenada por delivery time,
// desempate por ordem de inserção. Produtores (control plane, outros
// filtros) serializam no mutex; o consumo acontece entre ciclos de
// processFrame do filtro.
type Queue struct {
	mu  sync.Mutex
	h   eventHeap
	seq uint64
}

// NewQueue cria uma queue de eventos vazia.
func NewQueue() *Queue {
	return &Queue{}
}

// Push insere um evento. Delivery time zero significa "agora".
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.DeliveryTime.IsZero() {
		e.DeliveryTime = time.Now()
	}
	e.seq = q.seq
	q.seq++
	heap.Push(&q.h, e)
}

// PopDue remove e retorna o evento mais antigo cujo delivery time é <= now.
// Retorna false quando não há evento elegível.
func (q *Queue) PopDue(now time.Time) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.h) == 0 || q.h[0].DeliveryTime.After(now) {
		return Event{}, false
	}
	return heap.Pop(&q.h).(Event), true
}

// Len retorna o número de eventos pendentes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// eventHeap implementa heap.Interface ordenado por (DeliveryTime, seq).
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].DeliveryTime.Equal(h[j].DeliveryTime) {
		return h[i].seq < h[j].seq
	}
	return h[i].DeliveryTime.Before(h[j].DeliveryTime)
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
