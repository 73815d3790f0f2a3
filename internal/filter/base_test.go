// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/dulton/liveMediaStreamer/internal/event"
	"github.com/dulton/liveMediaStreamer/internal/frame"
)

// countingOneToOne registra cada invocação do gancho de domínio — usado para
// provar que backpressure impede a chamada quando o downstream está cheio.
type countingOneToOne struct {
	*BaseFilter
	calls int
}

func newCountingOneToOne(alloc QueueAllocator) *countingOneToOne {
	c := &countingOneToOne{}
	c.BaseFilter = NewBase(Options{
		Type:   "counting",
		Shape:  ShapeOneToOne,
		Alloc:  alloc,
		Logger: testLogger(),
	}, c)
	return c
}

func (c *countingOneToOne) DoProcessFrame(org, dst *frame.Frame) error {
	c.calls++
	if err := dst.SetData(org.Bytes()); err != nil {
		return err
	}
	dst.CopyMetaFrom(org)
	return nil
}

// pumpHead injeta payloads sintéticos num InjectHead.
func pumpHead(t *testing.T, h *InjectHead, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !h.Inject([]byte{byte(i)}, int64(i)*1000) {
			t.Fatalf("Inject failed at frame %d", i)
		}
	}
}

// runCycle executa um ciclo e falha o teste em erro fatal.
func runCycle(t *testing.T, f Filter) []int {
	t.Helper()
	enabled, err := f.RunProcessFrame()
	if err != nil {
		t.Fatalf("RunProcessFrame(%s): %v", f.Type(), err)
	}
	return enabled
}

func TestConnect_RoundTripRestoresOccupancy(t *testing.T) {
	a := NewBypass(testLogger(), testAlloc())
	b := NewBypass(testLogger(), testAlloc())
	a.SetID(1)
	b.SetID(2)

	if a.WriterCount() != 0 || b.ReaderCount() != 0 {
		t.Fatal("fresh filters should have no ports")
	}

	if err := a.ConnectOneToOne(b); err != nil {
		t.Fatalf("ConnectOneToOne: %v", err)
	}
	if a.WriterCount() != 1 || b.ReaderCount() != 1 {
		t.Fatalf("after connect: writers=%d readers=%d", a.WriterCount(), b.ReaderCount())
	}

	if err := a.Disconnect(DefaultID, b, DefaultID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if a.WriterCount() != 0 || b.ReaderCount() != 0 {
		t.Fatalf("after disconnect: writers=%d readers=%d", a.WriterCount(), b.ReaderCount())
	}

	// Round-trip completo: reconectar volta a funcionar
	if err := a.ConnectOneToOne(b); err != nil {
		t.Fatalf("re-connect: %v", err)
	}
}

func TestConnect_CapacityViolation(t *testing.T) {
	a := NewBypass(testLogger(), testAlloc()) // one-to-one: 1 writer, 1 reader
	b := NewBypass(testLogger(), testAlloc())
	c := NewBypass(testLogger(), testAlloc())
	a.SetID(1)
	b.SetID(2)
	c.SetID(3)

	if err := a.ConnectOneToOne(b); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := a.ConnectOneToOne(c); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	// Grafo inalterado na falha
	if a.WriterCount() != 1 || c.ReaderCount() != 0 {
		t.Fatal("failed connect mutated the graph")
	}
}

func TestConnect_SelfAndDuplicatePort(t *testing.T) {
	a := NewSplitter(testLogger(), testAlloc())
	b := NewCollectorTail(testLogger())
	c := NewCollectorTail(testLogger())
	a.SetID(1)
	b.SetID(2)
	c.SetID(3)

	if err := a.ConnectOneToOne(a); !errors.Is(err, ErrSelfConnect) {
		t.Fatalf("expected ErrSelfConnect, got %v", err)
	}

	if err := a.ConnectManyToMany(b, DefaultID, 4); err != nil {
		t.Fatalf("explicit port connect: %v", err)
	}
	if err := a.ConnectManyToMany(c, DefaultID, 4); !errors.Is(err, ErrPortTaken) {
		t.Fatalf("expected ErrPortTaken, got %v", err)
	}

	// Tail não aloca queues
	if err := b.ConnectOneToOne(c); !errors.Is(err, ErrNoAllocator) {
		t.Fatalf("expected ErrNoAllocator, got %v", err)
	}
}

func TestBypass_PassThrough(t *testing.T) {
	h := NewInjectHead(testLogger(), testAlloc())
	f := NewBypass(testLogger(), testAlloc())
	c := NewCollectorTail(testLogger())
	h.SetID(1)
	f.SetID(2)
	c.SetID(3)

	if err := h.ConnectOneToOne(f); err != nil {
		t.Fatalf("connect head: %v", err)
	}
	if err := f.ConnectOneToOne(c); err != nil {
		t.Fatalf("connect tail: %v", err)
	}

	pumpHead(t, h, 5)

	for i := 0; i < 5; i++ {
		enabled := runCycle(t, f)
		if len(enabled) != 1 || enabled[0] != 3 {
			t.Fatalf("cycle %d enabled = %v, want [3]", i, enabled)
		}
		runCycle(t, c)
	}

	got := c.Frames()
	if len(got) != 5 {
		t.Fatalf("collected %d frames, want 5", len(got))
	}
	for i, fr := range got {
		if fr.Seq != uint64(i) || len(fr.Data) != 1 || fr.Data[0] != byte(i) {
			t.Errorf("frame %d mismatch: %+v", i, fr)
		}
	}
	if f.FramesProcessed() != 5 {
		t.Errorf("FramesProcessed = %d, want 5", f.FramesProcessed())
	}
}

func TestBackpressure_NoHookCallWhenFull(t *testing.T) {
	// Queue de saída com depth 2: o terceiro ciclo encontra downstream cheio
	h := NewInjectHead(testLogger(), testAlloc())
	f := newCountingOneToOne(FixedAllocator(frame.DataStream("raw"), 2, 64))
	c := NewCollectorTail(testLogger())
	h.SetID(1)
	f.SetID(2)
	c.SetID(3)

	if err := h.ConnectOneToOne(f); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := f.ConnectOneToOne(c); err != nil {
		t.Fatalf("connect: %v", err)
	}

	pumpHead(t, h, 4)

	runCycle(t, f)
	runCycle(t, f)
	if f.calls != 2 {
		t.Fatalf("hook calls = %d, want 2", f.calls)
	}

	// Downstream cheio: sem chamada ao gancho, wake-delay não-zero
	before := time.Now()
	runCycle(t, f)
	if f.calls != 2 {
		t.Fatalf("hook called with full output queue (calls=%d)", f.calls)
	}
	if !f.NextWake().After(before) {
		t.Fatal("expected non-zero wake delay under backpressure")
	}
	if f.CyclesSkipped() == 0 {
		t.Fatal("skip counter should increase under backpressure")
	}

	// Drena um frame e o upstream volta a progredir
	runCycle(t, c)
	runCycle(t, f)
	if f.calls != 3 {
		t.Fatalf("hook calls = %d after drain, want 3", f.calls)
	}
}

func TestManyToOne_ForceSemantics(t *testing.T) {
	h1 := NewInjectHead(testLogger(), testAlloc())
	h2 := NewInjectHead(testLogger(), testAlloc())
	m := NewMerger(testLogger(), testAlloc(), false)
	c := NewCollectorTail(testLogger())
	h1.SetID(1)
	h2.SetID(2)
	m.SetID(3)
	c.SetID(4)

	if err := h1.ConnectOneToOne(m); err != nil {
		t.Fatalf("connect h1: %v", err)
	}
	if err := h2.ConnectOneToOne(m); err != nil {
		t.Fatalf("connect h2: %v", err)
	}
	if err := m.ConnectOneToOne(c); err != nil {
		t.Fatalf("connect tail: %v", err)
	}

	// force=false: só uma entrada com frame → ciclo pulado
	h1.Inject([]byte{0xaa}, 0)
	runCycle(t, m)
	if m.FramesProcessed() != 0 {
		t.Fatal("merger processed with a starved input and force=false")
	}

	// Segunda entrada chega → merge de ambas
	h2.Inject([]byte{0xbb}, 0)
	runCycle(t, m)
	if m.FramesProcessed() != 1 {
		t.Fatalf("FramesProcessed = %d, want 1", m.FramesProcessed())
	}
	runCycle(t, c)

	got := c.Frames()
	if len(got) != 1 {
		t.Fatalf("collected %d, want 1", len(got))
	}
	// Concatenação em ordem de input id
	if len(got[0].Data) != 2 || got[0].Data[0] != 0xaa || got[0].Data[1] != 0xbb {
		t.Fatalf("merged payload = %x", got[0].Data)
	}

	// force=true: a entrada restante prossegue sozinha
	m.SetForce(true)
	h1.Inject([]byte{0xcc}, 0)
	runCycle(t, m)
	if m.FramesProcessed() != 2 {
		t.Fatalf("force=true should process with a single input, processed=%d", m.FramesProcessed())
	}
}

func TestManyToOne_SetForceEvent(t *testing.T) {
	m := NewMerger(testLogger(), testAlloc(), false)
	m.SetID(1)

	m.PushEvent(event.Event{Name: "setForce", Params: map[string]any{"force": true}})
	m.dispatchEvents(time.Now())

	if !m.Force() {
		t.Fatal("setForce event did not flip the flag")
	}
}

func TestEventDispatch_OrderAndUnknown(t *testing.T) {
	f := NewBypass(testLogger(), testAlloc())
	f.SetID(1)

	var order []string
	f.RegisterEvent("e1", func(map[string]any) error {
		order = append(order, "e1")
		return nil
	})
	f.RegisterEvent("e2", func(map[string]any) error {
		order = append(order, "e2")
		return nil
	})

	base := time.Now()
	// Push em ordem inversa: e2 (T+5ms) antes de e1 (T)
	f.PushEvent(event.Event{Name: "e2", DeliveryTime: base.Add(5 * time.Millisecond)})
	f.PushEvent(event.Event{Name: "e1", DeliveryTime: base})

	// Antes de T+5ms só e1 é elegível
	f.dispatchEvents(base.Add(time.Millisecond))
	if len(order) != 1 || order[0] != "e1" {
		t.Fatalf("order = %v, want [e1]", order)
	}

	f.dispatchEvents(base.Add(10 * time.Millisecond))
	if len(order) != 2 || order[1] != "e2" {
		t.Fatalf("order = %v, want [e1 e2]", order)
	}

	// Evento desconhecido: dropado com resposta de falha
	r := &recordingResponder{}
	f.PushEvent(event.Event{Name: "bogus", Responder: r})
	f.dispatchEvents(time.Now())
	if !r.hit || r.ok {
		t.Fatalf("unknown event should respond failure: %+v", r)
	}
	if f.PendingEvents() != 0 {
		t.Fatal("unknown event should be dropped")
	}
}

type recordingResponder struct {
	hit bool
	ok  bool
	msg string
}

func (r *recordingResponder) Respond(ok bool, msg string) {
	r.hit = true
	r.ok = ok
	r.msg = msg
}

func TestDisconnect_PeerFailsSoftly(t *testing.T) {
	h := NewInjectHead(testLogger(), testAlloc())
	f := NewBypass(testLogger(), testAlloc())
	c := NewCollectorTail(testLogger())
	h.SetID(1)
	f.SetID(2)
	c.SetID(3)

	if err := h.ConnectOneToOne(f); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := f.ConnectOneToOne(c); err != nil {
		t.Fatalf("connect: %v", err)
	}
	pumpHead(t, h, 2)

	// Desconecta a entrada no meio do streaming: o filtro passa a pular
	// ciclos sem violar invariantes
	if err := h.Disconnect(DefaultID, f, DefaultID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	runCycle(t, f)
	if f.FramesProcessed() != 0 {
		t.Fatal("disconnected filter should not process")
	}
	if h.Inject([]byte{1}, 0) {
		t.Fatal("Inject should fail softly after disconnect")
	}
}
