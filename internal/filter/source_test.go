// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package filter

import (
	"testing"
	"time"

	"github.com/dulton/liveMediaStreamer/internal/event"
	"github.com/dulton/liveMediaStreamer/internal/frame"
)

func TestSignalHead_EmitsAtRate(t *testing.T) {
	media := frame.AudioStream("pcm", 48000, 2)
	h := NewSignalHead(testLogger(), FixedAllocator(media, 8, 64), media, 1000, 16, 0)
	c := NewCollectorTail(testLogger())
	h.SetID(1)
	c.SetID(2)

	if err := h.ConnectOneToOne(c); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.SetRunning()

	// Primeiro ciclo emite (burst 1); em seguida o pacing devolve delay
	delay, err := h.DoProcessHead()
	if err != nil {
		t.Fatalf("DoProcessHead: %v", err)
	}
	if delay != 0 {
		t.Fatalf("first cycle delay = %v, want 0", delay)
	}
	if h.EmittedFrames() != 1 {
		t.Fatalf("emitted = %d, want 1", h.EmittedFrames())
	}

	delay, err = h.DoProcessHead()
	if err != nil {
		t.Fatalf("DoProcessHead: %v", err)
	}
	if delay <= 0 || delay > 2*time.Millisecond {
		t.Fatalf("pacing delay = %v, want ~1ms", delay)
	}
	if h.EmittedFrames() != 1 {
		t.Fatal("second cycle should not emit before the token refills")
	}

	runCycle(t, c)
	got := c.Frames()
	if len(got) != 1 || got[0].Seq != 0 || got[0].Media.Type != frame.Audio {
		t.Fatalf("unexpected collected frame: %+v", got)
	}
}

func TestSignalHead_BackoffWhenDownstreamFull(t *testing.T) {
	media := frame.DataStream("raw")
	h := NewSignalHead(testLogger(), FixedAllocator(media, 2, 64), media, 1e6, 8, 0)
	c := NewCollectorTail(testLogger())
	h.SetID(1)
	c.SetID(2)

	if err := h.ConnectOneToOne(c); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.SetRunning()

	// Depth 2 sem consumidor rodando: o terceiro ciclo recua
	emitUntilFull := func() {
		deadline := time.Now().Add(time.Second)
		for h.EmittedFrames() < 2 {
			if time.Now().After(deadline) {
				t.Fatal("source never filled the queue")
			}
			if _, err := h.DoProcessHead(); err != nil {
				t.Fatalf("DoProcessHead: %v", err)
			}
		}
	}
	emitUntilFull()

	skippedBefore := h.CyclesSkipped()
	delay, err := h.DoProcessHead()
	if err != nil {
		t.Fatalf("DoProcessHead: %v", err)
	}
	if delay <= 0 {
		t.Fatal("expected non-zero backoff with full downstream")
	}
	if h.CyclesSkipped() <= skippedBefore {
		t.Fatal("skip counter should grow under overflow")
	}
	if h.EmittedFrames() != 2 {
		t.Fatalf("emitted = %d, want 2", h.EmittedFrames())
	}
}

func TestSignalHead_LimitQuiescesGroup(t *testing.T) {
	media := frame.DataStream("raw")
	h := NewSignalHead(testLogger(), FixedAllocator(media, 8, 64), media, 1e6, 8, 2)
	c := NewCollectorTail(testLogger())
	h.SetID(1)
	c.SetID(2)

	if err := h.ConnectOneToOne(c); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.GroupRunnable(c)
	h.SetRunning()
	c.SetRunning()

	deadline := time.Now().Add(time.Second)
	for h.EmittedFrames() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("source never reached its limit")
		}
		if _, err := h.DoProcessHead(); err != nil {
			t.Fatalf("DoProcessHead: %v", err)
		}
	}

	// Fonte esgotada: o próximo ciclo decrementa o contador do grupo
	if _, err := h.DoProcessHead(); err != nil {
		t.Fatalf("DoProcessHead: %v", err)
	}
	// O tail ainda roda (contador 1); quando ele termina, o grupo quiesce
	if !c.IsRunning() {
		t.Fatal("tail should still be running")
	}
	c.UnsetRunning()
	if !h.IsRunning() && !c.IsRunning() {
		return
	}
	t.Fatal("group should be quiesced after both members stopped")
}

func TestSignalHead_SetRateEvent(t *testing.T) {
	media := frame.DataStream("raw")
	h := NewSignalHead(testLogger(), FixedAllocator(media, 8, 64), media, 10, 8, 0)
	h.SetID(1)

	h.PushEvent(event.Event{Name: "setRate", Params: map[string]any{"fps": 500.0}})
	h.dispatchEvents(time.Now())

	r := &recordingResponder{}
	h.PushEvent(event.Event{Name: "setRate", Params: map[string]any{"fps": -1.0}, Responder: r})
	h.dispatchEvents(time.Now())
	if !r.hit || r.ok {
		t.Fatalf("negative fps should fail: %+v", r)
	}
}

func TestInjectHead_NullWriterID(t *testing.T) {
	h := NewInjectHead(testLogger(), testAlloc())
	if h.NullWriterID() != NullWriterID {
		t.Fatalf("NullWriterID = %d", h.NullWriterID())
	}

	// Sem writers conectados o driver falha softly
	if h.Inject([]byte{1}, 0) {
		t.Fatal("Inject with no outputs should fail")
	}

	// Passivo: o ciclo do worker só recua
	delay, err := h.DoProcessHead()
	if err != nil {
		t.Fatalf("DoProcessHead: %v", err)
	}
	if delay <= 0 {
		t.Fatal("passive head should back off")
	}
}
