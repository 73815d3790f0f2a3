// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package frame

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(DataStream("raw"), 8, 64)

	for i := 0; i < 8; i++ {
		slot := q.GetRear()
		if slot == nil {
			t.Fatalf("GetRear returned nil at put %d", i)
		}
		slot.Seq = uint64(i)
		if err := slot.SetData([]byte{byte(i)}); err != nil {
			t.Fatalf("SetData: %v", err)
		}
		if err := q.AddFrame(); err != nil {
			t.Fatalf("AddFrame: %v", err)
		}
	}

	for i := 0; i < 8; i++ {
		f := q.GetFront()
		if f == nil {
			t.Fatalf("GetFront returned nil at get %d", i)
		}
		if f.Seq != uint64(i) {
			t.Errorf("expected seq %d, got %d", i, f.Seq)
		}
		if len(f.Bytes()) != 1 || f.Bytes()[0] != byte(i) {
			t.Errorf("payload mismatch at %d: %v", i, f.Bytes())
		}
		if err := q.RemoveFrame(); err != nil {
			t.Fatalf("RemoveFrame: %v", err)
		}
	}

	if !q.IsEmpty() {
		t.Error("queue should be empty after draining")
	}
}

func TestQueue_Bounded(t *testing.T) {
	q := NewQueue(AudioStream("opus", 48000, 2), 4, 64)

	// Enche a queue
	for i := 0; i < 4; i++ {
		if q.GetRear() == nil {
			t.Fatalf("GetRear nil before capacity at %d", i)
		}
		if err := q.AddFrame(); err != nil {
			t.Fatalf("AddFrame: %v", err)
		}
	}

	if !q.IsFull() {
		t.Fatal("queue should be full")
	}
	if q.GetRear() != nil {
		t.Fatal("GetRear should return nil when full")
	}
	if q.Overflows() != 1 {
		t.Errorf("expected 1 overflow, got %d", q.Overflows())
	}
	if q.Len() != 4 {
		t.Errorf("readable count = %d, want 4", q.Len())
	}

	// Puts além da capacidade não perdem frames já enfileirados
	if q.GetFront() == nil {
		t.Fatal("GetFront nil on full queue")
	}
	if err := q.RemoveFrame(); err != nil {
		t.Fatalf("RemoveFrame: %v", err)
	}
	if q.Len() != 3 {
		t.Errorf("readable count = %d, want 3", q.Len())
	}
	if q.GetRear() == nil {
		t.Fatal("GetRear should succeed after one remove")
	}
}

func TestQueue_CommitWithoutCheckout(t *testing.T) {
	q := NewQueue(DataStream("raw"), 4, 16)

	if err := q.AddFrame(); err != ErrNoCheckout {
		t.Fatalf("expected ErrNoCheckout, got %v", err)
	}
	if err := q.RemoveFrame(); err != ErrNoCheckout {
		t.Fatalf("expected ErrNoCheckout, got %v", err)
	}
}

func TestQueue_Underflow(t *testing.T) {
	q := NewQueue(DataStream("raw"), 4, 16)

	if q.GetFront() != nil {
		t.Fatal("GetFront on empty queue should return nil")
	}
	if q.Underflows() != 1 {
		t.Errorf("expected 1 underflow, got %d", q.Underflows())
	}
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(DataStream("raw"), 4, 16)
	q.GetRear()
	q.AddFrame()

	q.Close()

	if q.GetRear() != nil {
		t.Error("GetRear on closed queue should return nil")
	}
	if q.GetFront() != nil {
		t.Error("GetFront on closed queue should return nil")
	}
}

// TestQueue_SPSC valida o fast path produtor/consumidor em goroutines
// distintas: todos os frames chegam em ordem, sem gaps nem duplicatas.
func TestQueue_SPSC(t *testing.T) {
	const total = 10000
	q := NewQueue(DataStream("raw"), 8, 16)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		next := uint64(0)
		for next < total {
			slot := q.GetRear()
			if slot == nil {
				continue
			}
			slot.Seq = next
			if err := q.AddFrame(); err != nil {
				t.Errorf("AddFrame: %v", err)
				return
			}
			next++
		}
	}()

	go func() {
		defer wg.Done()
		next := uint64(0)
		for next < total {
			f := q.GetFront()
			if f == nil {
				continue
			}
			if f.Seq != next {
				t.Errorf("out of order: expected %d, got %d", next, f.Seq)
				return
			}
			if err := q.RemoveFrame(); err != nil {
				t.Errorf("RemoveFrame: %v", err)
				return
			}
			next++
		}
	}()

	wg.Wait()
}

func TestFrame_SetDataTooLarge(t *testing.T) {
	f := NewFrame(8, DataStream("raw"))
	if err := f.SetData(make([]byte, 9)); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if err := f.SetLength(9); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestMediaInfo_Constructors(t *testing.T) {
	a := AudioStream("opus", 48000, 2)
	if a.Type != Audio || a.Audio.SampleRate != 48000 || a.Audio.Channels != 2 {
		t.Errorf("unexpected audio info: %+v", a)
	}
	v := VideoStream("h264", 1280, 720, 25)
	if v.Type != Video || v.Video.Width != 1280 || v.Type.String() != "video" {
		t.Errorf("unexpected video info: %+v", v)
	}
	d := DataStream("raw")
	if d.Type != Data || d.Type.String() != "data" {
		t.Errorf("unexpected data info: %+v", d)
	}
}
