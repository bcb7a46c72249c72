package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (w *recordingWriter) WriteEvent(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, ev)
	return nil
}

func (w *recordingWriter) snapshot() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

func TestSequencer_DrainsInFIFOOrder(t *testing.T) {
	w := &recordingWriter{}
	seq := NewSequencer(w, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = seq.Run(ctx); close(done) }()

	in := []Event{
		PartialTranscript{Text: "he"},
		FinalTranscript{Text: "hello"},
		TurnEnd{},
		LLMToken{Text: "Hi"},
		AudioChunk{Data: []byte{1, 2}},
		AudioDone{},
	}
	for _, ev := range in {
		seq.Enqueue(ev)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(w.snapshot()) < len(in) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	got := w.snapshot()
	if len(got) != len(in) {
		t.Fatalf("expected %d events written, got %d", len(in), len(got))
	}
	for i := range in {
		if !reflect.DeepEqual(got[i], in[i]) {
			t.Fatalf("order violated at %d: got %#v want %#v", i, got[i], in[i])
		}
	}
}

func TestSequencer_OverflowDropsOldestPartialOnly(t *testing.T) {
	w := &recordingWriter{}
	seq := NewSequencer(w, 3)

	// No Run goroutine: fill the queue beyond capacity.
	seq.Enqueue(PartialTranscript{Text: "a"})
	seq.Enqueue(LLMToken{Text: "t1"})
	seq.Enqueue(LLMToken{Text: "t2"})
	seq.Enqueue(LLMToken{Text: "t3"}) // evicts the partial

	if seq.Dropped() != 1 {
		t.Fatalf("expected 1 dropped partial, got %d", seq.Dropped())
	}
	if seq.Depth() != 3 {
		t.Fatalf("expected depth 3, got %d", seq.Depth())
	}

	// Terminal events are always accepted even over capacity.
	seq.Enqueue(AudioDone{})
	if seq.Depth() != 4 {
		t.Fatalf("expected terminal event queued over capacity, depth=%d", seq.Depth())
	}
	if seq.Dropped() != 1 {
		t.Fatalf("terminal enqueue must not drop, got %d", seq.Dropped())
	}
}

func TestSequencer_IncomingPartialDroppedWhenFull(t *testing.T) {
	w := &recordingWriter{}
	seq := NewSequencer(w, 2)

	seq.Enqueue(LLMToken{Text: "t1"})
	seq.Enqueue(LLMToken{Text: "t2"})
	seq.Enqueue(PartialTranscript{Text: "late"})

	if seq.Depth() != 2 {
		t.Fatalf("expected incoming partial dropped, depth=%d", seq.Depth())
	}
	if seq.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", seq.Dropped())
	}
}

func TestSequencer_FlushesQueueOnCancel(t *testing.T) {
	w := &recordingWriter{}
	seq := NewSequencer(w, 8)

	// Queue a terminal event before Run ever observes the context, then
	// start with an already-cancelled context.
	seq.Enqueue(UpstreamError{Stage: StageSTT, Detail: "socket closed"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := seq.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := w.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected queued event flushed on cancel, got %#v", got)
	}
	if ue, ok := got[0].(UpstreamError); !ok || ue.Stage != StageSTT {
		t.Fatalf("unexpected event: %#v", got[0])
	}
}

func TestSequencer_WriteFailureStopsRun(t *testing.T) {
	w := &recordingWriter{err: errors.New("socket closed")}
	seq := NewSequencer(w, 8)

	errCh := make(chan error, 1)
	go func() { errCh <- seq.Run(context.Background()) }()
	seq.Enqueue(TurnEnd{})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected write error from Run")
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop on write failure")
	}
}
