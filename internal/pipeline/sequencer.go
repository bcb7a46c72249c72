package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
)

// FrameWriter delivers one event to the client channel. Implementations do
// the wire serialization; a nil-frame event is simply skipped there.
type FrameWriter interface {
	WriteEvent(ev Event) error
}

// Sequencer is the single writer of the client-facing channel. Every
// producer enqueues; exactly one Run goroutine drains in FIFO order, so
// events from different producers can never interleave mid-frame.
type Sequencer struct {
	w        FrameWriter
	capacity int
	logger   zerolog.Logger

	mu       sync.Mutex
	queue    []Event
	dropped  int
	notifyCh chan struct{}
}

// NewSequencer returns a sequencer with the given queue capacity.
func NewSequencer(w FrameWriter, capacity int) *Sequencer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Sequencer{
		w:        w,
		capacity: capacity,
		logger:   applog.WithComponent("sequencer"),
		notifyCh: make(chan struct{}, 1),
	}
}

// Enqueue adds an event without blocking the caller. When the queue is full
// the oldest queued partial transcript is evicted first; terminal events are
// always accepted. Ownership of ev transfers to the sequencer.
func (s *Sequencer) Enqueue(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= s.capacity {
		if i := s.oldestPartialLocked(); i >= 0 {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.dropped++
		} else if !Terminal(ev) {
			if _, ok := ev.(PartialTranscript); ok {
				// Superseded before delivery; the next partial replaces it.
				s.dropped++
				s.mu.Unlock()
				return
			}
			s.logger.Warn().Int("queued", len(s.queue)).Msg("queue over capacity, keeping ordered event")
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Sequencer) oldestPartialLocked() int {
	for i, ev := range s.queue {
		if _, ok := ev.(PartialTranscript); ok {
			return i
		}
	}
	return -1
}

// Dropped reports how many superseded partials were discarded.
func (s *Sequencer) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Depth reports the current queue length.
func (s *Sequencer) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drains the queue until ctx is cancelled or a write fails. A write
// failure means the client socket itself is gone and tears down the session.
// On cancellation anything already queued is still flushed, so terminal
// events enqueued just before shutdown reach the client.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if err := s.w.WriteEvent(ev); err != nil {
				return err
			}
			continue
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return s.flush()
		case <-s.notifyCh:
		}
	}
}

func (s *Sequencer) flush() error {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		if err := s.w.WriteEvent(ev); err != nil {
			return err
		}
	}
}
