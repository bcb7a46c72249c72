// Package agent owns the per-session turn state machine that couples the
// recognizer, the language model and the synthesizer into one conversation.
package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

// Config bounds a session run.
type Config struct {
	// UpstreamTimeout is the per-stage silence budget: a stage that produces
	// no event within it fails the turn.
	UpstreamTimeout time.Duration
	// QueueCapacity bounds the outbound sequencer queue.
	QueueCapacity int
	// TTSQueueSize bounds the token queue feeding the synthesizer. A full
	// queue pauses generation consumption.
	TTSQueueSize int
}

func (c Config) withDefaults() Config {
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 15 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.TTSQueueSize <= 0 {
		c.TTSQueueSize = 32
	}
	return c
}

// Connectors are the upstream handles a single Run owns.
type Connectors struct {
	STT pipeline.Transcriber
	LLM pipeline.Generator
	TTS pipeline.Synthesizer
}

// ErrAlreadyAttached is returned when a second client connection tries to
// drive a session that already has one.
var ErrAlreadyAttached = errors.New("session already attached to a connection")

// Session holds one conversation: its history, its turn state and, while a
// client is connected, the live upstream connectors. History survives across
// connections; connectors do not.
type Session struct {
	ID     string
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	history    []pipeline.Message
	state      TurnState
	pending    string
	lastActive time.Time
	running    bool
	stt        pipeline.Transcriber
	turnCancel context.CancelFunc

	// wake nudges the event loop to re-arm its watchdog after an
	// out-of-band state change, such as the first audio frame of a turn.
	wake chan struct{}
}

// NewSession constructs an idle session with empty history.
func NewSession(id string, cfg Config) *Session {
	return &Session{
		ID:         id,
		cfg:        cfg.withDefaults(),
		logger:     applog.WithSession("session", id),
		state:      StateIdle,
		lastActive: time.Now(),
		wake:       make(chan struct{}, 1),
	}
}

// State reports the current turn state.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a snapshot of the committed conversation.
func (s *Session) History() []pipeline.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.Message, len(s.history))
	copy(out, s.history)
	return out
}

// LastActive reports when the session last saw client or upstream traffic.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Running reports whether a client connection is currently driving the
// session.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) setState(next TurnState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("turn state")
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Clear wipes the conversation history and aborts any in-flight turn.
// Clearing an empty or missing conversation is a no-op.
func (s *Session) Clear() {
	s.mu.Lock()
	s.history = nil
	s.pending = ""
	s.lastActive = time.Now()
	cancel := s.turnCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.logger.Info().Msg("history cleared")
}

// HandleAudio forwards one binary frame from the client into the recognizer.
// The first frame of a quiet session opens a new turn.
func (s *Session) HandleAudio(pcm []byte) error {
	s.mu.Lock()
	stt := s.stt
	opened := false
	if s.state == StateIdle {
		s.state = StateListening
		opened = true
	}
	s.lastActive = time.Now()
	s.mu.Unlock()
	if opened {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	if stt == nil {
		return pipeline.ErrUpstreamUnavailable
	}
	return stt.SendAudio(pcm)
}

// Run attaches the session to a client connection and drives it until the
// context is cancelled, the client write path fails, or the recognizer stream
// ends. Exactly one Run may be active per session.
func (s *Session) Run(ctx context.Context, conns Connectors, w pipeline.FrameWriter) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.running = true
	s.stt = conns.STT
	s.state = StateIdle
	s.mu.Unlock()

	defer func() {
		_ = conns.STT.Close()
		s.mu.Lock()
		s.running = false
		s.stt = nil
		s.state = StateIdle
		s.pending = ""
		s.mu.Unlock()
	}()

	if err := conns.STT.Connect(ctx); err != nil {
		_ = w.WriteEvent(pipeline.UpstreamError{Stage: pipeline.StageSTT, Detail: err.Error()})
		return err
	}

	seq := pipeline.NewSequencer(w, s.cfg.QueueCapacity)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return seq.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.loop(gctx, conns, seq)
	})
	err := g.Wait()
	s.logger.Info().Int("dropped", seq.Dropped()).Msg("session run finished")
	return err
}

// loop consumes recognizer events. Turns run inline: the loop does not pull
// the next recognizer event until the previous turn has fully resolved, which
// keeps cross-turn output ordering trivial.
func (s *Session) loop(ctx context.Context, conns Connectors, seq *pipeline.Sequencer) error {
	events := conns.STT.Events()
	for {
		var watchdog <-chan time.Time
		if s.State() == StateListening {
			watchdog = time.After(s.cfg.UpstreamTimeout)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			// Re-arm the watchdog against the new state.
		case <-watchdog:
			s.logger.Warn().Dur("timeout", s.cfg.UpstreamTimeout).Msg("recognizer went silent mid-turn")
			seq.Enqueue(pipeline.UpstreamError{Stage: pipeline.StageSTT, Detail: "no recognition events within timeout"})
			s.setState(StateIdle)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.touch()
			switch e := ev.(type) {
			case pipeline.PartialTranscript:
				s.markListening()
				seq.Enqueue(e)
			case pipeline.FinalTranscript:
				s.mu.Lock()
				s.pending = e.Text
				s.mu.Unlock()
				seq.Enqueue(e)
			case pipeline.TurnEnd:
				text := strings.TrimSpace(s.takePending())
				if text == "" {
					s.logger.Debug().Msg("empty end of turn, staying in listening")
					continue
				}
				s.setState(StateFinalizing)
				seq.Enqueue(pipeline.TurnEnd{})
				s.runTurn(ctx, text, conns, seq)
			case pipeline.UpstreamError:
				// The recognizer connector is single-use; once it has
				// failed the session is deaf, so end the run and let the
				// client reconnect onto a fresh connector.
				seq.Enqueue(e)
				s.setState(StateIdle)
				return nil
			}
		}
	}
}

func (s *Session) markListening() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateListening
	}
	s.mu.Unlock()
}

func (s *Session) takePending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.pending
	s.pending = ""
	return text
}

func (s *Session) truncateHistory(n int) {
	s.mu.Lock()
	if len(s.history) > n {
		s.history = s.history[:n]
	}
	s.mu.Unlock()
}

// runTurn drives one committed utterance through generation and synthesis.
// The user message is appended up front and rolled back if generation fails,
// so history only ever grows in user/assistant pairs.
func (s *Session) runTurn(ctx context.Context, userText string, conns Connectors, seq *pipeline.Sequencer) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.turnCancel = cancel
	base := len(s.history)
	s.history = append(s.history, pipeline.Message{Role: "user", Text: userText})
	snapshot := make([]pipeline.Message, len(s.history))
	copy(snapshot, s.history)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.turnCancel = nil
		s.mu.Unlock()
	}()
	defer s.setState(StateIdle)

	s.setState(StateGenerating)
	s.logger.Info().Int("history", len(snapshot)).Msg("turn committed")

	ttsIn := make(chan string, s.cfg.TTSQueueSize)
	audioEvents := conns.TTS.Stream(turnCtx, ttsIn)

	audioDone := make(chan struct{})
	go func() {
		defer close(audioDone)
		for {
			select {
			case <-turnCtx.Done():
				return
			case <-time.After(s.cfg.UpstreamTimeout):
				seq.Enqueue(pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: "no synthesis events within timeout"})
				return
			case ev, ok := <-audioEvents:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case pipeline.AudioChunk:
					seq.Enqueue(e)
				case pipeline.AudioDone:
					seq.Enqueue(e)
					return
				case pipeline.AudioFallback:
					seq.Enqueue(e)
					return
				case pipeline.UpstreamError:
					seq.Enqueue(e)
					return
				}
			}
		}
	}()

	llmEvents := conns.LLM.Stream(turnCtx, snapshot)
	var reply string
	failed := false
CONSUME:
	for {
		select {
		case <-turnCtx.Done():
			close(ttsIn)
			s.truncateHistory(base)
			return
		case <-time.After(s.cfg.UpstreamTimeout):
			seq.Enqueue(pipeline.UpstreamError{Stage: pipeline.StageLLM, Detail: "no generation events within timeout"})
			failed = true
			break CONSUME
		case ev, ok := <-llmEvents:
			if !ok {
				break CONSUME
			}
			switch e := ev.(type) {
			case pipeline.LLMToken:
				seq.Enqueue(e)
				select {
				case ttsIn <- e.Text:
				case <-turnCtx.Done():
					close(ttsIn)
					s.truncateHistory(base)
					return
				}
			case pipeline.LLMDone:
				reply = strings.TrimSpace(e.Text)
			case pipeline.UpstreamError:
				seq.Enqueue(e)
				failed = true
			}
		}
	}
	close(ttsIn)

	if failed || reply == "" {
		if !failed {
			seq.Enqueue(pipeline.UpstreamError{Stage: pipeline.StageLLM, Detail: "generation produced no reply"})
		}
		s.truncateHistory(base)
		cancel()
		<-audioDone
		return
	}

	// A clear may have landed while generation was finishing. Commit the
	// assistant message only if the turn is still live and the user message
	// is still in place; otherwise the whole exchange is discarded.
	s.mu.Lock()
	committed := turnCtx.Err() == nil &&
		len(s.history) == base+1 &&
		s.history[base].Role == "user" && s.history[base].Text == userText
	if committed {
		s.history = append(s.history, pipeline.Message{Role: "assistant", Text: reply})
	}
	s.mu.Unlock()
	if !committed {
		cancel()
		<-audioDone
		return
	}
	s.setState(StateSpeaking)

	select {
	case <-audioDone:
	case <-turnCtx.Done():
		// Cancelled while speaking; the exchange stays committed.
	}
	s.logger.Info().Msg("turn complete")
}
