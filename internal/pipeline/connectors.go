package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrMalformedFrame flags a client frame that is neither audio nor a
	// recognized JSON control message. The frame is rejected, the
	// connection stays open.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUpstreamUnavailable flags a connect or handshake failure against
	// an external service.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout flags a send that could not be flushed, or a
	// connector that produced no event, within the configured bound.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// Message is one committed conversation entry. History is replayed verbatim
// to the language model on every turn, so insertion order matters.
type Message struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Transcriber is the streaming speech recognizer connector. A fresh Connect
// is required after Close or upstream termination; the events channel closes
// when the connection ends.
type Transcriber interface {
	Connect(ctx context.Context) error
	SendAudio(pcm []byte) error
	Events() <-chan Event
	Close() error
}

// Generator is the streaming language model connector. Stream issues one
// generation over the full ordered history. The returned channel yields
// LLMToken events in generation order and closes after a final LLMDone or
// UpstreamError.
type Generator interface {
	Stream(ctx context.Context, history []Message) <-chan Event
}

// Synthesizer is the streaming speech synthesizer connector. Stream consumes
// text fragments until texts is closed and yields AudioChunk events in
// synthesis order, closing after a final AudioDone, AudioFallback or
// UpstreamError. Reading from texts is the backpressure point: a slow
// synthesizer pauses the producer instead of dropping fragments.
type Synthesizer interface {
	Stream(ctx context.Context, texts <-chan string) <-chan Event
}
