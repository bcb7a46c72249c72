package tts

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

// DeepgramClient is the alternate synthesis backend over the Deepgram speak
// WebSocket API.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	logger     zerolog.Logger
}

// NewDeepgramClient constructs the connector.
func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		logger:     applog.WithComponent(pipeline.StageTTS),
	}
}

// Stream consumes text fragments and emits linear16 audio chunks. The speak
// socket has no explicit completion signal, so the stream is considered done
// once all input is flushed and the audio feed has gone idle.
func (d *DeepgramClient) Stream(ctx context.Context, texts <-chan string) <-chan pipeline.Event {
	out := make(chan pipeline.Event, 64)

	go func() {
		defer close(out)

		if d.apiKey == "" {
			out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: "deepgram api key missing"}
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}

		var lastRecvUnix int64
		var seenAudio int32
		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
			atomic.StoreInt32(&seenAudio, 1)
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case out <- pipeline.AudioChunk{Data: b}:
			case <-ctx.Done():
			}
			return nil
		}}

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: fmt.Sprintf("create ws client: %v", err)}
			return
		}
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: "deepgram connect failed"}
			return
		}

		spokeAnything := false
	FEED:
		for {
			select {
			case <-ctx.Done():
				return
			case text, ok := <-texts:
				if !ok {
					break FEED
				}
				if text == "" {
					continue
				}
				spokeAnything = true
				if err := dg.SpeakWithText(text); err != nil {
					out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: fmt.Sprintf("speak text: %v", err)}
					return
				}
			}
		}
		if !spokeAnything {
			out <- pipeline.AudioDone{}
			return
		}
		if err := dg.Flush(); err != nil {
			d.logger.Warn().Err(err).Msg("deepgram flush failed")
		}

		idleWindow := 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(synthIdleDeadline)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if time.Since(last) > idleWindow {
						out <- pipeline.AudioDone{}
						return
					}
				}
				if time.Now().After(deadline) {
					if atomic.LoadInt32(&seenAudio) == 1 {
						out <- pipeline.AudioDone{}
					} else {
						out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: "no audio produced before deadline"}
					}
					return
				}
			}
		}
	}()

	return out
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
