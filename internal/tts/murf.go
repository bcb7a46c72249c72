// Package tts implements the streaming speech synthesizer connectors.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

const (
	murfStreamURL   = "wss://api.murf.ai/v1/speech/stream-input"
	murfGenerateURL = "https://api.murf.ai/v1/speech/generate"

	murfSampleRate = 44100
)

// synthIdleDeadline bounds how long either synthesis backend may go without
// producing audio before the turn is failed over.
const synthIdleDeadline = 12 * time.Second

// MurfClient synthesizes speech over the Murf streaming WebSocket API, with
// the non-streamed generate endpoint as a degraded fallback.
type MurfClient struct {
	apiKey     string
	voiceID    string
	httpClient *http.Client
	logger     zerolog.Logger

	// dialURL and generateURL are swapped in tests to point at local servers.
	dialURL     string
	generateURL string
}

// NewMurfClient constructs the connector.
func NewMurfClient(apiKey, voiceID string) *MurfClient {
	if voiceID == "" {
		voiceID = "en-US-natalie"
	}
	return &MurfClient{
		apiKey:      apiKey,
		voiceID:     voiceID,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      applog.WithComponent(pipeline.StageTTS),
		dialURL:     murfStreamURL,
		generateURL: murfGenerateURL,
	}
}

type murfVoiceConfig struct {
	VoiceConfig struct {
		VoiceID string `json:"voiceId"`
	} `json:"voice_config"`
}

type murfTextMessage struct {
	Text string `json:"text"`
	End  bool   `json:"end,omitempty"`
}

type murfAudioMessage struct {
	AudioBase64 string `json:"audio_base64"`
	Final       bool   `json:"final"`
}

// Stream consumes text fragments and emits audio chunks in synthesis order.
// One WebSocket connection with a fresh context id serves the whole turn. On
// total streaming failure the turn degrades to a generated file link.
func (m *MurfClient) Stream(ctx context.Context, texts <-chan string) <-chan pipeline.Event {
	out := make(chan pipeline.Event, 64)
	go func() {
		defer close(out)

		if m.apiKey == "" {
			out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: "murf api key missing"}
			return
		}

		conn, err := m.dial(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("murf stream connect failed, degrading to generate")
			m.fallback(ctx, drainText(ctx, texts), out)
			return
		}
		defer conn.Close()

		if err := m.sendVoiceConfig(conn); err != nil {
			m.fallback(ctx, drainText(ctx, texts), out)
			return
		}

		// Writer: forward fragments, then signal end of input. Reading from
		// texts here is the generation backpressure point. Consumed text is
		// recorded so the fallback can still speak the full reply.
		var consumed accumulator
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case text, ok := <-texts:
					if !ok {
						_ = conn.WriteJSON(murfTextMessage{End: true})
						return
					}
					consumed.add(text)
					if err := conn.WriteJSON(murfTextMessage{Text: text}); err != nil {
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(synthIdleDeadline))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Warn().Err(err).Msg("murf stream read failed, degrading to generate")
				conn.Close()
				<-writerDone
				m.fallback(ctx, consumed.text()+drainText(ctx, texts), out)
				return
			}
			var msg murfAudioMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.AudioBase64 != "" {
				audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
				if err != nil {
					continue
				}
				select {
				case out <- pipeline.AudioChunk{Data: audio}:
				case <-ctx.Done():
					return
				}
			}
			if msg.Final {
				out <- pipeline.AudioDone{}
				return
			}
		}
	}()
	return out
}

func (m *MurfClient) dial(ctx context.Context) (*websocket.Conn, error) {
	params := url.Values{}
	params.Set("api-key", m.apiKey)
	params.Set("sample_rate", fmt.Sprintf("%d", murfSampleRate))
	params.Set("channel_type", "MONO")
	params.Set("format", "WAV")
	params.Set("context_id", uuid.NewString())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, m.dialURL+"?"+params.Encode(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: murf handshake status %d", pipeline.ErrUpstreamUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial murf: %v", pipeline.ErrUpstreamUnavailable, err)
	}
	return conn, nil
}

func (m *MurfClient) sendVoiceConfig(conn *websocket.Conn) error {
	var cfg murfVoiceConfig
	cfg.VoiceConfig.VoiceID = m.voiceID
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(cfg)
}

type accumulator struct {
	mu sync.Mutex
	b  strings.Builder
}

func (a *accumulator) add(text string) {
	a.mu.Lock()
	a.b.WriteString(text)
	a.mu.Unlock()
}

func (a *accumulator) text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.b.String()
}

// drainText collects the remaining fragments so the fallback can speak the
// full reply. The producer side still observes ordinary channel consumption.
func drainText(ctx context.Context, texts <-chan string) string {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String()
		case text, ok := <-texts:
			if !ok {
				return b.String()
			}
			b.WriteString(text)
		}
	}
}

type murfGenerateRequest struct {
	VoiceID    string `json:"voiceId"`
	Text       string `json:"text"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
}

type murfGenerateResponse struct {
	AudioFile string `json:"audioFile"`
}

// fallback renders the reply through the non-streamed generate endpoint and
// emits the returned file link, so a synthesis outage does not fail the turn.
func (m *MurfClient) fallback(ctx context.Context, text string, out chan<- pipeline.Event) {
	text = strings.TrimSpace(text)
	if text == "" {
		out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: "synthesis failed before any text arrived"}
		return
	}

	audioURL, err := m.Generate(ctx, text)
	if err != nil {
		m.logger.Error().Err(err).Msg("murf generate fallback failed")
		out <- pipeline.UpstreamError{Stage: pipeline.StageTTS, Detail: err.Error()}
		return
	}
	out <- pipeline.AudioFallback{URL: audioURL}
}

// Generate renders text through the non-streamed endpoint and returns the
// hosted audio file URL.
func (m *MurfClient) Generate(ctx context.Context, text string) (string, error) {
	body, _ := json.Marshal(murfGenerateRequest{
		VoiceID:    m.voiceID,
		Text:       text,
		Format:     "MP3",
		SampleRate: 24000,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.generateURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("murf generate: status=%d body=%s", resp.StatusCode, string(b))
	}
	var gr murfGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", err
	}
	if gr.AudioFile == "" {
		return "", fmt.Errorf("murf generate: no audio file in response")
	}
	return gr.AudioFile, nil
}
