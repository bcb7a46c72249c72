// Package transcript implements the streaming speech recognizer connector
// against the AssemblyAI v3 realtime API.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

const (
	defaultSampleRate = 16000
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// AssemblyAIService is the streaming transcription connector. One instance
// serves one client connection; after Close a fresh instance is required.
type AssemblyAIService struct {
	apiKey     string
	sampleRate int
	logger     zerolog.Logger

	events    chan pipeline.Event
	audioData chan []byte
	stopCh    chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closeOnce sync.Once

	// pumps tracks the reader/writer goroutines so Close can wait for the
	// last emit before closing the events channel.
	pumps sync.WaitGroup
}

// Messages of the AssemblyAI v3 realtime protocol.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAIService creates a new transcription connector.
func NewAssemblyAIService(apiKey string) *AssemblyAIService {
	return &AssemblyAIService{
		apiKey:     apiKey,
		sampleRate: defaultSampleRate,
		logger:     applog.WithComponent(pipeline.StageSTT),
		events:     make(chan pipeline.Event, 100),
		audioData:  make(chan []byte, 1000),
		stopCh:     make(chan struct{}),
	}
}

// Events returns the ordered recognition event stream. The channel closes
// when the upstream connection ends.
func (s *AssemblyAIService) Events() <-chan pipeline.Event { return s.events }

// Connect establishes the WebSocket connection to AssemblyAI.
func (s *AssemblyAIService) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("%w: assemblyai api key is empty", pipeline.ErrUpstreamUnavailable)
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", s.sampleRate))
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			s.logger.Error().Int("status", resp.StatusCode).Msg("assemblyai handshake rejected")
		}
		return fmt.Errorf("%w: dial assemblyai: %v", pipeline.ErrUpstreamUnavailable, err)
	}

	s.conn = conn
	s.connected = true

	s.pumps.Add(2)
	go s.handleMessages()
	go s.sendAudioData()

	s.logger.Info().Msg("connected to assemblyai streaming service")
	return nil
}

// SendAudio queues one PCM chunk for delivery. It never blocks: a full queue
// means the upstream writer has stalled past its bound.
func (s *AssemblyAIService) SendAudio(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("%w: not connected to assemblyai", pipeline.ErrUpstreamUnavailable)
	}
	select {
	case s.audioData <- pcm:
		return nil
	default:
		return fmt.Errorf("%w: assemblyai audio queue full", pipeline.ErrUpstreamTimeout)
	}
}

// Close terminates the upstream session and releases the connection. Safe to
// call from any exit path, including cancellation.
func (s *AssemblyAIService) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.stopCh)
		if s.conn != nil {
			_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
			_ = s.conn.Close()
		}
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
		s.pumps.Wait()
		close(s.events)
		s.logger.Info().Msg("assemblyai connection closed")
	})
	return nil
}

// emit delivers an event unless the connector is shutting down.
func (s *AssemblyAIService) emit(ev pipeline.Event) {
	select {
	case <-s.stopCh:
	case s.events <- ev:
	}
}

// handleMessages drains upstream frames until the connection ends.
func (s *AssemblyAIService) handleMessages() {
	defer s.pumps.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.logger.Warn().Err(err).Msg("assemblyai read failed")
				s.emit(pipeline.UpstreamError{Stage: pipeline.StageSTT, Detail: err.Error()})
			}
			return
		}
		s.processMessage(message)
	}
}

// processMessage translates one upstream frame into pipeline events.
func (s *AssemblyAIService) processMessage(message []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("unparseable assemblyai message")
		return
	}
	switch envelope.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.logger.Info().Str("id", msg.ID).Time("expires_at", time.Unix(msg.ExpiresAt, 0)).Msg("assemblyai session began")
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" && !msg.EndOfTurn {
			return
		}
		if msg.EndOfTurn {
			// The recognizer owns turn boundaries; relay its verdict as-is.
			if msg.Transcript != "" {
				s.emit(pipeline.FinalTranscript{Text: msg.Transcript})
			}
			s.emit(pipeline.TurnEnd{})
			return
		}
		s.emit(pipeline.PartialTranscript{Text: msg.Transcript})
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.logger.Info().Float64("audio_s", msg.AudioDurationSeconds).Float64("session_s", msg.SessionDurationSeconds).Msg("assemblyai session terminated")
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.logger.Error().Str("error", msg.Error).Msg("assemblyai error")
		s.emit(pipeline.UpstreamError{Stage: pipeline.StageSTT, Detail: msg.Error})
	default:
		s.logger.Debug().Str("type", envelope.Type).Msg("unknown assemblyai message type")
	}
}

// sendAudioData flushes queued audio to the upstream socket.
func (s *AssemblyAIService) sendAudioData() {
	defer s.pumps.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audioData:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-s.stopCh:
				default:
					s.logger.Warn().Err(err).Msg("assemblyai audio write failed")
					s.emit(pipeline.UpstreamError{Stage: pipeline.StageSTT, Detail: err.Error()})
				}
				return
			}
		}
	}
}
