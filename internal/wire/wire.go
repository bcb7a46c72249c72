// Package wire is the frame codec for the client-facing channel: it
// classifies inbound WebSocket frames and serializes pipeline events into
// the outbound JSON envelopes. Pure transforms, no side effects.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

// Control message types accepted from the client.
const (
	ControlClear = "clear"
)

// Inbound is a classified client frame: either raw audio or one control
// message, never both.
type Inbound struct {
	Audio   []byte
	Control *Control
}

// Control is a JSON control message from the client.
type Control struct {
	Type string `json:"type"`
}

// Decode classifies a raw inbound frame. Binary frames are audio; text
// frames must be valid JSON with a recognized type field.
func Decode(messageType int, data []byte) (Inbound, error) {
	switch messageType {
	case websocket.BinaryMessage:
		return Inbound{Audio: data}, nil
	case websocket.TextMessage:
		var ctrl Control
		if err := json.Unmarshal(data, &ctrl); err != nil {
			return Inbound{}, fmt.Errorf("%w: invalid json", pipeline.ErrMalformedFrame)
		}
		switch ctrl.Type {
		case ControlClear:
			return Inbound{Control: &ctrl}, nil
		case "":
			return Inbound{}, fmt.Errorf("%w: missing type", pipeline.ErrMalformedFrame)
		default:
			return Inbound{}, fmt.Errorf("%w: unknown type %q", pipeline.ErrMalformedFrame, ctrl.Type)
		}
	default:
		return Inbound{}, fmt.Errorf("%w: unsupported message type %d", pipeline.ErrMalformedFrame, messageType)
	}
}

type transcriptFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type typeOnlyFrame struct {
	Type string `json:"type"`
}

type aiResponseFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioChunkFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type audioURLFrame struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type errorFrame struct {
	Type   string `json:"type"`
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

// Marshal serializes an outbound event. A nil frame with nil error means the
// event has no client-visible representation.
func Marshal(ev pipeline.Event) ([]byte, error) {
	switch e := ev.(type) {
	case pipeline.PartialTranscript:
		return json.Marshal(transcriptFrame{Type: "transcript", Text: e.Text, IsFinal: false})
	case pipeline.FinalTranscript:
		return json.Marshal(transcriptFrame{Type: "transcript", Text: e.Text, IsFinal: true})
	case pipeline.TurnEnd:
		return json.Marshal(typeOnlyFrame{Type: "end_of_turn"})
	case pipeline.LLMToken:
		return json.Marshal(aiResponseFrame{Type: "ai_response", Text: e.Text})
	case pipeline.LLMDone:
		return nil, nil
	case pipeline.AudioChunk:
		return json.Marshal(audioChunkFrame{Type: "audio_chunk", Data: base64.StdEncoding.EncodeToString(e.Data)})
	case pipeline.AudioDone:
		return nil, nil
	case pipeline.AudioFallback:
		return json.Marshal(audioURLFrame{Type: "audio_url", URL: e.URL})
	case pipeline.UpstreamError:
		return json.Marshal(errorFrame{Type: "error", Stage: e.Stage, Detail: e.Detail})
	default:
		return nil, fmt.Errorf("wire: unhandled event %T", ev)
	}
}
