package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

func TestDecode_BinaryIsAudio(t *testing.T) {
	in, err := Decode(websocket.BinaryMessage, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Audio == nil || in.Control != nil {
		t.Fatalf("expected audio frame, got %+v", in)
	}
}

func TestDecode_ClearControl(t *testing.T) {
	in, err := Decode(websocket.TextMessage, []byte(`{"type":"clear"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Control == nil || in.Control.Type != ControlClear {
		t.Fatalf("expected clear control, got %+v", in)
	}
}

func TestDecode_MalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		mt   int
		data string
	}{
		{"not json", websocket.TextMessage, "not json"},
		{"missing type", websocket.TextMessage, `{"foo":1}`},
		{"unknown type", websocket.TextMessage, `{"type":"dance"}`},
		{"ping frame", websocket.PingMessage, ""},
	}
	for _, tc := range cases {
		if _, err := Decode(tc.mt, []byte(tc.data)); !errors.Is(err, pipeline.ErrMalformedFrame) {
			t.Fatalf("%s: expected ErrMalformedFrame, got %v", tc.name, err)
		}
	}
}

func TestMarshal_Envelopes(t *testing.T) {
	cases := []struct {
		ev   pipeline.Event
		want map[string]any
	}{
		{pipeline.PartialTranscript{Text: "he"}, map[string]any{"type": "transcript", "text": "he", "is_final": false}},
		{pipeline.FinalTranscript{Text: "hello"}, map[string]any{"type": "transcript", "text": "hello", "is_final": true}},
		{pipeline.TurnEnd{}, map[string]any{"type": "end_of_turn"}},
		{pipeline.LLMToken{Text: "Hi"}, map[string]any{"type": "ai_response", "text": "Hi"}},
		{pipeline.AudioFallback{URL: "https://cdn/x.mp3"}, map[string]any{"type": "audio_url", "url": "https://cdn/x.mp3"}},
		{pipeline.UpstreamError{Stage: "stt", Detail: "boom"}, map[string]any{"type": "error", "stage": "stt", "detail": "boom"}},
	}
	for _, tc := range cases {
		raw, err := Marshal(tc.ev)
		if err != nil {
			t.Fatalf("marshal %T: %v", tc.ev, err)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %T: %v", tc.ev, err)
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Fatalf("%T field %q: got %v want %v", tc.ev, k, got[k], v)
			}
		}
	}
}

func TestMarshal_AudioChunkBase64(t *testing.T) {
	raw, err := Marshal(pipeline.AudioChunk{Data: []byte{0xDE, 0xAD}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got audioChunkFrame
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "audio_chunk" {
		t.Fatalf("type: %q", got.Type)
	}
	if got.Data != base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD}) {
		t.Fatalf("payload not base64 encoded: %q", got.Data)
	}
}

func TestMarshal_SilentEvents(t *testing.T) {
	for _, ev := range []pipeline.Event{pipeline.LLMDone{}, pipeline.AudioDone{}} {
		raw, err := Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %T: %v", ev, err)
		}
		if raw != nil {
			t.Fatalf("expected no frame for %T, got %s", ev, raw)
		}
	}
}
