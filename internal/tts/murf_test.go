package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

func collectEvents(t *testing.T, events <-chan pipeline.Event) []pipeline.Event {
	t.Helper()
	var out []pipeline.Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out collecting events, got %d so far", len(out))
		}
	}
}

// fakeMurfServer answers the stream-input protocol: voice config first, then
// one audio chunk per text message, then a final chunk after end.
func fakeMurfServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-key") == "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cfg murfVoiceConfig
		if err := conn.ReadJSON(&cfg); err != nil || cfg.VoiceConfig.VoiceID == "" {
			return
		}
		for {
			var msg murfTextMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.End {
				break
			}
			chunk := base64.StdEncoding.EncodeToString([]byte(msg.Text))
			if err := conn.WriteJSON(map[string]any{"audio_base64": chunk}); err != nil {
				return
			}
		}
		_ = conn.WriteJSON(map[string]any{"audio_base64": base64.StdEncoding.EncodeToString([]byte("tail")), "final": true})
	}))
}

func TestMurfStream_EmitsChunksInOrderThenDone(t *testing.T) {
	srv := fakeMurfServer(t)
	defer srv.Close()

	m := NewMurfClient("key", "en-US-natalie")
	m.dialURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	texts := make(chan string, 2)
	texts <- "Hello "
	texts <- "world."
	close(texts)

	evs := collectEvents(t, m.Stream(context.Background(), texts))
	if len(evs) != 4 {
		t.Fatalf("expected 3 chunks + done, got %d events: %#v", len(evs), evs)
	}
	wantPayloads := []string{"Hello ", "world.", "tail"}
	for i, want := range wantPayloads {
		chunk, ok := evs[i].(pipeline.AudioChunk)
		if !ok {
			t.Fatalf("event %d: expected AudioChunk, got %#v", i, evs[i])
		}
		if string(chunk.Data) != want {
			t.Fatalf("chunk %d out of order: got %q want %q", i, chunk.Data, want)
		}
	}
	if _, ok := evs[3].(pipeline.AudioDone); !ok {
		t.Fatalf("expected AudioDone last, got %#v", evs[3])
	}
}

func TestMurfStream_MissingKey(t *testing.T) {
	m := NewMurfClient("", "")
	texts := make(chan string)
	close(texts)
	evs := collectEvents(t, m.Stream(context.Background(), texts))
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if ue, ok := evs[0].(pipeline.UpstreamError); !ok || ue.Stage != pipeline.StageTTS {
		t.Fatalf("expected tts upstream error, got %#v", evs[0])
	}
}

func TestMurfStream_FallsBackToGeneratedLink(t *testing.T) {
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") == "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		var req murfGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(murfGenerateResponse{AudioFile: "https://cdn.example/fallback.mp3"})
	}))
	defer gen.Close()

	m := NewMurfClient("key", "")
	m.dialURL = "ws://127.0.0.1:1" // nothing listens here
	m.generateURL = gen.URL

	texts := make(chan string, 2)
	texts <- "Hi "
	texts <- "there."
	close(texts)

	evs := collectEvents(t, m.Stream(context.Background(), texts))
	if len(evs) != 1 {
		t.Fatalf("expected single fallback event, got %d: %#v", len(evs), evs)
	}
	fb, ok := evs[0].(pipeline.AudioFallback)
	if !ok || fb.URL != "https://cdn.example/fallback.mp3" {
		t.Fatalf("expected audio fallback link, got %#v", evs[0])
	}
}

func TestMurfStream_FallbackFailureFailsTurn(t *testing.T) {
	m := NewMurfClient("key", "")
	m.dialURL = "ws://127.0.0.1:1"
	m.generateURL = "http://127.0.0.1:1"

	texts := make(chan string, 1)
	texts <- "Hi."
	close(texts)

	evs := collectEvents(t, m.Stream(context.Background(), texts))
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if ue, ok := evs[0].(pipeline.UpstreamError); !ok || ue.Stage != pipeline.StageTTS {
		t.Fatalf("expected tts upstream error, got %#v", evs[0])
	}
}

func TestDrainText_CollectsRemainder(t *testing.T) {
	texts := make(chan string, 3)
	texts <- "a"
	texts <- "b"
	texts <- "c"
	close(texts)
	if got := drainText(context.Background(), texts); got != "abc" {
		t.Fatalf("drain mismatch: %q", got)
	}
}
