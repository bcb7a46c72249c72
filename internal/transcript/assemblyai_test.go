package transcript

import (
	"errors"
	"testing"

	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

func drain(s *AssemblyAIService) []pipeline.Event {
	var out []pipeline.Event
	for {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestProcessMessage_PartialTurn(t *testing.T) {
	s := NewAssemblyAIService("key")
	s.processMessage([]byte(`{"type":"Turn","transcript":"hel","end_of_turn":false}`))
	evs := drain(s)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if p, ok := evs[0].(pipeline.PartialTranscript); !ok || p.Text != "hel" {
		t.Fatalf("expected partial 'hel', got %#v", evs[0])
	}
}

func TestProcessMessage_EndOfTurnEmitsFinalThenTurnEnd(t *testing.T) {
	s := NewAssemblyAIService("key")
	s.processMessage([]byte(`{"type":"Turn","transcript":"hello there","end_of_turn":true,"turn_is_formatted":true}`))
	evs := drain(s)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if f, ok := evs[0].(pipeline.FinalTranscript); !ok || f.Text != "hello there" {
		t.Fatalf("expected final transcript first, got %#v", evs[0])
	}
	if _, ok := evs[1].(pipeline.TurnEnd); !ok {
		t.Fatalf("expected turn end second, got %#v", evs[1])
	}
}

func TestProcessMessage_EmptyEndOfTurnStillSignalsTurnEnd(t *testing.T) {
	s := NewAssemblyAIService("key")
	s.processMessage([]byte(`{"type":"Turn","transcript":"","end_of_turn":true}`))
	evs := drain(s)
	if len(evs) != 1 {
		t.Fatalf("expected only turn end, got %d events", len(evs))
	}
	if _, ok := evs[0].(pipeline.TurnEnd); !ok {
		t.Fatalf("expected turn end, got %#v", evs[0])
	}
}

func TestProcessMessage_ErrorBecomesUpstreamError(t *testing.T) {
	s := NewAssemblyAIService("key")
	s.processMessage([]byte(`{"type":"Error","error":"quota exceeded"}`))
	evs := drain(s)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ue, ok := evs[0].(pipeline.UpstreamError)
	if !ok || ue.Stage != pipeline.StageSTT || ue.Detail != "quota exceeded" {
		t.Fatalf("expected stt upstream error, got %#v", evs[0])
	}
}

func TestProcessMessage_IgnoresNoise(t *testing.T) {
	s := NewAssemblyAIService("key")
	s.processMessage([]byte(`not json`))
	s.processMessage([]byte(`{"type":"Turn","transcript":"","end_of_turn":false}`))
	s.processMessage([]byte(`{"type":"Mystery"}`))
	if evs := drain(s); len(evs) != 0 {
		t.Fatalf("expected no events, got %d", len(evs))
	}
}

func TestSendAudio_RequiresConnection(t *testing.T) {
	s := NewAssemblyAIService("key")
	if err := s.SendAudio([]byte{1}); !errors.Is(err, pipeline.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestSendAudio_FullQueueTimesOutInsteadOfBlocking(t *testing.T) {
	s := NewAssemblyAIService("key")
	s.connected = true
	s.audioData = make(chan []byte, 1)
	if err := s.SendAudio([]byte{1}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := s.SendAudio([]byte{2}); !errors.Is(err, pipeline.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestConnect_MissingKey(t *testing.T) {
	s := NewAssemblyAIService("")
	if err := s.Connect(t.Context()); !errors.Is(err, pipeline.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
