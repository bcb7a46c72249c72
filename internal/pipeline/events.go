package pipeline

// Stage names used in UpstreamError events and client error frames.
const (
	StageSTT    = "stt"
	StageLLM    = "llm"
	StageTTS    = "tts"
	StageClient = "client"
)

// Event is the internal pipeline currency. Producers (the client reader and
// the three upstream connectors) hand events to the session, which routes
// them through the turn state machine and the output sequencer. The variant
// set is closed: every dispatcher type-switches over exactly these types.
type Event interface{ event() }

// PartialTranscript is a provisional recognition result for the utterance in
// progress. It may be superseded by a later partial and is never committed.
type PartialTranscript struct{ Text string }

// FinalTranscript is the recognizer's settled text for the current utterance.
type FinalTranscript struct{ Text string }

// TurnEnd is the recognizer's end-of-turn signal.
type TurnEnd struct{}

// LLMToken is one incremental generation fragment.
type LLMToken struct{ Text string }

// LLMDone marks generation completion. Text carries the full assembled reply.
type LLMDone struct{ Text string }

// AudioChunk is one synthesized audio fragment for the current turn.
type AudioChunk struct{ Data []byte }

// AudioDone marks the end of synthesized audio for the current turn.
type AudioDone struct{}

// AudioFallback carries a link to a non-streamed rendition of the reply,
// produced when streaming synthesis fails outright.
type AudioFallback struct{ URL string }

// UpstreamError reports a failure of one upstream stage. It aborts the
// current turn but keeps the session alive.
type UpstreamError struct {
	Stage  string
	Detail string
}

func (PartialTranscript) event() {}
func (FinalTranscript) event()   {}
func (TurnEnd) event()           {}
func (LLMToken) event()          {}
func (LLMDone) event()           {}
func (AudioChunk) event()        {}
func (AudioDone) event()         {}
func (AudioFallback) event()     {}
func (UpstreamError) event()     {}

// Terminal reports whether ev marks a turn boundary or failure. Terminal
// events are never dropped by the output sequencer.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case TurnEnd, LLMDone, AudioDone, AudioFallback, UpstreamError:
		return true
	}
	return false
}
