package agent

// TurnState tracks where a session is in the utterance/reply cycle. The
// machine cycles Idle -> Listening -> Finalizing -> Generating -> Speaking
// -> Idle; a failed stage short-circuits back to Idle.
type TurnState int32

const (
	StateIdle TurnState = iota
	StateListening
	StateFinalizing
	StateGenerating
	StateSpeaking
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
