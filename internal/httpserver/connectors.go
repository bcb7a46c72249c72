package httpserver

import (
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/agent"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/config"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/llm"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/transcript"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/tts"
)

// NewConnectorFactory builds connectors from configuration. The generator and
// synthesizer clients are stateless between turns and shared across
// connections; the recognizer owns a socket and is created per connection.
func NewConnectorFactory(cfg config.Config) ConnectorFactory {
	generator := llm.NewGeminiClient(cfg.GeminiKey, cfg.GeminiModelID)

	var synthesizer pipeline.Synthesizer
	switch cfg.TTSProvider {
	case "deepgram":
		synthesizer = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramTTSModel)
	default:
		synthesizer = tts.NewMurfClient(cfg.MurfKey, cfg.MurfVoiceID)
	}

	return func() agent.Connectors {
		return agent.Connectors{
			STT: transcript.NewAssemblyAIService(cfg.AssemblyAIKey),
			LLM: generator,
			TTS: synthesizer,
		}
	}
}
