package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	AssemblyAIKey string

	GeminiKey     string
	GeminiModelID string

	MurfKey     string
	MurfVoiceID string

	DeepgramKey      string
	DeepgramTTSModel string

	// TTSProvider selects the streaming synthesis backend: "murf" or "deepgram".
	TTSProvider string

	// UpstreamTimeout is the no-event watchdog applied to each upstream
	// connector while a turn is in flight.
	UpstreamTimeout time.Duration

	// SessionTTL is how long an idle session is kept before eviction.
	SessionTTL time.Duration

	// RetainSessions keeps session history across client reconnects. When
	// false a disconnect tears the session down immediately.
	RetainSessions bool
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	logger := applog.WithComponent("config")
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		logger.Warn().Msg("ASSEMBLYAI_API_KEY not set - transcription will not work")
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set - LLM will not work")
	}
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-1.5-flash"
	}

	murfKey := os.Getenv("MURF_API_KEY")
	if murfKey == "" {
		logger.Warn().Msg("MURF_API_KEY not set - murf synthesis will not work")
	}
	murfVoice := os.Getenv("MURF_VOICE_ID")
	if murfVoice == "" {
		murfVoice = "en-US-natalie"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	provider := os.Getenv("TTS_PROVIDER")
	if provider != "deepgram" {
		provider = "murf"
	}

	logger.Info().Str("http_address", addr).Str("tts_provider", provider).Msg("configuration loaded")
	return Config{
		HTTPAddress:      addr,
		AssemblyAIKey:    assemblyAIKey,
		GeminiKey:        geminiKey,
		GeminiModelID:    geminiModel,
		MurfKey:          murfKey,
		MurfVoiceID:      murfVoice,
		DeepgramKey:      deepgramKey,
		DeepgramTTSModel: deepgramModel,
		TTSProvider:      provider,
		UpstreamTimeout:  envDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		SessionTTL:       envDuration("SESSION_TTL", 10*time.Minute),
		RetainSessions:   envBool("RETAIN_SESSIONS", true),
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger := applog.WithComponent("config")
		logger.Warn().Str("key", key).Str("value", raw).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}
