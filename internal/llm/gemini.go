// Package llm implements the streaming language model connector against the
// Gemini API.
package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
)

const systemPrompt = "You are a helpful, concise voice AI agent. Answer clearly and briefly; your replies are spoken aloud."

// GeminiClient streams chat completions for a conversation history.
type GeminiClient struct {
	apiKey string
	model  string
	logger zerolog.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiClient constructs the connector. The underlying API client is
// created on first use so a missing key surfaces as a turn-level error
// instead of a startup failure.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
		logger: applog.WithComponent(pipeline.StageLLM),
	}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// Stream issues one generation over the full ordered history. The returned
// channel yields LLMToken events in generation order and closes after a
// final LLMDone or UpstreamError.
func (g *GeminiClient) Stream(ctx context.Context, history []pipeline.Message) <-chan pipeline.Event {
	out := make(chan pipeline.Event, 64)
	go func() {
		defer close(out)

		if g.apiKey == "" {
			out <- pipeline.UpstreamError{Stage: pipeline.StageLLM, Detail: "gemini api key missing"}
			return
		}
		client, err := g.ensureClient(ctx)
		if err != nil {
			g.logger.Error().Err(err).Msg("gemini client init failed")
			out <- pipeline.UpstreamError{Stage: pipeline.StageLLM, Detail: err.Error()}
			return
		}

		contents := historyToContents(history)
		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}

		var reply strings.Builder
		for resp, err := range client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				g.logger.Warn().Err(err).Msg("gemini stream failed")
				out <- pipeline.UpstreamError{Stage: pipeline.StageLLM, Detail: err.Error()}
				return
			}
			chunk := resp.Text()
			if chunk == "" {
				continue
			}
			reply.WriteString(chunk)
			select {
			case out <- pipeline.LLMToken{Text: chunk}:
			case <-ctx.Done():
				return
			}
		}

		full := strings.TrimSpace(reply.String())
		if full == "" {
			out <- pipeline.UpstreamError{Stage: pipeline.StageLLM, Detail: "empty generation"}
			return
		}
		out <- pipeline.LLMDone{Text: full}
	}()
	return out
}

// historyToContents maps committed messages onto the Gemini role scheme.
// The last entry must be the user utterance that triggered the turn.
func historyToContents(history []pipeline.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	return contents
}
