package tts

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dannyai/assistant-gateway/internal/audio"
)

// OpenAIFallback speaks through an OpenAI-compatible speech endpoint,
// typically a self-hosted engine. It has no credential pool: it is the last
// resort after the primary pipeline is exhausted, so its own failure is
// terminal for the synthesis call.
type OpenAIFallback struct {
	client *openai.Client
	model  string
	voice  string
	player Player
}

// NewOpenAIFallback creates the fallback engine against baseURL. apiKey may
// be empty for unauthenticated local engines.
func NewOpenAIFallback(baseURL, apiKey, model, voice string, player Player) *OpenAIFallback {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIFallback{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		voice:  voice,
		player: player,
	}
}

// Speak synthesizes and plays text, wiring the engine's playback to the
// shared event contract so callers cannot tell fallback from primary.
func (f *OpenAIFallback) Speak(ctx context.Context, text string, ev Events) error {
	resp, err := f.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(f.model),
		Input:          text,
		Voice:          openai.SpeechVoice(f.voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return fmt.Errorf("fallback speech request: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return fmt.Errorf("read fallback audio: %w", err)
	}

	var timings []audio.WordTiming
	if info, err := audio.ParseWAV(data); err == nil {
		timings = audio.WordTimings(text, info.Duration())
	}
	return f.player.Play(ctx, data, timings, ev)
}
