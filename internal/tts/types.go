package tts

import (
	"context"

	"github.com/dannyai/assistant-gateway/internal/audio"
)

// Events is the synthesis event contract shared by every playback path.
// OnEnd always fires exactly once per Synthesize call; OnWord fires per
// spoken word with a monotonically increasing index when the active path
// supports word boundaries (cached playback does not).
type Events struct {
	OnStart func()
	OnWord  func(word string, index int)
	OnEnd   func()
}

// Poster issues a resilient POST against the speech upstream.
type Poster interface {
	Post(ctx context.Context, url string, body any) ([]byte, error)
}

// Cache stores synthesized audio for static content keyed by (voice, text).
type Cache interface {
	Get(ctx context.Context, voice, text string) ([]byte, bool, error)
	Put(ctx context.Context, voice, text string, audio []byte) error
}

// Player delivers audio to the sink (the browser, via the session transport)
// and drives the event contract against the given word timings. Play returns
// when playback has finished.
type Player interface {
	Play(ctx context.Context, audioData []byte, timings []audio.WordTiming, ev Events) error
}

// FallbackEngine is the secondary speech engine used only when the primary
// synthesis pipeline is fully exhausted. It drives the same event contract,
// including native word boundaries.
type FallbackEngine interface {
	Speak(ctx context.Context, text string, ev Events) error
}

// speechRequest is the upstream synthesis wire format.
type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}
