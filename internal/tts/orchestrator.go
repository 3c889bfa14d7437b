package tts

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dannyai/assistant-gateway/internal/audio"
	"github.com/dannyai/assistant-gateway/internal/observability"
)

// Options control one synthesis call.
type Options struct {
	// Voice overrides the orchestrator's default voice when non-empty.
	Voice string
	// Static marks content as fixed/repeated (canned prompts, apologies).
	// Only static audio is cached; dynamic conversational replies never are.
	Static bool
	Events Events
}

// Orchestrator converts text to audible speech, preferring the cached or
// premium upstream path and degrading to the fallback engine when the whole
// credential pool is exhausted. Synthesize never leaves playback hanging:
// OnEnd fires exactly once on every path, success or failure.
type Orchestrator struct {
	client       Poster
	endpoint     string
	model        string
	defaultVoice string
	cache        Cache
	player       Player
	fallback     FallbackEngine
	notify       func(message string)
	logger       zerolog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCache attaches the static-content audio cache.
func WithCache(cache Cache) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithFallback attaches the secondary speech engine.
func WithFallback(engine FallbackEngine) OrchestratorOption {
	return func(o *Orchestrator) { o.fallback = engine }
}

// WithNotifier registers a non-blocking user notification hook, used to
// surface "fallback voice in use" style messages.
func WithNotifier(notify func(message string)) OrchestratorOption {
	return func(o *Orchestrator) { o.notify = notify }
}

// NewOrchestrator creates a synthesis orchestrator. player must not be nil.
func NewOrchestrator(client Poster, endpoint, model, defaultVoice string, player Player, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		endpoint:     endpoint,
		model:        model,
		defaultVoice: defaultVoice,
		player:       player,
		logger:       observability.GetLogger().With().Str("component", "synthesis").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Synthesize speaks text and returns when playback (or fallback playback)
// has finished.
func (o *Orchestrator) Synthesize(ctx context.Context, text string, opts Options) error {
	voice := opts.Voice
	if voice == "" {
		voice = o.defaultVoice
	}
	ev := guardEvents(opts.Events)
	defer ev.end()

	if opts.Static && o.cache != nil {
		cached, hit, err := o.cache.Get(ctx, voice, text)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Audio cache lookup failed")
		}
		observability.RecordCacheLookup(hit)
		if hit {
			// Cached blobs carry no word-level metadata, so OnWord stays silent.
			return o.player.Play(ctx, cached, nil, ev.Events())
		}
	}

	data, err := o.client.Post(ctx, o.endpoint, speechRequest{
		Model:          o.model,
		Voice:          voice,
		Input:          text,
		ResponseFormat: "wav",
	})
	if err != nil {
		return o.speakFallback(ctx, text, ev, err)
	}

	if opts.Static && o.cache != nil {
		if err := o.cache.Put(ctx, voice, text, data); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to cache synthesized audio")
		}
	}

	timings := wordTimings(text, data)
	if err := o.player.Play(ctx, data, timings, ev.Events()); err != nil {
		return o.speakFallback(ctx, text, ev, err)
	}
	return nil
}

func (o *Orchestrator) speakFallback(ctx context.Context, text string, ev *guardedEvents, cause error) error {
	if o.fallback == nil {
		o.logger.Error().Err(cause).Msg("Synthesis failed and no fallback engine is configured")
		return fmt.Errorf("synthesize: %w", cause)
	}

	o.logger.Warn().Err(cause).Msg("Primary synthesis failed, using fallback engine")
	observability.RecordSynthesisFallback()
	if o.notify != nil {
		o.notify("Premium voice is unavailable, using the fallback voice.")
	}

	if err := o.fallback.Speak(ctx, text, ev.Events()); err != nil {
		return fmt.Errorf("fallback synthesis after %v: %w", cause, err)
	}
	return nil
}

// wordTimings estimates word boundaries from the WAV duration. A response
// that is not parseable WAV simply yields no word events.
func wordTimings(text string, data []byte) []audio.WordTiming {
	info, err := audio.ParseWAV(data)
	if err != nil {
		return nil
	}
	return audio.WordTimings(text, info.Duration())
}

// guardedEvents enforces the callback contract across paths: OnStart at most
// once, OnEnd exactly once, monotone word indexes.
type guardedEvents struct {
	inner     Events
	startOnce sync.Once
	endOnce   sync.Once
}

func guardEvents(ev Events) *guardedEvents {
	return &guardedEvents{inner: ev}
}

func (g *guardedEvents) Events() Events {
	return Events{
		OnStart: func() {
			g.startOnce.Do(func() {
				if g.inner.OnStart != nil {
					g.inner.OnStart()
				}
			})
		},
		OnWord: g.inner.OnWord,
		OnEnd:  g.end,
	}
}

func (g *guardedEvents) end() {
	g.endOnce.Do(func() {
		if g.inner.OnEnd != nil {
			g.inner.OnEnd()
		}
	})
}
