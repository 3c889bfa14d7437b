package gateway

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/dannyai/assistant-gateway/internal/audio"
	"github.com/dannyai/assistant-gateway/internal/tts"
)

// sessionPlayer ships synthesized audio to the browser over the session
// transport and paces the word-boundary events against wall-clock playback
// time, so caption highlighting tracks the audio the browser is playing.
type sessionPlayer struct {
	send func(ServerEvent) error
}

// fallbackPerWord approximates speech pace when the audio duration is unknown.
const fallbackPerWord = 300 * time.Millisecond

func (p *sessionPlayer) Play(ctx context.Context, audioData []byte, timings []audio.WordTiming, ev tts.Events) error {
	if err := p.send(ServerEvent{
		Type:  ServerEventAudio,
		Audio: base64.StdEncoding.EncodeToString(audioData),
	}); err != nil {
		return err
	}

	if ev.OnStart != nil {
		ev.OnStart()
	}

	duration := playbackDuration(audioData, timings)

	start := time.Now()
	for i, wt := range timings {
		if err := sleepUntil(ctx, start.Add(wt.Offset)); err != nil {
			return err
		}
		if ev.OnWord != nil {
			ev.OnWord(wt.Word, i)
		}
	}
	if err := sleepUntil(ctx, start.Add(duration)); err != nil {
		return err
	}

	if ev.OnEnd != nil {
		ev.OnEnd()
	}
	return nil
}

func playbackDuration(audioData []byte, timings []audio.WordTiming) time.Duration {
	if info, err := audio.ParseWAV(audioData); err == nil {
		if d := info.Duration(); d > 0 {
			return d
		}
	}
	if n := len(timings); n > 0 {
		return timings[n-1].Offset + fallbackPerWord
	}
	return 0
}

func sleepUntil(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
