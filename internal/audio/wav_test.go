package audio

import (
	"testing"
	"time"
)

func TestEncodeParse_RoundTrip(t *testing.T) {
	pcm := make([]byte, 48000) // 1 second of 16-bit mono at 24kHz
	wav := EncodeWAV(pcm, 24000, 1, 16)

	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if info.SampleRate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if info.DataBytes != len(pcm) {
		t.Errorf("Expected %d data bytes, got %d", len(pcm), info.DataBytes)
	}
	if info.Duration() != time.Second {
		t.Errorf("Expected 1s duration, got %v", info.Duration())
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"wrong magic", []byte("OGGS1234WAVExxxxxxxxxxxx")},
		{"missing fmt", append([]byte("RIFF\x04\x00\x00\x00WAVE"), make([]byte, 4)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWAV(tt.data); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestParseWAV_TruncatedData(t *testing.T) {
	pcm := make([]byte, 1000)
	wav := EncodeWAV(pcm, 8000, 1, 16)

	if _, err := ParseWAV(wav[:len(wav)-100]); err == nil {
		t.Error("Expected error for truncated data chunk")
	}
}

func TestWordTimings_MonotonicFromZero(t *testing.T) {
	timings := WordTimings("gravity pulls objects together", 2*time.Second)
	if len(timings) != 4 {
		t.Fatalf("Expected 4 timings, got %d", len(timings))
	}
	if timings[0].Offset != 0 {
		t.Errorf("Expected first word at offset 0, got %v", timings[0].Offset)
	}
	for i := 1; i < len(timings); i++ {
		if timings[i].Offset <= timings[i-1].Offset {
			t.Errorf("Expected strictly increasing offsets, got %v then %v", timings[i-1].Offset, timings[i].Offset)
		}
	}
	if last := timings[len(timings)-1].Offset; last >= 2*time.Second {
		t.Errorf("Expected last word to start before playback ends, got %v", last)
	}
}

func TestWordTimings_Empty(t *testing.T) {
	if got := WordTimings("", time.Second); got != nil {
		t.Errorf("Expected nil timings for empty text, got %v", got)
	}
	if got := WordTimings("hello", 0); got != nil {
		t.Errorf("Expected nil timings for zero duration, got %v", got)
	}
}

func TestWordTimings_LongerWordsGetMoreTime(t *testing.T) {
	timings := WordTimings("a extraordinarily b", time.Second)
	if len(timings) != 3 {
		t.Fatalf("Expected 3 timings, got %d", len(timings))
	}

	firstGap := timings[1].Offset - timings[0].Offset
	secondGap := timings[2].Offset - timings[1].Offset
	if secondGap <= firstGap {
		t.Errorf("Expected the long word to span longer than the short one: %v vs %v", secondGap, firstGap)
	}
}
