package audio

import (
	"strings"
	"time"
)

// WordTiming is the estimated playback offset of one spoken word. Offsets are
// relative to the start of playback and strictly non-decreasing.
type WordTiming struct {
	Word   string
	Offset time.Duration
}

// WordTimings spreads the words of text across the total playback duration,
// weighting each word by its length so long words get proportionally more
// time. Synthesis APIs that return a plain audio blob carry no word-level
// metadata, so an estimate is the best a word-boundary callback can do.
func WordTimings(text string, total time.Duration) []WordTiming {
	words := strings.Fields(text)
	if len(words) == 0 || total <= 0 {
		return nil
	}

	weights := make([]int, len(words))
	sum := 0
	for i, w := range words {
		// +1 accounts for the pause between words.
		weights[i] = len(w) + 1
		sum += weights[i]
	}

	timings := make([]WordTiming, len(words))
	elapsed := time.Duration(0)
	for i, w := range words {
		timings[i] = WordTiming{Word: w, Offset: elapsed}
		elapsed += time.Duration(float64(total) * float64(weights[i]) / float64(sum))
	}
	return timings
}
