package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// WAVInfo describes the format of a RIFF/WAVE container.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

var (
	// ErrNotWAV is returned when the bytes do not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("not a RIFF/WAVE container")
	// ErrTruncatedWAV is returned when a chunk runs past the end of the data.
	ErrTruncatedWAV = errors.New("truncated WAVE data")
)

// ParseWAV reads the fmt and data chunk headers of a WAV byte stream.
// Only PCM metadata is extracted; the sample data itself is not validated.
func ParseWAV(b []byte) (WAVInfo, error) {
	var info WAVInfo

	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return info, ErrNotWAV
	}

	offset := 12
	haveFmt := false
	for offset+8 <= len(b) {
		chunkID := string(b[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(b) {
				return info, ErrTruncatedWAV
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			if body+chunkSize > len(b) {
				return info, ErrTruncatedWAV
			}
			info.DataBytes = chunkSize
			if haveFmt {
				return info, nil
			}
		}

		// Chunks are word-aligned.
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	if !haveFmt {
		return info, fmt.Errorf("%w: missing fmt chunk", ErrTruncatedWAV)
	}
	return info, nil
}

// Duration computes the playback length from the format metadata.
// Returns zero when the header is incomplete.
func (i WAVInfo) Duration() time.Duration {
	bytesPerSecond := i.SampleRate * i.Channels * i.BitsPerSample / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(i.DataBytes) / float64(bytesPerSecond) * float64(time.Second))
}

// EncodeWAV wraps raw PCM samples in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, 0, 44+len(pcm))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(pcm)))
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(byteRate))
	out = binary.LittleEndian.AppendUint16(out, uint16(blockAlign))
	out = binary.LittleEndian.AppendUint16(out, uint16(bitsPerSample))

	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	out = append(out, pcm...)

	return out
}
