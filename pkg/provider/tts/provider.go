// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A synthesizer turns one sentence of reply text into an encoded audio clip
// that the playback layer can decode. The assistant calls it once per
// sentence as soon as the sentence is complete, so a reply starts playing
// before the LLM has finished generating it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("tts: empty text")

// Container identifies how Audio.Data is encoded.
type Container string

const (
	// MP3 is an MPEG-1/2 layer III stream.
	MP3 Container = "mp3"

	// WAV is a RIFF/WAVE file.
	WAV Container = "wav"

	// PCM is headerless signed 16-bit little-endian mono PCM at
	// Audio.SampleRate.
	PCM Container = "pcm"
)

// ParseContainer maps a file extension or format name to a Container.
func ParseContainer(s string) (Container, error) {
	switch c := Container(strings.ToLower(strings.TrimPrefix(s, "."))); c {
	case MP3, WAV, PCM:
		return c, nil
	}
	return "", fmt.Errorf("tts: unsupported audio container %q", s)
}

// Audio is one synthesized clip.
type Audio struct {
	// Data holds the encoded clip.
	Data []byte

	// Format is the container of Data.
	Format Container

	// SampleRate is the rate of PCM data. It is informational for MP3 and
	// WAV, whose headers carry their own rate.
	SampleRate int
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize converts text into a complete audio clip. It returns
	// ErrEmptyText when text is blank.
	Synthesize(ctx context.Context, text string) (Audio, error)
}
