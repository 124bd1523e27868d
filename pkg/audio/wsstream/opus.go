package wsstream

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/hark/pkg/audio"
)

// Codecs a client may announce in its [Hello].
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

// opusMaxPacketMs is the longest duration a single Opus packet can carry.
const opusMaxPacketMs = 120

// opusRates are the sample rates libopus decodes to.
var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// decoder turns one client message into interleaved S16LE PCM in the
// client's announced format.
type decoder interface {
	decode(msg []byte) ([]byte, error)
}

// pcmDecoder passes raw PCM through.
type pcmDecoder struct{}

func (pcmDecoder) decode(msg []byte) ([]byte, error) { return msg, nil }

// opusDecoder decodes one Opus packet per binary message. A client keeps the
// same decoder for its whole connection so that decoder state carries
// across packets.
type opusDecoder struct {
	dec      *gopus.Decoder
	maxFrame int
}

func newOpusDecoder(sampleRate, channels int) (*opusDecoder, error) {
	if !opusRates[sampleRate] {
		return nil, fmt.Errorf("wsstream: opus cannot decode at %d Hz", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("wsstream: opus supports 1 or 2 channels, got %d", channels)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("wsstream: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, maxFrame: sampleRate * opusMaxPacketMs / 1000}, nil
}

func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.maxFrame, false)
	if err != nil {
		return nil, fmt.Errorf("wsstream: opus decode: %w", err)
	}
	return audio.Int16ToPCM(pcm), nil
}

// newDecoder returns the decoder for the codec announced in h.
func newDecoder(h Hello) (decoder, error) {
	switch h.Codec {
	case "", CodecPCM:
		return pcmDecoder{}, nil
	case CodecOpus:
		return newOpusDecoder(h.SampleRate, h.Channels)
	default:
		return nil, fmt.Errorf("wsstream: unknown codec %q", h.Codec)
	}
}
