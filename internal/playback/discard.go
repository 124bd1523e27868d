package playback

import (
	"context"
	"log/slog"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

// Discard is a [Player] for headless runs. It decodes each clip to validate
// it and logs its length instead of playing it.
type Discard struct {
	Log *slog.Logger
}

// Play implements [Player].
func (d Discard) Play(_ context.Context, clip tts.Audio) error {
	pcm, err := ClipPCM(clip, DefaultDeviceRate)
	if err != nil {
		return err
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("playback: discarded clip", "format", clip.Format, "ms", len(pcm)/2*1000/DefaultDeviceRate)
	return nil
}

var _ Player = Discard{}
