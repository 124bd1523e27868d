package audio

import "time"

// Framer re-chunks an arbitrary byte stream into frames of one [Format].
// Callback-driven sources (native drivers, network streams) deliver buffers
// whose size has nothing to do with the frame size; Framer carries the
// leftover bytes between calls so no sample is dropped or reordered.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	format  Format
	size    int
	pending []byte
	seq     uint64
}

// NewFramer returns a Framer for f. f must be valid.
func NewFramer(f Format) *Framer {
	return &Framer{format: f, size: f.FrameBytes()}
}

// Write appends p and returns every frame completed by it. Each returned
// frame owns a fresh Data slice.
func (f *Framer) Write(p []byte) []Frame {
	f.pending = append(f.pending, p...)
	if len(f.pending) < f.size {
		return nil
	}
	frames := make([]Frame, 0, len(f.pending)/f.size)
	for len(f.pending) >= f.size {
		data := make([]byte, f.size)
		copy(data, f.pending[:f.size])
		f.pending = f.pending[f.size:]
		frames = append(frames, Frame{
			Data:      data,
			Seq:       f.seq,
			Timestamp: f.format.FrameDuration * time.Duration(f.seq),
		})
		f.seq++
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

// Pending returns the number of buffered bytes not yet forming a frame.
func (f *Framer) Pending() int { return len(f.pending) }
