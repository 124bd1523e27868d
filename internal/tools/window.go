package tools

import (
	"slices"
	"time"
)

// window keeps the most recent call outcomes of one tool in a ring buffer.
// It is guarded by the registry mutex.
type window struct {
	latency []time.Duration
	failed  []bool
	pos     int
	n       int
	total   int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &window{
		latency: make([]time.Duration, size),
		failed:  make([]bool, size),
	}
}

// record overwrites the oldest outcome once the buffer is full.
func (w *window) record(d time.Duration, failed bool) {
	w.latency[w.pos] = d
	w.failed[w.pos] = failed
	w.pos = (w.pos + 1) % len(w.latency)
	if w.n < len(w.latency) {
		w.n++
	}
	w.total++
}

// percentile returns the p-th percentile latency, p in [0, 1].
func (w *window) percentile(p float64) time.Duration {
	if w.n == 0 {
		return 0
	}
	sorted := slices.Clone(w.latency[:w.n])
	slices.Sort(sorted)
	return sorted[int(float64(w.n-1)*p)]
}

func (w *window) errorRate() float64 {
	if w.n == 0 {
		return 0
	}
	var errs int
	for _, f := range w.failed[:w.n] {
		if f {
			errs++
		}
	}
	return float64(errs) / float64(w.n)
}
