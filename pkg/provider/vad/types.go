package vad

// Decision is the classification of a single frame.
type Decision struct {
	// Speech reports whether the frame was classified as speech.
	Speech bool

	// Probability is the detector's confidence that the frame is speech, in
	// [0, 1]. Binary detectors report 0 or 1.
	Probability float64
}
