package audio

import (
	"encoding/binary"
	"math"
)

// PCMToInt16 decodes little-endian 16-bit PCM into samples. A trailing odd
// byte is ignored.
func PCMToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToPCM encodes samples as little-endian 16-bit PCM.
func Int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCMToFloat32 decodes little-endian 16-bit PCM into float32 samples
// normalised to [-1.0, 1.0).
func PCMToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square level of 16-bit PCM, normalised to [0, 1].
// Empty input returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		avg := min(max((l+r)/2, math.MinInt16), math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or are not positive, pcm is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := PCMToInt16(pcm)
	dstSamples := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := src[idx]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return Int16ToPCM(out)
}

// ToMono16 converts interleaved 16-bit PCM at (rate, channels) into mono PCM at
// dstRate. Channel down-mixing happens before resampling so only one channel
// is interpolated. Layouts with more than two channels keep the first two.
func ToMono16(pcm []byte, rate, channels, dstRate int) []byte {
	switch {
	case channels == 2:
		pcm = StereoToMono(pcm)
	case channels > 2:
		stride := channels * 2
		stereo := make([]byte, 0, len(pcm)/stride*4)
		for i := 0; i+stride <= len(pcm); i += stride {
			stereo = append(stereo, pcm[i:i+4]...)
		}
		pcm = StereoToMono(stereo)
	}
	return ResampleMono16(pcm, rate, dstRate)
}
