// Package audio implements the narrowband telephony codec path: µ-law
// companding, adaptive gain with soft clipping, linear upsampling and
// voice activity detection on raw PCM16 frames.
package audio

import "math"

const (
	muLawBias = 0x84
	muLawClip = 32635

	// softClipThreshold is where the soft limiter starts compressing instead
	// of letting samples run into the int16 ceiling.
	softClipThreshold = 29490
	// softClipRatio compresses the excess above the threshold.
	softClipRatio = 4
)

// EncodeMuLawSample compands one linear PCM16 sample to 8-bit µ-law.
func EncodeMuLawSample(s int16) byte {
	v := int32(s)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exp := byte(7)
	for mask := int32(0x4000); mask > 0x80 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> (exp + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// DecodeMuLawSample expands one 8-bit µ-law code to linear PCM16.
func DecodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exp := (b >> 4) & 0x07
	mant := b & 0x0F
	v := ((int32(mant)<<3 + muLawBias) << exp) - muLawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// DecodeMuLaw expands a µ-law frame to PCM16 at the same sample rate.
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeMuLawSample(b)
	}
	return out
}

// EncodeMuLaw compands a PCM16 frame to µ-law at the same sample rate.
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMuLawSample(s)
	}
	return out
}

// RMS returns the root-mean-square energy of a PCM16 frame.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute amplitude in a PCM16 frame.
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// gainFor picks a boost factor by RMS energy bucket. Telephony callers are
// frequently far too quiet for downstream speech models, so quiet frames get
// boosted harder than loud ones.
func gainFor(rms float64) float64 {
	switch {
	case rms < 500:
		return 4.0
	case rms < 1000:
		return 3.0
	case rms < 2000:
		return 2.0
	case rms < 4000:
		return 1.5
	default:
		return 1.0
	}
}

// softClip compresses the part of v beyond the threshold instead of hard
// clamping, which keeps loud consonants from turning into square waves.
func softClip(v float64) int16 {
	neg := v < 0
	if neg {
		v = -v
	}
	if v > softClipThreshold {
		v = softClipThreshold + (v-softClipThreshold)/softClipRatio
	}
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if neg {
		v = -v
	}
	return int16(v)
}

// ApplyAdaptiveGain boosts a PCM16 frame in place by an RMS-selected factor
// and soft-clips the result. Returns the same slice for chaining.
func ApplyAdaptiveGain(samples []int16) []int16 {
	g := gainFor(RMS(samples))
	if g == 1.0 {
		return samples
	}
	for i, s := range samples {
		samples[i] = softClip(float64(s) * g)
	}
	return samples
}

// ScaleGain multiplies a PCM16 frame in place by a fixed factor with soft
// clipping. Used on the outbound path to back agent audio off the ceiling.
func ScaleGain(samples []int16, factor float64) []int16 {
	for i, s := range samples {
		samples[i] = softClip(float64(s) * factor)
	}
	return samples
}

// Upsample8kTo16k doubles the sample rate by inserting the midpoint between
// each consecutive pair of samples. The final sample is duplicated.
func Upsample8kTo16k(samples []int16) []int16 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]int16, 0, len(samples)*2)
	for i := 0; i < len(samples)-1; i++ {
		a, b := int32(samples[i]), int32(samples[i+1])
		out = append(out, samples[i], int16((a+b)/2))
	}
	last := samples[len(samples)-1]
	out = append(out, last, last)
	return out
}

// PCMToBytes serializes PCM16 samples as little-endian bytes.
func PCMToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// BytesToPCM parses little-endian PCM16 bytes. A trailing odd byte is dropped.
func BytesToPCM(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}
