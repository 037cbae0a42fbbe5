package audio

import (
	"math"
	"testing"
)

func pcmSine(sr int, hz float64, amp float64, durMs int) []int16 {
	n := sr * durMs / 1000
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(amp * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
	}
	return out
}

func TestEncodeMuLaw_ZeroAndFullScale(t *testing.T) {
	if got := EncodeMuLawSample(0); got != 0xFF {
		t.Fatalf("zero sample: expected 0xFF, got 0x%02X", got)
	}
	if got := EncodeMuLawSample(math.MaxInt16); got != 0x80 {
		t.Fatalf("full-scale positive: expected 0x80, got 0x%02X", got)
	}
	if got := EncodeMuLawSample(math.MinInt16); got != 0x00 {
		t.Fatalf("full-scale negative: expected 0x00, got 0x%02X", got)
	}
}

func TestMuLawRoundTrip_QuantizationBound(t *testing.T) {
	// 440Hz tone at a typical speech amplitude; the largest µ-law segment in
	// play at amp 8000 has a step of 256, so error must stay within half of it.
	tone := pcmSine(8000, 440, 8000, 100)
	encoded := EncodeMuLaw(tone)
	decoded := DecodeMuLaw(encoded)
	if len(decoded) != len(tone) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(tone))
	}
	for i := range tone {
		diff := int(tone[i]) - int(decoded[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > 128 {
			t.Fatalf("sample %d: error %d exceeds quantization bound", i, diff)
		}
	}
}

func TestMuLawRoundTrip_EverySample(t *testing.T) {
	// Every µ-law code must survive decode->encode exactly, except negative
	// zero (0x7F) which decodes to the same sample as positive zero.
	for c := 0; c < 256; c++ {
		if c == 0x7F {
			continue
		}
		got := EncodeMuLawSample(DecodeMuLawSample(byte(c)))
		if got != byte(c) {
			t.Fatalf("code 0x%02X round-tripped to 0x%02X", c, got)
		}
	}
}

func TestUpsample8kTo16k(t *testing.T) {
	in := []int16{0, 100, -100}
	out := Upsample8kTo16k(in)
	want := []int16{0, 50, 100, 0, -100, -100}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], out[i])
		}
	}
	if Upsample8kTo16k(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestApplyAdaptiveGain_Buckets(t *testing.T) {
	cases := []struct {
		amp  float64
		gain float64
	}{
		{100, 4.0},
		{1000, 3.0},
		{2500, 2.0},
		{5000, 1.5},
		{20000, 1.0},
	}
	for _, tc := range cases {
		tone := pcmSine(8000, 300, tc.amp, 20)
		peakBefore := Peak(tone)
		ApplyAdaptiveGain(tone)
		wantPeak := int(float64(peakBefore) * tc.gain)
		if peakBefore > 0 && abs(Peak(tone)-wantPeak) > wantPeak/10 {
			t.Fatalf("amp %.0f: expected peak near %d, got %d", tc.amp, wantPeak, Peak(tone))
		}
	}
}

func TestSoftClip_CompressesExcess(t *testing.T) {
	// A sample just over the threshold must land between the threshold and the
	// int16 maximum, never wrap or hard-clamp.
	loud := []int16{30000, -30000, 32000}
	ScaleGain(loud, 1.5)
	for i, s := range loud {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v < softClipThreshold || v > math.MaxInt16 {
			t.Fatalf("sample %d: %d escaped the soft clip band", i, s)
		}
	}
}

func TestPCMBytes_RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	out := BytesToPCM(PCMToBytes(in))
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
