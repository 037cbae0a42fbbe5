package audio

import (
	"testing"

	"github.com/neonpush/elevenlabs-realtime-agent/internal/config"
)

var testTuning = config.VADTuning{
	RMSThreshold:     300,
	PeakThreshold:    2500,
	MinSpeechFrames:  3,
	MinSilenceFrames: 10,
}

func speechFrame() []int16  { return pcmSine(8000, 220, 6000, 20) }
func silenceFrame() []int16 { return make([]int16, 160) }

func TestDetector_SpeechHysteresis(t *testing.T) {
	d := NewDetector(testTuning)

	// minSpeechFrames-1 speech-like frames must not flip the state.
	for i := 0; i < testTuning.MinSpeechFrames-1; i++ {
		speaking, changed := d.Process(speechFrame())
		if speaking || changed {
			t.Fatalf("frame %d: flipped to speaking too early", i)
		}
	}
	speaking, changed := d.Process(speechFrame())
	if !speaking || !changed {
		t.Fatalf("expected transition to speaking on frame %d", testTuning.MinSpeechFrames)
	}

	// The symmetric silence run while speaking.
	for i := 0; i < testTuning.MinSilenceFrames-1; i++ {
		speaking, changed = d.Process(silenceFrame())
		if !speaking || changed {
			t.Fatalf("frame %d: reverted to silent too early", i)
		}
	}
	speaking, changed = d.Process(silenceFrame())
	if speaking || !changed {
		t.Fatalf("expected transition to silent after full silence run")
	}
}

func TestDetector_TransientNoiseDoesNotFlap(t *testing.T) {
	d := NewDetector(testTuning)
	// Alternating frames never build the required run.
	for i := 0; i < 50; i++ {
		d.Process(speechFrame())
		if speaking, _ := d.Process(silenceFrame()); speaking {
			t.Fatalf("iteration %d: detector flapped to speaking on transient noise", i)
		}
	}
}

func TestDetector_PeakTriggersWithoutEnergy(t *testing.T) {
	d := NewDetector(testTuning)
	// A frame that is mostly silence but has one sharp click: low RMS, high peak.
	click := make([]int16, 160)
	click[80] = 3000
	for i := 0; i < testTuning.MinSpeechFrames; i++ {
		d.Process(click)
	}
	if !d.Speaking() {
		t.Fatalf("expected peak threshold alone to count frames as speech")
	}
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(testTuning)
	for i := 0; i < testTuning.MinSpeechFrames; i++ {
		d.Process(speechFrame())
	}
	if !d.Speaking() {
		t.Fatalf("expected speaking before reset")
	}
	d.Reset()
	if d.Speaking() {
		t.Fatalf("expected silent after reset")
	}
}
