package audio

import "github.com/neonpush/elevenlabs-realtime-agent/internal/config"

// Detector is a per-call voice activity detector over 8kHz PCM16 frames.
// A frame counts as speech when RMS energy or peak amplitude crosses its
// threshold; the speaking flag only flips after an unbroken run of frames in
// the opposite class, which stops transient noise from flapping the state.
type Detector struct {
	tuning config.VADTuning

	speaking   bool
	speechRun  int
	silenceRun int
}

// NewDetector returns a Detector in the SILENT state.
func NewDetector(tuning config.VADTuning) *Detector {
	return &Detector{tuning: tuning}
}

// Speaking reports the current state.
func (d *Detector) Speaking() bool { return d.speaking }

// Process classifies one frame and returns the new state plus whether this
// frame caused a transition.
func (d *Detector) Process(frame []int16) (speaking, changed bool) {
	isSpeech := RMS(frame) > d.tuning.RMSThreshold || Peak(frame) > d.tuning.PeakThreshold

	if isSpeech {
		d.speechRun++
		d.silenceRun = 0
	} else {
		d.silenceRun++
		d.speechRun = 0
	}

	if !d.speaking && d.speechRun >= d.tuning.MinSpeechFrames {
		d.speaking = true
		return true, true
	}
	if d.speaking && d.silenceRun >= d.tuning.MinSilenceFrames {
		d.speaking = false
		return false, true
	}
	return d.speaking, false
}

// Reset returns the detector to the SILENT state with cleared counters.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
}
