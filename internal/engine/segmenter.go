package engine

import (
	"math"

	"github.com/flowtype/dictation/internal/vad"
)

// vadTransition is emitted whenever the segmenter's VAD flips state.
type vadTransition struct {
	speaking bool
	rms      float64
}

// segmenter buffers raw capture-rate samples into fixed-size frames, runs
// each frame through the VAD, and assembles speech segments bounded by a
// pre-roll ring. It has no I/O of its own, which makes it
// testable without an audio device.
type segmenter struct {
	vad           *vad.EnergyVAD
	frameSamples  int
	preRollFrames int

	pending  []float32   // raw samples not yet forming a full frame
	preRoll  [][]float32 // bounded queue of frames captured during silence
	speech   []float32
	speaking bool
}

func newSegmenter(v *vad.EnergyVAD, frameSamples, preRollFrames int) *segmenter {
	return &segmenter{vad: v, frameSamples: frameSamples, preRollFrames: preRollFrames}
}

// feed appends newly captured samples and returns any segments finalized
// by this call (normally zero or one) plus the VAD transitions observed.
func (s *segmenter) feed(samples []float32) (segments [][]float32, transitions []vadTransition) {
	s.pending = append(s.pending, samples...)

	for len(s.pending) >= s.frameSamples {
		frame := append([]float32(nil), s.pending[:s.frameSamples]...)
		s.pending = s.pending[s.frameSamples:]

		energy := rms(frame)
		prevState := s.vad.State()
		state := s.vad.Process(energy)

		if state != prevState {
			transitions = append(transitions, vadTransition{speaking: state == vad.Speaking, rms: energy})
		}

		switch {
		case prevState == vad.Silence && state == vad.Speaking:
			s.speaking = true
			for _, f := range s.preRoll {
				s.speech = append(s.speech, f...)
			}
			s.preRoll = s.preRoll[:0]
			s.speech = append(s.speech, frame...)

		case s.speaking:
			if state != vad.Speaking {
				// Speaking -> Silence: the boundary frame isn't part of the
				// utterance that just ended; it seeds the next pre-roll.
				s.speaking = false
				segments = append(segments, s.speech)
				s.speech = nil
				s.preRoll = append(s.preRoll, frame)
				if len(s.preRoll) > s.preRollFrames {
					s.preRoll = s.preRoll[len(s.preRoll)-s.preRollFrames:]
				}
				break
			}
			s.speech = append(s.speech, frame...)

		default:
			s.preRoll = append(s.preRoll, frame)
			if len(s.preRoll) > s.preRollFrames {
				s.preRoll = s.preRoll[len(s.preRoll)-s.preRollFrames:]
			}
		}
	}
	return segments, transitions
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range frame {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(frame)))
}
