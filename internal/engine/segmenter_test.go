package engine

import (
	"testing"

	"github.com/flowtype/dictation/internal/vad"
)

const (
	testFrameSamples  = 10
	testPreRollFrames = 3
)

func newTestSegmenter() *segmenter {
	// start/stop windows of one frame so tests don't need dozens of ticks.
	v := vad.New(0.5, 0.1, 1, 1, 1)
	return newSegmenter(v, testFrameSamples, testPreRollFrames)
}

func constFrame(n int, val float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = val
	}
	return out
}

func TestSegmenterSilenceOnlyProducesNoSegments(t *testing.T) {
	s := newTestSegmenter()
	for i := 0; i < 20; i++ {
		segments, transitions := s.feed(constFrame(testFrameSamples, 0))
		if len(segments) != 0 {
			t.Fatalf("tick %d: got %d segments during silence", i, len(segments))
		}
		if len(transitions) != 0 {
			t.Fatalf("tick %d: unexpected VAD transition during silence", i)
		}
	}
}

func TestSegmenterEmitsOneSegmentPerUtterance(t *testing.T) {
	s := newTestSegmenter()

	// Silence builds up pre-roll.
	s.feed(constFrame(testFrameSamples*5, 0))

	// Loud frame triggers Silence->Speaking.
	segments, transitions := s.feed(constFrame(testFrameSamples, 1.0))
	if len(segments) != 0 {
		t.Fatalf("expected no segment yet, got %d", len(segments))
	}
	if len(transitions) != 1 || !transitions[0].speaking {
		t.Fatalf("expected one speaking transition, got %+v", transitions)
	}

	// More speech.
	s.feed(constFrame(testFrameSamples*2, 1.0))

	// Silence triggers Speaking->Silence and finalizes the segment.
	segments, transitions = s.feed(constFrame(testFrameSamples, 0))
	if len(segments) != 1 {
		t.Fatalf("expected one finalized segment, got %d", len(segments))
	}
	if len(transitions) != 1 || transitions[0].speaking {
		t.Fatalf("expected one silence transition, got %+v", transitions)
	}

	// Segment = pre-roll (bounded to 3 frames) + 1 loud frame + 2 loud frames.
	// The trailing silence frame that triggers the transition seeds the next
	// pre-roll instead of being appended to this segment.
	wantLen := (testPreRollFrames + 1 + 2) * testFrameSamples
	if len(segments[0]) != wantLen {
		t.Errorf("segment length = %d, want %d", len(segments[0]), wantLen)
	}

	if len(s.preRoll) != 1 || len(s.preRoll[0]) != testFrameSamples {
		t.Errorf("preRoll after finalize = %d frames, want the boundary frame carried over", len(s.preRoll))
	}
}

func TestSegmenterPreRollNeverExceedsBound(t *testing.T) {
	s := newTestSegmenter()
	for i := 0; i < 50; i++ {
		s.feed(constFrame(testFrameSamples, 0))
	}
	if len(s.preRoll) > testPreRollFrames {
		t.Errorf("preRoll length = %d, want <= %d", len(s.preRoll), testPreRollFrames)
	}
}
