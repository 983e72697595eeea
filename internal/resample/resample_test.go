package resample

import "testing"

func TestNewRejectsRatioAboveMax(t *testing.T) {
	if _, err := New(8000, 16001*2, 100); err == nil {
		t.Error("New() should reject ratio > 2.0")
	}
}

func TestNewRejectsNonPositiveRates(t *testing.T) {
	if _, err := New(0, 16000, 100); err == nil {
		t.Error("New() should reject zero source rate")
	}
}

func TestResampleEmptySegment(t *testing.T) {
	r, err := New(48000, 16000, 1440)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out := r.Resample(nil)
	if len(out) != 0 {
		t.Errorf("Resample(nil) = %v, want empty", out)
	}
}

func TestResampleDownsampleLength(t *testing.T) {
	r, err := New(48000, 16000, 480) // ratio 1/3
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	segment := make([]float32, 480*4) // exactly 4 chunks
	out := r.Resample(segment)

	wantPerChunk := int(float64(480) * (16000.0 / 48000.0))
	want := wantPerChunk * 4
	if len(out) != want {
		t.Errorf("Resample() len = %d, want %d", len(out), want)
	}
}

func TestResamplePadsShortFinalChunk(t *testing.T) {
	r, err := New(48000, 16000, 480)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	segment := make([]float32, 480+100) // one full chunk + a short trailing one
	out := r.Resample(segment)

	wantPerChunk := int(float64(480) * (16000.0 / 48000.0))
	want := wantPerChunk * 2 // padded to 2 full chunks
	if len(out) != want {
		t.Errorf("Resample() len = %d, want %d", len(out), want)
	}
}

func TestResampleConstantSignalStaysConstant(t *testing.T) {
	r, err := New(48000, 16000, 480)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	segment := make([]float32, 480)
	for i := range segment {
		segment[i] = 0.5
	}
	out := r.Resample(segment)
	for i, v := range out {
		if v != 0.5 {
			t.Errorf("out[%d] = %f, want 0.5 (constant signal should interpolate flat)", i, v)
		}
	}
}

func TestResampleUpsampleRatioExactlyTwo(t *testing.T) {
	r, err := New(8000, 16000, 100)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	segment := make([]float32, 100)
	out := r.Resample(segment)
	if len(out) != 200 {
		t.Errorf("Resample() len = %d, want 200", len(out))
	}
}
