// Package resample converts a speech segment from the capture device's
// sample rate to the transcriber's required 16 kHz mono rate, using
// fixed-size chunked linear interpolation.
package resample

import "github.com/flowtype/dictation/internal/errors"

const maxRatio = 2.0

// Resampler converts fixed-size chunks of source-rate audio to the target
// rate via linear interpolation. Chunk size is one frame's worth of source
// samples (source_rate * frame_ms / 1000); the final short chunk of a
// segment is zero-padded to that size before conversion.
type Resampler struct {
	ratio     float64
	chunkSize int
	outPerIn  int // output samples produced per full input chunk
}

// New creates a resampler. chunkSize is the exact input chunk length this
// resampler expects; ratio = targetRate/sourceRate must not exceed 2.0.
func New(sourceRate, targetRate, chunkSize int) (*Resampler, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, errors.New(errors.CodeResample, "sample rates must be positive")
	}
	ratio := float64(targetRate) / float64(sourceRate)
	if ratio > maxRatio {
		return nil, errors.Newf(errors.CodeResample, "resample ratio %.3f exceeds max %.1f", ratio, maxRatio)
	}
	if chunkSize <= 0 {
		return nil, errors.New(errors.CodeResample, "chunk size must be positive")
	}
	return &Resampler{
		ratio:     ratio,
		chunkSize: chunkSize,
		outPerIn:  int(float64(chunkSize) * ratio),
	}, nil
}

// Resample converts a full segment to the target rate. The segment is
// processed in exact chunkSize pieces; a trailing short chunk is
// zero-padded. Output is the concatenation of each chunk's result.
func (r *Resampler) Resample(segment []float32) []float32 {
	if len(segment) == 0 {
		return []float32{}
	}

	numChunks := (len(segment) + r.chunkSize - 1) / r.chunkSize
	out := make([]float32, 0, numChunks*r.outPerIn)

	chunk := make([]float32, r.chunkSize)
	for i := 0; i < numChunks; i++ {
		start := i * r.chunkSize
		end := start + r.chunkSize
		if end > len(segment) {
			n := copy(chunk, segment[start:])
			for j := n; j < r.chunkSize; j++ {
				chunk[j] = 0
			}
		} else {
			copy(chunk, segment[start:end])
		}
		out = append(out, r.resampleChunk(chunk)...)
	}
	return out
}

// resampleChunk applies linear interpolation over exactly chunkSize input
// samples, producing outPerIn output samples.
func (r *Resampler) resampleChunk(chunk []float32) []float32 {
	out := make([]float32, r.outPerIn)
	for i := 0; i < r.outPerIn; i++ {
		srcPos := float64(i) / r.ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		a := sampleAt(chunk, idx)
		b := sampleAt(chunk, idx+1)
		out[i] = float32(float64(a) + frac*float64(b-a))
	}
	return out
}

func sampleAt(chunk []float32, idx int) float32 {
	if idx < 0 {
		return chunk[0]
	}
	if idx >= len(chunk) {
		return chunk[len(chunk)-1]
	}
	return chunk[idx]
}
