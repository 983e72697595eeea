// Package audio captures mono float audio from the host's default input
// device and stages it into a lock-free ring buffer for the segmenter.
package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/flowtype/dictation/internal/errors"
	"github.com/flowtype/dictation/internal/ringbuf"
)

// SampleFormat identifies the PCM layout a callback buffer decodes as.
// malgo is always opened requesting Float32, but the conversion table
// covers every format a capture backend might negotiate instead of
// relying on miniaudio's internal conversion.
type SampleFormat int

const (
	FormatF32 SampleFormat = iota
	FormatS16
	FormatU16
)

// Capturer opens the default input device and pushes converted mono float
// samples into a ring buffer until stopped.
type Capturer struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	ring *ringbuf.Ring

	mu      sync.Mutex
	running bool
}

// Init opens the default input device at the requested sample rate and
// wires its callback to push into the given ring. It returns the capturer
// handle (keeping it alive keeps the stream open) and the rate the stream
// actually opened at, which the segmenter uses to size pulls and the
// resampler uses to compute its conversion ratio.
func Init(ring *ringbuf.Ring, requestedSampleRate int) (*Capturer, uint32, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeInit, "init audio context")
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		_ = ctx.Uninit()
		return nil, 0, errors.Wrap(err, errors.CodeInit, "enumerate capture devices")
	}
	if len(infos) == 0 {
		_ = ctx.Uninit()
		return nil, 0, errors.New(errors.CodeInit, "no input device available")
	}
	defaultInfo := infos[0]
	for _, info := range infos {
		if info.IsDefault != 0 {
			defaultInfo = info
			break
		}
	}

	sampleRate := uint32(requestedSampleRate)
	c := &Capturer{ctx: ctx, ring: ring}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Capture.DeviceID = defaultInfo.ID.Pointer()

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, frameCount uint32) {
			samples, err := convertToMono(pSamples, FormatF32, 1)
			if err != nil {
				slog.Debug("dropping unconvertible audio callback", "error", err)
				return
			}
			if len(samples) == 0 {
				return
			}
			if n := c.ring.Push(samples); n < len(samples) {
				slog.Debug("staging buffer full, dropped samples", "dropped", len(samples)-n)
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		return nil, 0, errors.Wrap(err, errors.CodeInit, "init capture device")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		return nil, 0, errors.Wrap(err, errors.CodeInit, "start capture device")
	}
	c.device = device
	c.running = true

	slog.Info("audio capture started", "device", defaultInfo.Name(), "sample_rate", sampleRate)
	return c, sampleRate, nil
}

// Stop halts the capture stream and releases device/context resources. On
// a callback/stream error the device is left running; Stop is the only
// path that tears it down.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	if c.device.IsStarted() {
		_ = c.device.Stop()
	}
	c.device.Uninit()
	_ = c.ctx.Uninit()
	c.running = false
}

// StopOnDone stops the capturer when ctx is canceled.
func (c *Capturer) StopOnDone(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

const bytesPerF32 = 4
const bytesPerS16 = 2

// convertToMono downmixes interleaved frames to normalized [-1,1] mono
// floats. Stereo channels are averaged; mono passes through. i16 samples
// are divided by 32768; u16 samples are recentered then divided by 32768.
// Anything else is a format error.
func convertToMono(raw []byte, format SampleFormat, channels int) ([]float32, error) {
	switch format {
	case FormatF32:
		return downmix(decodeF32(raw), channels), nil
	case FormatS16:
		return downmix(decodeS16(raw), channels), nil
	case FormatU16:
		return downmix(decodeU16(raw), channels), nil
	default:
		return nil, errors.New(errors.CodeFormat, "unsupported sample format")
	}
}

func decodeF32(b []byte) []float32 {
	n := len(b) / bytesPerF32
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*bytesPerF32:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func decodeS16(b []byte) []float32 {
	n := len(b) / bytesPerS16
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(b[i*bytesPerS16:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

func decodeU16(b []byte) []float32 {
	n := len(b) / bytesPerS16
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := binary.LittleEndian.Uint16(b[i*bytesPerS16:])
		out[i] = (float32(v) - 32768.0) / 32768.0
	}
	return out
}

// downmix averages channels channels per frame into mono. channels=1 is a
// pass-through.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
