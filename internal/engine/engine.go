// Package engine wires capture, segmentation, resampling, transcription,
// and injection into four long-lived worker loops:
// a segmenter tick loop, a transcriber loop, an injector loop, plus the
// realtime device callback the audio package owns directly.
package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/flowtype/dictation/internal/audio"
	"github.com/flowtype/dictation/internal/config"
	"github.com/flowtype/dictation/internal/errors"
	"github.com/flowtype/dictation/internal/inject"
	"github.com/flowtype/dictation/internal/model"
	"github.com/flowtype/dictation/internal/ringbuf"
	"github.com/flowtype/dictation/internal/resample"
	"github.com/flowtype/dictation/internal/settings"
	"github.com/flowtype/dictation/internal/trace"
	"github.com/flowtype/dictation/internal/transcribe"
	"github.com/flowtype/dictation/internal/vad"
)

// captureSampleRate is the rate the input device is opened at; the
// resampler converts each finalized segment down to cfg.SampleRate before
// transcription. Most consumer mics/host APIs default to 48 kHz.
const captureSampleRate = 48000

const ringCapacitySeconds = 10

// Engine owns the pipeline's workers and exposes a lossy observer channel.
type Engine struct {
	cfg      *config.Config
	settings *settings.Store

	capturer    *audio.Capturer
	transcriber transcriber
	injector    *inject.Injector

	resampler *resample.Resampler
	ring      *ringbuf.Ring
	seg       *segmenter

	segmentCh chan segmentJob
	textCh    chan textJob
	events    chan Event

	stopWindowMS int // last stop-window applied to seg.vad, for live reload

	cancel context.CancelFunc
	done   chan struct{}
}

// transcriber is a tiny indirection so tests can substitute a fake.
type transcriber interface {
	Transcribe(ctx context.Context, segment []float32) (string, bool)
	Close() error
}

// segmentJob and textJob carry a stage's trace context alongside its
// payload, so a span started in one worker loop resumes the same trace in
// the next and a whole segment's journey correlates under one trace_id.
type segmentJob struct {
	ctx     context.Context
	samples []float32
}

type textJob struct {
	ctx  context.Context
	text string
}

// New resolves the model, constructs every stage, and opens the capture
// device. Any failure here is an initialization error: it propagates
// to the caller and the engine does not run.
func New(ctx context.Context, cfg *config.Config, st *settings.Store) (*Engine, error) {
	resolver := model.NewResolver("", cfg.ModelDir, cfg.ModelAutoDownload)
	modelPath, err := resolver.Resolve(ctx, cfg.ModelName)
	if err != nil {
		return nil, err
	}

	tr, err := transcribe.New(modelPath)
	if err != nil {
		return nil, err
	}

	backend := inject.NewBackend()
	injector, err := inject.New(backend, st)
	if err != nil {
		tr.Close()
		return nil, err
	}

	frameSamples := captureSampleRate * cfg.FrameMS / 1000
	if frameSamples < 1 {
		frameSamples = 1
	}
	preRollFrames := int(math.Ceil(float64(cfg.PreRollMS) / float64(cfg.FrameMS)))
	if preRollFrames < 1 {
		preRollFrames = 1
	}

	initialStopWindowMS := stopWindowMS(cfg, st)
	v := vad.New(cfg.VADStartThreshold, cfg.VADStopThreshold, cfg.VADStartWindowMS, initialStopWindowMS, cfg.FrameMS)

	resampler, err := resample.New(captureSampleRate, cfg.SampleRate, frameSamples)
	if err != nil {
		tr.Close()
		return nil, err
	}

	ring := ringbuf.New(captureSampleRate * ringCapacitySeconds)
	capturer, _, err := audio.Init(ring, captureSampleRate)
	if err != nil {
		tr.Close()
		return nil, err
	}

	return &Engine{
		cfg:          cfg,
		settings:     st,
		capturer:     capturer,
		transcriber:  tr,
		injector:     injector,
		resampler:    resampler,
		ring:         ring,
		seg:          newSegmenter(v, frameSamples, preRollFrames),
		segmentCh:    make(chan segmentJob, 4),
		textCh:       make(chan textJob, 16),
		events:       make(chan Event, 64),
		stopWindowMS: initialStopWindowMS,
	}, nil
}

// stopWindowMS prefers the user's persisted silence timeout over the
// process default, matching set_silence_timeout's documented effect on
// the VAD stop window.
func stopWindowMS(cfg *config.Config, st *settings.Store) int {
	if st == nil {
		return cfg.VADStopWindowMS
	}
	if ms := st.SilenceTimeoutMS(); ms > 0 {
		return int(ms)
	}
	return cfg.VADStopWindowMS
}

// Events returns the observer channel (VAD updates and transcriptions).
func (e *Engine) Events() <-chan Event { return e.events }

// Start launches the segmenter, transcriber, and injector loops. The
// capture device callback is already running (started in New).
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.segmenterLoop(runCtx)
	go e.transcriberLoop(runCtx)
	go e.injectorLoop(runCtx)

	return nil
}

// Stop cancels every loop and releases the capture device and model.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.capturer.Stop()
	close(e.segmentCh)
	close(e.textCh)
	_ = e.transcriber.Close()
}

func (e *Engine) segmenterLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.cfg.FrameMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reloadStopWindow()
			samples := e.ring.Drain()
			if len(samples) == 0 {
				continue
			}
			segments, transitions := e.seg.feed(samples)
			for _, t := range transitions {
				e.emit(Event{Type: EventVADUpdate, Speaking: t.speaking, RMS: t.rms})
			}
			for _, segment := range segments {
				segCtx, span := trace.StartSpan(ctx, "segment_produced")
				trace.Logger(segCtx).Debug("speech segment finalized", "samples", len(segment))
				span.End()
				select {
				case e.segmentCh <- segmentJob{ctx: segCtx, samples: segment}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// reloadStopWindow picks up a set_silence_timeout change without requiring
// a restart: the segmenter's VAD stop window is recomputed whenever the
// persisted value differs from what's currently applied.
func (e *Engine) reloadStopWindow() {
	ms := stopWindowMS(e.cfg, e.settings)
	if ms == e.stopWindowMS {
		return
	}
	e.stopWindowMS = ms
	e.seg.vad.UpdateStopWindow(ms, e.cfg.FrameMS)
}

func (e *Engine) transcriberLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-e.segmentCh:
			if !ok {
				return
			}
			resampled := e.resampler.Resample(job.samples)
			text, ok := e.transcriber.Transcribe(job.ctx, resampled)
			if !ok {
				continue
			}
			txCtx, span := trace.StartSpan(job.ctx, "transcription_emitted")
			trace.Logger(txCtx).Debug("transcription produced", "chars", len(text))
			span.End()
			select {
			case e.textCh <- textJob{ctx: txCtx, text: text}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) injectorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-e.textCh:
			if !ok {
				return
			}
			if err := e.injector.Inject(job.ctx, job.text, func(cleaned string) {
				e.emit(Event{Type: EventTranscription, Text: cleaned})
			}); err != nil {
				trace.Logger(job.ctx).Info("injection failed, continuing", "error", errors.Wrap(err, errors.CodeInjection, "inject"))
			}
		}
	}
}

// emit sends an observer event, dropping it if the channel is full; a
// slow or absent UI host never backs up the pipeline.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		slog.Debug("observer channel full, dropping event")
	}
}
