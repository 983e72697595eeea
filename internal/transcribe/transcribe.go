// Package transcribe runs local speech-to-text inference over a 16 kHz
// segment and filters the hallucinated/noise text whisper.cpp is known to
// emit on near-silent input.
package transcribe

import (
	"context"
	"log/slog"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/flowtype/dictation/internal/errors"
	"github.com/flowtype/dictation/internal/trace"
)

const forcedLanguage = "en"

// Transcriber wraps a loaded whisper.cpp model and a single decoder
// context, created once at worker start and reused for every segment.
type Transcriber struct {
	model   whisper.Model
	context whisper.Context
}

// New loads the model at path and creates its long-lived decoder context,
// configured for greedy decoding with no progress/timestamp/special-token
// output and a forced language.
func New(modelPath string) (*Transcriber, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInit, "load whisper model")
	}
	ctx, err := model.NewContext()
	if err != nil {
		model.Close()
		return nil, errors.Wrap(err, errors.CodeInit, "create whisper context")
	}

	if err := ctx.SetLanguage(forcedLanguage); err != nil {
		model.Close()
		return nil, errors.Wrap(err, errors.CodeInit, "set whisper language")
	}
	ctx.SetTranslate(false)
	ctx.SetSplitOnWord(false)
	ctx.SetTokenTimestamps(false)

	return &Transcriber{model: model, context: ctx}, nil
}

// Close releases the underlying model resources.
func (t *Transcriber) Close() error {
	return t.model.Close()
}

// Transcribe runs inference on a 16 kHz mono segment and returns the
// post-filtered text. ok is false if the model produced only noise (or
// inference failed) and nothing should be injected. The span started here
// carries ctx's trace_id, so a segment's whisper inference step logs under
// the same trace as its segment and injection spans.
func (t *Transcriber) Transcribe(ctx context.Context, segment []float32) (text string, ok bool) {
	spanCtx, span := trace.StartSpan(ctx, "whisper_inference")
	defer span.End()
	log := trace.Logger(spanCtx)

	if err := t.context.Process(segment, nil, nil, nil); err != nil {
		log.Debug("whisper inference failed", "error", err)
		return "", false
	}

	var b strings.Builder
	for {
		seg, err := t.context.NextSegment()
		if err != nil {
			break
		}
		b.WriteString(seg.Text)
	}

	return postFilter(log, b.String())
}

// postFilter implements the transcriber's noise/hallucination removal:
// strip every [...] or (...) span, then drop the result if it's empty,
// exactly "...", or begins with "[_".
func postFilter(log *slog.Logger, raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	stripped := stripBracketedSpans(text)
	stripped = strings.TrimSpace(stripped)

	if stripped == "" || stripped == "..." || strings.HasPrefix(stripped, "[_") {
		if text != "" {
			log.Info("filtered noise transcription", "raw", text)
		}
		return "", false
	}
	return stripped, true
}

// stripBracketedSpans removes every substring bracketed by '[' ... ']' or
// '(' ... ')', left-to-right, non-nested: the first closing bracket of
// either kind ends the span regardless of which opener started it. A span
// with no closer is left untouched and stripping stops.
func stripBracketedSpans(text string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '[' && c != '(' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexAny(text[i:], "])")
		if end < 0 {
			b.WriteString(text[i:])
			break
		}
		i += end + 1
	}
	return b.String()
}
