// Package whisper implements asr.Engine on top of the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once in New and shared across calls; each Transcribe
// creates a fresh whisper context, so concurrent calls do not interfere.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLanguage sets the default language code used when a Transcribe call
// does not specify one. Defaults to auto-detection.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithBeamSize sets the beam search width. Zero keeps the library default.
func WithBeamSize(n int) Option {
	return func(e *Engine) { e.beamSize = n }
}

// WithThreads sets the inference thread count. Zero keeps the library default.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// Engine implements asr.Engine using a locally loaded whisper.cpp model.
type Engine struct {
	model    whisperlib.Model
	language string
	beamSize int
	threads  int

	closeOnce sync.Once
}

// New loads the whisper.cpp model from the given file path.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &Engine{model: model}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Transcribe implements asr.Engine. The cancellation token is polled before
// each 30 s encoder window and again between result segments.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte, opts asr.Options) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if cancelled(opts) {
		return asr.Result{}, asr.ErrCancelled
	}

	samples := audio.PCMToFloat32(pcm)
	if len(samples) == 0 {
		return asr.Result{}, errors.New("whisper: empty audio")
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = e.language
	}
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if opts.WordTimestamps {
		wctx.SetTokenTimestamps(true)
		wctx.SetSplitOnWord(true)
	}
	if opts.InitialPrompt != "" {
		wctx.SetInitialPrompt(opts.InitialPrompt)
	}
	if e.beamSize > 0 {
		wctx.SetBeamSize(e.beamSize)
	}
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}

	// The encoder-begin callback runs once per 30 s audio window; returning
	// false aborts the run without touching in-flight GPU work.
	encoderBegin := func() bool { return !cancelled(opts) }

	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		if cancelled(opts) {
			return asr.Result{}, asr.ErrCancelled
		}
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	result := asr.Result{
		Duration: audio.PCMDuration(len(pcm), audio.TargetRate).Seconds(),
	}

	var parts []string
	for {
		if cancelled(opts) {
			return asr.Result{}, asr.ErrCancelled
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)

		seg := asr.Segment{
			Text:  text,
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
		}
		if opts.WordTimestamps {
			seg.Words = tokensToWords(wctx, segment)
			result.Words = append(result.Words, seg.Words...)
		}
		result.Segments = append(result.Segments, seg)
	}

	result.Text = strings.Join(parts, " ")
	result.Language = lang
	if lang == "auto" {
		result.Language = wctx.DetectedLanguage()
	}
	return result, nil
}

// tokensToWords converts a segment's tokens into word entries, skipping
// special tokens ([_BEG_], timestamps, ...).
func tokensToWords(wctx whisperlib.Context, segment whisperlib.Segment) []asr.Word {
	words := make([]asr.Word, 0, len(segment.Tokens))
	for _, tok := range segment.Tokens {
		if !wctx.IsText(tok) {
			continue
		}
		text := strings.TrimSpace(tok.Text)
		if text == "" {
			continue
		}
		words = append(words, asr.Word{
			Word:        text,
			Start:       tok.Start.Seconds(),
			End:         tok.End.Seconds(),
			Probability: float64(tok.P),
		})
	}
	return words
}

// Close releases the model. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.model != nil {
			err = e.model.Close()
		}
	})
	return err
}

func cancelled(opts asr.Options) bool {
	return opts.Cancelled != nil && opts.Cancelled()
}

var _ asr.Engine = (*Engine)(nil)
