// Package asr defines the Engine interface for speech transcription backends.
//
// An engine is a loaded model (or a remote API client) that turns a finished
// utterance of PCM audio into text with per-word timestamps. Engines are
// synchronous and may take a long time; callers are expected to gate access
// through the job tracker and pass a cooperative cancellation token via
// Options.Cancelled.
//
// Engines must be safe for concurrent use unless documented otherwise.
package asr

import (
	"context"
	"errors"
)

// ErrCancelled is returned when a transcription observes its cancellation
// token between segments and aborts early. It is not an engine failure.
var ErrCancelled = errors.New("asr: transcription cancelled")

// Word is a single recognized word with timing information.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Segment is a contiguous span of recognized speech.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

// Result is the outcome of transcribing one utterance or file.
type Result struct {
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []Segment `json:"segments,omitempty"`
	Words               []Word    `json:"words,omitempty"`
}

// Options controls a single transcription call.
type Options struct {
	// Language is the expected ISO language code. Empty means auto-detect.
	Language string

	// WordTimestamps requests per-word timing in the result. Engines that
	// cannot produce word timings return an empty Words slice.
	WordTimestamps bool

	// InitialPrompt biases decoding towards the given vocabulary or style.
	InitialPrompt string

	// Cancelled is the cooperative cancellation token. When non-nil, engines
	// poll it at natural granularity boundaries (per segment at minimum) and
	// return ErrCancelled once it reports true. Engines never hard-kill
	// in-flight compute.
	Cancelled func() bool
}

// Engine transcribes 16 kHz mono int16 little-endian PCM.
type Engine interface {
	// Transcribe runs the full utterance through the model and returns the
	// recognized text. Returns ErrCancelled when aborted via Options.Cancelled.
	Transcribe(ctx context.Context, pcm []byte, opts Options) (Result, error)

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}
