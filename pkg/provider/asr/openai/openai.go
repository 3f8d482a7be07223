// Package openai implements asr.Engine against the OpenAI audio
// transcription API (or any compatible endpoint via WithBaseURL).
//
// The remote API does not expose per-word timing through this client, so
// results carry text, language, and duration only; Words and Segments stay
// empty. Sessions that need word timestamps should use the native engine.
package openai

import (
	"bytes"
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = "whisper-1"

// Option is a functional option for configuring the Engine.
type Option func(*config)

type config struct {
	baseURL string
	model   string
}

// WithBaseURL overrides the default OpenAI API base URL. Use this to point at
// a self-hosted OpenAI-compatible transcription server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Defaults to DefaultModel.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// Engine implements asr.Engine using the OpenAI API.
type Engine struct {
	client oai.Client
	model  string
}

// New constructs a remote transcription Engine. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai asr: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Engine{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Transcribe implements asr.Engine. The cancellation token is polled before
// and after the single remote call; a remote request cannot be aborted
// mid-segment, so poll granularity here is the whole request.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte, opts asr.Options) (asr.Result, error) {
	if cancelled(opts) {
		return asr.Result{}, asr.ErrCancelled
	}

	wav := audio.EncodeWAV(pcm, audio.TargetRate)

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(e.model),
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	if opts.InitialPrompt != "" {
		params.Prompt = param.NewOpt(opts.InitialPrompt)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Result{}, fmt.Errorf("openai asr: transcribe: %w", err)
	}
	if cancelled(opts) {
		return asr.Result{}, asr.ErrCancelled
	}

	return asr.Result{
		Text:     resp.Text,
		Language: opts.Language,
		Duration: audio.PCMDuration(len(pcm), audio.TargetRate).Seconds(),
	}, nil
}

// Close implements asr.Engine. The remote client holds no local resources.
func (e *Engine) Close() error { return nil }

func cancelled(opts asr.Options) bool {
	return opts.Cancelled != nil && opts.Cancelled()
}

var _ asr.Engine = (*Engine)(nil)
