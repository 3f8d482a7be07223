// Package sherpa implements diarize.Engine using sherpa-onnx speaker
// diarization: a pyannote segmentation model plus a speaker embedding model
// with fast clustering.
package sherpa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/diarize"
)

// Option is a functional option for configuring the Engine.
type Option func(*config)

type config struct {
	numThreads          int
	clusteringThreshold float32
	provider            string
}

// WithNumThreads sets the ONNX Runtime thread count. Defaults to 2.
func WithNumThreads(n int) Option {
	return func(c *config) { c.numThreads = n }
}

// WithClusteringThreshold sets the speaker clustering threshold in (0, 1).
// Lower values split more aggressively into distinct speakers. Defaults to 0.5.
func WithClusteringThreshold(t float32) Option {
	return func(c *config) { c.clusteringThreshold = t }
}

// WithProvider selects the ONNX execution provider (cpu, cuda, coreml).
// Defaults to cpu.
func WithProvider(p string) Option {
	return func(c *config) { c.provider = p }
}

// Engine implements diarize.Engine. The sherpa diarizer is not thread-safe,
// so Diarize calls are serialized by a mutex; the job tracker already keeps
// transcription work exclusive, so contention here is rare.
type Engine struct {
	mu     sync.Mutex
	inner  *sherpa.OfflineSpeakerDiarization
	closed bool
}

// New loads the segmentation and embedding models and constructs the
// diarization pipeline. Both paths must exist on disk.
func New(segmentationModel, embeddingModel string, opts ...Option) (*Engine, error) {
	if _, err := os.Stat(segmentationModel); err != nil {
		return nil, fmt.Errorf("diarize: segmentation model: %w", err)
	}
	if _, err := os.Stat(embeddingModel); err != nil {
		return nil, fmt.Errorf("diarize: embedding model: %w", err)
	}

	cfg := &config{
		numThreads:          2,
		clusteringThreshold: 0.5,
		provider:            "cpu",
	}
	for _, o := range opts {
		o(cfg)
	}

	sherpaCfg := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: segmentationModel,
			},
			NumThreads: cfg.numThreads,
			Provider:   cfg.provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      embeddingModel,
			NumThreads: cfg.numThreads,
			Provider:   cfg.provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1, // infer the speaker count
			Threshold:   cfg.clusteringThreshold,
		},
		MinDurationOn:  0.3,
		MinDurationOff: 0.5,
	}

	inner := sherpa.NewOfflineSpeakerDiarization(sherpaCfg)
	if inner == nil {
		return nil, fmt.Errorf("diarize: failed to create sherpa diarizer (provider %s)", cfg.provider)
	}
	return &Engine{inner: inner}, nil
}

// Diarize implements diarize.Engine.
func (e *Engine) Diarize(ctx context.Context, pcm []byte) ([]diarize.SpeakerSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("diarize: context already cancelled: %w", err)
	}
	samples := audio.PCMToFloat32(pcm)
	if len(samples) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("diarize: engine is closed")
	}

	segments := e.inner.Process(samples)
	out := make([]diarize.SpeakerSegment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, diarize.SpeakerSegment{
			Start:   float64(seg.Start),
			End:     float64(seg.End),
			Speaker: seg.Speaker,
		})
	}
	return out, nil
}

// Close releases the models. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	sherpa.DeleteOfflineSpeakerDiarization(e.inner)
	e.inner = nil
	return nil
}

var _ diarize.Engine = (*Engine)(nil)
