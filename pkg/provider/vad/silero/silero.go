// Package silero implements a neural voice activity detector backed by the
// Silero VAD model running through sherpa-onnx.
//
// The model file (silero_vad.onnx) is loaded once per detector; each detector
// owns an independent sherpa VAD instance so concurrent sessions do not share
// hidden state.
package silero

import (
	"errors"
	"fmt"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/vad"
)

const (
	// minSpeechDuration keeps very short bursts (clicks, pops) from
	// registering as speech. Seconds.
	minSpeechDuration = 0.1

	// minSilenceDuration is sherpa's internal segment-closing hysteresis.
	// The recorder applies its own, much longer, silence windows on top.
	minSilenceDuration = 0.1

	// maxSpeechDuration bounds sherpa's internal segment accumulation.
	maxSpeechDuration = 30.0

	// bufferSeconds sizes sherpa's internal ring buffer.
	bufferSeconds = 10.0
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithNumThreads sets the ONNX Runtime thread count. Defaults to 1.
func WithNumThreads(n int) Option {
	return func(e *Engine) { e.numThreads = n }
}

// Engine creates Silero detectors from a shared model path.
type Engine struct {
	modelPath  string
	numThreads int
}

// New creates an Engine for the Silero VAD model at modelPath.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	e := &Engine{modelPath: modelPath, numThreads: 1}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewDetector implements vad.Engine. Each call constructs a fresh sherpa VAD
// instance with its own hidden state.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sherpaCfg := &sherpa.VadModelConfig{}
	sherpaCfg.SileroVad.Model = e.modelPath
	sherpaCfg.SileroVad.Threshold = probabilityThreshold(cfg.NeuralSensitivity)
	sherpaCfg.SileroVad.MinSilenceDuration = minSilenceDuration
	sherpaCfg.SileroVad.MinSpeechDuration = minSpeechDuration
	sherpaCfg.SileroVad.MaxSpeechDuration = maxSpeechDuration
	sherpaCfg.SileroVad.WindowSize = cfg.FrameSize
	sherpaCfg.SampleRate = cfg.SampleRate
	sherpaCfg.NumThreads = e.numThreads

	inner := sherpa.NewVoiceActivityDetector(sherpaCfg, bufferSeconds)
	if inner == nil {
		return nil, fmt.Errorf("silero: failed to create VAD from model %q", e.modelPath)
	}

	return &detector{
		inner:      inner,
		frameBytes: cfg.FrameSize * 2,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// probabilityThreshold converts the configured sensitivity (higher = more
// speech detected) into the model's probability threshold (higher = less
// speech detected), clamped away from the degenerate ends.
func probabilityThreshold(sensitivity float64) float32 {
	t := 1.0 - sensitivity
	if t < 0.05 {
		t = 0.05
	}
	if t > 0.95 {
		t = 0.95
	}
	return float32(t)
}

// detector wraps one sherpa VAD instance. The sherpa API is not thread-safe,
// so all calls are serialized by a mutex.
type detector struct {
	mu         sync.Mutex
	inner      *sherpa.VoiceActivityDetector
	frameBytes int
	closed     bool
}

func (d *detector) IsVoice(frame []byte) (bool, error) {
	return d.classify(frame)
}

// IsStillVoice applies the same model decision as IsVoice; the dual-stage
// combiner decides whether the neural opinion participates in deactivation.
func (d *detector) IsStillVoice(frame []byte) (bool, error) {
	return d.classify(frame)
}

func (d *detector) classify(frame []byte) (bool, error) {
	if len(frame) != d.frameBytes {
		return false, fmt.Errorf("silero: frame is %d bytes, want %d", len(frame), d.frameBytes)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, errors.New("silero: detector is closed")
	}

	d.inner.AcceptWaveform(audio.PCMToFloat32(frame))
	speech := d.inner.IsSpeech()

	// Drain completed segments so the internal buffer cannot grow without
	// bound; the recorder keeps its own utterance buffer.
	for !d.inner.IsEmpty() {
		d.inner.Pop()
	}

	return speech, nil
}

func (d *detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.inner.Clear()
}

func (d *detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	sherpa.DeleteVoiceActivityDetector(d.inner)
	d.inner = nil
	return nil
}

var _ vad.Detector = (*detector)(nil)
