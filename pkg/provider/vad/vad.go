// Package vad defines the Detector interface for voice activity detection
// backends.
//
// A detector is a stateful, per-stream classifier over fixed-size PCM frames.
// Two decision methods exist because activation and deactivation want
// different biases: IsVoice gates the start of an utterance and should be
// conservative; IsStillVoice keeps an open utterance alive and should be
// permissive. Backends may implement both identically.
//
// Detectors are deterministic: after Reset, processing an identical frame
// sequence with identical configuration produces identical outputs.
//
// Engines must be safe for concurrent use across different detectors. A single
// Detector must not be shared across goroutines unless the implementation
// explicitly documents thread safety.
package vad

import "fmt"

// Config holds the parameters for a detector. Sensitivities use the scales the
// server exposes in its configuration file.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to the detector. The pipeline operates at 16000.
	SampleRate int

	// FrameSize is the number of int16 samples per frame. Detectors return an
	// error when a frame of a different size is supplied. Default: 512.
	FrameSize int

	// EnergySensitivity selects the aggressiveness of the cheap energy
	// detector. Range: [0, 3]; higher values classify more audio as silence.
	EnergySensitivity int

	// NeuralSensitivity tunes the neural detector. Range: [0.0, 1.0]; higher
	// values classify more audio as speech.
	NeuralSensitivity float64
}

// Validate reports the first configuration problem found, or nil.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate %d is invalid", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("vad: frame size %d is invalid", c.FrameSize)
	}
	if c.EnergySensitivity < 0 || c.EnergySensitivity > 3 {
		return fmt.Errorf("vad: energy sensitivity %d is out of range [0, 3]", c.EnergySensitivity)
	}
	if c.NeuralSensitivity < 0 || c.NeuralSensitivity > 1 {
		return fmt.Errorf("vad: neural sensitivity %.2f is out of range [0, 1]", c.NeuralSensitivity)
	}
	return nil
}

// Detector is a stateful speech classifier for a single audio stream.
type Detector interface {
	// IsVoice reports whether the frame contains speech. Used to decide when
	// an utterance begins. The frame must be little-endian int16 PCM of
	// exactly Config.FrameSize samples.
	IsVoice(frame []byte) (bool, error)

	// IsStillVoice reports whether an already-open utterance should be kept
	// alive by this frame. Implementations may apply looser thresholds than
	// IsVoice.
	IsStillVoice(frame []byte) (bool, error)

	// Reset clears all accumulated state (hysteresis, model hidden states)
	// without closing the detector.
	Reset()

	// Close releases all resources associated with the detector. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for detectors, implemented by each VAD backend.
type Engine interface {
	// NewDetector creates a detector with the given configuration, immediately
	// ready to accept frames. Returns an error if the configuration is invalid
	// or backend resources cannot be allocated.
	NewDetector(cfg Config) (Detector, error)
}
