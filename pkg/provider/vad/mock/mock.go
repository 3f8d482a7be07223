// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that detectors are created with the expected Config.
// Use Detector to script speech decisions and inspect the frames that were
// submitted for classification.
//
// Example:
//
//	det := &mock.Detector{VoiceResults: []bool{false, true, true}}
//	eng := &mock.Engine{Detector: det}
//	d, _ := eng.NewDetector(cfg)
package mock

import (
	"sync"

	"github.com/lmikkelsen/parlance/pkg/provider/vad"
)

// NewDetectorCall records a single invocation of Engine.NewDetector.
type NewDetectorCall struct {
	// Cfg is the Config passed to NewDetector.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Detector is returned by NewDetector. If nil, NewDetector returns a new
	// default Detector.
	Detector vad.Detector

	// NewDetectorErr, if non-nil, is returned as the error from NewDetector.
	NewDetectorErr error

	// NewDetectorCalls records every call to NewDetector in order.
	NewDetectorCalls []NewDetectorCall
}

// NewDetector records the call and returns Detector, NewDetectorErr.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewDetectorCalls = append(e.NewDetectorCalls, NewDetectorCall{Cfg: cfg})
	if e.NewDetectorErr != nil {
		return nil, e.NewDetectorErr
	}
	if e.Detector != nil {
		return e.Detector, nil
	}
	return &Detector{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Detector is a mock implementation of vad.Detector. Decisions are taken from
// VoiceFunc when set, otherwise consumed one per call from VoiceResults (the
// last value sticks once the slice is exhausted), otherwise DefaultVoice.
type Detector struct {
	mu sync.Mutex

	// VoiceFunc, when non-nil, decides every IsVoice/IsStillVoice call. It
	// receives the zero-based index of the call across both methods.
	VoiceFunc func(call int, frame []byte) bool

	// VoiceResults is a script of decisions consumed in order.
	VoiceResults []bool

	// DefaultVoice is returned when no script applies.
	DefaultVoice bool

	// Err, if non-nil, is returned by every IsVoice/IsStillVoice call.
	Err error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Frames records a copy of every frame passed to IsVoice/IsStillVoice.
	Frames [][]byte

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	calls int
}

func (d *Detector) decide(frame []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.Frames = append(d.Frames, cp)
	call := d.calls
	d.calls++

	if d.Err != nil {
		return false, d.Err
	}
	if d.VoiceFunc != nil {
		return d.VoiceFunc(call, cp), nil
	}
	if len(d.VoiceResults) > 0 {
		idx := call
		if idx >= len(d.VoiceResults) {
			idx = len(d.VoiceResults) - 1
		}
		return d.VoiceResults[idx], nil
	}
	return d.DefaultVoice, nil
}

// IsVoice records the call and returns the next scripted decision.
func (d *Detector) IsVoice(frame []byte) (bool, error) { return d.decide(frame) }

// IsStillVoice records the call and returns the next scripted decision.
func (d *Detector) IsStillVoice(frame []byte) (bool, error) { return d.decide(frame) }

// Reset records the call by incrementing ResetCallCount.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (d *Detector) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Frames = nil
	d.ResetCallCount = 0
	d.CloseCallCount = 0
	d.calls = 0
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
