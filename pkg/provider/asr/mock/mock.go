// Package mock provides test doubles for the asr package interfaces.
//
// Use Engine to script transcription results and inspect the audio and
// options each call received.
package mock

import (
	"context"
	"sync"

	"github.com/lmikkelsen/parlance/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte

	// Opts is the Options value passed to Transcribe. The Cancelled func is
	// preserved so tests can exercise cooperative cancellation.
	Opts asr.Options
}

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call when TranscribeFunc is nil.
	Result asr.Result

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeFunc, when non-nil, handles every Transcribe call instead of
	// Result/TranscribeErr.
	TranscribeFunc func(ctx context.Context, pcm []byte, opts asr.Options) (asr.Result, error)

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the scripted result.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte, opts asr.Options) (asr.Result, error) {
	e.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{PCM: cp, Opts: opts})
	fn := e.TranscribeFunc
	res := e.Result
	err := e.TranscribeErr
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, opts)
	}
	if err != nil {
		return asr.Result{}, err
	}
	return res, nil
}

// Close records the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// Calls returns a snapshot of the recorded Transcribe calls. Thread-safe.
func (e *Engine) Calls() []TranscribeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TranscribeCall, len(e.TranscribeCalls))
	copy(out, e.TranscribeCalls)
	return out
}

// ResetCalls clears all recorded call history. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = nil
	e.CloseCallCount = 0
}

// Ensure Engine implements asr.Engine at compile time.
var _ asr.Engine = (*Engine)(nil)
