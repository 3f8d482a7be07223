// Package mock provides a test double for the diarize.Engine interface.
package mock

import (
	"context"
	"sync"

	"github.com/lmikkelsen/parlance/pkg/provider/diarize"
)

// Engine is a mock implementation of diarize.Engine.
type Engine struct {
	mu sync.Mutex

	// Segments is returned by every Diarize call.
	Segments []diarize.SpeakerSegment

	// DiarizeErr, if non-nil, is returned by every Diarize call.
	DiarizeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// DiarizeCallCount is the number of times Diarize was called.
	DiarizeCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Diarize records the call and returns the scripted segments.
func (e *Engine) Diarize(_ context.Context, _ []byte) ([]diarize.SpeakerSegment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DiarizeCallCount++
	if e.DiarizeErr != nil {
		return nil, e.DiarizeErr
	}
	return e.Segments, nil
}

// Close records the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// Ensure Engine implements diarize.Engine at compile time.
var _ diarize.Engine = (*Engine)(nil)
