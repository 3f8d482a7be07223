// Package archive persists completed transcriptions. The server works fine
// without it; when no store is configured, results are simply not retained.
package archive

import (
	"context"
	"sync"
	"time"
)

// Recording is one archived transcription result.
type Recording struct {
	// SessionID identifies the originating WebSocket session; empty for HTTP
	// file uploads.
	SessionID string

	// ClientName is the authenticated client the work ran for.
	ClientName string

	// Source is "ws" or "http".
	Source string

	// Text is the final transcription.
	Text string

	// Language is the detected or forced language code.
	Language string

	// Duration is the audio length.
	Duration time.Duration

	// CreatedAt is when the transcription completed.
	CreatedAt time.Time
}

// Store persists recordings. Implementations are safe for concurrent use.
type Store interface {
	// SaveRecording persists one recording.
	SaveRecording(ctx context.Context, rec Recording) error

	// Close releases the store's resources.
	Close() error
}

// MemoryStore is an in-memory Store used in tests and when no database is
// configured but retention is still wanted for the process lifetime.
type MemoryStore struct {
	mu   sync.Mutex
	recs []Recording
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveRecording implements Store.
func (s *MemoryStore) SaveRecording(_ context.Context, rec Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.recs = append(s.recs, rec)
	return nil
}

// Recordings returns a snapshot of everything saved so far.
func (s *MemoryStore) Recordings() []Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recording(nil), s.recs...)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
