package archive

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreSave(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	rec := Recording{
		SessionID:  "s1",
		ClientName: "alice",
		Source:     "ws",
		Text:       "hello world",
		Language:   "en",
		Duration:   3200 * time.Millisecond,
	}
	if err := store.SaveRecording(context.Background(), rec); err != nil {
		t.Fatalf("SaveRecording: %v", err)
	}

	got := store.Recordings()
	if len(got) != 1 {
		t.Fatalf("recordings = %d, want 1", len(got))
	}
	if got[0].Text != "hello world" || got[0].ClientName != "alice" {
		t.Errorf("recording = %+v", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted")
	}
}

func TestMemoryStoreConcurrent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.SaveRecording(context.Background(), Recording{
				ClientName: "client",
				Source:     "http",
				Text:       "t",
				Duration:   time.Duration(i) * time.Second,
			})
		}()
	}
	wg.Wait()

	if got := len(store.Recordings()); got != 20 {
		t.Errorf("recordings = %d, want 20", got)
	}
}
