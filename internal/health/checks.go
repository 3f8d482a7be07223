package health

import (
	"context"
	"fmt"
	"os"
)

// ModelFile returns a checker that verifies the transcription model file
// exists on disk. Remote engines pass nil-path and are always ready.
func ModelFile(path string) Checker {
	return Checker{
		Name: "model",
		Check: func(_ context.Context) error {
			if path == "" {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("model file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("model file %q is a directory", path)
			}
			return nil
		},
	}
}

// Pinger is anything with a context-aware Ping, such as a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Archive returns a checker that pings the recording archive database.
func Archive(p Pinger) Checker {
	return Checker{
		Name: "archive",
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			return nil
		},
	}
}
