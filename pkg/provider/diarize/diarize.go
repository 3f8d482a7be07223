// Package diarize defines the Engine interface for speaker diarization
// backends: given a finished recording, label who spoke when.
package diarize

import "context"

// SpeakerSegment is a span of audio attributed to one speaker.
type SpeakerSegment struct {
	// Start and End are offsets into the audio in seconds.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Speaker is a zero-based cluster label, stable within one Diarize call.
	Speaker int `json:"speaker"`
}

// Engine runs speaker diarization over 16 kHz mono int16 PCM.
type Engine interface {
	// Diarize returns speaker segments ordered by start time. An empty slice
	// means no speech was attributed.
	Diarize(ctx context.Context, pcm []byte) ([]SpeakerSegment, error)

	// Close releases the models. Calling Close more than once is safe.
	Close() error
}

// SpeakerFor returns the label of the speaker whose segment overlaps the
// given time range the most, or 0 when nothing overlaps.
func SpeakerFor(start, end float64, segments []SpeakerSegment) int {
	best := 0
	var maxOverlap float64
	for _, seg := range segments {
		lo := max(start, seg.Start)
		hi := min(end, seg.End)
		if overlap := hi - lo; overlap > maxOverlap {
			maxOverlap = overlap
			best = seg.Speaker
		}
	}
	return best
}
