// Package jobs provides the process-wide admission controller for
// transcription work. At most one transcription job is active at any instant;
// everything else is turned away with the name of the user holding the slot.
//
// Cancellation is cooperative: Cancel only raises a flag, and the running
// engine observes it at its next poll point. Nothing is hard-killed.
package jobs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Job is the single active transcription job.
type Job struct {
	// ID is an opaque unique identifier.
	ID string

	// User identifies the client the job was started for.
	User string

	// StartedAt is when the slot was acquired.
	StartedAt time.Time

	cancelled atomic.Bool
}

// Status is a point-in-time snapshot of the tracker.
type Status struct {
	Busy            bool      `json:"busy"`
	User            string    `json:"user,omitempty"`
	JobID           string    `json:"job_id,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`
	StartedAt       time.Time `json:"started_at,omitzero"`
}

// Tracker is the admission controller. The zero value is ready to use.
type Tracker struct {
	mu  sync.Mutex
	job *Job
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// TryStart attempts to acquire the job slot for user. When the slot is free
// it creates a job and returns (true, jobID, ""). When busy it returns
// (false, "", activeUser) and leaves the active job untouched.
func (t *Tracker) TryStart(user string) (ok bool, jobID string, activeUser string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job != nil {
		return false, "", t.job.User
	}
	t.job = &Job{
		ID:        uuid.NewString(),
		User:      user,
		StartedAt: time.Now(),
	}
	return true, t.job.ID, ""
}

// End releases the slot if jobID matches the active job. A stale End from a
// previously cancelled or already-ended job is a silent no-op returning false.
func (t *Tracker) End(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil || t.job.ID != jobID {
		return false
	}
	t.job = nil
	return true
}

// Cancel raises the cancellation flag on the active job and returns its user.
// Returns (false, "") when no job is active. The slot stays occupied until
// the owner calls End.
func (t *Tracker) Cancel() (ok bool, cancelledUser string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return false, ""
	}
	t.job.cancelled.Store(true)
	return true, t.job.User
}

// IsCancelled reports whether the active job has been asked to stop.
// Transcription code polls this between segments to abort cooperatively.
// Returns false when no job is active.
func (t *Tracker) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job != nil && t.job.cancelled.Load()
}

// CancelToken returns a poll function bound to the given job. It keeps
// reporting true after the job has ended, so a slow engine observing a stale
// token still stops.
func (t *Tracker) CancelToken(jobID string) func() bool {
	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.job == nil || t.job.ID != jobID {
			// The job is gone; whatever is still running should stop.
			return true
		}
		return t.job.cancelled.Load()
	}
}

// Status returns a snapshot of the tracker state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return Status{}
	}
	return Status{
		Busy:            true,
		User:            t.job.User,
		JobID:           t.job.ID,
		CancelRequested: t.job.cancelled.Load(),
		StartedAt:       t.job.StartedAt,
	}
}
