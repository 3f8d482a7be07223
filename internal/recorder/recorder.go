// Package recorder implements the per-session audio state machine: it ingests
// PCM audio, runs voice activity detection, and produces completed utterance
// buffers ready for transcription.
//
// The recorder is sample-timed rather than wall-clock timed. Every duration
// (pre-roll, post-speech silence, minimum length) is measured by summing frame
// durations, so behaviour is deterministic regardless of scheduling delays.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/vad"
)

// ErrShutdown is returned by WaitUtterance once the recorder has been shut down.
var ErrShutdown = errors.New("recorder: shut down")

// State is the recorder lifecycle state.
type State int32

const (
	// StateInactive means the recorder ignores audio except for pre-roll.
	StateInactive State = iota

	// StateListening means VAD-driven auto-start is armed.
	StateListening

	// StateRecording means frames are being appended to the utterance.
	StateRecording

	// StateTrimming means in-recording silence exceeded the maximum; frames
	// still feed the VAD but are no longer appended.
	StateTrimming

	// StateTranscribing means a finished utterance is being transcribed.
	StateTranscribing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateTrimming:
		return "trimming"
	case StateTranscribing:
		return "transcribing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Owner receives lifecycle events from the recorder. Methods are invoked on
// the recorder's worker goroutine and must not block.
type Owner interface {
	// OnVADStart fires when voice activity first triggers a recording.
	OnVADStart()

	// OnVADStop fires when voice activity is confirmed over.
	OnVADStop()

	// OnRecordingStart fires when an utterance buffer starts accumulating.
	OnRecordingStart()

	// OnRecordingStop fires when an utterance buffer is finalized.
	OnRecordingStop()

	// OnError reports a fault that aborted the current utterance. The
	// recorder resets itself to inactive; the session stays usable.
	OnError(err error)
}

// Utterance is a completed recording delivered via WaitUtterance.
type Utterance struct {
	// PCM is 16 kHz mono int16 LE audio. Nil when Discarded.
	PCM []byte

	// Duration is the sample-timed length of PCM.
	Duration time.Duration

	// Discarded marks a recording below the minimum length. The session
	// should report an empty result without invoking an engine.
	Discarded bool
}

// Config tunes the recorder. Zero-valued fields fall back to defaults.
type Config struct {
	// SampleRate is the working rate in Hz. Default 16000.
	SampleRate int

	// FrameSize is the VAD frame size in samples. Default 512.
	FrameSize int

	// PreRecordingBuffer is how much audio before speech onset is prepended
	// to the utterance. Default 200ms.
	PreRecordingBuffer time.Duration

	// PostSpeechSilence is how much silence ends a VAD-driven utterance.
	// Default 600ms.
	PostSpeechSilence time.Duration

	// MinRecordingLength is the minimum utterance length; shorter recordings
	// are discarded. Default 500ms.
	MinRecordingLength time.Duration

	// MinGap is the refractory period after a recording stops before VAD may
	// trigger a new one. Default 1s.
	MinGap time.Duration

	// MaxContinuousSilence is how much in-recording silence moves a manual
	// recording into trimming mode. Default 5s.
	MaxContinuousSilence time.Duration
}

func (c *Config) sanitize() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.TargetRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 512
	}
	if c.PreRecordingBuffer <= 0 {
		c.PreRecordingBuffer = 200 * time.Millisecond
	}
	if c.PostSpeechSilence <= 0 {
		c.PostSpeechSilence = 600 * time.Millisecond
	}
	if c.MinRecordingLength <= 0 {
		c.MinRecordingLength = 500 * time.Millisecond
	}
	if c.MinGap <= 0 {
		c.MinGap = time.Second
	}
	if c.MaxContinuousSilence <= 0 {
		c.MaxContinuousSilence = 5 * time.Second
	}
}

type commandKind int

const (
	cmdListen commandKind = iota
	cmdStart
	cmdStop
	cmdDisarm
)

// Option is a functional option for configuring the Recorder.
type Option func(*Recorder)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// Recorder converts a PCM stream plus Start/Stop commands into zero or more
// completed utterances while emitting lifecycle events to its Owner.
type Recorder struct {
	cfg   Config
	det   vad.Detector
	owner Owner
	log   *slog.Logger

	frameBytes     int
	postSamples    int64
	minSamples     int64
	gapSamples     int64
	maxSilSamples  int64
	preRollSamples int64

	frames     chan []byte
	cmds       chan commandKind
	utterances chan Utterance

	pendingMu sync.Mutex
	pending   []byte

	state atomic.Int32

	done     chan struct{}
	stopped  chan struct{}
	shutOnce sync.Once

	dropped atomic.Int64

	// Worker-owned fields below; touched only by the run goroutine.
	buf          []byte
	ring         *preRollRing
	processed    int64 // total samples seen
	stoppedAt    int64 // sample clock at last recording stop
	silenceRun   int64 // contiguous trailing silence samples while recording
	autoStop     bool  // VAD-armed mode finalizes on post-speech silence
	vadAnnounced bool
}

// New creates a Recorder and starts its worker goroutine. The detector is
// owned by the recorder from here on and closed on Shutdown.
func New(det vad.Detector, owner Owner, cfg Config, opts ...Option) (*Recorder, error) {
	if det == nil {
		return nil, errors.New("recorder: detector is required")
	}
	if owner == nil {
		return nil, errors.New("recorder: owner is required")
	}
	cfg.sanitize()

	r := &Recorder{
		cfg:        cfg,
		det:        det,
		owner:      owner,
		log:        slog.Default(),
		frameBytes: cfg.FrameSize * 2,
		frames:     make(chan []byte, 256),
		cmds:       make(chan commandKind, 16),
		utterances: make(chan Utterance, 4),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}

	r.postSamples = samplesIn(cfg.PostSpeechSilence, cfg.SampleRate)
	r.minSamples = samplesIn(cfg.MinRecordingLength, cfg.SampleRate)
	r.gapSamples = samplesIn(cfg.MinGap, cfg.SampleRate)
	r.maxSilSamples = samplesIn(cfg.MaxContinuousSilence, cfg.SampleRate)
	r.preRollSamples = samplesIn(cfg.PreRecordingBuffer, cfg.SampleRate)

	ringFrames := int((r.preRollSamples + int64(cfg.FrameSize) - 1) / int64(cfg.FrameSize))
	r.ring = newPreRollRing(ringFrames)
	r.stoppedAt = -r.gapSamples // first trigger is never refractory

	go r.run()
	return r, nil
}

func samplesIn(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	return State(r.state.Load())
}

// FeedAudio accepts a chunk of int16 LE mono PCM at sourceRate. Audio at
// other rates is resampled to the working rate first. Chunks are re-sliced
// into VAD-sized frames; a partial frame is buffered until completed by the
// next chunk. Never blocks the caller; frames are dropped if the worker
// falls too far behind.
func (r *Recorder) FeedAudio(chunk []byte, sourceRate int) {
	select {
	case <-r.done:
		return
	default:
	}
	if len(chunk) == 0 {
		return
	}
	if sourceRate != r.cfg.SampleRate {
		chunk = audio.ResampleMono16(chunk, sourceRate, r.cfg.SampleRate)
	}

	r.pendingMu.Lock()
	r.pending = append(r.pending, chunk...)
	var out [][]byte
	for len(r.pending) >= r.frameBytes {
		frame := make([]byte, r.frameBytes)
		copy(frame, r.pending[:r.frameBytes])
		r.pending = r.pending[r.frameBytes:]
		out = append(out, frame)
	}
	r.pendingMu.Unlock()

	for _, frame := range out {
		select {
		case r.frames <- frame:
		default:
			if n := r.dropped.Add(1); n%100 == 1 {
				r.log.Warn("recorder frame queue full; dropping audio", "dropped_total", n)
			}
		}
	}
}

// Listen arms VAD-driven auto start and stop. Only valid from the inactive
// state; other states log and no-op.
func (r *Recorder) Listen() { r.command(cmdListen) }

// Start forces a recording to begin regardless of VAD, without auto-stop on
// silence. Calls within MinGap of the previous stop log and no-op.
func (r *Recorder) Start() { r.command(cmdStart) }

// Stop finalizes the current recording. Recordings shorter than
// MinRecordingLength are discarded and delivered with Discarded set. A stop
// arriving while the previous utterance is still transcribing is ignored.
func (r *Recorder) Stop() { r.command(cmdStop) }

// Disarm silently returns a listening recorder to inactive without
// delivering an utterance. Active recordings are unaffected.
func (r *Recorder) Disarm() { r.command(cmdDisarm) }

func (r *Recorder) command(c commandKind) {
	select {
	case <-r.done:
	case r.cmds <- c:
	}
}

// WaitUtterance blocks until the next completed utterance is available, the
// context is cancelled, or the recorder shuts down.
func (r *Recorder) WaitUtterance(ctx context.Context) (Utterance, error) {
	select {
	case u := <-r.utterances:
		return u, nil
	case <-ctx.Done():
		return Utterance{}, ctx.Err()
	case <-r.done:
		// Drain an utterance finalized just before shutdown.
		select {
		case u := <-r.utterances:
			return u, nil
		default:
			return Utterance{}, ErrShutdown
		}
	}
}

// MarkTranscribing flags the recorder while its utterance is transcribed.
func (r *Recorder) MarkTranscribing() {
	r.state.CompareAndSwap(int32(StateInactive), int32(StateTranscribing))
}

// ClearTranscribing returns the recorder to inactive after transcription.
func (r *Recorder) ClearTranscribing() {
	r.state.CompareAndSwap(int32(StateTranscribing), int32(StateInactive))
}

// Shutdown stops the worker and unblocks any waiter. Idempotent.
func (r *Recorder) Shutdown() {
	r.shutOnce.Do(func() {
		close(r.done)
		<-r.stopped
		if err := r.det.Close(); err != nil {
			r.log.Warn("closing VAD detector", "err", err)
		}
	})
}

func (r *Recorder) run() {
	defer close(r.stopped)
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("recorder: worker panic: %v", rec)
			r.log.Error("recorder worker panicked", "err", err)
			r.state.Store(int32(StateInactive))
			r.owner.OnError(err)
		}
	}()

	for {
		select {
		case <-r.done:
			return
		case c := <-r.cmds:
			r.handleCommand(c)
		case frame := <-r.frames:
			r.handleFrame(frame)
		}
	}
}

func (r *Recorder) handleCommand(c commandKind) {
	st := r.State()
	switch c {
	case cmdListen:
		if st != StateInactive {
			r.log.Debug("listen ignored", "state", st)
			return
		}
		r.drainStale()
		r.autoStop = true
		r.state.Store(int32(StateListening))

	case cmdStart:
		if st == StateRecording || st == StateTrimming {
			r.log.Debug("start ignored; already recording")
			return
		}
		if r.processed-r.stoppedAt < r.gapSamples {
			r.log.Debug("start ignored; within minimum gap of previous recording")
			return
		}
		r.drainStale()
		r.det.Reset()
		r.autoStop = false
		r.beginRecording(false)

	case cmdStop:
		if st == StateRecording || st == StateTrimming {
			r.finalize()
			r.autoStop = false
			r.state.Store(int32(StateInactive))
			return
		}
		if st == StateTranscribing {
			// The previous utterance is already out of the recorder's hands;
			// stopping now would only manufacture an empty result for a
			// consumer that no longer exists.
			r.log.Debug("stop ignored; transcription in progress")
			return
		}
		r.log.Debug("stop with no active recording", "state", st)
		r.autoStop = false
		r.state.Store(int32(StateInactive))
		r.deliver(Utterance{Discarded: true})

	case cmdDisarm:
		if st != StateListening {
			return
		}
		r.autoStop = false
		r.state.Store(int32(StateInactive))
	}
}

func (r *Recorder) handleFrame(frame []byte) {
	r.processed += int64(r.cfg.FrameSize)

	switch r.State() {
	case StateInactive, StateTranscribing:
		// Keep the pre-roll warm so a manual Start does not clip the onset.
		r.ring.push(frame)

	case StateListening:
		r.ring.push(frame)
		voice, err := r.det.IsVoice(frame)
		if err != nil {
			r.fail(fmt.Errorf("recorder: vad: %w", err))
			return
		}
		if !voice {
			return
		}
		if r.processed-r.stoppedAt < r.gapSamples {
			return
		}
		r.vadAnnounced = true
		r.owner.OnVADStart()
		r.beginRecording(true)

	case StateRecording:
		r.buf = append(r.buf, frame...)
		still, err := r.det.IsStillVoice(frame)
		if err != nil {
			r.fail(fmt.Errorf("recorder: vad: %w", err))
			return
		}
		if still {
			r.silenceRun = 0
			return
		}
		r.silenceRun += int64(r.cfg.FrameSize)
		if r.autoStop && r.silenceRun >= r.postSamples {
			r.finalize()
			if r.autoStop {
				r.state.Store(int32(StateListening))
			} else {
				r.state.Store(int32(StateInactive))
			}
			return
		}
		if !r.autoStop && r.silenceRun >= r.maxSilSamples {
			r.enterTrimming()
		}

	case StateTrimming:
		// Frames feed the VAD but are not appended; renewed speech resumes
		// the recording without the silent stretch.
		voice, err := r.det.IsVoice(frame)
		if err != nil {
			r.fail(fmt.Errorf("recorder: vad: %w", err))
			return
		}
		if voice {
			r.silenceRun = 0
			r.buf = append(r.buf, frame...)
			r.state.Store(int32(StateRecording))
		}
	}
}

// beginRecording promotes the pre-roll ring into a fresh utterance buffer.
func (r *Recorder) beginRecording(fromVAD bool) {
	r.buf = r.ring.concat(r.buf[:0])
	r.ring.clear()
	r.silenceRun = 0
	r.state.Store(int32(StateRecording))
	if !fromVAD {
		r.vadAnnounced = false
	}
	r.owner.OnRecordingStart()
}

// enterTrimming truncates the trailing silence already in the buffer to at
// most PostSpeechSilence and stops appending further frames.
func (r *Recorder) enterTrimming() {
	if excess := r.silenceRun - r.postSamples; excess > 0 {
		r.buf = r.buf[:len(r.buf)-int(excess*2)]
		r.silenceRun = r.postSamples
	}
	r.state.Store(int32(StateTrimming))
}

// finalize closes out the current utterance, emitting stop events and
// delivering the buffer. Trailing silence is dropped so the engine never
// sees a long silent tail.
func (r *Recorder) finalize() {
	if trail := int(r.silenceRun * 2); trail > 0 && trail <= len(r.buf) {
		r.buf = r.buf[:len(r.buf)-trail]
	}

	if r.vadAnnounced {
		r.owner.OnVADStop()
		r.vadAnnounced = false
	}
	r.owner.OnRecordingStop()

	samples := int64(len(r.buf) / 2)
	u := Utterance{Duration: audio.PCMDuration(len(r.buf), r.cfg.SampleRate)}
	if samples < r.minSamples {
		u.Discarded = true
	} else {
		u.PCM = append([]byte(nil), r.buf...)
	}

	r.buf = r.buf[:0]
	r.silenceRun = 0
	r.stoppedAt = r.processed
	r.det.Reset()
	r.deliver(u)
}

// drainStale discards utterances left over from a previous cycle whose
// consumer is gone, so a fresh start never observes an old result.
func (r *Recorder) drainStale() {
	for {
		select {
		case u := <-r.utterances:
			r.log.Debug("discarding stale utterance", "duration", u.Duration, "discarded", u.Discarded)
		default:
			return
		}
	}
}

func (r *Recorder) deliver(u Utterance) {
	select {
	case r.utterances <- u:
	default:
		r.log.Warn("utterance queue full; dropping utterance", "duration", u.Duration)
	}
}

// fail aborts the current utterance, reports the error, and resets to
// inactive. The session stays open.
func (r *Recorder) fail(err error) {
	r.log.Error("recorder fault; utterance aborted", "err", err)
	r.buf = r.buf[:0]
	r.silenceRun = 0
	r.vadAnnounced = false
	r.autoStop = false
	r.stoppedAt = r.processed
	r.det.Reset()
	r.state.Store(int32(StateInactive))
	r.owner.OnError(err)
}
