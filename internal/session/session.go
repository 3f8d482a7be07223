// Package session owns the WebSocket session lifecycle: authentication,
// message dispatch, the per-session recorder, and the start → utterance →
// transcribe → final flow.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lmikkelsen/parlance/internal/archive"
	"github.com/lmikkelsen/parlance/internal/protocol"
	"github.com/lmikkelsen/parlance/internal/recorder"
	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
)

// Session is one authenticated WebSocket connection. It implements
// recorder.Owner; lifecycle events are forwarded to the client as protocol
// messages through a bounded outbound queue drained by a single writer
// goroutine, which keeps per-client delivery in generation order.
type Session struct {
	ID           string
	ClientName   string
	IsAdmin      bool
	ClientType   ClientType
	Capabilities protocol.Capabilities

	mgr  *Manager
	conn *websocket.Conn
	rec  *recorder.Recorder
	log  *slog.Logger

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	started     bool
	recording   bool
	language    string
	jobID       string
	liveEngine  asr.Engine
	previewBuf  []byte
	stopPreview chan struct{}
	abortFlow   chan struct{}
}

func newSession(mgr *Manager, conn *websocket.Conn, id string, ct ClientType, caps protocol.Capabilities, name string, admin bool) *Session {
	s := &Session{
		ID:           id,
		ClientName:   name,
		IsAdmin:      admin,
		ClientType:   ct,
		Capabilities: caps,
		mgr:          mgr,
		conn:         conn,
		log:          mgr.log.With("session_id", id, "client", name),
		outbound:     make(chan []byte, 64),
		done:         make(chan struct{}),
	}
	return s
}

// run drives the read loop until the connection drops or the context ends.
func (s *Session) run(ctx context.Context) {
	s.wg.Add(1)
	go s.writeLoop(ctx)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			s.log.Debug("read loop ended", "err", err)
			return
		}
		switch typ {
		case websocket.MessageText:
			s.handleText(ctx, data)
		case websocket.MessageBinary:
			s.handleBinary(data)
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.outbound:
			if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// send encodes and queues a message. Never blocks; messages to a stalled
// client are dropped with a warning.
func (s *Session) send(msgType string, data any) {
	raw, err := protocol.Encode(msgType, data)
	if err != nil {
		s.log.Error("encoding outbound message", "type", msgType, "err", err)
		return
	}
	select {
	case s.outbound <- raw:
		s.mgr.metrics.RecordWSMessage(context.Background(), "out", msgType)
	case <-s.done:
	default:
		s.log.Warn("outbound queue full; dropping message", "type", msgType)
	}
}

func (s *Session) handleText(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		// Protocol errors are recovered locally; the session stays open.
		s.log.Warn("ignoring malformed client message", "err", err)
		return
	}
	s.mgr.metrics.RecordWSMessage(ctx, "in", msg.Type)

	switch msg.Type {
	case protocol.TypeStart:
		s.handleStart(ctx, msg.Start)
	case protocol.TypeStop:
		s.handleStop()
	case protocol.TypePing:
		s.send(protocol.TypePong, nil)
	case protocol.TypeGetCapabilities:
		s.send(protocol.TypeCapabilities, s.Capabilities)
	case protocol.TypeAuth:
		s.log.Debug("ignoring repeated auth")
	}
}

func (s *Session) handleBinary(frame []byte) {
	meta, pcm, err := protocol.ParseBinaryFrame(frame)
	if err != nil {
		s.log.Warn("ignoring malformed audio frame", "err", err)
		return
	}
	rate := meta.SampleRate
	if rate <= 0 {
		rate = audio.TargetRate
	}
	if rate != audio.TargetRate {
		pcm = audio.ResampleMono16(pcm, rate, audio.TargetRate)
	}
	s.rec.FeedAudio(pcm, audio.TargetRate)

	s.mu.Lock()
	if s.recording && s.Capabilities.SupportsPreview && s.liveEngine != nil {
		s.previewBuf = append(s.previewBuf, pcm...)
	}
	s.mu.Unlock()
}

func (s *Session) handleStart(ctx context.Context, req *protocol.StartRequest) {
	if req == nil {
		req = &protocol.StartRequest{}
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.send(protocol.TypeError, protocol.ErrorMessage{Message: "session already started"})
		return
	}
	s.mu.Unlock()

	ok, jobID, activeUser := s.mgr.tracker.TryStart(s.ClientName)
	s.mgr.metrics.RecordJobAdmission(ctx, ok)
	if !ok {
		s.send(protocol.TypeSessionBusy, protocol.SessionBusy{ActiveUser: activeUser})
		return
	}

	language := req.Language
	if language == "" {
		language = s.mgr.defaultLanguage
	}

	previewEnabled := false
	var live asr.Engine
	if s.Capabilities.SupportsPreview && s.mgr.liveEnabled {
		eng, err := s.mgr.models.GetOrCreateRealtimeEngine(s.ID)
		if err != nil {
			s.log.Warn("live engine unavailable; previews disabled", "err", err)
		} else {
			live = eng
			previewEnabled = true
		}
	}

	stopPreview := make(chan struct{})
	abort := make(chan struct{})
	s.mu.Lock()
	s.started = true
	s.language = language
	s.jobID = jobID
	s.liveEngine = live
	s.previewBuf = nil
	s.stopPreview = stopPreview
	s.abortFlow = abort
	s.mu.Unlock()

	if req.UseVAD {
		s.rec.Listen()
	} else {
		s.rec.Start()
	}
	s.send(protocol.TypeSessionStarted, protocol.SessionStarted{
		VADEnabled:     req.UseVAD,
		PreviewEnabled: previewEnabled,
	})

	s.wg.Add(1)
	go s.utteranceFlow(req.UseVAD, abort)
	if previewEnabled {
		s.wg.Add(1)
		go s.previewLoop(stopPreview)
	}
}

func (s *Session) handleStop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.send(protocol.TypeSessionStopped, nil)
		return
	}
	s.rec.Stop()
}

// utteranceFlow waits for the next completed utterance, transcribes it with
// the shared file engine, and emits session_stopped and final in order. The
// abort channel ends the wait when the start it belongs to is torn down, so
// an abandoned flow never lingers to swallow a later utterance.
func (s *Session) utteranceFlow(useVAD bool, abort <-chan struct{}) {
	defer s.wg.Done()
	defer s.finishJob()

	ctx, cancel := s.flowContext(abort)
	defer cancel()

	u, err := s.rec.WaitUtterance(ctx)
	if err != nil {
		return
	}
	if useVAD {
		s.rec.Disarm()
	}
	s.stopPreviewLoop()

	s.send(protocol.TypeSessionStopped, nil)
	s.mgr.metrics.RecordUtterance(ctx, string(s.ClientType), u.Discarded)

	if u.Discarded {
		s.send(protocol.TypeFinal, protocol.Final{Text: ""})
		return
	}
	s.transcribeFinal(ctx, u)
}

func (s *Session) transcribeFinal(ctx context.Context, u recorder.Utterance) {
	engine, err := s.mgr.models.FileEngine()
	if err != nil {
		s.log.Error("file engine unavailable", "err", err)
		s.send(protocol.TypeError, protocol.ErrorMessage{Message: "transcription engine unavailable"})
		return
	}

	s.mu.Lock()
	language := s.language
	jobID := s.jobID
	s.mu.Unlock()

	s.rec.MarkTranscribing()
	defer s.rec.ClearTranscribing()

	start := time.Now()
	res, err := engine.Transcribe(ctx, u.PCM, asr.Options{
		Language:       language,
		WordTimestamps: true,
		Cancelled:      s.mgr.tracker.CancelToken(jobID),
	})
	s.mgr.metrics.RecordTranscription(ctx, s.mgr.engineName, "ws", time.Since(start).Seconds())

	switch {
	case errors.Is(err, asr.ErrCancelled):
		s.log.Info("transcription cancelled", "job_id", jobID)
		s.send(protocol.TypeError, protocol.ErrorMessage{Message: "transcription cancelled"})
		return
	case err != nil:
		s.log.Error("transcription failed", "job_id", jobID, "err", err)
		s.send(protocol.TypeError, protocol.ErrorMessage{Message: "transcription failed"})
		return
	}

	s.send(protocol.TypeFinal, protocol.Final{
		Text:     res.Text,
		Words:    res.Words,
		Language: res.Language,
		Duration: u.Duration.Seconds(),
	})

	if s.mgr.archive != nil {
		err := s.mgr.archive.SaveRecording(ctx, archive.Recording{
			SessionID:  s.ID,
			ClientName: s.ClientName,
			Source:     "ws",
			Text:       res.Text,
			Language:   res.Language,
			Duration:   u.Duration,
		})
		if err != nil {
			s.log.Warn("archiving recording", "err", err)
		}
	}
}

// previewLoop periodically transcribes the in-progress audio with the live
// engine and emits best-effort preview messages. It stops before the final
// for the same utterance is produced, so previews never trail it.
func (s *Session) previewLoop(stop chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := contextFromDone(s.done)
	defer cancel()

	ticker := time.NewTicker(s.mgr.previewInterval)
	defer ticker.Stop()

	// Decoding is only worth it once enough fresh audio arrived.
	minNew := int(s.mgr.previewMinNew.Seconds() * audio.TargetRate * 2)

	var lastLen int
	for {
		select {
		case <-stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		recording := s.recording
		buf := s.previewBuf
		engine := s.liveEngine
		language := s.language
		s.mu.Unlock()

		if !recording || engine == nil || len(buf)-lastLen < minNew || len(buf) < audio.TargetRate {
			continue
		}
		lastLen = len(buf)

		res, err := engine.Transcribe(ctx, buf, asr.Options{Language: language})
		if err != nil {
			s.log.Debug("preview transcription failed", "err", err)
			continue
		}
		select {
		case <-stop:
			// The utterance completed while we were decoding; the final is
			// on its way and this preview would arrive out of order.
			return
		default:
			s.send(protocol.TypePreview, protocol.Preview{Text: res.Text})
		}
	}
}

// stopPreviewLoop ends the preview goroutine of the current start, once.
func (s *Session) stopPreviewLoop() {
	s.mu.Lock()
	stop := s.stopPreview
	s.stopPreview = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// finishJob tears down the current start: the preview loop, a waiting
// utterance flow, and the admission slot. Each is released once.
func (s *Session) finishJob() {
	s.stopPreviewLoop()

	s.mu.Lock()
	jobID := s.jobID
	abort := s.abortFlow
	s.jobID = ""
	s.started = false
	s.liveEngine = nil
	s.previewBuf = nil
	s.abortFlow = nil
	s.mu.Unlock()

	if abort != nil {
		close(abort)
	}
	if jobID != "" {
		s.mgr.tracker.End(jobID)
	}
}

// close tears the session down. Safe to call from any goroutine, repeatedly.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.rec.Shutdown()
		s.finishJob()
		s.mgr.models.ReleaseRealtimeEngine(s.ID)
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
}

// --- recorder.Owner ---

// OnVADStart implements recorder.Owner.
func (s *Session) OnVADStart() {
	if s.Capabilities.SupportsVADEvents {
		s.send(protocol.TypeVADStart, nil)
	}
}

// OnVADStop implements recorder.Owner.
func (s *Session) OnVADStop() {
	if s.Capabilities.SupportsVADEvents {
		s.send(protocol.TypeVADStop, nil)
	}
}

// OnRecordingStart implements recorder.Owner.
func (s *Session) OnRecordingStart() {
	s.mu.Lock()
	s.recording = true
	s.mu.Unlock()
	if s.Capabilities.SupportsVADEvents {
		s.send(protocol.TypeVADRecordingStart, nil)
	}
}

// OnRecordingStop implements recorder.Owner.
func (s *Session) OnRecordingStop() {
	s.mu.Lock()
	s.recording = false
	s.mu.Unlock()
	if s.Capabilities.SupportsVADEvents {
		s.send(protocol.TypeVADRecordingStop, nil)
	}
}

// OnError implements recorder.Owner. Recording faults are terminal for the
// current utterance only; the job is released and the session stays open.
func (s *Session) OnError(err error) {
	s.log.Error("recorder fault", "err", err)
	s.send(protocol.TypeError, protocol.ErrorMessage{Message: "recording failed: " + err.Error()})
	s.finishJob()
}

var _ recorder.Owner = (*Session)(nil)

// contextFromDone derives a context cancelled when done closes.
func contextFromDone(done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// flowContext derives a context cancelled when the session closes or the
// current start is aborted.
func (s *Session) flowContext(abort <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.done:
		case <-abort:
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}
