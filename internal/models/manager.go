// Package models owns the heavy model state: the shared file transcription
// engine, per-session realtime engines, and the diarization pipeline. All
// loads are lazy and serialized by one mutex; construction may take minutes
// and callers tolerate that.
package models

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lmikkelsen/parlance/internal/jobs"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
	"github.com/lmikkelsen/parlance/pkg/provider/diarize"
)

// ErrNotLoaded is returned by unload operations when the slot is empty.
var ErrNotLoaded = errors.New("models: not loaded")

// Factory constructs engines on demand. Implementations are expected to be
// slow; the Manager holds its lock across construction.
type Factory interface {
	// NewFileEngine builds the main transcription engine.
	NewFileEngine() (asr.Engine, error)

	// NewLiveEngine builds the low-latency preview engine.
	NewLiveEngine() (asr.Engine, error)

	// NewDiarizationEngine builds the speaker diarization pipeline.
	NewDiarizationEngine() (diarize.Engine, error)

	// DiarizationConfigured reports whether diarization models are configured.
	DiarizationConfigured() bool
}

// Config describes the model names the Manager arbitrates between.
type Config struct {
	// MainModel is the name of the file/main transcription model.
	MainModel string

	// LiveModel is the name of the preview model. When equivalent to
	// MainModel the realtime slot aliases the file engine.
	LiveModel string

	// LiveEnabled turns the realtime slot on.
	LiveEnabled bool

	// Device is reported in Status (cpu, cuda).
	Device string
}

// SlotStatus describes one model slot.
type SlotStatus struct {
	Loaded bool   `json:"loaded"`
	Model  string `json:"model,omitempty"`
}

// RealtimeStatus describes the realtime engine slot.
type RealtimeStatus struct {
	Active         int      `json:"active"`
	SessionIDs     []string `json:"session_ids,omitempty"`
	SharedWithFile bool     `json:"shared_with_file"`
}

// Status is a point-in-time snapshot of the Manager.
type Status struct {
	GPUAvailable  bool           `json:"gpu_available"`
	Device        string         `json:"device"`
	Transcription SlotStatus     `json:"transcription"`
	Diarization   SlotStatus     `json:"diarization"`
	Realtime      RealtimeStatus `json:"realtime"`
	Standalone    int            `json:"standalone_clients"`
	Job           jobs.Status    `json:"job"`
}

// Manager is the singleton owner of model slots.
type Manager struct {
	cfg     Config
	factory Factory
	tracker *jobs.Tracker
	log     *slog.Logger

	mu         sync.Mutex
	file       asr.Engine
	live       asr.Engine
	liveShared bool
	liveRefs   map[string]struct{}
	diar       diarize.Engine
	standalone int
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager. Nothing is loaded until first use.
func NewManager(cfg Config, factory Factory, tracker *jobs.Tracker, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("models: factory is required")
	}
	if tracker == nil {
		return nil, errors.New("models: job tracker is required")
	}
	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		tracker:  tracker,
		log:      slog.Default(),
		liveRefs: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// FileEngine returns the shared file transcription engine, constructing it
// on first call.
func (m *Manager) FileEngine() (asr.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileEngineLocked()
}

func (m *Manager) fileEngineLocked() (asr.Engine, error) {
	if m.file != nil {
		return m.file, nil
	}
	m.log.Info("loading transcription model", "model", m.cfg.MainModel)
	eng, err := m.factory.NewFileEngine()
	if err != nil {
		return nil, fmt.Errorf("models: load file engine: %w", err)
	}
	m.file = eng
	return m.file, nil
}

// GetOrCreateRealtimeEngine returns an engine for driving a session's
// recorder. When the live model is equivalent to the main model, the file
// engine is shared instead of loading the weights twice.
func (m *Manager) GetOrCreateRealtimeEngine(sessionID string) (asr.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live == nil {
		if m.cfg.LiveModel == "" || SameModel(m.cfg.MainModel, m.cfg.LiveModel) {
			eng, err := m.fileEngineLocked()
			if err != nil {
				return nil, err
			}
			m.live = eng
			m.liveShared = true
			m.log.Info("realtime engine aliased to file engine", "model", m.cfg.MainModel)
		} else {
			m.log.Info("loading realtime model", "model", m.cfg.LiveModel)
			eng, err := m.factory.NewLiveEngine()
			if err != nil {
				return nil, fmt.Errorf("models: load realtime engine: %w", err)
			}
			m.live = eng
			m.liveShared = false
		}
	}
	m.liveRefs[sessionID] = struct{}{}
	return m.live, nil
}

// ReleaseRealtimeEngine drops a session's share of the realtime engine. The
// engine is shut down once unreferenced, unless it aliases the file engine.
// Idempotent per session.
func (m *Manager) ReleaseRealtimeEngine(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveRefs[sessionID]; !ok {
		return
	}
	delete(m.liveRefs, sessionID)
	if len(m.liveRefs) > 0 || m.live == nil {
		return
	}
	if !m.liveShared {
		if err := m.live.Close(); err != nil {
			m.log.Warn("closing realtime engine", "err", err)
		}
	}
	m.live = nil
	m.liveShared = false
}

// LoadTranscriptionModel eagerly loads the file engine, reporting progress
// through progressFn when non-nil.
func (m *Manager) LoadTranscriptionModel(progressFn func(stage string)) error {
	report := func(stage string) {
		if progressFn != nil {
			progressFn(stage)
		}
	}
	report("loading")
	if _, err := m.FileEngine(); err != nil {
		report("failed")
		return err
	}
	report("loaded")
	return nil
}

// UnloadTranscriptionModel releases the file engine. Realtime aliases are
// detached as well; non-aliased realtime engines are untouched.
func (m *Manager) UnloadTranscriptionModel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return ErrNotLoaded
	}
	if err := m.file.Close(); err != nil {
		m.log.Warn("closing file engine", "err", err)
	}
	m.file = nil
	if m.liveShared {
		m.live = nil
		m.liveShared = false
		clear(m.liveRefs)
	}
	return nil
}

// DiarizationEngine returns the diarization pipeline, constructing it on
// first call.
func (m *Manager) DiarizationEngine() (diarize.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.diar != nil {
		return m.diar, nil
	}
	eng, err := m.factory.NewDiarizationEngine()
	if err != nil {
		return nil, fmt.Errorf("models: load diarization engine: %w", err)
	}
	m.diar = eng
	return m.diar, nil
}

// UnloadDiarization releases the diarization pipeline.
func (m *Manager) UnloadDiarization() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.diar == nil {
		return ErrNotLoaded
	}
	if err := m.diar.Close(); err != nil {
		m.log.Warn("closing diarization engine", "err", err)
	}
	m.diar = nil
	return nil
}

// DiarizationCapability reports whether diarization can be offered to
// clients, with a machine-readable reason when it cannot.
func (m *Manager) DiarizationCapability() (available bool, reason string) {
	if os.Getenv("HF_TOKEN") == "" {
		return false, "token_missing"
	}
	if !m.factory.DiarizationConfigured() {
		return false, "not_configured"
	}
	return true, ""
}

// NotifyStandaloneConnect records a standalone client connection. The count
// drives warm-keeping of the realtime slot.
func (m *Manager) NotifyStandaloneConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.standalone++
}

// NotifyStandaloneDisconnect records a standalone client departure.
func (m *Manager) NotifyStandaloneDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.standalone > 0 {
		m.standalone--
	}
}

// UnloadAll releases everything in a fixed order: realtime engines first,
// then diarization, then the file engine. Invoked on shutdown.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live != nil {
		if !m.liveShared {
			if err := m.live.Close(); err != nil {
				m.log.Warn("closing realtime engine", "err", err)
			}
		}
		m.live = nil
		m.liveShared = false
		clear(m.liveRefs)
	}
	if m.diar != nil {
		if err := m.diar.Close(); err != nil {
			m.log.Warn("closing diarization engine", "err", err)
		}
		m.diar = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			m.log.Warn("closing file engine", "err", err)
		}
		m.file = nil
	}
}

// Status returns a consistent snapshot of all slots plus the job tracker.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		GPUAvailable: m.cfg.Device == "cuda",
		Device:       m.cfg.Device,
		Transcription: SlotStatus{
			Loaded: m.file != nil,
			Model:  m.cfg.MainModel,
		},
		Diarization: SlotStatus{Loaded: m.diar != nil},
		Realtime: RealtimeStatus{
			Active:         len(m.liveRefs),
			SharedWithFile: m.liveShared,
		},
		Standalone: m.standalone,
		Job:        m.tracker.Status(),
	}
	for id := range m.liveRefs {
		st.Realtime.SessionIDs = append(st.Realtime.SessionIDs, id)
	}
	return st
}
