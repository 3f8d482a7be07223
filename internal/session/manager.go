package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lmikkelsen/parlance/internal/archive"
	"github.com/lmikkelsen/parlance/internal/auth"
	"github.com/lmikkelsen/parlance/internal/jobs"
	"github.com/lmikkelsen/parlance/internal/models"
	"github.com/lmikkelsen/parlance/internal/observe"
	"github.com/lmikkelsen/parlance/internal/protocol"
	"github.com/lmikkelsen/parlance/internal/recorder"
	"github.com/lmikkelsen/parlance/pkg/provider/vad"
)

const defaultAuthTimeout = 10 * time.Second

const (
	defaultPreviewInterval = time.Second
	defaultPreviewMinNew   = 150 * time.Millisecond
)

// DetectorFactory creates a fresh VAD detector for each session.
type DetectorFactory func() (vad.Detector, error)

// Manager accepts WebSocket connections, authenticates them, and runs one
// Session per connection. Each session gets its own recorder and detector;
// the transcription engines and the job slot are shared through the model
// manager and the tracker.
type Manager struct {
	store       *auth.Store
	models      *models.Manager
	tracker     *jobs.Tracker
	archive     archive.Store
	metrics     *observe.Metrics
	log         *slog.Logger
	newDetector DetectorFactory

	recCfg          recorder.Config
	defaultLanguage string
	liveEnabled     bool
	engineName      string
	authTimeout     time.Duration
	previewInterval time.Duration
	previewMinNew   time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerConfig carries the session manager's construction parameters.
type ManagerConfig struct {
	Store       *auth.Store
	Models      *models.Manager
	Tracker     *jobs.Tracker
	Archive     archive.Store // nil disables archiving
	NewDetector DetectorFactory

	Recorder        recorder.Config
	DefaultLanguage string
	LiveEnabled     bool
	EngineName      string

	// PreviewInterval is the cadence of live preview decodes. Zero uses the
	// default of one second.
	PreviewInterval time.Duration

	// PreviewMinNew is the minimum amount of fresh audio that justifies a
	// new preview decode. Zero uses the default of 150 ms.
	PreviewMinNew time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithAuthTimeout overrides how long a fresh connection may take to send its
// auth message before the server hangs up.
func WithAuthTimeout(d time.Duration) Option {
	return func(m *Manager) { m.authTimeout = d }
}

// WithPreviewInterval overrides the live preview cadence.
func WithPreviewInterval(d time.Duration) Option {
	return func(m *Manager) { m.previewInterval = d }
}

// NewManager builds a session manager.
func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	m := &Manager{
		store:           cfg.Store,
		models:          cfg.Models,
		tracker:         cfg.Tracker,
		archive:         cfg.Archive,
		newDetector:     cfg.NewDetector,
		recCfg:          cfg.Recorder,
		defaultLanguage: cfg.DefaultLanguage,
		liveEnabled:     cfg.LiveEnabled,
		engineName:      cfg.EngineName,
		authTimeout:     defaultAuthTimeout,
		previewInterval: cfg.PreviewInterval,
		previewMinNew:   cfg.PreviewMinNew,
		sessions:        map[string]*Session{},
	}
	if m.previewInterval <= 0 {
		m.previewInterval = defaultPreviewInterval
	}
	if m.previewMinNew <= 0 {
		m.previewMinNew = defaultPreviewMinNew
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// HandleWS upgrades the request and runs the session to completion.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		m.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx := r.Context()
	clientType := DetectClientType(r)

	identity, ok := m.authenticate(ctx, conn, r.RemoteAddr)
	if !ok {
		return
	}

	diarAvailable, diarReason := m.models.DiarizationCapability()
	caps := CapabilitiesFor(clientType, diarAvailable, diarReason)

	det, err := m.newDetector()
	if err != nil {
		m.log.Error("creating VAD detector", "err", err)
		conn.Close(websocket.StatusInternalError, "voice detector unavailable")
		return
	}

	id := uuid.NewString()
	sess := newSession(m, conn, id, clientType, caps, identity.ClientName, identity.IsAdmin)

	rec, err := recorder.New(det, sess, m.recCfg)
	if err != nil {
		m.log.Error("creating recorder", "err", err)
		det.Close()
		conn.Close(websocket.StatusInternalError, "recorder unavailable")
		return
	}
	sess.rec = rec

	m.register(sess)
	defer m.unregister(sess)

	sess.send(protocol.TypeAuthOK, protocol.AuthOK{
		ClientName:   identity.ClientName,
		ClientType:   string(clientType),
		Capabilities: caps,
	})
	m.log.Info("session opened",
		"session_id", id, "client", identity.ClientName, "client_type", clientType)

	sess.run(ctx)
	sess.close()
	m.log.Info("session closed", "session_id", id, "client", identity.ClientName)
}

// authenticate reads the first message, which must be an auth request arriving
// within the auth timeout. Loopback connections skip token validation.
func (m *Manager) authenticate(ctx context.Context, conn *websocket.Conn, remoteAddr string) (auth.Identity, bool) {
	authCtx, cancel := context.WithTimeout(ctx, m.authTimeout)
	defer cancel()

	typ, data, err := conn.Read(authCtx)
	if err != nil {
		m.log.Debug("connection dropped before auth", "remote", remoteAddr, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "authentication timeout")
		return auth.Identity{}, false
	}
	if typ != websocket.MessageText {
		m.rejectAuth(ctx, conn, "expected auth message")
		return auth.Identity{}, false
	}
	msg, err := protocol.DecodeClient(data)
	if err != nil || msg.Type != protocol.TypeAuth {
		m.rejectAuth(ctx, conn, "expected auth message")
		return auth.Identity{}, false
	}

	if auth.IsLocalhost(remoteAddr) {
		return auth.LocalhostIdentity(), true
	}

	var token string
	if msg.Auth != nil {
		token = msg.Auth.Token
	}
	identity, err := m.store.Authenticate(token)
	if err != nil {
		m.log.Warn("authentication failed", "remote", remoteAddr)
		m.rejectAuth(ctx, conn, "invalid token")
		return auth.Identity{}, false
	}
	return identity, true
}

func (m *Manager) rejectAuth(ctx context.Context, conn *websocket.Conn, reason string) {
	if raw, err := protocol.Encode(protocol.TypeAuthFail, protocol.AuthFail{Message: reason}); err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = conn.Write(writeCtx, websocket.MessageText, raw)
		cancel()
	}
	conn.Close(websocket.StatusPolicyViolation, reason)
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1)
	if s.ClientType == ClientStandalone {
		m.models.NotifyStandaloneConnect()
	}
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), -1)
	if s.ClientType == ClientStandalone {
		m.models.NotifyStandaloneDisconnect()
	}
}

// SessionIDs returns the IDs of the currently connected sessions.
func (m *Manager) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll tears down every live session, used during server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.close()
	}
}
