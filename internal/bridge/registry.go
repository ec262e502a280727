package bridge

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ambralabs/voicebridge/internal/config"
	"github.com/ambralabs/voicebridge/internal/observability"
	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

var (
	errMissingEndpoint   = errors.New("no Voice Live endpoint configured; set AZURE_VOICELIVE_ENDPOINT or pass endpoint in start_session")
	errMissingCredential = errors.New("no Voice Live credential configured; set AZURE_VOICELIVE_API_KEY or pass apiKey or entraToken in start_session")
)

// Registry owns every active session, keyed by client id, and is the
// only state shared across sessions. Create, replace, and remove are
// its whole mutation surface.
type Registry struct {
	cfg     config.Config
	dial    Dialer
	funcs   *FunctionRegistry
	metrics *observability.Metrics
	log     *slog.Logger

	// opMu serializes whole start/stop operations so a replace is atomic
	// with respect to concurrent starts; mu only guards the map and may
	// be taken by exiting sessions while opMu is held.
	opMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(cfg config.Config, metrics *observability.Metrics, log *slog.Logger, dial Dialer) *Registry {
	if dial == nil {
		dial = DialVoiceLive
	}
	return &Registry{
		cfg:      cfg,
		dial:     dial,
		funcs:    NewBuiltinRegistry(),
		metrics:  metrics,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// StartSession creates a session for clientID, fully tearing down any
// existing one first: the old upstream connection is released and its
// background task awaited before the new session begins.
func (r *Registry) StartSession(clientID string, cfg protocol.SessionConfig, send Sender) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if old := r.pop(clientID); old != nil {
		r.log.Info("replacing existing session", "client_id", clientID)
		r.metrics.SessionEvents.WithLabelValues("replaced").Inc()
		old.stop()
	}

	vlCfg, err := r.resolveUpstreamConfig(&cfg)
	if err != nil {
		r.log.Error("session start rejected", "client_id", clientID, "error", err)
		send(protocol.SessionError{Type: protocol.TypeSessionError, Error: err.Error()})
		return
	}

	s := newSession(clientID, cfg, vlCfg, sessionDeps{
		dial:            r.dial,
		send:            send,
		funcs:           r.funcs,
		metrics:         r.metrics,
		log:             r.log,
		setupTimeout:    r.cfg.SetupTimeout,
		funcCallTimeout: r.cfg.FunctionCallTimeout,
		onExit:          r.removeIfCurrent,
	})

	r.mu.Lock()
	r.sessions[clientID] = s
	active := len(r.sessions)
	r.mu.Unlock()

	r.metrics.ActiveSessions.Set(float64(active))
	r.metrics.SessionEvents.WithLabelValues("created").Inc()
	r.log.Info("session started", "client_id", clientID)
	s.start()
}

// StopSession tears down and removes the client's session. A missing
// session is a no-op; calling it twice is safe.
func (r *Registry) StopSession(clientID string) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	s := r.pop(clientID)
	if s == nil {
		return
	}
	s.stop()
	r.metrics.SessionEvents.WithLabelValues("ended").Inc()
	r.log.Info("session stopped", "client_id", clientID)
}

// Dispatch routes one parsed client command to the session's handlers.
// Commands for clients without a session are dropped with a warning and
// never raise to the transport layer.
func (r *Registry) Dispatch(clientID string, cmd any) {
	s := r.get(clientID)
	if s == nil {
		if t, ok := protocol.TypeOf(cmd); ok {
			// Audio arrives at high frequency between sessions; keep
			// that warning quiet.
			if t != protocol.TypeAudioChunk {
				r.log.Warn("command for unknown session", "client_id", clientID, "command", t)
			}
		}
		return
	}

	switch msg := cmd.(type) {
	case protocol.AudioChunk:
		s.SendAudio(msg.Data)
	case protocol.SendText:
		s.SendText(msg.Text)
	case protocol.AvatarSDPOffer:
		s.SubmitOffer(msg.ClientSDP)
	case protocol.Interrupt:
		s.Interrupt(ReasonManualInterrupt)
	case protocol.UpdateScene:
		s.UpdateScene(msg.Avatar)
	default:
		if t, ok := protocol.TypeOf(cmd); ok {
			r.log.Warn("unhandled command type", "client_id", clientID, "command", t)
		}
	}
}

// ActiveCount reports the number of registered sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Session returns the live session for clientID, if any.
func (r *Registry) Session(clientID string) *Session {
	return r.get(clientID)
}

// Shutdown tears down every session; used on process exit.
func (r *Registry) Shutdown() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		ids = append(ids, id)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	r.metrics.ActiveSessions.Set(0)
	if len(ids) > 0 {
		r.log.Info("all sessions drained", "clients", strings.Join(ids, ","))
	}
}

func (r *Registry) get(clientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[clientID]
}

func (r *Registry) pop(clientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[clientID]
	delete(r.sessions, clientID)
	return s
}

// removeIfCurrent drops the entry when the session's own task exits
// (fatal upstream error), but never evicts a replacement that has
// already taken the slot.
func (r *Registry) removeIfCurrent(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.clientID]; ok && cur == s {
		delete(r.sessions, s.clientID)
	}
	active := len(r.sessions)
	r.mu.Unlock()
	r.metrics.ActiveSessions.Set(float64(active))
}

// resolveUpstreamConfig merges per-session credentials over the server
// environment and derives the connection model selector.
func (r *Registry) resolveUpstreamConfig(cfg *protocol.SessionConfig) (voicelive.Config, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = r.cfg.VoiceLiveEndpoint
	}
	if endpoint == "" {
		return voicelive.Config{}, errMissingEndpoint
	}
	token := strings.TrimSpace(cfg.EntraToken)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = r.cfg.VoiceLiveAPIKey
	}
	if token == "" && apiKey == "" {
		return voicelive.Config{}, errMissingCredential
	}

	if cfg.Model == "" {
		cfg.Model = r.cfg.DefaultModel
	}
	if cfg.VoiceName == "" {
		cfg.VoiceName = r.cfg.DefaultVoice
	}

	return voicelive.Config{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Token:      token,
		Model:      voicelive.ConnectionModel(cfg.Mode, cfg.Model, cfg.AgentID, cfg.AgentName, cfg.AgentProjectName),
		APIVersion: r.cfg.VoiceLiveAPIVersion,
	}, nil
}
