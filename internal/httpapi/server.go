package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/ambralabs/voicebridge/internal/bridge"
	"github.com/ambralabs/voicebridge/internal/config"
	"github.com/ambralabs/voicebridge/internal/observability"
	"github.com/ambralabs/voicebridge/internal/protocol"
)

const (
	wsReadLimit     = 8 << 20 // audio chunks and SDP payloads are large
	wsReadTimeout   = 120 * time.Second
	wsWriteTimeout  = 10 * time.Second
	outboundBacklog = 256
)

type Server struct {
	cfg      config.Config
	registry *bridge.Registry
	metrics  *observability.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, registry *bridge.Registry, metrics *observability.Metrics, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		log:      log,
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so other websites cannot drive the
				// user's mic session if the bridge is exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/config", s.handleConfig)
	r.Get("/ws", s.handleWS)
	r.Get("/ws/{clientID}", s.handleWS)
	r.Handle("/*", noCache(s.static))

	if s.cfg.AllowAnyOrigin {
		return cors.AllowAll().Handler(r)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.registry.ActiveCount(),
	})
}

// handleConfig tells the frontend which server-side defaults exist so it
// can hide the credential form when the environment already carries
// them. The key itself never leaves the server.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"model":      s.cfg.DefaultModel,
		"voice":      s.cfg.DefaultVoice,
		"endpoint":   s.cfg.VoiceLiveEndpoint,
		"hasApiKey":  s.cfg.VoiceLiveAPIKey != "",
		"apiVersion": s.cfg.VoiceLiveAPIVersion,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(chi.URLParam(r, "clientID"))
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := s.log.With("client_id", clientID)
	log.Info("client connected")
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, outboundBacklog)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Warn("websocket write failed", "error", err)
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	// Session callbacks run on the bridge goroutines; keep websocket
	// writes single-threaded and drop when the outbound queue is
	// saturated rather than block a session.
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("dropped", string(t)).Inc()
				log.Warn("outbound queue full, dropping message", "type", t)
			}
		}
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		cmd, err := protocol.ParseClientCommand(data)
		if err != nil {
			log.Warn("invalid client command", "error", err)
			send(protocol.ErrorMessage{Type: protocol.TypeError, Error: err.Error()})
			continue
		}
		if t, ok := protocol.TypeOf(cmd); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := cmd.(type) {
		case protocol.StartSession:
			s.registry.StartSession(clientID, msg.Config, send)
		case protocol.StopSession:
			s.registry.StopSession(clientID)
		default:
			s.registry.Dispatch(clientID, cmd)
		}
	}

	s.registry.StopSession(clientID)
	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	log.Info("client disconnected")
}

// noCache keeps browsers from serving a stale frontend while the
// protocol evolves.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
