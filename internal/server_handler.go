package internal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"presencehub/internal/auth"
	"presencehub/internal/storage"
)

// TokenVerifier resolves a handshake token to the user it was issued for.
type TokenVerifier interface {
	Authenticate(token string) (string, error)
}

// HistoryReader serves the presence journal to the history endpoint.
type HistoryReader interface {
	ListTransitions(ctx context.Context, userID string, limit int) ([]storage.Transition, error)
}

type ServerOptions struct {
	// AllowedOrigins lists the browser origins allowed to open a websocket.
	// "*" allows any origin. Requests without an Origin header are accepted.
	AllowedOrigins  []string
	SendBuffer      int
	HandshakeLimit  int
	HandshakeWindow time.Duration
	History         HistoryReader
}

// Server exposes the hub over HTTP: the websocket endpoint, the relay
// ingress and the read-only presence queries.
type Server struct {
	hub        *Hub
	verifier   TokenVerifier
	metrics    *Metrics
	log        *slog.Logger
	limiter    *RateLimiter
	history    HistoryReader
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewServer(hub *Hub, verifier TokenVerifier, metrics *Metrics, log *slog.Logger, opts ServerOptions) *Server {
	s := &Server{
		hub:        hub,
		verifier:   verifier,
		metrics:    metrics,
		log:        log,
		limiter:    NewRateLimiter(opts.HandshakeLimit, opts.HandshakeWindow),
		history:    opts.History,
		sendBuffer: opts.SendBuffer,
	}
	allowAny := lo.Contains(opts.AllowedOrigins, "*")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowAny || lo.Contains(opts.AllowedOrigins, origin)
		},
	}
	return s
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// ServeWS upgrades the request and authenticates the token it carried. A
// refused token still gets an upgraded socket so the client can read the
// reason from the close frame.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		s.metrics.IncThrottled()
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	token := tokenFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	session := newSession(conn, s.sendBuffer, s.log)

	userID, err := s.verifier.Authenticate(token)
	if err != nil {
		s.metrics.IncAuthFailure()
		session.log.Info("handshake refused", "remote", r.RemoteAddr, "error", err)
		session.reject(auth.CloseReason(err))
		return
	}

	go session.writePump()
	if err := s.hub.Connect(session, userID); err != nil {
		if errors.Is(err, ErrHubClosed) {
			session.log.Info("session refused during shutdown", "user", userID)
		} else {
			s.log.Error("admit session failed", "error", err)
		}
		session.markClosed()
		session.closeTransport()
		return
	}
	go session.readPump(s.hub)
}

// tokenFromRequest prefers the token query parameter and falls back to an
// Authorization bearer header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
