package internal

import (
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192

	// websocket close frames carry at most 123 bytes of reason text.
	maxCloseReason = 123

	defaultSendBuffer = 256
)

var (
	ErrSessionClosed     = errors.New("session closed")
	ErrSendQueueFull     = errors.New("send queue full")
	ErrNotAuthenticating = errors.New("session is not awaiting authentication")
)

type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session wraps one websocket connection and its buffered send queue.
type Session struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	log    *slog.Logger
	mu     sync.Mutex
	state  SessionState
	userID string
}

func newSession(conn *websocket.Conn, sendBuffer int, log *slog.Logger) *Session {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	id := uuid.NewString()
	return &Session{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		log:   log.With("session", id),
		state: StateConnecting,
	}
}

func (s *Session) ID() string { return s.id }

// UserID is empty until the session is authenticated.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) authenticate(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return ErrNotAuthenticating
	}
	s.state = StateAuthenticated
	s.userID = userID
	s.log = s.log.With("user", userID)
	return nil
}

// markClosed moves the session to Closed. It returns true only once, and only
// for a session that had been authenticated, so the disconnect bookkeeping
// runs exactly once per admitted connection.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	wasAuthenticated := s.state == StateAuthenticated
	s.state = StateClosed
	close(s.done)
	return wasAuthenticated
}

// enqueue never blocks: a closed session or a full queue rejects the frame.
func (s *Session) enqueue(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// reject closes a session that failed authentication, sending reason in the
// close frame.
func (s *Session) reject(reason string) {
	s.markClosed()
	if s.conn == nil {
		return
	}
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, truncateCloseReason(reason))
	_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// truncateCloseReason cuts reason to fit a close frame without splitting a
// UTF-8 sequence; peers reject close payloads that are not valid UTF-8.
func truncateCloseReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	reason = reason[:maxCloseReason]
	for len(reason) > 0 && !utf8.ValidString(reason) {
		reason = reason[:len(reason)-1]
	}
	return reason
}

// closeTransport drops the underlying connection; the read pump notices and
// runs the disconnect path.
func (s *Session) closeTransport() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Session) readPump(hub *Hub) {
	defer func() {
		hub.Disconnect(s)
		s.closeTransport()
	}()
	s.conn.SetReadLimit(maxMsgSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients have nothing to say; reading keeps the deadline and close
		// handshake moving.
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", "error", err)
			}
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeTransport()
	}()
	for {
		select {
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
