package internal

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestSession_StateMachine(t *testing.T) {
	req := require.New(t)
	session := newTestSession(t, 2)
	req.Equal(StateConnecting, session.State())
	req.Empty(session.UserID())
	req.NotEmpty(session.ID())

	req.NoError(session.authenticate("alice"))
	req.Equal(StateAuthenticated, session.State())
	req.Equal("alice", session.UserID())
	req.ErrorIs(session.authenticate("bob"), ErrNotAuthenticating)

	req.True(session.markClosed())
	req.False(session.markClosed())
	req.Equal(StateClosed, session.State())
	req.ErrorIs(session.authenticate("alice"), ErrNotAuthenticating)
}

func TestSession_ClosingUnauthenticatedReportsFalse(t *testing.T) {
	session := newTestSession(t, 2)
	require.False(t, session.markClosed())
	require.Equal(t, StateClosed, session.State())
}

func TestSession_EnqueueNeverBlocks(t *testing.T) {
	req := require.New(t)
	session := newTestSession(t, 1)

	req.NoError(session.enqueue([]byte("one")))
	req.ErrorIs(session.enqueue([]byte("two")), ErrSendQueueFull)

	session.markClosed()
	req.ErrorIs(session.enqueue([]byte("three")), ErrSessionClosed)
}

func TestSession_DefaultBuffer(t *testing.T) {
	session := newTestSession(t, 0)
	require.Equal(t, defaultSendBuffer, cap(session.send))
}

func TestSessionState_String(t *testing.T) {
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "authenticated", StateAuthenticated.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "unknown", SessionState(42).String())
}

func TestTruncateCloseReason(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"short", "Invalid token: expired", "Invalid token: expired"},
		{"ascii at limit", strings.Repeat("a", maxCloseReason), strings.Repeat("a", maxCloseReason)},
		{"ascii over limit", strings.Repeat("a", maxCloseReason+5), strings.Repeat("a", maxCloseReason)},
		// 122 bytes then a 3-byte rune straddling the limit
		{"rune across limit", strings.Repeat("a", maxCloseReason-1) + "€tail", strings.Repeat("a", maxCloseReason-1)},
		{"all multibyte", strings.Repeat("é", 100), strings.Repeat("é", maxCloseReason/2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateCloseReason(tt.reason)
			require.Equal(t, tt.want, got)
			require.True(t, utf8.ValidString(got))
			require.LessOrEqual(t, len(got), maxCloseReason)
		})
	}
}

func TestSession_RejectKeepsMultibyteReasonReadable(t *testing.T) {
	req := require.New(t)
	reason := "Invalid token: " + strings.Repeat("ü", 60)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		newSession(conn, 1, logs.GetLoggerFromLevel(slog.LevelDebug)).reject(reason)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	req.NoError(err)
	defer conn.Close()
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	req.True(errors.As(err, &closeErr), "got %v", err)
	req.Equal(websocket.ClosePolicyViolation, closeErr.Code)
	req.Equal(truncateCloseReason(reason), closeErr.Text)
	req.True(strings.HasPrefix(closeErr.Text, "Invalid token: ü"))
}
