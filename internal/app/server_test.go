package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"presencehub/internal/storage"
)

func TestRunServer_JournalAndLifecycle(t *testing.T) {
	req := require.New(t)
	secret := "app-test-secret"
	cfg, err := ParseConfig(map[string]string{
		"CLIENT_ORIGIN":   "http://localhost:3000",
		"NEXTAUTH_SECRET": secret,
		"HOST":            "127.0.0.1",
		"PORT":            "0",
		"JOURNAL_PATH":    filepath.Join(t.TempDir(), "journal", "presence.db"),
	})
	req.NoError(err)

	handle, err := RunServer(context.Background(), cfg, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)
	base := "http://" + handle.Addr()

	resp, err := http.Get(base + "/")
	req.NoError(err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	req.Equal("WebSocket server running", string(body))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte(secret))
	req.NoError(err)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+handle.Addr()+"/ws?token="+token, nil)
	req.NoError(err)
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, frame, err := conn.ReadMessage()
	req.NoError(err)
	req.JSONEq(`{"event":"presence:update","data":{"userId":"alice","online":true}}`, string(frame))
	req.NoError(conn.Close())

	type history struct {
		UserID      string `json:"userId"`
		Transitions []struct {
			Online bool `json:"online"`
		} `json:"transitions"`
	}
	req.Eventually(func() bool {
		resp, err := http.Get(base + "/presence/history?user=alice")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var got history
		if json.NewDecoder(resp.Body).Decode(&got) != nil {
			return false
		}
		return len(got.Transitions) == 2 && !got.Transitions[0].Online && got.Transitions[1].Online
	}, 3*time.Second, 20*time.Millisecond)

	resp, err = http.Get(base + "/metrics")
	req.NoError(err)
	var metrics map[string]any
	req.NoError(json.NewDecoder(resp.Body).Decode(&metrics))
	_ = resp.Body.Close()
	req.Contains(metrics, "journal_dropped_total")

	preflight, err := http.NewRequest(http.MethodOptions, base+"/notify-message", nil)
	req.NoError(err)
	preflight.Header.Set("Origin", "http://localhost:3000")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(preflight)
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal("http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(handle.Stop(ctx))
	req.NoError(handle.Wait())
}

func TestRunServer_StopJournalsOfflineForOpenSessions(t *testing.T) {
	req := require.New(t)
	secret := "app-test-secret"
	journalPath := filepath.Join(t.TempDir(), "presence.db")
	cfg, err := ParseConfig(map[string]string{
		"CLIENT_ORIGIN":   "http://localhost:3000",
		"NEXTAUTH_SECRET": secret,
		"HOST":            "127.0.0.1",
		"PORT":            "0",
		"JOURNAL_PATH":    journalPath,
	})
	req.NoError(err)

	handle, err := RunServer(context.Background(), cfg, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte(secret))
	req.NoError(err)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+handle.Addr()+"/ws?token="+token, nil)
	req.NoError(err)
	defer conn.Close()
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err = conn.ReadMessage()
	req.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(handle.Stop(ctx))
	req.NoError(handle.Wait())

	store, err := storage.NewStore(journalPath)
	req.NoError(err)
	defer store.Close()
	transitions, err := store.ListTransitions(context.Background(), "alice", 10)
	req.NoError(err)
	req.Len(transitions, 2)
	req.False(transitions[0].Online)
	req.True(transitions[1].Online)
}

func TestRunServer_RejectsInvalidConfig(t *testing.T) {
	_, err := RunServer(context.Background(), Config{ClientOrigin: "*"}, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.ErrorIs(t, err, ErrSecretRequired)
}
