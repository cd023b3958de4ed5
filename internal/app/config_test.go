package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	req := require.New(t)
	cfg, err := ParseConfig(map[string]string{
		"CLIENT_ORIGIN":   "http://localhost:3000",
		"NEXTAUTH_SECRET": "s3cret",
	})
	req.NoError(err)

	req.Equal(4000, cfg.Port)
	req.Equal("/ws", cfg.WSPath)
	req.Equal("INFO", cfg.LogLevel)
	req.Equal(256, cfg.SendBuffer)
	req.Equal(30, cfg.HandshakeLimit)
	req.Equal(time.Minute, cfg.HandshakeWindow)
	req.Zero(cfg.SnapshotInterval)
	req.Empty(cfg.JournalPath)
	req.Equal(":4000", cfg.Addr())
	req.Equal([]string{"http://localhost:3000"}, cfg.AllowedOrigins())
}

func TestParseConfig_Overrides(t *testing.T) {
	req := require.New(t)
	cfg, err := ParseConfig(map[string]string{
		"CLIENT_ORIGIN":     " https://app.example.com/ , https://admin.example.com,,",
		"AUTH_JWKS_URL":     "https://issuer.example.com/.well-known/jwks.json",
		"HOST":              "127.0.0.1",
		"PORT":              "8081",
		"WS_PATH":           "socket",
		"SEND_BUFFER":       "32",
		"SNAPSHOT_INTERVAL": "30s",
		"HANDSHAKE_LIMIT":   "0",
		"JOURNAL_PATH":      "/tmp/presence.db",
	})
	req.NoError(err)

	req.Equal("127.0.0.1:8081", cfg.Addr())
	req.Equal("/socket", cfg.WSPath)
	req.Equal(32, cfg.SendBuffer)
	req.Equal(30*time.Second, cfg.SnapshotInterval)
	req.Zero(cfg.HandshakeLimit)
	req.Equal([]string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins())
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want error
	}{
		{"missing origin", map[string]string{"NEXTAUTH_SECRET": "x"}, nil},
		{"no key source", map[string]string{"CLIENT_ORIGIN": "*"}, ErrSecretRequired},
		{"blank origin", map[string]string{"CLIENT_ORIGIN": " , ", "NEXTAUTH_SECRET": "x"}, ErrOriginRequired},
		{"bad port", map[string]string{"CLIENT_ORIGIN": "*", "NEXTAUTH_SECRET": "x", "PORT": "70000"}, nil},
		{"zero buffer", map[string]string{"CLIENT_ORIGIN": "*", "NEXTAUTH_SECRET": "x", "SEND_BUFFER": "0"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.vars)
			require.Error(t, err)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/ws", NormalizePath(""))
	require.Equal(t, "/live", NormalizePath("live"))
	require.Equal(t, "/live", NormalizePath("/live"))
}
