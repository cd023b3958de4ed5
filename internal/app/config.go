package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

var (
	// ErrSecretRequired is returned when neither a shared secret nor a JWKS
	// endpoint is configured.
	ErrSecretRequired = errors.New("NEXTAUTH_SECRET or AUTH_JWKS_URL is required")
	ErrOriginRequired = errors.New("CLIENT_ORIGIN must list at least one origin")
)

// Config defines how the presence server runs. It is read from the
// environment, optionally seeded from a .env file.
type Config struct {
	ClientOrigin     string        `env:"CLIENT_ORIGIN,required=true"`
	Secret           string        `env:"NEXTAUTH_SECRET"`
	JWKSURL          string        `env:"AUTH_JWKS_URL"`
	Host             string        `env:"HOST"`
	Port             int           `env:"PORT,default=4000"`
	WSPath           string        `env:"WS_PATH,default=/ws"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
	SendBuffer       int           `env:"SEND_BUFFER,default=256"`
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL,default=0s"`
	HandshakeLimit   int           `env:"HANDSHAKE_LIMIT,default=30"`
	HandshakeWindow  time.Duration `env:"HANDSHAKE_WINDOW,default=1m"`
	JournalPath      string        `env:"JOURNAL_PATH"`
}

// WatchConfig defines the parameters the terminal watch client needs.
type WatchConfig struct {
	ServerURL string
	Path      string
	Token     string
}

// LoadConfig reads the configuration from the process environment. A .env
// file in the working directory is loaded first when present; variables
// already set in the environment win.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

// ParseConfig reads the configuration from an explicit set of variables.
func ParseConfig(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet(vars), &cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the cross-field rules the struct tags cannot express.
func (c *Config) Validate() error {
	if c.Secret == "" && c.JWKSURL == "" {
		return ErrSecretRequired
	}
	if len(c.AllowedOrigins()) == 0 {
		return ErrOriginRequired
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.SnapshotInterval < 0 || c.HandshakeWindow < 0 || c.HandshakeLimit < 0 {
		return errors.New("intervals and limits cannot be negative")
	}
	c.WSPath = NormalizePath(c.WSPath)
	return nil
}

// AllowedOrigins splits CLIENT_ORIGIN on commas.
func (c Config) AllowedOrigins() []string {
	origins := lo.Map(strings.Split(c.ClientOrigin, ","), func(origin string, _ int) string {
		return strings.TrimRight(strings.TrimSpace(origin), "/")
	})
	return lo.Compact(origins)
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NormalizePath guarantees the websocket path starts with '/' and falls back
// to /ws when empty.
func NormalizePath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
