package app

import (
	"errors"

	"presencehub/internal/watch"
)

// RunWatch launches the terminal watch client with the provided configuration.
func RunWatch(cfg WatchConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.Token == "" {
		return errors.New("token is required")
	}
	return watch.Run(cfg.ServerURL, NormalizePath(cfg.Path), cfg.Token)
}
