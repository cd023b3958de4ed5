package main

import (
	"flag"
	"fmt"
	"os"

	"presencehub/internal/app"
)

func main() {
	serverURL := flag.String("server", envOrDefault("PRESENCEHUB_SERVER", "http://localhost:4000"), "server base URL")
	path := flag.String("path", envOrDefault("WS_PATH", "/ws"), "websocket path")
	token := flag.String("token", envOrDefault("PRESENCEHUB_TOKEN", ""), "signed token to connect with")
	flag.Parse()

	cfg := app.WatchConfig{
		ServerURL: *serverURL,
		Path:      app.NormalizePath(*path),
		Token:     *token,
	}
	if err := app.RunWatch(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
