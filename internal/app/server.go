package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/cors"

	intrnl "presencehub/internal"
	"presencehub/internal/auth"
	"presencehub/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr          string
	server        *http.Server
	hub           *intrnl.Hub
	authenticator *auth.Authenticator
	store         *storage.Store
	journal       *storage.Journal
	log           *slog.Logger
	stopWorkers   context.CancelFunc
	finishOnce    sync.Once
	done          chan struct{}
	err           error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline. It
// returns once every open session has run its disconnect bookkeeping and the
// journal has been flushed, or when ctx ends.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := h.server.Shutdown(ctx)
	// hijacked websocket connections are not closed by Shutdown
	if hubErr := h.hub.Shutdown(ctx); hubErr != nil {
		h.log.Warn("sessions still open at shutdown deadline", "error", hubErr)
		err = errors.Join(err, hubErr)
	}
	h.finish(nil)
	return err
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires the authenticator, the hub, the optional presence journal
// and the HTTP handlers, then starts serving in the background. Call
// Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg Config, log *slog.Logger) (*ServerHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	authenticator, err := newAuthenticator(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	handle := &ServerHandle{
		authenticator: authenticator,
		log:           log,
		done:          make(chan struct{}),
	}

	var (
		journal intrnl.Journal
		history intrnl.HistoryReader
	)
	if cfg.JournalPath != "" {
		if err := handle.openJournal(cfg.JournalPath); err != nil {
			authenticator.Close()
			return nil, err
		}
		journal, history = handle.journal, handle.journal
	}

	metrics := intrnl.NewMetrics()
	if handle.journal != nil {
		metrics.TrackJournalDropped(handle.journal.Dropped)
	}
	hub := intrnl.NewHub(log, metrics, journal)
	handle.hub = hub
	server := intrnl.NewServer(hub, authenticator, metrics, log, intrnl.ServerOptions{
		AllowedOrigins:  cfg.AllowedOrigins(),
		SendBuffer:      cfg.SendBuffer,
		HandshakeLimit:  cfg.HandshakeLimit,
		HandshakeWindow: cfg.HandshakeWindow,
		History:         history,
	})

	mux := http.NewServeMux()
	registerHandlers(mux, cfg.WSPath, server)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           withCORS(mux, cfg.AllowedOrigins()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		handle.release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	handle.addr = listener.Addr().String()
	handle.server = httpServer

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	handle.stopWorkers = stopWorkers
	snapshots := intrnl.NewSnapshotWorker(hub, log, cfg.SnapshotInterval)
	go func() {
		if err := snapshots.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("snapshot worker stopped", "error", err)
		}
	}()

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handle.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server shutdown error", "error", err)
		}
	}()

	go handle.serve(listener)

	log.Info("presence server listening", "version", intrnl.Version, "addr", handle.addr, "ws_path", cfg.WSPath, "journal", cfg.JournalPath != "")
	return handle, nil
}

func newAuthenticator(ctx context.Context, cfg Config, log *slog.Logger) (*auth.Authenticator, error) {
	if cfg.JWKSURL == "" {
		return auth.NewHMAC([]byte(cfg.Secret)), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	authenticator, err := auth.NewJWKS(ctx, cfg.JWKSURL, log)
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return authenticator, nil
}

func (h *ServerHandle) openJournal(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}
	store, err := storage.NewStore(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	h.store = store
	h.journal = storage.NewJournal(store, 0, h.log)
	return nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		// Stop owns the rest of the shutdown
		return
	}
	h.log.Error("server stopped", "error", err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.hub.Shutdown(ctx)
	h.finish(err)
}

// finish releases resources and unblocks Wait, once.
func (h *ServerHandle) finish(err error) {
	h.finishOnce.Do(func() {
		h.release()
		h.err = err
		close(h.done)
	})
}

// release stops background work and closes what RunServer opened.
func (h *ServerHandle) release() {
	if h.stopWorkers != nil {
		h.stopWorkers()
	}
	h.authenticator.Close()
	if h.journal != nil {
		h.journal.Close()
	}
	if err := h.store.Close(); err != nil {
		h.log.Error("store close error", "error", err)
	}
}

func withCORS(handler http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(handler)
}

func registerHandlers(mux *http.ServeMux, wsPath string, server *intrnl.Server) {
	mux.HandleFunc(wsPath, server.ServeWS)
	mux.HandleFunc("/notify-message", server.HandleNotify)
	mux.HandleFunc("/presence", server.HandlePresence)
	mux.HandleFunc("/presence/history", server.HandlePresenceHistory)
	mux.Handle("/metrics", server.MetricsHandler())
	mux.HandleFunc("/", server.HandleHealth)
}
