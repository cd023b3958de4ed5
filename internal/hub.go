package internal

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
)

// transitionStripes is the number of locks presence transitions are spread
// over. Two users sharing a stripe only contend, ordering is unaffected.
const transitionStripes = 64

var ErrHubClosed = errors.New("hub is shut down")

// Hub ties the presence registry to the delivery groups. A registry mutation
// and the broadcast it causes happen under the user's transition lock, so the
// presence events for a user leave in the same order as the registry saw
// them. Broadcasting only enqueues, so the lock is never held across I/O.
type Hub struct {
	registry    *Registry
	router      *Router
	broadcaster *Broadcaster
	metrics     *Metrics
	log         *slog.Logger

	transitions [transitionStripes]sync.Mutex

	// lifecycle guards closed; admitted counts sessions whose disconnect
	// bookkeeping has not run yet.
	lifecycle sync.Mutex
	closed    bool
	admitted  sync.WaitGroup
}

func NewHub(log *slog.Logger, metrics *Metrics, journal Journal) *Hub {
	router := NewRouter(metrics, log)
	hub := &Hub{
		registry:    NewRegistry(),
		router:      router,
		broadcaster: NewBroadcaster(router, journal),
		metrics:     metrics,
		log:         log,
	}
	metrics.TrackOnlineUsers(hub.registry.OnlineCount)
	return hub
}

func (h *Hub) transitionLock(userID string) *sync.Mutex {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(userID))
	return &h.transitions[hash.Sum32()%transitionStripes]
}

// Connect admits an authenticated session: it joins its user's group, is
// counted in the registry and, on the user's first connection, everyone is
// told the user came online. The joining session is a member by then and
// receives that event too. After Shutdown no session is admitted.
func (h *Hub) Connect(session *Session, userID string) error {
	h.lifecycle.Lock()
	if h.closed {
		h.lifecycle.Unlock()
		return fmt.Errorf("connect session %s: %w", session.ID(), ErrHubClosed)
	}
	if err := session.authenticate(userID); err != nil {
		h.lifecycle.Unlock()
		return fmt.Errorf("connect session %s: %w", session.ID(), err)
	}
	h.admitted.Add(1)
	h.router.Join(session)
	h.lifecycle.Unlock()

	lock := h.transitionLock(userID)
	lock.Lock()
	if h.registry.RecordConnect(userID) {
		h.broadcaster.BroadcastPresence(PresenceEvent{UserID: userID, Online: true})
	}
	lock.Unlock()

	h.metrics.IncConnect()
	session.log.Info("session connected")
	return nil
}

// Disconnect runs the close bookkeeping of a session. Only the first call for
// an authenticated session has any effect.
func (h *Hub) Disconnect(session *Session) {
	if !session.markClosed() {
		return
	}
	defer h.admitted.Done()
	userID := session.UserID()

	lock := h.transitionLock(userID)
	lock.Lock()
	if h.registry.RecordDisconnect(userID) {
		h.broadcaster.BroadcastPresence(PresenceEvent{UserID: userID, Online: false})
	}
	lock.Unlock()

	h.router.Leave(session)
	h.metrics.IncDisconnect()
	session.log.Info("session disconnected")
}

// Relay delivers a message:new frame to every session of each recipient, in
// recipient order, and returns the number of frames handed to sessions.
// Recipients that are offline are skipped silently.
func (h *Hub) Relay(req RelayRequest) int {
	evt := MessageEvent{ConversationID: req.ConversationID, Message: req.Message}
	delivered := 0
	for _, recipient := range req.Recipients {
		delivered += h.router.Deliver(recipient, EventMessageNew, evt)
	}
	h.metrics.IncRelay()
	h.log.Debug("message relayed",
		"conversation", req.ConversationID,
		"recipients", len(req.Recipients),
		"delivered", delivered,
	)
	return delivered
}

func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// OnlineUsers copies the per-user connection counts.
func (h *Hub) OnlineUsers() map[string]int {
	return h.registry.Snapshot()
}

func (h *Hub) SessionCount() int {
	return h.router.SessionCount()
}

// Shutdown stops admitting sessions, closes every connected one and waits
// until their disconnect bookkeeping, journal hand-off included, has run.
// It returns ctx.Err() if ctx ends first.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.lifecycle.Lock()
	h.closed = true
	h.lifecycle.Unlock()

	h.router.CloseAll()

	drained := make(chan struct{})
	go func() {
		h.admitted.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
