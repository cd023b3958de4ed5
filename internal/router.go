package internal

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Router owns the delivery groups: for each user the set of authenticated
// sessions that belong to them, plus the set of every authenticated session
// for presence broadcasts. Joining and leaving are the only ways in or out of
// delivery scope.
type Router struct {
	mu      sync.RWMutex
	groups  map[string]map[*Session]struct{}
	members map[*Session]struct{}
	metrics *Metrics
	log     *slog.Logger
}

func NewRouter(metrics *Metrics, log *slog.Logger) *Router {
	return &Router{
		groups:  make(map[string]map[*Session]struct{}),
		members: make(map[*Session]struct{}),
		metrics: metrics,
		log:     log,
	}
}

// Join adds an authenticated session to its user's group.
func (router *Router) Join(session *Session) {
	userID := session.UserID()
	router.mu.Lock()
	defer router.mu.Unlock()
	group, ok := router.groups[userID]
	if !ok {
		group = make(map[*Session]struct{})
		router.groups[userID] = group
	}
	group[session] = struct{}{}
	router.members[session] = struct{}{}
}

// Leave removes the session and drops its user's group once empty.
func (router *Router) Leave(session *Session) {
	userID := session.UserID()
	router.mu.Lock()
	defer router.mu.Unlock()
	delete(router.members, session)
	if group, ok := router.groups[userID]; ok {
		delete(group, session)
		if len(group) == 0 {
			delete(router.groups, userID)
		}
	}
}

// Deliver sends payload tagged with event to every session of userID and
// returns how many accepted it. An offline user is not an error.
func (router *Router) Deliver(userID, event string, payload any) int {
	router.mu.RLock()
	targets := lo.Keys(router.groups[userID])
	router.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}
	return router.fanout(targets, event, payload)
}

// Broadcast sends payload tagged with event to every authenticated session.
func (router *Router) Broadcast(event string, payload any) int {
	router.mu.RLock()
	targets := lo.Keys(router.members)
	router.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}
	return router.fanout(targets, event, payload)
}

// CloseAll drops the transport of every member; each read pump then runs
// its own disconnect path.
func (router *Router) CloseAll() {
	router.mu.RLock()
	targets := lo.Keys(router.members)
	router.mu.RUnlock()
	for _, session := range targets {
		session.closeTransport()
	}
}

// SessionCount is the number of authenticated sessions.
func (router *Router) SessionCount() int {
	router.mu.RLock()
	defer router.mu.RUnlock()
	return len(router.members)
}

// fanout encodes the frame once and offers it to each target on its own;
// a rejected frame only affects that target.
func (router *Router) fanout(targets []*Session, event string, payload any) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		router.log.Error("encode frame failed", "event", event, "error", err)
		return 0
	}
	delivered := 0
	for _, session := range targets {
		if err := session.enqueue(frame); err != nil {
			if errors.Is(err, ErrSendQueueFull) {
				router.metrics.IncDropped()
			}
			router.log.Debug("frame dropped", "event", event, "session", session.ID(), "reason", err)
			continue
		}
		delivered++
	}
	router.metrics.AddDelivered(delivered)
	return delivered
}
