package internal

import (
	"maps"
	"sync"
)

// Registry keeps counts of open connections per user. A user is online while
// an entry exists; an entry is never left at zero.
type Registry struct {
	mu     sync.Mutex
	online map[string]int
}

func NewRegistry() *Registry {
	return &Registry{online: make(map[string]int)}
}

// RecordConnect counts one more connection for userID and reports whether
// the user just came online.
func (r *Registry) RecordConnect(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[userID]++
	return r.online[userID] == 1
}

// RecordDisconnect counts one connection less for userID and reports whether
// the user just went offline. Unknown users are left untouched.
func (r *Registry) RecordDisconnect(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	count, ok := r.online[userID]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(r.online, userID)
		return true
	}
	r.online[userID] = count - 1
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.online[userID]
	return ok
}

// OnlineCount is the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online)
}

// Snapshot copies the current counts for diagnostics.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.online)
}
