package internal

import "time"

//go:generate mockgen -source=broadcaster.go -destination=mocks/journal.go -package=mocks

// Journal records presence transitions. Implementations must not block the
// caller.
type Journal interface {
	Append(userID string, online bool, at time.Time)
}

// Broadcaster announces presence transitions to every connected session.
type Broadcaster struct {
	router  *Router
	journal Journal
	now     func() time.Time
}

func NewBroadcaster(router *Router, journal Journal) *Broadcaster {
	return &Broadcaster{router: router, journal: journal, now: time.Now}
}

// BroadcastPresence emits one presence:update frame for evt and returns the
// number of sessions that accepted it.
func (b *Broadcaster) BroadcastPresence(evt PresenceEvent) int {
	if b.journal != nil {
		b.journal.Append(evt.UserID, evt.Online, b.now())
	}
	return b.router.Broadcast(EventPresenceUpdate, evt)
}
