package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics holds process-wide counters. A nil *Metrics discards updates.
type Metrics struct {
	openSessions   atomic.Int64
	connects       atomic.Uint64
	disconnects    atomic.Uint64
	authFailures   atomic.Uint64
	handshakes429  atomic.Uint64
	relays         atomic.Uint64
	relaysRejected atomic.Uint64
	delivered      atomic.Uint64
	dropped        atomic.Uint64
	onlineUsers    func() int
	journalDropped func() uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// TrackOnlineUsers registers the gauge read when metrics are served.
func (m *Metrics) TrackOnlineUsers(gauge func() int) {
	if m == nil {
		return
	}
	m.onlineUsers = gauge
}

// TrackJournalDropped registers the counter of presence transitions the
// journal could not keep.
func (m *Metrics) TrackJournalDropped(counter func() uint64) {
	if m == nil {
		return
	}
	m.journalDropped = counter
}

func (m *Metrics) IncConnect() {
	if m == nil {
		return
	}
	m.connects.Add(1)
	m.openSessions.Add(1)
}

func (m *Metrics) IncDisconnect() {
	if m == nil {
		return
	}
	m.disconnects.Add(1)
	m.openSessions.Add(-1)
}

func (m *Metrics) IncAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Add(1)
}

func (m *Metrics) IncThrottled() {
	if m == nil {
		return
	}
	m.handshakes429.Add(1)
}

func (m *Metrics) IncRelay() {
	if m == nil {
		return
	}
	m.relays.Add(1)
}

func (m *Metrics) IncRelayRejected() {
	if m == nil {
		return
	}
	m.relaysRejected.Add(1)
}

func (m *Metrics) AddDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.delivered.Add(uint64(n))
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.dropped.Add(1)
}

// MetricsSnapshot is the JSON document served on /metrics.
type MetricsSnapshot struct {
	OpenSessions      int64  `json:"open_sessions"`
	OnlineUsers       int    `json:"online_users"`
	ConnectsTotal     uint64 `json:"connects_total"`
	DisconnectsTotal  uint64 `json:"disconnects_total"`
	AuthFailuresTotal uint64 `json:"auth_failures_total"`
	ThrottledTotal    uint64 `json:"handshakes_throttled_total"`
	RelaysTotal       uint64 `json:"relays_total"`
	RelaysRejected    uint64 `json:"relays_rejected_total"`
	FramesDelivered   uint64 `json:"frames_delivered_total"`
	FramesDropped     uint64 `json:"frames_dropped_total"`
	JournalDropped    uint64 `json:"journal_dropped_total"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	snapshot := MetricsSnapshot{
		OpenSessions:      m.openSessions.Load(),
		ConnectsTotal:     m.connects.Load(),
		DisconnectsTotal:  m.disconnects.Load(),
		AuthFailuresTotal: m.authFailures.Load(),
		ThrottledTotal:    m.handshakes429.Load(),
		RelaysTotal:       m.relays.Load(),
		RelaysRejected:    m.relaysRejected.Load(),
		FramesDelivered:   m.delivered.Load(),
		FramesDropped:     m.dropped.Load(),
	}
	if m.onlineUsers != nil {
		snapshot.OnlineUsers = m.onlineUsers()
	}
	if m.journalDropped != nil {
		snapshot.JournalDropped = m.journalDropped()
	}
	return snapshot
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
