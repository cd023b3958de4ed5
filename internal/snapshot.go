package internal

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/process"
)

// snapshotUserLimit caps how many user ids one snapshot line carries.
const snapshotUserLimit = 50

// SnapshotWorker periodically logs who is online together with process
// stats. There is one per process.
type SnapshotWorker struct {
	hub      *Hub
	log      *slog.Logger
	interval time.Duration
}

func NewSnapshotWorker(hub *Hub, log *slog.Logger, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{hub: hub, log: log, interval: interval}
}

// Run logs a snapshot every interval until ctx is done. A non-positive
// interval returns immediately.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		w.log.Warn("process stats unavailable", "error", err)
		proc = nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.logSnapshot(proc)
		}
	}
}

func (w *SnapshotWorker) logSnapshot(proc *process.Process) {
	counts := w.hub.OnlineUsers()
	users := lo.Keys(counts)
	slices.Sort(users)
	connections := lo.Sum(lo.Values(counts))

	attrs := []any{
		"online_users", len(users),
		"connections", connections,
		"sessions", w.hub.SessionCount(),
		"goroutines", runtime.NumGoroutine(),
	}
	if len(users) > snapshotUserLimit {
		attrs = append(attrs, "users", users[:snapshotUserLimit], "users_truncated", true)
	} else {
		attrs = append(attrs, "users", users)
	}
	if proc != nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			attrs = append(attrs, "rss_bytes", mem.RSS)
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			attrs = append(attrs, "cpu_percent", cpu)
		}
	}
	w.log.Info("presence snapshot", attrs...)
}
