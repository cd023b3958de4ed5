package internal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotWorker_LogsSortedCappedUsers(t *testing.T) {
	req := require.New(t)
	hub, _ := newTestHub(t)
	for i := snapshotUserLimit + 5; i > 0; i-- {
		connectSession(t, hub, fmt.Sprintf("user-%03d", i), snapshotUserLimit+8)
	}
	connectSession(t, hub, "user-001", 4)

	var buf bytes.Buffer
	worker := NewSnapshotWorker(hub, slog.New(slog.NewTextHandler(&buf, nil)), time.Minute)
	worker.logSnapshot(nil)

	line := buf.String()
	req.Contains(line, "presence snapshot")
	req.Contains(line, fmt.Sprintf("online_users=%d", snapshotUserLimit+5))
	req.Contains(line, fmt.Sprintf("connections=%d", snapshotUserLimit+6))
	req.Contains(line, "users_truncated=true")
	req.Contains(line, "user-001")
	req.NotContains(line, fmt.Sprintf("user-%03d", snapshotUserLimit+5))
}

func TestSnapshotWorker_DisabledReturnsImmediately(t *testing.T) {
	hub, _ := newTestHub(t)
	worker := NewSnapshotWorker(hub, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 0)
	require.NoError(t, worker.Run(context.Background()))
}

func TestSnapshotWorker_StopsWithContext(t *testing.T) {
	hub, _ := newTestHub(t)
	var buf bytes.Buffer
	worker := NewSnapshotWorker(hub, slog.New(slog.NewTextHandler(&buf, nil)), 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, worker.Run(ctx), context.DeadlineExceeded)
	require.Contains(t, buf.String(), "presence snapshot")
}
