package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTransitionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, online := range []bool{true, false, true} {
		if _, err := store.InsertTransition(ctx, Transition{UserID: "alice", Online: online, At: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("InsertTransition: %v", err)
		}
	}
	if _, err := store.InsertTransition(ctx, Transition{UserID: "bob", Online: true, At: base}); err != nil {
		t.Fatalf("InsertTransition: %v", err)
	}

	got, err := store.ListTransitions(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(got))
	}
	wantOnline := []bool{true, false, true}
	for i, tr := range got {
		if tr.UserID != "alice" {
			t.Fatalf("unexpected user %q", tr.UserID)
		}
		if tr.Online != wantOnline[i] {
			t.Fatalf("transition %d: online=%v", i, tr.Online)
		}
	}
	if !got[0].At.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("expected newest first, got %v", got[0].At)
	}

	limited, err := store.ListTransitions(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != got[0].ID {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestListTransitionsUnknownUser(t *testing.T) {
	store := newTestStore(t)
	got, err := store.ListTransitions(context.Background(), "nobody", 5)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestJournalFlushesOnClose(t *testing.T) {
	store := newTestStore(t)
	journal := NewJournal(store, 16, slog.New(slog.NewTextHandler(io.Discard, nil)))
	at := time.Now()

	journal.Append("carol", true, at)
	journal.Append("carol", false, at.Add(time.Millisecond))
	journal.Close()
	journal.Close()

	got, err := journal.ListTransitions(context.Background(), "carol", 10)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(got) != 2 || got[0].Online || !got[1].Online {
		t.Fatalf("unexpected transitions: %+v", got)
	}

	journal.Append("carol", true, at)
	if journal.Dropped() != 1 {
		t.Fatalf("expected append after close to be dropped, got %d", journal.Dropped())
	}
}

func TestBuildDSN(t *testing.T) {
	cases := map[string]string{
		"data/presence.db":            "file:data/presence.db?",
		"sqlite://file:x?mode=memory": "file:x?mode=memory&",
		":memory:":                    ":memory:?",
	}
	for in, prefix := range cases {
		if got := buildDSN(in); !strings.HasPrefix(got, prefix) {
			t.Fatalf("buildDSN(%q) = %q, want prefix %q", in, got, prefix)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
