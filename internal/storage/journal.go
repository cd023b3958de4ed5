package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultJournalBuffer = 1024
	insertTimeout        = 5 * time.Second
)

// Journal writes presence transitions to the store from a single background
// goroutine. Append never blocks; when the buffer is full the transition is
// dropped and counted.
type Journal struct {
	store   *Store
	log     *slog.Logger
	queue   chan Transition
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func NewJournal(store *Store, buffer int, log *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	j := &Journal{
		store: store,
		log:   log,
		queue: make(chan Transition, buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) Append(userID string, online bool, at time.Time) {
	select {
	case <-j.stop:
		j.dropped.Add(1)
		return
	default:
	}
	select {
	case j.queue <- Transition{UserID: userID, Online: online, At: at}:
	default:
		j.dropped.Add(1)
		j.log.Warn("presence journal full, transition dropped", "user", userID, "online", online)
	}
}

// Dropped is the number of transitions that never reached the store.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) ListTransitions(ctx context.Context, userID string, limit int) ([]Transition, error) {
	return j.store.ListTransitions(ctx, userID, limit)
}

// Close stops accepting transitions, writes what is already queued and waits
// for the writer to finish. It does not close the store.
func (j *Journal) Close() {
	j.once.Do(func() { close(j.stop) })
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	for {
		select {
		case t := <-j.queue:
			j.write(t)
		case <-j.stop:
			for {
				select {
				case t := <-j.queue:
					j.write(t)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(t Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if _, err := j.store.InsertTransition(ctx, t); err != nil {
		j.log.Error("write presence transition failed", "user", t.UserID, "error", err)
	}
}
