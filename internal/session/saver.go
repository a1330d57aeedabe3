package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/auction-backend/internal/metrics"
	"github.com/DoyleJ11/auction-backend/internal/store"
)

var errSuperseded = errors.New("snapshot superseded")

const maxSaveBackoff = 30 * time.Second

type saveJob struct {
	snap    *store.Snapshot
	waiters []chan error
}

type saveFailure struct {
	seq      int64
	attempts int
	err      error
}

// saver writes snapshots off the session goroutine. Only the newest pending
// snapshot is kept: a newer one always covers an older one.
//
// A snapshot nobody waits on is retried until it is saved or superseded.
// One with waiters gives up after maxAttempts and reports the error to them;
// it must not land later, since the session did not commit it.
type saver struct {
	store       store.Store
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	pending  *saveJob
	wake     chan struct{}
	failures chan saveFailure
}

func newSaver(st store.Store, maxAttempts int, backoff time.Duration, log *zap.Logger, m *metrics.Metrics) *saver {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &saver{
		store:       st,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log,
		metrics:     m,
		wake:        make(chan struct{}, 1),
		failures:    make(chan saveFailure, 8),
	}
}

// enqueue schedules snap; waiter, if non-nil, receives the outcome of the
// save that covers it.
func (sv *saver) enqueue(snap *store.Snapshot, waiter chan error) {
	sv.mu.Lock()
	job := &saveJob{snap: snap}
	if sv.pending != nil {
		job.waiters = sv.pending.waiters
	}
	if waiter != nil {
		job.waiters = append(job.waiters, waiter)
	}
	sv.pending = job
	sv.mu.Unlock()

	select {
	case sv.wake <- struct{}{}:
	default:
	}
}

// saveNow enqueues snap and blocks until it, or a newer snapshot, is durable.
func (sv *saver) saveNow(ctx context.Context, snap *store.Snapshot) error {
	done := make(chan error, 1)
	sv.enqueue(snap, done)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sv *saver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sv.wake:
		}
		sv.drain(ctx)
	}
}

// drain saves pending jobs until none is left.
func (sv *saver) drain(ctx context.Context) {
	for {
		sv.mu.Lock()
		job := sv.pending
		sv.pending = nil
		sv.mu.Unlock()
		if job == nil {
			return
		}

		err := sv.attempt(ctx, job)
		if errors.Is(err, errSuperseded) {
			continue
		}
		for _, w := range job.waiters {
			w <- err
		}
	}
}

func (sv *saver) attempt(ctx context.Context, job *saveJob) error {
	delay := sv.backoff
	for attempt := 1; ; attempt++ {
		err := sv.store.SaveSession(ctx, job.snap)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sv.metrics.SaveFailed()
		sv.log.Warn("snapshot save failed",
			zap.Int64("seq", job.snap.Seq),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case sv.failures <- saveFailure{seq: job.snap.Seq, attempts: attempt, err: err}:
		default:
		}
		if attempt >= sv.maxAttempts && len(job.waiters) > 0 {
			return err
		}

		select {
		case <-time.After(delay):
		case <-sv.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, maxSaveBackoff)

		sv.mu.Lock()
		if sv.pending != nil {
			// A newer snapshot arrived during backoff; it inherits our waiters.
			sv.pending.waiters = append(sv.pending.waiters, job.waiters...)
			sv.mu.Unlock()
			return errSuperseded
		}
		sv.mu.Unlock()
	}
}
