package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"

	"github.com/rs/zerolog"
)

const (
	cleanupLockKey  = "lock:storage-cleanup"
	dequeueTimeout  = 5 * time.Second
	errorBackoff    = 5 * time.Second
	lockBusyBackoff = 500 * time.Millisecond
)

type JobQueue interface {
	Enqueue(ctx context.Context, job model.CleanupJob) error
	Dequeue(ctx context.Context, timeout time.Duration) (*model.CleanupJob, error)
}

type ObjectRemover interface {
	Delete(ctx context.Context, key string) error
}

type TryLocker interface {
	TryAcquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// CleanupWorker removes storage objects left behind by deleted problems.
// Only one job runs at a time across all server instances.
type CleanupWorker struct {
	queue       JobQueue
	store       ObjectRemover
	locker      TryLocker
	maxAttempts int
	log         zerolog.Logger
}

func NewCleanupWorker(queue JobQueue, store ObjectRemover, locker TryLocker, maxAttempts int, log zerolog.Logger) *CleanupWorker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &CleanupWorker{
		queue:       queue,
		store:       store,
		locker:      locker,
		maxAttempts: maxAttempts,
		log:         log.With().Str("worker", "storage_cleanup").Logger(),
	}
}

// Start consumes the queue until ctx is cancelled.
func (w *CleanupWorker) Start(ctx context.Context) {
	w.log.Info().Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("cleanup worker stopping")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Error().Err(err).Msg("failed to dequeue cleanup job")
			sleep(ctx, errorBackoff)
			continue
		}
		if job == nil {
			continue
		}
		w.processWithLock(ctx, *job)
	}
}

func (w *CleanupWorker) processWithLock(ctx context.Context, job model.CleanupJob) {
	release, err := w.locker.TryAcquire(ctx, cleanupLockKey)
	if err != nil {
		if errors.Is(err, common.ErrLockNotHeld) {
			w.log.Debug().Str("job_id", job.ID).Msg("cleanup lock busy, re-queueing")
		} else {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to attempt cleanup lock")
		}
		w.requeue(ctx, job)
		sleep(ctx, lockBusyBackoff)
		return
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to release cleanup lock")
		}
	}()

	if err := w.Process(ctx, &job); err != nil {
		job.Attempts++
		if job.Attempts >= w.maxAttempts {
			w.log.Error().Err(err).Str("job_id", job.ID).Int("attempts", job.Attempts).Strs("keys", job.ObjectKeys).
				Msg("giving up on cleanup job")
			return
		}
		w.log.Warn().Err(err).Str("job_id", job.ID).Int("attempts", job.Attempts).Msg("cleanup job failed, re-queueing")
		w.requeue(ctx, job)
	}
}

// Process deletes every object of the job. Missing objects are not an error,
// so a job that partially ran before can be replayed. Keys that failed stay
// in the job for the next attempt.
func (w *CleanupWorker) Process(ctx context.Context, job *model.CleanupJob) error {
	var failed []string
	var firstErr error
	for _, key := range job.ObjectKeys {
		if err := w.store.Delete(ctx, key); err != nil {
			failed = append(failed, key)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		job.ObjectKeys = failed
		return fmt.Errorf("failed to delete %d object(s) of job %s: %w", len(failed), job.ID, firstErr)
	}
	w.log.Info().Str("job_id", job.ID).Str("reason", job.Reason).Int("objects", len(job.ObjectKeys)).Msg("cleanup job done")
	return nil
}

func (w *CleanupWorker) requeue(ctx context.Context, job model.CleanupJob) {
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to re-queue cleanup job")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
