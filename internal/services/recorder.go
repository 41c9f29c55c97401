package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-tutor-chat/internal/observability"
)

// ErrRecorderClosed is returned by Close when called twice.
var ErrRecorderClosed = errors.New("recorder closed")

// Job is one deferred write to the conversation log.
type Job struct {
	Stage          Stage
	ConversationID string
	Run            func(ctx context.Context) error
}

// Recorder runs persistence jobs on a fixed pool of workers fed by a bounded
// queue. Record never blocks the caller: when the queue is full the job is
// dropped, logged and counted. Each job runs with its own timeout, detached
// from whatever request produced it.
type Recorder struct {
	jobs    chan Job
	timeout time.Duration
	log     zerolog.Logger
	metrics *observability.ChatMetrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder starts workers goroutines draining a queue of the given size.
func NewRecorder(workers, queue int, timeout time.Duration, log zerolog.Logger, m *observability.ChatMetrics) *Recorder {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Recorder{
		jobs:    make(chan Job, queue),
		timeout: timeout,
		log:     log.With().Str("component", "recorder").Logger(),
		metrics: m,
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

// Record enqueues job and reports whether it was accepted.
func (r *Recorder) Record(job Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(job, "recorder closed")
		return false
	}
	select {
	case r.jobs <- job:
		return true
	default:
		r.drop(job, "queue full")
		return false
	}
}

func (r *Recorder) drop(job Job, reason string) {
	r.metrics.PersistDropped()
	r.log.Error().
		Str("stage", job.Stage.String()).
		Str("conversation_id", job.ConversationID).
		Str("reason", reason).
		Msg("persistence job dropped")
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		r.run(job)
	}
}

func (r *Recorder) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.PersistFailed(job.Stage.String())
			r.log.Error().
				Str("stage", job.Stage.String()).
				Str("conversation_id", job.ConversationID).
				Interface("panic", rec).
				Msg("persistence job panicked")
		}
	}()

	if err := job.Run(ctx); err != nil {
		r.metrics.PersistFailed(job.Stage.String())
		r.log.Error().
			Err(err).
			Str("stage", job.Stage.String()).
			Str("conversation_id", job.ConversationID).
			Msg("persistence job failed")
	}
}

// Close stops accepting jobs and waits for queued jobs to finish or ctx to
// expire, whichever comes first.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
