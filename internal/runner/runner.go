// Package runner abstracts the background job runner: a way to enqueue and
// cancel one document's recognition work. The orchestrator receives a Runner
// at construction so tests can substitute a fake. Delivery is at-least-once;
// the work itself must be idempotent under redelivery.
package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"vera/internal/fault"
	"vera/internal/models"
)

// Runner enqueues and cancels units of background work.
type Runner interface {
	// Enqueue hands off the work and returns an opaque job handle. The call
	// returns as soon as the work is scheduled, not when it completes.
	Enqueue(ctx context.Context, work models.WorkDescriptor) (string, error)
	// Cancel asks the runner to terminate the job. Termination is
	// cooperative; callers must converge authoritative state themselves.
	Cancel(ctx context.Context, handle string) error
}

// Work is the function a Local runner executes per job.
type Work func(ctx context.Context, work models.WorkDescriptor)

// Local runs jobs as in-process goroutines with per-handle cancellation.
type Local struct {
	work Work

	mu   sync.Mutex
	jobs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

// NewLocal builds a Local runner executing fn per job.
func NewLocal(fn Work) *Local {
	return &Local{work: fn, jobs: make(map[string]context.CancelFunc)}
}

// Enqueue schedules the work on a fresh goroutine and returns its handle.
func (l *Local) Enqueue(_ context.Context, work models.WorkDescriptor) (string, error) {
	handle := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.jobs[handle] = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.jobs, handle)
			l.mu.Unlock()
			cancel()
		}()
		l.work(jobCtx, work)
	}()

	slog.Info("Enqueued local job.", "handle", handle, "documentId", work.DocumentID)
	return handle, nil
}

// Cancel signals the job's context. An unknown handle means the job already
// finished; that is reported as no_active_task.
func (l *Local) Cancel(_ context.Context, handle string) error {
	l.mu.Lock()
	cancel, ok := l.jobs[handle]
	l.mu.Unlock()
	if !ok {
		return fault.New(fault.NoActiveTask, "job %s is not running", handle)
	}
	cancel()
	return nil
}

// Wait blocks until all in-flight jobs return. Used by the CLI and tests.
func (l *Local) Wait() { l.wg.Wait() }

var _ Runner = (*Local)(nil)

// ErrRunnerUnavailable wraps transport failures talking to a remote runner.
func ErrRunnerUnavailable(err error) error {
	return fault.Wrap(fault.UpstreamUnavailable, err, "background job runner is unreachable")
}
