// Package queue runs prioritized jobs on a lazily started, fixed-size worker
// pool and hands each result back through a single-assignment slot.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Priority orders jobs; higher runs first.
type Priority int

const (
	Low Priority = iota + 1
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps a name to a Priority. Empty means Normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return Normal, nil
	case "low":
		return Low, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	}
	return Normal, fmt.Errorf("unknown priority %q (valid: low, normal, high, critical)", s)
}

var (
	ErrTimeout    = errors.New("queue: timed out waiting for result")
	ErrNotFound   = errors.New("queue: job not found")
	ErrClosed     = errors.New("queue: closed")
	ErrJobTimeout = errors.New("queue: job exceeded its timeout")
)

const (
	// DefaultIdleWait bounds how long an idle worker blocks before looping.
	DefaultIdleWait = 60 * time.Second
	// DefaultJobTimeout applies when Submit gets a zero timeout.
	DefaultJobTimeout = 300 * time.Second
	// DefaultResultRetention is how long unclaimed results are kept.
	DefaultResultRetention = 10 * time.Minute
)

// Func is the unit of work. Arguments are captured by the closure.
type Func[T any] func(ctx context.Context) (T, error)

type job[T any] struct {
	id       string
	fn       Func[T]
	priority Priority
	timeout  time.Duration
	created  time.Time
	seq      uint64

	once     sync.Once
	done     chan struct{}
	value    T
	err      error
	finished time.Time
}

// settle fills the result slot. Only the first call wins.
func (j *job[T]) settle(v T, err error) bool {
	won := false
	j.once.Do(func() {
		j.value, j.err = v, err
		j.finished = time.Now()
		close(j.done)
		won = true
	})
	return won
}

type jobHeap[T any] []*job[T]

func (h jobHeap[T]) Len() int { return len(h) }
func (h jobHeap[T]) Less(i, k int) bool {
	if h[i].priority != h[k].priority {
		return h[i].priority > h[k].priority
	}
	if !h[i].created.Equal(h[k].created) {
		return h[i].created.Before(h[k].created)
	}
	return h[i].seq < h[k].seq
}
func (h jobHeap[T]) Swap(i, k int) { h[i], h[k] = h[k], h[i] }
func (h *jobHeap[T]) Push(x any)   { *h = append(*h, x.(*job[T])) }
func (h *jobHeap[T]) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Stats is a snapshot of queue activity.
type Stats struct {
	Queued         int   `json:"queued"`
	InFlight       int   `json:"in_flight"`
	Tracked        int   `json:"tracked"`
	WorkersRunning int   `json:"workers_running"`
	MaxWorkers     int   `json:"max_workers"`
	Processed      int64 `json:"total_processed"`
	Failed         int64 `json:"total_failed"`
}

// Queue is a priority work queue with a bounded worker pool.
type Queue[T any] struct {
	maxWorkers int
	idleWait   time.Duration
	retention  time.Duration

	mu      sync.Mutex
	pending jobHeap[T]
	jobs    map[string]*job[T] // submitted, result not yet claimed
	running int
	seq     uint64
	closed  bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	idleWait  time.Duration
	retention time.Duration
}

// WithIdleWait overrides how long an idle worker waits for a job per loop.
func WithIdleWait(d time.Duration) Option {
	return func(o *options) { o.idleWait = d }
}

// WithResultRetention overrides how long unclaimed results are kept.
func WithResultRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// New creates a queue that runs at most maxWorkers jobs at once.
func New[T any](maxWorkers int, opts ...Option) *Queue[T] {
	o := options{idleWait: DefaultIdleWait, retention: DefaultResultRetention}
	for _, fn := range opts {
		fn(&o)
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T]{
		maxWorkers: maxWorkers,
		idleWait:   o.idleWait,
		retention:  o.retention,
		jobs:       make(map[string]*job[T]),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit enqueues fn and returns its id without blocking.
func (q *Queue[T]) Submit(fn Func[T], priority Priority, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.seq++
	j := &job[T]{
		id:       uuid.NewString(),
		fn:       fn,
		priority: priority,
		timeout:  timeout,
		created:  time.Now(),
		seq:      q.seq,
		done:     make(chan struct{}),
	}
	heap.Push(&q.pending, j)
	q.jobs[j.id] = j
	queued := q.pending.Len()
	q.ensureWorkersLocked()
	q.mu.Unlock()

	q.signal()
	slog.Info("queue: added",
		slog.String("job_id", j.id),
		slog.String("priority", priority.String()),
		slog.Int("queue_size", queued),
	)
	return j.id, nil
}

// AwaitResult blocks until job id settles, timeout elapses, or ctx is done.
// Giving up forgets the job but does not stop a worker that is running it.
func (q *Queue[T]) AwaitResult(ctx context.Context, id string, timeout time.Duration) (T, error) {
	var zero T
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	defer q.forget(id)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-j.done:
		return j.value, j.err
	case <-timer:
		slog.Warn("queue: await timeout", slog.String("job_id", id), slog.Duration("timeout", timeout))
		return zero, fmt.Errorf("%w: job %s after %s", ErrTimeout, id, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Stats returns current counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:         q.pending.Len(),
		InFlight:       int(q.inFlight.Load()),
		Tracked:        len(q.jobs),
		WorkersRunning: q.running,
		MaxWorkers:     q.maxWorkers,
		Processed:      q.processed.Load(),
		Failed:         q.failed.Load(),
	}
}

// Len is the number of jobs waiting for a worker.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Close stops accepting jobs, fails everything still pending with ErrClosed,
// cancels running jobs and waits for the workers to exit.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var zero T
	for q.pending.Len() > 0 {
		j := heap.Pop(&q.pending).(*job[T])
		j.settle(zero, ErrClosed)
	}
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func (q *Queue[T]) forget(id string) {
	q.mu.Lock()
	delete(q.jobs, id)
	q.mu.Unlock()
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// ensureWorkersLocked must be called with q.mu held.
func (q *Queue[T]) ensureWorkersLocked() {
	for q.running < q.maxWorkers {
		q.running++
		id := fmt.Sprintf("worker-%d", q.running)
		q.wg.Add(1)
		go q.worker(id)
		slog.Info("queue: worker started", slog.String("worker_id", id), slog.Int("total_workers", q.running))
	}
}

func (q *Queue[T]) next() (*job[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return nil, false
	}
	j := heap.Pop(&q.pending).(*job[T])
	if q.pending.Len() > 0 {
		// Pass the wakeup on so another idle worker sees the remaining jobs.
		q.signal()
	}
	return j, true
}

func (q *Queue[T]) worker(id string) {
	defer func() {
		q.mu.Lock()
		q.running--
		remaining := q.running
		q.mu.Unlock()
		q.wg.Done()
		slog.Info("queue: worker stopped", slog.String("worker_id", id), slog.Int("remaining_workers", remaining))
	}()

	idle := time.NewTimer(q.idleWait)
	defer idle.Stop()

	for {
		if q.ctx.Err() != nil {
			return
		}
		if j, ok := q.next(); ok {
			q.run(id, j)
			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(q.idleWait)

		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		case <-idle.C:
			q.sweep()
		}
	}
}

func (q *Queue[T]) run(workerID string, j *job[T]) {
	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	slog.Info("queue: processing",
		slog.String("worker_id", workerID),
		slog.String("job_id", j.id),
		slog.String("priority", j.priority.String()),
	)

	v, err := q.execute(j)
	// Counters move before the slot settles so a woken caller sees them.
	if err != nil {
		q.failed.Add(1)
		slog.Error("queue: failed",
			slog.String("worker_id", workerID),
			slog.String("job_id", j.id),
			slog.Any("error", err),
		)
	} else {
		q.processed.Add(1)
		slog.Info("queue: completed", slog.String("worker_id", workerID), slog.String("job_id", j.id))
	}
	j.settle(v, err)
}

// execute runs the job under its own deadline. A function that ignores its
// context is abandoned when the deadline passes so the worker can move on.
func (q *Queue[T]) execute(j *job[T]) (T, error) {
	ctx, cancel := context.WithTimeout(q.ctx, j.timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- outcome{zero, fmt.Errorf("queue: job %s panicked: %v", j.id, r)}
			}
		}()
		v, err := j.fn(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.v, fmt.Errorf("%w (%s): %w", ErrJobTimeout, j.timeout, o.err)
		}
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w (%s)", ErrJobTimeout, j.timeout)
		}
		return zero, ctx.Err()
	}
}

// sweep drops settled results that nobody claimed within the retention window.
func (q *Queue[T]) sweep() {
	cutoff := time.Now().Add(-q.retention)
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, j := range q.jobs {
		select {
		case <-j.done:
			if j.finished.Before(cutoff) {
				delete(q.jobs, id)
			}
		default:
		}
	}
}
