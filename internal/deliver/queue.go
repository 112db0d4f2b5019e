// ABOUTME: Delivery queue interface plus the in-memory implementation
// ABOUTME: The memory queue backs tests and redis-less single-node runs

package deliver

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memPollInterval is how often the memory queue re-checks for work while
// a Dequeue is blocked.
const memPollInterval = 10 * time.Millisecond

// QueueStats reports queue depths for health and the CLI.
type QueueStats struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
}

// Queue hands delivery jobs between the scheduling side and the worker.
// Dequeue blocks up to timeout and returns (nil, nil) when no job arrived.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	DeadLetter(ctx context.Context, job *Job) error
	DeadLetters(ctx context.Context, limit int) ([]*Job, error)
	Stats(ctx context.Context) (QueueStats, error)
}

type delayedJob struct {
	job     *Job
	readyAt time.Time
}

// MemQueue is a process-local Queue.
type MemQueue struct {
	mu      sync.Mutex
	ready   []*Job
	delayed []delayedJob
	dead    []*Job

	now func() time.Time
}

func NewMemQueue() *MemQueue {
	return &MemQueue{now: time.Now}
}

func (q *MemQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, job)
	return nil
}

func (q *MemQueue) EnqueueDelayed(_ context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, delayedJob{job: job, readyAt: q.now().Add(delay)})
	return nil
}

// Dequeue promotes due delayed jobs, then pops the oldest ready job. It
// polls until timeout because the memory queue has no blocking primitive.
func (q *MemQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	deadline := q.now().Add(timeout)
	for {
		if job := q.pop(); job != nil {
			return job, nil
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(memPollInterval):
		}
	}
}

func (q *MemQueue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var pending []delayedJob
	for _, d := range q.delayed {
		if d.readyAt.After(now) {
			pending = append(pending, d)
		} else {
			q.ready = append(q.ready, d.job)
		}
	}
	q.delayed = pending

	if len(q.ready) == 0 {
		return nil
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	return job
}

func (q *MemQueue) DeadLetter(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	return nil
}

func (q *MemQueue) DeadLetters(_ context.Context, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, len(q.dead))
	copy(jobs, q.dead)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].EnqueuedAt.After(jobs[j].EnqueuedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (q *MemQueue) Stats(_ context.Context) (QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Ready:   int64(len(q.ready)),
		Delayed: int64(len(q.delayed)),
		Dead:    int64(len(q.dead)),
	}, nil
}
