package scheduler

import (
	"context"
	"slices"
	"sync"
	"time"
)

// ReportJobKey names the pending report job in a JobQueue.
const ReportJobKey = "uas_send_scheduled_email"

// JobQueue holds one-shot jobs keyed by name. Implementations must make
// Claim safe across processes: a due job is handed to exactly one caller.
type JobQueue interface {
	// ScheduleOnce adds a job for key due at at.
	ScheduleOnce(ctx context.Context, key string, at time.Time) error
	// CancelAll removes every pending job for key and reports how many were removed.
	CancelAll(ctx context.Context, key string) (int, error)
	// Peek returns the earliest pending due time for key.
	Peek(ctx context.Context, key string) (time.Time, bool, error)
	// Claim removes and returns the earliest job for key that is due at or before now.
	Claim(ctx context.Context, key string, now time.Time) (time.Time, bool, error)
}

// MemoryQueue is an in-process JobQueue for single-instance deployments and tests.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string][]time.Time
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string][]time.Time)}
}

func (q *MemoryQueue) ScheduleOnce(_ context.Context, key string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[key] = append(q.jobs[key], at)
	slices.SortFunc(q.jobs[key], time.Time.Compare)
	return nil
}

func (q *MemoryQueue) CancelAll(_ context.Context, key string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs[key])
	delete(q.jobs, key)
	return n, nil
}

func (q *MemoryQueue) Peek(_ context.Context, key string) (time.Time, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs[key]) == 0 {
		return time.Time{}, false, nil
	}
	return q.jobs[key][0], true, nil
}

func (q *MemoryQueue) Claim(_ context.Context, key string, now time.Time) (time.Time, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs[key]
	if len(jobs) == 0 || jobs[0].After(now) {
		return time.Time{}, false, nil
	}
	at := jobs[0]
	q.jobs[key] = jobs[1:]
	return at, true, nil
}

// Len reports how many jobs are pending for key.
func (q *MemoryQueue) Len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs[key])
}
