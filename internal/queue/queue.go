// Package queue holds the in-process dispatch queue between request handlers
// and the payment simulation worker.
package queue

import (
	"context"
	"sync"

	"idempotent-checkout/internal/domain"
)

// Queue is an unbounded FIFO. Any number of goroutines may Enqueue; a single
// consumer calls Dequeue. Contents are lost when the process exits.
type Queue struct {
	mu     sync.Mutex
	items  []domain.PaymentSimulationJob
	notify chan struct{}
}

func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends job and never blocks.
func (q *Queue) Enqueue(job domain.PaymentSimulationJob) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a job is available or ctx is done. Once ctx is done it
// returns ctx.Err() even if jobs are still queued.
func (q *Queue) Dequeue(ctx context.Context) (domain.PaymentSimulationJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PaymentSimulationJob{}, err
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = domain.PaymentSimulationJob{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.PaymentSimulationJob{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
