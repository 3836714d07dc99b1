package persist

import "context"

// jobQueue is the hand-off between Submit and the workers.
type jobQueue interface {
	send(ctx context.Context, j Job) error
	receive() <-chan Job
	len() int
	close()
}

type chanQueue struct {
	ch chan Job
}

func (q *chanQueue) send(ctx context.Context, j Job) error {
	select {
	case q.ch <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chanQueue) receive() <-chan Job { return q.ch }

func (q *chanQueue) len() int { return len(q.ch) }

func (q *chanQueue) close() { close(q.ch) }
