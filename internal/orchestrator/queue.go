package orchestrator

import (
	"context"
	"sync"
)

// sentenceQueue is an unbounded FIFO handoff between the token producer and
// the synthesis consumer. close marks end of stream; items queued before it
// are still delivered.
type sentenceQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	signal chan struct{}
}

func newSentenceQueue() *sentenceQueue {
	return &sentenceQueue{signal: make(chan struct{}, 1)}
}

func (q *sentenceQueue) push(s string) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.mu.Unlock()
	q.notify()
}

func (q *sentenceQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *sentenceQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until a sentence is available. ok is false once the queue is
// closed and drained, or ctx is done.
func (q *sentenceQueue) pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return s, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", false
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return "", false
		}
	}
}
