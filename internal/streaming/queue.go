package streaming

import (
	"sync"
	"time"
)

// wordQueue is an unbounded FIFO of confirmed words. Push never blocks;
// Pop blocks up to a timeout so the consumer can poll its stop signal.
type wordQueue struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
}

func newWordQueue() *wordQueue {
	return &wordQueue{signal: make(chan struct{}, 1)}
}

func (q *wordQueue) Push(words ...string) {
	if len(words) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, words...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *wordQueue) Pop(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			w := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return w, true
		}
		q.mu.Unlock()

		remain := time.Until(deadline)
		if remain <= 0 {
			return "", false
		}
		timer := time.NewTimer(remain)
		select {
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
			return "", false
		}
	}
}

func (q *wordQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
