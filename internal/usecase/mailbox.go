package usecase

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO of closures drained by a single goroutine.
// Posting never blocks, so callbacks fired from inside the loop can enqueue
// follow-up work without deadlocking.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// drain runs queued closures, including ones enqueued while draining,
// until the queue is empty.
func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		next()
	}
}

// run drains the queue on every signal. Work posted before ctx is done
// still runs once before run returns.
func (m *mailbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case <-m.signal:
			m.drain()
		}
	}
}
