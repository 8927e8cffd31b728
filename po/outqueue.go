package po

import (
	"sync"
	"time"
)

// outQueue is the raw-frame FIFO a connection's writer goroutine drains.
// Unlike mailbox.Mailbox (which backs it for ordinary traffic) this queue
// also supports Prepend, needed by deliverNext to reinsert an in-flight,
// possibly partially-written frame right behind a fresh socket's
// handshake message without losing FIFO order among everything else.
type outQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newOutQueue() *outQueue {
	q := &outQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append adds frame to the back of the queue.
func (q *outQueue) Append(frame []byte) {
	q.mu.Lock()
	q.items = append(q.items, frame)
	q.cond.Signal()
	q.mu.Unlock()
}

// Prepend inserts frame at the front of the queue, ahead of everything
// currently queued.
func (q *outQueue) Prepend(frame []byte) {
	q.mu.Lock()
	q.items = append([][]byte{frame}, q.items...)
	q.cond.Signal()
	q.mu.Unlock()
}

// PrependAll inserts frames at the front of the queue, preserving their
// relative order (frames[0] ends up frontmost), ahead of everything
// already queued.
func (q *outQueue) PrependAll(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	q.mu.Lock()
	merged := make([][]byte, 0, len(frames)+len(q.items))
	merged = append(merged, frames...)
	merged = append(merged, q.items...)
	q.items = merged
	q.cond.Signal()
	q.mu.Unlock()
}

// Take blocks until a frame is available or the queue is closed, in which
// case it returns nil, false.
func (q *outQueue) Take() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

// TakeTimeout is Take with a bound on how long to block, used by a
// session's writer goroutine so it can still notice its tomb dying even
// while the (session-independent) out-queue is empty.
func (q *outQueue) TakeTimeout(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

// Close wakes any blocked Take so the writer goroutine can exit.
func (q *outQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Reopen clears the closed flag so the queue can be reused across a
// reconnect without losing whatever is still queued.
func (q *outQueue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}
