package cpo

import (
	"sync"
	"sync/atomic"
	"time"
)

// outQueueCap is the fixed capacity of a POClient's outbound frame queue of
// serialized buffers.
const outQueueCap = 100

// outQueue is a bounded FIFO of already-framed bytes. It mirrors
// po.outQueue's Prepend/TakeTimeout shape (both back a connection's writer
// goroutine against a queue that outlives any one socket) but additionally
// enforces outQueueCap on Append, dropping the newest arrival and reporting
// the drop so the caller can log it.
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

// Append adds frame to the back of the queue. It reports ok=false without
// enqueuing if the queue is already at outQueueCap.
func (q *outQueue) Append(frame []byte) (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= outQueueCap {
		return false
	}
	q.items = append(q.items, frame)
	q.cond.Signal()
	return true
}

// Prepend inserts frame at the front of the queue, bypassing outQueueCap.
// Used to re-insert a frame that was already accepted once (a partially
// written in-flight buffer, or a write failure retry).
func (q *outQueue) Prepend(frame []byte) {
	q.mu.Lock()
	q.items = append([][]byte{frame}, q.items...)
	q.cond.Signal()
	q.mu.Unlock()
}

// TakeTimeout blocks until a frame is available, the queue closes, or
// timeout elapses (returning ok=false in the last two cases).
func (q *outQueue) TakeTimeout(timeout time.Duration) (frame []byte, ok bool) {
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

// Close wakes any blocked TakeTimeout so a connection's writer exits.
func (q *outQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Reopen clears the closed flag so the same POClient's queue can back a new
// connection after a reconnect without losing whatever is still queued.
func (q *outQueue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// POClient is the CPO's persistent, per-configured-peer state: it survives
// across reconnects, unlike POConnection which is torn down and rebuilt
// with every socket.
type POClient struct {
	Name    string
	Secret  []byte
	Manager bool

	out *outQueue

	mu              sync.Mutex
	conn            *POConnection
	connectionCount int
	lastConnectTime time.Time

	rxBytes    uint64
	txBytes    uint64
	rxMessages uint64
	txMessages uint64
}

func newPOClient(name string, secret []byte, manager bool) *POClient {
	return &POClient{
		Name:    name,
		Secret:  secret,
		Manager: manager,
		out:     newOutQueue(),
	}
}

// Connection returns the POClient's current connection, or nil if it is
// not presently connected.
func (c *POClient) Connection() *POConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsCurrentConnection reports whether pc is still this client's active
// connection, used by a writer goroutine to notice it has been superseded
// by a reconnect without needing its own stop channel.
func (c *POClient) IsCurrentConnection(pc *POConnection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == pc
}

// attach associates pc as this client's live connection, recording whether
// this is the first-ever connection (connectionCount was 0) so the router
// knows whether to reply manage.connect or manage.reconnect. Whether to
// run subscription refresh is decided by the handshake verb instead.
func (c *POClient) attach(pc *POConnection) (firstConnect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	firstConnect = c.connectionCount == 0
	c.connectionCount++
	c.lastConnectTime = time.Now()
	c.conn = pc
	c.out.Reopen()
	return firstConnect
}

// detach clears the client's connection reference iff it still points at
// pc (a newer connection may already have replaced it).
func (c *POClient) detach(pc *POConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == pc {
		c.conn = nil
		c.out.Close()
	}
}

func (c *POClient) addRxStats(messages int, bytes int) {
	atomic.AddUint64(&c.rxMessages, uint64(messages))
	atomic.AddUint64(&c.rxBytes, uint64(bytes))
}

func (c *POClient) addTxStats(bytes int) {
	atomic.AddUint64(&c.txMessages, 1)
	atomic.AddUint64(&c.txBytes, uint64(bytes))
}

// stats is a point-in-time snapshot used by manage.status.
type stats struct {
	RxBytes, TxBytes       uint64
	RxMessages, TxMessages uint64
	ConnectionCount        int
	LastConnectTime        time.Time
	Connected              bool
}

func (c *POClient) snapshot() stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stats{
		RxBytes:         atomic.LoadUint64(&c.rxBytes),
		TxBytes:         atomic.LoadUint64(&c.txBytes),
		RxMessages:      atomic.LoadUint64(&c.rxMessages),
		TxMessages:      atomic.LoadUint64(&c.txMessages),
		ConnectionCount: c.connectionCount,
		LastConnectTime: c.lastConnectTime,
		Connected:       c.conn != nil,
	}
}
