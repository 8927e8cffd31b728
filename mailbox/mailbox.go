// Package mailbox implements the bounded, FIFO, reply-waiting queue that
// every actor owns. A Mailbox never blocks the sender:
// Send hands off to the owning post office's router and returns
// immediately; receiving from the network or from another local mailbox
// always goes through Receive, which resolves a matching reply-waiter
// before ever touching the queue.
package mailbox

import (
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/wirepost/mop/log"
	"github.com/wirepost/mop/wire/envelope"
)

// Router is the subset of post-office behavior a mailbox needs: routing a
// message it was handed by an actor, and minting a fresh, PO-unique
// message id. Declared here (rather than importing package po) to avoid
// an import cycle, since the PO owns a registry of Mailboxes.
type Router interface {
	Route(m *envelope.Message)
	NextID() string
	Name() string
}

// ErrReplyTimeout is returned by SendAndWaitForReply when no reply arrives
// before the deadline.
var ErrReplyTimeout = errors.New("mailbox: timed out waiting for reply")

type waiter struct {
	ch chan *envelope.Message
}

// Mailbox is a bounded FIFO queue of inbound messages plus a registry of
// in-flight reply rendezvous slots, one per outstanding message id.
type Mailbox struct {
	Name string

	po         Router
	capacity   int
	dropOldest bool
	log        log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	q       *queue.Queue
	waiters map[string]*waiter
	closed  bool
}

// New creates a mailbox named name, owned by po, holding at most capacity
// undelivered messages. dropOldest selects the queue overflow policy: false
// (the default this system uses) drops the newest arrival and logs; true
// evicts the oldest queued message to make room for the new one.
func New(name string, po Router, capacity int, dropOldest bool, logger log.Logger) *Mailbox {
	mb := &Mailbox{
		Name:       name,
		po:         po,
		capacity:   capacity,
		dropOldest: dropOldest,
		log:        logger,
		q:          queue.New(),
		waiters:    make(map[string]*waiter),
	}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

// Address returns this mailbox's fully-qualified "poName.mailboxName".
func (mb *Mailbox) Address() string {
	return mb.po.Name() + "." + mb.Name
}

func (mb *Mailbox) stamp(msgType string) *envelope.Message {
	m := envelope.New()
	m.Env.From = mb.Address()
	m.Env.Type = msgType
	m.Env.ID = mb.po.NextID()
	return m
}

// CreateDirectMessage builds a point-to-point message addressed to to.
func (mb *Mailbox) CreateDirectMessage(to, msgType string, expectReply bool) *envelope.Message {
	m := mb.stamp(msgType)
	m.Env.To = to
	m.Env.Expect = expectReply
	return m
}

// CreateReplyMessage builds a reply to orig, addressed back to its
// sender, with Reply set to orig's id.
func (mb *Mailbox) CreateReplyMessage(orig *envelope.Message, msgType string) *envelope.Message {
	m := mb.stamp(msgType)
	m.Env.To = orig.Env.From
	m.Env.Reply = orig.Env.ID
	return m
}

// CreatePublishMessage builds a broadcast message (no To).
func (mb *Mailbox) CreatePublishMessage(msgType string) *envelope.Message {
	return mb.stamp(msgType)
}

// Send hands m to the owning post office's router. Non-blocking; there is
// no delivery acknowledgement.
func (mb *Mailbox) Send(m *envelope.Message) {
	mb.po.Route(m)
}

// SendAndWaitForReply registers a rendezvous slot keyed by m.id, sends m,
// and waits up to deadline for a reply. The waiter is always unregistered
// before returning.
func (mb *Mailbox) SendAndWaitForReply(m *envelope.Message, deadline time.Duration) (*envelope.Message, error) {
	w := &waiter{ch: make(chan *envelope.Message, 1)}
	mb.mu.Lock()
	mb.waiters[m.Env.ID] = w
	mb.mu.Unlock()
	defer func() {
		mb.mu.Lock()
		delete(mb.waiters, m.Env.ID)
		mb.mu.Unlock()
	}()

	mb.Send(m)

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case r := <-w.ch:
		return r, nil
	case <-timer.C:
		return nil, ErrReplyTimeout
	}
}

// Receive is called by the post office to deliver an inbound message. If
// m.Reply names a registered waiter, the message goes straight to that
// waiter and never enters the queue. A waiter is unregistered as soon as
// it is matched or its SendAndWaitForReply returns, so a further reply to
// an already-resolved id, like one arriving after the deadline, is not
// discarded: it is enqueued as an ordinary message. Otherwise m is
// enqueued, dropping per the configured overflow policy if the queue is
// full.
func (mb *Mailbox) Receive(m *envelope.Message) {
	mb.mu.Lock()
	if m.Env.Reply != "" {
		if w, ok := mb.waiters[m.Env.Reply]; ok {
			delete(mb.waiters, m.Env.Reply)
			mb.mu.Unlock()
			select {
			case w.ch <- m:
			default:
				// waiter already resolved/abandoned; fall through silently.
			}
			return
		}
	}

	if mb.q.Length() >= mb.capacity {
		if mb.dropOldest {
			mb.q.Remove()
			mb.q.Add(m)
			mb.cond.Signal()
		} else if mb.log != nil {
			mb.log.WithField("mailbox", mb.Address()).Warn("mailbox full, dropping newest message")
		}
		mb.mu.Unlock()
		return
	}
	mb.q.Add(m)
	mb.cond.Signal()
	mb.mu.Unlock()
}

// Take blocks until a message is available (or the mailbox is closed, in
// which case it returns nil).
func (mb *Mailbox) Take() *envelope.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for mb.q.Length() == 0 && !mb.closed {
		mb.cond.Wait()
	}
	if mb.q.Length() == 0 {
		return nil
	}
	m := mb.q.Peek().(*envelope.Message)
	mb.q.Remove()
	return m
}

// Poll blocks until a message is available or timeout elapses, returning
// nil on timeout.
func (mb *Mailbox) Poll(timeout time.Duration) *envelope.Message {
	deadline := time.Now().Add(timeout)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for mb.q.Length() == 0 && !mb.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.AfterFunc(remaining, func() {
			mb.mu.Lock()
			mb.cond.Broadcast()
			mb.mu.Unlock()
		})
		mb.cond.Wait()
		timer.Stop()
	}
	if mb.q.Length() == 0 {
		return nil
	}
	m := mb.q.Peek().(*envelope.Message)
	mb.q.Remove()
	return m
}

// Close wakes any blocked Take/Poll callers so dispatcher goroutines can
// exit during shutdown.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	mb.closed = true
	mb.cond.Broadcast()
	mb.mu.Unlock()
}

// Len reports the number of queued, undelivered messages.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.q.Length()
}
