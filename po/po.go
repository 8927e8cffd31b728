// Package po implements a post office: the client-side half of the star
// topology. A PO owns a registry of named mailboxes, routes
// messages between them, maintains its own subscription index, and keeps a
// single supervised connection to the central post office for everything
// that isn't purely local.
package po

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wirepost/mop/config"
	"github.com/wirepost/mop/log"
	"github.com/wirepost/mop/mailbox"
	"github.com/wirepost/mop/subscription"
	"github.com/wirepost/mop/wire/envelope"
	"github.com/wirepost/mop/wire/frame"
)

// toInt converts a JSON-decoded numeric body field to an int. Values that
// crossed the wire are always float64 via encoding/json; locally built
// messages may carry int or int64.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// cpoMailboxName is the reserved local mailbox that holds messages destined
// for the central post office. Its Take() consumer is the connection
// drain goroutine rather than an actor, but it is otherwise an ordinary
// Mailbox. It also stands in as the proxy mailbox for foreign
// subscribers.
const cpoMailboxName = "[({CPO})]"

// managementMailboxName is the reserved local mailbox that receives
// manage.subscribe/unsubscribe traffic addressed to this PO.
const managementMailboxName = "po"

var (
	// ErrReservedName is returned by CreateMailbox for a name this package
	// uses internally.
	ErrReservedName = errors.New("po: mailbox name is reserved")
	// ErrDuplicateMailbox is returned by CreateMailbox for an already-taken
	// name.
	ErrDuplicateMailbox = errors.New("po: mailbox name already exists")
	// ErrInvalidMailboxName is returned for a name containing '.'.
	ErrInvalidMailboxName = errors.New("po: mailbox name must not contain '.'")
)

// specialWaiter tracks an outstanding manage.subscribe/unsubscribe sent to
// a foreign PO: checked every 100ms and resent whenever more than 1s has
// passed since it was last sent, until its reply arrives or it is
// cancelled.
type specialWaiter struct {
	msg    *envelope.Message
	sentAt time.Time
}

// PO is a post office client: a named registry of mailboxes, a local
// subscription index, and a supervised connection to the central post
// office.
type PO struct {
	name   string
	secret []byte
	cfg    config.POConfig
	log    log.Logger

	idCounter int64

	// maxMessageSize and pingIntervalMS start at cfg's values and are
	// updated from the CPO's manage.connect/manage.reconnect reply: the CPO
	// is authoritative for both, since it enforces the frame size ceiling
	// and drives the ping cadence.
	maxMessageSize int64
	pingIntervalMS int64

	mu        sync.RWMutex
	mailboxes map[string]*mailbox.Mailbox

	subs *subscription.Index

	specialMu sync.Mutex
	special   map[string]*specialWaiter

	conn *cpoConn

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a PO named cfg.Name. It does not dial the CPO; call Start for
// that.
func New(cfg config.POConfig, secret []byte, logger log.Logger) *PO {
	p := &PO{
		name:           cfg.Name,
		secret:         secret,
		cfg:            cfg,
		log:            logger,
		mailboxes:      make(map[string]*mailbox.Mailbox),
		subs:           subscription.New(),
		special:        make(map[string]*specialWaiter),
		stopCh:         make(chan struct{}),
		maxMessageSize: int64(cfg.MaxMessageSize),
		pingIntervalMS: int64(cfg.PingIntervalMS),
	}
	p.mailboxes[cpoMailboxName] = mailbox.New(cpoMailboxName, p, cfg.QueueSize, cfg.DropOldest, logger)
	p.mailboxes[managementMailboxName] = mailbox.New(managementMailboxName, p, cfg.QueueSize, cfg.DropOldest, logger)
	p.conn = newCPOConn(p)
	go p.runManagementHandler()
	return p
}

// Name satisfies mailbox.Router.
func (p *PO) Name() string { return p.name }

// NextID satisfies mailbox.Router: base64(counter)+"."+poName, guaranteeing
// uniqueness across every PO in the system without coordination. The
// counter is rendered in the same private base-64 alphabet the framing
// codec uses.
func (p *PO) NextID() string {
	n := atomic.AddInt64(&p.idCounter, 1)
	return frame.EncodeInt(n) + "." + p.name
}

// CreateMailbox registers and returns a new mailbox for name.
func (p *PO) CreateMailbox(name string) (*mailbox.Mailbox, error) {
	if strings.ContainsRune(name, '.') {
		return nil, ErrInvalidMailboxName
	}
	if name == cpoMailboxName || name == managementMailboxName {
		return nil, ErrReservedName
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.mailboxes[name]; ok {
		return nil, ErrDuplicateMailbox
	}
	mb := mailbox.New(name, p, p.cfg.QueueSize, p.cfg.DropOldest, p.log)
	p.mailboxes[name] = mb
	return mb, nil
}

// Mailbox looks up a previously-created mailbox by its short name.
func (p *PO) Mailbox(name string) (*mailbox.Mailbox, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mb, ok := p.mailboxes[name]
	return mb, ok
}

// Subscribe registers mb as a subscriber of (sourceAddr, msgType). If
// sourceAddr belongs to another PO, this also sends a manage.subscribe to
// that PO via the CPO and tracks it as a special waiter until
// acknowledged.
func (p *PO) Subscribe(mb *mailbox.Mailbox, sourceAddr, msgType string) {
	p.manSub(true, mb, sourceAddr, msgType)
}

// Unsubscribe is the inverse of Subscribe.
func (p *PO) Unsubscribe(mb *mailbox.Mailbox, sourceAddr, msgType string) {
	p.manSub(false, mb, sourceAddr, msgType)
}

func (p *PO) manSub(subscribe bool, mb *mailbox.Mailbox, sourceAddr, msgType string) {
	major, minor := envelope.SplitType(msgType)
	key := subscription.Key(envelope.POPart(sourceAddr), envelope.MailboxPart(sourceAddr), major, minor)
	if subscribe {
		p.subs.Add(key, mb.Address())
	} else {
		p.subs.Remove(key, mb.Address())
	}

	if envelope.POPart(sourceAddr) == p.name {
		return
	}

	verb := "manage.subscribe"
	if !subscribe {
		verb = "manage.unsubscribe"
	}
	m := mb.CreateDirectMessage(envelope.POPart(sourceAddr)+".po", verb, true)
	m.Body["source"] = sourceAddr
	m.Body["type"] = msgType
	m.Body["requestor"] = mb.Address()
	p.Route(m) // Route registers the special waiter for *.po subscribe traffic
}

// Route implements mailbox.Router. Direct messages addressed
// locally are delivered to the named mailbox; direct messages addressed to
// a foreign PO are forwarded to the CPO-bound mailbox (and, for
// manage.subscribe/unsubscribe requests, tracked as a special waiter).
// Publish messages are delivered to every subscriber this PO's own index
// knows about, local or CPO-bound.
func (p *PO) Route(m *envelope.Message) {
	if m.Env.To != "" {
		if envelope.POPart(m.Env.To) == p.name {
			// An inbound reply whose id matches an outstanding
			// subscribe/unsubscribe retry record is its acknowledgement:
			// consume it here so the waiter stops retransmitting and the
			// ack never reaches an actor's queue.
			if m.IsReply() && p.takeSpecialWaiter(m.Env.Reply) {
				return
			}
			p.deliverLocal(envelope.MailboxPart(m.Env.To), m)
			return
		}
		// Only requests that expect an acknowledgement are tracked for
		// retransmit; re-announced subscriptions after a reconnect are
		// informational and never acked.
		if strings.HasSuffix(m.Env.To, ".po") && !m.IsReply() && m.Env.Expect &&
			(m.Env.Type == "manage.subscribe" || m.Env.Type == "manage.unsubscribe") {
			p.registerSpecialWaiter(m)
		}
		p.deliverLocal(cpoMailboxName, m)
		return
	}

	full, major := subscription.FullAndMajorKeys(m.Env.From, m.Env.Type)
	for _, addr := range p.subs.Lookup(full, major) {
		p.deliverLocal(envelope.MailboxPart(addr), m)
	}
}

func (p *PO) deliverLocal(shortName string, m *envelope.Message) {
	p.mu.RLock()
	mb, ok := p.mailboxes[shortName]
	p.mu.RUnlock()
	if !ok {
		if p.log != nil {
			p.log.WithField("mailbox", shortName).Warn("po: dropping message for unknown local mailbox")
		}
		return
	}
	mb.Receive(m)
}

func (p *PO) registerSpecialWaiter(m *envelope.Message) {
	p.specialMu.Lock()
	p.special[m.Env.ID] = &specialWaiter{msg: m, sentAt: time.Now()}
	p.specialMu.Unlock()
}

func (p *PO) clearSpecialWaiter(id string) {
	p.specialMu.Lock()
	delete(p.special, id)
	p.specialMu.Unlock()
}

// takeSpecialWaiter removes the waiter keyed by id, reporting whether one
// was present.
func (p *PO) takeSpecialWaiter(id string) bool {
	p.specialMu.Lock()
	defer p.specialMu.Unlock()
	if _, ok := p.special[id]; !ok {
		return false
	}
	delete(p.special, id)
	return true
}

// retrySpecialWaiters resends every waiter older than 1s, run by a 100ms
// ticker owned by the connection lifecycle.
func (p *PO) retrySpecialWaiters() {
	now := time.Now()
	p.specialMu.Lock()
	var stale []*envelope.Message
	for _, w := range p.special {
		if now.Sub(w.sentAt) >= time.Second {
			w.sentAt = now
			stale = append(stale, w.msg)
		}
	}
	p.specialMu.Unlock()
	for _, m := range stale {
		p.deliverLocal(cpoMailboxName, m)
	}
}

// runManagementHandler consumes manage.subscribe/unsubscribe/ping traffic
// addressed to this PO's management mailbox. A non-reply subscribe or
// unsubscribe request records a local subscription for the CPO-bound
// proxy mailbox, so that a later local publish from the named source
// also gets forwarded up to the CPO for foreign fan-out; a reply clears
// the matching special waiter. A manage.ping is answered immediately
// with a manage.pong so the CPO's liveness check sees this connection as
// alive.
func (p *PO) runManagementHandler() {
	mb, _ := p.Mailbox(managementMailboxName)
	for {
		m := mb.Take()
		if m == nil {
			return
		}
		if m.IsReply() {
			p.clearSpecialWaiter(m.Env.Reply)
			switch m.Env.Type {
			case "manage.connect":
				p.applyConnectReply(m)
				p.refreshForeignSubscriptions()
			case "manage.reconnect":
				p.applyConnectReply(m)
			}
			continue
		}
		switch m.Env.Type {
		case "manage.subscribe", "manage.unsubscribe":
			p.handleRemoteSub(mb, m)
		case "manage.ping":
			p.Route(mb.CreateReplyMessage(m, "manage.pong"))
		default:
			if p.log != nil {
				p.log.WithField("type", m.Env.Type).Warn("po: management mailbox ignoring unknown message type")
			}
		}
	}
}

func (p *PO) handleRemoteSub(mb *mailbox.Mailbox, m *envelope.Message) {
	source, _ := m.Body["source"].(string)
	msgType, _ := m.Body["type"].(string)
	major, minor := envelope.SplitType(msgType)
	key := subscription.Key(envelope.POPart(source), envelope.MailboxPart(source), major, minor)
	cpoAddr := p.name + "." + cpoMailboxName
	if m.Env.Type == "manage.subscribe" {
		p.subs.Add(key, cpoAddr)
	} else {
		p.subs.Remove(key, cpoAddr)
	}
	if m.Env.Expect {
		reply := mb.CreateReplyMessage(m, m.Env.Type)
		p.Route(reply)
	}
}

// Close tears down the connection to the CPO and wakes every mailbox so
// dispatcher goroutines exit.
func (p *PO) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.conn.stop()
		p.mu.RLock()
		defer p.mu.RUnlock()
		for _, mb := range p.mailboxes {
			mb.Close()
		}
	})
}

// Start dials the CPO and begins the supervised connect/reconnect loop.
// It returns once the first connection attempt has been dispatched;
// authentication and steady-state operation continue in the background.
func (p *PO) Start() {
	p.conn.start()
}

func (p *PO) dialAddr() string {
	return fmt.Sprintf("%s:%d", p.cfg.CPOHost, p.cfg.CPOPort)
}

// MaxMessageSize returns the frame size ceiling currently in effect,
// possibly updated by the CPO's connect/reconnect reply.
func (p *PO) MaxMessageSize() int { return int(atomic.LoadInt64(&p.maxMessageSize)) }

// PingIntervalMS returns the CPO-announced ping cadence currently in
// effect.
func (p *PO) PingIntervalMS() int { return int(atomic.LoadInt64(&p.pingIntervalMS)) }

// applyConnectReply absorbs the maxMessageSize/pingIntervalMS the CPO
// reports on every manage.connect/manage.reconnect reply.
func (p *PO) applyConnectReply(m *envelope.Message) {
	if v, ok := toInt(m.Body["maxMessageSize"]); ok && v > 0 {
		atomic.StoreInt64(&p.maxMessageSize, int64(v))
	}
	if v, ok := toInt(m.Body["pingIntervalMS"]); ok && v > 0 {
		atomic.StoreInt64(&p.pingIntervalMS, int64(v))
	}
}

// refreshForeignSubscriptions re-announces every subscription this PO
// holds on a foreign source to that source's PO, without requesting a
// reply. It runs whenever the CPO answers a handshake with
// manage.connect, i.e. whenever the CPO is seeing this client for the
// first time (including after the CPO itself restarts).
func (p *PO) refreshForeignSubscriptions() {
	for key, subscribers := range p.subs.Snapshot() {
		sourcePO, sourceMailbox, msgType := subscription.SplitKey(key)
		if sourcePO == "" || sourcePO == p.name {
			continue
		}
		for _, requestor := range subscribers {
			m := envelope.New()
			m.Env.From = requestor
			m.Env.To = sourcePO + ".po"
			m.Env.Type = "manage.subscribe"
			m.Env.ID = p.NextID()
			m.Body["source"] = sourcePO + "." + sourceMailbox
			m.Body["type"] = msgType
			m.Body["requestor"] = requestor
			p.Route(m)
		}
	}
}
