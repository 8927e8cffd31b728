// Package cpo implements the central post office: the broker that accepts
// connections from post offices, authenticates them, routes direct and
// publish messages between them, re-encrypts selectively-encrypted fields
// per hop, snoops subscribe/unsubscribe traffic to build its routing
// table, and answers the message-driven management surface.
//
// This is implemented without a literal NIO-style selector: one goroutine
// per accepted connection does a blocking read and pushes raw bytes onto a
// single bounded channel (an rx-bytes queue, capacity 100), and exactly
// one router goroutine drains that channel, feeding bytes to each
// connection's own de-framer and handling every resulting message. That
// single goroutine does all routing, authentication and subscription
// snooping, as a selector loop would, without needing one. The
// connection and client maps are still guarded by their own mutexes,
// since the accept loop, the timers and client-list reloads also touch
// them.
package cpo

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wirepost/mop/config"
	"github.com/wirepost/mop/event"
	"github.com/wirepost/mop/log"
	"github.com/wirepost/mop/subscription"
	"github.com/wirepost/mop/wire/envelope"
	"github.com/wirepost/mop/wire/frame"
)

const rxQueueCap = 100

// pongCheckTick is how often the pong-checker samples every connection's
// time-since-last-pong.
const pongCheckTick = 100 * time.Millisecond

// WriteConfigFunc persists a CPO's current client list, e.g. to the
// on-disk config file an external loader reads at startup. Persisting
// config is out of scope for this package: manage.write simply invokes
// this hook if one is installed and acks either way.
type WriteConfigFunc func(config.CPOConfig) error

// CentralPostOffice is the broker. Construct with New, then Start.
type CentralPostOffice struct {
	cfg    config.CPOConfig
	log    log.Logger
	events *event.Bus

	WriteConfig WriteConfigFunc
	Monitor     MonitorCollector

	ln net.Listener

	clientsMu sync.RWMutex
	clients   map[string]*POClient

	connsMu     sync.RWMutex
	connections map[string]*POConnection

	subs *subscription.Index

	rx chan rxItem

	idCounter int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	eg       *errgroup.Group
}

type rxItem struct {
	conn *POConnection
	buf  []byte // nil signals the connection closed
}

// New builds a CentralPostOffice from an already-validated config. Call
// Start to bind the listening socket and begin serving.
func New(cfg config.CPOConfig, logger log.Logger, events *event.Bus) *CentralPostOffice {
	c := &CentralPostOffice{
		cfg:         cfg,
		log:         logger,
		events:      events,
		clients:     make(map[string]*POClient),
		connections: make(map[string]*POConnection),
		subs:        subscription.New(),
		rx:          make(chan rxItem, rxQueueCap),
		stopCh:      make(chan struct{}),
		Monitor:     defaultMonitorCollector{},
	}
	for _, cl := range cfg.Clients {
		secret, _ := config.DecodeSecret(cl.Secret)
		c.clients[cl.Name] = newPOClient(cl.Name, secret, cl.Manager)
	}
	return c
}

func (c *CentralPostOffice) nextID() string {
	n := atomic.AddInt64(&c.idCounter, 1)
	return frame.EncodeInt(n) + ".central"
}

// newMessage builds a CPO-originated message addressed to to.
func (c *CentralPostOffice) newMessage(to, msgType string) *envelope.Message {
	m := envelope.New()
	m.Env.From = "central.po"
	m.Env.To = to
	m.Env.Type = msgType
	m.Env.ID = c.nextID()
	return m
}

func (c *CentralPostOffice) newReply(orig *envelope.Message, msgType string) *envelope.Message {
	m := c.newMessage(orig.Env.From, msgType)
	m.Env.Reply = orig.Env.ID
	return m
}

// Start binds the listening socket and launches the accept loop, the
// router, and the pinger/pong-checker timer pair. It returns once the
// socket is bound; serving continues in the background until Stop.
func (c *CentralPostOffice) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", c.cfg.LocalAddress, c.cfg.Port))
	if err != nil {
		return fmt.Errorf("cpo: listen: %w", err)
	}
	c.ln = ln

	c.wg.Add(2)
	go c.acceptLoop()
	go c.routerLoop()

	eg := new(errgroup.Group)
	c.eg = eg
	eg.Go(c.pingerLoop)
	eg.Go(c.pongCheckLoop)

	if c.events != nil {
		c.events.Publish(event.ServerStarting)
	}
	return nil
}

// Stop closes the listening socket, every live connection, and waits for
// the accept/router/timer goroutines to exit.
func (c *CentralPostOffice) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.ln != nil {
			_ = c.ln.Close()
		}
		c.connsMu.Lock()
		for _, pc := range c.connections {
			pc.close()
		}
		c.connsMu.Unlock()
		if c.eg != nil {
			_ = c.eg.Wait()
		}
		c.wg.Wait()
		if c.events != nil {
			c.events.Publish(event.ServerStopped)
		}
	})
}

func (c *CentralPostOffice) isStopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *CentralPostOffice) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			if c.isStopped() {
				return
			}
			if c.log != nil {
				c.log.WithError(err).Warn("cpo: accept failed")
			}
			continue
		}
		pc := newPOConnection(conn, c.cfg.MaxMessageSize)
		c.connsMu.Lock()
		c.connections[pc.Name] = pc
		c.connsMu.Unlock()
		c.wg.Add(1)
		go c.readLoop(pc)
	}
}

// readLoop is the per-connection half of the event loop: a blocking read,
// pushed raw onto the shared rx channel for the single router goroutine to
// de-frame and dispatch.
func (c *CentralPostOffice) readLoop(pc *POConnection) {
	defer c.wg.Done()
	buf := make([]byte, c.cfg.MaxMessageSize+10)
	for {
		n, err := pc.conn.Read(buf)
		if err != nil {
			c.enqueueRx(rxItem{conn: pc, buf: nil})
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		c.enqueueRx(rxItem{conn: pc, buf: data})
	}
}

func (c *CentralPostOffice) enqueueRx(item rxItem) {
	select {
	case c.rx <- item:
	case <-c.stopCh:
	}
}

func (c *CentralPostOffice) routerLoop() {
	defer c.wg.Done()
	for {
		select {
		case item := <-c.rx:
			if item.buf == nil {
				c.handleClosed(item.conn)
				continue
			}
			for _, payload := range item.conn.deframer.Feed(item.buf) {
				m := envelope.New()
				if err := m.UnmarshalJSON(payload); err != nil {
					if c.log != nil {
						c.log.WithError(err).Warn("cpo: dropping malformed inbound frame")
					}
					continue
				}
				if cl := item.conn.Client(); cl != nil {
					cl.addRxStats(1, len(payload))
				}
				c.handleMessage(item.conn, m)
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *CentralPostOffice) handleClosed(pc *POConnection) {
	pc.close()
	c.connsMu.Lock()
	delete(c.connections, pc.Name)
	c.connsMu.Unlock()
	if cl := pc.Client(); cl != nil {
		cl.detach(pc)
		if c.events != nil {
			c.events.Publish(event.ClientDisconnected, cl.Name)
		}
	}
}

// startWriter launches the per-connection writer goroutine that drains
// client's out-queue for as long as pc remains client's active connection.
// It is started once, right after authentication associates pc with
// client.
func (c *CentralPostOffice) startWriter(pc *POConnection, client *POClient) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			f, ok := client.out.TakeTimeout(2 * time.Second)
			if !ok {
				if client.IsCurrentConnection(pc) && pc.isOpen() {
					continue
				}
				return
			}
			if !client.IsCurrentConnection(pc) {
				client.out.Prepend(f)
				return
			}
			if _, err := pc.conn.Write(f); err != nil {
				client.out.Prepend(f)
				c.enqueueRx(rxItem{conn: pc, buf: nil})
				return
			}
			client.addTxStats(len(f))
		}
	}()
}

func (c *CentralPostOffice) client(name string) (*POClient, bool) {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	cl, ok := c.clients[name]
	return cl, ok
}

// ReplaceClients diffs the running client set against newClients
// (typically re-read from disk on SIGHUP) and adds or removes entries to
// match: newly-listed names are registered, names no longer listed have
// their connection closed and are forgotten. Clients present in both keep
// their live connection and accumulated stats untouched, even if their
// secret or manager flag changed; both are replaced in place on the
// existing POClient, so a changed secret is checked on that client's next
// authentication attempt and used for re-encryption from then on, while
// the live connection is not re-authenticated.
func (c *CentralPostOffice) ReplaceClients(newClients []config.ClientConfig) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	wanted := make(map[string]config.ClientConfig, len(newClients))
	for _, cc := range newClients {
		wanted[cc.Name] = cc
	}

	for name, cl := range c.clients {
		if _, ok := wanted[name]; ok {
			continue
		}
		if old := cl.Connection(); old != nil {
			cl.detach(old)
			old.close()
		}
		delete(c.clients, name)
	}

	for name, cc := range wanted {
		if cl, ok := c.clients[name]; ok {
			secret, _ := config.DecodeSecret(cc.Secret)
			cl.Secret = secret
			cl.Manager = cc.Manager
			continue
		}
		secret, _ := config.DecodeSecret(cc.Secret)
		c.clients[name] = newPOClient(name, secret, cc.Manager)
	}
}

func (c *CentralPostOffice) connectedClientNames() []string {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	var out []string
	for name, cl := range c.clients {
		if cl.Connection() != nil {
			out = append(out, name)
		}
	}
	return out
}
