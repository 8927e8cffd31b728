package cpo

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wirepost/mop/wire/frame"
)

// POConnection is the CPO's per-TCP-link state. Its Name is the remote
// address string, fixed when the connection is accepted; only if that
// string is empty is a uuid used instead, purely for log correlation, never
// for addressing. It holds no reference back to the central post office:
// the router goroutine is the only thing that ever mutates the client
// association, so POConnection itself stays a dumb, passive record.
type POConnection struct {
	Name     string
	conn     net.Conn
	deframer *frame.Deframer

	mu         sync.Mutex
	client     *POClient
	lastPongAt time.Time
	open       bool
}

func newPOConnection(conn net.Conn, maxMessageSize int) *POConnection {
	name := conn.RemoteAddr().String()
	if name == "" {
		name = uuid.New().String()
	}
	return &POConnection{
		Name:       name,
		conn:       conn,
		deframer:   frame.NewDeframer(maxMessageSize),
		lastPongAt: time.Now(),
		open:       true,
	}
}

func (pc *POConnection) Client() *POClient {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.client
}

func (pc *POConnection) setClient(c *POClient) {
	pc.mu.Lock()
	pc.client = c
	pc.mu.Unlock()
}

func (pc *POConnection) touchPong() {
	pc.mu.Lock()
	pc.lastPongAt = time.Now()
	pc.mu.Unlock()
}

func (pc *POConnection) sinceLastPong() time.Duration {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return time.Since(pc.lastPongAt)
}

func (pc *POConnection) close() {
	pc.mu.Lock()
	if !pc.open {
		pc.mu.Unlock()
		return
	}
	pc.open = false
	pc.mu.Unlock()
	_ = pc.conn.Close()
}

func (pc *POConnection) isOpen() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.open
}
