package po

import (
	"errors"
	"net"
	"sync"
	"time"

	"gopkg.in/tomb.v1"

	"github.com/wirepost/mop/wire/envelope"
	"github.com/wirepost/mop/wire/frame"
)

const (
	reconnectDelay   = 500 * time.Millisecond
	specialRetryTick = 100 * time.Millisecond
	readIdleTick     = 2 * time.Second
)

// cpoConn is the supervised connection a PO keeps to the central post
// office. One long-lived drain goroutine moves messages out of the
// CPO-bound mailbox into a raw-frame out-queue; each connection attempt
// spins up its own tomb.v1-supervised reader, writer and ping-check
// goroutines against that out-queue, and reconnects after reconnectDelay
// on any failure.
type cpoConn struct {
	po  *PO
	out *outQueue

	mu            sync.Mutex
	conn          net.Conn
	session       *tomb.Tomb
	everConnected bool
	stopped       bool
	lastActivity  time.Time // set on connect and on every observed read

	writeMu  sync.Mutex
	inFlight []byte // original bytes of the frame currently (or most recently) being written
}

func newCPOConn(p *PO) *cpoConn {
	return &cpoConn{po: p, out: newOutQueue()}
}

func (c *cpoConn) start() {
	go c.drainLoop()
	go c.supervise()
}

func (c *cpoConn) stop() {
	c.mu.Lock()
	c.stopped = true
	conn := c.conn
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Kill(nil)
	}
	if conn != nil {
		conn.Close()
	}
	c.out.Close()
}

// drainLoop moves outbound messages from the CPO-bound mailbox into the
// raw-frame out-queue. It runs for the PO's lifetime, independent of any
// one connection attempt, so messages enqueued while disconnected are
// still waiting for the writer once a session is established.
func (c *cpoConn) drainLoop() {
	mb, ok := c.po.Mailbox(cpoMailboxName)
	if !ok {
		return
	}
	for {
		m := mb.Take()
		if m == nil {
			return
		}
		f, err := c.frameFor(m)
		if err != nil {
			if c.po.log != nil {
				c.po.log.WithError(err).Warn("po: dropping outbound message that does not fit a frame")
			}
			continue
		}
		c.out.Append(f)
	}
}

// supervise is the outer reconnect loop.
func (c *cpoConn) supervise() {
	for {
		if c.isStopped() {
			return
		}
		err := c.runOnce()
		if err != nil && c.po.log != nil {
			c.po.log.WithError(err).Warn("po: cpo connection attempt ended")
		}
		if c.isStopped() {
			return
		}
		time.Sleep(reconnectDelay)
	}
}

func (c *cpoConn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *cpoConn) runOnce() error {
	conn, err := net.DialTimeout("tcp", c.po.dialAddr(), 5*time.Second)
	if err != nil {
		return err
	}

	session := new(tomb.Tomb)
	c.mu.Lock()
	c.conn = conn
	c.session = session
	c.lastActivity = time.Now()
	c.mu.Unlock()

	c.out.Reopen()
	c.deliverHandshake()

	// tomb.v1 has no Go: each worker kills the shared tomb with its own
	// exit reason, and the session is marked done once all three have
	// returned.
	var workers sync.WaitGroup
	workers.Add(3)
	go func() { defer workers.Done(); session.Kill(c.readLoop(conn, session)) }()
	go func() { defer workers.Done(); session.Kill(c.writeLoop(conn, session)) }()
	go func() { defer workers.Done(); session.Kill(c.pingCheckLoop(session)) }()

	<-session.Dying()
	conn.Close()
	workers.Wait()
	session.Done()

	c.mu.Lock()
	c.conn = nil
	c.session = nil
	c.mu.Unlock()

	return session.Wait()
}

func (c *cpoConn) readLoop(conn net.Conn, t *tomb.Tomb) error {
	df := frame.NewDeframer(c.po.MaxMessageSize())
	buf := make([]byte, 4096)
	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTick))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if c.isStopped() {
				return nil
			}
			return err
		}
		c.touch()
		for _, payload := range df.Feed(buf[:n]) {
			m := envelope.New()
			if uerr := m.UnmarshalJSON(payload); uerr != nil {
				if c.po.log != nil {
					c.po.log.WithError(uerr).Warn("po: dropping malformed inbound frame")
				}
				continue
			}
			c.po.Route(m)
		}
	}
}

func (c *cpoConn) writeLoop(conn net.Conn, t *tomb.Tomb) error {
	// inFlight keeps the most recently written frame even after Write
	// returns, since a socket the CPO has already closed still accepts
	// bytes locally; deliverHandshake resends it on the next session. The
	// session's first frame is its own handshake, which is not kept.
	handshake := true
	for {
		f, ok := c.out.TakeTimeout(readIdleTick)
		if !ok {
			select {
			case <-t.Dying():
				return nil
			default:
				continue
			}
		}
		select {
		case <-t.Dying():
			c.out.Prepend(f)
			return nil
		default:
		}
		c.writeMu.Lock()
		c.inFlight = f
		c.writeMu.Unlock()
		if _, err := conn.Write(f); err != nil {
			return err
		}
		if handshake {
			handshake = false
			c.writeMu.Lock()
			c.inFlight = nil
			c.writeMu.Unlock()
		}
	}
}

func (c *cpoConn) pingCheckLoop(t *tomb.Tomb) error {
	ticker := time.NewTicker(specialRetryTick)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			c.po.retrySpecialWaiters()
			threshold := time.Duration(float64(c.po.PingIntervalMS())*1.5) * time.Millisecond
			if c.sinceActivity() > threshold {
				return errors.New("po: no traffic from cpo within liveness threshold")
			}
		}
	}
}

func (c *cpoConn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *cpoConn) sinceActivity() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

func (c *cpoConn) frameFor(m *envelope.Message) ([]byte, error) {
	payload, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return frame.Frame(payload, c.po.MaxMessageSize())
}

// deliverHandshake sends manage.connect (first ever connection) or
// manage.reconnect (every subsequent one). It uses deliverNext semantics:
// the handshake is pushed to the very front of the out-queue, and the
// frame most recently handed to the previous socket (whether or not its
// write completed) is reinserted directly behind it, so a frame lost with
// that socket is sent again, possibly as a duplicate, and FIFO order
// among real application messages is preserved.
func (c *cpoConn) deliverHandshake() {
	mb, ok := c.po.Mailbox(cpoMailboxName)
	if !ok {
		return
	}

	c.mu.Lock()
	verb := "manage.connect"
	if c.everConnected {
		verb = "manage.reconnect"
	}
	c.everConnected = true
	c.mu.Unlock()

	m := mb.CreateDirectMessage("central.po", verb, true)
	m.Body["poName"] = c.po.name
	m.Body["authenticator"] = envelope.Authenticator(c.po.secret, c.po.name, m.Env.ID)

	hsFrame, err := c.frameFor(m)
	if err != nil {
		if c.po.log != nil {
			c.po.log.WithError(err).Error("po: failed to frame handshake message")
		}
		return
	}

	c.writeMu.Lock()
	partial := c.inFlight
	c.inFlight = nil
	c.writeMu.Unlock()

	if partial != nil {
		c.out.PrependAll([][]byte{hsFrame, partial})
	} else {
		c.out.Prepend(hsFrame)
	}
}
