package cpo

import (
	"encoding/base64"
	"strings"

	"github.com/wirepost/mop/config"
	"github.com/wirepost/mop/event"
	"github.com/wirepost/mop/wire/envelope"
)

// managementHandler processes one manage.* message addressed to
// central.po. It runs on the router goroutine.
type managementHandler func(c *CentralPostOffice, conn *POConnection, m *envelope.Message)

// managementHandlers is the verb→handler table management messages
// dispatch on, a name-keyed processor table rather than a type switch, so
// each verb is independently testable.
var managementHandlers = map[string]managementHandler{
	"manage.connect":    handleConnect,
	"manage.reconnect":  handleConnect,
	"manage.pong":       handlePong,
	"manage.status":     requireManager(handleStatus),
	"manage.write":      requireManager(handleWrite),
	"manage.add":        requireManager(handleAdd),
	"manage.delete":     requireManager(handleDelete),
	"manage.monitor":    handleMonitor,
	"manage.connected":  handleConnected,
}

func (c *CentralPostOffice) dispatchManagement(conn *POConnection, m *envelope.Message) {
	h, ok := managementHandlers[m.Env.Type]
	if !ok {
		if c.log != nil {
			c.log.WithField("type", m.Env.Type).Warn("cpo: unknown management message type")
		}
		return
	}
	h(c, conn, m)
}

// requireManager wraps a handler so it only runs for a connection whose
// POClient has the manager flag. An unauthorized caller that set expect
// gets an error-bearing ack of the same type rather than silence, so a
// misconfigured manager notices immediately; without expect the request
// is only logged and dropped.
func requireManager(h managementHandler) managementHandler {
	return func(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
		cl := conn.Client()
		if cl == nil || !cl.Manager {
			if c.log != nil {
				c.log.WithField("type", m.Env.Type).Warn("cpo: rejecting management request from non-manager client")
			}
			if cl != nil && m.Env.Expect {
				reply := c.newReply(m, m.Env.Type)
				reply.Body["error"] = "not authorized"
				c.sendTo(cl, reply)
			}
			return
		}
		h(c, conn, m)
	}
}

// handleConnect authenticates a manage.connect/manage.reconnect handshake.
// A bad authenticator always closes the connection unconditionally.
func handleConnect(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	poName, _ := m.Body["poName"].(string)
	authenticator, _ := m.Body["authenticator"].(string)

	cl, ok := c.client(poName)
	if !ok || !envelope.VerifyAuthenticator(cl.Secret, poName, m.Env.ID, authenticator) {
		if c.log != nil {
			c.log.WithField("poName", poName).Warn("cpo: authentication failed, closing connection")
		}
		conn.close()
		return
	}

	if old := cl.Connection(); old != nil && old != conn {
		cl.detach(old)
		old.close()
	}
	conn.setClient(cl)
	firstConnect := cl.attach(conn)
	c.startWriter(conn, cl)

	if c.events != nil {
		c.events.Publish(event.ClientConnected, cl.Name)
	}

	verb := "manage.reconnect"
	if firstConnect {
		verb = "manage.connect"
	}
	reply := c.newMessage(poName+".po", verb)
	reply.Env.Reply = m.Env.ID
	reply.Body["maxMessageSize"] = c.cfg.MaxMessageSize
	reply.Body["pingIntervalMS"] = c.cfg.PingIntervalMS
	c.sendTo(cl, reply)

	// The incoming verb, not the connection counter, decides the replay: a
	// PO that sent manage.connect is a fresh process that lost its local
	// subscription state, even if this broker has seen it before.
	if m.Env.Type == "manage.connect" {
		c.refreshSubscriptions(cl)
	}
}

// refreshSubscriptions replays every subscription the CPO has snooped
// whose source belongs to client, as a manage.subscribe addressed back to
// client itself, so its PO can rebuild the local "this source mailbox has
// a foreign subscriber" index it needs to forward future local publishes
// to the CPO. These replays never set expect: they are informational, not
// requests awaiting acknowledgement.
func (c *CentralPostOffice) refreshSubscriptions(client *POClient) {
	prefix := client.Name + "."
	for key, subscribers := range c.subs.EntriesWithPrefix(prefix) {
		sourceAddr, msgType := splitSubscriptionKey(key, client.Name)
		if sourceAddr == "" {
			continue
		}
		for _, requestor := range subscribers {
			m := c.newMessage(client.Name+".po", "manage.subscribe")
			m.Body["source"] = sourceAddr
			m.Body["type"] = msgType
			m.Body["requestor"] = requestor
			c.sendTo(client, m)
		}
	}
}

// splitSubscriptionKey reverses subscription.Key for a key known to start
// with sourcePO+".": it returns the reconstructed "sourcePO.sourceMailbox"
// address and the remaining "major[.minor]" type.
func splitSubscriptionKey(key, sourcePO string) (sourceAddr, msgType string) {
	rest := strings.TrimPrefix(key, sourcePO+".")
	if rest == key {
		return "", ""
	}
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return sourcePO + "." + parts[0], parts[1]
}

// handlePong resets the connection's pong-liveness clock.
func handlePong(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	conn.touchPong()
}

// handleStatus replies with CPO-wide and per-client stats, encrypting the
// per-client subtree with the requesting manager's secret.
func handleStatus(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	mgr := conn.Client()
	reply := c.newReply(m, m.Env.Type)

	clients := make(map[string]interface{})
	c.clientsMu.RLock()
	for name, cl := range c.clients {
		snap := cl.snapshot()
		clients[name] = map[string]interface{}{
			"connected":       snap.Connected,
			"rxBytes":         snap.RxBytes,
			"txBytes":         snap.TxBytes,
			"rxMessages":      snap.RxMessages,
			"txMessages":      snap.TxMessages,
			"connectionCount": snap.ConnectionCount,
			"lastConnectTime": snap.LastConnectTime.UTC().Format("2006-01-02T15:04:05.000Z"),
		}
	}
	c.clientsMu.RUnlock()

	reply.Body["name"] = c.cfg.Name
	reply.Body["clients"] = clients
	if err := reply.Encrypt(mgr.Secret, "clients"); err != nil {
		// A decrypt/encrypt failure here is a normal per-request error, not a
		// protocol break.
		if c.log != nil {
			c.log.WithError(err).Warn("cpo: failed to encrypt manage.status clients subtree")
		}
		reply.Body["error"] = err.Error()
		delete(reply.Body, "clients")
	}
	c.sendTo(mgr, reply)
}

// handleWrite persists the current client list via the installed
// WriteConfig hook, if any, and always acks. Config persistence itself is
// an external collaborator's concern.
func handleWrite(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	reply := c.newReply(m, m.Env.Type)
	if c.WriteConfig != nil {
		if err := c.WriteConfig(c.snapshotConfig()); err != nil {
			reply.Body["error"] = err.Error()
		}
	}
	c.sendTo(conn.Client(), reply)
}

func (c *CentralPostOffice) snapshotConfig() config.CPOConfig {
	cfg := c.cfg
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	cfg.Clients = make([]config.ClientConfig, 0, len(c.clients))
	for _, cl := range c.clients {
		cfg.Clients = append(cfg.Clients, config.ClientConfig{
			Name:    cl.Name,
			Secret:  base64.StdEncoding.EncodeToString(cl.Secret),
			Manager: cl.Manager,
		})
	}
	return cfg
}

// handleAdd decrypts {name, secret?} with the manager's secret and
// registers a new client, generating a random secret if none was given.
func handleAdd(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	mgr := conn.Client()
	reply := c.newReply(m, m.Env.Type)
	if err := m.Decrypt(mgr.Secret); err != nil {
		reply.Body["error"] = err.Error()
		c.sendTo(mgr, reply)
		return
	}
	name, _ := m.Body["name"].(string)
	if name == "" {
		reply.Body["error"] = "name is required"
		c.sendTo(mgr, reply)
		return
	}
	secretB64, _ := m.Body["secret"].(string)
	var secret []byte
	var err error
	if secretB64 != "" {
		secret, err = config.DecodeSecret(secretB64)
	} else {
		secret, err = envelope.RandomSecret(16)
	}
	if err != nil {
		reply.Body["error"] = err.Error()
		c.sendTo(mgr, reply)
		return
	}

	c.clientsMu.Lock()
	c.clients[name] = newPOClient(name, secret, false)
	c.clientsMu.Unlock()
	if c.events != nil {
		c.events.Publish(event.ClientAdded, name)
	}
	c.sendTo(mgr, reply)
}

// handleDelete decrypts {name} with the manager's secret, closes the
// named client's connection if live, and forgets it.
func handleDelete(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	mgr := conn.Client()
	reply := c.newReply(m, m.Env.Type)
	if err := m.Decrypt(mgr.Secret); err != nil {
		reply.Body["error"] = err.Error()
		c.sendTo(mgr, reply)
		return
	}
	name, _ := m.Body["name"].(string)

	c.clientsMu.Lock()
	cl, ok := c.clients[name]
	delete(c.clients, name)
	c.clientsMu.Unlock()
	if ok {
		if old := cl.Connection(); old != nil {
			cl.detach(old)
			old.close()
		}
		if c.events != nil {
			c.events.Publish(event.ClientRemoved, name)
		}
	}
	c.sendTo(mgr, reply)
}

// handleMonitor runs telemetry collection on a throwaway goroutine so the
// router is never blocked by it, replying once it completes.
func handleMonitor(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	cl := conn.Client()
	if cl == nil {
		return
	}
	reply := c.newReply(m, m.Env.Type)
	go func() {
		reply.Body["monitor"] = map[string]interface{}{
			"os":  c.Monitor.CollectOS(),
			"jvm": c.Monitor.CollectRuntime(),
		}
		c.sendTo(cl, reply)
	}()
}

// handleConnected replies with the comma-separated list of currently
// connected post office names.
func handleConnected(c *CentralPostOffice, conn *POConnection, m *envelope.Message) {
	cl := conn.Client()
	if cl == nil {
		return
	}
	reply := c.newReply(m, m.Env.Type)
	reply.Body["postOffices"] = strings.Join(c.connectedClientNames(), ",")
	c.sendTo(cl, reply)
}

// sendTo marshals and frames m, enqueueing it on dest's out-queue. dest
// may be nil (e.g. a late reply race against a disconnect), in which case
// the message is silently dropped.
func (c *CentralPostOffice) sendTo(dest *POClient, m *envelope.Message) {
	if dest == nil {
		return
	}
	payload, err := m.MarshalJSON()
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Error("cpo: failed to marshal management reply")
		}
		return
	}
	c.enqueueTo(dest, payload)
}
