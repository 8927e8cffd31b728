package cpo

import (
	"github.com/wirepost/mop/subscription"
	"github.com/wirepost/mop/wire/envelope"
	"github.com/wirepost/mop/wire/frame"
)

// handleMessage routes one deframed inbound message. It runs exclusively on
// the router goroutine; the connection/client maps it reads are still
// mutex-guarded, since the accept loop, the timers and client-list reloads
// touch them from other goroutines.
func (c *CentralPostOffice) handleMessage(conn *POConnection, m *envelope.Message) {
	if m.Env.To == "central.po" {
		m.Env.ConnectionName = conn.Name
	}

	if m.IsPublish() {
		c.routePublish(m)
		return
	}

	if !m.IsReply() && isSubscribeVerb(m.Env.Type) && envelope.MailboxPart(m.Env.To) == "po" {
		c.snoop(m)
	}

	if m.Env.To == "central.po" {
		c.dispatchManagement(conn, m)
		return
	}

	c.forwardDirect(conn, m)
}

func isSubscribeVerb(t string) bool {
	return t == "manage.subscribe" || t == "manage.unsubscribe"
}

// routePublish forwards a publish message to each distinct destination PO
// that has at least one subscriber, exactly once per PO. The message is
// forwarded byte-identical to every destination: publish fan-out has no
// per-recipient re-encryption step.
func (c *CentralPostOffice) routePublish(m *envelope.Message) {
	full, major := subscription.FullAndMajorKeys(m.Env.From, m.Env.Type)
	subs := c.subs.Lookup(full, major)
	if len(subs) == 0 {
		if c.log != nil {
			c.log.WithField("key", full).Warn("cpo: publish has no subscribers")
		}
		return
	}
	seen := make(map[string]bool, len(subs))
	payload, err := m.MarshalJSON()
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Error("cpo: failed to marshal publish message")
		}
		return
	}
	for _, addr := range subs {
		po := envelope.POPart(addr)
		if seen[po] {
			continue
		}
		seen[po] = true
		c.enqueueForClient(po, payload)
	}
}

// snoop updates the CPO's own subscription index from a non-reply
// manage.subscribe or manage.unsubscribe addressed to *.po, keyed by the
// source address and type carried in the body, with the requestor as the
// subscriber.
func (c *CentralPostOffice) snoop(m *envelope.Message) {
	source, _ := m.Body["source"].(string)
	msgType, _ := m.Body["type"].(string)
	requestor, _ := m.Body["requestor"].(string)
	if source == "" || requestor == "" {
		return
	}
	major, minor := envelope.SplitType(msgType)
	key := subscription.Key(envelope.POPart(source), envelope.MailboxPart(source), major, minor)
	if m.Env.Type == "manage.subscribe" {
		c.subs.Add(key, requestor)
	} else {
		c.subs.Remove(key, requestor)
	}
}

// forwardDirect delivers to the client named by the first dot-segment of
// To, re-encrypting in place if the message carries a .secure payload.
func (c *CentralPostOffice) forwardDirect(conn *POConnection, m *envelope.Message) {
	destName := envelope.POPart(m.Env.To)
	dest, ok := c.client(destName)
	if !ok {
		if c.log != nil {
			c.log.WithField("to", m.Env.To).Warn("cpo: dropping message for unknown destination po")
		}
		return
	}

	out := m
	if m.Env.Secure != "" {
		src := conn.Client()
		if src == nil {
			if c.log != nil {
				c.log.Warn("cpo: dropping encrypted message from unauthenticated connection")
			}
			return
		}
		out = m.Clone()
		if err := out.ReEncrypt(src.Secret, dest.Secret); err != nil {
			if c.log != nil {
				c.log.WithError(err).Warn("cpo: failed to re-encrypt message for forwarding")
			}
			return
		}
	}

	payload, err := out.MarshalJSON()
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Error("cpo: failed to marshal forwarded message")
		}
		return
	}
	c.enqueueTo(dest, payload)
}

func (c *CentralPostOffice) enqueueForClient(name string, payload []byte) {
	dest, ok := c.client(name)
	if !ok {
		return
	}
	c.enqueueTo(dest, payload)
}

func (c *CentralPostOffice) enqueueTo(dest *POClient, payload []byte) {
	f, err := frame.Frame(payload, c.cfg.MaxMessageSize)
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Error("cpo: outbound message does not fit a frame")
		}
		return
	}
	if !dest.out.Append(f) {
		if c.log != nil {
			c.log.WithField("client", dest.Name).Warn("cpo: client out-queue full, dropping newest message")
		}
	}
}
