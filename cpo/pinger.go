package cpo

import "time"

// pingerLoop sends manage.ping to every connected client every
// pingIntervalMS.
func (c *CentralPostOffice) pingerLoop() error {
	interval := time.Duration(c.cfg.PingIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ticker.C:
			c.pingAllConnected()
		}
	}
}

func (c *CentralPostOffice) pingAllConnected() {
	c.clientsMu.RLock()
	clients := make([]*POClient, 0, len(c.clients))
	for _, cl := range c.clients {
		if cl.Connection() != nil {
			clients = append(clients, cl)
		}
	}
	c.clientsMu.RUnlock()
	for _, cl := range clients {
		m := c.newMessage(cl.Name+".po", "manage.ping")
		c.sendTo(cl, m)
	}
}

// pongCheckLoop samples every connection's time-since-last-pong every
// 100ms and closes any connection that has gone quiet for longer than 1.5x
// the ping interval. Its POClient survives and awaits reconnect.
func (c *CentralPostOffice) pongCheckLoop() error {
	threshold := time.Duration(float64(c.cfg.PingIntervalMS)*1.5) * time.Millisecond
	ticker := time.NewTicker(pongCheckTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ticker.C:
			c.closeStaleConnections(threshold)
		}
	}
}

func (c *CentralPostOffice) closeStaleConnections(threshold time.Duration) {
	c.connsMu.RLock()
	var stale []*POConnection
	for _, pc := range c.connections {
		if pc.sinceLastPong() > threshold {
			stale = append(stale, pc)
		}
	}
	c.connsMu.RUnlock()
	for _, pc := range stale {
		if c.log != nil {
			c.log.WithField("connection", pc.Name).Warn("cpo: closing connection with no pong within threshold")
		}
		pc.close()
	}
}
