// Package event carries local process lifecycle notifications: config
// reloads, server start/stop, a client (re)connecting or dropping. It is
// deliberately separate from the wire-protocol subscription index in
// package subscription: this bus never carries routed messages, only
// in-process notifications that a Daemon facade or a test can observe.
package event

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topic identifies a lifecycle event.
type Topic int

const (
	// ConfigReloaded fires after a configuration reload (e.g. on SIGHUP)
	// has been applied.
	ConfigReloaded Topic = iota
	// ConfigClientsChanged fires after a reload has re-applied the set of
	// configured PO clients; cmd/cpod publishes it on every successful
	// SIGHUP reload, whether or not the set changed.
	ConfigClientsChanged
	// ConfigLogReopen fires when the log destination should be reopened
	// (e.g. after logrotate).
	ConfigLogReopen
	// ServerStarting fires once the CPO has bound its listening socket.
	ServerStarting
	// ServerStopped fires after graceful shutdown completes.
	ServerStopped
	// ClientConnected fires when a POClient completes authentication on a
	// new or reconnected socket.
	ClientConnected
	// ClientDisconnected fires when a POClient's connection is torn down.
	ClientDisconnected
	// ClientAdded fires when manage.add registers a new client.
	ClientAdded
	// ClientRemoved fires when manage.delete removes a client.
	ClientRemoved
)

var topicNames = [...]string{
	"config:reloaded",
	"config:clients_changed",
	"config:log_reopen",
	"server:starting",
	"server:stopped",
	"client:connected",
	"client:disconnected",
	"client:added",
	"client:removed",
}

func (t Topic) String() string {
	return topicNames[t]
}

// Bus is a thin, lazily-initialized wrapper around EventBus scoped to the
// Topic enum above.
type Bus struct {
	evbus.Bus
}

// Subscribe registers fn to be called (via reflection, per EventBus) when
// topic is published.
func (b *Bus) Subscribe(topic Topic, fn interface{}) error {
	if b.Bus == nil {
		b.Bus = evbus.New()
	}
	return b.Bus.Subscribe(topic.String(), fn)
}

// Publish fires topic with the given arguments.
func (b *Bus) Publish(topic Topic, args ...interface{}) {
	if b.Bus == nil {
		b.Bus = evbus.New()
	}
	b.Bus.Publish(topic.String(), args...)
}

// Unsubscribe removes a previously-subscribed handler.
func (b *Bus) Unsubscribe(topic Topic, fn interface{}) error {
	if b.Bus == nil {
		return nil
	}
	return b.Bus.Unsubscribe(topic.String(), fn)
}
