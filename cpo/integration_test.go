package cpo

import (
	"encoding/base64"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirepost/mop/config"
	"github.com/wirepost/mop/event"
	"github.com/wirepost/mop/internal/tests"
	"github.com/wirepost/mop/po"
	"github.com/wirepost/mop/wire/envelope"
)

// These tests drive a real CentralPostOffice listening on a loopback port
// against one or more real po.PO clients, exercising the full wire path
// (dial, authenticate, frame, route) instead of in-process fakes.

func newIntegrationClient(t *testing.T, name string) (config.ClientConfig, []byte) {
	t.Helper()
	secret := []byte("s3cr3t-" + name)
	return config.ClientConfig{
		Name:   name,
		Secret: base64.StdEncoding.EncodeToString(secret),
	}, secret
}

func startIntegrationCPO(t *testing.T, pingIntervalMS int, clients []config.ClientConfig) (*CentralPostOffice, int, *event.Bus) {
	t.Helper()
	port := tests.GetFreePort(t)
	bus := &event.Bus{}
	cfg := config.CPOConfig{
		Name:           "central",
		LocalAddress:   "127.0.0.1",
		Port:           port,
		PingIntervalMS: pingIntervalMS,
		MaxMessageSize: 1 << 20,
		Clients:        clients,
	}
	c := New(cfg, nil, bus)
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)
	return c, port, bus
}

func startIntegrationPO(t *testing.T, name string, secret []byte, cpoPort int) *po.PO {
	t.Helper()
	cfg := config.POConfig{
		Name:           name,
		QueueSize:      16,
		CPOHost:        "127.0.0.1",
		CPOPort:        cpoPort,
		MaxMessageSize: 1 << 20,
		PingIntervalMS: 1000,
	}
	p := po.New(cfg, secret, nil)
	t.Cleanup(p.Close)
	p.Start()
	return p
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDirectMessageRoundTripThroughRealConnection(t *testing.T) {
	aliceCfg, aliceSecret := newIntegrationClient(t, "alice")
	bobCfg, bobSecret := newIntegrationClient(t, "bob")
	c, port, _ := startIntegrationCPO(t, 5000, []config.ClientConfig{aliceCfg, bobCfg})

	alice := startIntegrationPO(t, "alice", aliceSecret, port)
	bob := startIntegrationPO(t, "bob", bobSecret, port)

	waitUntil(t, 3*time.Second, func() bool {
		names := c.connectedClientNames()
		return len(names) == 2
	})

	aliceIO, err := alice.CreateMailbox("io")
	require.NoError(t, err)
	bobIO, err := bob.CreateMailbox("io")
	require.NoError(t, err)

	go func() {
		req := bobIO.Take()
		if req == nil {
			return
		}
		bobIO.Send(bobIO.CreateReplyMessage(req, "ping"))
	}()

	m := aliceIO.CreateDirectMessage("bob.io", "ping", true)
	reply, err := aliceIO.SendAndWaitForReply(m, time.Second)
	require.NoError(t, err)
	assert.Equal(t, m.Env.ID, reply.Env.Reply)
	assert.Equal(t, "ping", reply.Env.Type)
}

func TestPublishDeliversToRemoteSubscriberThroughRealConnection(t *testing.T) {
	aliceCfg, aliceSecret := newIntegrationClient(t, "alice")
	bobCfg, bobSecret := newIntegrationClient(t, "bob")
	c, port, _ := startIntegrationCPO(t, 5000, []config.ClientConfig{aliceCfg, bobCfg})

	alice := startIntegrationPO(t, "alice", aliceSecret, port)
	bob := startIntegrationPO(t, "bob", bobSecret, port)

	waitUntil(t, 3*time.Second, func() bool {
		return len(c.connectedClientNames()) == 2
	})

	aliceIO, err := alice.CreateMailbox("io")
	require.NoError(t, err)
	bobIO, err := bob.CreateMailbox("io")
	require.NoError(t, err)

	bob.Subscribe(bobIO, aliceIO.Address(), "sensor.temperature")

	// Give the manage.subscribe round trip (bob -> CPO -> alice) time to
	// land before publishing, since the subscription needs to exist on
	// alice's side for Route to forward it to the CPO-bound mailbox.
	var reply *envelope.Message
	waitUntil(t, 3*time.Second, func() bool {
		m := aliceIO.CreatePublishMessage("sensor.temperature")
		m.Body["temp"] = 21.5
		aliceIO.Send(m)
		reply = bobIO.Poll(300 * time.Millisecond)
		return reply != nil
	})
	require.NotNil(t, reply)
	assert.Equal(t, "alice.io", reply.Env.From)
	assert.Equal(t, "sensor.temperature", reply.Env.Type)
	assert.Equal(t, "", reply.Env.To)
	assert.Equal(t, 21.5, reply.Body["temp"])
}

func TestSubscriptionRefreshDeliversExistingInterestOnFirstConnect(t *testing.T) {
	aliceCfg, aliceSecret := newIntegrationClient(t, "alice")
	bobCfg, bobSecret := newIntegrationClient(t, "bob")
	c, port, _ := startIntegrationCPO(t, 5000, []config.ClientConfig{aliceCfg, bobCfg})

	bob := startIntegrationPO(t, "bob", bobSecret, port)
	waitUntil(t, 3*time.Second, func() bool {
		return len(c.connectedClientNames()) == 1
	})
	bobIO, err := bob.CreateMailbox("io")
	require.NoError(t, err)
	bob.Subscribe(bobIO, "alice.io", "periodic")

	// The CPO snoops and indexes this subscription even though alice isn't
	// connected yet; wait for it to be registered before alice connects.
	waitUntil(t, 2*time.Second, func() bool {
		return len(c.subs.EntriesWithPrefix("alice.")) > 0
	})

	alice := startIntegrationPO(t, "alice", aliceSecret, port)
	aliceIO, err := alice.CreateMailbox("io")
	require.NoError(t, err)

	waitUntil(t, 3*time.Second, func() bool {
		return len(c.connectedClientNames()) == 2
	})

	// alice never subscribed to anything herself and bob subscribed before
	// she ever connected, so a publish on aliceIO reaches bob only once
	// alice's own runtime has learned of bob's interest after connecting:
	// from the CPO-replayed manage.subscribe, from bob's original request
	// that the CPO queued for her, or from bob's retransmission of it.
	var reply *envelope.Message
	waitUntil(t, 3*time.Second, func() bool {
		m := aliceIO.CreatePublishMessage("periodic")
		aliceIO.Send(m)
		reply = bobIO.Poll(300 * time.Millisecond)
		return reply != nil
	})
	require.NotNil(t, reply)
	assert.Equal(t, "alice.io", reply.Env.From)
	assert.Equal(t, "periodic", reply.Env.Type)
}

func TestConnectionSurvivesPingPongAcrossLivenessThreshold(t *testing.T) {
	aliceCfg, aliceSecret := newIntegrationClient(t, "alice")
	c, port, bus := startIntegrationCPO(t, 150, []config.ClientConfig{aliceCfg})

	var connects int32
	require.NoError(t, bus.Subscribe(event.ClientConnected, func(name string) {
		atomic.AddInt32(&connects, 1)
	}))

	_ = startIntegrationPO(t, "alice", aliceSecret, port)

	waitUntil(t, 3*time.Second, func() bool {
		return len(c.connectedClientNames()) == 1
	})

	// The pong-check threshold here is 1.5*150ms = 225ms; wait across
	// several multiples of it. Without the PO answering manage.ping with
	// manage.pong, closeStaleConnections would have torn the connection
	// down (and the PO would have had to reconnect) well before this
	// returns.
	time.Sleep(1200 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&connects), "connection should not have needed to reconnect")
	cl, ok := c.client("alice")
	require.True(t, ok)
	assert.NotNil(t, cl.Connection(), "alice should still be connected")
}

func TestMessageSurvivesForcedReconnect(t *testing.T) {
	aliceCfg, aliceSecret := newIntegrationClient(t, "alice")
	bobCfg, bobSecret := newIntegrationClient(t, "bob")
	c, port, _ := startIntegrationCPO(t, 2000, []config.ClientConfig{aliceCfg, bobCfg})

	alice := startIntegrationPO(t, "alice", aliceSecret, port)
	bob := startIntegrationPO(t, "bob", bobSecret, port)

	waitUntil(t, 3*time.Second, func() bool {
		return len(c.connectedClientNames()) == 2
	})

	aliceIO, err := alice.CreateMailbox("io")
	require.NoError(t, err)
	bobIO, err := bob.CreateMailbox("io")
	require.NoError(t, err)

	cl, ok := c.client("alice")
	require.True(t, ok)
	pc := cl.Connection()
	require.NotNil(t, pc)
	pc.close() // simulate the socket dying underneath alice

	m := aliceIO.CreateDirectMessage("bob.io", "ping", false)
	aliceIO.Send(m) // kept by alice's CPO connection and resent after it reconnects

	var got *envelope.Message
	waitUntil(t, 5*time.Second, func() bool {
		got = bobIO.Poll(50 * time.Millisecond)
		return got != nil
	})
	require.NotNil(t, got)
	assert.Equal(t, "ping", got.Env.Type)

	waitUntil(t, 3*time.Second, func() bool {
		return len(c.connectedClientNames()) == 2
	})
}
