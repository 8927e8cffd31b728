package po

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirepost/mop/config"
	"github.com/wirepost/mop/wire/envelope"
)

func newTestPO(t *testing.T, name string) *PO {
	t.Helper()
	cfg := config.POConfig{
		Name:           name,
		QueueSize:      4,
		CPOHost:        "127.0.0.1",
		CPOPort:        1, // never dialed in these tests
		MaxMessageSize: 4096,
		PingIntervalMS: 7500,
	}
	p := New(cfg, []byte("s3cr3t"), nil)
	t.Cleanup(p.Close)
	return p
}

func TestCreateMailboxRejectsReservedAndDottedNames(t *testing.T) {
	p := newTestPO(t, "alpha")

	_, err := p.CreateMailbox(cpoMailboxName)
	assert.Equal(t, ErrReservedName, err)

	_, err = p.CreateMailbox(managementMailboxName)
	assert.Equal(t, ErrReservedName, err)

	_, err = p.CreateMailbox("bad.name")
	assert.Equal(t, ErrInvalidMailboxName, err)

	mb, err := p.CreateMailbox("inbox")
	require.NoError(t, err)
	assert.Equal(t, "alpha.inbox", mb.Address())

	_, err = p.CreateMailbox("inbox")
	assert.Equal(t, ErrDuplicateMailbox, err)
}

func TestRouteLocalDirectDeliversToNamedMailbox(t *testing.T) {
	p := newTestPO(t, "alpha")
	mb, err := p.CreateMailbox("inbox")
	require.NoError(t, err)

	m := envelope.New()
	m.Env.From = "beta.outbox"
	m.Env.To = "alpha.inbox"
	m.Env.Type = "ping"
	m.Env.ID = "1.beta"
	p.Route(m)

	got := mb.Poll(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, "ping", got.Env.Type)
}

func TestRouteDirectToForeignPOGoesToCPOMailbox(t *testing.T) {
	p := newTestPO(t, "alpha")
	cpoMB, ok := p.Mailbox(cpoMailboxName)
	require.True(t, ok)

	m := envelope.New()
	m.Env.From = "alpha.inbox"
	m.Env.To = "beta.inbox"
	m.Env.Type = "ping"
	m.Env.ID = "1.alpha"
	p.Route(m)

	got := cpoMB.Poll(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, "beta.inbox", got.Env.To)
}

func TestRoutePublishDeliversToLocalSubscribers(t *testing.T) {
	p := newTestPO(t, "alpha")
	source, err := p.CreateMailbox("ticker")
	require.NoError(t, err)
	sub, err := p.CreateMailbox("listener")
	require.NoError(t, err)

	p.Subscribe(sub, source.Address(), "tick")

	m := source.CreatePublishMessage("tick")
	p.Route(m)

	got := sub.Poll(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, "tick", got.Env.Type)
}

func TestSubscribeToForeignSourceSendsManageSubscribe(t *testing.T) {
	p := newTestPO(t, "alpha")
	sub, err := p.CreateMailbox("listener")
	require.NoError(t, err)
	cpoMB, ok := p.Mailbox(cpoMailboxName)
	require.True(t, ok)

	p.Subscribe(sub, "beta.ticker", "tick")

	got := cpoMB.Poll(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, "beta.po", got.Env.To)
	assert.Equal(t, "manage.subscribe", got.Env.Type)
	assert.Equal(t, "beta.ticker", got.Body["source"])
	assert.Equal(t, "tick", got.Body["type"])
	assert.Equal(t, sub.Address(), got.Body["requestor"])
}

func TestHandleRemoteSubRegistersCPOProxyAndReplies(t *testing.T) {
	p := newTestPO(t, "alpha")
	source, err := p.CreateMailbox("ticker")
	require.NoError(t, err)
	mgmt, ok := p.Mailbox(managementMailboxName)
	require.True(t, ok)
	cpoMB, ok := p.Mailbox(cpoMailboxName)
	require.True(t, ok)

	req := envelope.New()
	req.Env.From = "beta.listener"
	req.Env.To = "alpha.po"
	req.Env.Type = "manage.subscribe"
	req.Env.ID = "9.beta"
	req.Env.Expect = true
	req.Body["source"] = "alpha.ticker"
	req.Body["type"] = "tick"
	req.Body["requestor"] = "beta.listener"

	p.handleRemoteSub(mgmt, req)

	reply := cpoMB.Poll(time.Second)
	require.NotNil(t, reply)
	assert.Equal(t, "beta.listener", reply.Env.To)
	assert.Equal(t, req.Env.ID, reply.Env.Reply)

	m := source.CreatePublishMessage("tick")
	p.Route(m)
	fwd := cpoMB.Poll(time.Second)
	require.NotNil(t, fwd, "publish should have been forwarded to the CPO-bound mailbox for the foreign subscriber")
}

func TestApplyConnectReplyUpdatesMaxMessageSizeAndPingInterval(t *testing.T) {
	p := newTestPO(t, "alpha")
	assert.Equal(t, 4096, p.MaxMessageSize())
	assert.Equal(t, 7500, p.PingIntervalMS())

	reply := envelope.New()
	reply.Body["maxMessageSize"] = float64(8192)
	reply.Body["pingIntervalMS"] = float64(5000)
	p.applyConnectReply(reply)

	assert.Equal(t, 8192, p.MaxMessageSize())
	assert.Equal(t, 5000, p.PingIntervalMS())
}

func TestApplyConnectReplyIgnoresMissingOrZeroFields(t *testing.T) {
	p := newTestPO(t, "alpha")
	reply := envelope.New()
	p.applyConnectReply(reply)
	assert.Equal(t, 4096, p.MaxMessageSize())

	reply.Body["maxMessageSize"] = float64(0)
	p.applyConnectReply(reply)
	assert.Equal(t, 4096, p.MaxMessageSize())
}

func TestRefreshForeignSubscriptionsReannouncesToSourcePO(t *testing.T) {
	p := newTestPO(t, "alpha")
	sub, err := p.CreateMailbox("listener")
	require.NoError(t, err)
	cpoMB, ok := p.Mailbox(cpoMailboxName)
	require.True(t, ok)

	// drain the manage.subscribe sent by Subscribe itself
	p.Subscribe(sub, "beta.ticker", "tick")
	_ = cpoMB.Poll(time.Second)

	p.refreshForeignSubscriptions()

	got := cpoMB.Poll(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, "beta.po", got.Env.To)
	assert.Equal(t, "manage.subscribe", got.Env.Type)
	assert.False(t, got.Env.Expect)
	assert.Equal(t, "beta.ticker", got.Body["source"])
	assert.Equal(t, "tick", got.Body["type"])
}

func TestToIntHandlesJSONNumericShapes(t *testing.T) {
	v, ok := toInt(float64(42))
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	v, ok = toInt(int64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = toInt("nope")
	assert.False(t, ok)
}
