package mailbox

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirepost/mop/wire/envelope"
)

type fakeRouter struct {
	name    string
	counter int64
	routed  []*envelope.Message
}

func (r *fakeRouter) Name() string { return r.name }
func (r *fakeRouter) NextID() string {
	n := atomic.AddInt64(&r.counter, 1)
	return string(rune('a' + n))
}
func (r *fakeRouter) Route(m *envelope.Message) {
	r.routed = append(r.routed, m)
}

func TestCreateMessagesStampFromAndID(t *testing.T) {
	r := &fakeRouter{name: "alpha"}
	mb := New("io", r, 4, false, nil)

	m := mb.CreateDirectMessage("beta.io", "ping", true)
	assert.Equal(t, "alpha.io", m.Env.From)
	assert.Equal(t, "beta.io", m.Env.To)
	assert.NotEmpty(t, m.Env.ID)
	assert.True(t, m.Env.Expect)
}

func TestReplyMessageSwapsFromTo(t *testing.T) {
	r := &fakeRouter{name: "beta"}
	mb := New("io", r, 4, false, nil)
	orig := envelope.New()
	orig.Env.From = "alpha.io"
	orig.Env.ID = "X.alpha"

	reply := mb.CreateReplyMessage(orig, "ping")
	assert.Equal(t, "beta.io", reply.Env.From)
	assert.Equal(t, "alpha.io", reply.Env.To)
	assert.Equal(t, "X.alpha", reply.Env.Reply)
}

func TestReceiveEnqueuesAndTakeDequeues(t *testing.T) {
	r := &fakeRouter{name: "beta"}
	mb := New("io", r, 4, false, nil)
	m := envelope.New()
	m.Env.From = "alpha.io"
	m.Env.ID = "1"

	mb.Receive(m)
	got := mb.Take()
	require.NotNil(t, got)
	assert.Equal(t, "alpha.io", got.Env.From)
}

func TestReceiveDropsNewestWhenFull(t *testing.T) {
	r := &fakeRouter{name: "beta"}
	mb := New("io", r, 1, false, nil)
	first := envelope.New()
	first.Env.ID = "1"
	second := envelope.New()
	second.Env.ID = "2"

	mb.Receive(first)
	mb.Receive(second)
	assert.Equal(t, 1, mb.Len())
	got := mb.Take()
	assert.Equal(t, "1", got.Env.ID)
}

func TestReceiveDropsOldestWhenConfigured(t *testing.T) {
	r := &fakeRouter{name: "beta"}
	mb := New("io", r, 1, true, nil)
	first := envelope.New()
	first.Env.ID = "1"
	second := envelope.New()
	second.Env.ID = "2"

	mb.Receive(first)
	mb.Receive(second)
	got := mb.Take()
	assert.Equal(t, "2", got.Env.ID)
}

func TestSendAndWaitForReplyResolves(t *testing.T) {
	r := &fakeRouter{name: "alpha"}
	mb := New("io", r, 4, false, nil)
	m := mb.CreateDirectMessage("beta.io", "ping", true)

	go func() {
		time.Sleep(10 * time.Millisecond)
		reply := envelope.New()
		reply.Env.From = "beta.io"
		reply.Env.Reply = m.Env.ID
		mb.Receive(reply)
	}()

	got, err := mb.SendAndWaitForReply(m, time.Second)
	require.NoError(t, err)
	assert.Equal(t, m.Env.ID, got.Env.Reply)
}

func TestSendAndWaitForReplyTimesOut(t *testing.T) {
	r := &fakeRouter{name: "alpha"}
	mb := New("io", r, 4, false, nil)
	m := mb.CreateDirectMessage("beta.io", "ping", true)

	_, err := mb.SendAndWaitForReply(m, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestExtraReplyAfterResolveFallsThroughToQueue(t *testing.T) {
	r := &fakeRouter{name: "alpha"}
	mb := New("io", r, 4, false, nil)
	m := mb.CreateDirectMessage("beta.io", "ping", true)

	reply1 := envelope.New()
	reply1.Env.From = "beta.io"
	reply1.Env.Reply = m.Env.ID
	reply1.Env.ID = "r1"

	go func() {
		time.Sleep(5 * time.Millisecond)
		mb.Receive(reply1)
	}()
	_, err := mb.SendAndWaitForReply(m, time.Second)
	require.NoError(t, err)

	reply2 := envelope.New()
	reply2.Env.From = "beta.io"
	reply2.Env.Reply = m.Env.ID
	reply2.Env.ID = "r2"
	mb.Receive(reply2)

	assert.Equal(t, 1, mb.Len())
}
