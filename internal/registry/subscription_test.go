package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshbus/meshbus/pkg/types"
)

func TestSubscriptionRegisterAssignsHandlerUUID(t *testing.T) {
	r := NewSubscriptionRegistry()
	h := &SubscriptionHandler{Topic: "foo", NUuid: types.NewNodeID(), MsgType: "StringMsg", Invoke: func([]byte) error { return nil }}

	hUuid := r.Register(h)
	assert.False(t, hUuid.IsEmpty())
	assert.Equal(t, hUuid, h.HUuid)
	assert.Len(t, r.HandlersForTopic("foo"), 1)
}

func TestSubscriptionDispatchInvokesMatchingType(t *testing.T) {
	r := NewSubscriptionRegistry()
	var got []byte
	h := &SubscriptionHandler{
		Topic:   "foo",
		NUuid:   types.NewNodeID(),
		MsgType: "StringMsg",
		Invoke:  func(data []byte) error { got = data; return nil },
	}
	r.Register(h)

	fired := r.Dispatch("foo", "StringMsg", []byte("HELLO"))
	assert.Equal(t, 1, fired)
	assert.Equal(t, []byte("HELLO"), got)
}

func TestSubscriptionDispatchSkipsTypeMismatch(t *testing.T) {
	r := NewSubscriptionRegistry()
	called := false
	h := &SubscriptionHandler{
		Topic:   "foo",
		NUuid:   types.NewNodeID(),
		MsgType: "StringMsg",
		Invoke:  func([]byte) error { called = true; return nil },
	}
	r.Register(h)

	fired := r.Dispatch("foo", "IntMsg", []byte("x"))
	assert.Equal(t, 0, fired)
	assert.False(t, called)
}

func TestSubscriptionDispatchLogsAndDropsOnParseFailure(t *testing.T) {
	r := NewSubscriptionRegistry()
	h := &SubscriptionHandler{
		Topic:   "foo",
		MsgType: "StringMsg",
		Invoke:  func([]byte) error { return errors.New("boom") },
	}
	r.Register(h)

	fired := r.Dispatch("foo", "StringMsg", []byte("x"))
	assert.Equal(t, 0, fired)
}

func TestSubscriptionRateLimitDropsExcessCallbacks(t *testing.T) {
	r := NewSubscriptionRegistry()
	count := 0
	h := &SubscriptionHandler{
		Topic:     "foo",
		MsgType:   "StringMsg",
		RateLimit: 2,
		Invoke:    func([]byte) error { count++; return nil },
	}
	r.Register(h)

	for i := 0; i < 5; i++ {
		r.Dispatch("foo", "StringMsg", []byte("x"))
	}
	assert.Equal(t, 2, count)
}

func TestSubscriptionRateLimitResetsNextSecond(t *testing.T) {
	h := &SubscriptionHandler{RateLimit: 1}
	now := time.Now()
	assert.True(t, h.allow(now))
	assert.False(t, h.allow(now))
	assert.True(t, h.allow(now.Add(time.Second+time.Millisecond)))
}

func TestUnregisterRemovesEmptyBranches(t *testing.T) {
	r := NewSubscriptionRegistry()
	nid := types.NewNodeID()
	h := &SubscriptionHandler{Topic: "foo", NUuid: nid, Invoke: func([]byte) error { return nil }}
	hUuid := r.Register(h)

	require.True(t, r.Unregister("foo", nid, hUuid))
	assert.False(t, r.HasAnyHandler("foo"))
	assert.False(t, r.Unregister("foo", nid, hUuid)) // already gone
}

func TestUnregisterNodeRemovesAllItsHandlers(t *testing.T) {
	r := NewSubscriptionRegistry()
	nid := types.NewNodeID()
	r.Register(&SubscriptionHandler{Topic: "foo", NUuid: nid, Invoke: func([]byte) error { return nil }})
	r.Register(&SubscriptionHandler{Topic: "foo", NUuid: nid, Invoke: func([]byte) error { return nil }})
	other := types.NewNodeID()
	r.Register(&SubscriptionHandler{Topic: "foo", NUuid: other, Invoke: func([]byte) error { return nil }})

	removed := r.UnregisterNode("foo", nid)
	assert.Len(t, removed, 2)
	assert.True(t, r.HasAnyHandler("foo")) // other node's handler remains
}
