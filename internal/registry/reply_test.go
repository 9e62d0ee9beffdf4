package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyHandlerWaitUntilFiresOnNotify(t *testing.T) {
	h := NewReplyHandler("add", []byte("1+1"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.NotifyResult([]byte("2"), true)
	}()

	fired := h.WaitUntil(time.Now().Add(time.Second))
	require.True(t, fired)

	reply, success := h.Result()
	assert.Equal(t, []byte("2"), reply)
	assert.True(t, success)
}

func TestReplyHandlerWaitUntilTimesOut(t *testing.T) {
	h := NewReplyHandler("add", []byte("1+1"))
	fired := h.WaitUntil(time.Now().Add(20 * time.Millisecond))
	assert.False(t, fired)
}

func TestReplyHandlerNotifyResultIsIdempotent(t *testing.T) {
	h := NewReplyHandler("add", []byte("1+1"))
	h.NotifyResult([]byte("first"), true)
	h.NotifyResult([]byte("second"), false)

	reply, success := h.Result()
	assert.Equal(t, []byte("first"), reply)
	assert.True(t, success)
}

func TestReplyRegistryAddGetRemove(t *testing.T) {
	r := NewReplyRegistry()
	h := NewReplyHandler("add", []byte("1+1"))
	r.Add(h)

	got, ok := r.Get(h.HUuid)
	require.True(t, ok)
	assert.Same(t, h, got)

	r.Remove(h.HUuid)
	_, ok = r.Get(h.HUuid)
	assert.False(t, ok)
}
