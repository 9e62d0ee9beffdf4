package meshbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshbus/meshbus/pkg/names"
)

// newTestNode builds a node pinned to the loopback address and a test
// partition, so suites never depend on the machine's interface setup or
// collide with a real deployment on the same broadcast domain.
func newTestNode(t *testing.T, opts ...NodeOption) *Node {
	t.Helper()
	t.Setenv("MESHBUS_IP", "127.0.0.1")
	t.Setenv("MESHBUS_PARTITION", "meshbus-test")

	n, err := NewNode(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// recorder collects callback invocations for assertions.
type recorder struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recorder) cb(payload []byte, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(payload))
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func TestPublishWithoutAdvertise(t *testing.T) {
	n := newTestNode(t)

	err := n.Publish("foo", "meshbus.StringMsg", []byte("HELLO"))
	assert.ErrorIs(t, err, ErrNotAdvertised)
}

func TestSameProcessPubSub(t *testing.T) {
	pub := newTestNode(t)
	sub := newTestNode(t)

	require.NoError(t, pub.Advertise("foo", "meshbus.StringMsg"))

	var rec recorder
	require.NoError(t, sub.Subscribe("foo", "meshbus.StringMsg", rec.cb))

	// Local dispatch is synchronous on the publishing goroutine, so the
	// callback has fired by the time Publish returns.
	require.NoError(t, pub.Publish("foo", "meshbus.StringMsg", []byte("HELLO")))
	assert.Equal(t, []string{"HELLO"}, rec.seen())
}

func TestSubscribeTypeFilter(t *testing.T) {
	pub := newTestNode(t)
	sub := newTestNode(t)

	require.NoError(t, pub.Advertise("foo", "meshbus.StringMsg"))

	var rec recorder
	require.NoError(t, sub.Subscribe("foo", "meshbus.Int32Msg", rec.cb))

	require.NoError(t, pub.Publish("foo", "meshbus.StringMsg", []byte("HELLO")))
	assert.Empty(t, rec.seen(), "handler with a different declared type must not fire")
}

func TestPublishTypeMismatch(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.Advertise("foo", "meshbus.StringMsg"))

	err := n.Publish("foo", "meshbus.Int32Msg", []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestAdvertiseTwiceFails(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.Advertise("foo", "meshbus.StringMsg"))

	err := n.Advertise("foo", "meshbus.StringMsg")
	assert.ErrorIs(t, err, ErrAlreadyAdvertised)
}

func TestTwoNodesMayAdvertiseSameTopic(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	require.NoError(t, a.Advertise("foo", "meshbus.StringMsg"))
	require.NoError(t, b.Advertise("foo", "meshbus.StringMsg"))
}

func TestInvalidTopicNames(t *testing.T) {
	n := newTestNode(t)

	for _, topic := range []string{"", "has space", "has~tilde", "has@at", "double//slash"} {
		assert.ErrorIs(t, n.Advertise(topic, "meshbus.StringMsg"), ErrInvalidName, "topic %q", topic)
		assert.ErrorIs(t, n.Subscribe(topic, "meshbus.StringMsg", func([]byte, string) {}), ErrInvalidName, "topic %q", topic)
		assert.ErrorIs(t, n.Publish(topic, "meshbus.StringMsg", nil), ErrInvalidName, "topic %q", topic)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	pub := newTestNode(t)
	sub := newTestNode(t)

	require.NoError(t, pub.Advertise("foo", "meshbus.StringMsg"))

	var rec recorder
	require.NoError(t, sub.Subscribe("foo", "meshbus.StringMsg", rec.cb))
	require.NoError(t, pub.Publish("foo", "meshbus.StringMsg", []byte("one")))

	require.NoError(t, sub.Unsubscribe("foo"))
	require.NoError(t, pub.Publish("foo", "meshbus.StringMsg", []byte("two")))

	assert.Equal(t, []string{"one"}, rec.seen())
}

func TestUnadvertiseThenPublishFails(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.Advertise("foo", "meshbus.StringMsg"))
	require.NoError(t, n.Unadvertise("foo"))

	err := n.Publish("foo", "meshbus.StringMsg", []byte("HELLO"))
	assert.ErrorIs(t, err, ErrNotAdvertised)
}

func TestPartitionIsolation(t *testing.T) {
	pub := newTestNode(t, WithPartition("p1"))
	sub := newTestNode(t, WithPartition("p2"))

	require.NoError(t, pub.Advertise("foo", "meshbus.StringMsg"))

	var rec recorder
	require.NoError(t, sub.Subscribe("foo", "meshbus.StringMsg", rec.cb))

	require.NoError(t, pub.Publish("foo", "meshbus.StringMsg", []byte("HELLO")))
	assert.Empty(t, rec.seen(), "a subscriber in another partition must never fire")
}

func TestNamespacePrefixesRelativeTopics(t *testing.T) {
	pub := newTestNode(t, WithNamespace("robot1"))
	sub := newTestNode(t)

	require.NoError(t, pub.Advertise("status", "meshbus.StringMsg"))

	var rec recorder
	// A node without a namespace reaches the namespaced topic by spelling
	// the namespace out in a relative topic.
	require.NoError(t, sub.Subscribe("robot1/status", "meshbus.StringMsg", rec.cb))

	require.NoError(t, pub.Publish("status", "meshbus.StringMsg", []byte("ok")))
	assert.Equal(t, []string{"ok"}, rec.seen())
}

func TestRateLimitDropsExcessMessages(t *testing.T) {
	pub := newTestNode(t)
	sub := newTestNode(t)

	require.NoError(t, pub.Advertise("foo", "meshbus.StringMsg"))

	var rec recorder
	require.NoError(t, sub.Subscribe("foo", "meshbus.StringMsg", rec.cb, WithMsgsPerSec(1)))

	require.NoError(t, pub.Publish("foo", "meshbus.StringMsg", []byte("first")))
	require.NoError(t, pub.Publish("foo", "meshbus.StringMsg", []byte("second")))

	assert.Equal(t, []string{"first"}, rec.seen())
}

func TestLocalServiceRequest(t *testing.T) {
	rep := newTestNode(t)
	req := newTestNode(t)

	require.NoError(t, rep.AdvertiseService("echo", "meshbus.StringMsg", "meshbus.StringMsg",
		func(request []byte) ([]byte, bool) {
			return append([]byte("echo:"), request...), true
		}))

	reply, success, err := req.Request("echo", []byte("hi"), "meshbus.StringMsg", "meshbus.StringMsg", time.Second)
	require.NoError(t, err)
	assert.True(t, success)
	assert.Equal(t, []byte("echo:hi"), reply)
}

func TestLocalServiceFailureFlag(t *testing.T) {
	rep := newTestNode(t)

	require.NoError(t, rep.AdvertiseService("flaky", "meshbus.StringMsg", "meshbus.StringMsg",
		func(request []byte) ([]byte, bool) {
			return nil, false
		}))

	_, success, err := rep.Request("flaky", []byte("hi"), "meshbus.StringMsg", "meshbus.StringMsg", time.Second)
	require.NoError(t, err)
	assert.False(t, success)
}

func TestRequestUnknownService(t *testing.T) {
	n := newTestNode(t)

	_, _, err := n.Request("nobody", nil, "meshbus.StringMsg", "meshbus.StringMsg", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoPublisher)
}

func TestRequestTypeMismatch(t *testing.T) {
	n := newTestNode(t)

	require.NoError(t, n.AdvertiseService("echo", "meshbus.StringMsg", "meshbus.StringMsg",
		func(request []byte) ([]byte, bool) { return request, true }))

	_, _, err := n.Request("echo", nil, "meshbus.Int32Msg", "meshbus.StringMsg", time.Second)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestUnadvertiseServiceRemovesReplier(t *testing.T) {
	n := newTestNode(t)

	require.NoError(t, n.AdvertiseService("echo", "meshbus.StringMsg", "meshbus.StringMsg",
		func(request []byte) ([]byte, bool) { return request, true }))
	require.NoError(t, n.UnadvertiseService("echo"))

	_, _, err := n.Request("echo", nil, "meshbus.StringMsg", "meshbus.StringMsg", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoPublisher)
}

func TestCloseUndoesEverything(t *testing.T) {
	t.Setenv("MESHBUS_IP", "127.0.0.1")
	t.Setenv("MESHBUS_PARTITION", "meshbus-test")

	a, err := NewNode()
	require.NoError(t, err)
	require.NoError(t, a.Advertise("foo", "meshbus.StringMsg"))
	require.NoError(t, a.Subscribe("bar", "meshbus.StringMsg", func([]byte, string) {}))
	require.NoError(t, a.AdvertiseService("echo", "meshbus.StringMsg", "meshbus.StringMsg",
		func(request []byte) ([]byte, bool) { return request, true }))

	// A second node keeps the shared state alive across a's Close.
	b, err := NewNode()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close())

	// a's registrations are gone from the process-shared state.
	fooFq, err := names.FullyQualifiedMsgName(a.Partition(), "", "foo")
	require.NoError(t, err)
	barFq, err := names.FullyQualifiedMsgName(a.Partition(), "", "bar")
	require.NoError(t, err)
	echoFq, err := names.FullyQualifiedSrvName(a.Partition(), "", "echo")
	require.NoError(t, err)
	_, stillAdvertised := a.shared.Discovery.LocalPublisher(fooFq, a.ID())
	assert.False(t, stillAdvertised)
	assert.False(t, a.shared.Subs.HasAnyHandler(barFq))
	_, stillReplying := a.shared.Repliers.Get(echoFq, a.ID())
	assert.False(t, stillReplying)

	// The same topic and service can be advertised from b.
	require.NoError(t, b.Advertise("foo", "meshbus.StringMsg"))
	require.NoError(t, b.AdvertiseService("echo", "meshbus.StringMsg", "meshbus.StringMsg",
		func(request []byte) ([]byte, bool) { return request, true }))

	// Operations on a closed node fail.
	assert.ErrorIs(t, a.Advertise("baz", "meshbus.StringMsg"), errNodeClosed)
	assert.NoError(t, a.Close(), "double close is a no-op")
}

func TestSubscribedTopics(t *testing.T) {
	n := newTestNode(t)

	require.NoError(t, n.Subscribe("beta", "meshbus.StringMsg", func([]byte, string) {}))
	require.NoError(t, n.Subscribe("alpha", "meshbus.StringMsg", func([]byte, string) {}))

	assert.Equal(t, []string{"alpha", "beta"}, n.SubscribedTopics())
}
