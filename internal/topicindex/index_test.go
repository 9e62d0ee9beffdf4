package topicindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshbus/meshbus/pkg/types"
)

func samplePublisher(topic string, pid types.ProcessID, nid types.NodeID) types.Publisher {
	return types.Publisher{
		Topic:   topic,
		Addr:    "tcp://127.0.0.1:6000",
		PUuid:   pid,
		NUuid:   nid,
		Scope:   types.ScopeAll,
		MsgType: "meshbus.examples.StringMsg",
	}
}

func TestAddPublisherReportsFreshVsRefreshed(t *testing.T) {
	idx := New()
	pid := types.NewProcessID()
	nid := types.NewNodeID()
	pub := samplePublisher("@p@msg@foo", pid, nid)

	fresh := idx.AddPublisher(pub)
	assert.True(t, fresh)

	fresh = idx.AddPublisher(pub)
	assert.False(t, fresh)
}

func TestGetPublishersReturnsAllNodes(t *testing.T) {
	idx := New()
	pid := types.NewProcessID()
	topic := "@p@msg@foo"

	n1, n2 := types.NewNodeID(), types.NewNodeID()
	idx.AddPublisher(samplePublisher(topic, pid, n1))
	idx.AddPublisher(samplePublisher(topic, pid, n2))

	pubs := idx.GetPublishers(topic)
	assert.Len(t, pubs, 2)
}

func TestDelPublisherByNodeRemovesEmptyBranches(t *testing.T) {
	idx := New()
	pid := types.NewProcessID()
	nid := types.NewNodeID()
	topic := "@p@msg@foo"

	idx.AddPublisher(samplePublisher(topic, pid, nid))
	assert.True(t, idx.HasAnyPublisher(topic, pid))
	assert.False(t, idx.HasAnyPublisher(topic, types.NewProcessID()))

	removed := idx.DelPublisherByNode(topic, pid, nid)
	require.True(t, removed)
	assert.False(t, idx.HasAnyPublisher(topic, pid))
	assert.Empty(t, idx.ListTopics())

	removed = idx.DelPublisherByNode(topic, pid, nid)
	assert.False(t, removed)
}

func TestDelPublishersByProcessReturnsEmptiedTopics(t *testing.T) {
	idx := New()
	pid := types.NewProcessID()
	n1, n2 := types.NewNodeID(), types.NewNodeID()

	idx.AddPublisher(samplePublisher("@p@msg@foo", pid, n1))
	idx.AddPublisher(samplePublisher("@p@msg@bar", pid, n2))

	emptied := idx.DelPublishersByProcess(pid)
	assert.ElementsMatch(t, []string{"@p@msg@foo", "@p@msg@bar"}, emptied)
	assert.Empty(t, idx.ListTopics())
}

func TestGetPublisherMissing(t *testing.T) {
	idx := New()
	_, ok := idx.GetPublisher("nope", types.NewProcessID(), types.NewNodeID())
	assert.False(t, ok)
}
