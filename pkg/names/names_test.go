package names

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTopic(t *testing.T) {
	assert.True(t, IsValidTopic("foo"))
	assert.True(t, IsValidTopic("/foo/bar"))
	assert.False(t, IsValidTopic(""))
	assert.False(t, IsValidTopic("foo bar"))
	assert.False(t, IsValidTopic("foo~bar"))
	assert.False(t, IsValidTopic("foo@bar"))
	assert.False(t, IsValidTopic("foo//bar"))
	assert.False(t, IsValidTopic(strings.Repeat("a", 65536)))
}

func TestIsValidNamespace(t *testing.T) {
	assert.True(t, IsValidNamespace(""))
	assert.True(t, IsValidNamespace("ns"))
	assert.False(t, IsValidNamespace("/"))
	assert.False(t, IsValidNamespace("ns bad"))
}

func TestFullyQualifiedNameRoundTrip(t *testing.T) {
	cases := []struct {
		partition, namespace, topic string
	}{
		{"host:user", "ns", "foo"},
		{"p1", "", "bar"},
		{"", "ns", "/abs/topic"},
	}

	for _, c := range cases {
		name, err := FullyQualifiedName(c.partition, c.namespace, c.topic)
		require.NoError(t, err)

		got, ok := PartitionFromName(name)
		require.True(t, ok)
		assert.Equal(t, c.partition, got)
	}
}

func TestFullyQualifiedMsgSrvNameRoundTrip(t *testing.T) {
	name, err := FullyQualifiedMsgName("part", "ns", "foo")
	require.NoError(t, err)
	assert.True(t, strings.Contains(name, "@msg@"))

	infix, ok := TypeFromName(name)
	require.True(t, ok)
	assert.Equal(t, "msg", infix)

	topic, ok := TopicFromName(name)
	require.True(t, ok)
	assert.Equal(t, "ns/foo", topic)

	srvName, err := FullyQualifiedSrvName("part", "", "svc")
	require.NoError(t, err)
	infix, ok = TypeFromName(srvName)
	require.True(t, ok)
	assert.Equal(t, "srv", infix)
}

func TestFullyQualifiedNameAbsoluteTopicIgnoresNamespace(t *testing.T) {
	name, err := FullyQualifiedName("p", "ns", "/abs")
	require.NoError(t, err)
	topic, ok := TopicFromName(name)
	require.True(t, ok)
	assert.Equal(t, "/abs", topic)
}

func TestFullyQualifiedNameTooLong(t *testing.T) {
	longTopic := strings.Repeat("a", 65000)
	_, err := FullyQualifiedName(strings.Repeat("p", 1000), "", longTopic)
	require.Error(t, err)
}

func TestFullyQualifiedNameInvalidComponents(t *testing.T) {
	_, err := FullyQualifiedName("p@bad", "", "topic")
	require.Error(t, err)

	_, err = FullyQualifiedName("p", "/", "topic")
	require.Error(t, err)

	_, err = FullyQualifiedName("p", "", "")
	require.Error(t, err)
}
