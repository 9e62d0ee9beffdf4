package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshbus/meshbus/pkg/types"
)

func TestEncodeDecodeHello(t *testing.T) {
	h := Header{
		Version: WireVersion,
		PUuid:   types.NewProcessID(),
		Topic:   "@host:user@/foo",
		Type:    MsgHello,
		Flags:   0,
	}

	data, err := Encode(h, nil)
	require.NoError(t, err)

	pkt, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, h, pkt.Header)
	assert.Nil(t, pkt.Body)
}

func TestEncodeDecodeAdvMessage(t *testing.T) {
	h := Header{
		Version: WireVersion,
		PUuid:   types.NewProcessID(),
		Topic:   "@host:user@msg@/foo",
		Type:    MsgAdv,
	}
	body := &AdvertiseBody{
		Addr:     "tcp://10.0.0.1:6001",
		CtrlAddr: "tcp://10.0.0.1:6002",
		NUuid:    types.NewNodeID(),
		Scope:    types.ScopeAll,
		MsgType:  "meshbus.examples.StringMsg",
	}

	data, err := Encode(h, body)
	require.NoError(t, err)

	pkt, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, h, pkt.Header)
	require.NotNil(t, pkt.Body)
	assert.Equal(t, *body, *pkt.Body)
}

func TestEncodeDecodeAdvSrv(t *testing.T) {
	h := Header{
		Version: WireVersion,
		PUuid:   types.NewProcessID(),
		Topic:   "@p@srv@/add",
		Type:    MsgAdvSrv,
	}
	body := &AdvertiseBody{
		Addr:     "tcp://127.0.0.1:7000",
		CtrlAddr: "tcp://127.0.0.1:7001",
		NUuid:    types.NewNodeID(),
		Scope:    types.ScopeHost,
		SocketID: "dealer-1",
		ReqType:  "meshbus.examples.Int",
		RepType:  "meshbus.examples.Int",
	}

	data, err := Encode(h, body)
	require.NoError(t, err)

	pkt, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, pkt.Body)
	assert.Equal(t, *body, *pkt.Body)
	assert.Empty(t, pkt.Body.MsgType)
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	h := Header{Version: WireVersion, PUuid: types.NewProcessID(), Type: MsgType(99)}
	_, err := Encode(h, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedPacket)
}

func TestEncodeRejectsMissingBody(t *testing.T) {
	h := Header{Version: WireVersion, PUuid: types.NewProcessID(), Type: MsgAdv}
	_, err := Encode(h, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedPacket)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	h := Header{Version: WireVersion, PUuid: types.NewProcessID(), Type: MsgHello}
	data, err := Encode(h, nil)
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		_, err := Decode(data[:n])
		assert.Error(t, err, "expected error at truncation length %d", n)
		assert.ErrorIs(t, err, types.ErrMalformedPacket)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	h := Header{Version: WireVersion + 1, PUuid: types.NewProcessID(), Type: MsgHello}
	data, err := Encode(h, nil)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedPacket)
}

func TestDecodeRejectsUnknownMessageType(t *testing.T) {
	h := Header{Version: WireVersion, PUuid: types.NewProcessID(), Type: MsgHello}
	data, err := Encode(h, nil)
	require.NoError(t, err)

	// The type byte sits right after version (2) + PUuid (16) + topic
	// length prefix (2) + topic bytes (0, since Topic is empty here).
	typeOffset := 2 + 16 + 2
	data[typeOffset] = 200

	_, err = Decode(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedPacket)
}

func TestDecodeRejectsUnknownScope(t *testing.T) {
	h := Header{Version: WireVersion, PUuid: types.NewProcessID(), Type: MsgAdv}
	body := &AdvertiseBody{Addr: "a", CtrlAddr: "b", NUuid: types.NewNodeID(), Scope: types.ScopeAll, MsgType: "t"}
	data, err := Encode(h, body)
	require.NoError(t, err)

	scopeOffset := len(data) - 1 - 2 - len(body.MsgType)
	data[scopeOffset] = 99

	_, err = Decode(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedPacket)
}

func TestMsgTypeString(t *testing.T) {
	assert.Equal(t, "ADV", MsgAdv.String())
	assert.Equal(t, "UNKNOWN", MsgType(250).String())
}
