// Package wire implements the discovery datagram codec: the Header and
// AdvertiseBody wire objects broadcast over UDP, and their encode/decode
// routines.
//
// All multi-byte integers are unsigned little-endian. Decoding never
// panics: short reads, an unknown message type or a length prefix that
// would overrun the buffer all produce types.ErrMalformedPacket.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/meshbus/meshbus/pkg/types"
)

// WireVersion is the protocol version stamped into every Header. A
// received datagram whose version does not match is treated as malformed
// rather than rejected with a dedicated error, mirroring the original
// implementation's handling of a version mismatch.
const WireVersion uint16 = 1

// MaxDatagramSize bounds the scratch buffer the reception task reuses; it
// comfortably exceeds any topic/name length the codec can produce.
const MaxDatagramSize = 65536

// MsgType identifies the kind of discovery datagram.
type MsgType uint8

// The eight discovery message kinds.
const (
	MsgAdv MsgType = iota
	MsgSub
	MsgUnadv
	MsgHello
	MsgBye
	MsgAdvSrv
	MsgSubSrv
	MsgUnadvSrv
)

// String implements fmt.Stringer for log output.
func (t MsgType) String() string {
	switch t {
	case MsgAdv:
		return "ADV"
	case MsgSub:
		return "SUB"
	case MsgUnadv:
		return "UNADV"
	case MsgHello:
		return "HELLO"
	case MsgBye:
		return "BYE"
	case MsgAdvSrv:
		return "ADV_SRV"
	case MsgSubSrv:
		return "SUB_SRV"
	case MsgUnadvSrv:
		return "UNADV_SRV"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether t is one of the eight defined message kinds.
func (t MsgType) IsValid() bool {
	return t <= MsgUnadvSrv
}

// isAdvFamily reports whether t carries an AdvertiseBody.
func (t MsgType) isAdvFamily() bool {
	switch t {
	case MsgAdv, MsgUnadv, MsgAdvSrv, MsgUnadvSrv:
		return true
	default:
		return false
	}
}

// Header is the fixed-shape prefix of every discovery datagram: version,
// sender process UUID, topic, message type and flags.
type Header struct {
	Version uint16
	PUuid   types.ProcessID
	Topic   string
	Type    MsgType
	Flags   uint16
}

// AdvertiseBody follows the Header for Adv/Unadv/AdvSrv/UnadvSrv messages.
//
// MsgType is populated for message variants (Adv/Unadv); SocketID, ReqType
// and RepType are populated for service variants (AdvSrv/UnadvSrv).
type AdvertiseBody struct {
	Addr     string
	CtrlAddr string
	NUuid    types.NodeID
	Scope    types.Scope
	MsgType  string
	SocketID string
	ReqType  string
	RepType  string
}

// Packet is a fully decoded datagram: a Header, and — for Adv-family
// message types — an AdvertiseBody.
type Packet struct {
	Header Header
	Body   *AdvertiseBody
}

// Encode serializes a Header followed, for Adv-family types, by the given
// AdvertiseBody.
func Encode(h Header, body *AdvertiseBody) ([]byte, error) {
	if !h.Type.IsValid() {
		return nil, fmt.Errorf("wire: encode: %w: unknown message type %d", types.ErrMalformedPacket, h.Type)
	}
	if h.Type.isAdvFamily() && body == nil {
		return nil, fmt.Errorf("wire: encode: %w: %s requires an AdvertiseBody", types.ErrMalformedPacket, h.Type)
	}

	buf := make([]byte, 0, 64+len(h.Topic))
	buf = appendUint16(buf, h.Version)
	buf = append(buf, h.PUuid[:]...)
	buf = appendLenPrefixedString(buf, h.Topic)
	buf = append(buf, byte(h.Type))
	buf = appendUint16(buf, h.Flags)

	if h.Type.isAdvFamily() {
		buf = appendLenPrefixedString(buf, body.Addr)
		buf = appendLenPrefixedString(buf, body.CtrlAddr)
		buf = append(buf, body.NUuid[:]...)
		buf = append(buf, byte(body.Scope))

		switch h.Type {
		case MsgAdvSrv, MsgUnadvSrv:
			buf = appendLenPrefixedString(buf, body.SocketID)
			buf = appendLenPrefixedString(buf, body.ReqType)
			buf = appendLenPrefixedString(buf, body.RepType)
		default:
			buf = appendLenPrefixedString(buf, body.MsgType)
		}
	}

	return buf, nil
}

// Decode parses a datagram produced by Encode. Any truncation, unknown
// message type or length-prefix overrun is reported as
// types.ErrMalformedPacket.
func Decode(data []byte) (Packet, error) {
	r := reader{buf: data}

	version, err := r.uint16()
	if err != nil {
		return Packet{}, malformed(err)
	}
	if version != WireVersion {
		return Packet{}, fmt.Errorf("wire: decode: %w: version %d, want %d", types.ErrMalformedPacket, version, WireVersion)
	}

	pUuidBytes, err := r.fixed(16)
	if err != nil {
		return Packet{}, malformed(err)
	}
	pUuid, err := types.ProcessIDFromBytes(pUuidBytes)
	if err != nil {
		return Packet{}, malformed(err)
	}

	topic, err := r.lenPrefixedString()
	if err != nil {
		return Packet{}, malformed(err)
	}

	typeByte, err := r.byte()
	if err != nil {
		return Packet{}, malformed(err)
	}
	msgType := MsgType(typeByte)
	if !msgType.IsValid() {
		return Packet{}, fmt.Errorf("wire: decode: %w: unknown message type %d", types.ErrMalformedPacket, typeByte)
	}

	flags, err := r.uint16()
	if err != nil {
		return Packet{}, malformed(err)
	}

	h := Header{Version: version, PUuid: pUuid, Topic: topic, Type: msgType, Flags: flags}

	if !msgType.isAdvFamily() {
		return Packet{Header: h}, nil
	}

	addr, err := r.lenPrefixedString()
	if err != nil {
		return Packet{}, malformed(err)
	}
	ctrlAddr, err := r.lenPrefixedString()
	if err != nil {
		return Packet{}, malformed(err)
	}
	nUuidBytes, err := r.fixed(16)
	if err != nil {
		return Packet{}, malformed(err)
	}
	nUuid, err := types.NodeIDFromBytes(nUuidBytes)
	if err != nil {
		return Packet{}, malformed(err)
	}
	scopeByte, err := r.byte()
	if err != nil {
		return Packet{}, malformed(err)
	}
	scope := types.Scope(scopeByte)
	if !scope.IsValid() {
		return Packet{}, fmt.Errorf("wire: decode: %w: unknown scope %d", types.ErrMalformedPacket, scopeByte)
	}

	body := &AdvertiseBody{Addr: addr, CtrlAddr: ctrlAddr, NUuid: nUuid, Scope: scope}

	switch msgType {
	case MsgAdvSrv, MsgUnadvSrv:
		body.SocketID, err = r.lenPrefixedString()
		if err != nil {
			return Packet{}, malformed(err)
		}
		body.ReqType, err = r.lenPrefixedString()
		if err != nil {
			return Packet{}, malformed(err)
		}
		body.RepType, err = r.lenPrefixedString()
		if err != nil {
			return Packet{}, malformed(err)
		}
	default:
		body.MsgType, err = r.lenPrefixedString()
		if err != nil {
			return Packet{}, malformed(err)
		}
	}

	return Packet{Header: h, Body: body}, nil
}

func malformed(err error) error {
	return fmt.Errorf("wire: decode: %w: %v", types.ErrMalformedPacket, err)
}

// ---- low-level byte helpers ----

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixedString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

type reader struct {
	buf []byte
	pos int
}

var errShortRead = fmt.Errorf("unexpected end of datagram")

func (r *reader) byte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errShortRead
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, errShortRead
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errShortRead
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) lenPrefixedString() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.fixed(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
