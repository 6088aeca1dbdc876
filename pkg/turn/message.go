// STUN/TURN message encode/decode. Header layout, magic cookie, and
// attribute type values follow RFC 5389/5766; the constants mirror (and
// replace the placeholder duplicates of) those declared in the teacher's
// pkg/p2p/turn/turn_server.go.
package turn

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

// MessageType is the 14-bit STUN method plus 2-bit class packed into the
// wire's 16-bit message-type field.
type MessageType uint16

const (
	MsgBindingRequest MessageType = 0x0001
	MsgBindingSuccess MessageType = 0x0101

	MsgAllocateRequest MessageType = 0x0003
	MsgAllocateSuccess MessageType = 0x0103
	MsgAllocateError   MessageType = 0x0113

	MsgRefreshRequest MessageType = 0x0004
	MsgRefreshSuccess MessageType = 0x0104
	MsgRefreshError   MessageType = 0x0114

	MsgSendIndication MessageType = 0x0016
	MsgDataIndication MessageType = 0x0017

	MsgCreatePermissionRequest MessageType = 0x0008
	MsgCreatePermissionSuccess MessageType = 0x0108
	MsgCreatePermissionError   MessageType = 0x0118

	MsgChannelBindRequest MessageType = 0x0009
	MsgChannelBindSuccess MessageType = 0x0109
	MsgChannelBindError   MessageType = 0x0119
)

// IsError reports whether the message type's class bits indicate an error
// response (class 0b11).
func (t MessageType) IsError() bool {
	return t&0x0110 == 0x0110
}

// IsSuccess reports whether the message type's class bits indicate a
// success response (class 0b10).
func (t MessageType) IsSuccess() bool {
	return t&0x0110 == 0x0100 && !t.IsError()
}

// AttrType is a STUN/TURN attribute type.
type AttrType uint16

const (
	AttrMappedAddress     AttrType = 0x0001
	AttrUsername          AttrType = 0x0006
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrUnknownAttributes AttrType = 0x000A
	AttrRealm             AttrType = 0x0014
	AttrNonce             AttrType = 0x0015
	AttrXorMappedAddress  AttrType = 0x0020
	AttrSoftware          AttrType = 0x8022
	AttrAlternateServer   AttrType = 0x8023
	AttrFingerprint       AttrType = 0x8028

	AttrChannelNumber      AttrType = 0x000C
	AttrLifetime           AttrType = 0x000D
	AttrXorPeerAddress     AttrType = 0x0012
	AttrData               AttrType = 0x0013
	AttrXorRelayedAddress  AttrType = 0x0016
	AttrEvenPort           AttrType = 0x0018
	AttrRequestedTransport AttrType = 0x0019
	AttrDontFragment       AttrType = 0x001A
	AttrReservationToken   AttrType = 0x0022
)

const magicCookie uint32 = 0x2112A442

const headerLen = 20

// TransactionID is a 96-bit STUN transaction identifier. RFC 5389 §7.2
// requires it to be unpredictable, so it is always drawn from crypto/rand,
// never math/rand.
type TransactionID [12]byte

func newTransactionID() (TransactionID, error) {
	var id TransactionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, turnerrors.Of("turn.newTransactionID", turnerrors.KindInvalid, err)
	}
	return id, nil
}

// Attribute is one TLV attribute of a Message, value already unpadded.
type Attribute struct {
	Type  AttrType
	Value []byte
}

// Message is a decoded STUN/TURN message.
type Message struct {
	Type   MessageType
	TxID   TransactionID
	Attrs  []Attribute
}

// NewRequest builds an empty request/indication message with a fresh
// transaction ID.
func NewRequest(t MessageType) (*Message, error) {
	txID, err := newTransactionID()
	if err != nil {
		return nil, err
	}
	return &Message{Type: t, TxID: txID}, nil
}

// Get returns the first attribute of type at, if present.
func (m *Message) Get(at AttrType) ([]byte, bool) {
	for _, a := range m.Attrs {
		if a.Type == at {
			return a.Value, true
		}
	}
	return nil, false
}

// Add appends an attribute.
func (m *Message) Add(at AttrType, value []byte) {
	m.Attrs = append(m.Attrs, Attribute{Type: at, Value: value})
}

// AddUint32 appends a 4-byte big-endian attribute (LIFETIME, etc.).
func (m *Message) AddUint32(at AttrType, v uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	m.Add(at, buf)
}

// Uint32 reads a 4-byte big-endian attribute.
func (m *Message) Uint32(at AttrType) (uint32, bool) {
	v, ok := m.Get(at)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// AddString appends a UTF-8 attribute (USERNAME, REALM, NONCE, SOFTWARE).
func (m *Message) AddString(at AttrType, s string) {
	m.Add(at, []byte(s))
}

// String reads a UTF-8 attribute.
func (m *Message) String(at AttrType) (string, bool) {
	v, ok := m.Get(at)
	if !ok {
		return "", false
	}
	return string(v), true
}

// AddChannelNumber appends CHANNEL-NUMBER (channel | 16 reserved bits).
func (m *Message) AddChannelNumber(ch uint16) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], ch)
	m.Add(AttrChannelNumber, buf)
}

// ChannelNumber reads CHANNEL-NUMBER.
func (m *Message) ChannelNumber() (uint16, bool) {
	v, ok := m.Get(AttrChannelNumber)
	if !ok || len(v) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v[0:2]), true
}

// AddRequestedTransport appends REQUESTED-TRANSPORT for protocol proto
// (17 = UDP, per RFC 5766 §14.7).
func (m *Message) AddRequestedTransport(proto byte) {
	m.Add(AttrRequestedTransport, []byte{proto, 0, 0, 0})
}

// ErrorCode decodes ERROR-CODE into (class*100+number, reason).
func (m *Message) ErrorCode() (code int, reason string, ok bool) {
	v, present := m.Get(AttrErrorCode)
	if !present || len(v) < 4 {
		return 0, "", false
	}
	class := int(v[2] & 0x07)
	number := int(v[3])
	return class*100 + number, string(v[4:]), true
}

// AddErrorCode appends ERROR-CODE.
func (m *Message) AddErrorCode(code int, reason string) {
	buf := make([]byte, 4+len(reason))
	buf[2] = byte(code / 100)
	buf[3] = byte(code % 100)
	copy(buf[4:], reason)
	m.Add(AttrErrorCode, buf)
}

// Encode serializes m. If integrityKey is non-nil, a MESSAGE-INTEGRITY
// attribute is computed and appended per RFC 5389 §15.4: the header's
// length field is set as though the attribute were already present before
// computing the HMAC, then the attribute is appended to the real output.
func (m *Message) Encode(integrityKey []byte) []byte {
	var body []byte
	for _, a := range m.Attrs {
		body = appendAttr(body, a.Type, a.Value)
	}

	if integrityKey != nil {
		// HMAC covers the header + attributes-so-far with the length
		// field already accounting for the 24-byte MESSAGE-INTEGRITY
		// attribute that will follow.
		provisional := headerLen + len(body) + 24
		header := encodeHeader(m.Type, uint16(provisional-headerLen), m.TxID)
		mac := hmacSHA1(integrityKey, append(header, body...))
		body = appendAttr(body, AttrMessageIntegrity, mac)
	}

	header := encodeHeader(m.Type, uint16(len(body)), m.TxID)
	return append(header, body...)
}

func encodeHeader(t MessageType, attrLen uint16, txID TransactionID) []byte {
	h := make([]byte, headerLen)
	binary.BigEndian.PutUint16(h[0:2], uint16(t))
	binary.BigEndian.PutUint16(h[2:4], attrLen)
	binary.BigEndian.PutUint32(h[4:8], magicCookie)
	copy(h[8:20], txID[:])
	return h
}

func appendAttr(buf []byte, t AttrType, value []byte) []byte {
	tl := make([]byte, 4)
	binary.BigEndian.PutUint16(tl[0:2], uint16(t))
	binary.BigEndian.PutUint16(tl[2:4], uint16(len(value)))
	buf = append(buf, tl...)
	buf = append(buf, value...)
	if pad := (4 - len(value)%4) % 4; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

// Decode parses a complete STUN message (exactly headerLen+attrLen bytes,
// as already isolated by pkg/framing).
func Decode(buf []byte) (*Message, error) {
	if len(buf) < headerLen {
		return nil, turnerrors.Of("turn.Decode", turnerrors.KindProtocol, fmt.Errorf("short header: %d bytes", len(buf)))
	}
	mt := MessageType(binary.BigEndian.Uint16(buf[0:2]))
	attrLen := int(binary.BigEndian.Uint16(buf[2:4]))
	cookie := binary.BigEndian.Uint32(buf[4:8])
	if cookie != magicCookie {
		return nil, turnerrors.Of("turn.Decode", turnerrors.KindProtocol, fmt.Errorf("bad magic cookie %#x", cookie))
	}
	if len(buf) < headerLen+attrLen {
		return nil, turnerrors.Of("turn.Decode", turnerrors.KindProtocol, fmt.Errorf("truncated body: want %d have %d", attrLen, len(buf)-headerLen))
	}

	m := &Message{Type: mt}
	copy(m.TxID[:], buf[8:20])

	body := buf[headerLen : headerLen+attrLen]
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, turnerrors.Of("turn.Decode", turnerrors.KindProtocol, fmt.Errorf("truncated attribute header"))
		}
		at := AttrType(binary.BigEndian.Uint16(body[0:2]))
		alen := int(binary.BigEndian.Uint16(body[2:4]))
		body = body[4:]
		if len(body) < alen {
			return nil, turnerrors.Of("turn.Decode", turnerrors.KindProtocol, fmt.Errorf("truncated attribute value"))
		}
		m.Attrs = append(m.Attrs, Attribute{Type: at, Value: append([]byte(nil), body[:alen]...)})
		pad := (4 - alen%4) % 4
		if len(body) < alen+pad {
			pad = len(body) - alen
		}
		body = body[alen+pad:]
	}
	return m, nil
}
