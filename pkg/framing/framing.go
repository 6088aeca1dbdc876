// Package framing implements the STUN/ChannelData frame-length heuristic
// the adapter uses to decide how much of a stream-socket read buffer is one
// TURN PDU, grounded directly on turn_sock.c's has_packet().
package framing

import "encoding/binary"

// Splitter reports how many bytes at the front of buf form one complete
// frame. It returns (0, false) when buf does not yet hold a full frame (the
// caller should read more before calling again), and (n, true) when the
// first n bytes are one complete, self-describing frame — n may be less
// than len(buf) if more than one frame is already buffered.
type Splitter interface {
	Frame(buf []byte) (n int, ok bool)
}

// UDPSplitter treats each datagram as exactly one frame: the transport
// already preserves message boundaries, so a non-empty read is always a
// complete frame, same as has_packet()'s UDP branch (pkt_len = size).
type UDPSplitter struct{}

func (UDPSplitter) Frame(buf []byte) (int, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	return len(buf), true
}

// TCPSplitter implements the stream framing rule from has_packet(): the
// first two bits of the header distinguish a STUN message (top two bits
// zero) from ChannelData (channel number starting at 0x4000, top two bits
// nonzero per RFC 5766 §11). STUN messages carry a 16-bit length in bytes
// 2-3 that must be a multiple of 4 (padded attributes); ChannelData carries
// a 16-bit length in bytes 2-3 that is NOT required to be a multiple of 4,
// but the frame itself is padded up to the next multiple of 4 after the
// 4-byte ChannelData header.
type TCPSplitter struct{}

const (
	stunHeaderLen        = 20
	channelDataHeaderLen = 4
)

func (TCPSplitter) Frame(buf []byte) (int, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	top2 := buf[0] >> 6
	msgLenField := binary.BigEndian.Uint16(buf[2:4])

	if top2 == 0 && msgLenField%4 == 0 {
		total := stunHeaderLen + int(msgLenField)
		if len(buf) < total {
			return 0, false
		}
		return total, true
	}

	// ChannelData: 4-byte header (channel number + length) followed by
	// length bytes of data, padded to a 4-byte boundary.
	total := (channelDataHeaderLen + int(msgLenField) + 3) &^ 3
	if len(buf) < total {
		return 0, false
	}
	return total, true
}
