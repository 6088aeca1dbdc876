package turn

import (
	"encoding/binary"
	"fmt"
	"net"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

const (
	familyIPv4 = 0x01
	familyIPv6 = 0x02
)

// encodeXorAddr encodes addr as an XOR-PEER-ADDRESS/XOR-RELAYED-ADDRESS/
// XOR-MAPPED-ADDRESS attribute value (RFC 5389 §15.2): port XORed with the
// top 16 bits of the magic cookie, address XORed with the cookie (and, for
// IPv6, the transaction ID too).
func encodeXorAddr(addr *net.UDPAddr, txID TransactionID) []byte {
	ip4 := addr.IP.To4()
	if ip4 != nil {
		buf := make([]byte, 8)
		buf[1] = familyIPv4
		binary.BigEndian.PutUint16(buf[2:4], uint16(addr.Port)^uint16(magicCookie>>16))
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], magicCookie)
		for i := 0; i < 4; i++ {
			buf[4+i] = ip4[i] ^ cookie[i]
		}
		return buf
	}

	ip16 := addr.IP.To16()
	buf := make([]byte, 20)
	buf[1] = familyIPv6
	binary.BigEndian.PutUint16(buf[2:4], uint16(addr.Port)^uint16(magicCookie>>16))
	var xorKey [16]byte
	binary.BigEndian.PutUint32(xorKey[0:4], magicCookie)
	copy(xorKey[4:16], txID[:])
	for i := 0; i < 16; i++ {
		buf[4+i] = ip16[i] ^ xorKey[i]
	}
	return buf
}

func decodeXorAddr(value []byte, txID TransactionID) (*net.UDPAddr, error) {
	if len(value) < 8 {
		return nil, turnerrors.Of("turn.decodeXorAddr", turnerrors.KindProtocol, fmt.Errorf("short xor-address"))
	}
	family := value[1]
	port := binary.BigEndian.Uint16(value[2:4]) ^ uint16(magicCookie>>16)

	switch family {
	case familyIPv4:
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], magicCookie)
		ip := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			ip[i] = value[4+i] ^ cookie[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case familyIPv6:
		if len(value) < 20 {
			return nil, turnerrors.Of("turn.decodeXorAddr", turnerrors.KindProtocol, fmt.Errorf("short ipv6 xor-address"))
		}
		var xorKey [16]byte
		binary.BigEndian.PutUint32(xorKey[0:4], magicCookie)
		copy(xorKey[4:16], txID[:])
		ip := make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = value[4+i] ^ xorKey[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	default:
		return nil, turnerrors.Of("turn.decodeXorAddr", turnerrors.KindProtocol, fmt.Errorf("unknown address family %#x", family))
	}
}
