package krpc

import (
	"errors"
	"fmt"
	"net/netip"
)

// AddrLength is the size of a packed IPv4 socket address.
const AddrLength = 6

// ErrUnsupportedAddressFamily is returned when packing anything but an
// IPv4 address. IPv6 compact encoding is not implemented.
var ErrUnsupportedAddressFamily = errors.New("krpc: unsupported address family")

// AddrToBytes packs the 4 IPv4 octets followed by the big-endian port.
// IPv4-mapped IPv6 addresses are unmapped first.
func AddrToBytes(addr netip.AddrPort) ([AddrLength]byte, error) {
	var out [AddrLength]byte
	ip := addr.Addr().Unmap()
	if !ip.Is4() {
		return out, fmt.Errorf("%w: %s", ErrUnsupportedAddressFamily, addr)
	}
	a4 := ip.As4()
	copy(out[:4], a4[:])
	port := addr.Port()
	out[4] = byte(port >> 8)
	out[5] = byte(port & 0xFF)
	return out, nil
}

// BytesToAddr unpacks a 6-byte compact address. It panics unless b is
// exactly 6 bytes long; wire input must be length checked by the caller.
func BytesToAddr(b []byte) netip.AddrPort {
	if len(b) != AddrLength {
		panic(fmt.Sprintf("krpc: compact address is %d bytes, want %d", len(b), AddrLength))
	}
	ip := netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
	port := uint16(b[4])<<8 | uint16(b[5])
	return netip.AddrPortFrom(ip, port)
}
