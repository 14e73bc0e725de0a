package node

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// DefaultPort is the customary mainline DHT port.
const DefaultPort = "6881"

// NormalizeHostPort cuts the udp:// prefix from the input address and adds
// a default port when none is given.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "udp://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}

// ResolvePeer turns a host[:port] into an IPv4 UDP address.
func ResolvePeer(addr string) (netip.AddrPort, error) {
	hp := NormalizeHostPort(addr, DefaultPort)
	ua, err := net.ResolveUDPAddr("udp4", hp)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve peer %q: %w", addr, err)
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
