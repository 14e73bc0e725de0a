package krpc

import (
	"fmt"
	"net/netip"
)

// CompactNodeLength is the size of a compact node: packed id then packed address.
const CompactNodeLength = IDLength + AddrLength

// Node is a DHT participant: its id and the UDP address it is reachable at.
type Node struct {
	ID   NodeID
	Addr netip.AddrPort
}

func (n Node) Equal(other Node) bool {
	return n.ID.Equal(other.ID) && n.Addr == other.Addr
}

func (n Node) String() string {
	return n.ID.String() + "@" + n.Addr.String()
}

// EncodeNode returns the 26-byte compact form of n. It fails only when
// the address is not IPv4, and panics if the id does not fit 160 bits.
func EncodeNode(n Node) ([]byte, error) {
	addr, err := AddrToBytes(n.Addr)
	if err != nil {
		return nil, err
	}
	id := IDToBytes(n.ID)
	out := make([]byte, 0, CompactNodeLength)
	out = append(out, id[:]...)
	return append(out, addr[:]...), nil
}

// DecodeNode interprets a decoded bencode value as a compact node. Only a
// byte string of exactly 26 bytes matches; anything else reports false.
func DecodeNode(v any) (Node, bool) {
	var b []byte
	switch x := v.(type) {
	case string:
		b = []byte(x)
	case []byte:
		b = x
	default:
		return Node{}, false
	}
	if len(b) != CompactNodeLength {
		return Node{}, false
	}
	return decodeCompact(b), true
}

func decodeCompact(b []byte) Node {
	var id [IDLength]byte
	copy(id[:], b[:IDLength])
	return Node{
		ID:   BytesToID(id),
		Addr: BytesToAddr(b[IDLength:CompactNodeLength]),
	}
}

// EncodeNodes concatenates the compact forms of nodes, the layout used for
// the "nodes" value of find_node and get_peers responses.
func EncodeNodes(nodes []Node) ([]byte, error) {
	out := make([]byte, 0, len(nodes)*CompactNodeLength)
	for _, n := range nodes {
		b, err := EncodeNode(n)
		if err != nil {
			return nil, fmt.Errorf("encode node %s: %w", n, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeNodes splits a compact node list. The length must be a multiple of 26.
func DecodeNodes(b []byte) ([]Node, error) {
	if len(b)%CompactNodeLength != 0 {
		return nil, fmt.Errorf("%w: compact node list of %d bytes", ErrMalformedMessage, len(b))
	}
	nodes := make([]Node, 0, len(b)/CompactNodeLength)
	for off := 0; off < len(b); off += CompactNodeLength {
		nodes = append(nodes, decodeCompact(b[off:off+CompactNodeLength]))
	}
	return nodes, nil
}
