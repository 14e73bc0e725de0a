package krpc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// IDLength is the number of bytes in a packed node id.
const IDLength = 20

// IDBits is the maximum bit length of a NodeID that can be packed.
const IDBits = IDLength * 8

var byteMask = big.NewInt(0xFF)

// NodeID is a 160-bit unsigned DHT node identifier. The zero value is id 0.
// Values are immutable: constructors copy their input and Big returns a copy.
type NodeID struct {
	v *big.Int
}

// NewNodeID copies x into a NodeID. Negative values are a caller bug.
func NewNodeID(x *big.Int) NodeID {
	if x.Sign() < 0 {
		panic("krpc: negative node id")
	}
	return NodeID{v: new(big.Int).Set(x)}
}

// NodeIDFromUint64 returns the id with numeric value x.
func NodeIDFromUint64(x uint64) NodeID {
	return NodeID{v: new(big.Int).SetUint64(x)}
}

// ParseNodeID parses a hex string of at most 40 digits.
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("parse node id: %w", err)
	}
	if len(b) > IDLength {
		return NodeID{}, fmt.Errorf("parse node id: %d bytes, want at most %d", len(b), IDLength)
	}
	return NodeID{v: new(big.Int).SetBytes(b)}, nil
}

// RandomNodeID returns a uniformly random 160-bit id.
func RandomNodeID() NodeID {
	var b [IDLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("krpc: reading random id: " + err.Error())
	}
	return BytesToID(b)
}

func (id NodeID) val() *big.Int {
	if id.v == nil {
		return new(big.Int)
	}
	return id.v
}

// Big returns a copy of the id as a big.Int.
func (id NodeID) Big() *big.Int {
	return new(big.Int).Set(id.val())
}

// BitLen is the number of bits needed to represent id; 0 for id 0.
func (id NodeID) BitLen() int {
	return id.val().BitLen()
}

// Equal reports whether both ids have the same numeric value.
func (id NodeID) Equal(other NodeID) bool {
	return id.val().Cmp(other.val()) == 0
}

// String renders the id as 40 lowercase hex digits. Ids too large to pack
// fall back to the plain hex form.
func (id NodeID) String() string {
	if id.BitLen() > IDBits {
		return id.val().Text(16)
	}
	b := IDToBytes(id)
	return hex.EncodeToString(b[:])
}

// IDToBytes packs id big-endian into 20 bytes, zero padded on the left.
// It panics if id needs more than 160 bits: ids are generated locally,
// never taken from the wire, so an oversized one is a programming error.
func IDToBytes(id NodeID) [IDLength]byte {
	if n := id.BitLen(); n > IDBits {
		panic(fmt.Sprintf("krpc: node id has %d bits, max %d", n, IDBits))
	}
	var out [IDLength]byte
	rest := id.Big()
	part := new(big.Int)
	for i := IDLength - 1; i >= 0; i-- {
		part.And(rest, byteMask)
		out[i] = byte(part.Uint64())
		rest.Rsh(rest, 8)
	}
	return out
}

// BytesToID is the inverse of IDToBytes. Any 20 bytes are accepted.
func BytesToID(b [IDLength]byte) NodeID {
	v := new(big.Int)
	for _, c := range b {
		v.Lsh(v, 8)
		v.Or(v, big.NewInt(int64(c)))
	}
	return NodeID{v: v}
}
