// Package krpc implements the KRPC message codec of the mainline DHT
// (BEP 0005). It converts queries, responses and errors to and from their
// bencoded wire form, including the 26-byte compact node encoding of the
// sender: a 20-byte big-endian node id followed by a 4-byte IPv4 address
// and a 2-byte big-endian port.
//
// Typical usage:
//
//	b, err := krpc.Encode(krpc.Package{
//		TransactionID: []byte("aa"),
//		Payload:       krpc.Query{Fields: krpc.Fields{krpc.MethodKey: []byte("ping")}},
//		Sender:        self,
//	})
//
//	p, err := krpc.Decode(datagram)
//	if errors.Is(err, krpc.ErrMalformedMessage) { ... }
//
// The package holds no state and every function is safe for concurrent use.
// Decoding never panics on input read from the network; encoding panics
// only when handed a node id wider than 160 bits.
package krpc
