package krpc

import "errors"

// Wire keys of the top-level KRPC dictionary.
const (
	KeyTransaction = "t"
	KeyType        = "y"
	KeyNodeID      = "id"

	// MethodKey is the caller field naming the query method.
	MethodKey = "q"
)

// Type tags, also used as the key holding the payload.
const (
	TypeQuery    = "q"
	TypeResponse = "r"
	TypeError    = "e"
)

// Error codes defined by BEP 0005.
const (
	ErrCodeGeneric       int64 = 201
	ErrCodeServer        int64 = 202
	ErrCodeProtocol      int64 = 203
	ErrCodeMethodUnknown int64 = 204
)

var (
	// ErrMalformedMessage is wrapped by every decode failure other than an
	// unknown type tag.
	ErrMalformedMessage = errors.New("krpc: malformed message")
	// ErrUnknownMessageType means "y" held something other than q, r or e.
	ErrUnknownMessageType = errors.New("krpc: unknown message type")
)

// Fields holds the caller-visible entries of a query or response dict.
// The sender's "id" is managed by the codec and never appears here after
// decoding.
type Fields map[string][]byte

// Payload is one of Query, Response or Error.
type Payload interface {
	// Kind returns the one-letter type tag: "q", "r" or "e".
	Kind() string
	isPayload()
}

// Query asks the receiver to run the method named by Fields[MethodKey].
type Query struct {
	Fields Fields
}

// Response answers a query carrying the same transaction id.
type Response struct {
	Fields Fields
}

// Error is a KRPC error reply: a numeric code and a human readable message.
type Error struct {
	Code    int64
	Message string
}

func (Query) Kind() string    { return TypeQuery }
func (Response) Kind() string { return TypeResponse }
func (Error) Kind() string    { return TypeError }

func (Query) isPayload()    {}
func (Response) isPayload() {}
func (Error) isPayload()    {}

// Package is one KRPC message. Sender is carried inside the payload dict
// for queries and responses, and dropped for errors.
type Package struct {
	TransactionID []byte
	Payload       Payload
	Sender        Node
}

// Method returns the method field of a query, or "" for other payloads.
func (p Package) Method() string {
	q, ok := p.Payload.(Query)
	if !ok {
		return ""
	}
	return string(q.Fields[MethodKey])
}
