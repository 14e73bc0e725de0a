package krpc

import (
	"bytes"
	"fmt"

	"github.com/zeebo/bencode"
)

// Value builds the generic bencode value of p: a dict with string keys
// whose values are byte strings, integers, lists or dicts. The encoder
// writes dict keys in sorted order, so equal packages give equal bytes.
func (p Package) Value() (map[string]any, error) {
	tid := p.TransactionID
	if tid == nil {
		tid = []byte{}
	}
	out := map[string]any{
		KeyTransaction: tid,
	}

	var body any
	switch pl := p.Payload.(type) {
	case Query:
		d, err := p.fieldsValue(pl.Fields)
		if err != nil {
			return nil, err
		}
		body = d
	case Response:
		d, err := p.fieldsValue(pl.Fields)
		if err != nil {
			return nil, err
		}
		body = d
	case Error:
		body = []any{pl.Code, pl.Message}
	case nil:
		return nil, fmt.Errorf("krpc: package has no payload")
	default:
		panic(fmt.Sprintf("krpc: unexpected payload type %T", pl))
	}

	kind := p.Payload.Kind()
	out[KeyType] = kind
	out[kind] = body
	return out, nil
}

func (p Package) fieldsValue(f Fields) (map[string]any, error) {
	d := make(map[string]any, len(f)+1)
	for k, v := range f {
		if v == nil {
			v = []byte{}
		}
		d[k] = v
	}
	id, err := EncodeNode(p.Sender)
	if err != nil {
		return nil, fmt.Errorf("encode sender: %w", err)
	}
	d[KeyNodeID] = id
	return d, nil
}

// Encode serializes p to its bencoded wire form.
func Encode(p Package) ([]byte, error) {
	v, err := p.Value()
	if err != nil {
		return nil, err
	}
	return bencode.EncodeBytes(v)
}

// Decode parses a datagram received from a peer. Every failure wraps
// ErrMalformedMessage or ErrUnknownMessageType; no input makes it panic.
// The frame must be exactly one canonical bencode dict.
func Decode(b []byte) (Package, error) {
	if err := checkFrame(b); err != nil {
		return Package{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	var v any
	dec := bencode.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&v); err != nil {
		return Package{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if n := dec.BytesParsed(); n != len(b) {
		return Package{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, len(b)-n)
	}
	return DecodeValue(v)
}

// DecodeValue builds a Package from an already decoded bencode value.
func DecodeValue(v any) (Package, error) {
	top, ok := v.(map[string]any)
	if !ok {
		return Package{}, fmt.Errorf("%w: top level is %T, want dict", ErrMalformedMessage, v)
	}
	tid, ok := byteString(top[KeyTransaction])
	if !ok {
		return Package{}, fmt.Errorf("%w: missing or invalid %q", ErrMalformedMessage, KeyTransaction)
	}
	kind, ok := byteString(top[KeyType])
	if !ok {
		return Package{}, fmt.Errorf("%w: missing or invalid %q", ErrMalformedMessage, KeyType)
	}

	p := Package{TransactionID: tid}
	switch t := string(kind); t {
	case TypeQuery, TypeResponse:
		fields, sender, err := decodeFields(top[t])
		if err != nil {
			return Package{}, err
		}
		p.Sender = sender
		if t == TypeQuery {
			p.Payload = Query{Fields: fields}
		} else {
			p.Payload = Response{Fields: fields}
		}
	case TypeError:
		e, err := decodeError(top[t])
		if err != nil {
			return Package{}, err
		}
		p.Payload = e
	default:
		return Package{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, t)
	}
	return p, nil
}

func decodeFields(v any) (Fields, Node, error) {
	d, ok := v.(map[string]any)
	if !ok {
		return nil, Node{}, fmt.Errorf("%w: payload is %T, want dict", ErrMalformedMessage, v)
	}
	sender, ok := DecodeNode(d[KeyNodeID])
	if !ok {
		return nil, Node{}, fmt.Errorf("%w: missing or invalid sender %q", ErrMalformedMessage, KeyNodeID)
	}
	fields := make(Fields, len(d))
	for k, raw := range d {
		if k == KeyNodeID {
			continue
		}
		b, ok := byteString(raw)
		if !ok {
			return nil, Node{}, fmt.Errorf("%w: field %q is %T, want byte string", ErrMalformedMessage, k, raw)
		}
		fields[k] = b
	}
	return fields, sender, nil
}

func decodeError(v any) (Error, error) {
	l, ok := v.([]any)
	if !ok || len(l) != 2 {
		return Error{}, fmt.Errorf("%w: error payload must be a 2-element list", ErrMalformedMessage)
	}
	code, ok := l[0].(int64)
	if !ok {
		return Error{}, fmt.Errorf("%w: error code is %T, want integer", ErrMalformedMessage, l[0])
	}
	msg, ok := byteString(l[1])
	if !ok {
		return Error{}, fmt.Errorf("%w: error message is %T, want byte string", ErrMalformedMessage, l[1])
	}
	return Error{Code: code, Message: string(msg)}, nil
}

// byteString accepts both representations a bencode byte string takes
// after decoding into an interface value.
func byteString(v any) ([]byte, bool) {
	switch x := v.(type) {
	case string:
		return []byte(x), true
	case []byte:
		return x, true
	default:
		return nil, false
	}
}
