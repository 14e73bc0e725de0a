package krpc

import (
	"bytes"
	"errors"
	"fmt"
)

// maxDepth bounds list and dict nesting in an inbound packet. KRPC messages
// nest three levels at most.
const maxDepth = 32

var errTruncated = errors.New("unexpected end of input")

// checkFrame walks the bencode tokens of b without allocating. It rejects
// any string whose declared length runs past the end of b, so the decoder
// behind it never sizes a buffer from an unchecked prefix. It also enforces
// the canonical form: integers without leading zeros, dict keys strictly
// ascending, and nothing after the top-level value.
func checkFrame(b []byte) error {
	end, err := scanValue(b, 0, 0)
	if err != nil {
		return err
	}
	if end != len(b) {
		return fmt.Errorf("%d trailing bytes after top-level value", len(b)-end)
	}
	return nil
}

func scanValue(b []byte, i, depth int) (int, error) {
	if i >= len(b) {
		return 0, errTruncated
	}
	switch c := b[i]; {
	case c == 'i':
		return scanInt(b, i+1)
	case c == 'l':
		if depth >= maxDepth {
			return 0, fmt.Errorf("nesting deeper than %d", maxDepth)
		}
		i++
		for {
			if i >= len(b) {
				return 0, errTruncated
			}
			if b[i] == 'e' {
				return i + 1, nil
			}
			var err error
			if i, err = scanValue(b, i, depth+1); err != nil {
				return 0, err
			}
		}
	case c == 'd':
		if depth >= maxDepth {
			return 0, fmt.Errorf("nesting deeper than %d", maxDepth)
		}
		i++
		var prev []byte
		for n := 0; ; n++ {
			if i >= len(b) {
				return 0, errTruncated
			}
			if b[i] == 'e' {
				return i + 1, nil
			}
			start, end, err := scanString(b, i)
			if err != nil {
				return 0, fmt.Errorf("dict key: %w", err)
			}
			key := b[start:end]
			if n > 0 && bytes.Compare(prev, key) >= 0 {
				return 0, fmt.Errorf("dict key %q out of order", key)
			}
			prev = key
			if i, err = scanValue(b, end, depth+1); err != nil {
				return 0, err
			}
		}
	case c >= '0' && c <= '9':
		_, end, err := scanString(b, i)
		return end, err
	default:
		return 0, fmt.Errorf("unexpected byte %q at offset %d", c, i)
	}
}

// scanString returns the bounds of the string body starting at b[i].
func scanString(b []byte, i int) (start, end int, err error) {
	j := i
	n := 0
	for ; j < len(b) && b[j] >= '0' && b[j] <= '9'; j++ {
		n = n*10 + int(b[j]-'0')
		if n > len(b) {
			return 0, 0, fmt.Errorf("string length at offset %d exceeds input", i)
		}
	}
	switch {
	case j == i:
		return 0, 0, fmt.Errorf("expected string at offset %d", i)
	case j >= len(b):
		return 0, 0, errTruncated
	case b[j] != ':':
		return 0, 0, fmt.Errorf("expected ':' at offset %d", j)
	case j-i > 1 && b[i] == '0':
		return 0, 0, fmt.Errorf("string length at offset %d has leading zero", i)
	}
	start = j + 1
	if n > len(b)-start {
		return 0, 0, fmt.Errorf("string length %d at offset %d exceeds input", n, i)
	}
	return start, start + n, nil
}

// scanInt checks the body of an integer token; i is just past the 'i'.
func scanInt(b []byte, i int) (int, error) {
	j := i
	if j < len(b) && b[j] == '-' {
		j++
	}
	digits := j
	for j < len(b) && b[j] >= '0' && b[j] <= '9' {
		j++
	}
	switch {
	case j >= len(b):
		return 0, errTruncated
	case j == digits || b[j] != 'e':
		return 0, fmt.Errorf("malformed integer at offset %d", i-1)
	case b[digits] == '0' && (j-digits > 1 || digits > i):
		return 0, fmt.Errorf("non-canonical integer at offset %d", i-1)
	}
	return j + 1, nil
}
