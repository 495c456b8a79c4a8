// Package bencode implements the bencoding used by torrent files and
// tracker responses: byte strings, integers, lists and dictionaries.
//
// The decoder is strict: dictionary keys must be byte strings in strictly
// ascending order, integers may not carry leading zeros or a negative zero,
// and the whole input must be consumed. Every decoded value remembers the
// raw byte span it was parsed from, so callers can hash sub-values (the
// `info` dictionary) exactly as they appeared on the wire.
package bencode

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// ErrMalformed is returned for any input that is not valid bencode.
var ErrMalformed = errors.New("malformed bencode")

// Kind discriminates the four bencoded value forms.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindList
	KindDict
)

// Value represents a single bencoded value.
type Value struct {
	Kind Kind
	Str  string
	Int  int64
	List []Value
	Dict map[string]Value
	// Keys holds the dictionary keys in input order. The decoder rejects
	// dictionaries whose keys are not strictly ascending, so this matches
	// sorted order for any decoded value.
	Keys []string

	raw []byte
}

// RawBytes returns the exact input bytes this value was decoded from.
// It returns nil for values that were built in memory rather than decoded.
func (v *Value) RawBytes() []byte { return v.raw }

type decoder struct {
	data []byte
	pos  int
}

// Decode parses data as a single bencoded value.
// Trailing bytes after the top-level value make the input malformed.
func Decode(data []byte) (*Value, error) {
	d := &decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, errors.Wrapf(ErrMalformed, "trailing bytes after value at offset %d", d.pos)
	}
	return v, nil
}

func (d *decoder) peek() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, errors.Wrap(ErrMalformed, "unexpected end of input")
	}
	return d.data[d.pos], nil
}

func (d *decoder) value() (*Value, error) {
	start := d.pos
	c, err := d.peek()
	if err != nil {
		return nil, err
	}
	var v *Value
	switch {
	case c == 'i':
		v, err = d.integer()
	case c == 'l':
		v, err = d.list()
	case c == 'd':
		v, err = d.dict()
	case c >= '0' && c <= '9':
		v, err = d.str()
	default:
		return nil, errors.Wrapf(ErrMalformed, "unexpected byte %q at offset %d", c, d.pos)
	}
	if err != nil {
		return nil, err
	}
	v.raw = d.data[start:d.pos]
	return v, nil
}

// integer parses i<signed-decimal>e.
// Leading zeros are rejected except for i0e itself, as is i-0e.
func (d *decoder) integer() (*Value, error) {
	d.pos++ // 'i'
	end := bytes.IndexByte(d.data[d.pos:], 'e')
	if end < 0 {
		return nil, errors.Wrap(ErrMalformed, "unterminated integer")
	}
	digits := string(d.data[d.pos : d.pos+end])
	if err := checkIntDigits(digits); err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "integer %q", digits)
	}
	d.pos += end + 1
	return &Value{Kind: KindInt, Int: n}, nil
}

func checkIntDigits(s string) error {
	body := s
	if len(body) > 0 && body[0] == '-' {
		body = body[1:]
		if body == "0" {
			return errors.Wrap(ErrMalformed, "negative zero integer")
		}
	}
	if len(body) == 0 {
		return errors.Wrap(ErrMalformed, "empty integer")
	}
	for i := 0; i < len(body); i++ {
		if body[i] < '0' || body[i] > '9' {
			return errors.Wrapf(ErrMalformed, "integer %q has invalid digits", s)
		}
	}
	if len(body) > 1 && body[0] == '0' {
		return errors.Wrapf(ErrMalformed, "integer %q has leading zeros", s)
	}
	return nil
}

// str parses <len>:<bytes>.
func (d *decoder) str() (*Value, error) {
	colon := bytes.IndexByte(d.data[d.pos:], ':')
	if colon < 0 {
		return nil, errors.Wrap(ErrMalformed, "unterminated string length")
	}
	digits := string(d.data[d.pos : d.pos+colon])
	if len(digits) > 1 && digits[0] == '0' {
		return nil, errors.Wrapf(ErrMalformed, "string length %q has leading zeros", digits)
	}
	length, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "string length %q", digits)
	}
	d.pos += colon + 1
	if int64(len(d.data)-d.pos) < length {
		return nil, errors.Wrapf(ErrMalformed, "string truncated: want %d bytes, have %d", length, len(d.data)-d.pos)
	}
	s := string(d.data[d.pos : d.pos+int(length)])
	d.pos += int(length)
	return &Value{Kind: KindString, Str: s}, nil
}

func (d *decoder) list() (*Value, error) {
	d.pos++ // 'l'
	v := &Value{Kind: KindList}
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			d.pos++
			return v, nil
		}
		elem, err := d.value()
		if err != nil {
			return nil, err
		}
		v.List = append(v.List, *elem)
	}
}

func (d *decoder) dict() (*Value, error) {
	d.pos++ // 'd'
	v := &Value{Kind: KindDict, Dict: make(map[string]Value)}
	prev := ""
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			d.pos++
			return v, nil
		}
		if c < '0' || c > '9' {
			return nil, errors.Wrapf(ErrMalformed, "dictionary key is not a string at offset %d", d.pos)
		}
		key, err := d.str()
		if err != nil {
			return nil, err
		}
		if len(v.Keys) > 0 && key.Str <= prev {
			return nil, errors.Wrapf(ErrMalformed, "dictionary keys out of order: %q after %q", key.Str, prev)
		}
		val, err := d.value()
		if err != nil {
			return nil, err
		}
		v.Dict[key.Str] = *val
		v.Keys = append(v.Keys, key.Str)
		prev = key.Str
	}
}

// Encode returns the bencoded representation of a value.
// Dictionary entries are emitted in ascending key order, so
// Encode(Decode(x)) reproduces x for any input Decode accepts.
func Encode(v *Value) []byte {
	var buf bytes.Buffer
	encodeTo(&buf, v)
	return buf.Bytes()
}

func encodeTo(buf *bytes.Buffer, v *Value) {
	switch v.Kind {
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.Str)))
		buf.WriteByte(':')
		buf.WriteString(v.Str)
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindList:
		buf.WriteByte('l')
		for i := range v.List {
			encodeTo(buf, &v.List[i])
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := v.Dict[k]
			buf.WriteString(strconv.Itoa(len(k)))
			buf.WriteByte(':')
			buf.WriteString(k)
			encodeTo(buf, &val)
		}
		buf.WriteByte('e')
	}
}
