package decoder

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

func (d *Decoder) errf(format string, args ...interface{}) error {
	return &SyntaxError{Offset: d.pos, Msg: fmt.Sprintf(format, args...)}
}

func (d *Decoder) skipWS() {
	for d.pos < len(d.data) {
		switch d.data[d.pos] {
		case ' ', '\t', '\n', '\r':
			d.pos++
		default:
			return
		}
	}
}

func (d *Decoder) peek() byte {
	if d.pos < len(d.data) {
		return d.data[d.pos]
	}
	return 0
}

func (d *Decoder) expect(c byte) error {
	if d.pos >= len(d.data) {
		return d.errf("unexpected end of input, want %q", c)
	}
	if d.data[d.pos] != c {
		return d.errf("unexpected character %q, want %q", d.data[d.pos], c)
	}
	d.pos++
	return nil
}

// tryNull consumes a null literal if one is next.
func (d *Decoder) tryNull() bool {
	d.skipWS()
	if d.pos+4 <= len(d.data) && string(d.data[d.pos:d.pos+4]) == "null" {
		d.pos += 4
		return true
	}
	return false
}

// object walks key/value pairs, calling field with each key positioned at
// the start of the value. field must fully consume the value.
func (d *Decoder) object(field func(key []byte) error) error {
	d.skipWS()
	if err := d.expect('{'); err != nil {
		return err
	}
	d.skipWS()
	if d.peek() == '}' {
		d.pos++
		return nil
	}
	for {
		d.skipWS()
		key, err := d.readStringBytes()
		if err != nil {
			return err
		}
		d.skipWS()
		if err := d.expect(':'); err != nil {
			return err
		}
		d.skipWS()
		if err := field(key); err != nil {
			return err
		}
		d.skipWS()
		if d.pos >= len(d.data) {
			return d.errf("unexpected end of object")
		}
		switch d.data[d.pos] {
		case ',':
			d.pos++
		case '}':
			d.pos++
			return nil
		default:
			return d.errf("unexpected character %q in object", d.data[d.pos])
		}
	}
}

// array walks elements, calling elem positioned at the start of each. A
// null array yields no elements.
func (d *Decoder) array(elem func() error) error {
	if d.tryNull() {
		return nil
	}
	if err := d.expect('['); err != nil {
		return err
	}
	d.skipWS()
	if d.peek() == ']' {
		d.pos++
		return nil
	}
	for {
		d.skipWS()
		if err := elem(); err != nil {
			return err
		}
		d.skipWS()
		if d.pos >= len(d.data) {
			return d.errf("unexpected end of array")
		}
		switch d.data[d.pos] {
		case ',':
			d.pos++
		case ']':
			d.pos++
			return nil
		default:
			return d.errf("unexpected character %q in array", d.data[d.pos])
		}
	}
}

// readStringBytes decodes a JSON string. When the string has no escapes the
// returned slice aliases the input; otherwise it aliases the scratch
// buffer. Either way it is only valid until the next read.
func (d *Decoder) readStringBytes() ([]byte, error) {
	if err := d.expect('"'); err != nil {
		return nil, err
	}
	start := d.pos
	for d.pos < len(d.data) {
		c := d.data[d.pos]
		if c == '"' {
			b := d.data[start:d.pos]
			d.pos++
			return b, nil
		}
		if c == '\\' {
			return d.readEscapedString(start)
		}
		d.pos++
	}
	return nil, d.errf("unterminated string")
}

func (d *Decoder) readEscapedString(start int) ([]byte, error) {
	d.scratch = append(d.scratch[:0], d.data[start:d.pos]...)
	for d.pos < len(d.data) {
		c := d.data[d.pos]
		switch {
		case c == '"':
			d.pos++
			return d.scratch, nil
		case c == '\\':
			d.pos++
			if d.pos >= len(d.data) {
				return nil, d.errf("unterminated escape")
			}
			e := d.data[d.pos]
			d.pos++
			switch e {
			case '"', '\\', '/':
				d.scratch = append(d.scratch, e)
			case 'b':
				d.scratch = append(d.scratch, '\b')
			case 'f':
				d.scratch = append(d.scratch, '\f')
			case 'n':
				d.scratch = append(d.scratch, '\n')
			case 'r':
				d.scratch = append(d.scratch, '\r')
			case 't':
				d.scratch = append(d.scratch, '\t')
			case 'u':
				r, err := d.readHexRune()
				if err != nil {
					return nil, err
				}
				if utf16.IsSurrogate(r) && d.pos+1 < len(d.data) && d.data[d.pos] == '\\' && d.data[d.pos+1] == 'u' {
					d.pos += 2
					r2, err := d.readHexRune()
					if err != nil {
						return nil, err
					}
					r = utf16.DecodeRune(r, r2)
				}
				d.scratch = utf8.AppendRune(d.scratch, r)
			default:
				return nil, d.errf("invalid escape %q", e)
			}
		default:
			d.scratch = append(d.scratch, c)
			d.pos++
		}
	}
	return nil, d.errf("unterminated string")
}

func (d *Decoder) readHexRune() (rune, error) {
	if d.pos+4 > len(d.data) {
		return 0, d.errf("truncated unicode escape")
	}
	var r rune
	for i := 0; i < 4; i++ {
		c := d.data[d.pos+i]
		switch {
		case c >= '0' && c <= '9':
			r = r<<4 | rune(c-'0')
		case c >= 'a' && c <= 'f':
			r = r<<4 | rune(c-'a'+10)
		case c >= 'A' && c <= 'F':
			r = r<<4 | rune(c-'A'+10)
		default:
			return 0, d.errf("invalid unicode escape")
		}
	}
	d.pos += 4
	return r, nil
}

// readString allocates a retained copy of the string value.
func (d *Decoder) readString() (string, error) {
	d.skipWS()
	b, err := d.readStringBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) readBool() (bool, error) {
	d.skipWS()
	if d.pos+4 <= len(d.data) && string(d.data[d.pos:d.pos+4]) == "true" {
		d.pos += 4
		return true, nil
	}
	if d.pos+5 <= len(d.data) && string(d.data[d.pos:d.pos+5]) == "false" {
		d.pos += 5
		return false, nil
	}
	return false, d.errf("invalid boolean")
}

// numberToken scans the extent of a number literal.
func (d *Decoder) numberToken() ([]byte, error) {
	d.skipWS()
	start := d.pos
	for d.pos < len(d.data) {
		c := d.data[d.pos]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			d.pos++
			continue
		}
		break
	}
	if d.pos == start {
		return nil, d.errf("invalid number")
	}
	return d.data[start:d.pos], nil
}

func (d *Decoder) readInt() (int64, error) {
	b, err := d.numberToken()
	if err != nil {
		return 0, err
	}
	v, err := parseInt(b)
	if err != nil {
		return 0, d.errf("invalid integer %q", b)
	}
	return v, nil
}

func (d *Decoder) readFloat() (float64, error) {
	b, err := d.numberToken()
	if err != nil {
		return 0, err
	}
	v, err := parseFloat(b)
	if err != nil {
		return 0, d.errf("invalid number %q", b)
	}
	return v, nil
}

// skipValue consumes any JSON value, tracking brace/bracket depth without
// building anything.
func (d *Decoder) skipValue() error {
	_, err := d.captureValue()
	return err
}

// captureValue consumes any JSON value and returns the raw bytes spanning
// it. The slice aliases the input line.
func (d *Decoder) captureValue() ([]byte, error) {
	d.skipWS()
	start := d.pos
	if d.pos >= len(d.data) {
		return nil, d.errf("unexpected end of input")
	}
	switch d.data[d.pos] {
	case '{', '[':
		depth := 0
		for d.pos < len(d.data) {
			switch d.data[d.pos] {
			case '{', '[':
				depth++
				d.pos++
			case '}', ']':
				depth--
				d.pos++
				if depth == 0 {
					return d.data[start:d.pos], nil
				}
			case '"':
				if _, err := d.readStringBytes(); err != nil {
					return nil, err
				}
			default:
				d.pos++
			}
		}
		return nil, d.errf("unterminated value")
	case '"':
		if _, err := d.readStringBytes(); err != nil {
			return nil, err
		}
		return d.data[start:d.pos], nil
	default:
		for d.pos < len(d.data) {
			switch d.data[d.pos] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				return d.data[start:d.pos], nil
			}
			d.pos++
		}
		return d.data[start:d.pos], nil
	}
}
