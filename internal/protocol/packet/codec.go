package packet

import (
	"fmt"
	"strconv"
	"strings"
)

// The encoded form is a single line of space separated tokens:
//
//	<name> <count> (<field> <type-tag> <value>)*
//
// Every token is escaped so it never contains a raw space, newline,
// carriage return or tab. A newline can therefore frame packets on a
// byte stream.
const (
	separator = ' '
	escape    = '\\'

	// maxFields bounds the declared field count of an inbound packet.
	maxFields = 4096
)

// Encode renders p in its wire form.
//
// Postcondition: Decode(Encode(p)) is Equal to p.
func Encode(p *Packet) []byte {
	var b strings.Builder
	writeToken(&b, p.name)
	b.WriteByte(separator)
	b.WriteString(strconv.Itoa(len(p.order)))
	for _, field := range p.order {
		v := p.fields[field]
		b.WriteByte(separator)
		writeToken(&b, field)
		b.WriteByte(separator)
		b.WriteString(v.kind.String())
		b.WriteByte(separator)
		writeToken(&b, formatValue(v))
	}
	return []byte(b.String())
}

// Decode parses the wire form produced by Encode.
//
// Postcondition: Returns a fully populated packet, or an error wrapping
// ErrMalformedPacket and no packet.
func Decode(data []byte) (*Packet, error) {
	tokens := strings.Split(string(data), string(separator))
	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: missing name or field count", ErrMalformedPacket)
	}

	name, err := unescape(tokens[0])
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(tokens[1])
	if err != nil || count < 0 || count > maxFields {
		return nil, fmt.Errorf("%w: invalid field count %q", ErrMalformedPacket, tokens[1])
	}
	if len(tokens) != 2+3*count {
		return nil, fmt.Errorf("%w: %d fields declared, %d tokens present",
			ErrMalformedPacket, count, len(tokens)-2)
	}

	p := New(name)
	for i := 0; i < count; i++ {
		base := 2 + 3*i
		field, err := unescape(tokens[base])
		if err != nil {
			return nil, err
		}
		kind, ok := ParseKind(tokens[base+1])
		if !ok {
			return nil, fmt.Errorf("%w: unknown type tag %q for field %q",
				ErrMalformedPacket, tokens[base+1], field)
		}
		raw, err := unescape(tokens[base+2])
		if err != nil {
			return nil, err
		}
		v, err := parseValue(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedPacket, field, err)
		}
		if err := p.set(field, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
	}
	return p, nil
}

func formatValue(v value) string {
	switch v.kind {
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

func parseValue(kind Kind, raw string) (value, error) {
	switch kind {
	case KindInt32:
		n, err := strconv.ParseInt(raw, 10, 32)
		return value{kind: kind, i: n}, err
	case KindInt64:
		n, err := strconv.ParseInt(raw, 10, 64)
		return value{kind: kind, i: n}, err
	case KindFloat32:
		f, err := strconv.ParseFloat(raw, 32)
		return value{kind: kind, f: f}, err
	case KindFloat64:
		f, err := strconv.ParseFloat(raw, 64)
		return value{kind: kind, f: f}, err
	default:
		return value{kind: KindString, s: raw}, nil
	}
}

func writeToken(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case escape:
			b.WriteString(`\\`)
		case ' ':
			b.WriteString(`\_`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
}

func unescape(token string) (string, error) {
	if strings.IndexByte(token, escape) < 0 {
		if strings.ContainsAny(token, "\n\r\t") {
			return "", fmt.Errorf("%w: raw control character in token", ErrMalformedPacket)
		}
		return token, nil
	}
	var b strings.Builder
	b.Grow(len(token))
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch c {
		case '\n', '\r', '\t':
			return "", fmt.Errorf("%w: raw control character in token", ErrMalformedPacket)
		case escape:
		default:
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(token) {
			return "", fmt.Errorf("%w: dangling escape", ErrMalformedPacket)
		}
		switch token[i] {
		case escape:
			b.WriteByte(escape)
		case '_':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			return "", fmt.Errorf("%w: unknown escape %q", ErrMalformedPacket, token[i])
		}
	}
	return b.String(), nil
}
