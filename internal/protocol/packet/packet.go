// Package packet provides the named, typed, self-describing message unit
// exchanged between peers, and its text codec.
package packet

import (
	"errors"
	"fmt"
	"math"
)

// Usage and decoding errors. Callers match them with errors.Is.
var (
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrDuplicateField    = errors.New("duplicate field")
	ErrFieldTypeMismatch = errors.New("field type mismatch")
	ErrMissingField      = errors.New("missing field")
)

// Kind is the declared type of a packet field.
type Kind int

const (
	KindInt32 Kind = iota + 1
	KindInt64
	KindFloat32
	KindFloat64
	KindString
)

// String returns the wire type tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a wire type tag back to its Kind.
//
// Postcondition: Returns (kind, true) for a known tag, or (0, false).
func ParseKind(tag string) (Kind, bool) {
	switch tag {
	case "int32":
		return KindInt32, true
	case "int64":
		return KindInt64, true
	case "float32":
		return KindFloat32, true
	case "float64":
		return KindFloat64, true
	case "string":
		return KindString, true
	default:
		return 0, false
	}
}

// value holds exactly one typed field value. float32 values are stored
// widened; widening is exact so narrowing on read is lossless.
type value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

func (v value) equal(o value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt32, KindInt64:
		return v.i == o.i
	case KindFloat32, KindFloat64:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	default:
		return v.s == o.s
	}
}

// Packet is a named mapping from field name to a typed value.
// Field names are unique within a packet; fields keep insertion order so
// the encoded form is stable and readable.
//
// A Packet is not safe for concurrent mutation. Once handed to a
// connection for transmission it must not be modified.
type Packet struct {
	name   string
	order  []string
	fields map[string]value
}

// New creates an empty packet with the given name.
func New(name string) *Packet {
	return &Packet{
		name:   name,
		fields: make(map[string]value),
	}
}

// Name returns the packet name used for trigger dispatch.
func (p *Packet) Name() string {
	return p.name
}

// Len returns the number of fields.
func (p *Packet) Len() int {
	return len(p.order)
}

// Fields returns the field names in insertion order.
func (p *Packet) Fields() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Has reports whether a field with the given name is set.
func (p *Packet) Has(field string) bool {
	_, ok := p.fields[field]
	return ok
}

// Kind returns the declared kind of a field.
//
// Postcondition: Returns ErrMissingField when the field is absent.
func (p *Packet) Kind(field string) (Kind, error) {
	v, ok := p.fields[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q in packet %q", ErrMissingField, field, p.name)
	}
	return v.kind, nil
}

func (p *Packet) set(field string, v value) error {
	if _, exists := p.fields[field]; exists {
		return fmt.Errorf("%w: %q in packet %q", ErrDuplicateField, field, p.name)
	}
	p.fields[field] = v
	p.order = append(p.order, field)
	return nil
}

func (p *Packet) get(field string, want Kind) (value, error) {
	v, ok := p.fields[field]
	if !ok {
		return value{}, fmt.Errorf("%w: %q in packet %q", ErrMissingField, field, p.name)
	}
	if v.kind != want {
		return value{}, fmt.Errorf("%w: %q in packet %q is %s, not %s",
			ErrFieldTypeMismatch, field, p.name, v.kind, want)
	}
	return v, nil
}

// SetInt32 sets a 32-bit integer field.
//
// Postcondition: Returns ErrDuplicateField if the field is already set.
func (p *Packet) SetInt32(field string, v int32) error {
	return p.set(field, value{kind: KindInt32, i: int64(v)})
}

// SetInt64 sets a 64-bit integer field.
func (p *Packet) SetInt64(field string, v int64) error {
	return p.set(field, value{kind: KindInt64, i: v})
}

// SetFloat32 sets a single precision float field.
func (p *Packet) SetFloat32(field string, v float32) error {
	return p.set(field, value{kind: KindFloat32, f: float64(v)})
}

// SetFloat64 sets a double precision float field.
func (p *Packet) SetFloat64(field string, v float64) error {
	return p.set(field, value{kind: KindFloat64, f: v})
}

// SetString sets a string field.
func (p *Packet) SetString(field string, v string) error {
	return p.set(field, value{kind: KindString, s: v})
}

// Int32 reads a 32-bit integer field.
//
// Postcondition: Returns ErrMissingField or ErrFieldTypeMismatch on misuse.
func (p *Packet) Int32(field string) (int32, error) {
	v, err := p.get(field, KindInt32)
	return int32(v.i), err
}

// Int64 reads a 64-bit integer field.
func (p *Packet) Int64(field string) (int64, error) {
	v, err := p.get(field, KindInt64)
	return v.i, err
}

// Float32 reads a single precision float field.
func (p *Packet) Float32(field string) (float32, error) {
	v, err := p.get(field, KindFloat32)
	return float32(v.f), err
}

// Float64 reads a double precision float field.
func (p *Packet) Float64(field string) (float64, error) {
	v, err := p.get(field, KindFloat64)
	return v.f, err
}

// String reads a string field.
func (p *Packet) String(field string) (string, error) {
	v, err := p.get(field, KindString)
	return v.s, err
}

// SetStrings stores an indexed string array as base.length plus base[i].
//
// Postcondition: Returns ErrDuplicateField if any generated field is already set.
func (p *Packet) SetStrings(base string, values []string) error {
	if err := p.SetInt32(base+".length", int32(len(values))); err != nil {
		return err
	}
	for i, s := range values {
		if err := p.SetString(indexedField(base, i), s); err != nil {
			return err
		}
	}
	return nil
}

// Strings reads an indexed string array written by SetStrings.
func (p *Packet) Strings(base string) ([]string, error) {
	n, err := p.Int32(base + ".length")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length for %q", ErrMalformedPacket, base)
	}
	// Every element is its own field besides the length.
	if int(n) > p.Len()-1 {
		return nil, fmt.Errorf("%w: %q claims %d elements but the packet has %d fields", ErrMalformedPacket, base, n, p.Len())
	}
	out := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		s, err := p.String(indexedField(base, i))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func indexedField(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}

// Equal reports whether two packets carry the same name and the same
// fields with identical kinds and values. Field order is not compared.
func (p *Packet) Equal(o *Packet) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.name != o.name || len(p.fields) != len(o.fields) {
		return false
	}
	for k, v := range p.fields {
		ov, ok := o.fields[k]
		if !ok || !v.equal(ov) {
			return false
		}
	}
	return true
}
