package packet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacket_ReadWriteAllKinds(t *testing.T) {
	p := New("packetName")
	require.NoError(t, p.SetInt32("int1", 123))
	require.NoError(t, p.SetInt64("longint", 40000000000))
	require.NoError(t, p.SetFloat32("f", 3.25))
	require.NoError(t, p.SetFloat64("pi", 3.14159))
	require.NoError(t, p.SetString("mystring", "weifj`/34$£5`$"))

	assert.Equal(t, "packetName", p.Name())
	assert.Equal(t, 5, p.Len())
	assert.Equal(t, []string{"int1", "longint", "f", "pi", "mystring"}, p.Fields())

	i32, err := p.Int32("int1")
	require.NoError(t, err)
	assert.Equal(t, int32(123), i32)

	i64, err := p.Int64("longint")
	require.NoError(t, err)
	assert.Equal(t, int64(40000000000), i64)

	f32, err := p.Float32("f")
	require.NoError(t, err)
	assert.Equal(t, float32(3.25), f32)

	f64, err := p.Float64("pi")
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, f64, 1e-9)

	s, err := p.String("mystring")
	require.NoError(t, err)
	assert.Equal(t, "weifj`/34$£5`$", s)
}

func TestPacket_DuplicateField(t *testing.T) {
	p := New("rr")
	require.NoError(t, p.SetInt32("param", 123))
	err := p.SetFloat32("param", 3.2222)
	assert.True(t, errors.Is(err, ErrDuplicateField))

	v, err := p.Int32("param")
	require.NoError(t, err)
	assert.Equal(t, int32(123), v, "first value must survive the rejected overwrite")
}

func TestPacket_FieldTypeMismatch(t *testing.T) {
	p := New("erer")
	require.NoError(t, p.SetInt32("stuff", 1234))
	_, err := p.Float64("stuff")
	assert.True(t, errors.Is(err, ErrFieldTypeMismatch))
	_, err = p.Int64("stuff")
	assert.True(t, errors.Is(err, ErrFieldTypeMismatch))
}

func TestPacket_MissingField(t *testing.T) {
	p := New("rr")
	_, err := p.String("blah")
	assert.True(t, errors.Is(err, ErrMissingField))
	_, err = p.Kind("blah")
	assert.True(t, errors.Is(err, ErrMissingField))
	assert.False(t, p.Has("blah"))
}

func TestPacket_Strings(t *testing.T) {
	p := New("lobby-rule-display-changed")
	rules := []string{"Ghosts: 4", "Map: classic", ""}
	require.NoError(t, p.SetStrings("rule-strings", rules))

	n, err := p.Int32("rule-strings.length")
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)
	second, err := p.String("rule-strings[1]")
	require.NoError(t, err)
	assert.Equal(t, "Map: classic", second)

	got, err := p.Strings("rule-strings")
	require.NoError(t, err)
	assert.Equal(t, rules, got)
}

func TestPacket_StringsEmpty(t *testing.T) {
	p := New("x")
	require.NoError(t, p.SetStrings("list", nil))
	got, err := p.Strings("list")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPacket_StringsMissingElement(t *testing.T) {
	p := New("x")
	require.NoError(t, p.SetInt32("list.length", 2))
	require.NoError(t, p.SetString("list[0]", "a"))
	require.NoError(t, p.SetString("list[2]", "c"))
	_, err := p.Strings("list")
	assert.True(t, errors.Is(err, ErrMissingField))
}

func TestPacket_StringsLengthExceedsFields(t *testing.T) {
	p, err := Decode([]byte("lobby-rule-display-changed 1 rule-strings.length int32 2147483647"))
	require.NoError(t, err)
	_, err = p.Strings("rule-strings")
	assert.ErrorIs(t, err, ErrMalformedPacket)

	q := New("x")
	require.NoError(t, q.SetInt32("list.length", 3))
	require.NoError(t, q.SetString("list[0]", "a"))
	require.NoError(t, q.SetString("list[1]", "b"))
	_, err = q.Strings("list")
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestPacket_Equal(t *testing.T) {
	a := New("n")
	require.NoError(t, a.SetInt32("x", 1))
	require.NoError(t, a.SetString("y", "z"))

	b := New("n")
	require.NoError(t, b.SetString("y", "z"))
	require.NoError(t, b.SetInt32("x", 1))
	assert.True(t, a.Equal(b), "field order does not matter")

	c := New("n")
	require.NoError(t, c.SetInt64("x", 1))
	require.NoError(t, c.SetString("y", "z"))
	assert.False(t, a.Equal(c), "same value with a different kind differs")

	d := New("m")
	require.NoError(t, d.SetInt32("x", 1))
	require.NoError(t, d.SetString("y", "z"))
	assert.False(t, a.Equal(d))
}

func TestKind_TagsRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindInt32, KindInt64, KindFloat32, KindFloat64, KindString} {
		got, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("bool")
	assert.False(t, ok)
}
