package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	// Compile-time check that every scalar type implements Value.
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Float(3.5)
	var _ Value = Bool(true)
	var _ Value = Time(time.Now())
	var _ Value = Bytes{0x01}
}

func TestEqualSameType(t *testing.T) {
	assert.True(t, Equal(String("a"), String("a")))
	assert.False(t, Equal(String("a"), String("b")))
	assert.True(t, Equal(Int(1), Int(1)))
	assert.False(t, Equal(Int(1), Int(2)))
	assert.True(t, Equal(Float(1.5), Float(1.5)))
	assert.True(t, Equal(Bool(true), Bool(true)))
	assert.False(t, Equal(Bool(true), Bool(false)))
	assert.True(t, Equal(Bytes{1, 2}, Bytes{1, 2}))
	assert.False(t, Equal(Bytes{1, 2}, Bytes{1, 3}))
	assert.True(t, Equal(Null{}, Null{}))
}

func TestEqualDifferentTypesNeverEqual(t *testing.T) {
	assert.False(t, Equal(Int(1), Float(1)))
	assert.False(t, Equal(String("1"), Int(1)))
	assert.False(t, Equal(Bool(false), Null{}))
}

func TestEqualNilTreatedAsNull(t *testing.T) {
	assert.True(t, Equal(nil, Null{}))
	assert.True(t, Equal(Null{}, nil))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, Int(0)))
}

func TestEqualTimeAcrossLocations(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	east := utc.In(loc)

	assert.True(t, Equal(Time(utc), Time(east)))
	assert.False(t, Equal(Time(utc), Time(utc.Add(time.Nanosecond))))
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(Null{}))
	assert.False(t, IsNull(String("")))
	assert.False(t, IsNull(Int(0)))
}

func TestFromAny(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null{}},
		{"string", "hello", String("hello")},
		{"bool", true, Bool(true)},
		{"int", 7, Int(7)},
		{"int64", int64(7), Int(7)},
		{"uint64", uint64(7), Int(7)},
		{"float64", 2.5, Float(2.5)},
		{"bytes", []byte{0xff}, Bytes{0xff}},
		{"passthrough", Int(9), Int(9)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromAny(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFromAnyTime(t *testing.T) {
	now := time.Now()
	got, err := FromAny(now)
	require.NoError(t, err)
	assert.True(t, Equal(Time(now), got))
}

func TestFromAnyUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported value type")
}

func TestFromAnyUint64Overflow(t *testing.T) {
	_, err := FromAny(uint64(1) << 63)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows")
}

func TestAsAccessors(t *testing.T) {
	s, err := AsString(String("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	n, err := AsInt(Int(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	f, err := AsFloat(Float(1.25))
	require.NoError(t, err)
	assert.Equal(t, 1.25, f)

	b, err := AsBool(Bool(true))
	require.NoError(t, err)
	assert.True(t, b)

	_, err = AsString(Int(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not string")

	_, err = AsInt(Null{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not int")
}

func TestToParam(t *testing.T) {
	p, err := ToParam(String("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", p)

	p, err = ToParam(Int(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), p)

	p, err = ToParam(Null{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = ToParam(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = ToParam(Bytes{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, p)
}

func TestFromColumn(t *testing.T) {
	v, err := FromColumn(TypeString, "text")
	require.NoError(t, err)
	assert.Equal(t, String("text"), v)

	v, err = FromColumn(TypeString, []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, String("raw"), v)

	v, err = FromColumn(TypeInt, int64(5))
	require.NoError(t, err)
	assert.Equal(t, Int(5), v)

	v, err = FromColumn(TypeFloat, 2.5)
	require.NoError(t, err)
	assert.Equal(t, Float(2.5), v)

	v, err = FromColumn(TypeBool, int64(1))
	require.NoError(t, err)
	assert.Equal(t, Bool(true), v)

	v, err = FromColumn(TypeBool, false)
	require.NoError(t, err)
	assert.Equal(t, Bool(false), v)

	v, err = FromColumn(TypeBytes, []byte{9})
	require.NoError(t, err)
	assert.Equal(t, Bytes{9}, v)
}

func TestFromColumnNull(t *testing.T) {
	for _, ct := range []ColumnType{TypeString, TypeInt, TypeFloat, TypeBool, TypeTime, TypeBytes} {
		v, err := FromColumn(ct, nil)
		require.NoError(t, err)
		assert.Equal(t, Null{}, v)
	}
}

func TestFromColumnTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	v, err := FromColumn(TypeTime, now)
	require.NoError(t, err)
	assert.True(t, Equal(Time(now), v))

	v, err = FromColumn(TypeTime, "2024-06-01T08:30:00Z")
	require.NoError(t, err)
	assert.True(t, Equal(Time(now), v))
}

func TestFromColumnMismatch(t *testing.T) {
	_, err := FromColumn(TypeInt, "not a number")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot convert")
}

func TestParseColumnType(t *testing.T) {
	for _, name := range []string{"string", "int", "float", "bool", "time", "bytes"} {
		ct, err := ParseColumnType(name)
		require.NoError(t, err)
		assert.Equal(t, name, ct.String())
	}
	_, err := ParseColumnType("decimal")
	require.Error(t, err)
}

func TestColumnSQLTypes(t *testing.T) {
	assert.Equal(t, "TEXT", TypeString.SQLType())
	assert.Equal(t, "INTEGER", TypeInt.SQLType())
	assert.Equal(t, "REAL", TypeFloat.SQLType())
	assert.Equal(t, "BOOLEAN", TypeBool.SQLType())
	assert.Equal(t, "TIMESTAMP", TypeTime.SQLType())
	assert.Equal(t, "BLOB", TypeBytes.SQLType())
}
