package sqlval

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/alerr"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want SqlType
		ok   bool
	}{
		{"int", Int, true},
		{"BigInt", BigInt, true},
		{"string", Text, true},
		{"datetime", Timestamp, true},
		{"json", Json, true},
		{"uuid", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseType(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500000000, time.UTC)
	tests := []struct {
		name  string
		val   SqlVal
		style LiteralStyle
		want  string
	}{
		{"null", Null, LiteralStyle{}, "NULL"},
		{"bool", NewBool(true), LiteralStyle{}, "TRUE"},
		{"numeric bool", NewBool(false), LiteralStyle{NumericBool: true}, "0"},
		{"int", NewInt(-4), LiteralStyle{}, "-4"},
		{"real", NewReal(1.5), LiteralStyle{}, "1.5"},
		{"text escapes quotes", NewText("it's"), LiteralStyle{}, "'it''s'"},
		{"blob", NewBlob([]byte{0xde, 0xad}), LiteralStyle{}, "x'DEAD'"},
		{"timestamp", NewTimestamp(ts), LiteralStyle{}, "'2024-03-01T12:30:00.5'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Literal(tt.val, tt.style)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromDriver(t *testing.T) {
	v, err := FromDriver(int64(1), Bool)
	require.NoError(t, err)
	b, err := v.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	v, err = FromDriver([]byte("42"), BigInt)
	require.NoError(t, err)
	n, err := v.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	v, err = FromDriver("2024-03-01 12:30:00", Timestamp)
	require.NoError(t, err)
	ts, err := v.Time()
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	v, err = FromDriver(nil, Text)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	_, err = FromDriver("abc", Int)
	assert.True(t, alerr.Is(err, alerr.ErrCannotConvertSqlVal))
}

func TestAccessorMismatch(t *testing.T) {
	_, err := NewText("x").Int64()
	assert.True(t, alerr.Is(err, alerr.ErrCannotConvertSqlVal))
	_, err = NewBigInt(1).Text()
	assert.True(t, alerr.Is(err, alerr.ErrCannotConvertSqlVal))
}

func TestJSONEncoding(t *testing.T) {
	vals := []SqlVal{
		Null,
		NewBool(true),
		NewInt(7),
		NewBigInt(1 << 40),
		NewReal(2.25),
		NewText("hello"),
		NewBlob([]byte("raw")),
		NewTimestamp(time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)),
		NewJson(json.RawMessage(`{"a":1}`)),
	}
	for _, v := range vals {
		t.Run(v.Kind().String(), func(t *testing.T) {
			data, err := json.Marshal(v)
			require.NoError(t, err)
			var back SqlVal
			require.NoError(t, json.Unmarshal(data, &back))
			assert.True(t, v.Equal(back), "got %s want %s", back, v)
		})
	}
}

func TestOf(t *testing.T) {
	v, err := Of(3)
	require.NoError(t, err)
	assert.Equal(t, KindBigInt, v.Kind())

	_, err = Of(struct{}{})
	assert.Error(t, err)

	assert.Equal(t, "abc", MustOf("abc").Driver())
}

func TestZero(t *testing.T) {
	tests := []struct {
		ty   SqlType
		want SqlVal
	}{
		{Bool, NewBool(false)},
		{Int, NewInt(0)},
		{BigInt, NewBigInt(0)},
		{Real, NewReal(0)},
		{Text, NewText("")},
		{Blob, NewBlob(nil)},
		{Timestamp, NewTimestamp(time.Unix(0, 0))},
		{Json, NewJson(json.RawMessage("null"))},
	}
	for _, tt := range tests {
		t.Run(tt.ty.String(), func(t *testing.T) {
			got, ok := Zero(tt.ty)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.False(t, got.IsNull())
		})
	}

	_, ok := Zero(SqlType(99))
	assert.False(t, ok)
}
