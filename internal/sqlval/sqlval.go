// Package sqlval defines the portable SQL type system and the tagged values
// that flow between schema defaults, query parameters and scanned rows.
package sqlval

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// -----------------------------------------------------------------------------
// SqlType - portable column type
// -----------------------------------------------------------------------------

// SqlType is a backend-independent column type.
type SqlType int

const (
	Bool SqlType = iota + 1
	Int
	BigInt
	Real
	Text
	Blob
	Timestamp
	Json
)

var typeNames = map[SqlType]string{
	Bool:      "bool",
	Int:       "int",
	BigInt:    "bigint",
	Real:      "real",
	Text:      "text",
	Blob:      "blob",
	Timestamp: "timestamp",
	Json:      "json",
}

// String returns the lowercase name used in snapshots and declaration files.
func (t SqlType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType parses a type name produced by String.
func ParseType(s string) (SqlType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	switch s {
	case "boolean":
		return Bool, true
	case "integer", "int32":
		return Int, true
	case "int64":
		return BigInt, true
	case "float", "double":
		return Real, true
	case "string":
		return Text, true
	case "bytes":
		return Blob, true
	case "datetime":
		return Timestamp, true
	}
	return 0, false
}

// IsInteger reports whether the type can carry an auto-increment key.
func (t SqlType) IsInteger() bool {
	return t == Int || t == BigInt
}

// MarshalText implements encoding.TextMarshaler.
func (t SqlType) MarshalText() ([]byte, error) {
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("invalid sql type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SqlType) UnmarshalText(b []byte) error {
	parsed, ok := ParseType(string(b))
	if !ok {
		return fmt.Errorf("unknown sql type %q", string(b))
	}
	*t = parsed
	return nil
}

// -----------------------------------------------------------------------------
// SqlVal - tagged value
// -----------------------------------------------------------------------------

// Kind identifies which field of a SqlVal is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindBigInt
	KindReal
	KindText
	KindBlob
	KindTimestamp
	KindJson
)

var kindNames = []string{"null", "bool", "int", "bigint", "real", "text", "blob", "timestamp", "json"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// SqlVal is a single SQL value. The zero value is NULL.
type SqlVal struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	blob []byte
	ts   time.Time
}

// Null is the SQL NULL value.
var Null = SqlVal{}

func NewBool(v bool) SqlVal { return SqlVal{kind: KindBool, b: v} }
func NewInt(v int32) SqlVal { return SqlVal{kind: KindInt, i: int64(v)} }
func NewBigInt(v int64) SqlVal { return SqlVal{kind: KindBigInt, i: v} }
func NewReal(v float64) SqlVal { return SqlVal{kind: KindReal, f: v} }
func NewText(v string) SqlVal { return SqlVal{kind: KindText, s: v} }
func NewBlob(v []byte) SqlVal { return SqlVal{kind: KindBlob, blob: append([]byte(nil), v...)} }
func NewTimestamp(v time.Time) SqlVal {
	return SqlVal{kind: KindTimestamp, ts: v.UTC()}
}

// NewJson stores raw JSON text. The text is not validated until rendered.
func NewJson(raw json.RawMessage) SqlVal { return SqlVal{kind: KindJson, s: string(raw)} }

// Zero returns the zero value of t: false, 0, empty text or bytes, the Unix
// epoch, or JSON null. It reports false for types it does not know.
func Zero(t SqlType) (SqlVal, bool) {
	switch t {
	case Bool:
		return NewBool(false), true
	case Int:
		return NewInt(0), true
	case BigInt:
		return NewBigInt(0), true
	case Real:
		return NewReal(0), true
	case Text:
		return NewText(""), true
	case Blob:
		return NewBlob(nil), true
	case Timestamp:
		return NewTimestamp(time.Unix(0, 0)), true
	case Json:
		return NewJson(json.RawMessage("null")), true
	}
	return Null, false
}

// Kind returns the populated variant.
func (v SqlVal) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v SqlVal) IsNull() bool { return v.kind == KindNull }

// Equal compares two values structurally.
func (v SqlVal) Equal(o SqlVal) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt, KindBigInt:
		return v.i == o.i
	case KindReal:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText, KindJson:
		return v.s == o.s
	case KindBlob:
		return string(v.blob) == string(o.blob)
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	}
	return false
}

func (v SqlVal) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, alerr.CannotConvert("bool", v.kind.String())
	}
	return v.b, nil
}

// Int64 reads an Int or BigInt value.
func (v SqlVal) Int64() (int64, error) {
	if v.kind != KindInt && v.kind != KindBigInt {
		return 0, alerr.CannotConvert("int64", v.kind.String())
	}
	return v.i, nil
}

func (v SqlVal) Float64() (float64, error) {
	if v.kind != KindReal {
		return 0, alerr.CannotConvert("float64", v.kind.String())
	}
	return v.f, nil
}

func (v SqlVal) Text() (string, error) {
	if v.kind != KindText {
		return "", alerr.CannotConvert("text", v.kind.String())
	}
	return v.s, nil
}

func (v SqlVal) Blob() ([]byte, error) {
	if v.kind != KindBlob {
		return nil, alerr.CannotConvert("blob", v.kind.String())
	}
	return v.blob, nil
}

func (v SqlVal) Time() (time.Time, error) {
	if v.kind != KindTimestamp {
		return time.Time{}, alerr.CannotConvert("timestamp", v.kind.String())
	}
	return v.ts, nil
}

func (v SqlVal) JSON() (json.RawMessage, error) {
	if v.kind != KindJson {
		return nil, alerr.CannotConvert("json", v.kind.String())
	}
	return json.RawMessage(v.s), nil
}

// Driver returns the value handed to database/sql as a query argument.
func (v SqlVal) Driver() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt, KindBigInt:
		return v.i
	case KindReal:
		return v.f
	case KindText, KindJson:
		return v.s
	case KindBlob:
		return v.blob
	case KindTimestamp:
		return v.ts
	}
	return nil
}

// String renders v for logs and CLI output; it is not SQL.
func (v SqlVal) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt, KindBigInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText, KindJson:
		return strconv.Quote(v.s)
	case KindBlob:
		return "x'" + strings.ToUpper(hex.EncodeToString(v.blob)) + "'"
	case KindTimestamp:
		return v.ts.Format(time.RFC3339Nano)
	}
	return "?"
}

// Of converts a plain Go value into a SqlVal.
func Of(x any) (SqlVal, error) {
	switch t := x.(type) {
	case nil:
		return Null, nil
	case SqlVal:
		return t, nil
	case bool:
		return NewBool(t), nil
	case int32:
		return NewInt(t), nil
	case int:
		return NewBigInt(int64(t)), nil
	case int64:
		return NewBigInt(t), nil
	case float32:
		return NewReal(float64(t)), nil
	case float64:
		return NewReal(t), nil
	case string:
		return NewText(t), nil
	case []byte:
		return NewBlob(t), nil
	case time.Time:
		return NewTimestamp(t), nil
	case json.RawMessage:
		return NewJson(t), nil
	}
	return Null, alerr.CannotConvert("sql value", x)
}

// MustOf is Of for literal values known at compile time.
func MustOf(x any) SqlVal {
	v, err := Of(x)
	if err != nil {
		panic(err)
	}
	return v
}
