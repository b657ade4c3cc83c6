package sqlval

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// TimestampLayout is used for timestamp literals and for timestamps stored as text.
const TimestampLayout = "2006-01-02T15:04:05.999999"

// sqliteTimestampLayouts are the text forms a TEXT timestamp column may hold.
var sqliteTimestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00", // modernc.org/sqlite writes time.Time this way
	time.RFC3339Nano,
}

// -----------------------------------------------------------------------------
// Literals
// -----------------------------------------------------------------------------

// LiteralStyle captures the few places backends disagree on literal syntax.
type LiteralStyle struct {
	// NumericBool renders booleans as 1/0 instead of TRUE/FALSE.
	NumericBool bool
	// QuoteText quotes a string literal; nil uses standard '' doubling.
	QuoteText func(string) string
	// BlobLiteral renders a blob; nil uses x'HEX'.
	BlobLiteral func([]byte) string
}

// Literal renders v as a SQL literal, used for DEFAULT clauses only.
// Query parameters never go through here.
func Literal(v SqlVal, style LiteralStyle) (string, error) {
	quote := style.QuoteText
	if quote == nil {
		quote = quoteText
	}
	switch v.kind {
	case KindNull:
		return "NULL", nil
	case KindBool:
		if style.NumericBool {
			if v.b {
				return "1", nil
			}
			return "0", nil
		}
		if v.b {
			return "TRUE", nil
		}
		return "FALSE", nil
	case KindInt, KindBigInt:
		return strconv.FormatInt(v.i, 10), nil
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64), nil
	case KindText, KindJson:
		return quote(v.s), nil
	case KindBlob:
		if style.BlobLiteral != nil {
			return style.BlobLiteral(v.blob), nil
		}
		return "x'" + strings.ToUpper(hex.EncodeToString(v.blob)) + "'", nil
	case KindTimestamp:
		return quote(v.ts.Format(TimestampLayout)), nil
	}
	return "", alerr.New(alerr.ErrNoCustomDefault, "value has no literal form").With("kind", v.kind.String())
}

func quoteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// -----------------------------------------------------------------------------
// Driver values
// -----------------------------------------------------------------------------

// FromDriver converts a value scanned by database/sql into a SqlVal of type ty.
// Drivers disagree on representation (sqlite returns int64 for booleans,
// mysql returns []byte for text), so each type accepts the forms seen in practice.
func FromDriver(x any, ty SqlType) (SqlVal, error) {
	if x == nil {
		return Null, nil
	}
	switch ty {
	case Bool:
		switch t := x.(type) {
		case bool:
			return NewBool(t), nil
		case int64:
			return NewBool(t != 0), nil
		case []byte:
			return NewBool((len(t) == 1 && t[0] != '0') || string(t) == "true"), nil
		}
	case Int, BigInt:
		var n int64
		switch t := x.(type) {
		case int64:
			n = t
		case int32:
			n = int64(t)
		case int:
			n = int64(t)
		case []byte:
			parsed, err := strconv.ParseInt(string(t), 10, 64)
			if err != nil {
				return Null, alerr.CannotConvert(ty.String(), x)
			}
			n = parsed
		default:
			return Null, alerr.CannotConvert(ty.String(), x)
		}
		if ty == Int {
			return NewInt(int32(n)), nil
		}
		return NewBigInt(n), nil
	case Real:
		switch t := x.(type) {
		case float64:
			return NewReal(t), nil
		case float32:
			return NewReal(float64(t)), nil
		case int64:
			return NewReal(float64(t)), nil
		case []byte:
			f, err := strconv.ParseFloat(string(t), 64)
			if err == nil {
				return NewReal(f), nil
			}
		}
	case Text:
		switch t := x.(type) {
		case string:
			return NewText(t), nil
		case []byte:
			return NewText(string(t)), nil
		}
	case Blob:
		switch t := x.(type) {
		case []byte:
			return NewBlob(t), nil
		case string:
			return NewBlob([]byte(t)), nil
		}
	case Json:
		switch t := x.(type) {
		case string:
			return NewJson(json.RawMessage(t)), nil
		case []byte:
			return NewJson(json.RawMessage(t)), nil
		}
	case Timestamp:
		switch t := x.(type) {
		case time.Time:
			return NewTimestamp(t), nil
		case string:
			return parseTimestamp(t, x)
		case []byte:
			return parseTimestamp(string(t), x)
		}
	}
	return Null, alerr.CannotConvert(ty.String(), x)
}

func parseTimestamp(s string, orig any) (SqlVal, error) {
	for _, layout := range sqliteTimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(ts), nil
		}
	}
	return Null, alerr.CannotConvert("timestamp", orig)
}

// -----------------------------------------------------------------------------
// JSON encoding
// -----------------------------------------------------------------------------

type wireVal struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes v as {"type": kind, "value": ...}.
func (v SqlVal) MarshalJSON() ([]byte, error) {
	w := wireVal{Type: v.kind.String()}
	var payload any
	switch v.kind {
	case KindNull:
		return json.Marshal(w)
	case KindBool:
		payload = v.b
	case KindInt, KindBigInt:
		payload = v.i
	case KindReal:
		payload = v.f
	case KindText:
		payload = v.s
	case KindJson:
		w.Value = json.RawMessage(v.s)
		return json.Marshal(w)
	case KindBlob:
		payload = base64.StdEncoding.EncodeToString(v.blob)
	case KindTimestamp:
		payload = v.ts.Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	w.Value = raw
	return json.Marshal(w)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *SqlVal) UnmarshalJSON(data []byte) error {
	var w wireVal
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case "null":
		*v = Null
		return nil
	case "bool":
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return err
		}
		*v = NewBool(b)
	case "int", "bigint":
		var n int64
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return err
		}
		if w.Type == "int" {
			*v = NewInt(int32(n))
		} else {
			*v = NewBigInt(n)
		}
	case "real":
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return err
		}
		*v = NewReal(f)
	case "text":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = NewText(s)
	case "json":
		*v = NewJson(w.Value)
	case "blob":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		*v = NewBlob(b)
	case "timestamp":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*v = NewTimestamp(ts)
	default:
		return fmt.Errorf("unknown sql value type %q", w.Type)
	}
	return nil
}
