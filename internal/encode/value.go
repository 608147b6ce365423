// Package encode turns single cell values into MySQL literal tokens.
package encode

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of value shapes the encoder distinguishes.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindBinary
	KindTemporal
	KindNumeric
	KindBool
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindTemporal:
		return "temporal"
	case KindNumeric:
		return "numeric"
	case KindBool:
		return "bool"
	default:
		return "other"
	}
}

// Value is one typed cell. Text carries the payload of every kind except
// Binary (Bytes) and Bool (Bool).
type Value struct {
	Kind  Kind
	Text  string
	Bytes []byte
	Bool  bool
}

const timeLayout = "2006-01-02 15:04:05.999999"

func Null() Value               { return Value{Kind: KindNull} }
func Text(s string) Value       { return Value{Kind: KindText, Text: s} }
func Binary(b []byte) Value     { return Value{Kind: KindBinary, Bytes: b} }
func Temporal(s string) Value   { return Value{Kind: KindTemporal, Text: s} }
func Numeric(s string) Value    { return Value{Kind: KindNumeric, Text: s} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Other(v interface{}) Value { return Value{Kind: KindOther, Text: fmt.Sprint(v)} }

// Time renders t the way MySQL prints DATETIME(6), dropping a zero fraction.
func Time(t time.Time) Value {
	return Temporal(t.Format(timeLayout))
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
)

// Quote escapes s and wraps it in single quotes.
func Quote(s string) string {
	return "'" + escaper.Replace(s) + "'"
}

// Encode returns the SQL literal for v.
func Encode(v Value) string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindText:
		return Quote(v.Text)
	case KindBinary:
		// 0x with no digits is not a valid literal everywhere
		if len(v.Bytes) == 0 {
			return "''"
		}
		return "0x" + hex.EncodeToString(v.Bytes)
	case KindTemporal:
		return Quote(v.Text)
	case KindNumeric:
		return v.Text
	case KindBool:
		if v.Bool {
			return "1"
		}
		return "0"
	default:
		return Quote(v.Text)
	}
}

// KindOf maps a driver column type name (sql.ColumnType.DatabaseTypeName)
// to the kind its cells encode as.
func KindOf(databaseType string) Kind {
	t := strings.ToUpper(strings.TrimSpace(databaseType))
	t = strings.TrimPrefix(t, "UNSIGNED ")

	switch t {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL":
		return KindNumeric
	case "DATE", "DATETIME", "TIMESTAMP", "TIME", "YEAR":
		return KindTemporal
	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB",
		"BIT", "GEOMETRY":
		return KindBinary
	case "CHAR", "VARCHAR", "TINYTEXT", "TEXT", "MEDIUMTEXT", "LONGTEXT",
		"ENUM", "SET", "JSON":
		return KindText
	default:
		return KindOther
	}
}

// FromColumn classifies the raw text-protocol bytes of one cell. A nil
// slice is SQL NULL.
func FromColumn(raw []byte, databaseType string) Value {
	if raw == nil {
		return Null()
	}
	switch KindOf(databaseType) {
	case KindNumeric:
		return Numeric(string(raw))
	case KindTemporal:
		return Temporal(string(raw))
	case KindBinary:
		return Binary(raw)
	case KindText:
		return Text(string(raw))
	default:
		return Value{Kind: KindOther, Text: string(raw)}
	}
}

// FromDriver classifies a value scanned into interface{}. Byte and string
// payloads are typed by the column; anything else by its Go type.
func FromDriver(v interface{}, databaseType string) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case []byte:
		return FromColumn(x, databaseType)
	case string:
		return FromColumn([]byte(x), databaseType)
	default:
		return FromAny(x)
	}
}

// FromAny classifies a native Go value.
func FromAny(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return Text(x)
	case []byte:
		return Binary(x)
	case bool:
		return Bool(x)
	case time.Time:
		return Time(x)
	case int:
		return Numeric(strconv.FormatInt(int64(x), 10))
	case int8:
		return Numeric(strconv.FormatInt(int64(x), 10))
	case int16:
		return Numeric(strconv.FormatInt(int64(x), 10))
	case int32:
		return Numeric(strconv.FormatInt(int64(x), 10))
	case int64:
		return Numeric(strconv.FormatInt(x, 10))
	case uint:
		return Numeric(strconv.FormatUint(uint64(x), 10))
	case uint8:
		return Numeric(strconv.FormatUint(uint64(x), 10))
	case uint16:
		return Numeric(strconv.FormatUint(uint64(x), 10))
	case uint32:
		return Numeric(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return Numeric(strconv.FormatUint(x, 10))
	case float32:
		return Numeric(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case float64:
		return Numeric(strconv.FormatFloat(x, 'g', -1, 64))
	default:
		return Other(x)
	}
}
