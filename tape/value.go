package tape

import (
	"math"
	"strconv"
)

// ValueKind tags the type of a field value.
type ValueKind uint8

// Value kinds.
const (
	ValueBool ValueKind = iota
	ValueI64
	ValueU64
	ValueF64
	ValueStr
	ValueError
)

func (k ValueKind) String() string {
	switch k {
	case ValueBool:
		return "bool"
	case ValueI64:
		return "i64"
	case ValueU64:
		return "u64"
	case ValueF64:
		return "f64"
	case ValueStr:
		return "str"
	case ValueError:
		return "error"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a typed field value.
type Value struct {
	str  string
	num  uint64
	kind ValueKind
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: ValueBool}
	if b {
		v.num = 1
	}
	return v
}

// Int64 returns a signed integer value.
func Int64(i int64) Value { return Value{kind: ValueI64, num: uint64(i)} }

// Uint64 returns an unsigned integer value.
func Uint64(u uint64) Value { return Value{kind: ValueU64, num: u} }

// Float64 returns a floating point value.
func Float64(f float64) Value { return Value{kind: ValueF64, num: math.Float64bits(f)} }

// String returns a string value.
func String(s string) Value { return Value{kind: ValueStr, str: s} }

// Error returns an error value. A nil error is recorded as "<nil>".
func Error(err error) Value {
	if err == nil {
		return Value{kind: ValueError, str: "<nil>"}
	}
	return Value{kind: ValueError, str: err.Error()}
}

// Kind returns the value's type tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.num != 0 }

// AsInt64 returns the signed payload.
func (v Value) AsInt64() int64 { return int64(v.num) }

// AsUint64 returns the unsigned payload.
func (v Value) AsUint64() uint64 { return v.num }

// AsFloat64 returns the floating point payload.
func (v Value) AsFloat64() float64 { return math.Float64frombits(v.num) }

// AsString returns the string payload of string and error values.
func (v Value) AsString() string { return v.str }

// Format renders the value for display.
func (v Value) Format() string {
	switch v.kind {
	case ValueBool:
		return strconv.FormatBool(v.AsBool())
	case ValueI64:
		return strconv.FormatInt(v.AsInt64(), 10)
	case ValueU64:
		return strconv.FormatUint(v.num, 10)
	case ValueF64:
		return strconv.FormatFloat(v.AsFloat64(), 'g', -1, 64)
	default:
		return v.str
	}
}

// Field is a named value attached to an event or span.
type Field struct {
	Name  string
	Value Value
}

// F builds a Field.
func F(name string, value Value) Field {
	return Field{Name: name, Value: value}
}

func appendField(dst []byte, f Field) []byte {
	dst = AppendString(dst, f.Name)
	dst = AppendU8(dst, uint8(f.Value.kind))
	switch f.Value.kind {
	case ValueStr, ValueError:
		return AppendString(dst, f.Value.str)
	case ValueBool:
		return AppendU8(dst, uint8(f.Value.num))
	default:
		return AppendU64(dst, f.Value.num)
	}
}

func decodeField(d *Decoder) Field {
	var f Field
	f.Name = d.String()
	f.Value.kind = ValueKind(d.U8())
	switch f.Value.kind {
	case ValueStr, ValueError:
		f.Value.str = d.String()
	case ValueBool:
		f.Value.num = uint64(d.U8())
	case ValueI64, ValueU64, ValueF64:
		f.Value.num = d.U64()
	default:
		// An unknown value kind has no known width.
		d.err = ErrMalformedRecord
	}
	return f
}
