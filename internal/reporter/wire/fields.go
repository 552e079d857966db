package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one decoded field of an entry.
type Field struct {
	Num   protowire.Number
	Type  protowire.Type
	Value uint64 // varint and fixed64 payloads
	Bytes []byte // length-delimited payloads
}

// FieldSet is a flat decoded message. Repeated fields keep their order.
type FieldSet []Field

// Fields decodes the top level of a message.
func Fields(b []byte) (FieldSet, error) {
	var out FieldSet
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Value, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.Value, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

func (fs FieldSet) find(num protowire.Number) (Field, bool) {
	for i := len(fs) - 1; i >= 0; i-- {
		if fs[i].Num == num {
			return fs[i], true
		}
	}
	return Field{}, false
}

// Uint returns the last varint value of field num, or 0.
func (fs FieldSet) Uint(num protowire.Number) uint64 {
	f, _ := fs.find(num)
	return f.Value
}

// Double returns the last fixed64 field num as a float64.
func (fs FieldSet) Double(num protowire.Number) float64 {
	f, _ := fs.find(num)
	return math.Float64frombits(f.Value)
}

// String returns the last bytes field num as a string.
func (fs FieldSet) String(num protowire.Number) string {
	f, _ := fs.find(num)
	return string(f.Bytes)
}

// All returns every bytes payload of a repeated field num.
func (fs FieldSet) All(num protowire.Number) [][]byte {
	var out [][]byte
	for _, f := range fs {
		if f.Num == num && f.Type == protowire.BytesType {
			out = append(out, f.Bytes)
		}
	}
	return out
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendUint(b, num, 1)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}
