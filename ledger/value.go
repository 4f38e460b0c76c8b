package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Kind enumerates the contract value kinds that appear in the loan contract's
// interface. Every payload crossing the ledger boundary is one of these.
type Kind string

const (
	KindUint        Kind = "uint"
	KindPrincipal   Kind = "principal"
	KindStringASCII Kind = "string-ascii"
	KindBool        Kind = "bool"
	KindOptional    Kind = "optional"
	KindTuple       Kind = "tuple"
)

// maxUint128 bounds contract uints, which are 128-bit on chain.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Value is a tagged contract value. Narrowing to a concrete kind is explicit;
// a mismatch is an error the caller converts to "absent" at the read boundary
// rather than trusting the shape.
type Value struct {
	kind    Kind
	uintVal *big.Int
	strVal  string
	boolVal bool
	inner   *Value
	tuple   map[string]Value
}

// Uint builds a uint value from a native integer.
func Uint(v uint64) Value {
	return Value{kind: KindUint, uintVal: new(big.Int).SetUint64(v)}
}

// UintBig builds a uint value from an arbitrary-precision integer.
func UintBig(v *big.Int) Value {
	if v == nil {
		v = big.NewInt(0)
	}
	return Value{kind: KindUint, uintVal: new(big.Int).Set(v)}
}

// Principal builds a principal (account identifier) value.
func Principal(p string) Value { return Value{kind: KindPrincipal, strVal: p} }

// StringASCII builds an ascii string value.
func StringASCII(s string) Value { return Value{kind: KindStringASCII, strVal: s} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolVal: b} }

// None builds an empty optional.
func None() Value { return Value{kind: KindOptional} }

// Some wraps a value in an optional.
func Some(v Value) Value { return Value{kind: KindOptional, inner: &v} }

// Tuple builds a named-field tuple value.
func Tuple(fields map[string]Value) Value {
	copied := make(map[string]Value, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Value{kind: KindTuple, tuple: copied}
}

// Kind reports the value's tag.
func (v Value) Kind() Kind { return v.kind }

// AsUint64 narrows to a native integer, rejecting values outside uint64 range.
func (v Value) AsUint64() (uint64, error) {
	if v.kind != KindUint || v.uintVal == nil {
		return 0, fmt.Errorf("ledger: value is %s, want uint", v.kind)
	}
	if !v.uintVal.IsUint64() {
		return 0, fmt.Errorf("ledger: uint %s overflows uint64", v.uintVal)
	}
	return v.uintVal.Uint64(), nil
}

// AsPrincipal narrows to a principal string.
func (v Value) AsPrincipal() (string, error) {
	if v.kind != KindPrincipal {
		return "", fmt.Errorf("ledger: value is %s, want principal", v.kind)
	}
	return v.strVal, nil
}

// AsStringASCII narrows to an ascii string.
func (v Value) AsStringASCII() (string, error) {
	if v.kind != KindStringASCII {
		return "", fmt.Errorf("ledger: value is %s, want string-ascii", v.kind)
	}
	return v.strVal, nil
}

// AsBool narrows to a boolean.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("ledger: value is %s, want bool", v.kind)
	}
	return v.boolVal, nil
}

// AsOptional narrows to an optional, returning the inner value and whether it
// is present.
func (v Value) AsOptional() (Value, bool, error) {
	if v.kind != KindOptional {
		return Value{}, false, fmt.Errorf("ledger: value is %s, want optional", v.kind)
	}
	if v.inner == nil {
		return Value{}, false, nil
	}
	return *v.inner, true, nil
}

// Field narrows to a tuple and extracts a named field.
func (v Value) Field(name string) (Value, error) {
	if v.kind != KindTuple {
		return Value{}, fmt.Errorf("ledger: value is %s, want tuple", v.kind)
	}
	field, ok := v.tuple[name]
	if !ok {
		return Value{}, fmt.Errorf("ledger: tuple missing field %q", name)
	}
	return field, nil
}

type wireValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value in the node's tagged wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindUint:
		if v.uintVal == nil {
			payload = "0"
		} else {
			payload = v.uintVal.String()
		}
	case KindPrincipal, KindStringASCII:
		payload = v.strVal
	case KindBool:
		payload = v.boolVal
	case KindOptional:
		if v.inner == nil {
			payload = nil
		} else {
			payload = *v.inner
		}
	case KindTuple:
		payload = v.tuple
	default:
		return nil, fmt.Errorf("ledger: cannot marshal value of kind %q", v.kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.kind, Value: raw})
}

// UnmarshalJSON decodes a tagged wire value, validating its shape strictly.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire wireValue
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case KindUint:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			// Tolerate bare numbers from older node versions.
			var n json.Number
			if err := json.Unmarshal(wire.Value, &n); err != nil {
				return fmt.Errorf("ledger: uint value must be a string: %w", err)
			}
			s = n.String()
		}
		parsed, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("ledger: invalid uint %q", s)
		}
		if parsed.Sign() < 0 || parsed.Cmp(maxUint128) > 0 {
			return fmt.Errorf("ledger: uint %s out of range", parsed)
		}
		*v = Value{kind: KindUint, uintVal: parsed}
	case KindPrincipal:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("ledger: principal value must be a string: %w", err)
		}
		*v = Value{kind: KindPrincipal, strVal: s}
	case KindStringASCII:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("ledger: string-ascii value must be a string: %w", err)
		}
		for i := 0; i < len(s); i++ {
			if s[i] > 127 {
				return fmt.Errorf("ledger: string-ascii contains non-ascii byte at %d", i)
			}
		}
		*v = Value{kind: KindStringASCII, strVal: s}
	case KindBool:
		var b bool
		if err := json.Unmarshal(wire.Value, &b); err != nil {
			return fmt.Errorf("ledger: bool value malformed: %w", err)
		}
		*v = Value{kind: KindBool, boolVal: b}
	case KindOptional:
		if bytes.Equal(bytes.TrimSpace(wire.Value), []byte("null")) {
			*v = None()
			return nil
		}
		var inner Value
		if err := json.Unmarshal(wire.Value, &inner); err != nil {
			return fmt.Errorf("ledger: optional inner value malformed: %w", err)
		}
		*v = Some(inner)
	case KindTuple:
		var fields map[string]Value
		if err := json.Unmarshal(wire.Value, &fields); err != nil {
			return fmt.Errorf("ledger: tuple value malformed: %w", err)
		}
		*v = Tuple(fields)
	default:
		return fmt.Errorf("ledger: unknown value kind %q", wire.Type)
	}
	return nil
}

// canonicalEncode writes a deterministic byte form of the value, used for
// descriptor digests. Tuple fields are encoded in sorted key order.
func (v Value) canonicalEncode(buf *bytes.Buffer) {
	buf.WriteString(string(v.kind))
	buf.WriteByte(0)
	switch v.kind {
	case KindUint:
		if v.uintVal != nil {
			buf.WriteString(v.uintVal.String())
		}
	case KindPrincipal, KindStringASCII:
		buf.WriteString(v.strVal)
	case KindBool:
		if v.boolVal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindOptional:
		if v.inner != nil {
			buf.WriteByte(1)
			v.inner.canonicalEncode(buf)
		} else {
			buf.WriteByte(0)
		}
	case KindTuple:
		keys := make([]string, 0, len(v.tuple))
		for k := range v.tuple {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_ = binary.Write(buf, binary.BigEndian, uint32(len(keys)))
		for _, k := range keys {
			buf.WriteString(k)
			buf.WriteByte(0)
			field := v.tuple[k]
			field.canonicalEncode(buf)
		}
	}
	buf.WriteByte(0)
}
