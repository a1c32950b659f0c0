// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type identifies the variant held by a [Value].
type Type int8

// Value variants.
const (
	TypeNull Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeSequence
	TypeMap
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "boolean"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeString:
		return "string"
	case TypeSequence:
		return "array"
	case TypeMap:
		return "object"
	default:
		return fmt.Sprintf("Type(%d)", int8(t))
	}
}

// Value is the unit exchanged between scripts and hosts and stored in the
// key-value store. A Value is one of: null, boolean, 64-bit integer, 64-bit
// float, string (arbitrary bytes), sequence, or map with string or integer
// keys. The zero Value is null.
type Value struct {
	typ Type
	b   bool
	i   int64
	f   float64
	s   string
	seq []Value
	m   *Map
}

// Null is the null value.
var Null = Value{}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{typ: TypeInt, i: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }

// String returns a string value. The bytes need not be valid UTF-8.
func String(s string) Value { return Value{typ: TypeString, s: s} }

// Number returns an integer value when f is integral and within int64
// range, and a float value otherwise. Lua has a single number type, so this
// is the mapping applied at the VM boundary.
func Number(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return Int(int64(f))
	}
	return Float(f)
}

// Sequence returns a sequence value wrapping items. The slice is not copied.
func Sequence(items []Value) Value { return Value{typ: TypeSequence, seq: items} }

// MapValue returns a map value wrapping m. A nil m is treated as empty.
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{typ: TypeMap, m: m}
}

// Type returns the variant held by v.
func (v Value) Type() Type { return v.typ }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.typ == TypeNull }

// Bool returns the boolean payload, or false for other variants.
func (v Value) Bool() bool { return v.typ == TypeBool && v.b }

// Int returns the integer payload. Float values are truncated.
func (v Value) Int() int64 {
	switch v.typ {
	case TypeInt:
		return v.i
	case TypeFloat:
		return int64(v.f)
	default:
		return 0
	}
}

// Float returns the numeric payload as a float64.
func (v Value) Float() float64 {
	switch v.typ {
	case TypeInt:
		return float64(v.i)
	case TypeFloat:
		return v.f
	default:
		return 0
	}
}

// Text returns the string payload, or "" for other variants.
func (v Value) Text() string {
	if v.typ == TypeString {
		return v.s
	}
	return ""
}

// Seq returns the sequence payload, or nil for other variants.
func (v Value) Seq() []Value {
	if v.typ == TypeSequence {
		return v.seq
	}
	return nil
}

// Map returns the map payload, or nil for other variants.
func (v Value) Map() *Map {
	if v.typ == TypeMap {
		return v.m
	}
	return nil
}

// Len returns the number of elements of a sequence or map, and 0 otherwise.
func (v Value) Len() int {
	switch v.typ {
	case TypeSequence:
		return len(v.seq)
	case TypeMap:
		return v.m.Len()
	default:
		return 0
	}
}

// Equal reports structural equality. Sequences compare element-wise in
// order; maps compare by key set regardless of insertion order. Integer and
// float values are distinct even when numerically equal, mirroring the
// codec's round-trip guarantee.
func (v Value) Equal(w Value) bool {
	if v.typ != w.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == w.b
	case TypeInt:
		return v.i == w.i
	case TypeFloat:
		return v.f == w.f || (math.IsNaN(v.f) && math.IsNaN(w.f))
	case TypeString:
		return v.s == w.s
	case TypeSequence:
		if len(v.seq) != len(w.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(w.seq[i]) {
				return false
			}
		}
		return true
	case TypeMap:
		if v.m.Len() != w.m.Len() {
			return false
		}
		for _, e := range v.m.entries {
			other, ok := w.m.Get(e.Key)
			if !ok || !e.Value.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders v as compact JSON for debugging and logging. A value that
// has no JSON rendering (for example one holding a string that is not valid
// UTF-8) renders as its type name in angle brackets, such as "<string>".
func (v Value) String() string {
	data, err := v.AppendJSON(nil)
	if err != nil {
		return fmt.Sprintf("<%s>", v.typ)
	}
	return string(data)
}

// SizeHint returns the advisory logical size recorded alongside stored
// values: 0 for null, 1 for booleans, 8 for numbers, byte length for
// strings, and the element sum for containers (map keys count their byte
// length, integer keys count 8).
func (v Value) SizeHint() int64 {
	switch v.typ {
	case TypeBool:
		return 1
	case TypeInt, TypeFloat:
		return 8
	case TypeString:
		return int64(len(v.s))
	case TypeSequence:
		var n int64
		for _, e := range v.seq {
			n += e.SizeHint()
		}
		return n
	case TypeMap:
		var n int64
		for _, e := range v.m.entries {
			if e.Key.isInt {
				n += 8
			} else {
				n += int64(len(e.Key.s))
			}
			n += e.Value.SizeHint()
		}
		return n
	default:
		return 0
	}
}

// TypeHint returns the advisory type string recorded alongside stored
// values.
func (v Value) TypeHint() string {
	switch v.typ {
	case TypeInt, TypeFloat:
		return "number"
	default:
		return v.typ.String()
	}
}

// MapKey is a map key: a string or an integer. Integer keys are distinct
// from string keys spelled with the same digits.
type MapKey struct {
	s     string
	i     int64
	isInt bool
}

// StringKey returns a string map key.
func StringKey(s string) MapKey { return MapKey{s: s} }

// IntKey returns an integer map key.
func IntKey(i int64) MapKey { return MapKey{i: i, isInt: true} }

// IsInt reports whether k is an integer key.
func (k MapKey) IsInt() bool { return k.isInt }

// Int returns the integer payload of an integer key.
func (k MapKey) Int() int64 { return k.i }

// Text returns the string payload of a string key.
func (k MapKey) Text() string { return k.s }

// String renders the key for JSON object names and debugging.
func (k MapKey) String() string {
	if k.isInt {
		return strconv.FormatInt(k.i, 10)
	}
	return k.s
}

// MapEntry is a single key/value pair of a [Map].
type MapEntry struct {
	Key   MapKey
	Value Value
}

// Map is an insertion-ordered mapping from [MapKey] to [Value].
type Map struct {
	entries []MapEntry
	index   map[MapKey]int
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{index: make(map[MapKey]int)}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Get returns the value for k.
func (m *Map) Get(k MapKey) (Value, bool) {
	if m == nil {
		return Null, false
	}
	i, ok := m.index[k]
	if !ok {
		return Null, false
	}
	return m.entries[i].Value, true
}

// GetString is shorthand for Get(StringKey(name)).
func (m *Map) GetString(name string) (Value, bool) {
	return m.Get(StringKey(name))
}

// Set inserts or replaces the value for k. Insertion order of first
// appearance is preserved.
func (m *Map) Set(k MapKey, v Value) {
	if i, ok := m.index[k]; ok {
		m.entries[i].Value = v
		return
	}
	m.index[k] = len(m.entries)
	m.entries = append(m.entries, MapEntry{Key: k, Value: v})
}

// SetString is shorthand for Set(StringKey(name), v).
func (m *Map) SetString(name string, v Value) {
	m.Set(StringKey(name), v)
}

// Delete removes the entry for k and reports whether it was present.
func (m *Map) Delete(k MapKey) bool {
	i, ok := m.index[k]
	if !ok {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	delete(m.index, k)
	for j := i; j < len(m.entries); j++ {
		m.index[m.entries[j].Key] = j
	}
	return true
}

// Entries returns the entries in insertion order. The returned slice is
// shared with the map; callers must not mutate it.
func (m *Map) Entries() []MapEntry {
	if m == nil {
		return nil
	}
	return m.entries
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []MapKey {
	if m == nil {
		return nil
	}
	keys := make([]MapKey, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// FormatTabular renders values the way the Lua print global joins its
// arguments: strings are passed through raw, containers as JSON, and nil as
// the literal word.
func FormatTabular(values []Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch v.Type() {
		case TypeNull:
			parts[i] = "nil"
		case TypeString:
			parts[i] = v.Text()
		default:
			parts[i] = v.String()
		}
	}
	return strings.Join(parts, "\t")
}
