// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json/jsontext"
)

// AppendJSON appends the compact JSON rendering of v to dst. Sequences
// become arrays, maps become objects (integer keys are spelled as decimal
// strings), and the empty-container distinction survives: an empty map is
// {} and an empty sequence is [].
func (v Value) AppendJSON(dst []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	enc := jsontext.NewEncoder(buf)
	if err := v.MarshalJSONTo(enc); err != nil {
		return nil, WrapError(KindValueCodec, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalJSONTo writes v to enc. It implements json.MarshalerTo.
func (v Value) MarshalJSONTo(enc *jsontext.Encoder) error {
	switch v.typ {
	case TypeNull:
		return enc.WriteToken(jsontext.Null)
	case TypeBool:
		return enc.WriteToken(jsontext.Bool(v.b))
	case TypeInt:
		return enc.WriteToken(jsontext.Int(v.i))
	case TypeFloat:
		return enc.WriteToken(jsontext.Float(v.f))
	case TypeString:
		return enc.WriteToken(jsontext.String(v.s))
	case TypeSequence:
		if err := enc.WriteToken(jsontext.BeginArray); err != nil {
			return err
		}
		for _, elem := range v.seq {
			if err := elem.MarshalJSONTo(enc); err != nil {
				return err
			}
		}
		return enc.WriteToken(jsontext.EndArray)
	case TypeMap:
		if err := enc.WriteToken(jsontext.BeginObject); err != nil {
			return err
		}
		for _, entry := range v.m.Entries() {
			if err := enc.WriteToken(jsontext.String(entry.Key.String())); err != nil {
				return err
			}
			if err := entry.Value.MarshalJSONTo(enc); err != nil {
				return err
			}
		}
		return enc.WriteToken(jsontext.EndObject)
	default:
		return NewError(KindValueCodec, "unrepresentable value type %v", v.typ)
	}
}

// FromJSON parses a JSON document into a Value. Numbers without a fraction
// or exponent become integers, everything else floats. Object member order
// is preserved.
func FromJSON(data []byte) (Value, error) {
	dec := jsontext.NewDecoder(bytes.NewReader(data))
	var v Value
	if err := v.UnmarshalJSONFrom(dec); err != nil {
		return Null, WrapError(KindValueCodec, err)
	}
	return v, nil
}

// UnmarshalJSONFrom reads one JSON value from dec. It implements
// json.UnmarshalerFrom.
func (v *Value) UnmarshalJSONFrom(dec *jsontext.Decoder) error {
	switch dec.PeekKind() {
	case 'n':
		if _, err := dec.ReadToken(); err != nil {
			return err
		}
		*v = Null
		return nil
	case 't', 'f':
		tok, err := dec.ReadToken()
		if err != nil {
			return err
		}
		*v = Bool(tok.Bool())
		return nil
	case '"':
		tok, err := dec.ReadToken()
		if err != nil {
			return err
		}
		*v = String(tok.String())
		return nil
	case '0':
		raw, err := dec.ReadValue()
		if err != nil {
			return err
		}
		*v = parseJSONNumber(string(raw))
		return nil
	case '[':
		if _, err := dec.ReadToken(); err != nil {
			return err
		}
		seq := []Value{}
		for dec.PeekKind() != ']' {
			var elem Value
			if err := elem.UnmarshalJSONFrom(dec); err != nil {
				return err
			}
			seq = append(seq, elem)
		}
		if _, err := dec.ReadToken(); err != nil {
			return err
		}
		*v = Sequence(seq)
		return nil
	case '{':
		if _, err := dec.ReadToken(); err != nil {
			return err
		}
		m := NewMap()
		for dec.PeekKind() != '}' {
			nameTok, err := dec.ReadToken()
			if err != nil {
				return err
			}
			var member Value
			if err := member.UnmarshalJSONFrom(dec); err != nil {
				return err
			}
			m.Set(StringKey(nameTok.String()), member)
		}
		if _, err := dec.ReadToken(); err != nil {
			return err
		}
		*v = MapValue(m)
		return nil
	default:
		_, err := dec.ReadToken()
		if err != nil {
			return err
		}
		return NewError(KindValueCodec, "unexpected JSON input")
	}
}

func parseJSONNumber(raw string) Value {
	if !strings.ContainsAny(raw, ".eE") {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return Int(i)
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Null
	}
	return Float(f)
}
