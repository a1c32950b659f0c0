// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"encoding/binary"
	"math"
)

// The binary value encoding is a tagged, self-describing format: one tag
// byte per value, lengths and integers as varints, floats as big-endian
// IEEE 754 bits. It is the persistence format of the store, so the tag
// numbers and layout must never change meaning; new variants get new tags.
const (
	tagNil   byte = 0x00
	tagFalse byte = 0x01
	tagTrue  byte = 0x02
	tagInt   byte = 0x03 // zigzag varint
	tagFloat byte = 0x04 // 8 bytes big-endian
	tagBin   byte = 0x05 // uvarint length + bytes
	tagSeq   byte = 0x06 // uvarint count + elements
	tagMap   byte = 0x07 // uvarint count + (key, value) pairs
)

// maxNestingDepth bounds decoding recursion. Encoding detects cycles
// explicitly, so any deeper document is hostile or corrupt.
const maxNestingDepth = 1000

// Encode encodes v into the tagged binary format.
// It returns a value_codec error when v contains a cycle.
func (v Value) Encode() ([]byte, error) {
	return v.AppendEncoded(nil)
}

// AppendEncoded appends the encoding of v to dst and returns the extended
// slice.
func (v Value) AppendEncoded(dst []byte) ([]byte, error) {
	e := &valueEncoder{buf: dst, visited: make(map[any]struct{})}
	if err := e.encode(v); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// DecodeValue decodes a value previously produced by [Value.Encode].
// The entire input must be consumed.
func DecodeValue(data []byte) (Value, error) {
	d := &valueDecoder{data: data}
	v, err := d.decode(0)
	if err != nil {
		return Null, err
	}
	if d.pos != len(d.data) {
		return Null, NewError(KindValueCodec, "trailing garbage at offset %d", d.pos)
	}
	return v, nil
}

type valueEncoder struct {
	buf []byte
	// visited holds the identity of every container on the current path,
	// keyed by *Map or the backing array pointer of a sequence.
	visited map[any]struct{}
}

func (e *valueEncoder) encode(v Value) error {
	switch v.typ {
	case TypeNull:
		e.buf = append(e.buf, tagNil)
	case TypeBool:
		if v.b {
			e.buf = append(e.buf, tagTrue)
		} else {
			e.buf = append(e.buf, tagFalse)
		}
	case TypeInt:
		e.buf = append(e.buf, tagInt)
		e.buf = binary.AppendVarint(e.buf, v.i)
	case TypeFloat:
		e.buf = append(e.buf, tagFloat)
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v.f))
	case TypeString:
		e.buf = append(e.buf, tagBin)
		e.buf = binary.AppendUvarint(e.buf, uint64(len(v.s)))
		e.buf = append(e.buf, v.s...)
	case TypeSequence:
		var id any
		if len(v.seq) > 0 {
			id = &v.seq[0]
			if _, seen := e.visited[id]; seen {
				return NewError(KindValueCodec, "cyclic sequence")
			}
			e.visited[id] = struct{}{}
			defer delete(e.visited, id)
		}
		e.buf = append(e.buf, tagSeq)
		e.buf = binary.AppendUvarint(e.buf, uint64(len(v.seq)))
		for _, elem := range v.seq {
			if err := e.encode(elem); err != nil {
				return err
			}
		}
	case TypeMap:
		if _, seen := e.visited[v.m]; seen {
			return NewError(KindValueCodec, "cyclic map")
		}
		e.visited[v.m] = struct{}{}
		defer delete(e.visited, v.m)
		e.buf = append(e.buf, tagMap)
		e.buf = binary.AppendUvarint(e.buf, uint64(v.m.Len()))
		for _, entry := range v.m.Entries() {
			e.encodeKey(entry.Key)
			if err := e.encode(entry.Value); err != nil {
				return err
			}
		}
	default:
		return NewError(KindValueCodec, "unrepresentable value type %v", v.typ)
	}
	return nil
}

func (e *valueEncoder) encodeKey(k MapKey) {
	if k.isInt {
		e.buf = append(e.buf, tagInt)
		e.buf = binary.AppendVarint(e.buf, k.i)
		return
	}
	e.buf = append(e.buf, tagBin)
	e.buf = binary.AppendUvarint(e.buf, uint64(len(k.s)))
	e.buf = append(e.buf, k.s...)
}

type valueDecoder struct {
	data []byte
	pos  int
}

func (d *valueDecoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, NewError(KindValueCodec, "unexpected end of input at offset %d", d.pos)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *valueDecoder) readUvarint() (uint64, error) {
	u, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, NewError(KindValueCodec, "malformed varint at offset %d", d.pos)
	}
	d.pos += n
	return u, nil
}

func (d *valueDecoder) readVarint() (int64, error) {
	i, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		return 0, NewError(KindValueCodec, "malformed varint at offset %d", d.pos)
	}
	d.pos += n
	return i, nil
}

func (d *valueDecoder) readBytes(n uint64) ([]byte, error) {
	if n > uint64(len(d.data)-d.pos) {
		return nil, NewError(KindValueCodec, "length %d exceeds remaining input at offset %d", n, d.pos)
	}
	b := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *valueDecoder) decode(depth int) (Value, error) {
	if depth > maxNestingDepth {
		return Null, NewError(KindValueCodec, "nesting deeper than %d", maxNestingDepth)
	}
	tag, err := d.readByte()
	if err != nil {
		return Null, err
	}
	switch tag {
	case tagNil:
		return Null, nil
	case tagFalse:
		return Bool(false), nil
	case tagTrue:
		return Bool(true), nil
	case tagInt:
		i, err := d.readVarint()
		if err != nil {
			return Null, err
		}
		return Int(i), nil
	case tagFloat:
		b, err := d.readBytes(8)
		if err != nil {
			return Null, err
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case tagBin:
		n, err := d.readUvarint()
		if err != nil {
			return Null, err
		}
		b, err := d.readBytes(n)
		if err != nil {
			return Null, err
		}
		return String(string(b)), nil
	case tagSeq:
		n, err := d.readUvarint()
		if err != nil {
			return Null, err
		}
		if n > uint64(len(d.data)-d.pos) {
			return Null, NewError(KindValueCodec, "sequence count %d exceeds remaining input", n)
		}
		seq := make([]Value, 0, n)
		for range n {
			elem, err := d.decode(depth + 1)
			if err != nil {
				return Null, err
			}
			seq = append(seq, elem)
		}
		return Sequence(seq), nil
	case tagMap:
		n, err := d.readUvarint()
		if err != nil {
			return Null, err
		}
		if n > uint64(len(d.data)-d.pos) {
			return Null, NewError(KindValueCodec, "map count %d exceeds remaining input", n)
		}
		m := NewMap()
		for range n {
			key, err := d.decodeKey()
			if err != nil {
				return Null, err
			}
			val, err := d.decode(depth + 1)
			if err != nil {
				return Null, err
			}
			m.Set(key, val)
		}
		return MapValue(m), nil
	default:
		return Null, NewError(KindValueCodec, "unknown tag %#02x at offset %d", tag, d.pos-1)
	}
}

func (d *valueDecoder) decodeKey() (MapKey, error) {
	tag, err := d.readByte()
	if err != nil {
		return MapKey{}, err
	}
	switch tag {
	case tagInt:
		i, err := d.readVarint()
		if err != nil {
			return MapKey{}, err
		}
		return IntKey(i), nil
	case tagBin:
		n, err := d.readUvarint()
		if err != nil {
			return MapKey{}, err
		}
		b, err := d.readBytes(n)
		if err != nil {
			return MapKey{}, err
		}
		return StringKey(string(b)), nil
	default:
		return MapKey{}, NewError(KindValueCodec, "invalid map key tag %#02x", tag)
	}
}
