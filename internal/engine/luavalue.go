// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

// Empty Lua tables are ambiguous between an empty sequence and an empty
// map. Tables produced by the host (decoders, store reads, ctx values)
// carry a metatable whose __lmbtype field records which one they were, so
// emptiness survives a round-trip. Tables built by scripts without the
// marker default to map form.
const typeMarkerField = "__lmbtype"

func markEmpty(L *lua.LState, tbl *lua.LTable, kind string) {
	mt := L.NewTable()
	mt.RawSetString(typeMarkerField, lua.LString(kind))
	L.SetMetatable(tbl, mt)
}

func emptyMarker(L *lua.LState, tbl *lua.LTable) string {
	mt := L.GetMetatable(tbl)
	mtbl, ok := mt.(*lua.LTable)
	if !ok {
		return ""
	}
	if s, ok := mtbl.RawGetString(typeMarkerField).(lua.LString); ok {
		return string(s)
	}
	return ""
}

// toLua converts a host value into a Lua value on L.
func toLua(L *lua.LState, v lmb.Value) lua.LValue {
	switch v.Type() {
	case lmb.TypeNull:
		return lua.LNil
	case lmb.TypeBool:
		return lua.LBool(v.Bool())
	case lmb.TypeInt:
		return lua.LNumber(v.Int())
	case lmb.TypeFloat:
		return lua.LNumber(v.Float())
	case lmb.TypeString:
		return lua.LString(v.Text())
	case lmb.TypeSequence:
		tbl := L.NewTable()
		for _, elem := range v.Seq() {
			tbl.Append(toLua(L, elem))
		}
		if v.Len() == 0 {
			markEmpty(L, tbl, "seq")
		}
		return tbl
	case lmb.TypeMap:
		tbl := L.NewTable()
		for _, entry := range v.Map().Entries() {
			if entry.Key.IsInt() {
				tbl.RawSetInt(int(entry.Key.Int()), toLua(L, entry.Value))
			} else {
				tbl.RawSetString(entry.Key.Text(), toLua(L, entry.Value))
			}
		}
		if v.Len() == 0 {
			markEmpty(L, tbl, "map")
		}
		return tbl
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value into a host value. Functions, userdata,
// channels, threads, and cyclic tables are unrepresentable and yield a
// value_codec error.
func fromLua(L *lua.LState, lv lua.LValue) (lmb.Value, error) {
	return fromLuaValue(L, lv, make(map[*lua.LTable]struct{}))
}

func fromLuaValue(L *lua.LState, lv lua.LValue, visited map[*lua.LTable]struct{}) (lmb.Value, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return lmb.Null, nil
	case lua.LBool:
		return lmb.Bool(bool(v)), nil
	case lua.LNumber:
		return lmb.Number(float64(v)), nil
	case lua.LString:
		return lmb.String(string(v)), nil
	case *lua.LTable:
		if _, seen := visited[v]; seen {
			return lmb.Null, lmb.NewError(lmb.KindValueCodec, "cyclic table")
		}
		visited[v] = struct{}{}
		defer delete(visited, v)
		return fromLuaTable(L, v, visited)
	default:
		return lmb.Null, lmb.NewError(lmb.KindValueCodec, "unrepresentable %s value", lv.Type().String())
	}
}

func fromLuaTable(L *lua.LState, tbl *lua.LTable, visited map[*lua.LTable]struct{}) (lmb.Value, error) {
	count := 0
	maxN := 0
	intOnly := true
	var keyErr error
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		switch key := k.(type) {
		case lua.LNumber:
			f := float64(key)
			if f != math.Trunc(f) {
				keyErr = lmb.NewError(lmb.KindValueCodec, "non-integer table key %v", f)
				return
			}
			if f < 1 {
				intOnly = false
			} else if int(f) > maxN {
				maxN = int(f)
			}
		case lua.LString:
			intOnly = false
		default:
			keyErr = lmb.NewError(lmb.KindValueCodec, "unrepresentable table key type %s", k.Type().String())
		}
	})
	if keyErr != nil {
		return lmb.Null, keyErr
	}

	if count == 0 {
		if emptyMarker(L, tbl) == "seq" {
			return lmb.Sequence([]lmb.Value{}), nil
		}
		return lmb.MapValue(lmb.NewMap()), nil
	}

	// A dense 1..N integer key range reads as a sequence.
	if intOnly && maxN == count {
		seq := make([]lmb.Value, 0, count)
		for i := 1; i <= maxN; i++ {
			elem, err := fromLuaValue(L, tbl.RawGetInt(i), visited)
			if err != nil {
				return lmb.Null, err
			}
			seq = append(seq, elem)
		}
		return lmb.Sequence(seq), nil
	}

	m := lmb.NewMap()
	var convErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		elem, err := fromLuaValue(L, v, visited)
		if err != nil {
			convErr = err
			return
		}
		switch key := k.(type) {
		case lua.LNumber:
			m.Set(lmb.IntKey(int64(key)), elem)
		case lua.LString:
			m.Set(lmb.StringKey(string(key)), elem)
		}
	})
	if convErr != nil {
		return lmb.Null, convErr
	}
	return lmb.MapValue(m), nil
}

// valueToAny lowers a host value to plain Go types for libraries that
// operate on any trees (TOML, YAML, JSONPath). Integer map keys become
// their decimal spelling.
func valueToAny(v lmb.Value) any {
	switch v.Type() {
	case lmb.TypeNull:
		return nil
	case lmb.TypeBool:
		return v.Bool()
	case lmb.TypeInt:
		return v.Int()
	case lmb.TypeFloat:
		return v.Float()
	case lmb.TypeString:
		return v.Text()
	case lmb.TypeSequence:
		out := make([]any, 0, v.Len())
		for _, elem := range v.Seq() {
			out = append(out, valueToAny(elem))
		}
		return out
	case lmb.TypeMap:
		out := make(map[string]any, v.Len())
		for _, entry := range v.Map().Entries() {
			out[entry.Key.String()] = valueToAny(entry.Value)
		}
		return out
	default:
		return nil
	}
}

// anyToValue raises plain Go types (as produced by TOML/YAML decoders and
// the JSONPath engine) to host values.
func anyToValue(x any) lmb.Value {
	switch v := x.(type) {
	case nil:
		return lmb.Null
	case bool:
		return lmb.Bool(v)
	case int:
		return lmb.Int(int64(v))
	case int64:
		return lmb.Int(v)
	case uint64:
		return lmb.Int(int64(v))
	case float32:
		return lmb.Number(float64(v))
	case float64:
		return lmb.Number(v)
	case string:
		return lmb.String(v)
	case []byte:
		return lmb.String(string(v))
	case []any:
		seq := make([]lmb.Value, 0, len(v))
		for _, elem := range v {
			seq = append(seq, anyToValue(elem))
		}
		return lmb.Sequence(seq)
	case map[string]any:
		m := lmb.NewMap()
		for _, key := range sortedKeys(v) {
			m.SetString(key, anyToValue(v[key]))
		}
		return lmb.MapValue(m)
	case map[any]any:
		m := lmb.NewMap()
		for key, elem := range v {
			switch k := key.(type) {
			case string:
				m.SetString(k, anyToValue(elem))
			case int:
				m.Set(lmb.IntKey(int64(k)), anyToValue(elem))
			case int64:
				m.Set(lmb.IntKey(k), anyToValue(elem))
			}
		}
		return lmb.MapValue(m)
	default:
		return lmb.Null
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
