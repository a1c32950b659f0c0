// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/ohler55/ojg/jp"
	lua "github.com/yuin/gopher-lua"
	yaml "go.yaml.in/yaml/v3"
	lmb "lmb.256lights.llc/pkg"
)

// newJSONModule builds @lmb/json. Encoding is canonical: an empty map is
// {}, an empty sequence is [], and decode preserves that distinction via
// the container markers.
func newJSONModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	mod.RawSetString("encode", L.NewFunction(func(L *lua.LState) int {
		v, err := fromLua(L, L.Get(1))
		if err != nil {
			raiseError(L, err)
			return 0
		}
		data, err := v.AppendJSON(nil)
		if err != nil {
			raiseError(L, err)
			return 0
		}
		L.Push(lua.LString(data))
		return 1
	}))
	mod.RawSetString("decode", L.NewFunction(func(L *lua.LState) int {
		v, err := lmb.FromJSON([]byte(L.CheckString(1)))
		if err != nil {
			raiseError(L, err)
			return 0
		}
		L.Push(toLua(L, v))
		return 1
	}))
	return mod
}

// newTOMLModule builds @lmb/toml with the format's native type limits: the
// top-level value must be a table.
func newTOMLModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	mod.RawSetString("encode", L.NewFunction(func(L *lua.LState) int {
		v, err := fromLua(L, L.Get(1))
		if err != nil {
			raiseError(L, err)
			return 0
		}
		if v.Type() != lmb.TypeMap {
			raiseKind(L, lmb.KindRuntime, "toml document must be a table")
			return 0
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(valueToAny(v)); err != nil {
			raiseKind(L, lmb.KindRuntime, "toml encode: %v", err)
			return 0
		}
		L.Push(lua.LString(buf.String()))
		return 1
	}))
	mod.RawSetString("decode", L.NewFunction(func(L *lua.LState) int {
		var doc map[string]any
		if _, err := toml.Decode(L.CheckString(1), &doc); err != nil {
			raiseKind(L, lmb.KindRuntime, "toml decode: %v", err)
			return 0
		}
		L.Push(toLua(L, anyToValue(doc)))
		return 1
	}))
	return mod
}

// newYAMLModule builds @lmb/yaml.
func newYAMLModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	mod.RawSetString("encode", L.NewFunction(func(L *lua.LState) int {
		v, err := fromLua(L, L.Get(1))
		if err != nil {
			raiseError(L, err)
			return 0
		}
		data, err := yaml.Marshal(valueToAny(v))
		if err != nil {
			raiseKind(L, lmb.KindRuntime, "yaml encode: %v", err)
			return 0
		}
		L.Push(lua.LString(data))
		return 1
	}))
	mod.RawSetString("decode", L.NewFunction(func(L *lua.LState) int {
		var doc any
		if err := yaml.Unmarshal([]byte(L.CheckString(1)), &doc); err != nil {
			raiseKind(L, lmb.KindRuntime, "yaml decode: %v", err)
			return 0
		}
		L.Push(toLua(L, anyToValue(doc)))
		return 1
	}))
	return mod
}

// newJSONPathModule builds @lmb/json-path: Goessner-style queries over
// representable values.
func newJSONPathModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	mod.RawSetString("query", L.NewFunction(func(L *lua.LState) int {
		expr := L.CheckString(1)
		v, err := fromLua(L, L.Get(2))
		if err != nil {
			raiseError(L, err)
			return 0
		}
		path, perr := jp.ParseString(expr)
		if perr != nil {
			raiseKind(L, lmb.KindRuntime, "invalid json-path %q: %v", expr, perr)
			return 0
		}
		matches := path.Get(valueToAny(v))
		seq := make([]lmb.Value, 0, len(matches))
		for _, m := range matches {
			seq = append(seq, anyToValue(m))
		}
		L.Push(toLua(L, lmb.Sequence(seq)))
		return 1
	}))
	return mod
}
