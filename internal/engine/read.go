// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

// ioRead implements io.read over the evaluation input with the standard
// selectors: '*a', '*l', '*n', or a byte count. No selector reads a line.
func (inst *instance) ioRead(L *lua.LState) int {
	sel := L.Get(1)
	if sel == lua.LNil {
		sel = lua.LString("*l")
	}
	return readSelector(L, inst.reader, sel)
}

// readSelector runs one read selector against r and pushes the result. It
// is shared between io.read and file handle reads.
func readSelector(L *lua.LState, r *lmb.Reader, sel lua.LValue) int {
	switch v := sel.(type) {
	case lua.LNumber:
		n := int(v)
		if n < 0 {
			L.ArgError(1, "invalid byte count")
			return 0
		}
		s, ok, err := r.ReadBytes(n)
		return pushRead(L, s, ok, err)
	case lua.LString:
		switch string(v) {
		case "*a", "*all":
			// Exhausted input reads as nil rather than "".
			s, err := r.ReadAll()
			return pushRead(L, s, s != "", err)
		case "*l", "*line":
			s, ok, err := r.ReadLine()
			return pushRead(L, s, ok, err)
		case "*n", "*number":
			f, ok, err := r.ReadNumber()
			if err != nil {
				raiseKind(L, lmb.KindRuntime, "read: %v", err)
				return 0
			}
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(f))
			return 1
		default:
			L.ArgError(1, "invalid format "+string(v))
			return 0
		}
	default:
		L.ArgError(1, "invalid option")
		return 0
	}
}

// pushRead pushes a read result: the string on success, nil at EOF, and a
// raised runtime error on I/O failure.
func pushRead(L *lua.LState, s string, ok bool, err error) int {
	if err != nil {
		raiseKind(L, lmb.KindRuntime, "read: %v", err)
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(s))
	return 1
}
