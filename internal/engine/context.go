// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"os"
	"slices"

	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

// buildCtx assembles the context table handed to the script's function and
// served by require('@lmb'): ctx.state, ctx.store, ctx.request, the version
// string, and the reader/environment accessors.
func (inst *instance) buildCtx(L *lua.LState) *lua.LTable {
	ctx := L.NewTable()
	ctx.RawSetString("_VERSION", lua.LString(lmb.Version))

	if !inst.opts.State.IsNull() {
		ctx.RawSetString("state", inst.stateProxy(L, inst.opts.State))
	}
	if inst.opts.Store != nil {
		ctx.RawSetString("store", inst.newStoreFacade(L))
	}
	if inst.opts.Request != nil {
		ctx.RawSetString("request", toLua(L, inst.opts.Request.Value()))
	}

	ctx.RawSetString("read_unicode", L.NewFunction(inst.readUnicode))
	ctx.RawSetString("getenv", L.NewFunction(inst.getenv))
	ctx.RawSetString("get_env", L.NewFunction(inst.getenv))
	ctx.RawSetString("sleep_ms", L.NewFunction(func(L *lua.LState) int {
		fn := inst.wrappers.RawGetString("sleep_ms").(*lua.LFunction)
		L.Push(fn)
		L.Push(skipSelf(L, ctx, 1))
		L.Call(1, 0)
		return 0
	}))
	return ctx
}

// stateProxy exposes the caller-supplied state as a read-only table.
func (inst *instance) stateProxy(L *lua.LState, state lmb.Value) lua.LValue {
	data := toLua(L, state)
	dataTbl, ok := data.(*lua.LTable)
	if !ok {
		return data
	}
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", dataTbl)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		raiseKind(L, lmb.KindRuntime, "ctx.state is read-only")
		return 0
	}))
	L.SetMetatable(proxy, mt)
	return proxy
}

// readUnicode implements ctx:read_unicode(k|'*a'|'*l'), reading whole UTF-8
// code points instead of bytes.
func (inst *instance) readUnicode(L *lua.LState) int {
	sel := skipSelf(L, inst.ctxTable, 1)
	switch v := sel.(type) {
	case lua.LNumber:
		s, ok, err := inst.reader.ReadUnicode(int(v))
		return pushRead(L, s, ok, err)
	case lua.LString:
		switch string(v) {
		case "*a", "*all":
			s, err := inst.reader.ReadAll()
			return pushRead(L, s, s != "", err)
		case "*l", "*line":
			s, ok, err := inst.reader.ReadLine()
			return pushRead(L, s, ok, err)
		}
	}
	L.ArgError(1, "invalid format")
	return 0
}

// getenv returns the environment value only when its name is allow-listed.
func (inst *instance) getenv(L *lua.LState) int {
	name := lua.LVAsString(skipSelf(L, inst.ctxTable, 1))
	if name == "" || !slices.Contains(inst.opts.AllowedEnv, name) {
		L.Push(lua.LNil)
		return 1
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

// skipSelf returns argument n, skipping a leading self argument so that
// both ctx.f(x) and ctx:f(x) spellings work.
func skipSelf(L *lua.LState, self *lua.LTable, n int) lua.LValue {
	if L.GetTop() >= 1 && L.Get(1) == self {
		return L.Get(n + 1)
	}
	return L.Get(n)
}

// ResponseValue returns the value a handler script assigned to
// ctx.response, or null.
func (e *Evaluation) ResponseValue() lmb.Value {
	if e.inst == nil {
		return lmb.Null
	}
	return e.inst.response
}
