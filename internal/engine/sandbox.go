// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	_ "embed"

	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

//go:embed prelude.lua
var preludeSource string

// Defaults for the VM resource limits. Registry growth is what pathological
// scripts hit first in gopher-lua, so the maximum is capped while the
// initial size stays modest.
const (
	defaultCallStackSize   = 256
	defaultRegistrySize    = 1024 * 8
	defaultRegistryMaxSize = 1024 * 512
)

// newVM constructs the sandboxed Lua state for one evaluation: standard
// libraries minus ambient OS and I/O access, the replacement io table wired
// to the input reader, print routed to the evaluation output, the @lmb
// module registry behind require, and the prelude's yielding wrappers.
func (inst *instance) newVM() (*lua.LState, error) {
	opts := lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   defaultCallStackSize,
		RegistrySize:    defaultRegistrySize,
		RegistryMaxSize: defaultRegistryMaxSize,
	}
	if inst.opts.RegistryMaxSize > 0 {
		opts.RegistryMaxSize = inst.opts.RegistryMaxSize
	}
	L := lua.NewState(opts)

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	// No ambient filesystem or process access: dofile and loadfile reach
	// the disk, os and io never get opened, and the io table is replaced
	// below with one that only reads the evaluation input.
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	L.SetGlobal("print", L.NewFunction(inst.printGlobal))
	L.SetGlobal("io", inst.newIOTable(L))

	native := L.NewTable()
	native.RawSetString("await", L.NewFunction(inst.awaitNative))
	native.RawSetString("sleep_start", L.NewFunction(inst.sleepStart))
	native.RawSetString("fetch_start", L.NewFunction(inst.fetchStart))
	wrappers, err := loadPrelude(L, native)
	if err != nil {
		return nil, err
	}
	inst.wrappers = wrappers

	L.SetGlobal("sleep_ms", wrappers.RawGetString("sleep_ms"))
	L.SetGlobal("require", L.NewFunction(inst.requireGlobal))

	return L, nil
}

func loadPrelude(L *lua.LState, native *lua.LTable) (*lua.LTable, error) {
	fn, err := L.LoadString(preludeSource)
	if err != nil {
		return nil, lmb.WrapError(lmb.KindRuntime, err)
	}
	L.Push(fn)
	L.Push(native)
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, lmb.WrapError(lmb.KindRuntime, err)
	}
	wrappers, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		return nil, lmb.NewError(lmb.KindRuntime, "prelude did not return a table")
	}
	return wrappers, nil
}

// requireGlobal serves the fixed registry of host modules. Standard library
// tables already present as globals resolve to themselves so that
// require('string') and friends keep working.
func (inst *instance) requireGlobal(L *lua.LState) int {
	name := L.CheckString(1)
	if mod, ok := inst.modules[name]; ok {
		L.Push(mod)
		return 1
	}
	if builder, ok := inst.moduleBuilders[name]; ok {
		mod := builder(L)
		inst.modules[name] = mod
		L.Push(mod)
		return 1
	}
	switch name {
	case "string", "table", "math", "coroutine":
		L.Push(L.GetGlobal(name))
		return 1
	}
	raiseKind(L, lmb.KindModuleNotFound, "module %q not found", name)
	return 0
}

func (inst *instance) registerModules(L *lua.LState) {
	inst.modules = map[string]lua.LValue{
		"@lmb": inst.ctxTable,
	}
	inst.moduleBuilders = map[string]func(*lua.LState) lua.LValue{
		"@lmb/coroutine": inst.newCoroutineModule,
		"@lmb/crypto":    newCryptoModule,
		"@lmb/http":      inst.newHTTPModule,
		"@lmb/fs":        inst.newFSModule,
		"@lmb/json":      newJSONModule,
		"@lmb/toml":      newTOMLModule,
		"@lmb/yaml":      newYAMLModule,
		"@lmb/json-path": newJSONPathModule,
		"@lmb/logging":   inst.newLoggingModule,
	}
}

func (inst *instance) newCoroutineModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	mod.RawSetString("join_all", L.NewFunction(inst.joinAll))
	mod.RawSetString("all_settled", L.NewFunction(inst.allSettled))
	mod.RawSetString("race", L.NewFunction(inst.race))
	return mod
}
