// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

// newStoreFacade exposes ctx.store: indexing reads, assignment writes, and
// :update enters a scripted transaction.
func (inst *instance) newStoreFacade(L *lua.LState) lua.LValue {
	ud := L.NewUserData()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(inst.storeIndex))
	mt.RawSetString("__newindex", L.NewFunction(inst.storeNewIndex))
	L.SetMetatable(ud, mt)
	return ud
}

func (inst *instance) storeIndex(L *lua.LState) int {
	key := L.CheckString(2)
	if key == "update" {
		L.Push(L.NewFunction(inst.storeUpdate))
		return 1
	}
	v, found, err := inst.opts.Store.Get(inst.goCtx, key)
	if err != nil {
		raiseError(L, err)
		return 0
	}
	if !found {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, v))
	return 1
}

func (inst *instance) storeNewIndex(L *lua.LState) int {
	key := L.CheckString(2)
	value, err := fromLua(L, L.Get(3))
	if err != nil {
		raiseError(L, err)
		return 0
	}
	if err := inst.opts.Store.Put(inst.goCtx, key, value); err != nil {
		raiseError(L, err)
		return 0
	}
	return 0
}

// storeUpdate implements ctx.store:update(spec, fn, defaults?).
//
// The spec is a mixed table: positional entries name keys to load, named
// entries supply load-or-default values. The optional trailing defaults
// list provides defaults for positional entries in matching order; when
// both spell a default for the same key, the inline named entry wins.
func (inst *instance) storeUpdate(L *lua.LState) int {
	// Called as store:update(...), so argument 1 is the facade itself.
	specTable := L.CheckTable(2)
	fn := L.CheckFunction(3)
	var defaults *lua.LTable
	if L.GetTop() >= 4 && L.Get(4) != lua.LNil {
		defaults = L.CheckTable(4)
	}

	spec, err := parseUpdateSpec(L, specTable, defaults)
	if err != nil {
		raiseError(L, err)
		return 0
	}

	if inst.updating {
		raiseKind(L, lmb.KindReentrantUpdate, "update is already in progress")
		return 0
	}
	inst.updating = true
	defer func() { inst.updating = false }()

	var returned lua.LValue = lua.LNil
	err = inst.opts.Store.Update(inst.goCtx, spec, func(view *lmb.Map) error {
		snapshot := newSnapshot(L, view)
		top := L.GetTop()
		if cerr := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, snapshot); cerr != nil {
			return cerr
		}
		returned = L.Get(-1)
		L.SetTop(top)
		return nil
	})
	if err != nil {
		// The transaction rolled back; re-raise with the original reason.
		raiseError(L, err)
		return 0
	}
	L.Push(returned)
	return 1
}

func parseUpdateSpec(L *lua.LState, specTable, defaults *lua.LTable) ([]lmb.UpdateKey, error) {
	var spec []lmb.UpdateKey
	byName := make(map[string]int)
	var parseErr error

	// Positional entries first, in order.
	n := specTable.Len()
	for i := 1; i <= n; i++ {
		entry := specTable.RawGetInt(i)
		name, ok := entry.(lua.LString)
		if !ok {
			return nil, lmb.NewError(lmb.KindRuntime, "update spec entry %d: expected key name, got %s", i, entry.Type().String())
		}
		key := lmb.UpdateKey{Name: string(name)}
		if defaults != nil {
			if dv := defaults.RawGetInt(i); dv != lua.LNil {
				d, err := fromLua(L, dv)
				if err != nil {
					return nil, err
				}
				key.Default = d
				key.HasDefault = true
			}
		}
		byName[key.Name] = len(spec)
		spec = append(spec, key)
	}

	// Named entries: name = default. Inline defaults win over the
	// positional defaults list.
	specTable.ForEach(func(k, v lua.LValue) {
		if parseErr != nil {
			return
		}
		if _, isNum := k.(lua.LNumber); isNum {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			parseErr = lmb.NewError(lmb.KindRuntime, "update spec key must be a string, got %s", k.Type().String())
			return
		}
		d, err := fromLua(L, v)
		if err != nil {
			parseErr = err
			return
		}
		key := lmb.UpdateKey{Name: string(name), Default: d, HasDefault: true}
		if i, seen := byName[key.Name]; seen {
			spec[i] = key
			return
		}
		byName[key.Name] = len(spec)
		spec = append(spec, key)
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return spec, nil
}

// newSnapshot wraps the update view: indexing reads the loaded values,
// assignment stages writes that persist at commit.
func newSnapshot(L *lua.LState, view *lmb.Map) lua.LValue {
	ud := L.NewUserData()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		v, ok := view.GetString(key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, v))
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		v, err := fromLua(L, L.Get(3))
		if err != nil {
			raiseError(L, err)
			return 0
		}
		view.SetString(key, v)
		return 0
	}))
	L.SetMetatable(ud, mt)
	return ud
}
