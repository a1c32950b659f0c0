// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"zombiezen.com/go/log"
	lmb "lmb.256lights.llc/pkg"
)

// displayString renders a Lua value the way print joins its arguments:
// strings raw, tables as JSON, everything else through tostring.
func displayString(L *lua.LState, lv lua.LValue) string {
	switch v := lv.(type) {
	case *lua.LNilType:
		return "nil"
	case lua.LBool:
		return fmt.Sprintf("%v", bool(v))
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return v.String()
	case *lua.LTable:
		hv, err := fromLua(L, lv)
		if err == nil {
			return hv.String()
		}
		// Tables holding functions or cycles fall back to tostring.
		return tostring(L, lv)
	default:
		return tostring(L, lv)
	}
}

func tostring(L *lua.LState, lv lua.LValue) string {
	if s, ok := L.ToStringMeta(lv).(lua.LString); ok {
		return string(s)
	}
	return lv.String()
}

func joinArgs(L *lua.LState) string {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, displayString(L, L.Get(i)))
	}
	return strings.Join(parts, "\t")
}

// printGlobal writes the joined arguments and a newline to the evaluation
// output and mirrors the line to the host logger at info.
func (inst *instance) printGlobal(L *lua.LState) int {
	line := joinArgs(L)
	fmt.Fprintln(inst.output, line)
	log.Infof(inst.goCtx, "script: %s", line)
	return 0
}

// newIOTable builds the replacement io table: read over the evaluation
// input, write to the evaluation output, and a stderr handle.
func (inst *instance) newIOTable(L *lua.LState) *lua.LTable {
	ioTable := L.NewTable()
	ioTable.RawSetString("read", L.NewFunction(inst.ioRead))
	ioTable.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		for i := 1; i <= top; i++ {
			io.WriteString(inst.output, tostring(L, L.Get(i)))
		}
		return 0
	}))

	stderr := L.NewTable()
	stderr.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		// Skip a leading self argument from the io.stderr:write spelling.
		start := 1
		if top >= 1 && L.Get(1) == stderr {
			start = 2
		}
		for i := start; i <= top; i++ {
			parts = append(parts, tostring(L, L.Get(i)))
		}
		io.WriteString(inst.errOutput, strings.Join(parts, "\t"))
		return 0
	}))
	ioTable.RawSetString("stderr", stderr)
	return ioTable
}

// raiseKind raises a tagged Lua error.
func raiseKind(L *lua.LState, kind lmb.Kind, format string, args ...any) {
	L.RaiseError("%s", string(kind)+": "+fmt.Sprintf(format, args...))
}

// raiseError re-raises a host error inside the VM, preserving an existing
// kind tag.
func raiseError(L *lua.LState, err error) {
	var lerr *lmb.Error
	if errors.As(err, &lerr) {
		raiseKind(L, lerr.Kind, "%s", lerr.Message())
		return
	}
	L.RaiseError("%s", err.Error())
}

// raiseValue re-raises a Lua value (typically a rejection reason) without
// adding position information.
func raiseValue(L *lua.LState, reason lua.LValue) {
	if reason == lua.LNil {
		L.RaiseError("task rejected")
		return
	}
	L.RaiseError("%s", lua.LVAsString(L.ToStringMeta(reason)))
}
