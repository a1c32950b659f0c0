// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"context"

	lua "github.com/yuin/gopher-lua"
	"zombiezen.com/go/log"
)

// newLoggingModule builds @lmb/logging. Arguments are joined the way print
// joins them and routed to the host logger; the host's level filter decides
// what actually gets emitted. The logger has no trace level, so trace rides
// on debug.
func (inst *instance) newLoggingModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	emit := func(logf func(ctx context.Context, format string, args ...any)) lua.LGFunction {
		return func(L *lua.LState) int {
			logf(inst.goCtx, "%s", joinArgs(L))
			return 0
		}
	}
	mod.RawSetString("error", L.NewFunction(emit(log.Errorf)))
	mod.RawSetString("warn", L.NewFunction(emit(log.Warnf)))
	mod.RawSetString("info", L.NewFunction(emit(log.Infof)))
	mod.RawSetString("debug", L.NewFunction(emit(log.Debugf)))
	mod.RawSetString("trace", L.NewFunction(emit(log.Debugf)))
	return mod
}
