// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"reflect"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

// An awaitable is a host-level suspension point: a timer or a native
// future. Yielding bindings hand one to native.await, which either blocks (on
// the main state) or yields it to the combinator driver (inside a
// coroutine). The driver resumes the owning coroutine with (ok, value) once
// the awaitable is ready.
type awaitable struct {
	// deadline is set for timers; ch for futures. Exactly one is used.
	deadline time.Time
	ch       chan asyncResult

	mu  sync.Mutex
	res *asyncResult
}

type asyncResult struct {
	// value builds the Lua result on the resuming state. It runs on the
	// scheduler goroutine, never on the producing goroutine.
	value func(L *lua.LState) lua.LValue
	err   error
}

func newTimer(d time.Duration) *awaitable {
	return &awaitable{deadline: time.Now().Add(d)}
}

func newFuture() *awaitable {
	return &awaitable{ch: make(chan asyncResult, 1)}
}

func (a *awaitable) isTimer() bool { return a.ch == nil }

// ready reports whether the awaitable can be consumed without blocking.
func (a *awaitable) ready() bool {
	if a.isTimer() {
		return !time.Now().Before(a.deadline)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.res != nil {
		return true
	}
	select {
	case r := <-a.ch:
		a.res = &r
		return true
	default:
		return false
	}
}

// wait blocks until the awaitable is ready or ctx is done.
func (a *awaitable) wait(ctx context.Context) error {
	if a.isTimer() {
		d := time.Until(a.deadline)
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	done := a.res != nil
	a.mu.Unlock()
	if done {
		return nil
	}
	select {
	case r := <-a.ch:
		a.mu.Lock()
		a.res = &r
		a.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// take returns the resume arguments for a ready awaitable: (true, value...)
// on fulfillment, (false, message) on rejection.
func (a *awaitable) take(L *lua.LState) []lua.LValue {
	if a.isTimer() {
		return []lua.LValue{lua.LTrue}
	}
	a.mu.Lock()
	res := a.res
	a.mu.Unlock()
	if res == nil {
		// ready() must be checked first; treat as spurious wake.
		return []lua.LValue{lua.LFalse, lua.LString("future not ready")}
	}
	if res.err != nil {
		return []lua.LValue{lua.LFalse, lua.LString(res.err.Error())}
	}
	if res.value == nil {
		return []lua.LValue{lua.LTrue}
	}
	return []lua.LValue{lua.LTrue, res.value(L)}
}

func checkAwaitable(L *lua.LState, n int) *awaitable {
	ud := L.CheckUserData(n)
	a, ok := ud.Value.(*awaitable)
	if !ok {
		L.ArgError(n, "expected pending operation")
		return nil
	}
	return a
}

func isAwaitable(lv lua.LValue) (*awaitable, bool) {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	a, ok := ud.Value.(*awaitable)
	return a, ok
}

// awaitNative implements the hidden native.await primitive used by the
// prelude wrappers. On the main state it blocks; inside a coroutine it
// yields the awaitable to the driver, whose resume arguments then become
// awaitNative's results.
func (inst *instance) awaitNative(L *lua.LState) int {
	a := checkAwaitable(L, 1)
	if L != inst.root {
		ud := L.NewUserData()
		ud.Value = a
		return L.Yield(ud)
	}
	if err := a.wait(L.Context()); err != nil {
		raiseKind(L, lmb.KindTimeout, "interrupted while waiting")
		return 0
	}
	args := a.take(L)
	for _, arg := range args {
		L.Push(arg)
	}
	return len(args)
}

// sleepStart returns a timer awaitable for at least ms milliseconds.
func (inst *instance) sleepStart(L *lua.LState) int {
	ms := L.CheckNumber(1)
	if ms < 0 {
		ms = 0
	}
	ud := L.NewUserData()
	ud.Value = newTimer(time.Duration(float64(ms) * float64(time.Millisecond)))
	L.Push(ud)
	return 1
}

// A combinator drives a set of coroutine tasks to its completion predicate.
type task struct {
	thread     lua.LValue
	resumeArgs []lua.LValue
	await      *awaitable

	done     bool
	rejected bool
	result   lua.LValue // first returned value on fulfillment
	reason   lua.LValue // rejection reason
}

type driver struct {
	inst   *instance
	L      *lua.LState
	resume *lua.LFunction
	status *lua.LFunction
	tasks  []*task
}

func newDriver(inst *instance, L *lua.LState, threads *lua.LTable) (*driver, error) {
	co, ok := L.GetGlobal("coroutine").(*lua.LTable)
	if !ok {
		return nil, lmb.NewError(lmb.KindRuntime, "coroutine library is not available")
	}
	resume, ok := co.RawGetString("resume").(*lua.LFunction)
	if !ok {
		return nil, lmb.NewError(lmb.KindRuntime, "coroutine.resume is not available")
	}
	status, ok := co.RawGetString("status").(*lua.LFunction)
	if !ok {
		return nil, lmb.NewError(lmb.KindRuntime, "coroutine.status is not available")
	}
	d := &driver{inst: inst, L: L, resume: resume, status: status}
	var argErr error
	threads.ForEach(func(_, v lua.LValue) {
		if argErr != nil {
			return
		}
		if v.Type() != lua.LTThread {
			argErr = lmb.NewError(lmb.KindRuntime, "expected a coroutine, got %s", v.Type().String())
			return
		}
		d.tasks = append(d.tasks, &task{thread: v})
	})
	if argErr != nil {
		return nil, argErr
	}
	return d, nil
}

// call invokes fn protected and returns its results.
func (d *driver) call(fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	top := d.L.GetTop()
	err := d.L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...)
	if err != nil {
		return nil, err
	}
	n := d.L.GetTop() - top
	rets := make([]lua.LValue, n)
	for i := range n {
		rets[i] = d.L.Get(top + 1 + i)
	}
	d.L.SetTop(top)
	return rets, nil
}

// step resumes task t once and records the outcome.
func (d *driver) step(t *task) error {
	args := append([]lua.LValue{t.thread}, t.resumeArgs...)
	t.resumeArgs = nil
	rets, err := d.call(d.resume, args...)
	if err != nil {
		return err
	}
	if len(rets) == 0 || lua.LVIsFalse(rets[0]) {
		t.done = true
		t.rejected = true
		t.reason = lua.LNil
		if len(rets) > 1 {
			t.reason = rets[1]
		}
		return nil
	}
	st, err := d.call(d.status, t.thread)
	if err != nil {
		return err
	}
	if len(st) > 0 && st[0] == lua.LString("dead") {
		t.done = true
		t.result = lua.LNil
		if len(rets) > 1 {
			t.result = rets[1]
		}
		return nil
	}
	// Suspended. A yielded awaitable parks the task; any other yield
	// reschedules it immediately with no resume arguments.
	if len(rets) > 1 {
		if a, ok := isAwaitable(rets[1]); ok {
			t.await = a
		}
	}
	return nil
}

// run drives tasks until stop reports the run is finished. Tasks are
// resumed round-robin in input order, so completions within one tick keep
// input order.
func (d *driver) run(stop func() bool) error {
	for !stop() {
		if err := d.L.Context().Err(); err != nil {
			return timeoutError(err)
		}
		progressed := false
		for _, t := range d.tasks {
			if t.done {
				continue
			}
			if t.await != nil {
				if !t.await.ready() {
					continue
				}
				t.resumeArgs = t.await.take(d.L)
				t.await = nil
			}
			if err := d.step(t); err != nil {
				return err
			}
			progressed = true
			if stop() {
				return nil
			}
		}
		if !progressed {
			if d.allDone() {
				return nil
			}
			if err := d.idle(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *driver) allDone() bool {
	for _, t := range d.tasks {
		if !t.done {
			return false
		}
	}
	return true
}

// idle blocks until some parked awaitable may have become ready.
func (d *driver) idle() error {
	ctx := d.L.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var nearest time.Time
	cases := []reflect.SelectCase{{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	}}
	futures := []*task{}
	for _, t := range d.tasks {
		if t.done || t.await == nil {
			continue
		}
		if t.await.isTimer() {
			if nearest.IsZero() || t.await.deadline.Before(nearest) {
				nearest = t.await.deadline
			}
		} else {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(t.await.ch),
			})
			futures = append(futures, t)
		}
	}

	var timer *time.Timer
	if !nearest.IsZero() {
		timer = time.NewTimer(time.Until(nearest))
		defer timer.Stop()
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(timer.C),
		})
	}
	if len(cases) == 1 {
		// Nothing to wait for: every runnable task is dead and no task is
		// parked. Treated as completion by the caller.
		return nil
	}

	chosen, recv, recvOK := reflect.Select(cases)
	switch {
	case chosen == 0:
		return timeoutError(ctx.Err())
	case timer != nil && chosen == len(cases)-1:
		return nil
	default:
		t := futures[chosen-1]
		if recvOK {
			r := recv.Interface().(asyncResult)
			t.await.mu.Lock()
			t.await.res = &r
			t.await.mu.Unlock()
		}
		return nil
	}
}

func timeoutError(err error) error {
	if err == context.Canceled {
		return lmb.WrapError(lmb.KindShutdown, err)
	}
	return lmb.WrapError(lmb.KindTimeout, err)
}

// joinAll waits for every task; results keep input order. The first
// rejection aborts the whole call; remaining tasks are abandoned.
func (inst *instance) joinAll(L *lua.LState) int {
	d, err := newDriver(inst, L, L.CheckTable(1))
	if err != nil {
		raiseError(L, err)
		return 0
	}
	var rejection *task
	err = d.run(func() bool {
		for _, t := range d.tasks {
			if t.rejected {
				rejection = t
				return true
			}
		}
		return d.allDone()
	})
	if err != nil {
		raiseError(L, err)
		return 0
	}
	if rejection != nil {
		raiseValue(L, rejection.reason)
		return 0
	}
	out := L.NewTable()
	for _, t := range d.tasks {
		out.Append(t.result)
	}
	L.Push(out)
	return 1
}

// allSettled waits for every task and never errors; each slot reports
// status plus value or reason, index-stable.
func (inst *instance) allSettled(L *lua.LState) int {
	d, err := newDriver(inst, L, L.CheckTable(1))
	if err != nil {
		raiseError(L, err)
		return 0
	}
	if err := d.run(d.allDone); err != nil {
		raiseError(L, err)
		return 0
	}
	out := L.NewTable()
	for _, t := range d.tasks {
		entry := L.NewTable()
		if t.rejected {
			entry.RawSetString("status", lua.LString("rejected"))
			entry.RawSetString("reason", t.reason)
		} else {
			entry.RawSetString("status", lua.LString("fulfilled"))
			entry.RawSetString("value", t.result)
		}
		out.Append(entry)
	}
	L.Push(out)
	return 1
}

// race returns the first fulfilled value. If every task rejects, the last
// rejection is raised. An empty task set returns nil.
func (inst *instance) race(L *lua.LState) int {
	d, err := newDriver(inst, L, L.CheckTable(1))
	if err != nil {
		raiseError(L, err)
		return 0
	}
	if len(d.tasks) == 0 {
		L.Push(lua.LNil)
		return 1
	}
	var winner *task
	err = d.run(func() bool {
		for _, t := range d.tasks {
			if t.done && !t.rejected {
				winner = t
				return true
			}
		}
		return d.allDone()
	})
	if err != nil {
		raiseError(L, err)
		return 0
	}
	if winner != nil {
		L.Push(winner.result)
		return 1
	}
	var last lua.LValue = lua.LNil
	for _, t := range d.tasks {
		if t.rejected {
			last = t.reason
		}
	}
	raiseValue(L, last)
	return 0
}
