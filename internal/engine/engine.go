// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

// Package engine binds an evaluation context to a sandboxed Lua VM, runs a
// script, and extracts its return value with deterministic type mapping.
package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"zombiezen.com/go/log"
	lmb "lmb.256lights.llc/pkg"
)

// DefaultTimeout bounds an evaluation when [Options.Timeout] is zero.
const DefaultTimeout = 30 * time.Second

// Options are the immutable inputs bound at evaluation construction time.
type Options struct {
	// Source is the script to run.
	Source *lmb.Source
	// Input is the byte stream behind io.read. May be nil.
	Input io.Reader
	// Store is the persistent store behind ctx.store. Absent when nil.
	Store *lmb.Store
	// State is exposed read-only as ctx.state. Absent when null.
	State lmb.Value
	// Request is exposed as ctx.request in handler mode. Absent when nil.
	Request *Request
	// Timeout is the watchdog budget per invocation.
	Timeout time.Duration
	// AllowedEnv lists the environment variable names ctx:getenv may read.
	AllowedEnv []string
	// AllowedFSRoots restricts @lmb/fs to paths under the listed roots.
	// A nil slice leaves the filesystem unrestricted; an empty non-nil
	// slice denies everything.
	AllowedFSRoots []string
	// Output receives print and io.write output. Defaults to os.Stdout.
	Output io.Writer
	// Errout receives io.stderr output. Defaults to os.Stderr.
	Errout io.Writer
	// HTTPClient overrides the client used by @lmb/http.
	HTTPClient *http.Client
	// RegistryMaxSize overrides the VM registry growth cap.
	RegistryMaxSize int
}

// Request is the request object exposed to handler scripts. Header names
// are lowercased; the body is consumed through io.read.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
}

// Value converts the request to the table shape scripts observe.
func (r *Request) Value() lmb.Value {
	m := lmb.NewMap()
	m.SetString("method", lmb.String(r.Method))
	m.SetString("path", lmb.String(r.Path))
	query := lmb.NewMap()
	for key, values := range r.Query {
		if len(values) == 1 {
			query.SetString(key, lmb.String(values[0]))
			continue
		}
		seq := make([]lmb.Value, 0, len(values))
		for _, v := range values {
			seq = append(seq, lmb.String(v))
		}
		query.SetString(key, lmb.Sequence(seq))
	}
	m.SetString("query", lmb.MapValue(query))
	headers := lmb.NewMap()
	for key, value := range r.Headers {
		headers.SetString(strings.ToLower(key), lmb.String(value))
	}
	m.SetString("headers", lmb.MapValue(headers))
	return lmb.MapValue(m)
}

// Result is the outcome of one invocation.
type Result struct {
	// Value is the script's return value mapped through the value codec.
	Value lmb.Value
	// Duration is the wall-clock evaluation time.
	Duration time.Duration
}

// instance is the per-invocation mutable state shared by the bindings.
type instance struct {
	opts     *Options
	root     *lua.LState
	goCtx    context.Context
	reader   *lmb.Reader
	output   io.Writer
	errOutput io.Writer

	ctxTable       *lua.LTable
	wrappers       *lua.LTable
	modules        map[string]lua.LValue
	moduleBuilders map[string]func(*lua.LState) lua.LValue

	// files tracks open @lmb/fs handles for deterministic release at
	// evaluation end.
	files []*fileHandle
	// updating guards against re-entrant ctx.store:update.
	updating bool
	// response is the value of ctx.response at evaluation end.
	response lmb.Value
}

// Evaluation is a compiled script plus its bound context. It may be invoked
// repeatedly; the input reader picks up where the previous invocation
// stopped.
type Evaluation struct {
	opts   Options
	proto  *lua.FunctionProto
	reader *lmb.Reader
	inst   *instance
}

// New compiles the script and prepares an evaluation. Compilation failures
// surface as syntax errors.
func New(opts Options) (*Evaluation, error) {
	if opts.Source == nil {
		return nil, lmb.NewError(lmb.KindSyntax, "no script source")
	}
	name := opts.Source.Name
	if name == "" {
		name = "script"
	}
	chunk, err := parse.Parse(strings.NewReader(opts.Source.Script), name)
	if err != nil {
		return nil, lmb.WrapError(lmb.KindSyntax, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, lmb.WrapError(lmb.KindSyntax, err)
	}
	return &Evaluation{
		opts:   opts,
		proto:  proto,
		reader: lmb.NewReader(opts.Input),
	}, nil
}

// Check parses and compiles source without running it.
func Check(source *lmb.Source) error {
	_, err := New(Options{Source: source})
	return err
}

// Invoke runs the script once. The execution protocol: run the chunk; when
// it returns a callable, call it with the context table; the final value is
// mapped through the value codec. A watchdog interrupts the VM when the
// timeout budget is exceeded.
func (e *Evaluation) Invoke(ctx context.Context) (*Result, error) {
	timeout := e.opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inst := &instance{
		opts:      &e.opts,
		goCtx:     wctx,
		reader:    e.reader,
		output:    e.opts.Output,
		errOutput: e.opts.Errout,
	}
	if inst.output == nil {
		inst.output = os.Stdout
	}
	if inst.errOutput == nil {
		inst.errOutput = os.Stderr
	}

	L, err := inst.newVM()
	if err != nil {
		return nil, err
	}
	defer L.Close()
	inst.root = L
	inst.ctxTable = inst.buildCtx(L)
	inst.registerModules(L)
	e.inst = inst

	L.SetContext(wctx)
	defer inst.releaseResources()

	start := time.Now()
	value, runErr := inst.runScript(L, e.proto)
	elapsed := time.Since(start)

	if runErr != nil {
		return nil, classifyError(wctx, ctx, runErr)
	}
	// Capture ctx.response while the VM is still alive; handler mode reads
	// it after Invoke returns.
	if lv := inst.ctxTable.RawGetString("response"); lv != lua.LNil {
		if v, err := fromLua(L, lv); err == nil {
			inst.response = v
		}
	}
	log.Debugf(ctx, "Evaluated %s in %v", e.opts.Source.Name, elapsed)
	return &Result{Value: value, Duration: elapsed}, nil
}

func (inst *instance) runScript(L *lua.LState, proto *lua.FunctionProto) (lmb.Value, error) {
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return lmb.Null, err
	}
	ret := L.Get(-1)
	L.Pop(1)

	if fn, ok := ret.(*lua.LFunction); ok {
		L.Push(fn)
		L.Push(inst.ctxTable)
		if err := L.PCall(1, 1, nil); err != nil {
			return lmb.Null, err
		}
		ret = L.Get(-1)
		L.Pop(1)
	}

	value, err := fromLua(L, ret)
	if err != nil {
		// A top-level return that is neither callable nor representable
		// violates the execution protocol.
		if ret.Type() == lua.LTUserData || ret.Type() == lua.LTThread || ret.Type() == lua.LTChannel {
			return lmb.Null, lmb.NewError(lmb.KindExpectCallableReturn, "top-level return is a %s", ret.Type().String())
		}
		return lmb.Null, err
	}
	return value, nil
}

// releaseResources closes anything the script left open, before the return
// value is yielded to the host.
func (inst *instance) releaseResources() {
	for _, fh := range inst.files {
		if !fh.closed {
			fh.close()
		}
	}
	inst.files = nil
}

// classifyError maps a raw invocation error to the stable taxonomy.
func classifyError(wctx, parent context.Context, err error) error {
	var lerr *lmb.Error
	if errors.As(err, &lerr) {
		return lerr
	}
	if wctx.Err() != nil {
		if parent.Err() != nil {
			return lmb.WrapError(lmb.KindShutdown, err)
		}
		return lmb.WrapError(lmb.KindTimeout, err)
	}
	msg := err.Error()
	if kind := lmb.KindOf(err); kind != lmb.KindRuntime {
		return &lmb.Error{Kind: kind, Msg: msg}
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Type == lua.ApiErrorSyntax {
		return lmb.WrapError(lmb.KindSyntax, err)
	}
	return &lmb.Error{Kind: lmb.KindRuntime, Msg: msg}
}
