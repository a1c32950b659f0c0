// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

// httpResponse is the host-side result of a completed fetch. The body is
// fully read on the request goroutine so the Lua side never blocks on the
// network outside a suspension point.
type httpResponse struct {
	status  int
	headers map[string]string
	body    []byte
}

// newHTTPModule builds @lmb/http: a fetch-like asynchronous client plus
// the parse_path pattern matcher.
func (inst *instance) newHTTPModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	fetch := inst.wrappers.RawGetString("fetch")
	mod.RawSetString("fetch", L.NewFunction(func(L *lua.LState) int {
		// Accept both http:fetch(url, opts) and http.fetch(url, opts).
		start := 1
		if L.Get(1) == mod {
			start = 2
		}
		top := L.GetTop()
		L.Push(fetch)
		for i := start; i <= top; i++ {
			L.Push(L.Get(i))
		}
		L.Call(top-start+1, 1)
		return 1
	}))
	mod.RawSetString("parse_path", L.NewFunction(parsePath))
	return mod
}

// fetchStart validates the request, launches it on its own goroutine, and
// returns the awaitable the prelude wrapper suspends on.
func (inst *instance) fetchStart(L *lua.LState) int {
	rawURL := L.CheckString(1)
	var options *lua.LTable
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		options = L.CheckTable(2)
	}

	method := http.MethodGet
	var headers map[string]string
	var body []byte
	if options != nil {
		if m, ok := options.RawGetString("method").(lua.LString); ok {
			method = strings.ToUpper(string(m))
		}
		if h, ok := options.RawGetString("headers").(*lua.LTable); ok {
			headers = make(map[string]string)
			h.ForEach(func(k, v lua.LValue) {
				headers[lua.LVAsString(k)] = lua.LVAsString(L.ToStringMeta(v))
			})
		}
		switch b := options.RawGetString("body").(type) {
		case *lua.LNilType:
		case lua.LString:
			body = []byte(b)
		default:
			// Container bodies are JSON-serialized.
			v, err := fromLua(L, b)
			if err != nil {
				raiseError(L, err)
				return 0
			}
			data, err := v.AppendJSON(nil)
			if err != nil {
				raiseError(L, err)
				return 0
			}
			body = data
		}
	}

	req, err := http.NewRequestWithContext(inst.goCtx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		raiseKind(L, lmb.KindHTTPRequestFailed, "%v", err)
		return 0
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := inst.opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	fut := newFuture()
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			fut.ch <- asyncResult{err: lmb.WrapError(lmb.KindHTTPRequestFailed, err)}
			return
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			fut.ch <- asyncResult{err: lmb.WrapError(lmb.KindHTTPRequestFailed, err)}
			return
		}
		hr := &httpResponse{
			status:  resp.StatusCode,
			headers: make(map[string]string, len(resp.Header)),
			body:    data,
		}
		for name := range resp.Header {
			hr.headers[strings.ToLower(name)] = resp.Header.Get(name)
		}
		fut.ch <- asyncResult{value: func(L *lua.LState) lua.LValue {
			return newResponseTable(L, hr)
		}}
	}()

	ud := L.NewUserData()
	ud.Value = fut
	L.Push(ud)
	return 1
}

// newResponseTable builds the response object: status, ok, lowercased
// headers, and the text/json/bytes accessors.
func newResponseTable(L *lua.LState, hr *httpResponse) lua.LValue {
	tbl := L.NewTable()
	tbl.RawSetString("status", lua.LNumber(hr.status))
	tbl.RawSetString("ok", lua.LBool(hr.status < 400))
	headers := L.NewTable()
	for name, value := range hr.headers {
		headers.RawSetString(name, lua.LString(value))
	}
	tbl.RawSetString("headers", headers)
	tbl.RawSetString("text", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(hr.body))
		return 1
	}))
	tbl.RawSetString("bytes", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(hr.body))
		return 1
	}))
	tbl.RawSetString("json", L.NewFunction(func(L *lua.LState) int {
		v, err := lmb.FromJSON(hr.body)
		if err != nil {
			raiseKind(L, lmb.KindHTTPDecodeFailed, "response body is not JSON")
			return 0
		}
		L.Push(toLua(L, v))
		return 1
	}))
	return tbl
}

// parsePath matches a path against a pattern with {name} segment captures
// and a {*name} catch-all. It returns the capture table, {} when a pattern
// without captures matches, and nil otherwise.
func parsePath(L *lua.LState) int {
	path := L.CheckString(1)
	pattern := L.CheckString(2)

	captures, ok := matchPath(path, pattern)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	tbl := L.NewTable()
	for name, value := range captures {
		tbl.RawSetString(name, lua.LString(value))
	}
	L.Push(tbl)
	return 1
}

func matchPath(path, pattern string) (map[string]string, bool) {
	pathSegs := splitPath(path)
	patSegs := splitPath(pattern)
	captures := make(map[string]string)

	for i, seg := range patSegs {
		if strings.HasPrefix(seg, "{*") && strings.HasSuffix(seg, "}") {
			// Catch-all must be the final pattern segment; it captures the
			// remainder including separators.
			if i != len(patSegs)-1 {
				return nil, false
			}
			if len(pathSegs) < i {
				return nil, false
			}
			name := seg[2 : len(seg)-1]
			captures[name] = strings.Join(pathSegs[i:], "/")
			return captures, true
		}
		if i >= len(pathSegs) {
			return nil, false
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := seg[1 : len(seg)-1]
			if pathSegs[i] == "" {
				return nil, false
			}
			captures[name] = pathSegs[i]
			continue
		}
		if seg != pathSegs[i] {
			return nil, false
		}
	}
	if len(pathSegs) != len(patSegs) {
		return nil, false
	}
	return captures, true
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
