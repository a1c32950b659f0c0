// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package httpserve

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	lmb "lmb.256lights.llc/pkg"
	"lmb.256lights.llc/pkg/internal/testcontext"
)

func newTestServer(t *testing.T, script string) *httptest.Server {
	t.Helper()
	ctx, cancel := testcontext.New(t)
	t.Cleanup(cancel)
	store, err := lmb.OpenMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	srv := httptest.NewServer(NewHandler(&Options{
		Source: lmb.ParseSource("handler", script),
		Store:  store,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEchoRequest(t *testing.T) {
	srv := newTestServer(t, `
		return function(ctx)
			return {
				method = ctx.request.method,
				path = ctx.request.path,
				content_type = ctx.request.headers['content-type'],
				q = ctx.request.query.q,
				body = io.read('*a'),
			}
		end
	`)
	res, err := http.Post(srv.URL+"/foo/bar/baz?q=1", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q; want application/json", ct)
	}
	var got map[string]any
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"method":       "POST",
		"path":         "/foo/bar/baz",
		"content_type": "application/json",
		"q":            "1",
		"body":         `{"a":1}`,
	}
	for key, wantValue := range want {
		if got[key] != wantValue {
			t.Errorf("%s = %v; want %v", key, got[key], wantValue)
		}
	}
}

func TestResponseObjectFromContext(t *testing.T) {
	srv := newTestServer(t, `
		return function(ctx)
			ctx.response = {
				status_code = 418,
				headers = { whoami = "a teapot", quantity = 1 },
			}
			return "I'm a teapot."
		end
	`)
	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d; want 418", res.StatusCode)
	}
	if got := res.Header.Get("Whoami"); got != "a teapot" {
		t.Errorf("whoami header = %q", got)
	}
	if got := res.Header.Get("Quantity"); got != "1" {
		t.Errorf("quantity header = %q", got)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "I'm a teapot." {
		t.Errorf("body = %q", body)
	}
}

func TestReturnedResponseObject(t *testing.T) {
	srv := newTestServer(t, `
		return function(ctx)
			return { status_code = 201, body = "created" }
		end
	`)
	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Errorf("status = %d; want 201", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "created" {
		t.Errorf("body = %q", body)
	}
}

func TestBase64Body(t *testing.T) {
	srv := newTestServer(t, `
		return function(ctx)
			return { status_code = 200, body = "aGVsbG8=", is_base64_encoded = true }
		end
	`)
	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q; want hello", body)
	}
}

func TestPlainValueBodies(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantBody string
		wantCT   string
	}{
		{"string is raw", `return 'hello'`, "hello", ""},
		{"number is JSON", `return 1`, "1", ""},
		{"table is JSON", `return { a = 1 }`, `{"a":1}`, "application/json"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := newTestServer(t, test.script)
			res, err := http.Get(srv.URL + "/")
			if err != nil {
				t.Fatal(err)
			}
			defer res.Body.Close()
			body, _ := io.ReadAll(res.Body)
			if string(body) != test.wantBody {
				t.Errorf("body = %q; want %q", body, test.wantBody)
			}
			if test.wantCT != "" && res.Header.Get("Content-Type") != test.wantCT {
				t.Errorf("content-type = %q; want %q", res.Header.Get("Content-Type"), test.wantCT)
			}
		})
	}
}

func TestScriptErrorMapsTo500(t *testing.T) {
	srv := newTestServer(t, `error('handler exploded')`)
	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d; want 500", res.StatusCode)
	}
}

func TestBadStatusCodeMapsTo500(t *testing.T) {
	srv := newTestServer(t, `
		return function(ctx)
			ctx.response = { status_code = 10000 }
			return "hello"
		end
	`)
	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d; want 500", res.StatusCode)
	}
}

func TestStorePersistsAcrossRequests(t *testing.T) {
	srv := newTestServer(t, `
		return function(ctx)
			return ctx.store:update({ hits = 0 }, function(values)
				values.hits = values.hits + 1
				return values.hits
			end)
		end
	`)
	for _, want := range []string{"1", "2", "3"} {
		res, err := http.Get(srv.URL + "/")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if string(body) != want {
			t.Errorf("hit count = %q; want %q", body, want)
		}
	}
}
