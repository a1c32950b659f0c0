// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"strings"
	"testing"

	lmb "lmb.256lights.llc/pkg"
	"lmb.256lights.llc/pkg/internal/testcontext"
)

func TestStoreFacadeGetPut(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newEngineStore(t)
	if err := store.Put(ctx, "a", lmb.Float(1.23)); err != nil {
		t.Fatal(err)
	}

	got := mustRun(t, `
		local m = require('@lmb')
		local a = m.store.a
		assert(not m.store.b)
		m.store.a = 4.56
		return a
	`, Options{Store: store})
	if !got.Equal(lmb.Float(1.23)) {
		t.Errorf("result = %v; want 1.23", got)
	}
	if v, _, _ := store.Get(ctx, "a"); !v.Equal(lmb.Float(4.56)) {
		t.Errorf("a = %v after write; want 4.56", v)
	}
	if _, found, _ := store.Get(ctx, "b"); found {
		t.Error("b exists")
	}
}

func TestStoreFacadeAbsentWithoutStore(t *testing.T) {
	got := mustRun(t, "return function(ctx) return ctx.store == nil end", Options{})
	if !got.Bool() {
		t.Error("ctx.store present without a bound store")
	}
}

func TestStoreUpdateScenario(t *testing.T) {
	// With a=20 pre-set, update({'a', b=0}) setting a=10,b=10 commits
	// both; a raising callback leaves a=20 and b absent.
	ctx, cancel := testcontext.New(t)
	defer cancel()

	t.Run("commit", func(t *testing.T) {
		store := newEngineStore(t)
		if err := store.Put(ctx, "a", lmb.Int(20)); err != nil {
			t.Fatal(err)
		}
		mustRun(t, `
			return function(ctx)
				ctx.store:update({'a', b = 0}, function(values)
					values.a = 10
					values.b = 10
				end)
			end
		`, Options{Store: store})
		if v, _, _ := store.Get(ctx, "a"); v.Int() != 10 {
			t.Errorf("a = %v; want 10", v)
		}
		if v, _, _ := store.Get(ctx, "b"); v.Int() != 10 {
			t.Errorf("b = %v; want 10", v)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		store := newEngineStore(t)
		if err := store.Put(ctx, "a", lmb.Int(20)); err != nil {
			t.Fatal(err)
		}
		_, err := run(t, `
			return function(ctx)
				ctx.store:update({'a', b = 0}, function(values)
					values.a = 10
					values.b = 10
					error('no thanks')
				end)
			end
		`, Options{Store: store})
		if err == nil || !strings.Contains(err.Error(), "no thanks") {
			t.Fatalf("error = %v; want the callback's reason", err)
		}
		if v, _, _ := store.Get(ctx, "a"); v.Int() != 20 {
			t.Errorf("a = %v after rollback; want 20", v)
		}
		if _, found, _ := store.Get(ctx, "b"); found {
			t.Error("b exists after rollback")
		}
	})
}

func TestStoreUpdateReturnsCallbackValue(t *testing.T) {
	store := newEngineStore(t)
	got := mustRun(t, `
		return function(ctx)
			return ctx.store:update({ x = 100, y = 200 }, function(values)
				values.x = values.x + 1
				values.y = values.y + 2
				return values.x + values.y
			end)
		end
	`, Options{Store: store})
	if got.Int() != 303 {
		t.Errorf("update returned %v; want 303", got)
	}
	ctx, cancel := testcontext.New(t)
	defer cancel()
	if v, _, _ := store.Get(ctx, "x"); v.Int() != 101 {
		t.Errorf("x = %v; want 101", v)
	}
	if v, _, _ := store.Get(ctx, "y"); v.Int() != 202 {
		t.Errorf("y = %v; want 202", v)
	}
}

func TestStoreUpdatePositionalDefaults(t *testing.T) {
	store := newEngineStore(t)
	got := mustRun(t, `
		return function(ctx)
			return ctx.store:update({'a'}, function(values)
				values.a = values.a + 1
				return values.a
			end, { 41 })
		end
	`, Options{Store: store})
	if got.Int() != 42 {
		t.Errorf("result = %v; want 42", got)
	}
}

func TestStoreUpdateInlineDefaultWins(t *testing.T) {
	// The same key spelled both ways: the inline named entry is the more
	// specific spelling and takes precedence.
	store := newEngineStore(t)
	got := mustRun(t, `
		return function(ctx)
			return ctx.store:update({'a', a = 10}, function(values)
				return values.a
			end, { 99 })
		end
	`, Options{Store: store})
	if got.Int() != 10 {
		t.Errorf("result = %v; want the inline default 10", got)
	}
}

func TestStoreUpdatePreservesUnrelatedKeys(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newEngineStore(t)
	mustRun(t, `
		return function(ctx)
			ctx.store.preserved = "original"
			ctx.store:update({ modified = 0 }, function(values)
				values.modified = values.modified + 10
				values.preserved = "clobbered"
			end)
		end
	`, Options{Store: store})
	if v, _, _ := store.Get(ctx, "preserved"); v.Text() != "original" {
		t.Errorf("preserved = %v; want original", v)
	}
	if v, _, _ := store.Get(ctx, "modified"); v.Int() != 10 {
		t.Errorf("modified = %v; want 10", v)
	}
}

func TestStoreUpdateReentrant(t *testing.T) {
	store := newEngineStore(t)
	_, err := run(t, `
		return function(ctx)
			ctx.store:update({ a = 0 }, function(values)
				ctx.store:update({ b = 0 }, function(inner)
					inner.b = 1
				end)
			end)
		end
	`, Options{Store: store})
	if lmb.KindOf(err) != lmb.KindReentrantUpdate {
		t.Errorf("error = %v; want reentrant_update", err)
	}
}

func TestStoreUnicodeKeys(t *testing.T) {
	store := newEngineStore(t)
	mustRun(t, `
		return function(ctx)
			ctx.store["你好"] = "世界"
			ctx.store["🔑"] = { emoji = "🎉" }
			assert(ctx.store["你好"] == "世界", "unicode key failed")
			assert(ctx.store["🔑"].emoji == "🎉", "emoji key failed")
		end
	`, Options{Store: store})
}

func TestStoreSequentialEvaluations(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newEngineStore(t)
	if err := store.Put(ctx, "a", lmb.Int(1)); err != nil {
		t.Fatal(err)
	}
	script := `
		local m = require('@lmb')
		local a = m.store.a
		m.store.a = a + 1
		return a
	`
	for i, want := range []int64{1, 2} {
		got := mustRun(t, script, Options{Store: store})
		if got.Int() != want {
			t.Errorf("run %d = %v; want %d", i, got, want)
		}
	}
	if v, _, _ := store.Get(ctx, "a"); v.Int() != 3 {
		t.Errorf("a = %v at end; want 3", v)
	}
}
