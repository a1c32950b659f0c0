// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lmb.256lights.llc/pkg/internal/testcontext"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx, cancel := testcontext.New(t)
	t.Cleanup(cancel)
	store, err := OpenMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreGetPutDelete(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	if _, found, err := store.Get(ctx, "a"); err != nil || found {
		t.Errorf("Get(a) on empty store = found=%t, %v", found, err)
	}
	if err := store.Put(ctx, "a", Bool(true)); err != nil {
		t.Fatal(err)
	}
	v, found, err := store.Get(ctx, "a")
	if err != nil || !found || !v.Equal(Bool(true)) {
		t.Errorf("Get(a) = %v, %t, %v; want true", v, found, err)
	}
	existed, err := store.Delete(ctx, "a")
	if err != nil || !existed {
		t.Errorf("Delete(a) = %t, %v; want true", existed, err)
	}
	existed, err = store.Delete(ctx, "a")
	if err != nil || existed {
		t.Errorf("second Delete(a) = %t, %v; want false", existed, err)
	}
}

func TestStorePreservesTypes(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	tests := []struct {
		key string
		v   Value
	}{
		{"nil", Null},
		{"bt", Bool(true)},
		{"bf", Bool(false)},
		{"ni", Int(1)},
		{"nf", Float(1.23)},
		{"s", String("hello")},
		{"a", Sequence([]Value{Bool(true), Int(1), Float(1.23), String("hello")})},
		{"o", mustMap(
			entry(StringKey("bool"), Bool(true)),
			entry(StringKey("num"), Float(1.23)),
			entry(StringKey("str"), String("hello")),
		)},
		{"empty-seq", Sequence([]Value{})},
		{"empty-map", mustMap()},
	}
	for _, test := range tests {
		if err := store.Put(ctx, test.key, test.v); err != nil {
			t.Fatalf("Put(%s): %v", test.key, err)
		}
		got, found, err := store.Get(ctx, test.key)
		if err != nil || !found {
			t.Fatalf("Get(%s) = found=%t, %v", test.key, found, err)
		}
		if !got.Equal(test.v) || got.Type() != test.v.Type() {
			t.Errorf("Get(%s) = %v (%v); want %v (%v)", test.key, got, got.Type(), test.v, test.v.Type())
		}
	}
}

func TestStoreList(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	if err := store.Put(ctx, "a", Sequence([]Value{Bool(true), Int(1), Float(1.23), String("hello")})); err != nil {
		t.Fatal(err)
	}
	records, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("len(List()) = %d; want 1", len(records))
	}
	rec := records[0]
	if rec.Name != "a" {
		t.Errorf("Name = %q; want a", rec.Name)
	}
	if want := int64(1 + 8 + 8 + 5); rec.Size != want {
		t.Errorf("Size = %d; want %d", rec.Size, want)
	}
	if rec.TypeHint != "array" {
		t.Errorf("TypeHint = %q; want array", rec.TypeHint)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero")
	}
}

func TestStoreUpdateCommits(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	if err := store.Put(ctx, "a", Int(20)); err != nil {
		t.Fatal(err)
	}
	spec := []UpdateKey{
		{Name: "a"},
		{Name: "b", Default: Int(0), HasDefault: true},
	}
	err := store.Update(ctx, spec, func(view *Map) error {
		if v, _ := view.GetString("a"); v.Int() != 20 {
			t.Errorf("view.a = %v; want 20", v)
		}
		if v, _ := view.GetString("b"); v.Int() != 0 {
			t.Errorf("view.b = %v; want default 0", v)
		}
		view.SetString("a", Int(10))
		view.SetString("b", Int(10))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, _, _ := store.Get(ctx, "a"); v.Int() != 10 {
		t.Errorf("a = %v after commit; want 10", v)
	}
	if v, _, _ := store.Get(ctx, "b"); v.Int() != 10 {
		t.Errorf("b = %v after commit; want 10", v)
	}
}

func TestStoreUpdateRollsBackOnError(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	if err := store.Put(ctx, "a", Int(20)); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	spec := []UpdateKey{
		{Name: "a"},
		{Name: "b", Default: Int(0), HasDefault: true},
	}
	err := store.Update(ctx, spec, func(view *Map) error {
		view.SetString("a", Int(10))
		view.SetString("b", Int(10))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v; want boom", err)
	}
	if v, _, _ := store.Get(ctx, "a"); v.Int() != 20 {
		t.Errorf("a = %v after rollback; want 20", v)
	}
	if _, found, _ := store.Get(ctx, "b"); found {
		t.Error("b exists after rollback")
	}
}

func TestStoreUpdateIgnoresExtraViewKeys(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	err := store.Update(ctx, []UpdateKey{{Name: "a", Default: Int(1), HasDefault: true}}, func(view *Map) error {
		view.SetString("sneaky", Int(99))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, found, _ := store.Get(ctx, "sneaky"); found {
		t.Error("key outside the spec was persisted")
	}
}

func TestStoreUpdateAbsentKeyWithoutDefault(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	err := store.Update(ctx, []UpdateKey{{Name: "missing"}}, func(view *Map) error {
		v, ok := view.GetString("missing")
		if !ok || !v.IsNull() {
			t.Errorf("view.missing = %v, %t; want null", v, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStoreBusyDuringUpdate(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)
	store.busyTimeout = 50 * time.Millisecond

	err := store.Update(ctx, []UpdateKey{{Name: "a", Default: Int(0), HasDefault: true}}, func(view *Map) error {
		// The transaction holds the connection; a concurrent operation
		// must time out as busy rather than deadlock.
		_, _, err := store.Get(ctx, "a")
		if KindOf(err) != KindStoreBackend {
			t.Errorf("Get during update = %v; want store_backend", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenStoreOnDisk(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	path := filepath.Join(t.TempDir(), "store.db")

	store, err := OpenStore(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "a", String("persisted")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = OpenStore(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	v, found, err := store.Get(ctx, "a")
	if err != nil || !found || v.Text() != "persisted" {
		t.Errorf("Get(a) after reopen = %v, %t, %v", v, found, err)
	}
}

func TestStoreMigrateIdempotent(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
}
