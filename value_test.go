// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"testing"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		f    float64
		want Type
	}{
		{0, TypeInt},
		{1, TypeInt},
		{-42, TypeInt},
		{1e15, TypeInt},
		{1.23, TypeFloat},
		{-0.5, TypeFloat},
		{1e300, TypeFloat},
	}
	for _, test := range tests {
		if got := Number(test.f).Type(); got != test.want {
			t.Errorf("Number(%v).Type() = %v; want %v", test.f, got, test.want)
		}
	}
}

func TestMapOrderAndIndex(t *testing.T) {
	m := NewMap()
	m.SetString("b", Int(1))
	m.SetString("a", Int(2))
	m.Set(IntKey(1), Int(3))
	m.SetString("b", Int(4))

	wantKeys := []string{"b", "a", "1"}
	keys := m.Keys()
	if len(keys) != len(wantKeys) {
		t.Fatalf("len(Keys()) = %d; want %d", len(keys), len(wantKeys))
	}
	for i, k := range keys {
		if k.String() != wantKeys[i] {
			t.Errorf("Keys()[%d] = %q; want %q", i, k.String(), wantKeys[i])
		}
	}
	if v, _ := m.GetString("b"); v.Int() != 4 {
		t.Errorf("Get(b) = %v; want 4", v)
	}
	if !m.Delete(StringKey("a")) {
		t.Error("Delete(a) = false")
	}
	if m.Delete(StringKey("a")) {
		t.Error("second Delete(a) = true")
	}
	if v, ok := m.Get(IntKey(1)); !ok || v.Int() != 3 {
		t.Errorf("Get(1) = %v, %t after delete", v, ok)
	}
}

func TestIntAndStringKeysDistinct(t *testing.T) {
	m := NewMap()
	m.Set(IntKey(65), String("int"))
	m.Set(StringKey("65"), String("string"))
	if m.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", m.Len())
	}
	if v, _ := m.Get(IntKey(65)); v.Text() != "int" {
		t.Errorf("Get(IntKey(65)) = %v", v)
	}
	if v, _ := m.Get(StringKey("65")); v.Text() != "string" {
		t.Errorf("Get(StringKey(65)) = %v", v)
	}
}

func TestSizeHint(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want int64
	}{
		{"null", Null, 0},
		{"bool", Bool(true), 1},
		{"int", Int(1), 8},
		{"float", Float(1.23), 8},
		{"string", String("hello"), 5},
		{"sequence", Sequence([]Value{Bool(true), Int(1), Float(1.23), String("hello")}), 1 + 8 + 8 + 5},
		{"map", mustMap(
			entry(StringKey("bool"), Bool(true)),
			entry(StringKey("num"), Float(1.23)),
			entry(StringKey("str"), String("hello")),
		), (4 + 1) + (3 + 8) + (3 + 5)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.v.SizeHint(); got != test.want {
				t.Errorf("SizeHint(%v) = %d; want %d", test.v, got, test.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if Int(1).Equal(Float(1)) {
		t.Error("Int(1).Equal(Float(1)) = true")
	}
	a := mustMap(entry(StringKey("x"), Int(1)), entry(StringKey("y"), Int(2)))
	b := mustMap(entry(StringKey("y"), Int(2)), entry(StringKey("x"), Int(1)))
	if !a.Equal(b) {
		t.Error("maps with same entries in different order are not Equal")
	}
	if Sequence([]Value{Int(1)}).Equal(Sequence([]Value{Int(2)})) {
		t.Error("distinct sequences compare Equal")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null, "null"},
		{Bool(true), "true"},
		{Int(42), "42"},
		{String("hi"), `"hi"`},
		{Sequence([]Value{}), "[]"},
		{mustMap(), "{}"},
		{mustMap(entry(IntKey(1), String("a"))), `{"1":"a"}`},
	}
	for _, test := range tests {
		if got := test.v.String(); got != test.want {
			t.Errorf("String(%#v) = %q; want %q", test.v, got, test.want)
		}
	}
}

func TestFormatTabular(t *testing.T) {
	got := FormatTabular([]Value{String("a"), Int(1), Null, mustMap(entry(StringKey("k"), Bool(true)))})
	want := "a\t1\tnil\t{\"k\":true}"
	if got != want {
		t.Errorf("FormatTabular(...) = %q; want %q", got, want)
	}
}

func TestTypeHint(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null, "null"},
		{Bool(true), "boolean"},
		{Int(1), "number"},
		{Float(1.5), "number"},
		{String(""), "string"},
		{Sequence(nil), "array"},
		{mustMap(), "object"},
	}
	for _, test := range tests {
		if got := test.v.TypeHint(); got != test.want {
			t.Errorf("TypeHint(%v) = %q; want %q", test.v, got, test.want)
		}
	}
}
