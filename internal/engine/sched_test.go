// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"strings"
	"testing"
	"time"

	lmb "lmb.256lights.llc/pkg"
)

func TestSleepMS(t *testing.T) {
	start := time.Now()
	mustRun(t, "sleep_ms(50)", Options{})
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("sleep_ms(50) returned after %v", elapsed)
	}
}

func TestSleepZero(t *testing.T) {
	mustRun(t, "sleep_ms(0)", Options{})
}

func TestJoinAllKeepsInputOrder(t *testing.T) {
	got := mustRun(t, `
		local co = require('@lmb/coroutine')
		local results = co.join_all({
			coroutine.create(function() sleep_ms(30); return 'slow' end),
			coroutine.create(function() sleep_ms(1); return 'fast' end),
			coroutine.create(function() return 'instant' end),
		})
		return results
	`, Options{Timeout: 5 * time.Second})
	want := lmb.Sequence([]lmb.Value{lmb.String("slow"), lmb.String("fast"), lmb.String("instant")})
	if !got.Equal(want) {
		t.Errorf("join_all = %v; want %v", got, want)
	}
}

func TestJoinAllPropagatesFirstRejection(t *testing.T) {
	_, err := run(t, `
		local co = require('@lmb/coroutine')
		return co.join_all({
			coroutine.create(function() sleep_ms(50); return 1 end),
			coroutine.create(function() error('broken task') end),
		})
	`, Options{Timeout: 5 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "broken task") {
		t.Errorf("error = %v; want the rejection reason", err)
	}
}

func TestAllSettled(t *testing.T) {
	got := mustRun(t, `
		local co = require('@lmb/coroutine')
		local settled = co.all_settled({
			coroutine.create(function() sleep_ms(10); return 'ok' end),
			coroutine.create(function() error('nope') end),
		})
		return {
			first_status = settled[1].status,
			first_value = settled[1].value,
			second_status = settled[2].status,
			second_reason = tostring(settled[2].reason),
		}
	`, Options{Timeout: 5 * time.Second})
	m := got.Map()
	if m == nil {
		t.Fatalf("all_settled summary = %v; want a map", got)
	}
	if v, _ := m.GetString("first_status"); v.Text() != "fulfilled" {
		t.Errorf("first status = %v", v)
	}
	if v, _ := m.GetString("first_value"); v.Text() != "ok" {
		t.Errorf("first value = %v", v)
	}
	if v, _ := m.GetString("second_status"); v.Text() != "rejected" {
		t.Errorf("second status = %v", v)
	}
	if v, _ := m.GetString("second_reason"); !strings.Contains(v.Text(), "nope") {
		t.Errorf("second reason = %v", v)
	}
}

func TestRaceReturnsFirstFulfilled(t *testing.T) {
	got := mustRun(t, `
		local co = require('@lmb/coroutine')
		return co.race({
			coroutine.create(function() sleep_ms(1); return 100 end),
			coroutine.create(function() sleep_ms(20); return 200 end),
		})
	`, Options{Timeout: 5 * time.Second})
	if got.Int() != 100 {
		t.Errorf("race = %v; want 100", got)
	}
}

func TestRaceSameTickFollowsInputOrder(t *testing.T) {
	got := mustRun(t, `
		local co = require('@lmb/coroutine')
		return co.race({
			coroutine.create(function() return 'first' end),
			coroutine.create(function() return 'second' end),
		})
	`, Options{Timeout: 5 * time.Second})
	if got.Text() != "first" {
		t.Errorf("race = %v; want first", got)
	}
}

func TestRaceAllRejectedRaisesLast(t *testing.T) {
	_, err := run(t, `
		local co = require('@lmb/coroutine')
		return co.race({
			coroutine.create(function() error('reason one') end),
			coroutine.create(function() sleep_ms(5); error('reason two') end),
		})
	`, Options{Timeout: 5 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "reason two") {
		t.Errorf("error = %v; want the last rejection", err)
	}
}

func TestRaceEmptySet(t *testing.T) {
	got := mustRun(t, `
		local co = require('@lmb/coroutine')
		return co.race({}) == nil
	`, Options{})
	if !got.Bool() {
		t.Error("race({}) != nil")
	}
}

func TestCombinatorRejectsNonCoroutine(t *testing.T) {
	_, err := run(t, `
		local co = require('@lmb/coroutine')
		return co.join_all({ 1 })
	`, Options{})
	if err == nil || !strings.Contains(err.Error(), "coroutine") {
		t.Errorf("error = %v; want a type complaint", err)
	}
}

func TestPlainYieldReschedules(t *testing.T) {
	got := mustRun(t, `
		local co = require('@lmb/coroutine')
		local results = co.join_all({
			coroutine.create(function()
				coroutine.yield('ignored')
				return 'done'
			end),
		})
		return results[1]
	`, Options{Timeout: 5 * time.Second})
	if got.Text() != "done" {
		t.Errorf("result = %v; want done", got)
	}
}

func TestCombinatorTimeout(t *testing.T) {
	_, err := run(t, `
		local co = require('@lmb/coroutine')
		return co.join_all({
			coroutine.create(function() sleep_ms(60000) end),
		})
	`, Options{Timeout: 100 * time.Millisecond})
	if lmb.KindOf(err) != lmb.KindTimeout {
		t.Errorf("error = %v; want timeout", err)
	}
}

func TestSleepOrderingAcrossTasks(t *testing.T) {
	got := mustRun(t, `
		local co = require('@lmb/coroutine')
		local order = {}
		co.join_all({
			coroutine.create(function() sleep_ms(30); order[#order+1] = 'b' end),
			coroutine.create(function() sleep_ms(5); order[#order+1] = 'a' end),
		})
		return table.concat(order, ',')
	`, Options{Timeout: 5 * time.Second})
	if got.Text() != "a,b" {
		t.Errorf("completion order = %v; want a,b", got)
	}
}
