// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package main

import "go4.org/xdgdir"

func stateDir() string {
	return xdgdir.Data.Path()
}
