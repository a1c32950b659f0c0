// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

//go:build windows

package main

import "os"

func stateDir() string {
	if dir := os.Getenv("APPDATA"); dir != "" {
		return dir
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir
}
