// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

// Package lmb provides the host-side building blocks of the lmb script
// runtime: the value model and codec exchanged with scripts, the persistent
// key-value store, the script source container, and the buffered input
// reader that scripts consume through io.read.
//
// The Lua virtual machine itself and the sandbox bindings live in
// lmb.256lights.llc/pkg/internal/engine. This package intentionally has no
// dependency on the VM so the store and codec can be used (and tested) on
// their own.
package lmb

// Version is the version string reported to scripts as
// require('@lmb')._VERSION.
const Version = "0.3.0"
