// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable machine-readable error tag. Kinds are shared between the
// host boundary and scripts: errors raised inside the VM carry their kind as
// a "kind: message" prefix so pcall-ed Lua code can dispatch on it, and the
// CLI maps kinds to exit codes.
type Kind string

// The error taxonomy.
const (
	KindSyntax               Kind = "syntax"
	KindRuntime              Kind = "runtime"
	KindTimeout              Kind = "timeout"
	KindShutdown             Kind = "shutdown"
	KindExpectCallableReturn Kind = "expect_callable_return"
	KindModuleNotFound       Kind = "module_not_found"
	KindValueCodec           Kind = "value_codec"
	KindStoreBackend         Kind = "store_backend"
	KindReentrantUpdate      Kind = "reentrant_update"
	KindHTTPRequestFailed    Kind = "http_request_failed"
	KindHTTPDecodeFailed     Kind = "http_decode_failed"
	KindCryptoParam          Kind = "crypto_param"
	KindFSIO                 Kind = "fs_io"
	KindClosedFile           Kind = "closed_file"
	KindWrongMode            Kind = "wrong_mode"
	KindBadSeek              Kind = "bad_seek"
	KindBadWriteArg          Kind = "bad_write_arg"
)

var allKinds = []Kind{
	KindSyntax,
	KindRuntime,
	KindTimeout,
	KindShutdown,
	KindExpectCallableReturn,
	KindModuleNotFound,
	KindValueCodec,
	KindStoreBackend,
	KindReentrantUpdate,
	KindHTTPRequestFailed,
	KindHTTPDecodeFailed,
	KindCryptoParam,
	KindFSIO,
	KindClosedFile,
	KindWrongMode,
	KindBadSeek,
	KindBadWriteArg,
}

// Error is an error with a stable kind tag.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// NewError returns a new tagged error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying error with a kind.
func WrapError(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the error text without the kind prefix.
func (e *Error) Message() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return ""
	}
}

// KindOf classifies err. It first checks for a wrapped *Error, then falls
// back to parsing a "kind: " prefix from the message, which is how errors
// that round-tripped through the VM as Lua strings come back. Errors that
// match neither are runtime errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return kindFromMessage(err.Error())
}

func kindFromMessage(msg string) Kind {
	for _, k := range allKinds {
		// Lua prefixes raised strings with chunk name and line
		// ("script:3: kind: ..."), so search rather than match the start.
		if strings.HasPrefix(msg, string(k)+": ") || strings.Contains(msg, " "+string(k)+": ") || msg == string(k) {
			return k
		}
	}
	return KindRuntime
}
