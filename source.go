// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package lmb

import (
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

// Source is a named piece of Lua script text plus the metadata parsed from
// its front-matter header.
type Source struct {
	Name   string
	Script string
	Meta   Metadata
}

// Metadata holds the raw key/value pairs of a script's front-matter header.
// Keys the runtime recognizes have typed accessors; everything else rides
// along untouched for documentation-driven tooling.
type Metadata map[string]string

// ParseSource builds a Source from script text, extracting front-matter.
//
// Front-matter is a run of comment lines at the very top of the script,
// either plain line comments or the lines of a leading --[[ ... ]] block,
// each of the form "key = value". A line-comment header stops at the first
// line that does not fit; inside a block, lines without "=" are skipped and
// the header ends at the closing "]]". Values are HuJSON, so bare words, quoted strings, tables,
// and trailing commas all work.
func ParseSource(name, script string) *Source {
	src := &Source{Name: name, Script: script, Meta: Metadata{}}
	lines := strings.Split(script, "\n")
	i := 0
	block := false
	if i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "--[[") {
		block = true
		i++
	}
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if block {
			if strings.HasPrefix(line, "]]") || strings.HasSuffix(line, "]]") {
				break
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "--"))
		} else {
			if !strings.HasPrefix(line, "--") {
				break
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "--"))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			if block {
				continue
			}
			break
		}
		src.Meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if name == "" {
		if n, ok := src.Meta.Text("name"); ok {
			src.Name = n
		}
	}
	return src
}

// Text returns the metadata value for key with surrounding quotes removed.
func (m Metadata) Text(key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	if v, err := m.value(key); err == nil && v.Type() == TypeString {
		return v.Text(), true
	}
	return raw, true
}

// Value parses the metadata value for key as a HuJSON document.
func (m Metadata) Value(key string) (Value, bool) {
	if _, ok := m[key]; !ok {
		return Null, false
	}
	v, err := m.value(key)
	if err != nil {
		return Null, false
	}
	return v, true
}

// Timeout returns the "timeout" entry in milliseconds.
func (m Metadata) Timeout() (time.Duration, bool) {
	v, ok := m.Value("timeout")
	if !ok || (v.Type() != TypeInt && v.Type() != TypeFloat) {
		return 0, false
	}
	return time.Duration(v.Float() * float64(time.Millisecond)), true
}

// Input returns the "input" entry: the bytes fed to io.read.
func (m Metadata) Input() (string, bool) {
	if v, ok := m.Value("input"); ok && v.Type() == TypeString {
		return v.Text(), true
	}
	return "", false
}

// State returns the "state" entry bound as ctx.state.
func (m Metadata) State() (Value, bool) {
	return m.Value("state")
}

// AssertReturn returns the "assert_return" entry used by example tests.
func (m Metadata) AssertReturn() (Value, bool) {
	return m.Value("assert_return")
}

// StoreEnabled reports whether the script asks for a store binding.
func (m Metadata) StoreEnabled() bool {
	v, ok := m.Value("store")
	return ok && v.Bool()
}

func (m Metadata) value(key string) (Value, error) {
	data, err := hujson.Standardize([]byte(m[key]))
	if err != nil {
		// Unquoted scalars ("hello world") are still useful as strings.
		return String(m[key]), nil
	}
	return FromJSON(data)
}
