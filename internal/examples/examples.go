// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

// Package examples bundles the sample scripts shipped with the runtime.
// Each script carries a front-matter header that names it and, for the
// documentation-driven tests, pins its expected input and return value.
package examples

import (
	"embed"
	"io/fs"
	"sort"
	"strings"

	lmb "lmb.256lights.llc/pkg"
)

//go:embed *.lua
var exampleFiles embed.FS

// All returns every bundled example, sorted by name.
func All() ([]*lmb.Source, error) {
	entries, err := fs.Glob(exampleFiles, "*.lua")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	sources := make([]*lmb.Source, 0, len(entries))
	for _, name := range entries {
		data, err := fs.ReadFile(exampleFiles, name)
		if err != nil {
			return nil, err
		}
		src := lmb.ParseSource(strings.TrimSuffix(name, ".lua"), string(data))
		sources = append(sources, src)
	}
	return sources, nil
}

// Find returns the bundled example with the given name.
func Find(name string) (*lmb.Source, bool) {
	sources, err := All()
	if err != nil {
		return nil, false
	}
	for _, src := range sources {
		if src.Name == name {
			return src, true
		}
	}
	return nil, false
}
