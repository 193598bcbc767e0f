// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Wildcard marks an excluded pattern as a prefix.
const Wildcard = "*"

// Exclusions is a compiled set of excluded path patterns.
//
// A pattern matches a path when both are equal once trailing slashes are
// stripped, or when the pattern ends in Wildcard and the path starts with
// everything before it.
type Exclusions struct {
	exact    map[string]struct{}
	prefixes []glob.Glob
}

// CompileExclusions compiles patterns. Empty patterns are ignored.
func CompileExclusions(patterns []string) (*Exclusions, error) {
	e := &Exclusions{exact: make(map[string]struct{}, len(patterns))}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		prefix, wildcard := strings.CutSuffix(p, Wildcard)
		if !wildcard {
			e.exact[trimSlashes(p)] = struct{}{}
			continue
		}
		// Separators are omitted so the trailing * spans path segments.
		g, err := glob.Compile(glob.QuoteMeta(prefix) + Wildcard)
		if err != nil {
			return nil, oops.Code("GATE_INVALID_PATTERN").With("pattern", p).Wrap(err)
		}
		e.prefixes = append(e.prefixes, g)
	}
	return e, nil
}

// Excluded reports whether path is exempt from authentication.
func (e *Exclusions) Excluded(path string) bool {
	if e == nil || path == "" {
		return false
	}
	normalized := trimSlashes(path)
	if _, ok := e.exact[normalized]; ok {
		return true
	}
	for _, g := range e.prefixes {
		if g.Match(normalized) || g.Match(normalized+"/") {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (e *Exclusions) Len() int {
	if e == nil {
		return 0
	}
	return len(e.exact) + len(e.prefixes)
}

// RequiresAuth reports whether path needs a credential given the excluded
// patterns. A missing path or pattern list requires auth, as does any
// pattern list that fails to compile.
func RequiresAuth(path string, excluded []string) bool {
	if path == "" || len(excluded) == 0 {
		return true
	}
	e, err := compiled(excluded)
	if err != nil {
		return true
	}
	return !e.Excluded(path)
}

// exclusionCache holds compiled pattern lists keyed by their joined patterns.
// Lists come from configuration, so the set of keys stays small.
var exclusionCache sync.Map

func compiled(patterns []string) (*Exclusions, error) {
	key := strings.Join(patterns, "\x00")
	if e, ok := exclusionCache.Load(key); ok {
		return e.(*Exclusions), nil
	}
	e, err := CompileExclusions(patterns)
	if err != nil {
		return nil, err
	}
	actual, _ := exclusionCache.LoadOrStore(key, e)
	return actual.(*Exclusions), nil
}

func trimSlashes(p string) string {
	return strings.TrimRight(p, "/")
}
