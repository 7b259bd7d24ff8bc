// Package pathmatcher implements a set of hierarchical paths that can also
// hold patterns, answering membership queries with a bitmask telling whether
// a path is in the set, below a member, or above one.
//
// A path segment is either a literal name, a glob (containing *, ? or [),
// or the ellipsis "...", which matches any number of segments including none.
package pathmatcher

import (
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Result is a bitmask describing how a path relates to a PathMatcher.
type Result uint

const (
	NoMatch Result = 0

	// DescendantMatch: a path below the queried one is in the set.
	DescendantMatch Result = 1
	// ExactMatch: the queried path itself is in the set.
	ExactMatch Result = 2
	// AncestorMatch: a path above the queried one is in the set.
	AncestorMatch Result = 4

	EveryMatch = DescendantMatch | ExactMatch | AncestorMatch
)

func (r Result) Contains(v Result) bool { return r&v == v }

func (r Result) String() string {
	if r == NoMatch {
		return "none"
	}
	var parts []string
	if r&ExactMatch != 0 {
		parts = append(parts, "exact")
	}
	if r&AncestorMatch != 0 {
		parts = append(parts, "ancestor")
	}
	if r&DescendantMatch != 0 {
		parts = append(parts, "descendant")
	}
	return strings.Join(parts, "|")
}

const Ellipsis = "..."

// PathMatcher is a set of paths. The zero value is an empty set ready to use.
// It is not safe for concurrent mutation.
type PathMatcher struct {
	root node
}

type node struct {
	terminator bool
	children   map[string]*node
	glob       glob.Glob // non-nil for wildcard segments
}

// New returns a matcher holding the given /-separated paths.
func New(paths ...string) *PathMatcher {
	m := &PathMatcher{}
	for _, p := range paths {
		m.AddPath(Parse(p))
	}
	return m
}

// Parse splits a /-separated path string. "/" and "" are the root.
func Parse(s string) []string {
	var out []string
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Format joins path segments into a /-separated string.
func Format(path []string) string {
	if len(path) == 0 {
		return "/"
	}
	return "/" + strings.Join(path, "/")
}

// IsPattern reports whether seg is a glob or an ellipsis rather than a literal.
func IsPattern(seg string) bool {
	return seg == Ellipsis || strings.ContainsAny(seg, "*?[")
}

func newNode(seg string) *node {
	n := &node{}
	if seg != Ellipsis && IsPattern(seg) {
		g, err := glob.Compile(seg)
		if err == nil {
			n.glob = g
		}
	}
	return n
}

func (n *node) child(seg string, create bool) *node {
	c := n.children[seg]
	if c == nil && create {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		c = newNode(seg)
		n.children[seg] = c
	}
	return c
}

func (n *node) isEmpty() bool {
	return !n.terminator && len(n.children) == 0
}

// AddPath adds path, returning false if it was already present.
func (m *PathMatcher) AddPath(path []string) bool {
	n := &m.root
	for _, seg := range path {
		n = n.child(seg, true)
	}
	if n.terminator {
		return false
	}
	n.terminator = true
	return true
}

// RemovePath removes path, returning false if it was not present.
// Paths below it are kept.
func (m *PathMatcher) RemovePath(path []string) bool {
	return m.root.remove(path, false)
}

// Prune removes path and everything below it, returning false if nothing was removed.
func (m *PathMatcher) Prune(path []string) bool {
	if len(path) == 0 {
		empty := m.root.isEmpty()
		m.root = node{}
		return !empty
	}
	return m.root.remove(path, true)
}

func (n *node) remove(path []string, prune bool) bool {
	if len(path) == 0 {
		if prune {
			panic("unreachable")
		}
		if !n.terminator {
			return false
		}
		n.terminator = false
		return true
	}
	c := n.children[path[0]]
	if c == nil {
		return false
	}
	var removed bool
	if prune && len(path) == 1 {
		removed = true
		delete(n.children, path[0])
		return removed
	}
	removed = c.remove(path[1:], prune)
	if removed && c.isEmpty() {
		delete(n.children, path[0])
	}
	return removed
}

// Contains reports whether path was added verbatim. Patterns are not expanded.
func (m *PathMatcher) Contains(path []string) bool {
	n := &m.root
	for _, seg := range path {
		n = n.children[seg]
		if n == nil {
			return false
		}
	}
	return n.terminator
}

// Match tests path against every path and pattern in the set.
func (m *PathMatcher) Match(path []string) Result {
	var r Result
	m.root.match(path, 0, &r)
	return r
}

// MatchString is Match for a /-separated path.
func (m *PathMatcher) MatchString(path string) Result {
	return m.Match(Parse(path))
}

func (n *node) match(path []string, start int, r *Result) {
	if *r == EveryMatch {
		return
	}
	if start == len(path) {
		if n.terminator {
			*r |= ExactMatch
		}
		if len(n.children) > 0 {
			*r |= DescendantMatch
		}
		if e := n.children[Ellipsis]; e != nil && e.terminator {
			*r |= ExactMatch
		}
		return
	}

	if n.terminator {
		*r |= AncestorMatch
	}

	seg := path[start]
	for key, c := range n.children {
		switch {
		case key == Ellipsis:
			*r |= DescendantMatch
			for i := start; i <= len(path); i++ {
				c.match(path, i, r)
			}
		case c.glob != nil:
			if c.glob.Match(seg) {
				c.match(path, start+1, r)
			}
		case key == seg:
			c.match(path, start+1, r)
		}
	}
}

// AddPaths adds every path of other, each prefixed with prefix.
// It returns true if anything was added.
func (m *PathMatcher) AddPaths(other *PathMatcher, prefix []string) bool {
	n := &m.root
	for _, seg := range prefix {
		n = n.child(seg, true)
	}
	return n.merge(&other.root)
}

func (n *node) merge(o *node) bool {
	var added bool
	if o.terminator && !n.terminator {
		n.terminator = true
		added = true
	}
	for seg, oc := range o.children {
		if n.child(seg, true).merge(oc) {
			added = true
		}
	}
	return added
}

// Intersection returns the paths present in both m and other.
// Patterns are compared as literal segments.
func (m *PathMatcher) Intersection(other *PathMatcher) *PathMatcher {
	out := &PathMatcher{}
	out.root = *intersect(&m.root, &other.root)
	return out
}

func intersect(a, b *node) *node {
	out := &node{terminator: a.terminator && b.terminator}
	for seg, ac := range a.children {
		bc := b.children[seg]
		if bc == nil {
			continue
		}
		c := intersect(ac, bc)
		if !c.isEmpty() {
			if out.children == nil {
				out.children = make(map[string]*node)
			}
			c.glob = ac.glob
			out.children[seg] = c
		}
	}
	return out
}

// SubTree returns the paths below root, relative to it. root itself
// becomes the empty path when present.
func (m *PathMatcher) SubTree(root []string) *PathMatcher {
	out := &PathMatcher{}
	n := &m.root
	for _, seg := range root {
		n = n.children[seg]
		if n == nil {
			return out
		}
	}
	out.root.merge(n)
	return out
}

// IsEmpty reports whether the set has no paths.
func (m *PathMatcher) IsEmpty() bool { return m.root.isEmpty() }

// Size returns the number of paths in the set.
func (m *PathMatcher) Size() int {
	var count int
	for range m.All() {
		count++
	}
	return count
}

// All yields every path in lexicographic segment order. The yielded slice
// must not be retained.
func (m *PathMatcher) All() iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		var path []string
		m.root.walk(&path, yield)
	}
}

func (n *node) walk(path *[]string, yield func([]string) bool) bool {
	if n.terminator && !yield(*path) {
		return false
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		*path = append(*path, k)
		ok := n.children[k].walk(path, yield)
		*path = (*path)[:len(*path)-1]
		if !ok {
			return false
		}
	}
	return true
}

// Paths returns every path as a /-separated string, sorted.
func (m *PathMatcher) Paths() []string {
	var out []string
	for p := range m.All() {
		out = append(out, Format(p))
	}
	return out
}

// Equal reports whether m and other hold the same paths.
func (m *PathMatcher) Equal(other *PathMatcher) bool {
	if m == nil || other == nil {
		return (m == nil || m.IsEmpty()) && (other == nil || other.IsEmpty())
	}
	return slices.Equal(m.Paths(), other.Paths())
}

// Copy returns an independent copy of m.
func (m *PathMatcher) Copy() *PathMatcher {
	out := &PathMatcher{}
	out.root.merge(&m.root)
	return out
}

// Clear removes every path.
func (m *PathMatcher) Clear() { m.root = node{} }
