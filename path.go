package scenecache

import (
	"slices"

	"github.com/andreyvit/scenecache/pathmatcher"
)

// RootName is the name of the root location.
const RootName = "/"

// Path addresses a location as the sequence of names leading to it from the
// root. The root is the empty path.
type Path []string

// ParsePath splits a /-separated path string. Empty segments are ignored.
func ParsePath(s string) Path {
	return Path(pathmatcher.Parse(s))
}

func (p Path) String() string {
	return pathmatcher.Format(p)
}

// Name returns the last segment, or RootName for the root.
func (p Path) Name() string {
	if len(p) == 0 {
		return RootName
	}
	return p[len(p)-1]
}

// Parent returns p without its last segment. The root is its own parent.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1:len(p)-1]
}

// Child returns a new path with name appended.
func (p Path) Child(name string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = name
	return out
}

// Join returns a new path with q appended.
func (p Path) Join(q Path) Path {
	out := make(Path, 0, len(p)+len(q))
	return append(append(out, p...), q...)
}

// HasPrefix reports whether q is p or one of its ancestors.
func (p Path) HasPrefix(q Path) bool {
	return len(q) <= len(p) && slices.Equal(p[:len(q)], q)
}

func (p Path) Equal(q Path) bool {
	return slices.Equal(p, q)
}

func (p Path) Clone() Path {
	if p == nil {
		return Path{}
	}
	return slices.Clone(p)
}
