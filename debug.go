package scenecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andreyvit/scenecache/linear"
)

type DumpFlags uint64

const (
	DumpTransforms = DumpFlags(1 << iota)
	DumpBounds
	DumpAttributes
	DumpTags
	DumpObjects
	DumpSamples

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the hierarchy below s at time t, one location per line with
// the selected properties indented under it.
func Dump(ctx context.Context, s Scene, t float64, f DumpFlags) (string, error) {
	var buf strings.Builder
	err := dumpLocation(ctx, &buf, "", s, t, f)
	return buf.String(), err
}

func dumpLocation(ctx context.Context, w *strings.Builder, indent string, s Scene, t float64, f DumpFlags) error {
	if err := checkCtx(ctx, s.FileName(), s.Path()); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s%s\n", indent, s.Name())
	inner := indent + indentStep

	if f.Contains(DumpTransforms) && len(s.Path()) > 0 {
		v, err := s.ReadTransform(t)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%stransform: %s\n", inner, loggableObject(v))
	}
	if f.Contains(DumpBounds) {
		b, err := s.ReadBound(ctx, t)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%sbound: %s\n", inner, formatBox(b))
	}
	if f.Contains(DumpObjects) {
		ok, err := s.HasObject()
		if err != nil {
			return err
		}
		if ok {
			v, err := s.ReadObject(ctx, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%sobject: %s%s\n", inner, v.TypeName(), dumpSampleCount(s, objectChannel, f))
		}
	}
	if f.Contains(DumpAttributes) {
		names, err := s.AttributeNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			v, err := s.ReadAttribute(name, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%sattr %s: %s%s\n", inner, name, loggableObject(v), dumpSampleCount(s, attributeChannel(name), f))
		}
	}
	if f.Contains(DumpTags) {
		local, err := s.ReadTags(LocalTag)
		if err != nil {
			return err
		}
		all, err := s.ReadTags(DescendantTag)
		if err != nil {
			return err
		}
		if len(all) > 0 {
			fmt.Fprintf(w, "%stags: local=[%s] descendant=[%s]\n", inner, strings.Join(local, " "), strings.Join(all, " "))
		}
	}

	names, err := s.ChildNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		c, err := s.Child(name, ThrowIfMissing)
		if err != nil {
			return err
		}
		if err := dumpLocation(ctx, w, inner, c, t, f); err != nil {
			return err
		}
	}
	return nil
}

func dumpSampleCount(s Scene, ch channel, f DumpFlags) string {
	if !f.Contains(DumpSamples) {
		return ""
	}
	ss, ok := s.(SampledScene)
	if !ok {
		return ""
	}
	var n int
	var err error
	switch ch.kind {
	case objectKind:
		n, err = ss.NumObjectSamples()
	case attributeKind:
		n, err = ss.NumAttributeSamples(ch.name)
	}
	if err != nil {
		return " (samples: ?)"
	}
	return fmt.Sprintf(" (samples: %d)", n)
}

func loggableObject(v Object) string {
	if v == nil {
		return "<none>"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.TypeName(), err)
	}
	return v.TypeName() + " " + string(data)
}

func formatBox(b linear.Box3) string {
	if b.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("%v..%v", b.Min, b.Max)
}
