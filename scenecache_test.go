package scenecache

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"testing"

	"github.com/andreyvit/scenecache/linear"
	"github.com/andreyvit/scenecache/pathmatcher"
)

func TestSceneCache_DerivedBounds(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := must(w.CreateChild("a"))
		ensure(a.WriteTransform(Translation(v3(1, 0, 0)), 0))
		ensure(a.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0))
		ensure(a.WriteObject(NewPointsPrimitive([]linear.V3{{0, 1, 0}}), 1))
		ensure(w.Close())

		r := open(Read)
		deepEqual(t, must(r.ChildNames()), []string{"a"})
		isfalse(t, must(r.HasBound()), "root HasBound")
		boxEqual(t, must(r.ReadBound(bg, 0)), linear.PointBox(v3(1, 0, 0)))
		boxEqual(t, must(r.ReadBound(bg, 1)), linear.PointBox(v3(1, 1, 0)))
		boxEqual(t, must(r.ReadBound(bg, 0.5)), linear.PointBox(v3(1, 0.5, 0)))

		// the child's own bound is in its own space
		boxEqual(t, must(child(r, "a").ReadBound(bg, 1)), linear.PointBox(v3(0, 1, 0)))

		deepEqual(t, must(r.NumBoundSamples()), 2)
		deepEqual(t, must(r.BoundSampleTime(1)), 1.0)
		boxEqual(t, must(r.ReadBoundAtSample(1)), linear.PointBox(v3(1, 1, 0)))
	})
}

func TestSceneCache_WrittenBoundWins(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := must(w.CreateChild("a"))
		ensure(a.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0))
		ensure(w.WriteBound(box(v3(-5, -5, -5), v3(5, 5, 5)), 0))
		ensure(w.WriteBound(box(v3(-7, -7, -7), v3(7, 7, 7)), 2))
		ensure(w.Close())

		r := open(Read)
		istrue(t, must(r.HasBound()), "root HasBound")
		boxEqual(t, must(r.ReadBound(bg, 0)), box(v3(-5, -5, -5), v3(5, 5, 5)))
		boxEqual(t, must(r.ReadBound(bg, 1)), box(v3(-6, -6, -6), v3(6, 6, 6)))
		boxEqual(t, must(r.ReadBound(bg, 9)), box(v3(-7, -7, -7), v3(7, 7, 7)))
		deepEqual(t, must(r.BoundSampleInterval(1)), Interval{Floor: 0, Ceil: 1, X: 0.5})
	})
}

func TestSceneCache_Tags(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		b := createChild(w, "a", "b")
		ensure(b.WriteTags([]string{"hero"}))
		createChild(w, "a", "b", "d")
		must(w.CreateChild("c"))
		iserr(t, b.WriteTags([]string{""}), ErrInvalidArgument)

		check := func(root Scene) {
			t.Helper()
			istrue(t, must(child(root, "a", "b").HasTag("hero", LocalTag)), "/a/b local")
			istrue(t, must(child(root, "a", "b").HasTag("hero", DescendantTag)), "/a/b descendant")
			isfalse(t, must(child(root, "a").HasTag("hero", LocalTag)), "/a local")
			istrue(t, must(child(root, "a").HasTag("hero", DescendantTag)), "/a descendant")
			istrue(t, must(root.HasTag("hero", DescendantTag)), "/ descendant")
			isfalse(t, must(child(root, "c").HasTag("hero", DescendantTag)), "/c descendant")
			istrue(t, must(child(root, "a", "b", "d").HasTag("hero", AncestorTag)), "/a/b/d ancestor")
			isfalse(t, must(child(root, "a", "b", "d").HasTag("hero", LocalTag|DescendantTag)), "/a/b/d local")
			isfalse(t, must(child(root, "a").HasTag("hero", AncestorTag)), "/a ancestor")
			deepEqual(t, must(root.ReadTags(EveryTag)), []string{"hero"})
			isempty(t, must(child(root, "c").ReadTags(EveryTag)))
		}
		check(w)
		ensure(w.Close())
		check(open(Read))
	})
}

func TestSceneCache_RoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		tm := &TransformationMatrixData{Scale: v3(1, 1, 1), Translate: v3(0, 0, 5)}
		name := &StringData{Value: "thing"}
		weights := &DoubleVectorData{Value: []float64{1, 2}}
		meta := &CompoundData{Value: map[string]Object{
			"n": &IntData{Value: 3},
			"s": &StringData{Value: "x"},
		}}
		mesh := &MeshPrimitive{
			VerticesPerFace: []int32{3},
			VertexIDs:       []int32{0, 1, 2},
			Vars: map[string]PrimitiveVariable{
				PositionVariable: {Interpolation: Vertex, Data: &V3dVectorData{Value: []linear.V3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}}},
				"Cs":             {Interpolation: Constant, Data: &V3dVectorData{Value: []linear.V3{{1, 0, 0}}}},
			},
		}

		w := open(Write)
		a := must(w.CreateChild("a"))
		ensure(a.WriteTransform(tm, 0))
		ensure(a.WriteAttribute("user:name", name, 0))
		ensure(a.WriteAttribute("user:weights", weights, 0))
		ensure(a.WriteAttribute("user:meta", meta, 0))
		ensure(a.WriteObject(mesh, 0))
		deepEqual(t, must(a.AttributeNames()), []string{"user:meta", "user:name", "user:weights"})
		istrue(t, must(a.HasObject()), "HasObject while writing")
		iserr(t, errOf(a.ReadAttribute("user:name", 0)), ErrIO)
		ensure(w.Close())

		r := open(Read)
		ra := child(r, "a")
		deepEqual[Object](t, must(ra.ReadTransform(0)), tm)
		m := tm.Matrix()
		deepEqual(t, must(ra.ReadTransformAsMatrix(0)), m)
		deepEqual(t, must(ra.AttributeNames()), []string{"user:meta", "user:name", "user:weights"})
		istrue(t, must(ra.HasAttribute("user:name")), "HasAttribute")
		isfalse(t, must(ra.HasAttribute("user:other")), "HasAttribute")
		deepEqual[Object](t, must(ra.ReadAttribute("user:name", 0)), name)
		deepEqual[Object](t, must(ra.ReadAttribute("user:weights", 0)), weights)
		deepEqual[Object](t, must(ra.ReadAttribute("user:meta", 0)), meta)
		istrue(t, must(ra.HasObject()), "HasObject")
		deepEqual[Object](t, must(ra.ReadObject(bg, 0)), mesh)

		vars := must(ra.ReadObjectPrimitiveVariables(bg, []string{PositionVariable, "missing"}, 0))
		deepEqual(t, vars, map[string]PrimitiveVariable{PositionVariable: mesh.Vars[PositionVariable]})

		boxEqual(t, must(ra.ReadBound(bg, 0)), box(v3(0, 0, 0), v3(1, 1, 0)))
		boxEqual(t, must(r.ReadBound(bg, 0)), box(v3(0, 0, 5), v3(1, 1, 5)))
	})
}

func errOf[T any](_ T, err error) error {
	return err
}

func TestSceneCache_SampleIntervals(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := must(w.CreateChild("a"))
		for i, v := range []float64{10, 20, 40} {
			ensure(a.WriteAttribute("x", &DoubleData{Value: v}, float64(i)))
		}
		ensure(a.WriteAttribute("label", &StringData{Value: "first"}, 0))
		ensure(a.WriteAttribute("label", &StringData{Value: "second"}, 1))
		ensure(w.Close())

		ra := child(open(Read), "a").(SampledScene)
		o := func(time float64, e Interval) {
			t.Helper()
			deepEqual(t, must(ra.AttributeSampleInterval("x", time)), e)
		}
		o(-1, Interval{0, 0, 0})
		o(0, Interval{0, 0, 0})
		o(0.25, Interval{0, 1, 0.25})
		o(1, Interval{1, 1, 0})
		o(1+1e-9, Interval{1, 1, 0})
		o(1.5, Interval{1, 2, 0.5})
		o(2, Interval{2, 2, 0})
		o(3, Interval{2, 2, 0})

		deepEqual(t, must(ra.NumAttributeSamples("x")), 3)
		deepEqual(t, must(ra.AttributeSampleTime("x", 2)), 2.0)
		iserr(t, errOf(ra.AttributeSampleTime("x", 3)), ErrInvalidArgument)
		iserr(t, errOf(ra.AttributeSampleTime("x", -1)), ErrInvalidArgument)
		deepEqual[Object](t, must(ra.ReadAttributeAtSample("x", 2)), &DoubleData{Value: 40})

		deepEqual[Object](t, must(ra.ReadAttribute("x", 0.5)), &DoubleData{Value: 15})
		deepEqual[Object](t, must(ra.ReadAttribute("x", 1.5)), &DoubleData{Value: 30})
		deepEqual[Object](t, must(ra.ReadAttribute("x", 7)), &DoubleData{Value: 40})

		// strings don't interpolate, the closer sample wins
		deepEqual[Object](t, must(ra.ReadAttribute("label", 0.4)), &StringData{Value: "first"})
		deepEqual[Object](t, must(ra.ReadAttribute("label", 0.5)), &StringData{Value: "second"})

		iserr(t, errOf(ra.ReadAttribute("nope", 0)), ErrInvalidArgument)
		iserr(t, errOf(ra.NumAttributeSamples("nope")), ErrInvalidArgument)
	})
}

func TestSceneCache_WriteOrder(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := must(w.CreateChild("a"))
		ensure(a.WriteAttribute("x", &DoubleData{Value: 1}, 1))
		iserr(t, a.WriteAttribute("x", &DoubleData{Value: 0}, 0), ErrOutOfOrderWrite)
		ensure(a.WriteAttribute("x", &DoubleData{Value: 2}, 1))
		iserr(t, a.WriteAttribute("x", &IntData{Value: 3}, 2), ErrInvalidArgument)
		iserr(t, a.WriteAttribute("x", &DoubleData{Value: 3}, math.NaN()), ErrInvalidArgument)
		iserr(t, a.WriteAttribute("x", nil, 3), ErrInvalidArgument)

		ensure(a.WriteAttribute(VisibilityAttribute, &BoolData{Value: false}, 2))
		ensure(a.WriteAttribute(VisibilityAttribute, &BoolData{Value: true}, 0))
		ensure(a.WriteAttribute(VisibilityAttribute, &BoolData{Value: false}, 1))
		iserr(t, a.WriteAttribute(VisibilityAttribute, &IntData{Value: 1}, 3), ErrInvalidArgument)
		istrue(t, must(a.HasAttribute(VisibilityAttribute)), "visibility while writing")

		ensure(a.WriteObject(&StringData{Value: "o"}, 0))
		iserr(t, a.WriteObject(&IntData{Value: 1}, 1), ErrInvalidArgument)
		ensure(w.Close())

		ra := child(open(Read), "a").(SampledScene)
		deepEqual(t, must(ra.NumAttributeSamples("x")), 1)
		deepEqual[Object](t, must(ra.ReadAttribute("x", 1)), &DoubleData{Value: 2})

		deepEqual(t, must(ra.NumAttributeSamples(VisibilityAttribute)), 3)
		for i, e := range []bool{true, false, false} {
			deepEqual(t, must(ra.AttributeSampleTime(VisibilityAttribute, i)), float64(i))
			deepEqual[Object](t, must(ra.ReadAttributeAtSample(VisibilityAttribute, i)), &BoolData{Value: e})
		}
		deepEqual(t, must(ra.NumObjectSamples()), 1)
	})
}

func TestSceneCache_InvalidWrites(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		iserr(t, w.WriteTransform(Translation(v3(1, 2, 3)), 0), ErrInvalidArgument)
		iserr(t, w.WriteObject(NewPointsPrimitive(nil), 0), ErrInvalidArgument)

		a := must(w.CreateChild("a"))
		iserr(t, errOf(w.CreateChild("a")), ErrInvalidArgument)
		iserr(t, errOf(w.CreateChild("")), ErrInvalidArgument)
		iserr(t, errOf(w.CreateChild("x/y")), ErrInvalidArgument)
		iserr(t, errOf(w.CreateChild("..")), ErrInvalidArgument)
		iserr(t, a.WriteTransform(&DoubleData{Value: 1}, 0), ErrInvalidArgument)
		iserr(t, a.WriteTransform(nil, 0), ErrInvalidArgument)
		iserr(t, a.WriteObject(nil, 0), ErrInvalidArgument)
		iserr(t, a.WriteSet("s", nil), ErrInvalidArgument)
		iserr(t, errOf(a.Hash(TransformHash, 0)), ErrIO)
		ensure(w.Close())

		r := open(Read)
		ra := child(r, "a")
		iserr(t, ra.WriteBound(box(v3(0, 0, 0), v3(1, 1, 1)), 0), ErrIO)
		iserr(t, ra.WriteTransform(Translation(v3(1, 2, 3)), 0), ErrIO)
		iserr(t, ra.WriteAttribute("x", &DoubleData{}, 0), ErrIO)
		iserr(t, ra.WriteTags([]string{"x"}), ErrIO)
		iserr(t, errOf(r.CreateChild("b")), ErrIO)
		iserr(t, errOf(r.Child("b", CreateIfMissing)), ErrIO)
	})
}

func TestSceneCache_Navigation(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		createChild(w, "a", "b")
		createChild(w, "c")
		ensure(w.Close())

		r := open(Read)
		deepEqual(t, must(r.ChildNames()), []string{"a", "c"})
		istrue(t, must(r.HasChild("a")), "HasChild(a)")
		isfalse(t, must(r.HasChild("b")), "HasChild(b)")

		_, err := r.Child("missing", ThrowIfMissing)
		iserr(t, err, ErrSceneNotFound)
		var se *SceneError
		if errors.As(err, &se) {
			deepEqual(t, se.Path.String(), "/missing")
		} else {
			t.Errorf("** got %T, wanted *SceneError", err)
		}

		c, err := r.Child("missing", NullIfMissing)
		isnil(t, c)
		iserr(t, err, nil)

		b := must(r.Scene(ParsePath("/a/b"), ThrowIfMissing))
		deepEqual(t, b.Name(), "b")
		deepEqual(t, b.Path().String(), "/a/b")
		deepEqual(t, b.Path(), child(r, "a", "b").Path())

		// Scene always starts at the root
		cc := must(b.Scene(ParsePath("/c"), ThrowIfMissing))
		deepEqual(t, cc.Path().String(), "/c")

		s, err := r.Scene(ParsePath("/a/zz/yy"), NullIfMissing)
		isnil(t, s)
		iserr(t, err, nil)
		_, err = r.Scene(ParsePath("/a/zz/yy"), ThrowIfMissing)
		iserr(t, err, ErrSceneNotFound)

		deepEqual(t, r.Name(), RootName)
		deepEqual(t, r.Path().String(), "/")
	})
}

func TestSceneCache_Defaults(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		must(w.CreateChild("empty"))
		ensure(w.Close())

		e := child(open(Read), "empty").(SampledScene)
		deepEqual(t, must(e.ReadTransformAsMatrix(5)), linear.Identity())
		deepEqual(t, must(e.NumTransformSamples()), 1)
		deepEqual(t, must(e.TransformSampleTime(0)), 0.0)
		deepEqual[Object](t, must(e.ReadTransformAtSample(0)), &M44dData{Value: linear.Identity()})

		isfalse(t, must(e.HasBound()), "HasBound")
		istrue(t, must(e.ReadBound(bg, 0)).IsEmpty(), "empty bound")
		deepEqual(t, must(e.NumBoundSamples()), 1)

		isfalse(t, must(e.HasObject()), "HasObject")
		iserr(t, errOf(e.ReadObject(bg, 0)), ErrInvalidArgument)
		iserr(t, errOf(e.NumObjectSamples()), ErrInvalidArgument)
		isempty(t, must(e.AttributeNames()))
		isempty(t, must(e.ChildNames()))
	})
}

func TestSceneCache_AnimatedObjects(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		moving := must(w.CreateChild("moving"))
		ensure(moving.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0))
		ensure(moving.WriteObject(NewPointsPrimitive([]linear.V3{{0, 1, 0}}), 1))
		growing := must(w.CreateChild("growing"))
		ensure(growing.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0))
		ensure(growing.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}, {2, 0, 0}}), 1))
		still := must(w.CreateChild("still"))
		ensure(still.WriteObject(NewPointsPrimitive([]linear.V3{{3, 3, 3}}), 0))
		ensure(w.Close())

		r := open(Read)
		m := child(r, "moving")
		deepEqual[Object](t, must(m.ReadAttribute(AnimatedObjectTopologyAttribute, 0)), &BoolData{Value: false})
		deepEqual[Object](t, must(m.ReadAttribute(AnimatedObjectPrimVarsAttribute, 0)), &StringVectorData{Value: []string{PositionVariable}})
		deepEqual[Object](t, must(m.ReadObject(bg, 0.5)), Object(NewPointsPrimitive([]linear.V3{{0, 0.5, 0}})))

		g := child(r, "growing")
		deepEqual[Object](t, must(g.ReadAttribute(AnimatedObjectTopologyAttribute, 0)), &BoolData{Value: true})
		deepEqual[Object](t, must(g.ReadObject(bg, 0.4)), Object(NewPointsPrimitive([]linear.V3{{0, 0, 0}})))
		deepEqual[Object](t, must(g.ReadObject(bg, 0.6)), Object(NewPointsPrimitive([]linear.V3{{0, 0, 0}, {2, 0, 0}})))
		boxEqual(t, must(g.ReadBound(bg, 1)), box(v3(0, 0, 0), v3(2, 0, 0)))

		isempty(t, must(child(r, "still").AttributeNames()))
	})
}

func TestSceneCache_Hash(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := must(w.CreateChild("a"))
		ensure(a.WriteTransform(Translation(v3(0, 0, 0)), 0))
		ensure(a.WriteTransform(Translation(v3(1, 0, 0)), 1))
		ensure(a.WriteAttribute("x", &IntData{Value: 1}, 0))
		must(w.CreateChild("b"))
		ensure(w.Close())

		r := open(Read)
		ra := child(r, "a")
		h0 := must(ra.Hash(TransformHash, 0))
		deepEqual(t, must(ra.Hash(TransformHash, 0)), h0)
		deepEqual(t, must(ra.Hash(TransformHash, -3)), h0)
		hmid := must(ra.Hash(TransformHash, 0.5))
		if hmid == h0 {
			t.Errorf("** transform hash at 0.5 equals the one at 0")
		}
		if must(ra.Hash(AttributesHash, 0)) == h0 {
			t.Errorf("** attributes hash equals transform hash")
		}
		if must(child(r, "b").Hash(TransformHash, 0)) == h0 {
			t.Errorf("** hashes of different locations are equal")
		}
		deepEqual(t, must(r.Hash(ChildNamesHash, 0)), must(r.Hash(ChildNamesHash, 5)))
		iserr(t, errOf(ra.Hash(HashType(99), 0)), ErrInvalidArgument)
	})
}

func TestSceneCache_Sets(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := createChild(w, "a")
		createChild(w, "a", "b")
		ensure(w.WriteSet("s", pathmatcher.New("/a")))
		ensure(a.WriteSet("s", pathmatcher.New("/b")))
		ensure(a.WriteSet("t", pathmatcher.New("/x")))
		deepEqual(t, must(w.SetNames(true)), []string{"s", "t"})
		ensure(w.Close())

		r := open(Read)
		deepEqual(t, must(r.SetNames(false)), []string{"s"})
		deepEqual(t, must(r.SetNames(true)), []string{"s", "t"})
		deepEqual(t, must(r.ReadSet(bg, "s", false)).Paths(), []string{"/a"})
		deepEqual(t, must(r.ReadSet(bg, "s", true)).Paths(), []string{"/a", "/a/b"})
		deepEqual(t, must(r.ReadSet(bg, "t", true)).Paths(), []string{"/a/x"})
		deepEqual(t, must(child(r, "a").ReadSet(bg, "s", false)).Paths(), []string{"/b"})
		istrue(t, must(r.ReadSet(bg, "none", true)).IsEmpty(), "missing set is empty")
	})
}

func TestSceneCache_Cancelled(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		createChild(w, "a", "b")
		ensure(w.Close())

		r := open(Read)
		ctx, cancel := context.WithCancel(bg)
		cancel()
		iserr(t, errOf(r.ReadBound(ctx, 0)), ErrCancelled)
		iserr(t, errOf(r.ReadSet(ctx, "s", true)), ErrCancelled)
	})
}

func TestSceneCache_FileID(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		id := w.FileID()
		deepEqual(t, w.Mode(), Write)
		ensure(w.Close())

		r := open(Read)
		deepEqual(t, r.FileID(), id)
		deepEqual(t, r.Mode(), Read)
		deepEqual(t, filepath.Base(r.FileName()), "test.scc")
	})
}

func TestSceneCache_Stats(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := createChild(w, "a")
		// a child named like the internal directory must not confuse the count
		createChild(w, "a", "children")
		ensure(a.WriteTransform(Translation(v3(1, 0, 0)), 0))
		ensure(a.WriteAttribute("x", &DoubleData{Value: 1}, 0))
		ensure(a.WriteAttribute("x", &DoubleData{Value: 2}, 1))
		ensure(w.Close())

		r := open(Read)
		must(child(r, "a").ReadAttribute("x", 0.5))
		st := must(r.Stats())
		deepEqual(t, st.Locations, 3)
		deepEqual(t, st.Samples, 3)
		istrue(t, st.Reads >= 2, "reads counted")
		istrue(t, st.Container.Keys > 0, "container keys")
	})
}

func TestCreate(t *testing.T) {
	dir := tempDir(t)
	fn := filepath.Join(dir, "x.scc")

	w := must(Create(fn, Write, testOptions()))
	must(w.CreateChild("a"))
	ensure(w.Close())

	r := must(Create(fn, Read, testOptions()))
	defer r.Close()
	if _, ok := r.(*SceneCache); !ok {
		t.Errorf("** got %T, wanted *SceneCache", r)
	}
	deepEqual(t, must(r.ChildNames()), []string{"a"})

	_, err := Create(filepath.Join(dir, "x.abc"), Read, testOptions())
	iserr(t, err, ErrInvalidArgument)

	exts := SupportedExtensions()
	istrue(t, slices.Contains(exts, ".scc"), ".scc supported")
	istrue(t, slices.Contains(exts, ".lscc"), ".lscc supported")
}
