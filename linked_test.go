package scenecache

import (
	"errors"
	"testing"

	"github.com/andreyvit/scenecache/linear"
	"github.com/andreyvit/scenecache/pathmatcher"
)

// writeTarget writes target.scc: /y is a point moving along Y from t=0 to
// t=4, with a tagged child /y/c.
func writeTarget(t *testing.T, fs *memFiles) {
	w := fs.create(t, "target.scc")
	y := createChild(w, "y")
	ensure(y.WriteTransform(Translation(v3(0, 0, 1)), 0))
	ensure(y.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0))
	ensure(y.WriteObject(NewPointsPrimitive([]linear.V3{{0, 4, 0}}), 4))
	ensure(y.WriteSet("s", pathmatcher.New("/c")))
	c := createChild(w, "y", "c")
	ensure(c.WriteTags([]string{"hero"}))
	ensure(c.WriteAttribute("user:v", &DoubleData{Value: 1}, 0))
	ensure(w.Close())
}

func linkedSetup(t *testing.T) (*memFiles, Options) {
	fs := newMemFiles()
	writeTarget(t, fs)
	sh := NewShared(SharedOptions{Open: fs.open, Options: testOptions()})
	t.Cleanup(func() { sh.Close() })
	opt := testOptions()
	opt.Shared = sh
	return fs, opt
}

func openLinked(t *testing.T, fs *memFiles, name string, mode Mode, opt Options) Scene {
	s := must(fs.open(name, mode, opt))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLinkedScene_Remapped(t *testing.T) {
	fs, opt := linkedSetup(t)

	w := openLinked(t, fs, "main.lscc", Write, opt)
	x := must(w.CreateChild("x"))
	ensure(x.WriteTransform(Translation(v3(10, 0, 0)), 0))
	link := &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 2, TimeOffset: 1}
	ensure(x.WriteAttribute(LinkAttribute, link, 0))
	ensure(x.WriteAttribute(LinkAttribute, link, 1))
	ensure(w.Close())

	r := openLinked(t, fs, "main.lscc", Read, opt)
	ty := child(fs.read(t, "target.scc"), "y")
	rx := child(r, "x")

	deepEqual(t, must(rx.ChildNames()), []string{"c"})
	istrue(t, must(rx.HasChild("c")), "HasChild(c)")
	deepEqual(t, must(rx.ReadTransformAsMatrix(0)), Translation(v3(10, 0, 0)).Value)

	istrue(t, must(rx.HasObject()), "HasObject")
	for _, tm := range []float64{0, 0.5, 1} {
		deepEqual(t, must(rx.ReadObject(bg, tm)), must(ty.ReadObject(bg, tm*2+1)))
	}

	// bounds were copied at the link when it was written
	istrue(t, must(rx.HasBound()), "HasBound")
	boxEqual(t, must(rx.ReadBound(bg, 0)), linear.PointBox(v3(0, 1, 0)))
	boxEqual(t, must(rx.ReadBound(bg, 1)), linear.PointBox(v3(0, 3, 0)))
	boxEqual(t, must(r.ReadBound(bg, 0)), linear.PointBox(v3(10, 1, 0)))

	// samples of linked contents are the link's samples
	rxs := rx.(SampledScene)
	deepEqual(t, must(rxs.NumObjectSamples()), 2)
	deepEqual(t, must(rxs.ObjectSampleTime(1)), 1.0)
	deepEqual(t, must(rxs.ObjectSampleInterval(0.5)), Interval{Floor: 0, Ceil: 1, X: 0.5})
	deepEqual(t, must(rxs.ReadObjectAtSample(1)), must(ty.ReadObject(bg, 3)))
	deepEqual(t, must(rxs.NumTransformSamples()), 1)

	rc := child(r, "x", "c")
	deepEqual(t, rc.Path().String(), "/x/c")
	deepEqual(t, rc.Name(), "c")
	deepEqual[Object](t, must(rc.ReadAttribute("user:v", 0)), &DoubleData{Value: 1})
	deepEqual(t, must(rc.AttributeNames()), []string{"user:v"})
	deepEqual(t, must(r.Scene(ParsePath("/x/c"), ThrowIfMissing)).Path().String(), "/x/c")

	_, err := rx.Child("nope", ThrowIfMissing)
	iserr(t, err, ErrSceneNotFound)
	var se *SceneError
	if errors.As(err, &se) {
		deepEqual(t, se.Path.String(), "/x/nope")
	}
	c, err := rx.Child("nope", NullIfMissing)
	isnil(t, c)
	iserr(t, err, nil)
}

func TestLinkedScene_LinkAttributesHidden(t *testing.T) {
	fs, opt := linkedSetup(t)

	w := openLinked(t, fs, "main.lscc", Write, opt)
	x := must(w.CreateChild("x"))
	ensure(x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1}, 0))
	ensure(x.WriteAttribute("user:own", &IntData{Value: 7}, 0))
	ensure(w.Close())

	r := openLinked(t, fs, "main.lscc", Read, opt)
	rx := child(r, "x")
	isfalse(t, must(rx.HasAttribute(LinkAttribute)), "HasAttribute(link)")
	deepEqual(t, must(rx.AttributeNames()), []string{"user:own"})
	isfalse(t, must(r.HasAttribute(LinkLocationsAttribute)), "HasAttribute(linkLocations)")

	ld := must(rx.ReadAttribute(LinkAttribute, 0)).(*LinkData)
	deepEqual(t, ld.String(), "target.scc:/y")
	isfalse(t, ld.IsRemapped(), "IsRemapped")
	locs := must(r.ReadAttribute(LinkLocationsAttribute, 0)).(*PathMatcherData)
	deepEqual(t, locs.Value.Paths(), []string{"/x"})
}

func TestLinkedScene_PlainLinkCopiesBoundSamples(t *testing.T) {
	fs, opt := linkedSetup(t)
	ty := child(fs.read(t, "target.scc"), "y")

	w := openLinked(t, fs, "main.lscc", Write, opt)
	x := must(w.CreateChild("x"))
	ensure(x.WriteAttribute(LinkAttribute, LinkTo(ty), 0))
	ensure(w.Close())

	r := openLinked(t, fs, "main.lscc", Read, opt)
	rx := child(r, "x").(SampledScene)
	deepEqual(t, must(rx.NumBoundSamples()), 2)
	deepEqual(t, must(rx.BoundSampleTime(1)), 4.0)
	boxEqual(t, must(rx.ReadBound(bg, 2)), linear.PointBox(v3(0, 2, 0)))

	// not remapped, so the target's own samples show through
	deepEqual(t, must(rx.NumObjectSamples()), 2)
	deepEqual(t, must(rx.ObjectSampleTime(1)), 4.0)
	deepEqual(t, must(rx.ReadObjectAtSample(1)), must(ty.(SampledScene).ReadObjectAtSample(1)))

	h := must(ty.Hash(ObjectHash, 2))
	deepEqual(t, must(rx.Hash(ObjectHash, 2)), h^hashString("/x"))
}

func TestLinkedScene_Tags(t *testing.T) {
	fs, opt := linkedSetup(t)

	w := openLinked(t, fs, "main.lscc", Write, opt)
	x := must(w.CreateChild("x"))
	ensure(x.WriteTags([]string{"prop"}))
	ensure(x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1}, 0))
	istrue(t, must(w.HasTag("hero", DescendantTag)), "root descendant while writing")
	ensure(w.Close())

	r := openLinked(t, fs, "main.lscc", Read, opt)
	istrue(t, must(r.HasTag("hero", DescendantTag)), "root descendant")
	isfalse(t, must(r.HasTag("hero", LocalTag)), "root local")

	rx := child(r, "x")
	istrue(t, must(rx.HasTag("hero", DescendantTag)), "/x descendant")
	isfalse(t, must(rx.HasTag("hero", LocalTag)), "/x local")
	istrue(t, must(rx.HasTag("prop", LocalTag)), "/x local prop")
	istrue(t, must(rx.HasTag("prop", DescendantTag)), "/x descendant prop")
	isfalse(t, must(rx.HasTag("prop", AncestorTag)), "/x ancestor prop")
	deepEqual(t, must(rx.ReadTags(EveryTag)), []string{"hero", "prop"})
	deepEqual(t, must(rx.ReadTags(LocalTag)), []string{"prop"})

	rc := child(r, "x", "c")
	istrue(t, must(rc.HasTag("hero", LocalTag)), "/x/c local")
	istrue(t, must(rc.HasTag("prop", AncestorTag)), "/x/c ancestor from the main file")
	isfalse(t, must(rc.HasTag("prop", LocalTag)), "/x/c local prop")
}

func TestLinkState_Remap(t *testing.T) {
	l := &linkState{
		times: []float64{0, 1},
		links: []*LinkData{
			{TimeMultiplier: 1},
			{TimeMultiplier: 1, TimeOffset: 2},
		},
	}
	o := func(t0, e float64) {
		t.Helper()
		deepEqual(t, l.remap(t0), e)
	}
	o(-1, -1)
	o(0, 0)
	o(0.25, 0.75)
	o(0.5, 1.5)
	o(1, 3)
	o(2, 4)

	single := &linkState{times: []float64{0}, links: []*LinkData{{TimeMultiplier: 2, TimeOffset: 1}}}
	deepEqual(t, single.remap(3), 7.0)
}

func TestLinkedScene_RemapInterpolatesLinkSamples(t *testing.T) {
	fs, opt := linkedSetup(t)

	w := openLinked(t, fs, "main.lscc", Write, opt)
	x := must(w.CreateChild("x"))
	ensure(x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1, TimeOffset: 1}, 0))
	ensure(x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1, TimeOffset: 3}, 1))
	ensure(w.Close())

	r := openLinked(t, fs, "main.lscc", Read, opt)
	rx := child(r, "x")
	// the target point moves one unit along Y per unit of time
	o := func(t0 float64, y float64) {
		t.Helper()
		obj := must(rx.ReadObject(bg, t0))
		boxEqual(t, obj.(Primitive).Bound(), linear.PointBox(v3(0, y, 0)))
	}
	o(0, 1)
	o(0.25, 1.75)
	o(0.5, 2.5)
	o(0.75, 3.25)
	o(1, 4)
}

func TestLinkedScene_HashAtLinkTracksMainFile(t *testing.T) {
	fs, opt := linkedSetup(t)

	write := func(tx float64) {
		w := must(fs.open("main.lscc", Write, opt))
		x := must(w.CreateChild("x"))
		ensure(x.WriteTransform(Translation(v3(tx, 0, 0)), 0))
		ensure(x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1}, 0))
		ensure(w.Close())
	}
	hashes := func() (hier, names uint64) {
		r := must(fs.open("main.lscc", Read, opt))
		defer r.Close()
		rx := child(r, "x")
		return must(rx.Hash(HierarchyHash, 0)), must(rx.Hash(ChildNamesHash, 0))
	}

	write(1)
	h1, n1 := hashes()
	h1again, n1again := hashes()
	deepEqual(t, h1again, h1)
	deepEqual(t, n1again, n1)

	write(2)
	h2, n2 := hashes()
	if h2 == h1 {
		t.Errorf("** HierarchyHash at the link did not change after rewriting the main file")
	}
	if n2 == n1 {
		t.Errorf("** ChildNamesHash at the link did not change after rewriting the main file")
	}
}

func TestLinkedScene_Sets(t *testing.T) {
	fs, opt := linkedSetup(t)

	w := openLinked(t, fs, "main.lscc", Write, opt)
	ensure(w.WriteSet("s", pathmatcher.New("/z")))
	must(w.CreateChild("z"))
	x := must(w.CreateChild("x"))
	ensure(x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1}, 0))
	ensure(w.Close())

	r := openLinked(t, fs, "main.lscc", Read, opt)
	deepEqual(t, must(r.SetNames(false)), []string{"s"})
	deepEqual(t, must(r.SetNames(true)), []string{"s"})
	deepEqual(t, must(r.ReadSet(bg, "s", false)).Paths(), []string{"/z"})
	deepEqual(t, must(r.ReadSet(bg, "s", true)).Paths(), []string{"/x/c", "/z"})
	deepEqual(t, must(child(r, "x").ReadSet(bg, "s", true)).Paths(), []string{"/c"})
}

func TestLinkedScene_BrokenLink(t *testing.T) {
	fs, opt := linkedSetup(t)

	w := openLinked(t, fs, "main.lscc", Write, opt)
	x := must(w.CreateChild("x"))
	err := x.WriteAttribute(LinkAttribute, &LinkData{FileName: "missing.scc", TimeMultiplier: 1}, 0)
	iserr(t, err, ErrLinkResolution)
	err = x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/nope"), TimeMultiplier: 1}, 0)
	iserr(t, err, ErrLinkResolution)
	ensure(w.Close())

	// a link written without checking its target
	raw := fs.create(t, "raw.lscc")
	rx := createChild(raw, "x")
	ensure(rx.WriteAttribute(LinkAttribute, &LinkData{FileName: "gone.scc", Root: ParsePath("/y"), TimeMultiplier: 1}, 0))
	ensure(raw.Close())

	r := openLinked(t, fs, "raw.lscc", Read, opt)
	deepEqual(t, must(r.ChildNames()), []string{"x"})
	lx := child(r, "x")
	_, err = lx.ChildNames()
	iserr(t, err, ErrLinkResolution)
	var le *LinkError
	if errors.As(err, &le) {
		deepEqual(t, le.Path.String(), "/x")
		deepEqual(t, le.Target, "gone.scc:/y")
	} else {
		t.Errorf("** got %T, wanted *LinkError", err)
	}
	_, err = lx.ReadObject(bg, 0)
	iserr(t, err, ErrLinkResolution)

	// the link location's own data is still readable
	deepEqual(t, must(lx.ReadTransformAsMatrix(0)), linear.Identity())
}

func TestLinkedScene_LinkWins(t *testing.T) {
	fs, opt := linkedSetup(t)

	raw := fs.create(t, "raw.lscc")
	x := createChild(raw, "x")
	ensure(x.WriteAttribute(LinkAttribute, &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1}, 0))
	createChild(raw, "x", "own")
	ensure(raw.Close())

	r := openLinked(t, fs, "raw.lscc", Read, opt)
	rx := child(r, "x")
	deepEqual(t, must(rx.ChildNames()), []string{"c"})
	isfalse(t, must(rx.HasChild("own")), "HasChild(own)")
	istrue(t, must(rx.HasObject()), "HasObject")
}

func TestLinkedScene_InvalidWrites(t *testing.T) {
	fs, opt := linkedSetup(t)
	link := &LinkData{FileName: "target.scc", Root: ParsePath("/y"), TimeMultiplier: 1}

	w := openLinked(t, fs, "main.lscc", Write, opt)
	iserr(t, w.WriteAttribute(LinkAttribute, link, 0), ErrInvalidArgument)
	iserr(t, w.WriteAttribute(LinkLocationsAttribute, &PathMatcherData{Value: pathmatcher.New()}, 0), ErrInvalidArgument)

	withObject := must(w.CreateChild("o"))
	ensure(withObject.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0))
	iserr(t, withObject.WriteAttribute(LinkAttribute, link, 0), ErrInvalidArgument)

	x := must(w.CreateChild("x"))
	iserr(t, x.WriteAttribute(LinkAttribute, &StringData{Value: "target.scc"}, 0), ErrInvalidArgument)
	ensure(x.WriteAttribute(LinkAttribute, link, 0))
	iserr(t, x.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0), ErrInvalidArgument)
	iserr(t, errOf(x.CreateChild("c")), ErrInvalidArgument)
	iserr(t, errOf(x.Child("new", CreateIfMissing)), ErrInvalidArgument)

	other := &LinkData{FileName: "target.scc", Root: ParsePath("/y/c"), TimeMultiplier: 1}
	iserr(t, x.WriteAttribute(LinkAttribute, other, 1), ErrInvalidArgument)
	ensure(x.WriteAttribute(LinkAttribute, link, 1))
	ensure(w.Close())
}

func TestLinkedScene_PlainFile(t *testing.T) {
	fs, opt := linkedSetup(t)

	// a file without links reads the same through a LinkedScene
	fs.stores["target.lscc"] = fs.stores["target.scc"]
	r := openLinked(t, fs, "target.lscc", Read, opt)
	deepEqual(t, must(r.ChildNames()), []string{"y"})
	deepEqual(t, must(child(r, "y").ChildNames()), []string{"c"})
	istrue(t, must(r.HasTag("hero", DescendantTag)), "descendant tag")
	deepEqual(t, must(child(r, "y").ReadObject(bg, 2)), Object(NewPointsPrimitive([]linear.V3{{0, 2, 0}})))
}
