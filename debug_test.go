package scenecache

import (
	"context"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/andreyvit/scenecache/linear"
)

func TestDump(t *testing.T) {
	backends(t, func(t *testing.T, open func(mode Mode) *SceneCache) {
		w := open(Write)
		a := must(w.CreateChild("a"))
		ensure(a.WriteTransform(&TransformationMatrixData{Scale: v3(1, 1, 1), Translate: v3(1, 0, 0)}, 0))
		ensure(a.WriteObject(NewPointsPrimitive([]linear.V3{{0, 0, 0}}), 0))
		ensure(a.WriteAttribute("user:n", &IntData{Value: 5}, 0))
		ensure(a.WriteAttribute("user:n", &IntData{Value: 6}, 1))
		ensure(a.WriteTags([]string{"hero"}))
		createChild(w, "a", "b")
		createChild(w, "c")
		ensure(w.Close())

		r := open(Read)
		const identity = `M44dData {"Value":[[1,0,0,0],[0,1,0,0],[0,0,1,0],[0,0,0,1]]}`
		expectDump(t, must(Dump(bg, r, 0, DumpAll)), `
/
  bound: [1 0 0]..[1 0 0]
  tags: local=[] descendant=[hero]
  a
    transform: TransformationMatrixData {"Scale":[1,1,1],"Rotate":[0,0,0],"Translate":[1,0,0]}
    bound: [0 0 0]..[0 0 0]
    object: PointsPrimitive (samples: 1)
    attr user:n: IntData {"Value":5} (samples: 2)
    tags: local=[hero] descendant=[hero]
    b
      transform: `+identity+`
      bound: empty
  c
    transform: `+identity+`
    bound: empty
`)

		expectDump(t, must(Dump(bg, child(r, "a"), 0, DumpAttributes|DumpObjects)), `
a
  object: PointsPrimitive
  attr user:n: IntData {"Value":5}
  b
`)

		ctx, cancel := context.WithCancel(bg)
		cancel()
		_, err := Dump(ctx, r, 0, DumpAll)
		iserr(t, err, ErrCancelled)
	})
}

func TestDumpFlags_Contains(t *testing.T) {
	f := DumpBounds | DumpTags
	istrue(t, f.Contains(DumpBounds), "bounds")
	istrue(t, f.Contains(DumpBounds|DumpTags), "bounds and tags")
	isfalse(t, f.Contains(DumpBounds|DumpObjects), "bounds and objects")
	istrue(t, DumpAll.Contains(DumpSamples), "all")
}

func expectDump(t testing.TB, a, e string) {
	t.Helper()
	e = strings.TrimPrefix(e, "\n")
	if a == e {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(e),
		B:        difflib.SplitLines(a),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	t.Errorf("** dump mismatch:\n%s", diff)
}
