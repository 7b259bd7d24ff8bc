package scenecache

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andreyvit/scenecache/indexedio"
	"github.com/andreyvit/scenecache/linear"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

var bg = context.Background()

func testOptions() Options {
	return Options{IsTesting: true, Verbose: true}
}

func tempDir(t testing.TB) string {
	t.Helper()
	dir := must(os.MkdirTemp("", "scenecache_test_*"))
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// backends runs fn once against a Bolt file and once against a MemoryStore.
// open(mode) reopens the same file.
func backends(t *testing.T, fn func(t *testing.T, open func(mode Mode) *SceneCache)) {
	t.Run("bolt", func(t *testing.T) {
		path := filepath.Join(tempDir(t), "test.scc")
		fn(t, func(mode Mode) *SceneCache {
			s := must(OpenSceneCache(path, mode, testOptions()))
			t.Cleanup(func() { s.Close() })
			return s
		})
	})
	t.Run("memory", func(t *testing.T) {
		store := indexedio.NewMemoryStore()
		fn(t, func(mode Mode) *SceneCache {
			s := must(OpenMemorySceneCache(store, "test.scc", mode, testOptions()))
			t.Cleanup(func() { s.Close() })
			return s
		})
	})
}

// memFiles is a set of in-memory scene files addressed by name.
type memFiles struct {
	stores map[string]*indexedio.MemoryStore
}

func newMemFiles() *memFiles {
	return &memFiles{stores: make(map[string]*indexedio.MemoryStore)}
}

func (fs *memFiles) store(name string) *indexedio.MemoryStore {
	st := fs.stores[name]
	if st == nil {
		st = indexedio.NewMemoryStore()
		fs.stores[name] = st
	}
	return st
}

// open is an OpenFunc over the in-memory files. Names ending in .lscc open
// with link support.
func (fs *memFiles) open(fileName string, mode Mode, opt Options) (Scene, error) {
	s, err := OpenMemorySceneCache(fs.store(fileName), fileName, mode, opt)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(fileName) == ".lscc" {
		return NewLinkedScene(s, mode, opt), nil
	}
	return s, nil
}

func (fs *memFiles) create(t testing.TB, fileName string) *SceneCache {
	t.Helper()
	s := must(OpenMemorySceneCache(fs.store(fileName), fileName, Write, testOptions()))
	t.Cleanup(func() { s.Close() })
	return s
}

func (fs *memFiles) read(t testing.TB, fileName string) *SceneCache {
	t.Helper()
	s := must(OpenMemorySceneCache(fs.store(fileName), fileName, Read, testOptions()))
	t.Cleanup(func() { s.Close() })
	return s
}

func child(s Scene, names ...string) Scene {
	for _, name := range names {
		s = must(s.Child(name, ThrowIfMissing))
	}
	return s
}

func createChild(s Scene, names ...string) Scene {
	for _, name := range names {
		s = must(s.Child(name, CreateIfMissing))
	}
	return s
}

func v3(x, y, z float64) linear.V3 { return linear.V3{x, y, z} }

func box(min, max linear.V3) linear.Box3 { return linear.Box3{Min: min, Max: max} }

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func boxEqual(t testing.TB, a, e linear.Box3) {
	for i := range 3 {
		if math.Abs(a.Min[i]-e.Min[i]) > 1e-9 || math.Abs(a.Max[i]-e.Max[i]) > 1e-9 {
			t.Helper()
			t.Errorf("** got box %v..%v, wanted %v..%v", a.Min, a.Max, e.Min, e.Max)
			return
		}
	}
}

func isnil(t testing.TB, a any) {
	if a != nil && !reflect.ValueOf(a).IsNil() {
		t.Helper()
		t.Errorf("** got %v, wanted nil", a)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func iserr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func istrue(t testing.TB, v bool, what string) {
	if !v {
		t.Helper()
		t.Errorf("** %s: got false, wanted true", what)
	}
}

func isfalse(t testing.TB, v bool, what string) {
	if v {
		t.Helper()
		t.Errorf("** %s: got true, wanted false", what)
	}
}
