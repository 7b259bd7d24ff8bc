package indexedio

import (
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"
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

func tempPath(t testing.TB) string {
	t.Helper()
	f := must(os.CreateTemp("", "indexedio_test_*.db"))
	t.Logf("DB: %s", f.Name())
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

// backends runs fn once against a Bolt file and once against a MemoryStore.
// open(mode) reopens the same container.
func backends(t *testing.T, fn func(t *testing.T, open func(mode Mode) *File)) {
	t.Run("bolt", func(t *testing.T) {
		path := tempPath(t)
		fn(t, func(mode Mode) *File {
			f := must(Open(path, mode, Options{IsTesting: true, Verbose: true}))
			t.Cleanup(func() { f.Close() })
			return f
		})
	})
	t.Run("memory", func(t *testing.T) {
		store := NewMemoryStore()
		fn(t, func(mode Mode) *File {
			f := must(OpenMemory(store, "mem", mode, Options{IsTesting: true}))
			t.Cleanup(func() { f.Close() })
			return f
		})
	})
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
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
