// Package indexedio implements a hierarchical random-access container:
// directories nest to arbitrary depth and hold named files (byte blobs),
// any of which can be read without scanning the rest of the container.
//
// Files are stored in Bolt, one top-level bucket per container, with
// directories as nested buckets. Entry names are escaped (see Escape) so
// tools can interoperate on raw Bolt files.
package indexedio

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.etcd.io/bbolt"
)

// Mode selects how a container is opened.
type Mode int

const (
	Read Mode = iota
	Write
	Append
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MissingBehaviour controls lookups of entries that do not exist.
type MissingBehaviour int

const (
	ThrowIfMissing MissingBehaviour = iota
	NullIfMissing
	CreateIfMissing
)

// EntryType distinguishes directories from files.
type EntryType int

const (
	AnyEntry EntryType = iota
	DirectoryEntry
	FileEntry
)

// Entry describes one name inside a directory.
type Entry struct {
	Name string
	Type EntryType
	Size int
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration
}

func (opt Options) logger() *slog.Logger {
	if opt.Logger != nil {
		return opt.Logger
	}
	return slog.Default()
}

// File is an open container.
//
// In Read mode every operation runs in its own read transaction, so a File
// may be shared by any number of goroutines. In Write mode a single write
// transaction stays open until Flush or Close, and operations are serialized.
type File struct {
	st      storage
	name    string
	mode    Mode
	logger  *slog.Logger
	verbose bool

	mu     sync.Mutex
	wtx    storageTx
	closed bool
}

// Open opens a Bolt-backed container. Write mode discards previous contents.
func Open(path string, mode Mode, opt Options) (*File, error) {
	if mode != Read && mode != Write {
		return nil, entryErr(nil, nil, path, fmt.Errorf("%w: %v", ErrUnsupportedMode, mode))
	}
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	if mode == Read {
		bopt.ReadOnly = true
	}

	osPath, err := homedir.Expand(path)
	if err != nil {
		return nil, &EntryError{File: path, Err: err}
	}
	bdb, err := bbolt.Open(osPath, 0666, &bopt)
	if err != nil {
		return nil, &EntryError{File: path, Err: err}
	}
	return newFile(newBoltStorage(bdb), path, mode, opt)
}

// OpenMemory opens a container held by store.
func OpenMemory(store *MemoryStore, name string, mode Mode, opt Options) (*File, error) {
	if mode != Read && mode != Write {
		return nil, entryErr(nil, nil, name, fmt.Errorf("%w: %v", ErrUnsupportedMode, mode))
	}
	return newFile(newMemStorage(store), name, mode, opt)
}

func newFile(st storage, name string, mode Mode, opt Options) (*File, error) {
	f := &File{
		st:      st,
		name:    name,
		mode:    mode,
		logger:  opt.logger(),
		verbose: opt.Verbose,
	}
	if mode == Write {
		if err := f.beginWrite(true); err != nil {
			st.Close()
			return nil, err
		}
	}
	if f.verbose {
		f.logger.Debug("indexedio: opened", "file", name, "mode", mode)
	}
	return f, nil
}

func (f *File) beginWrite(reset bool) error {
	tx, err := f.st.BeginTx(true)
	if err != nil {
		return entryErr(f, nil, "", err)
	}
	if reset || tx.Root() == nil {
		if _, err := tx.ResetRoot(); err != nil {
			tx.Rollback()
			return entryErr(f, nil, "", err)
		}
	}
	f.wtx = tx
	return nil
}

func (f *File) Name() string { return f.name }

func (f *File) Mode() Mode { return f.mode }

// Root returns the top-level directory.
func (f *File) Root() *Directory {
	return &Directory{f: f}
}

// Flush commits everything written so far. Writing may continue afterwards.
func (f *File) Flush() error {
	if f.mode != Write {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return entryErr(f, nil, "", ErrClosed)
	}
	if err := f.wtx.Commit(); err != nil {
		return entryErr(f, nil, "", err)
	}
	f.wtx = nil
	return f.beginWrite(false)
}

// Close commits pending writes and releases the container. It is safe to
// call more than once.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	if f.wtx != nil {
		err = f.wtx.Commit()
		f.wtx = nil
	}
	if cerr := f.st.Close(); err == nil {
		err = cerr
	}
	if f.verbose {
		f.logger.Debug("indexedio: closed", "file", f.name, "err", err)
	}
	return entryErr(f, nil, "", err)
}

// view runs fn against the committed root (Read mode) or the pending write
// transaction (Write mode). root is nil for a container that was never written.
func (f *File) view(fn func(root storageBucket) error) error {
	if f.mode == Write {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed {
			return ErrClosed
		}
		return fn(f.wtx.Root())
	}
	tx, err := f.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx.Root())
}

func (f *File) update(fn func(root storageBucket) error) error {
	if f.mode != Write {
		return ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return fn(f.wtx.Root())
}

// Directory is a handle to a directory of a File. Handles are cheap values
// that resolve their path on every operation.
type Directory struct {
	f    *File
	path []string
}

func (d *Directory) File() *File { return d.f }

// Path returns the unescaped names leading to d from the root.
func (d *Directory) Path() []string { return slices.Clone(d.path) }

// Name returns the last path element, or "" for the root.
func (d *Directory) Name() string {
	if len(d.path) == 0 {
		return ""
	}
	return d.path[len(d.path)-1]
}

// Parent returns the enclosing directory, or nil for the root.
func (d *Directory) Parent() *Directory {
	if len(d.path) == 0 {
		return nil
	}
	return &Directory{f: d.f, path: d.path[:len(d.path)-1]}
}

func (d *Directory) child(name string) *Directory {
	p := make([]string, len(d.path), len(d.path)+1)
	copy(p, d.path)
	return &Directory{f: d.f, path: append(p, name)}
}

// Join returns a handle to a directory below d without touching the
// container; whether it exists is checked by the operations on it.
func (d *Directory) Join(names ...string) *Directory {
	p := make([]string, 0, len(d.path)+len(names))
	p = append(p, d.path...)
	return &Directory{f: d.f, path: append(p, names...)}
}

// Exists reports whether d is present in the container.
func (d *Directory) Exists() (bool, error) {
	var found bool
	err := d.f.view(func(root storageBucket) error {
		found = d.resolve(root) != nil
		return nil
	})
	return found, entryErr(d.f, d.path, "", err)
}

func (d *Directory) resolve(root storageBucket) storageBucket {
	b := root
	for _, name := range d.path {
		if b == nil {
			return nil
		}
		b = b.Bucket(unsafeBytesFromString(Escape(name)))
	}
	return b
}

func (d *Directory) resolveOrFail(root storageBucket) (storageBucket, error) {
	b := d.resolve(root)
	if b == nil {
		return nil, entryErr(d.f, d.Parent().pathOrNil(), d.Name(), ErrNotFound)
	}
	return b, nil
}

func (d *Directory) pathOrNil() []string {
	if d == nil {
		return nil
	}
	return d.path
}

func (d *Directory) create(root storageBucket) (storageBucket, error) {
	b := root
	for i, name := range d.path {
		sub, err := b.CreateBucket(unsafeBytesFromString(Escape(name)))
		if err != nil {
			return nil, entryErr(d.f, d.path[:i], name, err)
		}
		b = sub
	}
	return b, nil
}

// Subdirectory opens a child directory. With CreateIfMissing the child and
// any missing ancestors are created; this fails in Read mode.
func (d *Directory) Subdirectory(name string, mb MissingBehaviour) (*Directory, error) {
	if err := ValidateName(name); err != nil {
		return nil, entryErr(d.f, d.path, name, err)
	}
	if mb == CreateIfMissing {
		return d.CreateSubdirectory(name)
	}
	var found, incompatible bool
	err := d.f.view(func(root storageBucket) error {
		b := d.resolve(root)
		if b == nil {
			return nil
		}
		key := unsafeBytesFromString(Escape(name))
		found = b.Bucket(key) != nil
		incompatible = !found && b.Get(key) != nil
		return nil
	})
	if err != nil {
		return nil, entryErr(d.f, d.path, name, err)
	}
	if incompatible {
		return nil, entryErr(d.f, d.path, name, ErrIncompatibleEntry)
	}
	if !found {
		if mb == NullIfMissing {
			return nil, nil
		}
		return nil, entryErr(d.f, d.path, name, ErrNotFound)
	}
	return d.child(name), nil
}

// CreateSubdirectory returns the named child directory, creating it if needed.
func (d *Directory) CreateSubdirectory(name string) (*Directory, error) {
	if err := ValidateName(name); err != nil {
		return nil, entryErr(d.f, d.path, name, err)
	}
	c := d.child(name)
	err := d.f.update(func(root storageBucket) error {
		_, err := c.create(root)
		return err
	})
	if err != nil {
		return nil, entryErr(d.f, d.path, name, err)
	}
	return c, nil
}

// HasEntry reports whether the directory holds a file or directory called name.
func (d *Directory) HasEntry(name string) (bool, error) {
	e, err := d.lookup(name)
	return e.Type != AnyEntry, err
}

// Entry describes name, failing with ErrNotFound if it does not exist.
func (d *Directory) Entry(name string) (Entry, error) {
	e, err := d.lookup(name)
	if err != nil {
		return e, err
	}
	if e.Type == AnyEntry {
		return e, entryErr(d.f, d.path, name, ErrNotFound)
	}
	return e, nil
}

func (d *Directory) lookup(name string) (Entry, error) {
	e := Entry{Name: name}
	err := d.f.view(func(root storageBucket) error {
		b := d.resolve(root)
		if b == nil {
			return nil
		}
		key := unsafeBytesFromString(Escape(name))
		if b.Bucket(key) != nil {
			e.Type = DirectoryEntry
		} else if v := b.Get(key); v != nil {
			e.Type, e.Size = FileEntry, len(v)
		}
		return nil
	})
	return e, entryErr(d.f, d.path, name, err)
}

// Entries lists the names of entries of the given type in key order.
// A missing directory has no entries.
func (d *Directory) Entries(typ EntryType) ([]string, error) {
	var names []string
	err := d.f.view(func(root storageBucket) error {
		b := d.resolve(root)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k []byte, isBucket bool, _ int) error {
			if typ == DirectoryEntry && !isBucket || typ == FileEntry && isBucket {
				return nil
			}
			name, err := Unescape(string(k))
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			names = append(names, name)
			return nil
		})
	})
	return names, entryErr(d.f, d.path, "", err)
}

// Read returns a copy of the named file's contents.
func (d *Directory) Read(name string) ([]byte, error) {
	var data []byte
	err := d.f.view(func(root storageBucket) error {
		b, err := d.resolveOrFail(root)
		if err != nil {
			return err
		}
		key := unsafeBytesFromString(Escape(name))
		v := b.Get(key)
		if v == nil {
			if b.Bucket(key) != nil {
				return ErrIncompatibleEntry
			}
			return ErrNotFound
		}
		data = slices.Clone(v)
		if data == nil {
			data = []byte{}
		}
		return nil
	})
	return data, entryErr(d.f, d.path, name, err)
}

// Write stores data under name, replacing a previous file of that name.
// The directory and its ancestors are created if needed.
func (d *Directory) Write(name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return entryErr(d.f, d.path, name, err)
	}
	err := d.f.update(func(root storageBucket) error {
		b, err := d.create(root)
		if err != nil {
			return err
		}
		return b.Put([]byte(Escape(name)), data)
	})
	return entryErr(d.f, d.path, name, err)
}

// Remove deletes a file or a directory with everything below it.
func (d *Directory) Remove(name string) error {
	err := d.f.update(func(root storageBucket) error {
		b, err := d.resolveOrFail(root)
		if err != nil {
			return err
		}
		key := []byte(Escape(name))
		if b.Bucket(key) != nil {
			return b.DeleteBucket(key)
		}
		if b.Get(key) == nil {
			return ErrNotFound
		}
		return b.Delete(key)
	})
	return entryErr(d.f, d.path, name, err)
}

// Walk calls fn for d and every directory below it, parents first.
func (d *Directory) Walk(fn func(dir *Directory, files []Entry) error) error {
	files, subdirs, err := d.list()
	if err != nil {
		return err
	}
	if err := fn(d, files); err != nil {
		return err
	}
	for _, name := range subdirs {
		if err := d.child(name).Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) list() (files []Entry, subdirs []string, err error) {
	err = d.f.view(func(root storageBucket) error {
		b := d.resolve(root)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k []byte, isBucket bool, size int) error {
			name, err := Unescape(string(k))
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			if isBucket {
				subdirs = append(subdirs, name)
			} else {
				files = append(files, Entry{Name: name, Type: FileEntry, Size: size})
			}
			return nil
		})
	})
	return files, subdirs, entryErr(d.f, d.path, "", err)
}
