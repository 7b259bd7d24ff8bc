package scenecache

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/andreyvit/scenecache/indexedio"
)

const formatVersion = 1

// Container entry names.
const (
	headerEntry      = "header"
	sampleTimesEntry = "sampleTimes"
	rootEntry        = "root"
	childrenEntry    = "children"
	attributesEntry  = "attributes"
	objectEntry      = "object"
	transformEntry   = "transform"
	boundEntry       = "bound"
	tagsEntry        = "tags"
	setsEntry        = "sets"
)

type fileHeader struct {
	Version int       `msgpack:"v"`
	FileID  uuid.UUID `msgpack:"id"`
	Created time.Time `msgpack:"created"`
}

type storedTags struct {
	Local      []string `msgpack:"l,omitempty"`
	Descendant []string `msgpack:"d,omitempty"`
}

// SceneCache is a Scene stored in an indexedio container.
//
// A file opened for reading may be used from many goroutines. A file opened
// for writing is meant for a single writer; its sample data cannot be read
// back until it is closed and reopened.
type SceneCache struct {
	r    *cacheRoot
	path Path
	dir  *indexedio.Directory
}

var (
	_ SampledScene = (*SceneCache)(nil)
)

type cacheRoot struct {
	file    *indexedio.File
	name    string
	mode    Mode
	logger  *slog.Logger
	verbose bool
	header  fileHeader

	timesOnce sync.Once
	times     [][]float64
	timesErr  error

	bounds *lru.Cache

	w *writer

	reads  atomic.Uint64
	writes atomic.Uint64

	closeMu sync.Mutex
	closed  bool
}

// OpenSceneCache opens the root of a scene cache file. Write mode creates
// the file, discarding previous contents.
func OpenSceneCache(fileName string, mode Mode, opt Options) (*SceneCache, error) {
	f, err := indexedio.Open(fileName, mode, opt.containerOptions())
	if err != nil {
		return nil, wrapErr(fileName, nil, "", err)
	}
	return newSceneCache(f, fileName, mode, opt)
}

// OpenMemorySceneCache opens a scene cache held in store. fileName is only
// used in errors and by Shared.
func OpenMemorySceneCache(store *indexedio.MemoryStore, fileName string, mode Mode, opt Options) (*SceneCache, error) {
	f, err := indexedio.OpenMemory(store, fileName, mode, opt.containerOptions())
	if err != nil {
		return nil, wrapErr(fileName, nil, "", err)
	}
	return newSceneCache(f, fileName, mode, opt)
}

func newSceneCache(f *indexedio.File, fileName string, mode Mode, opt Options) (*SceneCache, error) {
	r := &cacheRoot{
		file:    f,
		name:    fileName,
		mode:    mode,
		logger:  opt.logger(),
		verbose: opt.Verbose,
	}
	err := r.init(opt)
	if err != nil {
		f.Close()
		return nil, err
	}
	if r.verbose {
		r.logger.Debug("scenecache: opened", "file", fileName, "mode", mode, "id", r.header.FileID)
	}
	return r.rootHandle(), nil
}

func (r *cacheRoot) init(opt Options) error {
	top := r.file.Root()
	if r.mode == Write {
		r.header = fileHeader{
			Version: formatVersion,
			FileID:  uuid.New(),
			Created: time.Now().UTC(),
		}
		data, err := encodeMsgpack(nil, &r.header)
		if err != nil {
			return sceneErrf(ErrIO, r.name, nil, headerEntry, err, "")
		}
		if err := top.Write(headerEntry, data); err != nil {
			return wrapErr(r.name, nil, headerEntry, err)
		}
		if _, err := top.CreateSubdirectory(rootEntry); err != nil {
			return wrapErr(r.name, nil, rootEntry, err)
		}
		r.w = newWriter()
		return nil
	}

	data, err := top.Read(headerEntry)
	if errors.Is(err, indexedio.ErrNotFound) {
		return sceneErrf(ErrIO, r.name, nil, headerEntry, err, "not a scene cache")
	} else if err != nil {
		return wrapErr(r.name, nil, headerEntry, err)
	}
	if err := decodeMsgpack(data, &r.header); err != nil {
		return sceneErrf(ErrIO, r.name, nil, headerEntry, err, "")
	}
	if r.header.Version < 1 || r.header.Version > formatVersion {
		return sceneErrf(ErrIO, r.name, nil, headerEntry, nil, "unsupported format version %d", r.header.Version)
	}
	r.bounds, err = lru.New(opt.boundCacheSize())
	if err != nil {
		return sceneErrf(ErrInvalidArgument, r.name, nil, "", err, "")
	}
	return nil
}

func (r *cacheRoot) rootHandle() *SceneCache {
	return &SceneCache{r: r, path: Path{}, dir: r.file.Root().Join(rootEntry)}
}

func (r *cacheRoot) handle(path Path) *SceneCache {
	names := make([]string, 0, 1+2*len(path))
	names = append(names, rootEntry)
	for _, name := range path {
		names = append(names, childrenEntry, name)
	}
	return &SceneCache{r: r, path: path, dir: r.file.Root().Join(names...)}
}

// sampleTimeLists loads the file's table of sample time lists.
func (r *cacheRoot) sampleTimeLists() ([][]float64, error) {
	r.timesOnce.Do(func() {
		dir := r.file.Root().Join(sampleTimesEntry)
		names, err := dir.Entries(indexedio.FileEntry)
		if err != nil {
			r.timesErr = wrapErr(r.name, nil, sampleTimesEntry, err)
			return
		}
		lists := make([][]float64, len(names))
		for _, name := range names {
			i, err := parseSampleIndex(name)
			if err != nil || i >= len(lists) {
				r.timesErr = sceneErrf(ErrIO, r.name, nil, sampleTimesEntry, err, "unexpected entry %q", name)
				return
			}
			data, err := dir.Read(name)
			if err != nil {
				r.timesErr = wrapErr(r.name, nil, sampleTimesEntry, err)
				return
			}
			if err := decodeMsgpack(data, &lists[i]); err != nil {
				r.timesErr = sceneErrf(ErrIO, r.name, nil, sampleTimesEntry, err, "")
				return
			}
		}
		r.times = lists
	})
	return r.times, r.timesErr
}

func (r *cacheRoot) close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.w != nil {
		err = r.w.flush(r)
	}
	if cerr := r.file.Close(); cerr != nil {
		err = errors.Join(err, wrapErr(r.name, nil, "", cerr))
	}
	if r.verbose {
		r.logger.Debug("scenecache: closed", "file", r.name, "reads", r.reads.Load(), "writes", r.writes.Load(), "err", err)
	}
	return err
}

func (r *cacheRoot) errf(kind error, path Path, entry string, err error, format string, args ...any) error {
	return sceneErrf(kind, r.name, path, entry, err, format, args...)
}

// Close finishes writing and releases the file when called on the root.
// On any other location it does nothing.
func (s *SceneCache) Close() error {
	if len(s.path) != 0 {
		return nil
	}
	return s.r.close()
}

func (s *SceneCache) FileName() string { return s.r.name }

// FileID identifies the file. It is assigned when the file is written.
func (s *SceneCache) FileID() uuid.UUID { return s.r.header.FileID }

func (s *SceneCache) Mode() Mode { return s.r.mode }

func (s *SceneCache) Name() string { return s.path.Name() }

func (s *SceneCache) Path() Path { return s.path.Clone() }

func (s *SceneCache) errf(kind error, entry string, err error, format string, args ...any) error {
	return s.r.errf(kind, s.path, entry, err, format, args...)
}

func (s *SceneCache) wrap(entry string, err error) error {
	return wrapErr(s.r.name, s.path, entry, err)
}

func (s *SceneCache) ChildNames() ([]string, error) {
	if w := s.r.w; w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.loc(s.path).childNames(), nil
	}
	names, err := s.dir.Join(childrenEntry).Entries(indexedio.DirectoryEntry)
	if err != nil {
		return nil, s.wrap(childrenEntry, err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *SceneCache) HasChild(name string) (bool, error) {
	if w := s.r.w; w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, ok := w.loc(s.path).children[name]
		return ok, nil
	}
	ok, err := s.dir.Join(childrenEntry, name).Exists()
	return ok, s.wrap(childrenEntry, err)
}

func (s *SceneCache) Child(name string, mb MissingBehaviour) (Scene, error) {
	c, err := s.child(name, mb)
	if c == nil {
		return nil, err
	}
	return c, nil
}

func (s *SceneCache) child(name string, mb MissingBehaviour) (*SceneCache, error) {
	ok, err := s.HasChild(name)
	if err != nil {
		return nil, err
	}
	if ok {
		return s.r.handle(s.path.Child(name)), nil
	}
	switch mb {
	case NullIfMissing:
		return nil, nil
	case CreateIfMissing:
		return s.createChild(name)
	default:
		return nil, s.r.errf(ErrSceneNotFound, s.path.Child(name), "", nil, "")
	}
}

func (s *SceneCache) CreateChild(name string) (Scene, error) {
	c, err := s.createChild(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SceneCache) createChild(name string) (*SceneCache, error) {
	w := s.r.w
	if w == nil {
		return nil, s.errf(ErrIO, name, nil, "cannot create a child in a read-only scene")
	}
	if err := validateName(name); err != nil {
		return nil, s.errf(ErrInvalidArgument, name, err, "")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	lw := w.loc(s.path)
	if _, ok := lw.children[name]; ok {
		return nil, s.errf(ErrInvalidArgument, name, nil, "child already exists")
	}
	c := s.r.handle(s.path.Child(name))
	if _, err := s.dir.Join(childrenEntry).CreateSubdirectory(name); err != nil {
		return nil, s.wrap(name, err)
	}
	lw.children[name] = struct{}{}
	w.loc(c.path)
	return c, nil
}

func (s *SceneCache) Scene(path Path, mb MissingBehaviour) (Scene, error) {
	cur := s.r.rootHandle()
	for _, name := range path {
		next, err := cur.child(name, mb)
		if next == nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (s *SceneCache) HasAttribute(name string) (bool, error) {
	if w := s.r.w; w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		return slices.Contains(w.loc(s.path).attrs, name), nil
	}
	ok, err := s.dir.Join(attributesEntry, name).Exists()
	return ok, s.wrap(attributesEntry, err)
}

func (s *SceneCache) AttributeNames() ([]string, error) {
	if w := s.r.w; w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		names := slices.Clone(w.loc(s.path).attrs)
		slices.Sort(names)
		return names, nil
	}
	names, err := s.dir.Join(attributesEntry).Entries(indexedio.DirectoryEntry)
	if err != nil {
		return nil, s.wrap(attributesEntry, err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *SceneCache) HasObject() (bool, error) {
	if w := s.r.w; w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, ok := w.loc(s.path).channels[objectChannel]
		return ok, nil
	}
	ok, err := s.dir.Join(objectEntry).Exists()
	return ok, s.wrap(objectEntry, err)
}

// HasBound reports whether a bound was written at this location. Locations
// without one derive it from their object and children.
func (s *SceneCache) HasBound() (bool, error) {
	if w := s.r.w; w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, ok := w.loc(s.path).channels[boundChannel]
		return ok, nil
	}
	ok, err := s.dir.Join(boundEntry).Exists()
	return ok, s.wrap(boundEntry, err)
}

func (s *SceneCache) HasTag(name string, filter TagFilter) (bool, error) {
	tags, err := s.ReadTags(filter)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(tags, name)
	return found, nil
}

// ReadTags returns the tags selected by filter, sorted.
func (s *SceneCache) ReadTags(filter TagFilter) ([]string, error) {
	var tags []string
	if w := s.r.w; w != nil {
		w.mu.Lock()
		tags = w.tagsAt(s.path, filter)
		w.mu.Unlock()
	} else {
		st, err := s.storedTags()
		if err != nil {
			return nil, err
		}
		if filter&(LocalTag|DescendantTag) != 0 {
			tags = append(tags, st.Local...)
		}
		if filter&DescendantTag != 0 {
			tags = append(tags, st.Descendant...)
		}
		if filter&AncestorTag != 0 {
			for p := s.path; len(p) > 0; {
				p = p.Parent()
				st, err := s.r.handle(p).storedTags()
				if err != nil {
					return nil, err
				}
				tags = append(tags, st.Local...)
			}
		}
	}
	slices.Sort(tags)
	return slices.Compact(tags), nil
}

func (s *SceneCache) storedTags() (storedTags, error) {
	var st storedTags
	data, err := s.dir.Read(tagsEntry)
	if errors.Is(err, indexedio.ErrNotFound) {
		return st, nil
	} else if err != nil {
		return st, s.wrap(tagsEntry, err)
	}
	if err := decodeMsgpack(data, &st); err != nil {
		return st, s.errf(ErrIO, tagsEntry, err, "")
	}
	return st, nil
}

// validateName rejects names that cannot round-trip through Path strings.
func validateName(name string) error {
	if err := indexedio.ValidateName(name); err != nil {
		return err
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return errors.New("name contains a slash")
		}
	}
	if name == "." || name == ".." {
		return errors.New("reserved name")
	}
	return nil
}
