package scenecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/andreyvit/scenecache/linear"
	"github.com/andreyvit/scenecache/pathmatcher"
)

// LinkData makes a location stand for Root of the scene in FileName.
// Query times t are forwarded as t*TimeMultiplier + TimeOffset.
type LinkData struct {
	FileName       string  `msgpack:"file"`
	Root           Path    `msgpack:"root"`
	TimeOffset     float64 `msgpack:"offset"`
	TimeMultiplier float64 `msgpack:"mult"`
}

func (*LinkData) TypeName() string { return "LinkData" }

// LinkTo returns a link to s with no time remapping.
func LinkTo(s Scene) *LinkData {
	return &LinkData{FileName: s.FileName(), Root: s.Path(), TimeMultiplier: 1}
}

func (d *LinkData) Remap(t float64) float64 {
	return t*d.TimeMultiplier + d.TimeOffset
}

// IsRemapped reports whether the link changes query times.
func (d *LinkData) IsRemapped() bool {
	return d.TimeMultiplier != 1 || d.TimeOffset != 0
}

func (d *LinkData) String() string {
	return d.FileName + ":" + d.Root.String()
}

// LinkedScene presents a scene whose locations may link to locations of
// other scenes. A link location keeps its own name, transform and
// attributes, and shows the target's object, children and tags. Everything
// below it is the target's, addressed by paths in this scene.
//
// Links resolve lazily, once per handle, through the Shared given in
// Options. A location that has both a link and children of its own shows
// the link's children and logs a warning.
type LinkedScene struct {
	root *linkedRoot
	path Path

	// main is the location in the main file, nil below a link.
	main Scene

	// target is the location in the linked file below a link. At a link it
	// is resolved through link.
	target Scene
	link   *linkState

	linkOnce sync.Once
	linkErr  error
	warnOnce  sync.Once
}

var (
	_ SampledScene = (*LinkedScene)(nil)
)

type linkedRoot struct {
	main   Scene
	mode   Mode
	logger *slog.Logger
	opt    Options

	shared     *Shared
	ownsShared bool

	locationsOnce sync.Once
	locations     *pathmatcher.PathMatcher
	locationsErr  error

	// write mode
	mu     sync.Mutex
	links  *pathmatcher.PathMatcher
	wlinks map[string]*linkWrite
}

type linkWrite struct {
	first        *LinkData
	boundsCopied bool
}

// linkState holds the samples of one link attribute and its resolved target.
type linkState struct {
	path     Path
	times    []float64
	links    []*LinkData
	remapped bool

	once   sync.Once
	target Scene
	err    error
}

// remap interpolates between the remapped times of the link samples around t.
func (l *linkState) remap(t float64) float64 {
	iv := sampleInterval(l.times, t)
	a := l.links[iv.Floor].Remap(t)
	if iv.Exact() {
		return a
	}
	return linear.Lerp(a, l.links[iv.Ceil].Remap(t), iv.X)
}

func (l *linkState) resolve(r *linkedRoot) (Scene, error) {
	l.once.Do(func() {
		link := l.links[0]
		target, err := r.openTarget(link)
		if err != nil {
			linkResolutions.WithLabelValues("error").Inc()
			l.err = &LinkError{Path: l.path.Clone(), Target: link.String(), Err: err}
			return
		}
		linkResolutions.WithLabelValues("ok").Inc()
		if r.opt.Verbose {
			r.logger.Debug("scenecache: link resolved", "path", l.path.String(), "target", link.String())
		}
		l.target = target
	})
	return l.target, l.err
}

// OpenLinkedScene opens a scene cache file with link support.
func OpenLinkedScene(fileName string, mode Mode, opt Options) (*LinkedScene, error) {
	main, err := OpenSceneCache(fileName, mode, opt)
	if err != nil {
		return nil, err
	}
	return NewLinkedScene(main, mode, opt), nil
}

// NewLinkedScene wraps the root of main. Closing the returned root closes
// main, and the Shared it created if opt.Shared was nil.
func NewLinkedScene(main Scene, mode Mode, opt Options) *LinkedScene {
	r := &linkedRoot{
		main:   main,
		mode:   mode,
		logger: opt.logger(),
		opt:    opt,
		shared: opt.Shared,
	}
	if r.shared == nil {
		r.shared = NewShared(SharedOptions{Options: opt, Logger: opt.Logger})
		r.ownsShared = true
	}
	if mode == Write {
		r.links = pathmatcher.New()
		r.wlinks = make(map[string]*linkWrite)
	}
	return r.mainHandle(main, main.Path())
}

func (r *linkedRoot) mainHandle(main Scene, path Path) *LinkedScene {
	return &LinkedScene{root: r, path: path, main: main}
}

func (r *linkedRoot) openTarget(link *LinkData) (Scene, error) {
	if link.FileName == "" {
		return nil, errors.New("empty file name")
	}
	f, err := r.shared.Get(link.FileName)
	if err != nil {
		return nil, err
	}
	return f.Scene(link.Root, ThrowIfMissing)
}

// linkLocations reads the list of link locations the writer stored at the
// root, or returns nil for files without one.
func (r *linkedRoot) linkLocations() (*pathmatcher.PathMatcher, error) {
	r.locationsOnce.Do(func() {
		ok, err := r.main.HasAttribute(LinkLocationsAttribute)
		if err != nil || !ok {
			r.locationsErr = err
			return
		}
		v, err := r.main.ReadAttribute(LinkLocationsAttribute, 0)
		if err != nil {
			r.locationsErr = err
			return
		}
		d, ok := v.(*PathMatcherData)
		if !ok || d.Value == nil {
			r.locationsErr = sceneErrf(ErrIO, r.main.FileName(), nil, LinkLocationsAttribute, nil, "unexpected %s", v.TypeName())
			return
		}
		r.locations = d.Value
	})
	return r.locations, r.locationsErr
}

// readLink reads the link attribute of a main location.
func (r *linkedRoot) readLink(main Scene, path Path) (*linkState, error) {
	if r.mode == Write || len(path) == 0 {
		return nil, nil
	}
	locs, err := r.linkLocations()
	if err != nil {
		return nil, err
	}
	if locs != nil && !locs.Match(path).Contains(pathmatcher.ExactMatch) {
		return nil, nil
	}
	ok, err := main.HasAttribute(LinkAttribute)
	if err != nil || !ok {
		return nil, err
	}

	l := &linkState{path: path.Clone()}
	add := func(t float64, v Object) error {
		d, ok := v.(*LinkData)
		if !ok {
			return sceneErrf(ErrIO, main.FileName(), path, LinkAttribute, nil, "unexpected %s", v.TypeName())
		}
		l.times = append(l.times, t)
		l.links = append(l.links, d)
		l.remapped = l.remapped || d.IsRemapped()
		return nil
	}
	if sm, ok := main.(SampledScene); ok {
		n, err := sm.NumAttributeSamples(LinkAttribute)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			t, err := sm.AttributeSampleTime(LinkAttribute, i)
			if err != nil {
				return nil, err
			}
			v, err := sm.ReadAttributeAtSample(LinkAttribute, i)
			if err != nil {
				return nil, err
			}
			if err := add(t, v); err != nil {
				return nil, err
			}
		}
	} else {
		v, err := main.ReadAttribute(LinkAttribute, 0)
		if err != nil {
			return nil, err
		}
		if err := add(0, v); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (r *linkedRoot) close() error {
	var errs []error
	if r.mode == Write && !r.links.IsEmpty() {
		errs = append(errs, r.main.WriteAttribute(LinkLocationsAttribute, &PathMatcherData{Value: r.links}, 0))
	}
	errs = append(errs, r.main.Close())
	if r.ownsShared {
		errs = append(errs, r.shared.Close())
	}
	return errors.Join(errs...)
}

// linkInfo returns the link at or above this handle, if any.
func (s *LinkedScene) linkInfo() (*linkState, error) {
	if s.main == nil {
		return s.link, nil
	}
	s.linkOnce.Do(func() {
		s.link, s.linkErr = s.root.readLink(s.main, s.path)
	})
	return s.link, s.linkErr
}

// redirect returns the target location when this handle is at or below a
// link, and nil when the main scene answers.
func (s *LinkedScene) redirect() (Scene, *linkState, error) {
	l, err := s.linkInfo()
	if err != nil || l == nil {
		return nil, nil, err
	}
	if s.main == nil {
		return s.target, l, nil
	}
	target, err := l.resolve(s.root)
	if err != nil {
		return nil, nil, err
	}
	s.warnOnce.Do(func() { s.warnHidden() })
	return target, l, nil
}

func (s *LinkedScene) warnHidden() {
	names, _ := s.main.ChildNames()
	hasObject, _ := s.main.HasObject()
	if len(names) > 0 || hasObject {
		s.root.logger.Warn("scenecache: link hides local contents", "file", s.main.FileName(), "path", s.path.String(), "children", len(names), "object", hasObject)
	}
}

func (s *LinkedScene) errf(kind error, entry string, err error, format string, args ...any) error {
	return sceneErrf(kind, s.FileName(), s.path, entry, err, format, args...)
}

// Close releases the files when called on the root.
func (s *LinkedScene) Close() error {
	if s.main == nil || len(s.path) != 0 {
		return nil
	}
	return s.root.close()
}

func (s *LinkedScene) FileName() string { return s.root.main.FileName() }

func (s *LinkedScene) Mode() Mode { return s.root.mode }

func (s *LinkedScene) Name() string { return s.path.Name() }

func (s *LinkedScene) Path() Path { return s.path.Clone() }

func (s *LinkedScene) HasBound() (bool, error) {
	if s.main != nil {
		ok, err := s.main.HasBound()
		if err != nil || ok {
			return ok, err
		}
	}
	target, _, err := s.redirect()
	if err != nil || target == nil {
		return false, err
	}
	return target.HasBound()
}

func (s *LinkedScene) ReadBound(ctx context.Context, t float64) (linear.Box3, error) {
	if s.main != nil {
		ok, err := s.main.HasBound()
		if err != nil {
			return linear.Box3{}, err
		}
		if ok {
			return s.main.ReadBound(ctx, t)
		}
	}
	target, l, err := s.redirect()
	if err != nil {
		return linear.Box3{}, err
	}
	if target == nil {
		return s.main.ReadBound(ctx, t)
	}
	return target.ReadBound(ctx, l.remap(t))
}

func (s *LinkedScene) WriteBound(b linear.Box3, t float64) error {
	if s.main == nil {
		return s.errf(ErrInvalidArgument, boundEntry, nil, "cannot write below a link")
	}
	return s.main.WriteBound(b, t)
}

func (s *LinkedScene) ReadTransform(t float64) (Object, error) {
	if s.main != nil {
		return s.main.ReadTransform(t)
	}
	return s.target.ReadTransform(s.link.remap(t))
}

func (s *LinkedScene) ReadTransformAsMatrix(t float64) (linear.M4, error) {
	if s.main != nil {
		return s.main.ReadTransformAsMatrix(t)
	}
	return s.target.ReadTransformAsMatrix(s.link.remap(t))
}

func (s *LinkedScene) WriteTransform(transform Object, t float64) error {
	if s.main == nil {
		return s.errf(ErrInvalidArgument, transformEntry, nil, "cannot write below a link")
	}
	return s.main.WriteTransform(transform, t)
}

func isLinkAttribute(name string) bool {
	return name == LinkAttribute || name == LinkLocationsAttribute
}

func (s *LinkedScene) HasAttribute(name string) (bool, error) {
	if s.main == nil {
		return s.target.HasAttribute(name)
	}
	if isLinkAttribute(name) {
		return false, nil
	}
	return s.main.HasAttribute(name)
}

func (s *LinkedScene) AttributeNames() ([]string, error) {
	if s.main == nil {
		return s.target.AttributeNames()
	}
	names, err := s.main.AttributeNames()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(names, isLinkAttribute), nil
}

// ReadAttribute reads from the main scene at and above links, so the link
// attributes themselves stay readable although they are not listed.
func (s *LinkedScene) ReadAttribute(name string, t float64) (Object, error) {
	if s.main == nil {
		return s.target.ReadAttribute(name, s.link.remap(t))
	}
	return s.main.ReadAttribute(name, t)
}

func (s *LinkedScene) WriteAttribute(name string, value Object, t float64) error {
	if s.main == nil {
		return s.errf(ErrInvalidArgument, attributesEntry+"/"+name, nil, "cannot write below a link")
	}
	switch name {
	case LinkLocationsAttribute:
		return s.errf(ErrInvalidArgument, attributesEntry+"/"+name, nil, "reserved attribute")
	case LinkAttribute:
		return s.writeLink(value, t)
	}
	return s.main.WriteAttribute(name, value, t)
}

type linkedTagWriter interface {
	writeLinkedTags(tags []string) error
}

// writeLink checks that the target exists, copies its bound and tags into
// the main scene and records the link.
func (s *LinkedScene) writeLink(value Object, t float64) error {
	entry := attributesEntry + "/" + LinkAttribute
	link, ok := value.(*LinkData)
	if !ok || link == nil {
		return s.errf(ErrInvalidArgument, entry, nil, "link must be LinkData, got %T", value)
	}
	if len(s.path) == 0 {
		return s.errf(ErrInvalidArgument, entry, nil, "cannot link the root")
	}
	hasObject, err := s.main.HasObject()
	if err != nil {
		return err
	}
	if hasObject {
		return s.errf(ErrInvalidArgument, entry, nil, "cannot link a location that has an object")
	}

	r := s.root
	r.mu.Lock()
	defer r.mu.Unlock()
	key := s.path.String()
	lw := r.wlinks[key]
	if lw != nil && (lw.first.FileName != link.FileName || !lw.first.Root.Equal(link.Root)) {
		return s.errf(ErrInvalidArgument, entry, nil, "link target changes from %v to %v", lw.first, link)
	}

	target, err := r.openTarget(link)
	if err != nil {
		linkResolutions.WithLabelValues("error").Inc()
		return &LinkError{Path: s.path.Clone(), Target: link.String(), Err: err}
	}
	linkResolutions.WithLabelValues("ok").Inc()
	if lw == nil {
		lw = &linkWrite{first: link}
	}

	if err := s.copyLinkedBounds(lw, target, link, t); err != nil {
		return err
	}
	if tw, ok := s.main.(linkedTagWriter); ok {
		tags, err := target.ReadTags(LocalTag | DescendantTag)
		if err != nil {
			return err
		}
		if err := tw.writeLinkedTags(tags); err != nil {
			return err
		}
	}
	if err := s.main.WriteAttribute(LinkAttribute, link, t); err != nil {
		return err
	}
	r.wlinks[key] = lw
	r.links.AddPath(s.path)
	return nil
}

// copyLinkedBounds gives the link location an authored bound, so that
// bounds derived above it account for the linked contents.
func (s *LinkedScene) copyLinkedBounds(lw *linkWrite, target Scene, link *LinkData, t float64) error {
	ctx := context.Background()
	if link.IsRemapped() {
		b, err := target.ReadBound(ctx, link.Remap(t))
		if err != nil {
			return err
		}
		return s.main.WriteBound(b, t)
	}
	if lw.boundsCopied {
		return nil
	}
	ts, ok := target.(SampledScene)
	if !ok {
		b, err := target.ReadBound(ctx, t)
		if err != nil {
			return err
		}
		lw.boundsCopied = true
		return s.main.WriteBound(b, t)
	}
	n, err := ts.NumBoundSamples()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		bt, err := ts.BoundSampleTime(i)
		if err != nil {
			return err
		}
		b, err := ts.ReadBoundAtSample(i)
		if err != nil {
			return err
		}
		if err := s.main.WriteBound(b, bt); err != nil {
			return err
		}
	}
	lw.boundsCopied = true
	return nil
}

func (s *LinkedScene) HasTag(name string, filter TagFilter) (bool, error) {
	tags, err := s.ReadTags(filter)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(tags, name)
	return found, nil
}

func (s *LinkedScene) ReadTags(filter TagFilter) ([]string, error) {
	target, l, err := s.redirect()
	if err != nil {
		return nil, err
	}
	if target == nil {
		return s.main.ReadTags(filter)
	}

	var tags []string
	if s.main != nil {
		// at the link: the target adds its tags to the main scene's local ones
		if filter&(LocalTag|DescendantTag) != 0 {
			tags, err = target.ReadTags(filter & (LocalTag | DescendantTag))
			if err != nil {
				return nil, err
			}
		}
		if mf := filter & AncestorTag; mf != 0 || filter&(LocalTag|DescendantTag) != 0 {
			if filter&(LocalTag|DescendantTag) != 0 {
				mf |= LocalTag
			}
			mt, err := s.main.ReadTags(mf)
			if err != nil {
				return nil, err
			}
			tags = append(tags, mt...)
		}
	} else {
		tags, err = target.ReadTags(filter)
		if err != nil {
			return nil, err
		}
		if filter&AncestorTag != 0 {
			linkLoc, err := s.root.main.Scene(l.path, ThrowIfMissing)
			if err != nil {
				return nil, err
			}
			at, err := linkLoc.ReadTags(LocalTag | AncestorTag)
			if err != nil {
				return nil, err
			}
			tags = append(tags, at...)
		}
	}
	slices.Sort(tags)
	return slices.Compact(tags), nil
}

func (s *LinkedScene) WriteTags(tags []string) error {
	if s.main == nil {
		return s.errf(ErrInvalidArgument, tagsEntry, nil, "cannot write below a link")
	}
	return s.main.WriteTags(tags)
}

func (s *LinkedScene) WriteSet(name string, set *pathmatcher.PathMatcher) error {
	if s.main == nil {
		return s.errf(ErrInvalidArgument, setsEntry, nil, "cannot write below a link")
	}
	return s.main.WriteSet(name, set)
}

func (s *LinkedScene) SetNames(includeDescendantSets bool) ([]string, error) {
	target, _, err := s.redirect()
	if err != nil {
		return nil, err
	}
	if target != nil {
		return target.SetNames(includeDescendantSets)
	}
	names, err := s.main.SetNames(includeDescendantSets)
	if err != nil || !includeDescendantSets {
		return names, err
	}
	err = s.eachLinkBelow(context.Background(), func(rel Path, ls *LinkedScene) error {
		more, err := ls.SetNames(true)
		names = append(names, more...)
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (s *LinkedScene) ReadSet(ctx context.Context, name string, includeDescendantSets bool) (*pathmatcher.PathMatcher, error) {
	target, _, err := s.redirect()
	if err != nil {
		return nil, err
	}
	if target != nil {
		return target.ReadSet(ctx, name, includeDescendantSets)
	}
	set, err := s.main.ReadSet(ctx, name, includeDescendantSets)
	if err != nil || !includeDescendantSets {
		return set, err
	}
	err = s.eachLinkBelow(ctx, func(rel Path, ls *LinkedScene) error {
		more, err := ls.ReadSet(ctx, name, true)
		if err == nil {
			set.AddPaths(more, rel)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// eachLinkBelow calls fn for every link location strictly below this one,
// as recorded in the file's link list.
func (s *LinkedScene) eachLinkBelow(ctx context.Context, fn func(rel Path, ls *LinkedScene) error) error {
	locs, err := s.root.linkLocations()
	if err != nil || locs == nil {
		return err
	}
	for rel := range locs.SubTree(s.path).All() {
		if len(rel) == 0 {
			continue
		}
		if err := checkCtx(ctx, s.FileName(), s.path); err != nil {
			return err
		}
		sc, err := s.Scene(s.path.Join(rel), ThrowIfMissing)
		if err != nil {
			return err
		}
		if err := fn(Path(rel).Clone(), sc.(*LinkedScene)); err != nil {
			return err
		}
	}
	return nil
}

func (s *LinkedScene) HasObject() (bool, error) {
	target, _, err := s.redirect()
	if err != nil {
		return false, err
	}
	if target == nil {
		return s.main.HasObject()
	}
	return target.HasObject()
}

func (s *LinkedScene) ReadObject(ctx context.Context, t float64) (Object, error) {
	target, l, err := s.redirect()
	if err != nil {
		return nil, err
	}
	if target == nil {
		return s.main.ReadObject(ctx, t)
	}
	return target.ReadObject(ctx, l.remap(t))
}

func (s *LinkedScene) ReadObjectPrimitiveVariables(ctx context.Context, names []string, t float64) (map[string]PrimitiveVariable, error) {
	target, l, err := s.redirect()
	if err != nil {
		return nil, err
	}
	if target == nil {
		return s.main.ReadObjectPrimitiveVariables(ctx, names, t)
	}
	return target.ReadObjectPrimitiveVariables(ctx, names, l.remap(t))
}

func (s *LinkedScene) WriteObject(object Object, t float64) error {
	if s.main == nil {
		return s.errf(ErrInvalidArgument, objectEntry, nil, "cannot write below a link")
	}
	if s.isWrittenLink() {
		return s.errf(ErrInvalidArgument, objectEntry, nil, "cannot write an object at a link")
	}
	return s.main.WriteObject(object, t)
}

func (s *LinkedScene) isWrittenLink() bool {
	r := s.root
	if r.mode != Write {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.wlinks[s.path.String()]
	return ok
}

func (s *LinkedScene) ChildNames() ([]string, error) {
	target, _, err := s.redirect()
	if err != nil {
		return nil, err
	}
	if target == nil {
		return s.main.ChildNames()
	}
	return target.ChildNames()
}

func (s *LinkedScene) HasChild(name string) (bool, error) {
	target, _, err := s.redirect()
	if err != nil {
		return false, err
	}
	if target == nil {
		return s.main.HasChild(name)
	}
	return target.HasChild(name)
}

func (s *LinkedScene) Child(name string, mb MissingBehaviour) (Scene, error) {
	c, err := s.child(name, mb)
	if c == nil {
		return nil, err
	}
	return c, nil
}

func (s *LinkedScene) child(name string, mb MissingBehaviour) (*LinkedScene, error) {
	if mb == CreateIfMissing && s.isWrittenLink() {
		return nil, s.errf(ErrInvalidArgument, name, nil, "cannot create a child at a link")
	}
	target, l, err := s.redirect()
	if err != nil {
		return nil, err
	}
	if target == nil {
		c, err := s.main.Child(name, mb)
		if c == nil {
			return nil, err
		}
		return s.root.mainHandle(c, s.path.Child(name)), nil
	}
	c, err := target.Child(name, mb)
	if c == nil {
		if err != nil {
			return nil, s.retarget(name, err)
		}
		return nil, nil
	}
	return &LinkedScene{root: s.root, path: s.path.Child(name), target: c, link: l}, nil
}

// retarget reports a missing child below a link by its path in this scene.
func (s *LinkedScene) retarget(name string, err error) error {
	if errors.Is(err, ErrSceneNotFound) {
		return sceneErrf(ErrSceneNotFound, s.FileName(), s.path.Child(name), "", err, "")
	}
	return err
}

func (s *LinkedScene) CreateChild(name string) (Scene, error) {
	if s.main == nil {
		return nil, s.errf(ErrInvalidArgument, name, nil, "cannot write below a link")
	}
	if s.isWrittenLink() {
		return nil, s.errf(ErrInvalidArgument, name, nil, "cannot create a child at a link")
	}
	c, err := s.main.CreateChild(name)
	if err != nil {
		return nil, err
	}
	return s.root.mainHandle(c, s.path.Child(name)), nil
}

func (s *LinkedScene) Scene(path Path, mb MissingBehaviour) (Scene, error) {
	cur := s.root.mainHandle(s.root.main, Path{})
	for _, name := range path {
		next, err := cur.child(name, mb)
		if next == nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (s *LinkedScene) Hash(kind HashType, t float64) (uint64, error) {
	target, l, err := s.redirect()
	if err != nil {
		return 0, err
	}
	if target == nil || s.main != nil && (kind == TransformHash || kind == AttributesHash) {
		return s.main.Hash(kind, t)
	}
	h, err := target.Hash(kind, l.remap(t))
	if err != nil {
		return 0, err
	}
	h ^= hashString(s.path.String())
	if s.main != nil && (kind == HierarchyHash || kind == ChildNamesHash) {
		// the link location's own file and attributes feed these too
		mh, err := s.main.Hash(kind, t)
		if err != nil {
			return 0, err
		}
		ah, err := s.main.Hash(AttributesHash, t)
		if err != nil {
			return 0, err
		}
		h = mixHashes(mh, ah, h)
	}
	return h, nil
}

func (s *LinkedScene) sampled(sc Scene) (SampledScene, error) {
	ss, ok := sc.(SampledScene)
	if !ok {
		return nil, s.errf(ErrInvalidArgument, "", nil, "%T does not expose samples", sc)
	}
	return ss, nil
}

// sampledFor picks who answers sample queries for a channel. A nil result
// with a non-nil link means the link's sample times stand in for the
// target's, because the link remaps time.
func (s *LinkedScene) sampledFor(kind channelKind) (SampledScene, *linkState, error) {
	if s.main != nil && (kind == transformKind || kind == attributeKind) {
		ss, err := s.sampled(s.main)
		return ss, nil, err
	}
	target, l, err := s.redirect()
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		ss, err := s.sampled(s.main)
		return ss, nil, err
	}
	if kind == boundKind && s.main != nil {
		if ok, err := s.main.HasBound(); err != nil || ok {
			ss, serr := s.sampled(s.main)
			return ss, nil, errors.Join(err, serr)
		}
	}
	if l.remapped {
		return nil, l, nil
	}
	ss, err := s.sampled(target)
	return ss, nil, err
}

func (l *linkState) sampleTime(i int) (float64, error) {
	if i < 0 || i >= len(l.times) {
		return 0, fmt.Errorf("%w: sample %d out of range [0, %d)", ErrInvalidArgument, i, len(l.times))
	}
	return l.times[i], nil
}

func (s *LinkedScene) NumBoundSamples() (int, error) {
	ss, l, err := s.sampledFor(boundKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return len(l.times), nil
	}
	return ss.NumBoundSamples()
}

func (s *LinkedScene) BoundSampleTime(i int) (float64, error) {
	ss, l, err := s.sampledFor(boundKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return l.sampleTime(i)
	}
	return ss.BoundSampleTime(i)
}

func (s *LinkedScene) BoundSampleInterval(t float64) (Interval, error) {
	ss, l, err := s.sampledFor(boundKind)
	if err != nil {
		return Interval{}, err
	}
	if l != nil {
		return sampleInterval(l.times, t), nil
	}
	return ss.BoundSampleInterval(t)
}

func (s *LinkedScene) ReadBoundAtSample(i int) (linear.Box3, error) {
	ss, l, err := s.sampledFor(boundKind)
	if err != nil {
		return linear.Box3{}, err
	}
	if l != nil {
		t, err := l.sampleTime(i)
		if err != nil {
			return linear.Box3{}, err
		}
		return s.ReadBound(context.Background(), t)
	}
	return ss.ReadBoundAtSample(i)
}

func (s *LinkedScene) NumTransformSamples() (int, error) {
	ss, l, err := s.sampledFor(transformKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return len(l.times), nil
	}
	return ss.NumTransformSamples()
}

func (s *LinkedScene) TransformSampleTime(i int) (float64, error) {
	ss, l, err := s.sampledFor(transformKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return l.sampleTime(i)
	}
	return ss.TransformSampleTime(i)
}

func (s *LinkedScene) TransformSampleInterval(t float64) (Interval, error) {
	ss, l, err := s.sampledFor(transformKind)
	if err != nil {
		return Interval{}, err
	}
	if l != nil {
		return sampleInterval(l.times, t), nil
	}
	return ss.TransformSampleInterval(t)
}

func (s *LinkedScene) ReadTransformAtSample(i int) (Object, error) {
	ss, l, err := s.sampledFor(transformKind)
	if err != nil {
		return nil, err
	}
	if l != nil {
		t, err := l.sampleTime(i)
		if err != nil {
			return nil, err
		}
		return s.ReadTransform(t)
	}
	return ss.ReadTransformAtSample(i)
}

func (s *LinkedScene) ReadTransformAsMatrixAtSample(i int) (linear.M4, error) {
	obj, err := s.ReadTransformAtSample(i)
	if err != nil {
		return linear.M4{}, err
	}
	m, ok := transformMatrix(obj)
	if !ok {
		return m, s.errf(ErrIO, transformEntry, nil, "unsupported transform type %s", obj.TypeName())
	}
	return m, nil
}

func (s *LinkedScene) NumAttributeSamples(name string) (int, error) {
	ss, l, err := s.sampledFor(attributeKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return len(l.times), nil
	}
	return ss.NumAttributeSamples(name)
}

func (s *LinkedScene) AttributeSampleTime(name string, i int) (float64, error) {
	ss, l, err := s.sampledFor(attributeKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return l.sampleTime(i)
	}
	return ss.AttributeSampleTime(name, i)
}

func (s *LinkedScene) AttributeSampleInterval(name string, t float64) (Interval, error) {
	ss, l, err := s.sampledFor(attributeKind)
	if err != nil {
		return Interval{}, err
	}
	if l != nil {
		return sampleInterval(l.times, t), nil
	}
	return ss.AttributeSampleInterval(name, t)
}

func (s *LinkedScene) ReadAttributeAtSample(name string, i int) (Object, error) {
	ss, l, err := s.sampledFor(attributeKind)
	if err != nil {
		return nil, err
	}
	if l != nil {
		t, err := l.sampleTime(i)
		if err != nil {
			return nil, err
		}
		return s.ReadAttribute(name, t)
	}
	return ss.ReadAttributeAtSample(name, i)
}

func (s *LinkedScene) NumObjectSamples() (int, error) {
	ss, l, err := s.sampledFor(objectKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return len(l.times), nil
	}
	return ss.NumObjectSamples()
}

func (s *LinkedScene) ObjectSampleTime(i int) (float64, error) {
	ss, l, err := s.sampledFor(objectKind)
	if err != nil {
		return 0, err
	}
	if l != nil {
		return l.sampleTime(i)
	}
	return ss.ObjectSampleTime(i)
}

func (s *LinkedScene) ObjectSampleInterval(t float64) (Interval, error) {
	ss, l, err := s.sampledFor(objectKind)
	if err != nil {
		return Interval{}, err
	}
	if l != nil {
		return sampleInterval(l.times, t), nil
	}
	return ss.ObjectSampleInterval(t)
}

func (s *LinkedScene) ReadObjectAtSample(i int) (Object, error) {
	ss, l, err := s.sampledFor(objectKind)
	if err != nil {
		return nil, err
	}
	if l != nil {
		t, err := l.sampleTime(i)
		if err != nil {
			return nil, err
		}
		return s.ReadObject(context.Background(), t)
	}
	return ss.ReadObjectAtSample(i)
}
