package scenecache

import (
	"cmp"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/andreyvit/scenecache/linear"
	"github.com/andreyvit/scenecache/pathmatcher"
)

// writer holds what a file being written needs to finish it on close.
type writer struct {
	mu    sync.Mutex
	locs  map[string]*locWriter
	order []*locWriter
}

type locWriter struct {
	path     Path
	children map[string]struct{}
	channels map[channel]*channelWriter
	attrs    []string

	visibility []timedObject
	localTags  map[string]struct{}
	linkedTags map[string]struct{}
	sets       []string

	// per object sample
	topology []uint64
	primvars []map[string]uint64
}

type channelWriter struct {
	times    []float64
	typeName string
}

type timedObject struct {
	t   float64
	obj Object
}

func newWriter() *writer {
	w := &writer{locs: make(map[string]*locWriter)}
	w.loc(Path{})
	return w
}

func (w *writer) loc(path Path) *locWriter {
	key := path.String()
	lw := w.locs[key]
	if lw == nil {
		lw = &locWriter{
			path:     path.Clone(),
			children: make(map[string]struct{}),
			channels: make(map[channel]*channelWriter),
		}
		w.locs[key] = lw
		w.order = append(w.order, lw)
	}
	return lw
}

func (lw *locWriter) childNames() []string {
	return slices.Sorted(maps.Keys(lw.children))
}

func (lw *locWriter) addAttr(name string) {
	if !slices.Contains(lw.attrs, name) {
		lw.attrs = append(lw.attrs, name)
	}
}

func (w *writer) tagsAt(path Path, filter TagFilter) []string {
	var tags []string
	for _, lw := range w.order {
		switch {
		case lw.path.Equal(path):
			if filter&(LocalTag|DescendantTag) != 0 {
				tags = appendKeys(tags, lw.localTags)
			}
			if filter&DescendantTag != 0 {
				tags = appendKeys(tags, lw.linkedTags)
			}
		case len(lw.path) > len(path) && lw.path.HasPrefix(path):
			if filter&DescendantTag != 0 {
				tags = appendKeys(tags, lw.localTags)
				tags = appendKeys(tags, lw.linkedTags)
			}
		case path.HasPrefix(lw.path):
			if filter&AncestorTag != 0 {
				tags = appendKeys(tags, lw.localTags)
			}
		}
	}
	return tags
}

func (w *writer) setNames(path Path, recursive bool) []string {
	var names []string
	for _, lw := range w.order {
		if lw.path.Equal(path) || recursive && lw.path.HasPrefix(path) {
			names = append(names, lw.sets...)
		}
	}
	return names
}

func appendKeys(out []string, set map[string]struct{}) []string {
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (s *SceneCache) writer(entry string) (*writer, error) {
	if s.r.w == nil {
		return nil, s.errf(ErrIO, entry, nil, "scene is read-only")
	}
	return s.r.w, nil
}

// writeSample stores data as the sample of ch at time t. A time equal to
// the last sample's replaces it.
func (s *SceneCache) writeSample(lw *locWriter, ch channel, typeName string, t float64, data []byte) (int, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, s.errf(ErrInvalidArgument, ch.entry(), nil, "invalid sample time %v", t)
	}
	cw := lw.channels[ch]
	if cw == nil {
		cw = &channelWriter{typeName: typeName}
	} else if cw.typeName != typeName {
		return 0, s.errf(ErrInvalidArgument, ch.entry(), nil, "cannot change type from %s to %s", cw.typeName, typeName)
	}
	idx := len(cw.times)
	if n := len(cw.times); n > 0 {
		last := cw.times[n-1]
		if math.Abs(t-last) < timeEpsilon {
			idx = n - 1
		} else if t < last {
			return 0, s.errf(ErrOutOfOrderWrite, ch.entry(), nil, "sample time %v is before %v", t, last)
		}
	}
	if err := ch.dir(s.dir).Write(sampleEntry(idx), data); err != nil {
		return 0, s.wrap(ch.entry(), err)
	}
	if idx == len(cw.times) {
		cw.times = append(cw.times, t)
	}
	lw.channels[ch] = cw
	s.r.writes.Add(1)
	return idx, nil
}

func (s *SceneCache) WriteBound(b linear.Box3, t float64) error {
	w, err := s.writer(boundEntry)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = s.writeSample(w.loc(s.path), boundChannel, "", t, appendBox(nil, b))
	return err
}

// WriteTransform stores an M44dData or TransformationMatrixData sample.
// The root has no transform.
func (s *SceneCache) WriteTransform(transform Object, t float64) error {
	w, err := s.writer(transformEntry)
	if err != nil {
		return err
	}
	if len(s.path) == 0 {
		return s.errf(ErrInvalidArgument, transformEntry, nil, "cannot write a transform at the root")
	}
	switch transform.(type) {
	case *M44dData, *TransformationMatrixData:
	default:
		return s.errf(ErrInvalidArgument, transformEntry, nil, "unsupported transform type %T", transform)
	}
	data, err := encodeSample(nil, transform)
	if err != nil {
		return s.errf(ErrInvalidArgument, transformEntry, err, "")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = s.writeSample(w.loc(s.path), transformChannel, transform.TypeName(), t, data)
	return err
}

// WriteAttribute stores a sample of the named attribute. Visibility samples
// may arrive in any order; they are sorted when the file is closed.
func (s *SceneCache) WriteAttribute(name string, value Object, t float64) error {
	ch := attributeChannel(name)
	w, err := s.writer(ch.entry())
	if err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return s.errf(ErrInvalidArgument, ch.entry(), err, "")
	}
	if value == nil {
		return s.errf(ErrInvalidArgument, ch.entry(), nil, "nil value")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	lw := w.loc(s.path)
	if name == VisibilityAttribute {
		if _, ok := value.(*BoolData); !ok {
			return s.errf(ErrInvalidArgument, ch.entry(), nil, "visibility must be BoolData, got %s", value.TypeName())
		}
		lw.visibility = append(lw.visibility, timedObject{t, value})
		lw.addAttr(name)
		return nil
	}
	data, err := encodeSample(nil, value)
	if err != nil {
		return s.errf(ErrInvalidArgument, ch.entry(), err, "")
	}
	if _, err := s.writeSample(lw, ch, value.TypeName(), t, data); err != nil {
		return err
	}
	lw.addAttr(name)
	return nil
}

// WriteObject stores an object sample. Primitives also get their bound
// stored next to the sample so readers can derive bounds without decoding.
func (s *SceneCache) WriteObject(object Object, t float64) error {
	w, err := s.writer(objectEntry)
	if err != nil {
		return err
	}
	if len(s.path) == 0 {
		return s.errf(ErrInvalidArgument, objectEntry, nil, "cannot write an object at the root")
	}
	if object == nil {
		return s.errf(ErrInvalidArgument, objectEntry, nil, "nil object")
	}
	data, err := encodeSample(nil, object)
	if err != nil {
		return s.errf(ErrInvalidArgument, objectEntry, err, "")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	lw := w.loc(s.path)
	idx, err := s.writeSample(lw, objectChannel, object.TypeName(), t, data)
	if err != nil {
		return err
	}
	p, ok := object.(Primitive)
	if !ok {
		return nil
	}
	if err := objectChannel.dir(s.dir).Write(sampleBoundEntry(idx), appendBox(nil, p.Bound())); err != nil {
		return s.wrap(objectEntry, err)
	}
	topo, vars := p.TopologyHash(), primitiveVariableHashes(p)
	if idx == len(lw.topology) {
		lw.topology = append(lw.topology, topo)
		lw.primvars = append(lw.primvars, vars)
	} else {
		lw.topology[idx], lw.primvars[idx] = topo, vars
	}
	return nil
}

func (s *SceneCache) WriteTags(tags []string) error {
	w, err := s.writer(tagsEntry)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if tag == "" {
			return s.errf(ErrInvalidArgument, tagsEntry, nil, "empty tag")
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	lw := w.loc(s.path)
	if lw.localTags == nil {
		lw.localTags = make(map[string]struct{})
	}
	for _, tag := range tags {
		lw.localTags[tag] = struct{}{}
	}
	return nil
}

// writeLinkedTags records tags found below a link at this location. They
// count as descendant tags here and above.
func (s *SceneCache) writeLinkedTags(tags []string) error {
	w, err := s.writer(tagsEntry)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	lw := w.loc(s.path)
	if lw.linkedTags == nil {
		lw.linkedTags = make(map[string]struct{})
	}
	for _, tag := range tags {
		lw.linkedTags[tag] = struct{}{}
	}
	return nil
}

// WriteSet stores a named set of paths relative to this location.
func (s *SceneCache) WriteSet(name string, set *pathmatcher.PathMatcher) error {
	w, err := s.writer(setsEntry)
	if err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return s.errf(ErrInvalidArgument, setsEntry, err, "")
	}
	if set == nil {
		return s.errf(ErrInvalidArgument, setsEntry+"/"+name, nil, "nil set")
	}
	data, err := set.MarshalBinary()
	if err != nil {
		return s.errf(ErrInvalidArgument, setsEntry+"/"+name, err, "")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := s.dir.Join(setsEntry).Write(name, data); err != nil {
		return s.wrap(setsEntry+"/"+name, err)
	}
	lw := w.loc(s.path)
	if !slices.Contains(lw.sets, name) {
		lw.sets = append(lw.sets, name)
	}
	return nil
}

// flush writes everything that is only known once writing is done:
// visibility, animation markers, tags and sample time indices.
func (w *writer) flush(r *cacheRoot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, lw := range w.order {
		s := r.handle(lw.path)
		if err := s.flushVisibility(lw); err != nil {
			return err
		}
		if err := s.flushAnimationMarkers(lw); err != nil {
			return err
		}
	}
	if err := w.flushTags(r); err != nil {
		return err
	}

	var table timeTable
	for _, lw := range w.order {
		s := r.handle(lw.path)
		chans := slices.SortedFunc(maps.Keys(lw.channels), func(a, b channel) int {
			return cmp.Or(cmp.Compare(a.kind, b.kind), cmp.Compare(a.name, b.name))
		})
		for _, ch := range chans {
			idx := table.add(lw.channels[ch].times)
			if err := ch.dir(s.dir).Write(sampleTimesEntry, appendUvarint(nil, uint64(idx))); err != nil {
				return s.wrap(ch.entry(), err)
			}
		}
	}
	dir := r.file.Root().Join(sampleTimesEntry)
	for i, times := range table.lists {
		data, err := encodeMsgpack(nil, times)
		if err != nil {
			return r.errf(ErrIO, nil, sampleTimesEntry, err, "")
		}
		if err := dir.Write(sampleEntry(i), data); err != nil {
			return wrapErr(r.name, nil, sampleTimesEntry, err)
		}
	}
	if r.verbose {
		r.logger.Debug("scenecache: flushed", "file", r.name, "locations", len(w.order), "time_lists", len(table.lists))
	}
	return nil
}

func (s *SceneCache) flushVisibility(lw *locWriter) error {
	if len(lw.visibility) == 0 {
		return nil
	}
	samples := lw.visibility
	lw.visibility = nil
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].t < samples[j].t })
	for _, v := range samples {
		data, err := encodeSample(nil, v.obj)
		if err != nil {
			return s.errf(ErrInvalidArgument, VisibilityAttribute, err, "")
		}
		if _, err := s.writeSample(lw, attributeChannel(VisibilityAttribute), v.obj.TypeName(), v.t, data); err != nil {
			return err
		}
	}
	return nil
}

// flushAnimationMarkers tells readers of an animated primitive whether its
// topology changes and which variables vary between samples.
func (s *SceneCache) flushAnimationMarkers(lw *locWriter) error {
	if len(lw.topology) < 2 {
		return nil
	}
	var topologyChanges bool
	varying := make(map[string]struct{})
	first := lw.primvars[0]
	for i := 1; i < len(lw.topology); i++ {
		if lw.topology[i] != lw.topology[0] {
			topologyChanges = true
		}
		for name, h := range lw.primvars[i] {
			if fh, ok := first[name]; !ok || fh != h {
				varying[name] = struct{}{}
			}
		}
		for name := range first {
			if _, ok := lw.primvars[i][name]; !ok {
				varying[name] = struct{}{}
			}
		}
	}
	markers := []struct {
		name  string
		value Object
	}{
		{AnimatedObjectTopologyAttribute, &BoolData{Value: topologyChanges}},
		{AnimatedObjectPrimVarsAttribute, &StringVectorData{Value: slices.Sorted(maps.Keys(varying))}},
	}
	for _, m := range markers {
		if slices.Contains(lw.attrs, m.name) {
			continue
		}
		data, err := encodeSample(nil, m.value)
		if err != nil {
			return s.errf(ErrIO, m.name, err, "")
		}
		if _, err := s.writeSample(lw, attributeChannel(m.name), m.value.TypeName(), 0, data); err != nil {
			return err
		}
		lw.addAttr(m.name)
	}
	return nil
}

// flushTags stores local tags and the tags declared anywhere below each
// location. A location has a descendant tag when the tag's path set has a
// path strictly below it, or when a link at the location brought it in.
func (w *writer) flushTags(r *cacheRoot) error {
	matchers := make(map[string]*pathmatcher.PathMatcher)
	add := func(tags map[string]struct{}, path Path) {
		for tag := range tags {
			m := matchers[tag]
			if m == nil {
				m = pathmatcher.New()
				matchers[tag] = m
			}
			m.AddPath(path)
		}
	}
	for _, lw := range w.order {
		add(lw.localTags, lw.path)
		add(lw.linkedTags, lw.path)
	}
	if len(matchers) == 0 {
		return nil
	}
	names := slices.Sorted(maps.Keys(matchers))

	for _, lw := range w.order {
		st := storedTags{Local: slices.Sorted(maps.Keys(lw.localTags))}
		for _, tag := range names {
			if _, ok := lw.localTags[tag]; ok {
				continue
			}
			_, linked := lw.linkedTags[tag]
			if linked || matchers[tag].Match(lw.path).Contains(pathmatcher.DescendantMatch) {
				st.Descendant = append(st.Descendant, tag)
			}
		}
		if len(st.Local) == 0 && len(st.Descendant) == 0 {
			continue
		}
		s := r.handle(lw.path)
		data, err := encodeMsgpack(nil, &st)
		if err != nil {
			return s.errf(ErrIO, tagsEntry, err, "")
		}
		if err := s.dir.Write(tagsEntry, data); err != nil {
			return s.wrap(tagsEntry, err)
		}
	}
	return nil
}
