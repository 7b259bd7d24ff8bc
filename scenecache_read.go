package scenecache

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/scenecache/indexedio"
	"github.com/andreyvit/scenecache/linear"
	"github.com/andreyvit/scenecache/pathmatcher"
)

type channelKind uint8

const (
	boundKind channelKind = iota
	transformKind
	attributeKind
	objectKind
)

// channel names one time-sampled property of a location.
type channel struct {
	kind channelKind
	name string
}

var (
	boundChannel     = channel{kind: boundKind}
	transformChannel = channel{kind: transformKind}
	objectChannel    = channel{kind: objectKind}
)

func attributeChannel(name string) channel {
	return channel{kind: attributeKind, name: name}
}

func (ch channel) entry() string {
	switch ch.kind {
	case boundKind:
		return boundEntry
	case transformKind:
		return transformEntry
	case objectKind:
		return objectEntry
	default:
		return attributesEntry + "/" + ch.name
	}
}

func (ch channel) dir(loc *indexedio.Directory) *indexedio.Directory {
	if ch.kind == attributeKind {
		return loc.Join(attributesEntry, ch.name)
	}
	return loc.Join(ch.entry())
}

var defaultTimes = []float64{0}

func parseSampleIndex(name string) (int, error) {
	i, err := strconv.Atoi(name)
	if err != nil {
		return 0, err
	}
	if i < 0 || strconv.Itoa(i) != name {
		return 0, errors.New("non-canonical sample index")
	}
	return i, nil
}

func (s *SceneCache) readable(entry string) error {
	if s.r.w != nil {
		return s.errf(ErrIO, entry, nil, "cannot read samples from a scene open for writing")
	}
	return nil
}

// storedTimes returns the sample times of ch, or nil if nothing was written
// to ch.
func (s *SceneCache) storedTimes(ch channel) ([]float64, error) {
	if err := s.readable(ch.entry()); err != nil {
		return nil, err
	}
	data, err := ch.dir(s.dir).Read(sampleTimesEntry)
	if errors.Is(err, indexedio.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, s.wrap(ch.entry(), err)
	}
	idx, err := decodeUvarint(data)
	if err != nil {
		return nil, s.errf(ErrIO, ch.entry(), err, "")
	}
	lists, err := s.r.sampleTimeLists()
	if err != nil {
		return nil, err
	}
	if idx >= uint64(len(lists)) {
		return nil, s.errf(ErrIO, ch.entry(), nil, "sample time list %d out of range", idx)
	}
	return lists[idx], nil
}

// times returns the sample times of ch, applying the defaults for a channel
// that was never written: one identity sample at time 0 for transforms and
// derived times for bounds. Attributes and objects have no default.
func (s *SceneCache) times(ctx context.Context, ch channel) ([]float64, error) {
	times, err := s.storedTimes(ch)
	if err != nil || times != nil {
		return times, err
	}
	switch ch.kind {
	case transformKind:
		return defaultTimes, nil
	case boundKind:
		return s.derivedBoundTimes(ctx)
	case objectKind:
		return nil, s.errf(ErrInvalidArgument, ch.entry(), nil, "no object")
	default:
		return nil, s.errf(ErrInvalidArgument, ch.entry(), nil, "no attribute %q", ch.name)
	}
}

func (s *SceneCache) numSamples(ch channel) (int, error) {
	times, err := s.times(context.Background(), ch)
	return len(times), err
}

func (s *SceneCache) sampleTime(ch channel, i int) (float64, error) {
	times, err := s.times(context.Background(), ch)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= len(times) {
		return 0, s.errf(ErrInvalidArgument, ch.entry(), nil, "sample %d out of range [0, %d)", i, len(times))
	}
	return times[i], nil
}

func (s *SceneCache) sampleIntervalOf(ch channel, t float64) (Interval, error) {
	times, err := s.times(context.Background(), ch)
	if err != nil {
		return Interval{}, err
	}
	return sampleInterval(times, t), nil
}

// objectAtSample reads sample i of a transform, attribute or object channel.
func (s *SceneCache) objectAtSample(ch channel, i int) (Object, error) {
	if _, err := s.sampleTime(ch, i); err != nil {
		return nil, err
	}
	return s.sampleObject(ch, i)
}

func (s *SceneCache) sampleObject(ch channel, i int) (Object, error) {
	dir := ch.dir(s.dir)
	entry := sampleEntry(i)
	data, err := dir.Read(entry)
	if errors.Is(err, indexedio.ErrNotFound) && ch.kind == transformKind && i == 0 {
		if ok, _ := dir.Exists(); !ok {
			return &M44dData{Value: linear.Identity()}, nil
		}
	}
	if err != nil {
		return nil, s.wrap(ch.entry()+"/"+entry, err)
	}
	s.r.reads.Add(1)
	obj, err := decodeSample(data)
	if err != nil {
		return nil, s.errf(ErrIO, ch.entry()+"/"+entry, err, "")
	}
	return obj, nil
}

// objectAt reads ch at time t, interpolating between bracketing samples.
func (s *SceneCache) objectAt(ch channel, t float64) (Object, error) {
	times, err := s.times(context.Background(), ch)
	if err != nil {
		return nil, err
	}
	iv := sampleInterval(times, t)
	a, err := s.sampleObject(ch, iv.Floor)
	if err != nil || iv.Exact() {
		return a, err
	}
	b, err := s.sampleObject(ch, iv.Ceil)
	if err != nil {
		return nil, err
	}
	return lerpObjects(a, b, iv.X), nil
}

func (s *SceneCache) readBox(dir *indexedio.Directory, entry, what string) (linear.Box3, error) {
	data, err := dir.Read(entry)
	if err != nil {
		return linear.Box3{}, s.wrap(what+"/"+entry, err)
	}
	s.r.reads.Add(1)
	b, err := decodeBox(data)
	if err != nil {
		return b, s.errf(ErrIO, what+"/"+entry, err, "")
	}
	return b, nil
}

func (s *SceneCache) boxAt(dir *indexedio.Directory, entry func(int) string, what string, iv Interval) (linear.Box3, error) {
	a, err := s.readBox(dir, entry(iv.Floor), what)
	if err != nil || iv.Exact() {
		return a, err
	}
	b, err := s.readBox(dir, entry(iv.Ceil), what)
	if err != nil {
		return a, err
	}
	var out linear.Box3
	out.Lerp(a, b, iv.X)
	return out, nil
}

func (s *SceneCache) ReadBound(ctx context.Context, t float64) (linear.Box3, error) {
	if err := checkCtx(ctx, s.r.name, s.path); err != nil {
		return linear.Box3{}, err
	}
	times, err := s.storedTimes(boundChannel)
	if err != nil {
		return linear.Box3{}, err
	}
	if times == nil {
		return s.derivedBound(ctx, t)
	}
	return s.boxAt(boundChannel.dir(s.dir), sampleEntry, boundEntry, sampleInterval(times, t))
}

// derivedBound is the union of the object's bound and every child's bound
// transformed into this location's space.
func (s *SceneCache) derivedBound(ctx context.Context, t float64) (linear.Box3, error) {
	key := "bound:" + timeCacheKey(s.path, t)
	if v, ok := s.r.bounds.Get(key); ok {
		boundCacheHits.Inc()
		return v.(linear.Box3), nil
	}
	boundCacheMisses.Inc()

	b := linear.EmptyBox()
	hasObject, err := s.HasObject()
	if err != nil {
		return b, err
	}
	if hasObject {
		ob, err := s.objectBound(t)
		if err != nil {
			return b, err
		}
		b = b.Union(ob)
	}

	names, err := s.ChildNames()
	if err != nil {
		return b, err
	}
	for _, name := range names {
		if err := checkCtx(ctx, s.r.name, s.path); err != nil {
			return b, err
		}
		c := s.r.handle(s.path.Child(name))
		cb, err := c.ReadBound(ctx, t)
		if err != nil {
			return b, err
		}
		if cb.IsEmpty() {
			continue
		}
		m, err := c.ReadTransformAsMatrix(t)
		if err != nil {
			return b, err
		}
		b = b.Union(cb.Transform(&m))
	}

	s.r.bounds.Add(key, b)
	return b, nil
}

// objectBound prefers the bounds stored with object samples and falls back
// to decoding the object.
func (s *SceneCache) objectBound(t float64) (linear.Box3, error) {
	times, err := s.times(context.Background(), objectChannel)
	if err != nil {
		return linear.Box3{}, err
	}
	iv := sampleInterval(times, t)
	dir := objectChannel.dir(s.dir)
	ok, err := dir.HasEntry(sampleBoundEntry(iv.Floor))
	if err != nil {
		return linear.Box3{}, s.wrap(objectEntry, err)
	}
	if ok {
		return s.boxAt(dir, sampleBoundEntry, objectEntry, iv)
	}
	obj, err := s.objectAt(objectChannel, t)
	if err != nil {
		return linear.Box3{}, err
	}
	if p, ok := obj.(Primitive); ok {
		return p.Bound(), nil
	}
	return linear.EmptyBox(), nil
}

// derivedBoundTimes is the union of the object's sample times and the
// transform and bound sample times of every child.
func (s *SceneCache) derivedBoundTimes(ctx context.Context) ([]float64, error) {
	key := "times:" + s.path.String()
	if v, ok := s.r.bounds.Get(key); ok {
		return v.([]float64), nil
	}

	var times []float64
	hasObject, err := s.HasObject()
	if err != nil {
		return nil, err
	}
	if hasObject {
		times, err = s.storedTimes(objectChannel)
		if err != nil {
			return nil, err
		}
	}
	names, err := s.ChildNames()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := checkCtx(ctx, s.r.name, s.path); err != nil {
			return nil, err
		}
		c := s.r.handle(s.path.Child(name))
		ct, err := c.storedTimes(transformChannel)
		if err != nil {
			return nil, err
		}
		times = mergeTimes(times, ct)
		cb, err := c.times(ctx, boundChannel)
		if err != nil {
			return nil, err
		}
		times = mergeTimes(times, cb)
	}
	if len(times) == 0 {
		times = defaultTimes
	}
	s.r.bounds.Add(key, times)
	return times, nil
}

func (s *SceneCache) ReadTransform(t float64) (Object, error) {
	return s.objectAt(transformChannel, t)
}

func (s *SceneCache) ReadTransformAsMatrix(t float64) (linear.M4, error) {
	obj, err := s.ReadTransform(t)
	if err != nil {
		return linear.M4{}, err
	}
	return s.transformMatrix(obj)
}

func (s *SceneCache) transformMatrix(obj Object) (linear.M4, error) {
	m, ok := transformMatrix(obj)
	if !ok {
		return m, s.errf(ErrIO, transformEntry, nil, "unsupported transform type %s", obj.TypeName())
	}
	return m, nil
}

func transformMatrix(obj Object) (linear.M4, bool) {
	switch v := obj.(type) {
	case *M44dData:
		return v.Value, true
	case *TransformationMatrixData:
		return v.Matrix(), true
	default:
		return linear.Identity(), false
	}
}

func (s *SceneCache) ReadAttribute(name string, t float64) (Object, error) {
	return s.objectAt(attributeChannel(name), t)
}

func (s *SceneCache) ReadObject(ctx context.Context, t float64) (Object, error) {
	if err := checkCtx(ctx, s.r.name, s.path); err != nil {
		return nil, err
	}
	return s.objectAt(objectChannel, t)
}

// ReadObjectPrimitiveVariables returns the named variables of the object,
// which must be a Primitive. Names the primitive lacks are left out.
// Samples are stored whole, so this decodes the full object at t.
func (s *SceneCache) ReadObjectPrimitiveVariables(ctx context.Context, names []string, t float64) (map[string]PrimitiveVariable, error) {
	obj, err := s.ReadObject(ctx, t)
	if err != nil {
		return nil, err
	}
	p, ok := obj.(Primitive)
	if !ok {
		return nil, s.errf(ErrInvalidArgument, objectEntry, nil, "%s is not a primitive", obj.TypeName())
	}
	return selectVariables(p, names), nil
}

func selectVariables(p Primitive, names []string) map[string]PrimitiveVariable {
	vars := p.Variables()
	out := make(map[string]PrimitiveVariable, len(names))
	for _, name := range names {
		if v, ok := vars[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (s *SceneCache) NumBoundSamples() (int, error) { return s.numSamples(boundChannel) }

func (s *SceneCache) BoundSampleTime(i int) (float64, error) {
	return s.sampleTime(boundChannel, i)
}

func (s *SceneCache) BoundSampleInterval(t float64) (Interval, error) {
	return s.sampleIntervalOf(boundChannel, t)
}

func (s *SceneCache) ReadBoundAtSample(i int) (linear.Box3, error) {
	t, err := s.sampleTime(boundChannel, i)
	if err != nil {
		return linear.Box3{}, err
	}
	stored, err := s.HasBound()
	if err != nil {
		return linear.Box3{}, err
	}
	if !stored {
		return s.derivedBound(context.Background(), t)
	}
	return s.readBox(boundChannel.dir(s.dir), sampleEntry(i), boundEntry)
}

func (s *SceneCache) NumTransformSamples() (int, error) { return s.numSamples(transformChannel) }

func (s *SceneCache) TransformSampleTime(i int) (float64, error) {
	return s.sampleTime(transformChannel, i)
}

func (s *SceneCache) TransformSampleInterval(t float64) (Interval, error) {
	return s.sampleIntervalOf(transformChannel, t)
}

func (s *SceneCache) ReadTransformAtSample(i int) (Object, error) {
	return s.objectAtSample(transformChannel, i)
}

func (s *SceneCache) ReadTransformAsMatrixAtSample(i int) (linear.M4, error) {
	obj, err := s.ReadTransformAtSample(i)
	if err != nil {
		return linear.M4{}, err
	}
	return s.transformMatrix(obj)
}

func (s *SceneCache) NumAttributeSamples(name string) (int, error) {
	return s.numSamples(attributeChannel(name))
}

func (s *SceneCache) AttributeSampleTime(name string, i int) (float64, error) {
	return s.sampleTime(attributeChannel(name), i)
}

func (s *SceneCache) AttributeSampleInterval(name string, t float64) (Interval, error) {
	return s.sampleIntervalOf(attributeChannel(name), t)
}

func (s *SceneCache) ReadAttributeAtSample(name string, i int) (Object, error) {
	return s.objectAtSample(attributeChannel(name), i)
}

func (s *SceneCache) NumObjectSamples() (int, error) { return s.numSamples(objectChannel) }

func (s *SceneCache) ObjectSampleTime(i int) (float64, error) {
	return s.sampleTime(objectChannel, i)
}

func (s *SceneCache) ObjectSampleInterval(t float64) (Interval, error) {
	return s.sampleIntervalOf(objectChannel, t)
}

func (s *SceneCache) ReadObjectAtSample(i int) (Object, error) {
	return s.objectAtSample(objectChannel, i)
}

// Hash summarizes what kind selects at time t. Times within the same pair of
// bracketing samples that interpolate identically hash the same, so the
// result can key caches of derived data.
func (s *SceneCache) Hash(kind HashType, t float64) (uint64, error) {
	if err := s.readable(""); err != nil {
		return 0, err
	}
	h := xxhash.New()
	h.Write(s.r.header.FileID[:])
	h.WriteString(s.path.String())
	h.Write([]byte{byte(kind)})

	switch kind {
	case TransformHash:
		if err := s.hashChannel(h, transformChannel, t); err != nil {
			return 0, err
		}
	case AttributesHash:
		names, err := s.AttributeNames()
		if err != nil {
			return 0, err
		}
		for _, name := range names {
			h.WriteString(name)
			if err := s.hashChannel(h, attributeChannel(name), t); err != nil {
				return 0, err
			}
		}
	case BoundHash:
		if err := s.hashChannel(h, boundChannel, t); err != nil {
			return 0, err
		}
	case ObjectHash:
		ok, err := s.HasObject()
		if err != nil {
			return 0, err
		}
		if ok {
			if err := s.hashChannel(h, objectChannel, t); err != nil {
				return 0, err
			}
		}
	case ChildNamesHash:
		names, err := s.ChildNames()
		if err != nil {
			return 0, err
		}
		for _, name := range names {
			h.WriteString(name)
			h.Write([]byte{0})
		}
	case HierarchyHash:
		writeFloat(h, t)
	default:
		return 0, s.errf(ErrInvalidArgument, "", nil, "unknown hash type %d", kind)
	}
	return h.Sum64(), nil
}

type hashWriter interface {
	Write([]byte) (int, error)
}

func (s *SceneCache) hashChannel(h hashWriter, ch channel, t float64) error {
	times, err := s.times(context.Background(), ch)
	if err != nil {
		return err
	}
	iv := sampleInterval(times, t)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(iv.Floor))
	binary.LittleEndian.PutUint64(buf[8:], uint64(iv.Ceil))
	h.Write(buf[:])
	writeFloat(h, iv.X)
	return nil
}

func writeFloat(h hashWriter, v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	h.Write(buf[:])
}

func (s *SceneCache) SetNames(includeDescendantSets bool) ([]string, error) {
	var names []string
	if w := s.r.w; w != nil {
		w.mu.Lock()
		names = w.setNames(s.path, includeDescendantSets)
		w.mu.Unlock()
	} else {
		err := s.collectSetNames(&names, includeDescendantSets)
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (s *SceneCache) collectSetNames(names *[]string, recursive bool) error {
	local, err := s.dir.Join(setsEntry).Entries(indexedio.FileEntry)
	if err != nil {
		return s.wrap(setsEntry, err)
	}
	*names = append(*names, local...)
	if !recursive {
		return nil
	}
	children, err := s.ChildNames()
	if err != nil {
		return err
	}
	for _, name := range children {
		if err := s.r.handle(s.path.Child(name)).collectSetNames(names, true); err != nil {
			return err
		}
	}
	return nil
}

// ReadSet returns the set declared here under name, with paths relative to
// this location. With includeDescendantSets, same-named sets of descendants
// are merged in under their relative paths.
func (s *SceneCache) ReadSet(ctx context.Context, name string, includeDescendantSets bool) (*pathmatcher.PathMatcher, error) {
	if err := s.readable(setsEntry); err != nil {
		return nil, err
	}
	out := pathmatcher.New()
	if err := s.readSetInto(ctx, out, nil, name, includeDescendantSets); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SceneCache) readSetInto(ctx context.Context, out *pathmatcher.PathMatcher, prefix Path, name string, recursive bool) error {
	if err := checkCtx(ctx, s.r.name, s.path); err != nil {
		return err
	}
	data, err := s.dir.Join(setsEntry).Read(name)
	switch {
	case errors.Is(err, indexedio.ErrNotFound):
	case err != nil:
		return s.wrap(setsEntry+"/"+name, err)
	default:
		var m pathmatcher.PathMatcher
		if err := m.UnmarshalBinary(data); err != nil {
			return s.errf(ErrIO, setsEntry+"/"+name, err, "")
		}
		out.AddPaths(&m, prefix)
	}
	if !recursive {
		return nil
	}
	children, err := s.ChildNames()
	if err != nil {
		return err
	}
	for _, c := range children {
		err := s.r.handle(s.path.Child(c)).readSetInto(ctx, out, prefix.Child(c), name, true)
		if err != nil {
			return err
		}
	}
	return nil
}
