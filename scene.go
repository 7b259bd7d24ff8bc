package scenecache

import (
	"context"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/andreyvit/scenecache/indexedio"
	"github.com/andreyvit/scenecache/linear"
	"github.com/andreyvit/scenecache/pathmatcher"
)

type Mode = indexedio.Mode

const (
	Read   = indexedio.Read
	Write  = indexedio.Write
	Append = indexedio.Append
)

type MissingBehaviour = indexedio.MissingBehaviour

const (
	ThrowIfMissing  = indexedio.ThrowIfMissing
	NullIfMissing   = indexedio.NullIfMissing
	CreateIfMissing = indexedio.CreateIfMissing
)

// TagFilter selects which tags ReadTags and HasTag consider.
type TagFilter uint

const (
	// DescendantTag: tags declared at this location or anywhere below it.
	DescendantTag TagFilter = 1
	// LocalTag: tags declared at this location.
	LocalTag TagFilter = 2
	// AncestorTag: tags declared at any location above this one.
	AncestorTag TagFilter = 4
	EveryTag              = DescendantTag | LocalTag | AncestorTag
)

// HashType selects what Hash summarizes.
type HashType int

const (
	TransformHash HashType = iota
	AttributesHash
	BoundHash
	ObjectHash
	ChildNamesHash
	HierarchyHash
)

// Reserved attribute names.
const (
	VisibilityAttribute             = "scene:visible"
	LinkAttribute                   = "sceneInterface:link"
	LinkLocationsAttribute          = "sceneInterface:linkLocations"
	AnimatedObjectTopologyAttribute = "sceneInterface:animatedObjectTopology"
	AnimatedObjectPrimVarsAttribute = "sceneInterface:animatedObjectPrimVars"
)

// Scene is one location of a time-sampled hierarchy. Times are in seconds.
//
// Handles to the same path of the same root are interchangeable. Closing the
// root handle finishes a writer and releases the file; closing any other
// handle does nothing.
type Scene interface {
	io.Closer

	FileName() string
	Name() string
	Path() Path

	HasBound() (bool, error)
	ReadBound(ctx context.Context, time float64) (linear.Box3, error)
	WriteBound(bound linear.Box3, time float64) error

	ReadTransform(time float64) (Object, error)
	ReadTransformAsMatrix(time float64) (linear.M4, error)
	WriteTransform(transform Object, time float64) error

	HasAttribute(name string) (bool, error)
	AttributeNames() ([]string, error)
	ReadAttribute(name string, time float64) (Object, error)
	WriteAttribute(name string, value Object, time float64) error

	HasTag(name string, filter TagFilter) (bool, error)
	ReadTags(filter TagFilter) ([]string, error)
	WriteTags(tags []string) error

	SetNames(includeDescendantSets bool) ([]string, error)
	ReadSet(ctx context.Context, name string, includeDescendantSets bool) (*pathmatcher.PathMatcher, error)
	WriteSet(name string, set *pathmatcher.PathMatcher) error

	HasObject() (bool, error)
	ReadObject(ctx context.Context, time float64) (Object, error)
	ReadObjectPrimitiveVariables(ctx context.Context, names []string, time float64) (map[string]PrimitiveVariable, error)
	WriteObject(object Object, time float64) error

	ChildNames() ([]string, error)
	HasChild(name string) (bool, error)
	// Child returns nil, nil for a missing child under NullIfMissing.
	Child(name string, mb MissingBehaviour) (Scene, error)
	CreateChild(name string) (Scene, error)
	// Scene navigates from the root of this scene, as repeated Child calls would.
	Scene(path Path, mb MissingBehaviour) (Scene, error)

	Hash(kind HashType, time float64) (uint64, error)
}

// SampledScene exposes the stored samples behind each time-sampled property.
type SampledScene interface {
	Scene

	NumBoundSamples() (int, error)
	BoundSampleTime(i int) (float64, error)
	BoundSampleInterval(time float64) (Interval, error)
	ReadBoundAtSample(i int) (linear.Box3, error)

	NumTransformSamples() (int, error)
	TransformSampleTime(i int) (float64, error)
	TransformSampleInterval(time float64) (Interval, error)
	ReadTransformAtSample(i int) (Object, error)
	ReadTransformAsMatrixAtSample(i int) (linear.M4, error)

	NumAttributeSamples(name string) (int, error)
	AttributeSampleTime(name string, i int) (float64, error)
	AttributeSampleInterval(name string, time float64) (Interval, error)
	ReadAttributeAtSample(name string, i int) (Object, error)

	NumObjectSamples() (int, error)
	ObjectSampleTime(i int) (float64, error)
	ObjectSampleInterval(time float64) (Interval, error)
	ReadObjectAtSample(i int) (Object, error)
}

// OpenFunc opens a scene file.
type OpenFunc func(fileName string, mode Mode, opt Options) (Scene, error)

var fileFormats = struct {
	sync.RWMutex
	byExt map[string]OpenFunc
}{byExt: make(map[string]OpenFunc)}

// RegisterFileFormat makes Create open files with the given extension
// (including the dot) using open.
func RegisterFileFormat(ext string, open OpenFunc) {
	fileFormats.Lock()
	defer fileFormats.Unlock()
	fileFormats.byExt[strings.ToLower(ext)] = open
}

// SupportedExtensions lists the registered extensions, sorted.
func SupportedExtensions() []string {
	fileFormats.RLock()
	defer fileFormats.RUnlock()
	exts := make([]string, 0, len(fileFormats.byExt))
	for ext := range fileFormats.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Create opens the root of a scene file, choosing the implementation by
// the file's extension.
func Create(fileName string, mode Mode, opt Options) (Scene, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	fileFormats.RLock()
	open := fileFormats.byExt[ext]
	fileFormats.RUnlock()
	if open == nil {
		return nil, sceneErrf(ErrInvalidArgument, fileName, nil, "", nil, "unsupported scene file extension %q", ext)
	}
	return open(fileName, mode, opt)
}

func init() {
	RegisterFileFormat(".scc", func(fileName string, mode Mode, opt Options) (Scene, error) {
		s, err := OpenSceneCache(fileName, mode, opt)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	RegisterFileFormat(".lscc", func(fileName string, mode Mode, opt Options) (Scene, error) {
		s, err := OpenLinkedScene(fileName, mode, opt)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
