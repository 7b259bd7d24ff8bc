package scenecache

import (
	"github.com/andreyvit/scenecache/indexedio"
)

// Stats summarizes a scene cache file opened for reading.
type Stats struct {
	Locations int
	Samples   int
	Reads     uint64
	Writes    uint64

	Container indexedio.Stats
}

// Stats counts the locations and stored samples at and below s, along with
// the container totals of the whole file.
func (s *SceneCache) Stats() (Stats, error) {
	result := Stats{
		Reads:  s.r.reads.Load(),
		Writes: s.r.writes.Load(),
	}
	base := len(s.dir.Path())
	err := s.dir.Walk(func(dir *indexedio.Directory, files []indexedio.Entry) error {
		if isLocationDir(dir.Path()[base:]) {
			result.Locations++
		}
		var sampled bool
		for _, f := range files {
			if f.Name == sampleTimesEntry {
				sampled = true
				break
			}
		}
		if !sampled {
			return nil
		}
		for _, f := range files {
			if _, err := parseSampleIndex(f.Name); err == nil {
				result.Samples++
			}
		}
		return nil
	})
	if err != nil {
		return result, s.wrap("", err)
	}
	result.Container, err = s.r.file.Stats()
	if err != nil {
		return result, s.wrap("", err)
	}
	return result, nil
}

// isLocationDir reports whether rel, relative to a location directory, names
// a descendant location: children/a/children/b and so on.
func isLocationDir(rel []string) bool {
	if len(rel)%2 != 0 {
		return false
	}
	for i := 0; i < len(rel); i += 2 {
		if rel[i] != childrenEntry {
			return false
		}
	}
	return true
}
