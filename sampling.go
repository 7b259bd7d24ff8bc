package scenecache

import (
	"encoding/binary"
	"math"
	"slices"
	"strconv"
)

// timeEpsilon is how close a query time must be to a sample time to
// count as that sample.
const timeEpsilon = 1e-6

// Interval brackets a query time between two stored samples. A query that
// hits a sample, or falls outside the sampled range, has Floor == Ceil and
// X == 0. Otherwise X in (0, 1) is the interpolation parameter from Floor
// to Ceil.
type Interval struct {
	Floor int
	Ceil  int
	X     float64
}

// Exact reports whether the interval names a single sample.
func (iv Interval) Exact() bool {
	return iv.Floor == iv.Ceil
}

// Closest returns the sample nearest to the query time.
func (iv Interval) Closest() int {
	if iv.X >= 0.5 {
		return iv.Ceil
	}
	return iv.Floor
}

func sampleInterval(times []float64, t float64) Interval {
	n := len(times)
	if n == 0 {
		return Interval{}
	}
	i, _ := slices.BinarySearch(times, t)
	if i < n && math.Abs(times[i]-t) < timeEpsilon {
		return Interval{Floor: i, Ceil: i}
	}
	if i > 0 && math.Abs(times[i-1]-t) < timeEpsilon {
		return Interval{Floor: i - 1, Ceil: i - 1}
	}
	if i == 0 {
		return Interval{}
	}
	if i == n {
		return Interval{Floor: n - 1, Ceil: n - 1}
	}
	x := (t - times[i-1]) / (times[i] - times[i-1])
	return Interval{Floor: i - 1, Ceil: i, X: x}
}

// mergeTimes returns the sorted union of a and b, treating times closer
// than timeEpsilon as equal.
func mergeTimes(a, b []float64) []float64 {
	if len(b) == 0 {
		return a
	}
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var v float64
		switch {
		case j == len(b) || i < len(a) && a[i] <= b[j]:
			v, i = a[i], i+1
		default:
			v, j = b[j], j+1
		}
		if k := len(out); k > 0 && math.Abs(out[k-1]-v) < timeEpsilon {
			continue
		}
		out = append(out, v)
	}
	return out
}

// timeTable deduplicates the sample time lists of a file being written.
// Every channel stores an index into the table instead of its own list.
type timeTable struct {
	lists [][]float64
	index map[string]int
}

func (tt *timeTable) add(times []float64) int {
	key := timesKey(times)
	if i, ok := tt.index[key]; ok {
		return i
	}
	if tt.index == nil {
		tt.index = make(map[string]int)
	}
	i := len(tt.lists)
	tt.lists = append(tt.lists, slices.Clone(times))
	tt.index[key] = i
	return i
}

func timesKey(times []float64) string {
	buf := make([]byte, 0, 8*len(times))
	for _, t := range times {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t))
	}
	return string(buf)
}

func timeCacheKey(path Path, t float64) string {
	return path.String() + "@" + strconv.FormatFloat(t, 'g', -1, 64)
}
