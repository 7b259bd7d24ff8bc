/*
Package scenecache stores time-sampled scene hierarchies in random-access
container files (see package indexedio), and reads them back lazily.

A scene is a tree of named locations. Each location has:

1. A transform relative to its parent (none at the root).

2. Named attributes holding arbitrary registered objects.

3. At most one object, typically a geometric primitive.

4. Tags, queryable locally, across descendants and across ancestors.

5. Named sets of paths relative to the location.

6. A bound, either written or derived from the object and children.

Everything except tags and sets is sampled over time. Readers ask for any
time and get the bracketing samples interpolated when the object type
supports it (see Lerper), or the closest sample otherwise.

LinkedScene lets a location stand for a location of another file, and
Shared makes every link to the same file use one open root.

# Technical Details

**Container layout.**
The container holds a header, a table of sample time lists, and the root
location. Each location directory has children/, attributes/<name>/,
object/, transform/ and bound/ subdirectories, plus tags and sets/ entries.

**Sampled directories.**
A sampled directory holds samples named 0, 1, ... and a sampleTimes entry
pointing into the file's table of time lists. Identical time lists are
stored once. Object directories also hold b0, b1, ... with the bound of
each primitive sample, so deriving bounds needs no object decoding.

**Sample encoding.**
Flags (uvarint), the length and bytes of the registered type name, then
the object in MsgPack. Bounds are six little-endian float64s.

**Writing.**
Samples go straight into the container as they are written. Tags, sample
time indices, visibility and animation markers are written on Close.
*/
package scenecache
