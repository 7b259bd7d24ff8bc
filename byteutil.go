package scenecache

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"github.com/andreyvit/scenecache/linear"
)

const boxSize = 6 * 8

type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = append(bb.Buf, b...)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	bb.Buf = append(bb.Buf, v)
	return nil
}

func (bb *bytesBuilder) WriteString(s string) (int, error) {
	bb.Buf = append(bb.Buf, s...)
	return len(s), nil
}

// appendBox stores min then max as little-endian float64s.
func appendBox(buf []byte, b linear.Box3) []byte {
	for _, v := range b.Min {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	for _, v := range b.Max {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

func decodeBox(data []byte) (linear.Box3, error) {
	var b linear.Box3
	if len(data) != boxSize {
		return b, dataErrf(data, 0, nil, "invalid box: got %d bytes, expected %d", len(data), boxSize)
	}
	for i := range b.Min {
		b.Min[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	for i := range b.Max {
		b.Max[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[24+8*i:]))
	}
	return b, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func decodeUvarint(data []byte) (uint64, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 || n != len(data) {
		return 0, dataErrf(data, 0, nil, "invalid uvarint")
	}
	return v, nil
}

func sampleEntry(i int) string {
	return strconv.Itoa(i)
}

func sampleBoundEntry(i int) string {
	return "b" + strconv.Itoa(i)
}
