package scenecache

import (
	"encoding/binary"
	"fmt"
)

const (
	sampleFormatVer1      = 1
	sampleFormatVerLatest = sampleFormatVer1

	maxTypeNameLen = 256
)

type sampleFlags uint64

const (
	sfVerBit0 = sampleFlags(1 << iota)
	sfVerBit1
	sfVerBit2
	sfVerBit3

	sfVerMask       = (sfVerBit0 | sfVerBit1 | sfVerBit2 | sfVerBit3)
	sfVer1          = sfVerBit0
	sfSupportedMask = sfVer1
	sfDefault       = sfVer1
)

func (sf sampleFlags) ver() sampleFlags {
	return sf & sfVerMask
}

// A stored sample is:
//
//  1. Flags (uvarint).
//  2. Type name length (uvarint) and type name bytes.
//  3. msgpack of the object.
type sample struct {
	Flags    sampleFlags
	TypeName string
	Data     []byte
}

func encodeSample(buf []byte, obj Object) ([]byte, error) {
	name := obj.TypeName()
	if name == "" || len(name) > maxTypeNameLen {
		return nil, fmt.Errorf("invalid type name %q of %T", name, obj)
	}
	buf = binary.AppendUvarint(buf, uint64(sfDefault))
	buf = binary.AppendUvarint(buf, uint64(len(name)))
	buf = append(buf, name...)
	return encodeMsgpack(buf, obj)
}

func (s *sample) decode(data []byte) error {
	orig := data
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid sample: bad flags")
	}
	if (v &^ uint64(sfSupportedMask)) != 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid sample: unsupported flags %x", v)
	}
	s.Flags, data = sampleFlags(v), data[n:]
	if s.Flags.ver() != sfVer1 {
		return dataErrf(orig, 0, nil, "invalid sample: unsupported version %d", s.Flags.ver())
	}

	v, n = binary.Uvarint(data)
	if n <= 0 || v == 0 || v > maxTypeNameLen || v > uint64(len(data)-n) {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid sample: bad type name length")
	}
	data = data[n:]
	s.TypeName, s.Data = string(data[:v]), data[v:]
	return nil
}

func decodeSample(data []byte) (Object, error) {
	var s sample
	if err := s.decode(data); err != nil {
		return nil, err
	}
	obj, err := NewObject(s.TypeName)
	if err != nil {
		return nil, dataErrf(data, len(data)-len(s.Data), err, "invalid sample")
	}
	if err := decodeMsgpack(s.Data, obj); err != nil {
		return nil, err
	}
	return obj, nil
}
