package scenecache

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

func encodeMsgpack(buf []byte, v any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return bb.Buf, nil
}

func decodeMsgpack(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}

// hashObject digests the canonical encoding of obj.
func hashObject(obj Object) uint64 {
	if obj == nil {
		return 0
	}
	buf := sampleBytesPool.Get().([]byte)
	defer releaseSampleBytes(buf)
	data, err := encodeMsgpack(buf[:0], obj)
	if err != nil {
		return 0
	}
	h := xxhash.New()
	h.WriteString(obj.TypeName())
	h.Write(data)
	return h.Sum64()
}

func hashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// mixHashes combines digests order-sensitively.
func mixHashes(hs ...uint64) uint64 {
	var buf [8]byte
	h := xxhash.New()
	for _, v := range hs {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	return h.Sum64()
}
