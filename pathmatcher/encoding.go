package pathmatcher

import "github.com/vmihailenco/msgpack/v5"

var (
	_ msgpack.CustomEncoder = (*PathMatcher)(nil)
	_ msgpack.CustomDecoder = (*PathMatcher)(nil)
)

// EncodeMsgpack stores the set as a sorted array of path strings.
func (m *PathMatcher) EncodeMsgpack(enc *msgpack.Encoder) error {
	paths := m.Paths()
	if err := enc.EncodeArrayLen(len(paths)); err != nil {
		return err
	}
	for _, p := range paths {
		if err := enc.EncodeString(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *PathMatcher) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	m.Clear()
	for i := 0; i < n; i++ {
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		m.AddPath(Parse(s))
	}
	return nil
}

// MarshalBinary encodes m with msgpack.
func (m *PathMatcher) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(m)
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (m *PathMatcher) UnmarshalBinary(data []byte) error {
	return msgpack.Unmarshal(data, m)
}
