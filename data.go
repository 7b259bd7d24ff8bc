package scenecache

import (
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/scenecache/linear"
	"github.com/andreyvit/scenecache/pathmatcher"
)

type (
	BoolData struct {
		Value bool `msgpack:"v"`
	}
	IntData struct {
		Value int64 `msgpack:"v"`
	}
	DoubleData struct {
		Value float64 `msgpack:"v"`
	}
	StringData struct {
		Value string `msgpack:"v"`
	}
	StringVectorData struct {
		Value []string `msgpack:"v"`
	}
	DoubleVectorData struct {
		Value []float64 `msgpack:"v"`
	}
	V3dVectorData struct {
		Value []linear.V3 `msgpack:"v"`
	}
	M44dData struct {
		Value linear.M4 `msgpack:"v"`
	}
	Box3dData struct {
		Value linear.Box3 `msgpack:"v"`
	}

	// TransformationMatrixData is a transform kept as components:
	// scale, then rotation by euler angles (radians, XYZ order), then translation.
	TransformationMatrixData struct {
		Scale     linear.V3 `msgpack:"s"`
		Rotate    linear.V3 `msgpack:"r"`
		Translate linear.V3 `msgpack:"t"`
	}

	// CompoundData maps names to arbitrary registered objects.
	CompoundData struct {
		Value map[string]Object
	}

	PathMatcherData struct {
		Value *pathmatcher.PathMatcher `msgpack:"v"`
	}
)

func (*BoolData) TypeName() string                 { return "BoolData" }
func (*IntData) TypeName() string                  { return "IntData" }
func (*DoubleData) TypeName() string               { return "DoubleData" }
func (*StringData) TypeName() string               { return "StringData" }
func (*StringVectorData) TypeName() string         { return "StringVectorData" }
func (*DoubleVectorData) TypeName() string         { return "DoubleVectorData" }
func (*V3dVectorData) TypeName() string            { return "V3dVectorData" }
func (*M44dData) TypeName() string                 { return "M44dData" }
func (*Box3dData) TypeName() string                { return "Box3dData" }
func (*TransformationMatrixData) TypeName() string { return "TransformationMatrixData" }
func (*CompoundData) TypeName() string             { return "CompoundData" }
func (*PathMatcherData) TypeName() string          { return "PathMatcherData" }

func init() {
	Register[BoolData]()
	Register[IntData]()
	Register[DoubleData]()
	Register[StringData]()
	Register[StringVectorData]()
	Register[DoubleVectorData]()
	Register[V3dVectorData]()
	Register[M44dData]()
	Register[Box3dData]()
	Register[TransformationMatrixData]()
	Register[CompoundData]()
	Register[PathMatcherData]()
	Register[LinkData]()
	Register[PointsPrimitive]()
	Register[MeshPrimitive]()
}

// NewTransformationMatrix returns an identity transform.
func NewTransformationMatrix() *TransformationMatrixData {
	return &TransformationMatrixData{Scale: linear.V3{1, 1, 1}}
}

// Matrix composes translate ⋅ rotate ⋅ scale.
func (d *TransformationMatrixData) Matrix() linear.M4 {
	var s, r, t, m linear.M4
	s.Scale(d.Scale)
	r.RotateXYZ(d.Rotate)
	t.Translate(d.Translate)
	m.Mul(&r, &s)
	m.Mul(&t, &m)
	return m
}

// Translation returns an M44dData translating by v.
func Translation(v linear.V3) *M44dData {
	d := &M44dData{}
	d.Value.Translate(v)
	return d
}

func (d *DoubleData) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*DoubleData)
	if !ok {
		return nil, false
	}
	return &DoubleData{Value: linear.Lerp(d.Value, o.Value, x)}, true
}

func (d *DoubleVectorData) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*DoubleVectorData)
	if !ok || len(o.Value) != len(d.Value) {
		return nil, false
	}
	out := make([]float64, len(d.Value))
	for i := range out {
		out[i] = linear.Lerp(d.Value[i], o.Value[i], x)
	}
	return &DoubleVectorData{Value: out}, true
}

func (d *V3dVectorData) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*V3dVectorData)
	if !ok || len(o.Value) != len(d.Value) {
		return nil, false
	}
	out := make([]linear.V3, len(d.Value))
	for i := range out {
		out[i].Lerp(&d.Value[i], &o.Value[i], x)
	}
	return &V3dVectorData{Value: out}, true
}

func (d *M44dData) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*M44dData)
	if !ok {
		return nil, false
	}
	out := &M44dData{}
	out.Value.Lerp(&d.Value, &o.Value, x)
	return out, true
}

func (d *Box3dData) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*Box3dData)
	if !ok {
		return nil, false
	}
	out := &Box3dData{}
	out.Value.Lerp(d.Value, o.Value, x)
	return out, true
}

func (d *TransformationMatrixData) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*TransformationMatrixData)
	if !ok {
		return nil, false
	}
	out := &TransformationMatrixData{}
	out.Scale.Lerp(&d.Scale, &o.Scale, x)
	out.Rotate.Lerp(&d.Rotate, &o.Rotate, x)
	out.Translate.Lerp(&d.Translate, &o.Translate, x)
	return out, true
}

var (
	_ msgpack.CustomEncoder = (*CompoundData)(nil)
	_ msgpack.CustomDecoder = (*CompoundData)(nil)
)

func (d *CompoundData) EncodeMsgpack(enc *msgpack.Encoder) error {
	keys := make([]string, 0, len(d.Value))
	for k := range d.Value {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := encodeObject(enc, d.Value[k]); err != nil {
			return err
		}
	}
	return nil
}

func (d *CompoundData) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	d.Value = make(map[string]Object, max(n, 0))
	for i := 0; i < n; i++ {
		k, err := dec.DecodeString()
		if err != nil {
			return err
		}
		v, err := decodeObject(dec)
		if err != nil {
			return err
		}
		d.Value[k] = v
	}
	return nil
}
