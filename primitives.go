package scenecache

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/scenecache/linear"
)

// Interpolation describes how a primitive variable maps onto a primitive.
type Interpolation int

const (
	Constant Interpolation = iota
	Uniform
	Vertex
	Varying
	FaceVarying
)

// PositionVariable is the variable holding point positions.
const PositionVariable = "P"

// PrimitiveVariable is one named data channel of a primitive.
type PrimitiveVariable struct {
	Interpolation Interpolation
	Data          Object
}

func (v PrimitiveVariable) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(v.Interpolation)); err != nil {
		return err
	}
	return encodeObject(enc, v.Data)
}

func (v *PrimitiveVariable) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return dataErrf(nil, 0, nil, "primitive variable: got %d elements, expected 2", n)
	}
	interp, err := dec.DecodeInt()
	if err != nil {
		return err
	}
	v.Interpolation = Interpolation(interp)
	v.Data, err = decodeObject(dec)
	return err
}

// Primitive is a geometric object. Readers derive bounds from it and
// writers use its hashes to mark which parts of an animated object change.
type Primitive interface {
	Object
	Bound() linear.Box3
	Variables() map[string]PrimitiveVariable
	// TopologyHash changes whenever the connectivity changes.
	TopologyHash() uint64
}

// PointsPrimitive is a point cloud.
type PointsPrimitive struct {
	NumPoints int                          `msgpack:"n"`
	Vars      map[string]PrimitiveVariable `msgpack:"vars"`
}

// NewPointsPrimitive returns a point cloud with positions p.
func NewPointsPrimitive(p []linear.V3) *PointsPrimitive {
	return &PointsPrimitive{
		NumPoints: len(p),
		Vars: map[string]PrimitiveVariable{
			PositionVariable: {Interpolation: Vertex, Data: &V3dVectorData{Value: slices.Clone(p)}},
		},
	}
}

func (*PointsPrimitive) TypeName() string { return "PointsPrimitive" }

func (p *PointsPrimitive) Bound() linear.Box3 { return positionsBound(p.Vars) }

func (p *PointsPrimitive) Variables() map[string]PrimitiveVariable { return p.Vars }

func (p *PointsPrimitive) TopologyHash() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.NumPoints))
	return xxhash.Sum64(buf[:])
}

func (p *PointsPrimitive) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*PointsPrimitive)
	if !ok || o.NumPoints != p.NumPoints {
		return nil, false
	}
	vars, ok := lerpVariables(p.Vars, o.Vars, x)
	if !ok {
		return nil, false
	}
	return &PointsPrimitive{NumPoints: p.NumPoints, Vars: vars}, true
}

// MeshPrimitive is a polygon mesh.
type MeshPrimitive struct {
	VerticesPerFace []int32                      `msgpack:"vpf"`
	VertexIDs       []int32                      `msgpack:"vid"`
	Vars            map[string]PrimitiveVariable `msgpack:"vars"`
}

func (*MeshPrimitive) TypeName() string { return "MeshPrimitive" }

func (m *MeshPrimitive) Bound() linear.Box3 { return positionsBound(m.Vars) }

func (m *MeshPrimitive) Variables() map[string]PrimitiveVariable { return m.Vars }

func (m *MeshPrimitive) TopologyHash() uint64 {
	h := xxhash.New()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(m.VerticesPerFace)))
	h.Write(buf[:])
	for _, v := range m.VerticesPerFace {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		h.Write(buf[:])
	}
	for _, v := range m.VertexIDs {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (m *MeshPrimitive) Lerp(to Object, x float64) (Object, bool) {
	o, ok := to.(*MeshPrimitive)
	if !ok || m.TopologyHash() != o.TopologyHash() {
		return nil, false
	}
	vars, ok := lerpVariables(m.Vars, o.Vars, x)
	if !ok {
		return nil, false
	}
	return &MeshPrimitive{VerticesPerFace: m.VerticesPerFace, VertexIDs: m.VertexIDs, Vars: vars}, true
}

func positionsBound(vars map[string]PrimitiveVariable) linear.Box3 {
	b := linear.EmptyBox()
	if p, ok := vars[PositionVariable].Data.(*V3dVectorData); ok {
		for _, v := range p.Value {
			b.ExtendBy(v)
		}
	}
	return b
}

// lerpVariables interpolates the variables both sides can interpolate and
// takes the closer side for the rest.
func lerpVariables(a, b map[string]PrimitiveVariable, x float64) (map[string]PrimitiveVariable, bool) {
	if len(a) != len(b) {
		return nil, false
	}
	out := make(map[string]PrimitiveVariable, len(a))
	for name, av := range a {
		bv, ok := b[name]
		if !ok || av.Interpolation != bv.Interpolation {
			return nil, false
		}
		out[name] = PrimitiveVariable{Interpolation: av.Interpolation, Data: lerpObjects(av.Data, bv.Data, x)}
	}
	return out, true
}

// primitiveVariableHashes digests each variable of obj, if it is a primitive.
func primitiveVariableHashes(obj Object) map[string]uint64 {
	p, ok := obj.(Primitive)
	if !ok {
		return nil
	}
	out := make(map[string]uint64, len(p.Variables()))
	for name, v := range p.Variables() {
		out[name] = hashObject(v.Data)
	}
	return out
}
