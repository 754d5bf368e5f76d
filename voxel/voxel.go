package voxel

import (
	"encoding/binary"
	"math"
)

// Voxel is the capability a type must satisfy to be stored in a Block/Layer:
// default-constructible (the Go zero value) and copyable. Flavors (Tsdf,
// Esdf, ...) are plain value types; dispatch happens through this
// constraint rather than inheritance.
type Voxel interface {
	Tsdf | Esdf
}

// Tsdf is a truncated signed distance field voxel. It is observed iff
// Weight > 0.
type Tsdf struct {
	Distance float32
	Weight   float32
}

// Observed reports whether t has been touched by at least one sensor
// observation.
func (t Tsdf) Observed() bool { return t.Weight > 0 }

// Flags is the ESDF voxel bitset described in spec §3.
type Flags uint32

const (
	Observed Flags = 1 << iota
	Fixed
	HasSiteIndex
	Updated
	SpilledXPos
	SpilledXNeg
	SpilledYPos
	SpilledYNeg
	SpilledZPos
	SpilledZNeg
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Esdf is a Euclidean signed distance field voxel. AppendWire and
// EsdfFromWire convert it to and from the 32-byte GPU upload format of
// spec §6: distance at offset 0, flags at offset 4, site block as 3 int32
// at offset 8, 12 bytes of zero padding to offset 32. The Go struct itself
// carries no padding.
type Esdf struct {
	Distance  float32
	Flags     Flags
	SiteBlock BlockIndex
}

// WireSize is the on-wire size in bytes of one Esdf voxel (spec §6).
const WireSize = 32

// AppendWire appends the 32-byte GPU upload encoding of e to dst and
// returns the extended slice, following the teacher's append-style
// serialization convention rather than encoding/binary's reflection-based
// Write.
func (e Esdf) AppendWire(dst []byte) []byte {
	var buf [WireSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(e.Distance))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.Flags))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.SiteBlock.X))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(e.SiteBlock.Y))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(e.SiteBlock.Z))
	// buf[20:32] left zero: required padding.
	return append(dst, buf[:]...)
}

// EsdfFromWire decodes one 32-byte Esdf voxel from the front of src.
func EsdfFromWire(src []byte) Esdf {
	_ = src[WireSize-1] // bounds check hint, mirrors the original's fixed-record assumption
	return Esdf{
		Distance: math.Float32frombits(binary.LittleEndian.Uint32(src[0:4])),
		Flags:    Flags(binary.LittleEndian.Uint32(src[4:8])),
		SiteBlock: BlockIndex{
			X: int32(binary.LittleEndian.Uint32(src[8:12])),
			Y: int32(binary.LittleEndian.Uint32(src[12:16])),
			Z: int32(binary.LittleEndian.Uint32(src[16:20])),
		},
	}
}
