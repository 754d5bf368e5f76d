// Package voxel implements the sparse chunked voxel grid shared by the TSDF
// and ESDF layers: coordinate transforms between world space, global voxel
// space and (block, local-voxel) space, block storage with per-block
// locking, and the sparse block map.
package voxel

import (
	"iter"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// deco hash multipliers, ported from the locality-preserving hash used by
// the original block index ordering (SL and SL^2, combined by wrapping
// arithmetic so overflow is well-defined and cheap).
const (
	decoSL  = 17191
	decoSL2 = decoSL * decoSL
)

// BlockIndex identifies a block within a Layer. Two BlockIndex values with
// the same coordinates compare equal regardless of the Layer's VPS; block
// indices never carry VPS information.
type BlockIndex struct {
	X, Y, Z int32
}

// Hash returns the locality-preserving ordering key for b. Iteration order
// over sets of BlockIndex is defined entirely in terms of this hash, never
// insertion order, so that two goroutines racing to acquire neighbor locks
// agree on which side holds the "larger" index.
func (b BlockIndex) Hash() int32 {
	return b.X + decoSL*b.Y + decoSL2*b.Z
}

// Less orders two block indices by their hash, breaking ties by coordinate
// so Hash collisions do not produce an inconsistent total order.
func (b BlockIndex) Less(o BlockIndex) bool {
	bh, oh := b.Hash(), o.Hash()
	if bh != oh {
		return bh < oh
	}
	if b.X != o.X {
		return b.X < o.X
	}
	if b.Y != o.Y {
		return b.Y < o.Y
	}
	return b.Z < o.Z
}

func (b BlockIndex) Add(d [3]int32) BlockIndex {
	return BlockIndex{b.X + d[0], b.Y + d[1], b.Z + d[2]}
}

// VoxelIndex is a local voxel coordinate within [0,VPS)^3.
type VoxelIndex struct {
	X, Y, Z int32
}

// Linear returns the x-fastest row-major linear offset of v within a block
// of the given vps (voxels per side).
func (v VoxelIndex) Linear(vps int32) int {
	return int(v.X + vps*(v.Y+vps*v.Z))
}

// VoxelIndexFromLinear inverts Linear.
func VoxelIndexFromLinear(lin int, vps int32) VoxelIndex {
	v := int32(lin)
	x := v % vps
	v /= vps
	y := v % vps
	z := v / vps
	return VoxelIndex{x, y, z}
}

// GlobalIndex is a voxel coordinate in absolute voxel units, independent of
// any block boundary.
type GlobalIndex struct {
	X, Y, Z int64
}

func (g GlobalIndex) Add(d [3]int32) GlobalIndex {
	return GlobalIndex{g.X + int64(d[0]), g.Y + int64(d[1]), g.Z + int64(d[2])}
}

// ediv and emod implement Euclidean division and remainder: emod is always
// non-negative, and ediv rounds towards negative infinity, matching the
// spec's requirement that negative global coordinates resolve to a block
// index that rounds down rather than towards zero.
func ediv(a, b int64) int64 {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func emod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// BlockIndexOf returns the block containing g, for a layer with the given
// voxels-per-side.
func BlockIndexOf(g GlobalIndex, vps int32) BlockIndex {
	n := int64(vps)
	return BlockIndex{
		X: int32(ediv(g.X, n)),
		Y: int32(ediv(g.Y, n)),
		Z: int32(ediv(g.Z, n)),
	}
}

// VoxelIndexOf returns the local voxel coordinate of g within its block.
func VoxelIndexOf(g GlobalIndex, vps int32) VoxelIndex {
	n := int64(vps)
	return VoxelIndex{
		X: int32(emod(g.X, n)),
		Y: int32(emod(g.Y, n)),
		Z: int32(emod(g.Z, n)),
	}
}

// FromBlockAndVoxel reconstructs the global index from a block and a local
// voxel coordinate within it.
func FromBlockAndVoxel(b BlockIndex, v VoxelIndex, vps int32) GlobalIndex {
	n := int64(vps)
	return GlobalIndex{
		X: int64(b.X)*n + int64(v.X),
		Y: int64(b.Y)*n + int64(v.Y),
		Z: int64(b.Z)*n + int64(v.Z),
	}
}

// FromBlockAndLinear reconstructs the global index from a block and a
// linear voxel offset within it.
func FromBlockAndLinear(b BlockIndex, lin int, vps int32) GlobalIndex {
	return FromBlockAndVoxel(b, VoxelIndexFromLinear(lin, vps), vps)
}

// FromPoint maps a world-space point to a global voxel index, using the
// smallest positive float32 as the epsilon that stabilizes points lying
// exactly on a voxel boundary.
func FromPoint(p ms3.Vec, invVoxelSize float32) GlobalIndex {
	const eps = 1e-45 // smallest positive float32, stabilizes boundary points
	return GlobalIndex{
		X: int64(math32.Floor(p.X*invVoxelSize + eps)),
		Y: int64(math32.Floor(p.Y*invVoxelSize + eps)),
		Z: int64(math32.Floor(p.Z*invVoxelSize + eps)),
	}
}

// Center returns the world-space center of the voxel at g.
func Center(g GlobalIndex, voxelSize float32) ms3.Vec {
	return ms3.Vec{
		X: (float32(g.X) + 0.5) * voxelSize,
		Y: (float32(g.Y) + 0.5) * voxelSize,
		Z: (float32(g.Z) + 0.5) * voxelSize,
	}
}

// Neighbor describes one entry of a neighbor enumeration: the neighboring
// index, the unit offset that reaches it, and the grid distance traveled
// (1 for a face, sqrt(2) for an edge, sqrt(3) for a corner).
type Neighbor[T any] struct {
	Index  T
	Offset [3]int32
	Dist   float32
}

var (
	sqrt2 = math32.Sqrt(2)
	sqrt3 = math32.Sqrt(3)
)

// neighborOffsets26 lists the 26 face/edge/corner offsets ordered by number
// of nonzero components: faces first, then edges, then corners.
var neighborOffsets26 = buildNeighborOffsets()

func buildNeighborOffsets() []Neighbor[[3]int32] {
	var out []Neighbor[[3]int32]
	for _, nz := range [3]int{1, 2, 3} {
		for x := int32(-1); x <= 1; x++ {
			for y := int32(-1); y <= 1; y++ {
				for z := int32(-1); z <= 1; z++ {
					if x == 0 && y == 0 && z == 0 {
						continue
					}
					n := 0
					if x != 0 {
						n++
					}
					if y != 0 {
						n++
					}
					if z != 0 {
						n++
					}
					if n != nz {
						continue
					}
					dist := float32(1)
					if nz == 2 {
						dist = sqrt2
					} else if nz == 3 {
						dist = sqrt3
					}
					out = append(out, Neighbor[[3]int32]{Offset: [3]int32{x, y, z}, Dist: dist})
				}
			}
		}
	}
	return out
}

// face6Offsets is the fixed 6-entry table of face-neighbor offsets in
// +X,-X,+Y,-Y,+Z,-Z order. This order is also the order used by
// Neighbors6IncludeSelf after the leading self entry, matching the padded
// 7-slot layout the GPU propagate kernel expects.
var face6Offsets = [6][3]int32{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// NeighborsBlock26 lazily enumerates the 26 face/edge/corner neighbors of b.
// A fresh sequence is produced on every call; the sequence is not
// restartable and must not be reused across traversals.
func NeighborsBlock26(b BlockIndex) iter.Seq[Neighbor[BlockIndex]] {
	return func(yield func(Neighbor[BlockIndex]) bool) {
		for _, n := range neighborOffsets26 {
			nb := Neighbor[BlockIndex]{Index: b.Add(n.Offset), Offset: n.Offset, Dist: n.Dist}
			if !yield(nb) {
				return
			}
		}
	}
}

// NeighborsGlobal26 is the GlobalIndex analog of NeighborsBlock26.
func NeighborsGlobal26(g GlobalIndex) iter.Seq[Neighbor[GlobalIndex]] {
	return func(yield func(Neighbor[GlobalIndex]) bool) {
		for _, n := range neighborOffsets26 {
			nb := Neighbor[GlobalIndex]{Index: g.Add(n.Offset), Offset: n.Offset, Dist: n.Dist}
			if !yield(nb) {
				return
			}
		}
	}
}

// NeighborsBlock6 lazily enumerates the 6 face-neighbors of b only.
func NeighborsBlock6(b BlockIndex) iter.Seq[Neighbor[BlockIndex]] {
	return func(yield func(Neighbor[BlockIndex]) bool) {
		for _, off := range face6Offsets {
			nb := Neighbor[BlockIndex]{Index: b.Add(off), Offset: off, Dist: 1}
			if !yield(nb) {
				return
			}
		}
	}
}

// NeighborsGlobal6 is the GlobalIndex analog of NeighborsBlock6.
func NeighborsGlobal6(g GlobalIndex) iter.Seq[Neighbor[GlobalIndex]] {
	return func(yield func(Neighbor[GlobalIndex]) bool) {
		for _, off := range face6Offsets {
			nb := Neighbor[GlobalIndex]{Index: g.Add(off), Offset: off, Dist: 1}
			if !yield(nb) {
				return
			}
		}
	}
}

// Neighbors6IncludeSelf yields b itself followed by its 6 face neighbors,
// in the stable order the GPU propagate kernel uses to index its padded
// 7-slot per-block index list.
func Neighbors6IncludeSelf(b BlockIndex) iter.Seq[BlockIndex] {
	return func(yield func(BlockIndex) bool) {
		if !yield(b) {
			return
		}
		for _, off := range face6Offsets {
			if !yield(b.Add(off)) {
				return
			}
		}
	}
}
