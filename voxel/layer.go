package voxel

import (
	"iter"
	"sync"
)

// Layer is a sparse mapping from BlockIndex to Block, plus the voxel/block
// sizing shared by every block it owns. Blocks are allocated lazily the
// first time they are referenced and are never deallocated during an
// update cycle; only Clear removes them.
type Layer[V Voxel] struct {
	vps       int32
	voxelSize float32

	mu     sync.RWMutex
	blocks map[BlockIndex]*Block[V]
}

// NewLayer constructs an empty layer with the given voxels-per-side and
// world voxel size.
func NewLayer[V Voxel](vps int32, voxelSize float32) *Layer[V] {
	if vps <= 0 {
		panic(ProgrammingError{Msg: "voxel.NewLayer: vps must be positive"})
	}
	return &Layer[V]{
		vps:       vps,
		voxelSize: voxelSize,
		blocks:    make(map[BlockIndex]*Block[V]),
	}
}

// VPS returns the voxels-per-side shared by every block in the layer.
func (l *Layer[V]) VPS() int32 { return l.vps }

// VoxelSize returns the world-space size of one voxel.
func (l *Layer[V]) VoxelSize() float32 { return l.voxelSize }

// Origin returns the world-space origin (the corner of local voxel (0,0,0))
// of the block at b.
func (l *Layer[V]) Origin(b BlockIndex) (x, y, z float32) {
	n := l.voxelSize * float32(l.vps)
	return float32(b.X) * n, float32(b.Y) * n, float32(b.Z) * n
}

// Get returns the block at b, or nil if it has not been allocated.
func (l *Layer[V]) Get(b BlockIndex) *Block[V] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[b]
}

// Contains reports whether b has been allocated.
func (l *Layer[V]) Contains(b BlockIndex) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.blocks[b]
	return ok
}

// Allocate returns the existing block at b, or allocates and returns a new
// default-initialized one.
func (l *Layer[V]) Allocate(b BlockIndex) *Block[V] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if blk, ok := l.blocks[b]; ok {
		return blk
	}
	blk := newBlock[V](l.vps)
	l.blocks[b] = blk
	return blk
}

// Iter enumerates all allocated block indices. The snapshot is taken under
// the layer's lock at call time; it does not reflect concurrent allocations
// made during iteration.
func (l *Layer[V]) Iter() iter.Seq[BlockIndex] {
	l.mu.RLock()
	keys := make([]BlockIndex, 0, len(l.blocks))
	for k := range l.blocks {
		keys = append(keys, k)
	}
	l.mu.RUnlock()
	return func(yield func(BlockIndex) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}
}

// Len returns the number of allocated blocks.
func (l *Layer[V]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// Clear removes every allocated block from the layer.
func (l *Layer[V]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = make(map[BlockIndex]*Block[V])
}

// MinMax scans every voxel of every allocated block and returns the
// smallest and largest value of pred, along with whether any voxel was
// visited at all (false if the layer is empty).
func (l *Layer[V]) MinMax(pred func(V) float32) (min, max float32, ok bool) {
	for b := range l.Iter() {
		blk := l.Get(b)
		if blk == nil {
			continue
		}
		g := blk.RLock()
		for _, v := range g.Slice() {
			val := pred(v)
			if !ok {
				min, max, ok = val, val, true
				continue
			}
			if val < min {
				min = val
			}
			if val > max {
				max = val
			}
		}
		g.Unlock()
	}
	return min, max, ok
}
