package voxel

import "sync"

// Block owns a VPS^3 voxel array stored in x-fastest row-major order and a
// single reader/writer lock mediating all access to it. Blocks are value
// types; the Layer owns them by pointer so a *Block's address is stable for
// the lifetime of the Layer.
type Block[V Voxel] struct {
	vps    int32
	mu     sync.RWMutex
	voxels []V
}

func newBlock[V Voxel](vps int32) *Block[V] {
	return &Block[V]{vps: vps, voxels: make([]V, vps*vps*vps)}
}

// VPS returns the voxels-per-side of b.
func (b *Block[V]) VPS() int32 { return b.vps }

// BlockReadGuard exposes read-only access to a locked block.
type BlockReadGuard[V Voxel] struct{ b *Block[V] }

// BlockWriteGuard exposes read/write access to a locked block.
type BlockWriteGuard[V Voxel] struct{ b *Block[V] }

// RLock acquires the block's read lock and returns a guard that must be
// released with Unlock.
func (b *Block[V]) RLock() BlockReadGuard[V] {
	b.mu.RLock()
	return BlockReadGuard[V]{b}
}

// Unlock releases the read lock held by g.
func (g BlockReadGuard[V]) Unlock() { g.b.mu.RUnlock() }

// Lock acquires the block's write lock and returns a guard that must be
// released with Unlock.
func (b *Block[V]) Lock() BlockWriteGuard[V] {
	b.mu.Lock()
	return BlockWriteGuard[V]{b}
}

// Unlock releases the write lock held by g.
func (g BlockWriteGuard[V]) Unlock() { g.b.mu.Unlock() }

func (g BlockReadGuard[V]) At(v VoxelIndex) V {
	return g.b.voxels[v.Linear(g.b.vps)]
}

func (g BlockReadGuard[V]) AtLinear(i int) V {
	return g.b.voxels[i]
}

// Slice returns a read-only view of the full voxel array, x-fastest order.
func (g BlockReadGuard[V]) Slice() []V {
	return g.b.voxels
}

func (g BlockWriteGuard[V]) At(v VoxelIndex) V {
	return g.b.voxels[v.Linear(g.b.vps)]
}

func (g BlockWriteGuard[V]) AtLinear(i int) V {
	return g.b.voxels[i]
}

func (g BlockWriteGuard[V]) SetAt(v VoxelIndex, val V) {
	g.b.voxels[v.Linear(g.b.vps)] = val
}

func (g BlockWriteGuard[V]) SetAtLinear(i int, val V) {
	g.b.voxels[i] = val
}

// Slice returns a mutable view of the full voxel array, x-fastest order.
func (g BlockWriteGuard[V]) Slice() []V {
	return g.b.voxels
}

// ResetVoxels zeroes every voxel in the block (distance/flags/weight all
// reset to their Go zero values).
func (g BlockWriteGuard[V]) ResetVoxels() {
	var zero V
	for i := range g.b.voxels {
		g.b.voxels[i] = zero
	}
}
