package esdf

import (
	"github.com/krepa098/esdf-vis/voxel"
)

// GpuIntegrator runs the same algorithm as Integrator, but replaces Phase
// 5 (spec §4.4) with batched dispatches to an Accelerator (spec §4.5).
// Phases 1-4 (mirror allocation, invalidation, reset, seed) stay on the
// CPU exactly as in Integrator, since they are cheap bookkeeping over the
// sparse block map rather than per-voxel numeric work.
type GpuIntegrator struct {
	cfg   Config
	accel Accelerator
}

// NewGpuIntegrator constructs a GPU-backed integrator driving accel. The
// caller retains ownership of accel (and, transitively, of the GPU device
// it wraps) and is responsible for calling accel.Release when done.
func NewGpuIntegrator(cfg Config, accel Accelerator) *GpuIntegrator {
	if cfg.Progress == nil {
		cfg.Progress = noopProgress
	}
	return &GpuIntegrator{cfg: cfg, accel: accel}
}

// Update mirrors Integrator.Update's contract, offloading the sweep and
// propagate passes to the Accelerator.
func (in *GpuIntegrator) Update(t *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf], updated []voxel.BlockIndex) error {
	if t.VPS() != in.cfg.VPS || e.VPS() != in.cfg.VPS {
		panic(voxel.ProgrammingError{Msg: "esdf.GpuIntegrator.Update: layer VPS does not match Config.VPS"})
	}

	in.cfg.Progress(OpTsdfUpdated, t, e, updated, 0)

	cpu := &Integrator{cfg: in.cfg}
	cpu.mirrorAllocation(t, e)
	blocksToClear, dirty := cpu.computeInvalidationSet(e, updated)
	cpu.reset(e, blocksToClear)
	cpu.seed(t, e, blocksToClear, dirty)

	return in.iterateGpu(e, dirty)
}

// batch is the host-side staging area for one dispatch: a fixed list of
// block indices, their voxel snapshots in the same order, and a lookup
// from index to position for building the propagate kernel's padded
// neighbor lists.
type batch struct {
	blocks []voxel.BlockIndex
	voxels [][]voxel.Esdf
	pos    map[voxel.BlockIndex]int
}

func newBatch(e *voxel.Layer[voxel.Esdf], blocks []voxel.BlockIndex) batch {
	b := batch{
		blocks: blocks,
		voxels: make([][]voxel.Esdf, len(blocks)),
		pos:    make(map[voxel.BlockIndex]int, len(blocks)),
	}
	for i, idx := range blocks {
		b.pos[idx] = i
		blk := e.Get(idx)
		g := blk.RLock()
		b.voxels[i] = append([]voxel.Esdf(nil), g.Slice()...)
		g.Unlock()
	}
	return b
}

// slotOf returns the batch position of idx, or -1 (the GPU kernel's
// sentinel) if idx is not part of this dispatch.
func (b batch) slotOf(idx voxel.BlockIndex) int32 {
	if p, ok := b.pos[idx]; ok {
		return int32(p)
	}
	return -1
}

func (in *GpuIntegrator) writeBack(e *voxel.Layer[voxel.Esdf], b batch) {
	for i, idx := range b.blocks {
		blk := e.Get(idx)
		g := blk.Lock()
		copy(g.Slice(), b.voxels[i])
		g.Unlock()
	}
}

func (in *GpuIntegrator) iterateGpu(e *voxel.Layer[voxel.Esdf], dirty blockIndexSet) error {
	for len(dirty) > 0 {
		sorted := dirty.sorted()
		sweepBatch := newBatch(e, sorted)

		if err := in.accel.SubmitSweep(sweepBatch.blocks, sweepBatch.voxels); err != nil {
			return err
		}
		in.writeBack(e, sweepBatch)
		in.cfg.Progress(OpSweepXPos, nil, e, sorted, 0)

		next := make(blockIndexSet)
		for _, axis := range [2]Axis{AxisX, AxisY} {
			// Every dirty block plus its face-neighbors participates in
			// this dispatch, since propagation writes into neighbors that
			// were not themselves dirty.
			participants := make(blockIndexSet, len(sorted))
			for _, b := range sorted {
				participants.add(b)
				for nb := range voxel.NeighborsBlock6(b) {
					if e.Contains(nb.Index) {
						participants.add(nb.Index)
					}
				}
			}
			propBatch := newBatch(e, participants.sorted())

			padded := make([][7]int32, len(sorted))
			for i, b := range sorted {
				j := 0
				for nb := range voxel.Neighbors6IncludeSelf(b) {
					padded[i][j] = propBatch.slotOf(nb)
					j++
				}
			}

			status := make([]BlockStatus, len(sorted))
			if err := in.accel.SubmitPropagate(axis, padded, propBatch.voxels, status); err != nil {
				return err
			}
			in.writeBack(e, propBatch)

			// status[i] records that sorted[i] wrote into a neighbor on
			// this axis; those neighbors are swept in the next round.
			offsets := [2][3]int32{{1, 0, 0}, {-1, 0, 0}}
			if axis == AxisY {
				offsets = [2][3]int32{{0, 1, 0}, {0, -1, 0}}
			}
			for i, b := range sorted {
				if !status[i].Flags.Has(voxel.Updated) {
					continue
				}
				for _, off := range offsets {
					if nb := b.Add(off); e.Contains(nb) {
						next.add(nb)
					}
				}
			}
			op := OpPropXPos
			if axis == AxisY {
				op = OpPropYPos
			}
			in.cfg.Progress(op, nil, e, sorted, 0)
		}
		dirty = next
	}
	return nil
}
