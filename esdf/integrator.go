package esdf

import (
	"slices"

	"github.com/krepa098/esdf-vis/voxel"
)

// Config configures a CPU Integrator. It is a plain struct passed by value
// to NewIntegrator, mirroring the teacher's ComputeConfig-style
// construction rather than a builder or functional-options API.
type Config struct {
	// VPS is the voxels-per-side shared by the TSDF and ESDF layers this
	// integrator will operate on. Both layers must have been constructed
	// with the same VPS; Update panics with a ProgrammingError otherwise.
	VPS int32
	// VoxelSize is the world-space size of one voxel, used to convert
	// grid steps into distance.
	VoxelSize float32
	// Progress, if non-nil, is invoked at every sub-step of Update. A nil
	// Progress is replaced by a no-op.
	Progress ProgressFunc
}

// Integrator runs the CPU variant of the incremental ESDF update algorithm
// (spec §4.4): invalidation, seeding, and iterative sweep/propagate until
// the field converges.
type Integrator struct {
	cfg Config

	// lastIterationCount records how many outer sweep/propagate rounds the
	// most recent Update ran, for diagnostics and convergence-bound tests
	// (spec §8 S6). It is not part of the public contract.
	lastIterationCount int
}

// NewIntegrator constructs a CPU integrator from cfg.
func NewIntegrator(cfg Config) *Integrator {
	if cfg.Progress == nil {
		cfg.Progress = noopProgress
	}
	return &Integrator{cfg: cfg}
}

// blockIndexSet is a small set type ordered for deterministic iteration by
// BlockIndex.Hash, in place of a balanced-tree set the standard library
// does not provide.
type blockIndexSet map[voxel.BlockIndex]struct{}

func (s blockIndexSet) add(b voxel.BlockIndex)      { s[b] = struct{}{} }
func (s blockIndexSet) has(b voxel.BlockIndex) bool { _, ok := s[b]; return ok }

func (s blockIndexSet) sorted() []voxel.BlockIndex {
	out := make([]voxel.BlockIndex, 0, len(s))
	for b := range s {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b voxel.BlockIndex) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// Update drives one incremental ESDF build: t is the TSDF layer (read
// only), e is the ESDF layer (mutated in place), and updated is the set of
// TSDF block indices the caller has touched since the last call.
//
// Update blocks until the field has converged; there is no cancellation.
func (in *Integrator) Update(t *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf], updated []voxel.BlockIndex) error {
	if t.VPS() != in.cfg.VPS || e.VPS() != in.cfg.VPS {
		panic(voxel.ProgrammingError{Msg: "esdf.Integrator.Update: layer VPS does not match Config.VPS"})
	}

	in.cfg.Progress(OpTsdfUpdated, t, e, updated, 0)

	in.mirrorAllocation(t, e)

	blocksToClear, dirty := in.computeInvalidationSet(e, updated)

	in.reset(e, blocksToClear)

	in.seed(t, e, blocksToClear, dirty)

	in.iterate(e, dirty)

	return nil
}

// mirrorAllocation implements spec §4.4 Phase 1: every allocated TSDF
// block must also be allocated in the ESDF layer.
func (in *Integrator) mirrorAllocation(t *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf]) {
	for b := range t.Iter() {
		e.Allocate(b)
	}
}

// computeInvalidationSet implements spec §4.4 Phase 2.
func (in *Integrator) computeInvalidationSet(e *voxel.Layer[voxel.Esdf], updated []voxel.BlockIndex) (blocksToClear, dirty blockIndexSet) {
	inUpdated := make(blockIndexSet, len(updated))
	for _, b := range updated {
		inUpdated.add(b)
	}

	sitesToClear := make(blockIndexSet)
	for b := range inUpdated {
		blk := e.Get(b)
		if blk == nil {
			continue
		}
		g := blk.RLock()
		for _, v := range g.Slice() {
			if v.Flags.Has(voxel.Fixed) && v.Flags.Has(voxel.HasSiteIndex) {
				sitesToClear.add(v.SiteBlock)
			}
		}
		g.Unlock()
	}

	blocksToClear = make(blockIndexSet, len(updated))
	dirty = make(blockIndexSet)
	closed := make(blockIndexSet)

	frontier := append([]voxel.BlockIndex(nil), updated...)
	for len(frontier) > 0 {
		b := frontier[0]
		frontier = frontier[1:]
		if closed.has(b) {
			continue
		}
		closed.add(b)

		blk := e.Get(b)
		if blk == nil {
			continue
		}

		mustClear := inUpdated.has(b)
		if !mustClear {
			g := blk.RLock()
			for _, v := range g.Slice() {
				if v.Flags.Has(voxel.Fixed) && v.Flags.Has(voxel.HasSiteIndex) && sitesToClear.has(v.SiteBlock) {
					mustClear = true
					break
				}
			}
			g.Unlock()
		}

		if mustClear {
			blocksToClear.add(b)
			for nb := range voxel.NeighborsBlock6(b) {
				if !closed.has(nb.Index) && e.Contains(nb.Index) {
					frontier = append(frontier, nb.Index)
				}
			}
		} else {
			dirty.add(b)
		}
	}

	return blocksToClear, dirty
}

// reset implements spec §4.4 Phase 3.
func (in *Integrator) reset(e *voxel.Layer[voxel.Esdf], blocksToClear blockIndexSet) {
	sorted := blocksToClear.sorted()
	for _, b := range sorted {
		blk := e.Get(b)
		if blk == nil {
			continue
		}
		g := blk.Lock()
		g.ResetVoxels()
		g.Unlock()
	}
	if len(sorted) > 0 {
		in.cfg.Progress(OpClearSite, nil, e, sorted, 0)
	}
}

// seed implements spec §4.4 Phase 4.
func (in *Integrator) seed(t *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf], blocksToClear, dirty blockIndexSet) {
	for _, b := range blocksToClear.sorted() {
		tblk := t.Get(b)
		eblk := e.Get(b)
		if tblk == nil || eblk == nil {
			continue
		}
		tg := tblk.RLock()
		eg := eblk.Lock()
		anySeeded := false
		for i, tv := range tg.Slice() {
			if tv.Weight > 0 {
				eg.SetAtLinear(i, voxel.Esdf{
					Distance:  tv.Distance,
					Flags:     voxel.Fixed | voxel.Observed | voxel.HasSiteIndex,
					SiteBlock: b,
				})
				anySeeded = true
			} else {
				eg.SetAtLinear(i, voxel.Esdf{})
			}
		}
		eg.Unlock()
		tg.Unlock()
		if anySeeded {
			dirty.add(b)
		}
	}
}

// sweepDirection names one of the four dispatched axis sweep directions.
// Z directions are intentionally absent from this table: the sweep is
// restricted to X/Y per spec §4.4 and §9 (the reference workloads are
// planar/thin-slab); this is a documented design choice, not an omission.
type sweepDirection struct {
	op   string
	axis int32 // 0=x, 1=y
	sign int32 // +1 or -1
}

var sweepDirections = [4]sweepDirection{
	{OpSweepXPos, 0, 1},
	{OpSweepXNeg, 0, -1},
	{OpSweepYPos, 1, 1},
	{OpSweepYNeg, 1, -1},
}

type propagateDirection struct {
	op     string
	offset [3]int32
}

var propagateDirections = [4]propagateDirection{
	{OpPropXPos, [3]int32{1, 0, 0}},
	{OpPropXNeg, [3]int32{-1, 0, 0}},
	{OpPropYPos, [3]int32{0, 1, 0}},
	{OpPropYNeg, [3]int32{0, -1, 0}},
}

// iterate implements spec §4.4 Phase 5: alternating sweep and propagate
// passes until no block remains dirty.
func (in *Integrator) iterate(e *voxel.Layer[voxel.Esdf], dirty blockIndexSet) {
	in.lastIterationCount = 0
	for len(dirty) > 0 {
		in.lastIterationCount++
		sorted := dirty.sorted()
		for _, dir := range sweepDirections {
			for _, b := range sorted {
				in.sweepBlock(e, b, dir)
			}
			in.cfg.Progress(dir.op, nil, e, sorted, 0)
		}

		next := make(blockIndexSet)
		for _, dir := range propagateDirections {
			for _, b := range sorted {
				if nb, ok := in.propagate(e, b, dir); ok {
					next.add(nb)
				}
			}
			in.cfg.Progress(dir.op, nil, e, sorted, 0)
		}
		dirty = next
	}
}

// sweepBlock performs one 1D axis sweep of block b along dir, relaxing
// each voxel against its predecessor (spec §4.4 Sweep rule).
func (in *Integrator) sweepBlock(e *voxel.Layer[voxel.Esdf], b voxel.BlockIndex, dir sweepDirection) {
	blk := e.Get(b)
	if blk == nil {
		return
	}
	vps := blk.VPS()
	g := blk.Lock()
	defer g.Unlock()

	start, end, step := int32(1), vps, int32(1)
	if dir.sign < 0 {
		start, end, step = vps-2, int32(-1), int32(-1)
	}

	for u := int32(0); u < vps; u++ {
		for v := int32(0); v < vps; v++ {
			for w := start; w != end; w += step {
				cur := voxelAt(dir.axis, u, v, w)
				prev := voxelAt(dir.axis, u, v, w-dir.sign)
				parent := g.At(prev)
				if !parent.Flags.Has(voxel.Fixed) {
					continue
				}
				current := g.At(cur)
				if current.Flags.Has(voxel.Observed) {
					continue
				}
				cand := parent.Distance + in.cfg.VoxelSize
				if !current.Flags.Has(voxel.Fixed) {
					g.SetAt(cur, voxel.Esdf{
						Distance:  cand,
						Flags:     voxel.Fixed | voxel.HasSiteIndex,
						SiteBlock: parent.SiteBlock,
					})
				} else if cand < current.Distance {
					current.Distance = cand
					current.SiteBlock = parent.SiteBlock
					g.SetAt(cur, current)
				}
			}
		}
	}
}

// voxelAt builds a VoxelIndex for a (u,v) column position and a w
// coordinate along the given sweep axis (0=x,1=y); the column axes follow
// the other two coordinates in order.
func voxelAt(axis int32, u, v, w int32) voxel.VoxelIndex {
	switch axis {
	case 0:
		return voxel.VoxelIndex{X: w, Y: u, Z: v}
	case 1:
		return voxel.VoxelIndex{X: u, Y: w, Z: v}
	default:
		return voxel.VoxelIndex{X: u, Y: v, Z: w}
	}
}

// propagate attempts to push distances from block b across its face in
// direction dir into the neighboring block (spec §4.4 Propagate rule). It
// reports the neighbor's index and whether any voxel in it was updated.
func (in *Integrator) propagate(e *voxel.Layer[voxel.Esdf], b voxel.BlockIndex, dir propagateDirection) (voxel.BlockIndex, bool) {
	n := b.Add(dir.offset)
	pivotBlk := e.Get(b)
	neighborBlk := e.Get(n)
	if pivotBlk == nil || neighborBlk == nil {
		return n, false
	}
	vps := pivotBlk.VPS()

	pg := pivotBlk.RLock()
	ng := neighborBlk.Lock()
	defer pg.Unlock()
	defer ng.Unlock()

	axis := int32(0)
	if dir.offset[1] != 0 {
		axis = 1
	}

	var pivotW, neighborW int32
	if dir.offset[axis] > 0 {
		pivotW, neighborW = vps-1, 0
	} else {
		pivotW, neighborW = 0, vps-1
	}

	updated := false
	for u := int32(0); u < vps; u++ {
		for v := int32(0); v < vps; v++ {
			pIdx := voxelAt(axis, u, v, pivotW)
			nIdx := voxelAt(axis, u, v, neighborW)
			p := pg.At(pIdx)
			if !p.Flags.Has(voxel.Fixed) {
				continue
			}
			nv := ng.At(nIdx)
			if nv.Flags.Has(voxel.Observed) {
				continue
			}
			cand := p.Distance + in.cfg.VoxelSize
			if nv.Flags.Has(voxel.Fixed) {
				if cand < nv.Distance {
					nv.Distance = cand
					nv.SiteBlock = p.SiteBlock
					ng.SetAt(nIdx, nv)
					updated = true
				}
			} else {
				ng.SetAt(nIdx, voxel.Esdf{
					Distance:  cand,
					Flags:     voxel.Fixed | voxel.HasSiteIndex,
					SiteBlock: p.SiteBlock,
				})
				updated = true
			}
		}
	}
	return n, updated
}
