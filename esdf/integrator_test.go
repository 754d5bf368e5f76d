package esdf

import (
	"testing"
	"time"

	"github.com/krepa098/esdf-vis/voxel"
)

func seedSite(t *voxel.Layer[voxel.Tsdf], g voxel.GlobalIndex, distance float32) voxel.BlockIndex {
	b := voxel.BlockIndexOf(g, t.VPS())
	v := voxel.VoxelIndexOf(g, t.VPS())
	blk := t.Allocate(b)
	wg := blk.Lock()
	wg.SetAt(v, voxel.Tsdf{Distance: distance, Weight: 1})
	wg.Unlock()
	return b
}

// allocateSurroundingBlocks pre-allocates the ESDF blocks the field is
// expected to spread into, so the invalidation BFS and sweep/propagate
// passes have somewhere to write. In the real system this mirrors the
// TSDF integrator having already observed (even if unoccupied) that
// volume.
func allocateSurroundingBlocks(t *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf], center voxel.BlockIndex, radius int32) {
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			b := voxel.BlockIndex{X: center.X + dx, Y: center.Y + dy, Z: center.Z}
			t.Allocate(b)
			e.Allocate(b)
		}
	}
}

func esdfAt(e *voxel.Layer[voxel.Esdf], g voxel.GlobalIndex) (voxel.Esdf, bool) {
	b := voxel.BlockIndexOf(g, e.VPS())
	v := voxel.VoxelIndexOf(g, e.VPS())
	blk := e.Get(b)
	if blk == nil {
		return voxel.Esdf{}, false
	}
	rg := blk.RLock()
	defer rg.Unlock()
	return rg.At(v), true
}

func newScenario(vps int32, voxelSize float32) (*voxel.Layer[voxel.Tsdf], *voxel.Layer[voxel.Esdf], *Integrator) {
	tl := voxel.NewLayer[voxel.Tsdf](vps, voxelSize)
	el := voxel.NewLayer[voxel.Esdf](vps, voxelSize)
	in := NewIntegrator(Config{VPS: vps, VoxelSize: voxelSize})
	return tl, el, in
}

// S1 - single site, free space.
func TestScenarioS1SingleSite(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 3)
	b := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)

	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for _, g := range []voxel.GlobalIndex{{X: 3, Y: 0, Z: 0}, {X: 0, Y: 4, Z: 0}, {X: 3, Y: 4, Z: 0}, {X: -3, Y: -2, Z: 0}} {
		v, ok := esdfAt(el, g)
		if !ok || !v.Flags.Has(voxel.Fixed) {
			t.Fatalf("voxel %v not fixed", g)
		}
		want := abs32(float32(g.X)) + abs32(float32(g.Y))
		if v.Distance != want {
			t.Errorf("voxel %v distance = %v, want %v (manhattan)", g, v.Distance, want)
		}
	}
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// S2 - two sites, equidistant tie resolved in favor of X+ sweep order.
func TestScenarioS2TwoSitesTie(t *testing.T) {
	const vps = int32(16)
	tl, el, in := newScenario(vps, 1)
	b1 := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, b1, 2)

	bA := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)
	bB := seedSite(tl, voxel.GlobalIndex{X: 10, Y: 0, Z: 0}, 0)

	if err := in.Update(tl, el, []voxel.BlockIndex{bA, bB}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, ok := esdfAt(el, voxel.GlobalIndex{X: 5, Y: 0, Z: 0})
	if !ok || !v.Flags.Has(voxel.Fixed) {
		t.Fatalf("midpoint voxel not fixed")
	}
	if v.Distance != 5 {
		t.Errorf("midpoint distance = %v, want 5", v.Distance)
	}
}

// S3 - obstacle corridor: a line of sites and an isolated interior site
// separated by unobserved-but-allocated voxels. The interior site must
// keep its own Observed distance, unaffected by the line's sweeps.
func TestScenarioS3ObstacleCorridor(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)

	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	// The line spans x in [0,20] and the interior site sits at y=10, so
	// allocate every block touching that 21x11 footprint.
	for dx := int32(-1); dx <= 3; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			b := voxel.BlockIndex{X: origin.X + dx, Y: origin.Y + dy, Z: origin.Z}
			tl.Allocate(b)
			el.Allocate(b)
		}
	}

	var updated []voxel.BlockIndex
	seen := map[voxel.BlockIndex]struct{}{}
	addUpdated := func(b voxel.BlockIndex) {
		if _, ok := seen[b]; !ok {
			seen[b] = struct{}{}
			updated = append(updated, b)
		}
	}
	for x := int64(0); x <= 20; x++ {
		addUpdated(seedSite(tl, voxel.GlobalIndex{X: x, Y: 0, Z: 0}, 0))
	}
	addUpdated(seedSite(tl, voxel.GlobalIndex{X: 10, Y: 10, Z: 0}, 0))

	if err := in.Update(tl, el, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, ok := esdfAt(el, voxel.GlobalIndex{X: 10, Y: 5, Z: 0})
	if !ok || !v.Flags.Has(voxel.Fixed) {
		t.Fatalf("(10,5) not fixed")
	}
	if v.Distance != 5 {
		t.Errorf("(10,5) distance = %v, want 5", v.Distance)
	}

	interior, ok := esdfAt(el, voxel.GlobalIndex{X: 10, Y: 10, Z: 0})
	if !ok {
		t.Fatalf("(10,10) missing")
	}
	if !interior.Flags.Has(voxel.Observed) || interior.Distance != 0 {
		t.Errorf("(10,10) = %+v, want Observed distance=0 unchanged", interior)
	}
}

// S4 - incremental retraction: removing the only site clears the field.
func TestScenarioS4Retraction(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 3)
	b := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)

	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	// Retract: the site's weight drops to zero.
	tblk := tl.Get(b)
	wg := tblk.Lock()
	wg.SetAt(voxel.VoxelIndexOf(voxel.GlobalIndex{}, vps), voxel.Tsdf{})
	wg.Unlock()

	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	for eb := range el.Iter() {
		blk := el.Get(eb)
		g := blk.RLock()
		for _, v := range g.Slice() {
			if v.Flags.Has(voxel.Fixed) {
				t.Fatalf("block %v still has a Fixed voxel after retraction: %+v", eb, v)
			}
		}
		g.Unlock()
	}
}

// S5 - cross-block propagation.
func TestScenarioS5CrossBlock(t *testing.T) {
	const vps = int32(4)
	tl, el, in := newScenario(vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 2)
	b := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)

	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	g := voxel.GlobalIndex{X: 7, Y: 0, Z: 0}
	v, ok := esdfAt(el, g)
	if !ok || !v.Flags.Has(voxel.Fixed) {
		t.Fatalf("voxel %v not fixed", g)
	}
	if v.Distance != 7 {
		t.Errorf("distance = %v, want 7", v.Distance)
	}
	wantSite := voxel.BlockIndex{X: 0, Y: 0, Z: 0}
	if v.SiteBlock != wantSite {
		t.Errorf("site_block = %v, want %v", v.SiteBlock, wantSite)
	}
	wantBlock := voxel.BlockIndex{X: 1, Y: 0, Z: 0}
	if gotBlock := voxel.BlockIndexOf(g, vps); gotBlock != wantBlock {
		t.Fatalf("test setup error: expected block %v, got %v", wantBlock, gotBlock)
	}
}

// S6 - convergence bound: a 5-block chain along X must converge within
// ceil(maxDelta/VPS)+1 outer iterations (spec §8).
func TestScenarioS6ConvergenceBound(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)

	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	var chain []voxel.BlockIndex
	for i := int32(0); i < 5; i++ {
		b := voxel.BlockIndex{X: origin.X + i, Y: origin.Y, Z: origin.Z}
		tl.Allocate(b)
		el.Allocate(b)
		chain = append(chain, b)
	}

	seedB := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)

	if err := in.Update(tl, el, []voxel.BlockIndex{seedB}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// maxDelta is measured in blocks (4) converted to the same units as
	// VPS (voxels); the farthest pair of allocated blocks is 4*vps apart.
	maxDelta := int32(len(chain)-1) * vps
	bound := maxDelta/vps + 1
	if in.lastIterationCount > int(bound) {
		t.Errorf("outer iterations = %d, exceeds bound %d", in.lastIterationCount, bound)
	}

	far := voxel.GlobalIndex{X: int64(4*vps + vps - 1), Y: 0, Z: 0}
	v, ok := esdfAt(el, far)
	if !ok || !v.Flags.Has(voxel.Fixed) {
		t.Fatalf("farthest voxel %v not fixed", far)
	}
	want := float32(far.X)
	if v.Distance != want {
		t.Errorf("farthest voxel distance = %v, want %v", v.Distance, want)
	}
}

// Quantified invariant 1: every allocated TSDF block is allocated in ESDF.
func TestInvariantMirrorAllocation(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)
	b := seedSite(tl, voxel.GlobalIndex{}, 0)
	tl.Allocate(voxel.BlockIndex{X: 5, Y: 5, Z: 5}) // an unrelated, unobserved block
	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	for tb := range tl.Iter() {
		if !el.Contains(tb) {
			t.Errorf("TSDF block %v not mirrored into ESDF", tb)
		}
	}
}

// Quantified invariant 2: observed voxels carry their own distance and
// self-reference their own block as the site.
func TestInvariantObservedVoxelIsItsOwnSite(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)
	b := seedSite(tl, voxel.GlobalIndex{X: 2, Y: 2, Z: 2}, 1.5)
	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	v, ok := esdfAt(el, voxel.GlobalIndex{X: 2, Y: 2, Z: 2})
	if !ok {
		t.Fatalf("seed voxel not found")
	}
	if !v.Flags.Has(voxel.Observed) || !v.Flags.Has(voxel.Fixed) {
		t.Fatalf("seed voxel missing Observed/Fixed: %+v", v)
	}
	if v.Distance != 1.5 {
		t.Errorf("distance = %v, want 1.5", v.Distance)
	}
	if v.SiteBlock != b {
		t.Errorf("site_block = %v, want %v", v.SiteBlock, b)
	}
}

// Quantified invariant 3: every Fixed, non-Observed voxel's distance is at
// most the cheapest Fixed face-neighbor's distance plus one voxel step.
func TestInvariantFixedDistanceBound(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 2)
	bA := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)
	bB := seedSite(tl, voxel.GlobalIndex{X: 9, Y: 3, Z: 0}, 0)

	if err := in.Update(tl, el, []voxel.BlockIndex{bA, bB}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for b := range el.Iter() {
		blk := el.Get(b)
		g := blk.RLock()
		for i, v := range g.Slice() {
			if !v.Flags.Has(voxel.Fixed) || v.Flags.Has(voxel.Observed) {
				continue
			}
			local := voxel.VoxelIndexFromLinear(i, vps)
			gidx := voxel.FromBlockAndVoxel(b, local, vps)
			best := float32(0)
			haveBest := false
			for nb := range voxel.NeighborsGlobal6(gidx) {
				nv, ok := esdfAt(el, nb.Index)
				if !ok || !nv.Flags.Has(voxel.Fixed) {
					continue
				}
				cand := nv.Distance + 1
				if !haveBest || cand < best {
					best, haveBest = cand, true
				}
			}
			if haveBest && v.Distance > best+1e-4 {
				t.Errorf("voxel %v distance %v exceeds face-neighbor bound %v", gidx, v.Distance, best)
			}
		}
		g.Unlock()
	}
}

// Quantified invariant 4: every Fixed voxel with HasSiteIndex names an
// allocated block.
func TestInvariantSiteBlockAllocated(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 2)
	b := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)

	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for bi := range el.Iter() {
		blk := el.Get(bi)
		g := blk.RLock()
		for _, v := range g.Slice() {
			if v.Flags.Has(voxel.Fixed) && v.Flags.Has(voxel.HasSiteIndex) {
				if !el.Contains(v.SiteBlock) {
					t.Errorf("voxel in block %v has unallocated site_block %v", bi, v.SiteBlock)
				}
			}
		}
		g.Unlock()
	}
}

// Quantified invariant 6: once a voxel becomes Fixed, its distance only
// decreases (or stays equal) across subsequent outer iterations of the
// same update.
func TestInvariantMonotonicWithinUpdate(t *testing.T) {
	const vps = int32(8)
	tl, el, _ := newScenario(vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 2)
	bA := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)
	bB := seedSite(tl, voxel.GlobalIndex{X: 10, Y: 6, Z: 0}, 0)

	prev := map[voxel.BlockIndex][]voxel.Esdf{}
	violated := false
	tracker := func(op string, _ *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf], blocks []voxel.BlockIndex, _ time.Duration) {
		if op != OpPropYNeg {
			return
		}
		cur := snapshotLayer(e)
		for bi, voxels := range cur {
			old, ok := prev[bi]
			if !ok {
				continue
			}
			for i, v := range voxels {
				if v.Flags.Has(voxel.Fixed) && old[i].Flags.Has(voxel.Fixed) && v.Distance > old[i].Distance+1e-4 {
					violated = true
				}
			}
		}
		prev = cur
	}

	in := NewIntegrator(Config{VPS: vps, VoxelSize: 1, Progress: tracker})
	if err := in.Update(tl, el, []voxel.BlockIndex{bA, bB}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if violated {
		t.Errorf("a Fixed voxel's distance increased between outer iterations")
	}
}

// Quantified invariant 5: idempotence under an empty update set.
func TestInvariantIdempotence(t *testing.T) {
	const vps = int32(8)
	tl, el, in := newScenario(vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 2)
	b := seedSite(tl, voxel.GlobalIndex{}, 0)
	if err := in.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	snapshot := snapshotLayer(el)

	if err := in.Update(tl, el, nil); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	after := snapshotLayer(el)
	if len(snapshot) != len(after) {
		t.Fatalf("block count changed: %d vs %d", len(snapshot), len(after))
	}
	for bIdx, voxels := range snapshot {
		otherVoxels, ok := after[bIdx]
		if !ok {
			t.Fatalf("block %v missing after no-op update", bIdx)
		}
		for i, v := range voxels {
			if v != otherVoxels[i] {
				t.Fatalf("block %v voxel %d changed: %+v -> %+v", bIdx, i, v, otherVoxels[i])
			}
		}
	}
}

func snapshotLayer(e *voxel.Layer[voxel.Esdf]) map[voxel.BlockIndex][]voxel.Esdf {
	out := make(map[voxel.BlockIndex][]voxel.Esdf)
	for b := range e.Iter() {
		blk := e.Get(b)
		g := blk.RLock()
		cp := append([]voxel.Esdf(nil), g.Slice()...)
		g.Unlock()
		out[b] = cp
	}
	return out
}
