package esdf

import (
	"testing"

	"github.com/krepa098/esdf-vis/voxel"
)

// fakeAccelerator implements Accelerator entirely in Go, performing the
// same per-block sweep/propagate math as Integrator's own CPU path over
// the flattened voxel slices it is handed. It exists purely to exercise
// GpuIntegrator's batching/dispatch orchestration without a real GPU.
type fakeAccelerator struct {
	vps       int32
	voxelSize float32
}

func (f *fakeAccelerator) Reserve(maxDirtyBlocks int, vps int32) error {
	f.vps = vps
	return nil
}

func (f *fakeAccelerator) SubmitSweep(blocks []voxel.BlockIndex, dst [][]voxel.Esdf) error {
	for _, voxels := range dst {
		for _, dir := range sweepDirections {
			sweepFlat(voxels, f.vps, f.voxelSize, dir)
		}
	}
	return nil
}

func (f *fakeAccelerator) SubmitPropagate(axis Axis, paddedIndices [][7]int32, dst [][]voxel.Esdf, status []BlockStatus) error {
	slot := map[Axis]struct{ pos, neg int }{
		AxisX: {1, 2},
		AxisY: {3, 4},
	}[axis]

	for i, padded := range paddedIndices {
		self := padded[0]
		if self < 0 {
			continue
		}
		var st BlockStatus
		if propagateFlat(dst, f.vps, f.voxelSize, self, padded[slot.pos], true, axis) {
			st.Flags |= voxel.Updated
		}
		if propagateFlat(dst, f.vps, f.voxelSize, self, padded[slot.neg], false, axis) {
			st.Flags |= voxel.Updated
		}
		status[i] = st
	}
	return nil
}

func (f *fakeAccelerator) Release() {}

func sweepFlat(voxels []voxel.Esdf, vps int32, voxelSize float32, dir sweepDirection) {
	start, end, step := int32(1), vps, int32(1)
	if dir.sign < 0 {
		start, end, step = vps-2, int32(-1), int32(-1)
	}
	for u := int32(0); u < vps; u++ {
		for v := int32(0); v < vps; v++ {
			for w := start; w != end; w += step {
				cur := voxelAt(dir.axis, u, v, w).Linear(vps)
				prev := voxelAt(dir.axis, u, v, w-dir.sign).Linear(vps)
				parent := voxels[prev]
				if !parent.Flags.Has(voxel.Fixed) {
					continue
				}
				current := voxels[cur]
				if current.Flags.Has(voxel.Observed) {
					continue
				}
				cand := parent.Distance + voxelSize
				if !current.Flags.Has(voxel.Fixed) {
					voxels[cur] = voxel.Esdf{Distance: cand, Flags: voxel.Fixed | voxel.HasSiteIndex, SiteBlock: parent.SiteBlock}
				} else if cand < current.Distance {
					current.Distance = cand
					current.SiteBlock = parent.SiteBlock
					voxels[cur] = current
				}
			}
		}
	}
}

// propagateFlat relaxes the shared face between batch slot self and
// neighbor (or does nothing if neighbor is the -1 sentinel).
func propagateFlat(dst [][]voxel.Esdf, vps int32, voxelSize float32, self, neighbor int32, positive bool, axis Axis) bool {
	if neighbor < 0 {
		return false
	}
	sv := dst[self]
	nv := dst[neighbor]

	a := int32(0)
	if axis == AxisY {
		a = 1
	}
	var pivotW, neighborW int32
	if positive {
		pivotW, neighborW = vps-1, 0
	} else {
		pivotW, neighborW = 0, vps-1
	}

	updated := false
	for u := int32(0); u < vps; u++ {
		for v := int32(0); v < vps; v++ {
			pIdx := voxelAt(a, u, v, pivotW).Linear(vps)
			nIdx := voxelAt(a, u, v, neighborW).Linear(vps)
			p := sv[pIdx]
			if !p.Flags.Has(voxel.Fixed) {
				continue
			}
			n := nv[nIdx]
			if n.Flags.Has(voxel.Observed) {
				continue
			}
			cand := p.Distance + voxelSize
			if n.Flags.Has(voxel.Fixed) {
				if cand < n.Distance {
					n.Distance = cand
					n.SiteBlock = p.SiteBlock
					nv[nIdx] = n
					updated = true
				}
			} else {
				nv[nIdx] = voxel.Esdf{Distance: cand, Flags: voxel.Fixed | voxel.HasSiteIndex, SiteBlock: p.SiteBlock}
				updated = true
			}
		}
	}
	return updated
}

// TestGpuIntegratorMatchesCpuOnSingleSite runs the same S1 scenario through
// GpuIntegrator backed by fakeAccelerator and checks it reaches the same
// Manhattan-distance field as Integrator does.
func TestGpuIntegratorMatchesCpuOnSingleSite(t *testing.T) {
	const vps = int32(8)
	tl := voxel.NewLayer[voxel.Tsdf](vps, 1)
	el := voxel.NewLayer[voxel.Esdf](vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 2)
	b := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)

	accel := &fakeAccelerator{voxelSize: 1}
	gpu := NewGpuIntegrator(Config{VPS: vps, VoxelSize: 1}, accel)
	if err := accel.Reserve(64, vps); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := gpu.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for _, g := range []voxel.GlobalIndex{{X: 3, Y: 0, Z: 0}, {X: 0, Y: 4, Z: 0}, {X: 3, Y: 4, Z: 0}, {X: -3, Y: -2, Z: 0}} {
		v, ok := esdfAt(el, g)
		if !ok || !v.Flags.Has(voxel.Fixed) {
			t.Fatalf("voxel %v not fixed", g)
		}
		want := abs32(float32(g.X)) + abs32(float32(g.Y))
		if v.Distance != want {
			t.Errorf("voxel %v distance = %v, want %v", g, v.Distance, want)
		}
	}
}

func TestGpuIntegratorCrossBlock(t *testing.T) {
	const vps = int32(4)
	tl := voxel.NewLayer[voxel.Tsdf](vps, 1)
	el := voxel.NewLayer[voxel.Esdf](vps, 1)
	origin := voxel.BlockIndexOf(voxel.GlobalIndex{}, vps)
	allocateSurroundingBlocks(tl, el, origin, 2)
	b := seedSite(tl, voxel.GlobalIndex{X: 0, Y: 0, Z: 0}, 0)

	accel := &fakeAccelerator{voxelSize: 1}
	gpu := NewGpuIntegrator(Config{VPS: vps, VoxelSize: 1}, accel)
	if err := accel.Reserve(64, vps); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := gpu.Update(tl, el, []voxel.BlockIndex{b}); err != nil {
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
}
