// Command esdfcmd drives esdf.Integrator against a synthetic TSDF source: a
// single sphere painted into the TSDF layer and integrated with one Update
// call, mirroring the teacher's
// examples/test driver shape (time a run, log.Fatalf on error, report
// elapsed time) rather than any particular voxel content.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/chewxy/math32"
	"github.com/krepa098/esdf-vis/esdf"
	"github.com/krepa098/esdf-vis/voxel"
)

const (
	vps       = 8
	voxelSize = float32(0.1)
	radius    = float32(0.5)
)

func main() {
	start := time.Now()
	stats, err := run()
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		log.Fatalf("FAIL in %s: %s", elapsed, err.Error())
	}
	log.Printf("PASS in %s: %d blocks allocated, %d voxels fixed", elapsed, stats.blocks, stats.fixed)
}

type runStats struct {
	blocks int
	fixed  int
}

func run() (runStats, error) {
	t := voxel.NewLayer[voxel.Tsdf](vps, voxelSize)
	e := voxel.NewLayer[voxel.Esdf](vps, voxelSize)

	updated := paintSphere(t, radius)

	in := esdf.NewIntegrator(esdf.Config{
		VPS:       vps,
		VoxelSize: voxelSize,
		Progress:  logProgress,
	})
	if err := in.Update(t, e, updated); err != nil {
		return runStats{}, fmt.Errorf("integrating sphere TSDF: %w", err)
	}

	return collectStats(e), nil
}

// paintSphere writes a Tsdf surface approximation for a sphere of the given
// radius centered at the origin and returns the set of blocks it touched.
func paintSphere(t *voxel.Layer[voxel.Tsdf], radius float32) []voxel.BlockIndex {
	extent := int64(radius/t.VoxelSize()) + 2
	seen := map[voxel.BlockIndex]struct{}{}
	var updated []voxel.BlockIndex

	for gx := -extent; gx <= extent; gx++ {
		for gy := -extent; gy <= extent; gy++ {
			for gz := -extent; gz <= extent; gz++ {
				g := voxel.GlobalIndex{X: gx, Y: gy, Z: gz}
				d := sphereSdf(g, t.VoxelSize(), radius)
				if d > t.VoxelSize()*2 {
					continue
				}
				bi := voxel.BlockIndexOf(g, vps)
				vi := voxel.VoxelIndexOf(g, vps)
				blk := t.Allocate(bi)
				guard := blk.Lock()
				guard.SetAt(vi, voxel.Tsdf{Distance: d, Weight: 1})
				guard.Unlock()
				if _, ok := seen[bi]; !ok {
					seen[bi] = struct{}{}
					updated = append(updated, bi)
				}
			}
		}
	}
	return updated
}

func sphereSdf(g voxel.GlobalIndex, voxelSize, radius float32) float32 {
	x := float32(g.X)*voxelSize + voxelSize*0.5
	y := float32(g.Y)*voxelSize + voxelSize*0.5
	z := float32(g.Z)*voxelSize + voxelSize*0.5
	return math32.Sqrt(x*x+y*y+z*z) - radius
}

func collectStats(e *voxel.Layer[voxel.Esdf]) runStats {
	stats := runStats{}
	for bi := range e.Iter() {
		stats.blocks++
		blk := e.Get(bi)
		guard := blk.RLock()
		for _, v := range guard.Slice() {
			if v.Flags.Has(voxel.Fixed) {
				stats.fixed++
			}
		}
		guard.Unlock()
	}
	return stats
}

func logProgress(op string, t *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf], blocks []voxel.BlockIndex, displayHint time.Duration) {
	log.Printf("%-12s %d blocks", op, len(blocks))
}
