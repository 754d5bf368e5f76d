package esdf

import (
	"time"

	"github.com/krepa098/esdf-vis/voxel"
)

// Progress operation tags, invoked in this relative order during one
// Update call: sites are cleared before seeding, seeding occurs before
// sweeps, and a block's sweep precedes any propagation that reads it. No
// other ordering is guaranteed.
const (
	OpTsdfUpdated = "tsdf updated"
	OpClearSite   = "clear site"
	OpSweepXPos   = "sweep: x+"
	OpSweepXNeg   = "sweep: x-"
	OpSweepYPos   = "sweep: y+"
	OpSweepYNeg   = "sweep: y-"
	OpPropXPos    = "prop.: x+"
	OpPropXNeg    = "prop.: x-"
	OpPropYPos    = "prop.: y+"
	OpPropYNeg    = "prop.: y-"
)

// ProgressFunc is invoked synchronously at every sub-step of an update, for
// external visualization. Implementations must not retain the tsdf, esdf or
// blocks arguments beyond the call; the integrator reuses the blocks slice
// across calls.
type ProgressFunc func(op string, t *voxel.Layer[voxel.Tsdf], e *voxel.Layer[voxel.Esdf], blocks []voxel.BlockIndex, displayHint time.Duration)

// noopProgress is used when a Config carries no ProgressFunc.
func noopProgress(string, *voxel.Layer[voxel.Tsdf], *voxel.Layer[voxel.Esdf], []voxel.BlockIndex, time.Duration) {
}
