package esdf

import "github.com/krepa098/esdf-vis/voxel"

// Axis selects the sweep/propagate direction dispatched to the GPU,
// encoded exactly as the wire push-data of spec §6 (X=1, Y=3, Z=5; the low
// bit discriminates X/Y/Z, higher bits are reserved for sign).
type Axis uint32

const (
	AxisX Axis = 1
	AxisY Axis = 3
	AxisZ Axis = 5
)

// BlockStatus mirrors the 8-byte per-block status record read back from the
// GPU after a propagate dispatch (spec §6).
type BlockStatus struct {
	Flags         voxel.Flags
	UpdatedVoxels uint32
}

// Accelerator is the abstract seam through which the GPU integrator drives
// a device-resident sweep/propagate implementation without owning the
// device itself (the "caller-owns-device" design note, spec §9). A
// concrete implementation lives in package esdfgpu.
type Accelerator interface {
	// Reserve grows the accelerator's persistent buffers so that at least
	// maxDirtyBlocks blocks can be processed in one dispatch. The caller
	// invokes it before the first Update (NewGpuIntegrator does not) and
	// again only if it wants to raise the ceiling; Update treats an
	// overflow as a GpuSubmissionFailure rather than reserving on demand.
	Reserve(maxDirtyBlocks int, vps int32) error

	// SubmitSweep uploads the given dirty blocks' voxels, runs the sweep
	// kernel (four X±/Y± passes, one workgroup per block) and reads
	// the results back into dst, in the same order as blocks.
	SubmitSweep(blocks []voxel.BlockIndex, dst [][]voxel.Esdf) error

	// SubmitPropagate uploads the padded self+6-neighbor index list for
	// each dirty block (sentinel -1 for a missing neighbor, matching
	// voxel.Neighbors6IncludeSelf's order) for the given axis, runs the
	// propagate kernel, and reads back both the neighbor voxel data and
	// the per-block status array.
	SubmitPropagate(axis Axis, paddedIndices [][7]int32, dst [][]voxel.Esdf, status []BlockStatus) error

	// Release frees persistent GPU resources. Update must not be called
	// again afterwards.
	Release()
}
