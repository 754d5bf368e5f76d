// Package esdf implements the incremental Euclidean Signed Distance Field
// update algorithm: invalidation, seeding, and iterative in-block sweeps
// plus cross-block propagation over the sparse voxel layers defined by
// package voxel.
package esdf

import (
	"fmt"

	"github.com/krepa098/esdf-vis/voxel"
)

// ProgrammingError marks a violated invariant inside the integrator. It is
// re-exported from voxel so callers of this package never need to import
// voxel just to match on it.
type ProgrammingError = voxel.ProgrammingError

// GpuInitFailure is returned from an Accelerator constructor when no
// compatible device can be initialized, or the device's limits are
// insufficient for the requested configuration.
type GpuInitFailure struct {
	Reason string
	Err    error
}

func (e *GpuInitFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("esdf: gpu init failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("esdf: gpu init failure: %s", e.Reason)
}

func (e *GpuInitFailure) Unwrap() error { return e.Err }

// GpuSubmissionFailure is returned from GpuIntegrator.Update when a GPU
// dispatch fails for the current call: a lost device, or a workload that
// overflowed the Accelerator's reserved buffers. The current update is
// abandoned; the caller may retry with a rebuilt GpuIntegrator.
type GpuSubmissionFailure struct {
	Reason string
	Err    error
}

func (e *GpuSubmissionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("esdf: gpu submission failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("esdf: gpu submission failure: %s", e.Reason)
}

func (e *GpuSubmissionFailure) Unwrap() error { return e.Err }
