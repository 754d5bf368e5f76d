//go:build tinygo

package esdfgpu

import (
	"errors"

	"github.com/krepa098/esdf-vis/esdf"
	"github.com/krepa098/esdf-vis/voxel"
)

var errNoWebGPU = errors.New("esdfgpu: WebGPU is unavailable under tinygo")

// Device stub for tinygo builds, mirroring the teacher's gleval/gpu_nocgo.go
// pattern: New, Reserve, SubmitSweep and SubmitPropagate return a
// GpuInitFailure or GpuSubmissionFailure carrying errNoWebGPU's message
// rather than compiling out the type entirely, so callers can still
// type-check against esdf.Accelerator on every platform.
type Device struct{}

func New(device, queue any) (*Device, error) {
	return nil, &esdf.GpuInitFailure{Reason: errNoWebGPU.Error()}
}

func (d *Device) SetVoxelSize(float32) {}

func (d *Device) Reserve(maxDirtyBlocks int, vps int32) error {
	return &esdf.GpuInitFailure{Reason: errNoWebGPU.Error()}
}

func (d *Device) SubmitSweep(blocks []voxel.BlockIndex, dst [][]voxel.Esdf) error {
	return &esdf.GpuSubmissionFailure{Reason: errNoWebGPU.Error()}
}

func (d *Device) SubmitPropagate(axis esdf.Axis, paddedIndices [][7]int32, dst [][]voxel.Esdf, status []esdf.BlockStatus) error {
	return &esdf.GpuSubmissionFailure{Reason: errNoWebGPU.Error()}
}

func (d *Device) Release() {}
