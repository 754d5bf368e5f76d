//go:build !tinygo

package esdfgpu

import "testing"

func TestShaderSourceContainsKernelEntryPoints(t *testing.T) {
	src := sweepShaderSource(8, 1.0)
	if !contains(src, "fn sweep_block") {
		t.Fatalf("sweep shader missing entry point")
	}
	src = propagateShaderSource(8, 1.0)
	if !contains(src, "fn propagate_block") {
		t.Fatalf("propagate shader missing entry point")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// TestNewRejectsNilDeviceOrQueue documents esdf.GpuInitFailure behavior
// without requiring a real GPU adapter to be present, mirroring the
// teacher's gsdf_gpu_test.go practice of skipping hardware-dependent
// assertions while still exercising the construction error path.
func TestNewRejectsNilDeviceOrQueue(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatalf("New(nil, nil) returned nil error")
	}
}
