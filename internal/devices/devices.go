// Package devices reports the compute available to a run.
package devices

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Accelerator is one device visible to the CUDA driver.
type Accelerator struct {
	Index        int
	Name         string
	MemoryBytes  int64
	ComputeMajor int
	ComputeMinor int
}

func (a Accelerator) String() string {
	return fmt.Sprintf("%d:%s (sm_%d%d, %d MiB)", a.Index, a.Name, a.ComputeMajor, a.ComputeMinor, a.MemoryBytes>>20)
}

// Info describes the host.
type Info struct {
	Vendor        string
	Brand         string
	PhysicalCores int
	LogicalCores  int
	Features      []string
	Accelerators  []Accelerator

	// HostOnly is set when the numeric backend cannot place tensors on
	// accelerators, so they are reported but never used.
	HostOnly bool
}

// Probe inspects the CPU and any accelerators. Accelerator probing failures
// are returned alongside a usable Info.
func Probe() (Info, error) {
	info := Info{
		Vendor:        cpuid.CPU.VendorString,
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Features:      cpuid.CPU.FeatureSet(),
		HostOnly:      true,
	}
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	accels, err := probeAccelerators()
	info.Accelerators = accels
	return info, err
}

// Replicas returns how many model replicas a step should be split across.
func (i Info) Replicas() int {
	if i.HostOnly || len(i.Accelerators) < 2 {
		return 1
	}
	return len(i.Accelerators)
}

// HasAVX512 reports whether the wide vector units are usable.
func (i Info) HasAVX512() bool {
	return cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ)
}

// DecodeWorkers suggests a decoder pool size when none is configured.
func (i Info) DecodeWorkers() int {
	n := i.PhysicalCores
	if n <= 0 {
		n = i.LogicalCores
	}
	return max(n, 1)
}
