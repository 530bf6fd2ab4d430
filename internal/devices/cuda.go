//go:build cuda

package devices

import (
	"fmt"

	"gorgonia.org/cu"
)

func probeAccelerators() ([]Accelerator, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return nil, fmt.Errorf("count cuda devices: %w", err)
	}
	out := make([]Accelerator, 0, n)
	for d := 0; d < n; d++ {
		dev := cu.Device(d)
		name, _ := dev.Name()
		mem, _ := dev.TotalMem()
		major, _ := dev.Attribute(cu.ComputeCapabilityMajor)
		minor, _ := dev.Attribute(cu.ComputeCapabilityMinor)
		out = append(out, Accelerator{
			Index:        d,
			Name:         name,
			MemoryBytes:  mem,
			ComputeMajor: major,
			ComputeMinor: minor,
		})
	}
	return out, nil
}
