//go:build !cuda

package devices

func probeAccelerators() ([]Accelerator, error) {
	return nil, nil
}
