package imagenet

import "fmt"

// Variant selects which ImageNet-style dataset a workload runs on.
type Variant int

const (
	Imagenet2012 Variant = iota
	Imagenette
)

// VariantConstants are the runner budgets tied to a dataset variant.
type VariantConstants struct {
	Name                 string
	MaxAllowedRuntimeSec int
	EvalPeriodTimeSec    int
}

var variants = map[Variant]VariantConstants{
	Imagenet2012: {Name: "imagenet2012", MaxAllowedRuntimeSec: 111600, EvalPeriodTimeSec: 6000},
	Imagenette:   {Name: "imagenette", MaxAllowedRuntimeSec: 3600, EvalPeriodTimeSec: 30},
}

// ParseVariant resolves a dataset name.
func ParseVariant(name string) (Variant, error) {
	for v, c := range variants {
		if c.Name == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown imagenet variant %q", name)
}

// Constants returns the budgets for v.
func (v Variant) Constants() (VariantConstants, error) {
	c, ok := variants[v]
	if !ok {
		return VariantConstants{}, fmt.Errorf("unknown imagenet variant %d", int(v))
	}
	return c, nil
}

func (v Variant) String() string {
	if c, ok := variants[v]; ok {
		return c.Name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}
