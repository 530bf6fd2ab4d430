package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"

	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

// Arch describes a ResNet variant.
type Arch struct {
	Name       string
	Blocks     [4]int
	Width      int
	Bottleneck bool
	NumClasses int
	InputSize  int
}

// Standard architectures. Tiny keeps the ResNet topology but is small enough
// to run on a laptop.
var (
	ResNet50 = Arch{Name: "resnet50", Blocks: [4]int{3, 4, 6, 3}, Width: 64, Bottleneck: true, NumClasses: 1000, InputSize: 224}
	ResNet18 = Arch{Name: "resnet18", Blocks: [4]int{2, 2, 2, 2}, Width: 64, NumClasses: 1000, InputSize: 224}
	Tiny     = Arch{Name: "tiny", Blocks: [4]int{1, 1, 1, 1}, Width: 8, NumClasses: 1000, InputSize: 224}
)

// LookupArch resolves an architecture by name.
func LookupArch(name string) (Arch, error) {
	for _, a := range []Arch{ResNet50, ResNet18, Tiny} {
		if a.Name == name {
			return a, nil
		}
	}
	return Arch{}, fmt.Errorf("unknown arch %q", name)
}

func (a Arch) expansion() int {
	if a.Bottleneck {
		return 4
	}
	return 1
}

// FeatureDepth returns the depth of the tensor fed to the classifier.
func (a Arch) FeatureDepth() int {
	return a.Width * 8 * a.expansion()
}

// Validate reports whether the architecture can be built.
func (a Arch) Validate() error {
	if a.Width <= 0 || a.NumClasses <= 0 {
		return fmt.Errorf("arch %s: width and num classes must be > 0", a.Name)
	}
	for i, n := range a.Blocks {
		if n <= 0 {
			return fmt.Errorf("arch %s: stage %d has no blocks", a.Name, i+1)
		}
	}
	// The stem and three downsampling stages halve the input five times.
	if a.InputSize < 32 {
		return fmt.Errorf("arch %s: input size %d below 32", a.Name, a.InputSize)
	}
	return nil
}

// New builds a randomly initialized network. All randomness comes from rng.
func New(c anyvec.Creator, arch Arch, rng *rand.Rand) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	b := &builder{
		c:     c,
		rng:   rng,
		w:     arch.InputSize,
		h:     arch.InputSize,
		d:     3,
		model: &Model{Arch: arch},
	}

	net := anynet.Net{
		b.conv("stem.conv", arch.Width, 7, 2, 3),
		b.batchNorm("stem.bn"),
		anynet.ReLU,
		b.maxPool(2),
	}

	width := arch.Width
	for stage, count := range arch.Blocks {
		for block := 0; block < count; block++ {
			stride := 1
			if stage > 0 && block == 0 {
				stride = 2
			}
			name := fmt.Sprintf("stage%d.block%d", stage+1, block)
			net = append(net, b.residual(name, width, stride, arch.Bottleneck), anynet.ReLU)
		}
		width *= 2
	}

	net = append(net, b.meanPool(), b.fc("output", arch.NumClasses))
	b.model.Net = net
	return b.model, nil
}

// builder tracks the running tensor shape while layers are appended.
type builder struct {
	c     anyvec.Creator
	rng   *rand.Rand
	w     int
	h     int
	d     int
	model *Model
}

func (b *builder) conv(name string, filters, kernel, stride, pad int) anynet.Layer {
	var net anynet.Net
	if pad > 0 {
		net = append(net, &anyconv.Padding{
			InputWidth:    b.w,
			InputHeight:   b.h,
			InputDepth:    b.d,
			PaddingTop:    pad,
			PaddingRight:  pad,
			PaddingBottom: pad,
			PaddingLeft:   pad,
		})
	}
	conv := &anyconv.Conv{
		FilterCount:  filters,
		FilterWidth:  kernel,
		FilterHeight: kernel,
		StrideX:      stride,
		StrideY:      stride,
		InputWidth:   b.w + 2*pad,
		InputHeight:  b.h + 2*pad,
		InputDepth:   b.d,
	}
	conv.InitZero(b.c)
	fanIn := kernel * kernel * b.d
	b.randomize(conv.Filters, math.Sqrt(2/float64(fanIn)))
	b.model.register(name+".filters", conv.Filters, spec.ParamConvFilters, []int{filters, kernel, kernel, b.d})
	b.model.register(name+".biases", conv.Biases, spec.ParamBias, []int{filters})

	b.w, b.h, b.d = conv.OutputWidth(), conv.OutputHeight(), conv.OutputDepth()
	net = append(net, conv)
	return net
}

func (b *builder) batchNorm(name string) anynet.Layer {
	bn := newBatchNorm(b.c, b.d)
	b.model.register(name+".scalers", bn.Scalers, spec.ParamBatchNormScale, []int{b.d})
	b.model.register(name+".biases", bn.Biases, spec.ParamBatchNormBias, []int{b.d})
	b.model.norms = append(b.model.norms, bn)
	b.model.buffers = append(b.model.buffers,
		spec.Parameter{Key: spec.ParameterKey(name + ".running_mean"), Var: bn.mean},
		spec.Parameter{Key: spec.ParameterKey(name + ".running_var"), Var: bn.vari})
	return bn
}

func (b *builder) maxPool(span int) anynet.Layer {
	pool := &anyconv.MaxPool{SpanX: span, SpanY: span, InputWidth: b.w, InputHeight: b.h, InputDepth: b.d}
	b.w, b.h = pool.OutputWidth(), pool.OutputHeight()
	return pool
}

func (b *builder) meanPool() anynet.Layer {
	pool := &anyconv.MeanPool{SpanX: b.w, SpanY: b.h, InputWidth: b.w, InputHeight: b.h, InputDepth: b.d}
	b.w, b.h = 1, 1
	return pool
}

func (b *builder) fc(name string, out int) anynet.Layer {
	in := b.w * b.h * b.d
	layer := anynet.NewFCZero(b.c, in, out)
	b.randomize(layer.Weights, 1/math.Sqrt(float64(in)))
	b.model.register(name+".weights", layer.Weights, spec.ParamWeights, []int{out, in})
	b.model.register(name+".biases", layer.Biases, spec.ParamBias, []int{out})
	b.w, b.h, b.d = 1, 1, out
	return layer
}

// residual builds one block. The projection shortcut is added whenever the
// block changes the tensor shape.
func (b *builder) residual(name string, width, stride int, bottleneck bool) anynet.Layer {
	inW, inH, inD := b.w, b.h, b.d

	var main anynet.Net
	if bottleneck {
		main = anynet.Net{
			b.conv(name+".conv1", width, 1, 1, 0),
			b.batchNorm(name + ".bn1"),
			anynet.ReLU,
			b.conv(name+".conv2", width, 3, stride, 1),
			b.batchNorm(name + ".bn2"),
			anynet.ReLU,
			b.conv(name+".conv3", width*4, 1, 1, 0),
			b.batchNorm(name + ".bn3"),
		}
	} else {
		main = anynet.Net{
			b.conv(name+".conv1", width, 3, stride, 1),
			b.batchNorm(name + ".bn1"),
			anynet.ReLU,
			b.conv(name+".conv2", width, 3, 1, 1),
			b.batchNorm(name + ".bn2"),
		}
	}
	outW, outH, outD := b.w, b.h, b.d

	res := &anyconv.Residual{Layer: main}
	if outW != inW || outH != inH || outD != inD {
		b.w, b.h, b.d = inW, inH, inD
		res.Projection = anynet.Net{
			b.conv(name+".proj.conv", outD, 1, stride, 0),
			b.batchNorm(name + ".proj.bn"),
		}
	}
	return res
}

func (b *builder) randomize(v *anydiff.Var, stddev float64) {
	anyvec.Rand(v.Vector, anyvec.Normal, b.rng)
	v.Vector.Scale(b.c.MakeNumeric(stddev))
}
