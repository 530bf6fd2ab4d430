package model

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"
)

const (
	// bnMomentum weights the newest batch in the running statistics.
	bnMomentum = 0.1
	// bnStabilizer matches anyconv's default.
	bnStabilizer = 1e-3
)

// batchNorm normalizes with the batch statistics while training and with
// running statistics otherwise. Running statistics move toward each
// training batch only when updates are enabled.
type batchNorm struct {
	*anyconv.BatchNorm

	// Running per-channel statistics, exposed to checkpoints as buffers.
	mean *anydiff.Var
	vari *anydiff.Var

	train  bool
	update bool
}

func newBatchNorm(c anyvec.Creator, depth int) *batchNorm {
	ones := make([]float64, depth)
	for i := range ones {
		ones[i] = 1
	}
	return &batchNorm{
		BatchNorm: anyconv.NewBatchNorm(c, depth),
		mean:      anydiff.NewVar(c.MakeVector(depth)),
		vari:      anydiff.NewVar(c.MakeVectorData(c.MakeNumericList(ones))),
	}
}

func (b *batchNorm) Apply(in anydiff.Res, batch int) anydiff.Res {
	if b.train {
		if b.update {
			b.track(in.Output())
		}
		return b.BatchNorm.Apply(in, batch)
	}
	c := in.Output().Creator()
	mean, vari := floats(b.mean.Vector), floats(b.vari.Vector)
	scales, biases := floats(b.Scalers.Vector), floats(b.Biases.Vector)
	scaler := make([]float64, b.InputCount)
	bias := make([]float64, b.InputCount)
	for i := range scaler {
		scaler[i] = scales[i] / math.Sqrt(vari[i]+bnStabilizer)
		bias[i] = biases[i] - mean[i]*scaler[i]
	}
	return anydiff.ScaleAddRepeated(in,
		anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(scaler))),
		anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(bias))))
}

// track folds the moments of one training batch into the running
// statistics. The variance is the unbiased estimate.
func (b *batchNorm) track(out anyvec.Vector) {
	values := floats(out)
	depth := b.InputCount
	rows := len(values) / depth
	if rows == 0 {
		return
	}
	sum := make([]float64, depth)
	sq := make([]float64, depth)
	for i, x := range values {
		sum[i%depth] += x
		sq[i%depth] += x * x
	}
	mean, vari := floats(b.mean.Vector), floats(b.vari.Vector)
	for i := range sum {
		m := sum[i] / float64(rows)
		v := sq[i]/float64(rows) - m*m
		if rows > 1 {
			v *= float64(rows) / float64(rows-1)
		}
		mean[i] = (1-bnMomentum)*mean[i] + bnMomentum*m
		vari[i] = (1-bnMomentum)*vari[i] + bnMomentum*math.Max(v, 0)
	}
	c := out.Creator()
	b.mean.Vector.SetData(c.MakeNumericList(mean))
	b.vari.Vector.SetData(c.MakeNumericList(vari))
}
