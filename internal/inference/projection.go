package inference

import (
	"fmt"
	"math"

	"github.com/ocr-dimt/ocrdemo/internal/checkpoint"
	"github.com/ocr-dimt/ocrdemo/internal/tensor"
)

const layerNormEps = 1e-5

// Projection maps encoder hidden states into the generator's embedding
// space: Linear(in, out), LayerNorm(out), then exact (erf) GELU.
type Projection struct {
	in, out int

	weight []float32 // [out, in]
	bias   []float32
	gamma  []float32
	beta   []float32
}

// ProjectionManifest lists the parameters a Projection expects, keyed the
// way a sequential container numbers its layers.
func ProjectionManifest(in, out int) map[string][]int {
	return map[string][]int{
		"0.weight": {out, in},
		"0.bias":   {out},
		"1.weight": {out},
		"1.bias":   {out},
	}
}

// LoadProjection builds a Projection from its checkpoint group. The load is
// strict: any unexpected, missing or mis-shaped key fails.
func LoadProjection(g *checkpoint.Group, in, out int) (*Projection, *checkpoint.LoadReport, error) {
	report := checkpoint.Plan(checkpoint.GroupProjection, ProjectionManifest(in, out), g)
	if err := report.Strict(); err != nil {
		return nil, report, err
	}

	p := &Projection{in: in, out: out}
	targets := map[string]*[]float32{
		"0.weight": &p.weight,
		"0.bias":   &p.bias,
		"1.weight": &p.gamma,
		"1.bias":   &p.beta,
	}
	for key, dst := range targets {
		values, _, err := g.Float32(key)
		if err != nil {
			return nil, report, err
		}
		*dst = values
	}

	return p, report, nil
}

// NewProjection builds a Projection from in-memory parameters.
func NewProjection(in, out int, weight, bias, gamma, beta []float32) (*Projection, error) {
	if len(weight) != in*out || len(bias) != out || len(gamma) != out || len(beta) != out {
		return nil, fmt.Errorf("projection parameters do not match %dx%d", out, in)
	}
	return &Projection{in: in, out: out, weight: weight, bias: bias, gamma: gamma, beta: beta}, nil
}

func (p *Projection) Dims() (in, out int) {
	return p.in, p.out
}

// Project applies the projection to every position of a [batch, seq, in]
// tensor and returns [batch, seq, out].
func (p *Projection) Project(hidden *tensor.Tensor) (*tensor.Tensor, error) {
	if hidden.DType != tensor.Float32 || len(hidden.Shape) != 3 || hidden.Shape[2] != p.in {
		return nil, fmt.Errorf("projection expects [batch, seq, %d] %s, got %v %s",
			p.in, tensor.Float32, hidden.Shape, hidden.DType)
	}

	rows := hidden.Shape[0] * hidden.Shape[1]
	out := make([]float32, rows*p.out)
	for r := 0; r < rows; r++ {
		p.forwardRow(hidden.F32[r*p.in:(r+1)*p.in], out[r*p.out:(r+1)*p.out])
	}

	return tensor.NewFloat32([]int{hidden.Shape[0], hidden.Shape[1], p.out}, out)
}

func (p *Projection) forwardRow(x []float32, y []float32) {
	// linear, accumulated in float64
	var mean float64
	for o := 0; o < p.out; o++ {
		w := p.weight[o*p.in : (o+1)*p.in]
		acc := float64(p.bias[o])
		for i, xi := range x {
			acc += float64(w[i]) * float64(xi)
		}
		y[o] = float32(acc)
		mean += acc
	}
	mean /= float64(p.out)

	// biased variance, as layer norm defines it
	var variance float64
	for _, v := range y {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(p.out)
	inv := 1 / math.Sqrt(variance+layerNormEps)

	for o, v := range y {
		n := (float64(v)-mean)*inv*float64(p.gamma[o]) + float64(p.beta[o])
		y[o] = float32(gelu(n))
	}
}

func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}
