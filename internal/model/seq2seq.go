package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	apperrors "addition-rnn/internal/pkg/errors"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// Seq2Seq is a tanh encoder RNN whose last hidden state is fed, alongside
// the decoder input, to every step of a tanh decoder RNN with a softmax
// output layer. It trains with cross-entropy, BPTT and Adam.
type Seq2Seq struct {
	encFeatures int
	encSteps    int
	hidden      int
	decFeatures int
	decSteps    int
	decHidden   int
	classes     int

	lr       float64
	clipNorm float64
	step     int

	wx, wh, bh *param
	ux, us, bs *param
	v, bo      *param
	params     []*param
}

type param struct {
	w, g, m, v []float64
	W, G       *mat.Dense
}

func newParam(rows, cols int, rng *rand.Rand) *param {
	p := &param{
		w: make([]float64, rows*cols),
		g: make([]float64, rows*cols),
		m: make([]float64, rows*cols),
		v: make([]float64, rows*cols),
	}
	if rng != nil {
		scale := math.Sqrt(6 / float64(rows+cols))
		for i := range p.w {
			p.w[i] = (rng.Float64()*2 - 1) * scale
		}
	}
	p.W = mat.NewDense(rows, cols, p.w)
	p.G = mat.NewDense(rows, cols, p.g)
	return p
}

func (p *param) vec() *mat.VecDense {
	return mat.NewVecDense(len(p.w), p.w)
}

// NewSeq2Seq constructs the model with Xavier-uniform weights and zero biases.
func NewSeq2Seq(enc EncoderSpec, dec DecoderSpec, out OutputSpec, opts Options) *Seq2Seq {
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.005
	}
	if opts.ClipNorm <= 0 {
		opts.ClipNorm = 5
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	m := &Seq2Seq{
		encFeatures: enc.Features,
		encSteps:    enc.Steps,
		hidden:      enc.Hidden,
		decFeatures: dec.Features,
		decSteps:    dec.Steps,
		decHidden:   dec.Hidden,
		classes:     out.Classes,
		lr:          opts.LearningRate,
		clipNorm:    opts.ClipNorm,
	}
	m.wx = newParam(enc.Hidden, enc.Features, rng)
	m.wh = newParam(enc.Hidden, enc.Hidden, rng)
	m.bh = newParam(enc.Hidden, 1, nil)
	m.ux = newParam(dec.Hidden, dec.Features+enc.Hidden, rng)
	m.us = newParam(dec.Hidden, dec.Hidden, rng)
	m.bs = newParam(dec.Hidden, 1, nil)
	m.v = newParam(out.Classes, dec.Hidden, rng)
	m.bo = newParam(out.Classes, 1, nil)
	m.params = []*param{m.wx, m.wh, m.bh, m.ux, m.us, m.bs, m.v, m.bo}
	return m
}

// NumParams returns the number of trainable scalars.
func (m *Seq2Seq) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p.w)
	}
	return n
}

// TrainStep runs one optimizer step on batch and returns the mean per-step
// cross-entropy.
func (m *Seq2Seq) TrainStep(batch Batch) (float64, error) {
	n := batch.Size()
	if n == 0 {
		return 0, nil
	}
	if err := m.checkInputs(batch.EncoderInput, batch.DecoderInput); err != nil {
		return 0, apperrors.ModelFailure(apperrors.StageTraining, "invalid batch", err)
	}
	if err := checkShape("target", batch.Target, n, m.classes, m.decSteps); err != nil {
		return 0, apperrors.ModelFailure(apperrors.StageTraining, "invalid batch", err)
	}

	for _, p := range m.params {
		p.G.Zero()
	}
	scale := 1 / float64(n*m.decSteps)
	total := 0.0
	for b := 0; b < n; b++ {
		tr := m.forward(batch.EncoderInput, batch.DecoderInput, b)
		total += m.backward(tr, batch.Target, b, scale)
	}
	loss := total * scale
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, apperrors.ModelFailure(apperrors.StageTraining, "train step", fmt.Errorf("non-finite loss %v", loss))
	}

	norm := m.gradNorm()
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return loss, apperrors.ModelFailure(apperrors.StageTraining, "train step", fmt.Errorf("non-finite gradient norm %v", norm))
	}
	if norm > m.clipNorm {
		for _, p := range m.params {
			floats.Scale(m.clipNorm/norm, p.g)
		}
	}
	m.adam()
	return loss, nil
}

// Predict returns the softmax output of every decoder step.
func (m *Seq2Seq) Predict(encoderInput, decoderInput Tensor) (Tensor, error) {
	if err := m.checkInputs(encoderInput, decoderInput); err != nil {
		return Tensor{}, apperrors.ModelFailure(apperrors.StagePrediction, "invalid inputs", err)
	}
	out := NewTensor(encoderInput.Batch, m.classes, m.decSteps)
	for b := 0; b < encoderInput.Batch; b++ {
		tr := m.forward(encoderInput, decoderInput, b)
		for t, p := range tr.ps {
			data := p.RawVector().Data
			for _, x := range data {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					return Tensor{}, apperrors.ModelFailure(apperrors.StagePrediction, "predict",
						fmt.Errorf("non-finite output for example %d step %d", b, t))
				}
			}
			out.SetFrame(b, t, data)
		}
	}
	return out, nil
}

func (m *Seq2Seq) checkInputs(enc, dec Tensor) error {
	if err := checkShape("encoder input", enc, enc.Batch, m.encFeatures, m.encSteps); err != nil {
		return err
	}
	return checkShape("decoder input", dec, enc.Batch, m.decFeatures, m.decSteps)
}

type trace struct {
	xs []*mat.VecDense
	hs []*mat.VecDense
	zs []*mat.VecDense
	ss []*mat.VecDense
	ps []*mat.VecDense
}

// recurrent computes tanh(wIn*in + wRec*prev + bias).
func recurrent(wIn *mat.Dense, in mat.Vector, wRec *mat.Dense, prev mat.Vector, bias *mat.VecDense) *mat.VecDense {
	rows, _ := wIn.Dims()
	pre := mat.NewVecDense(rows, nil)
	pre.MulVec(wIn, in)
	rec := mat.NewVecDense(rows, nil)
	rec.MulVec(wRec, prev)
	pre.AddVec(pre, rec)
	pre.AddVec(pre, bias)
	data := pre.RawVector().Data
	for i, x := range data {
		data[i] = math.Tanh(x)
	}
	return pre
}

func (m *Seq2Seq) forward(enc, dec Tensor, b int) *trace {
	tr := &trace{}

	h := mat.NewVecDense(m.hidden, nil)
	tr.hs = append(tr.hs, h)
	for t := 0; t < m.encSteps; t++ {
		x := mat.NewVecDense(m.encFeatures, enc.Frame(b, t))
		h = recurrent(m.wx.W, x, m.wh.W, h, m.bh.vec())
		tr.xs = append(tr.xs, x)
		tr.hs = append(tr.hs, h)
	}
	context := h.RawVector().Data

	s := mat.NewVecDense(m.decHidden, nil)
	tr.ss = append(tr.ss, s)
	for t := 0; t < m.decSteps; t++ {
		z := mat.NewVecDense(m.decFeatures+m.hidden, append(dec.Frame(b, t), context...))
		s = recurrent(m.ux.W, z, m.us.W, s, m.bs.vec())

		logits := mat.NewVecDense(m.classes, nil)
		logits.MulVec(m.v.W, s)
		logits.AddVec(logits, m.bo.vec())
		p := mat.NewVecDense(m.classes, softmax(logits.RawVector().Data))

		tr.zs = append(tr.zs, z)
		tr.ss = append(tr.ss, s)
		tr.ps = append(tr.ps, p)
	}
	return tr
}

// tanhGrad returns d * (1 - y^2) where y = tanh(pre).
func tanhGrad(d mat.Vector, y *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(y.Len(), nil)
	for i := 0; i < y.Len(); i++ {
		yi := y.AtVec(i)
		out.SetVec(i, d.AtVec(i)*(1-yi*yi))
	}
	return out
}

// backward accumulates scaled gradients for example b and returns its
// unscaled loss.
func (m *Seq2Seq) backward(tr *trace, target Tensor, b int, scale float64) float64 {
	loss := 0.0
	dContext := mat.NewVecDense(m.hidden, nil)
	dsNext := mat.NewVecDense(m.decHidden, nil)

	for t := m.decSteps - 1; t >= 0; t-- {
		label := floats.MaxIdx(target.Frame(b, t))
		p := tr.ps[t]
		loss += -math.Log(math.Max(p.AtVec(label), 1e-12))

		dLogits := mat.VecDenseCopyOf(p)
		dLogits.SetVec(label, dLogits.AtVec(label)-1)
		dLogits.ScaleVec(scale, dLogits)

		s, sPrev := tr.ss[t+1], tr.ss[t]
		m.v.G.RankOne(m.v.G, 1, dLogits, s)
		floats.Add(m.bo.g, dLogits.RawVector().Data)

		ds := mat.NewVecDense(m.decHidden, nil)
		ds.MulVec(m.v.W.T(), dLogits)
		ds.AddVec(ds, dsNext)
		dPre := tanhGrad(ds, s)

		m.ux.G.RankOne(m.ux.G, 1, dPre, tr.zs[t])
		m.us.G.RankOne(m.us.G, 1, dPre, sPrev)
		floats.Add(m.bs.g, dPre.RawVector().Data)

		dz := mat.NewVecDense(m.decFeatures+m.hidden, nil)
		dz.MulVec(m.ux.W.T(), dPre)
		dContext.AddVec(dContext, dz.SliceVec(m.decFeatures, m.decFeatures+m.hidden))

		dsNext = mat.NewVecDense(m.decHidden, nil)
		dsNext.MulVec(m.us.W.T(), dPre)
	}

	dh := dContext
	for t := m.encSteps - 1; t >= 0; t-- {
		dPre := tanhGrad(dh, tr.hs[t+1])
		m.wx.G.RankOne(m.wx.G, 1, dPre, tr.xs[t])
		m.wh.G.RankOne(m.wh.G, 1, dPre, tr.hs[t])
		floats.Add(m.bh.g, dPre.RawVector().Data)

		next := mat.NewVecDense(m.hidden, nil)
		next.MulVec(m.wh.W.T(), dPre)
		dh = next
	}
	return loss
}

func (m *Seq2Seq) gradNorm() float64 {
	sum := 0.0
	for _, p := range m.params {
		sum += floats.Dot(p.g, p.g)
	}
	return math.Sqrt(sum)
}

func (m *Seq2Seq) adam() {
	m.step++
	c1 := 1 - math.Pow(adamBeta1, float64(m.step))
	c2 := 1 - math.Pow(adamBeta2, float64(m.step))
	lr := m.lr * math.Sqrt(c2) / c1
	for _, p := range m.params {
		for i, g := range p.g {
			p.m[i] = adamBeta1*p.m[i] + (1-adamBeta1)*g
			p.v[i] = adamBeta2*p.v[i] + (1-adamBeta2)*g*g
			p.w[i] -= lr * p.m[i] / (math.Sqrt(p.v[i]) + adamEpsilon)
		}
	}
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}
