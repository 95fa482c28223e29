package model

import (
	"fmt"

	apperrors "addition-rnn/internal/pkg/errors"
)

// Tensor is a dense [batch, features, steps] array.
type Tensor struct {
	Batch    int
	Features int
	Steps    int
	Data     []float64
}

// NewTensor allocates a zeroed tensor.
func NewTensor(batch, features, steps int) Tensor {
	return Tensor{
		Batch:    batch,
		Features: features,
		Steps:    steps,
		Data:     make([]float64, batch*features*steps),
	}
}

func (t Tensor) index(b, f, s int) int {
	return (b*t.Features+f)*t.Steps + s
}

// At returns the value at (b, f, s).
func (t Tensor) At(b, f, s int) float64 {
	return t.Data[t.index(b, f, s)]
}

// Set stores v at (b, f, s).
func (t Tensor) Set(b, f, s int, v float64) {
	t.Data[t.index(b, f, s)] = v
}

// Frame copies the feature vector of example b at step s.
func (t Tensor) Frame(b, s int) []float64 {
	out := make([]float64, t.Features)
	for f := range out {
		out[f] = t.Data[t.index(b, f, s)]
	}
	return out
}

// SetFrame overwrites the feature vector of example b at step s.
func (t Tensor) SetFrame(b, s int, frame []float64) {
	for f := 0; f < t.Features; f++ {
		t.Data[t.index(b, f, s)] = frame[f]
	}
}

// Frames returns every step of example b.
func (t Tensor) Frames(b int) [][]float64 {
	out := make([][]float64, t.Steps)
	for s := range out {
		out[s] = t.Frame(b, s)
	}
	return out
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	c := t
	c.Data = append([]float64(nil), t.Data...)
	return c
}

// Batch is one training minibatch: encoder input, teacher-forced decoder
// input and the target distribution.
type Batch struct {
	EncoderInput Tensor
	DecoderInput Tensor
	Target       Tensor
}

// Size returns the number of examples.
func (b Batch) Size() int {
	return b.EncoderInput.Batch
}

// Model is the contract the training loop drives. Implementations own their
// parameters; callers never inspect them.
type Model interface {
	TrainStep(batch Batch) (float64, error)
	Predict(encoderInput, decoderInput Tensor) (Tensor, error)
}

// EncoderSpec describes the encoder input and recurrent width.
type EncoderSpec struct {
	Features int
	Steps    int
	Hidden   int
}

// DecoderSpec describes the decoder input and recurrent width.
type DecoderSpec struct {
	Features int
	Steps    int
	Hidden   int
}

// OutputSpec describes the per-step output distribution.
type OutputSpec struct {
	Classes int
}

// Options holds optimizer settings.
type Options struct {
	LearningRate float64
	ClipNorm     float64
	Seed         int64
}

// Configure builds the encoder-decoder model for the given shapes.
func Configure(enc EncoderSpec, dec DecoderSpec, out OutputSpec, opts Options) (*Seq2Seq, error) {
	if enc.Features <= 0 || enc.Steps <= 0 || enc.Hidden <= 0 {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("invalid encoder spec %+v", enc))
	}
	if dec.Features <= 0 || dec.Steps <= 0 || dec.Hidden <= 0 {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("invalid decoder spec %+v", dec))
	}
	if out.Classes <= 0 {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("invalid output spec %+v", out))
	}
	if out.Classes != dec.Features {
		return nil, apperrors.ConfigurationError(
			fmt.Sprintf("output classes %d must match decoder features %d", out.Classes, dec.Features))
	}
	return NewSeq2Seq(enc, dec, out, opts), nil
}

func checkShape(name string, t Tensor, batch, features, steps int) error {
	if t.Batch != batch || t.Features != features || t.Steps != steps {
		return fmt.Errorf("%s shape [%d,%d,%d], want [%d,%d,%d]",
			name, t.Batch, t.Features, t.Steps, batch, features, steps)
	}
	if len(t.Data) != batch*features*steps {
		return fmt.Errorf("%s has %d values, want %d", name, len(t.Data), batch*features*steps)
	}
	return nil
}
