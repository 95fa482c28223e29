package model

import (
	"math"
	"testing"

	apperrors "addition-rnn/internal/pkg/errors"
)

const (
	testFeatures = 12
	testEncSteps = 5
	testDecSteps = 3
)

func newTestModel(t *testing.T, seed int64) *Seq2Seq {
	t.Helper()
	m, err := Configure(
		EncoderSpec{Features: testFeatures, Steps: testEncSteps, Hidden: 8},
		DecoderSpec{Features: testFeatures, Steps: testDecSteps, Hidden: 8},
		OutputSpec{Classes: testFeatures},
		Options{LearningRate: 0.02, Seed: seed},
	)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return m
}

// sequence builds a one-hot tensor where classes[b][s] is the active class.
func sequence(classes [][]int, steps int) Tensor {
	out := NewTensor(len(classes), testFeatures, steps)
	for b, row := range classes {
		for s, c := range row {
			out.Set(b, c, s, 1)
		}
	}
	return out
}

func testBatch() Batch {
	// 12+7=019 and 45+38=083, blank start marker is class 11, "+" is 10.
	return Batch{
		EncoderInput: sequence([][]int{{1, 2, 10, 0, 7}, {4, 5, 10, 3, 8}}, testEncSteps),
		DecoderInput: sequence([][]int{{11, 0, 1}, {11, 0, 8}}, testDecSteps),
		Target:       sequence([][]int{{0, 1, 9}, {0, 8, 3}}, testDecSteps),
	}
}

func TestConfigureValidatesSpecs(t *testing.T) {
	tests := []struct {
		name string
		enc  EncoderSpec
		dec  DecoderSpec
		out  OutputSpec
	}{
		{"zero encoder hidden", EncoderSpec{12, 5, 0}, DecoderSpec{12, 3, 8}, OutputSpec{12}},
		{"zero decoder steps", EncoderSpec{12, 5, 8}, DecoderSpec{12, 0, 8}, OutputSpec{12}},
		{"zero classes", EncoderSpec{12, 5, 8}, DecoderSpec{12, 3, 8}, OutputSpec{0}},
		{"classes differ from decoder features", EncoderSpec{12, 5, 8}, DecoderSpec{12, 3, 8}, OutputSpec{11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Configure(tt.enc, tt.dec, tt.out, Options{})
			if !apperrors.IsConfiguration(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	m := newTestModel(t, 1)
	batch := testBatch()

	first, err := m.TrainStep(batch)
	if err != nil {
		t.Fatalf("TrainStep: %v", err)
	}
	last := first
	for i := 0; i < 50; i++ {
		last, err = m.TrainStep(batch)
		if err != nil {
			t.Fatalf("TrainStep %d: %v", i, err)
		}
	}
	if last >= first {
		t.Fatalf("expected loss to decrease; first=%f last=%f", first, last)
	}
}

func TestPredictReturnsDistributions(t *testing.T) {
	m := newTestModel(t, 2)
	batch := testBatch()

	out, err := m.Predict(batch.EncoderInput, batch.DecoderInput)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if out.Batch != 2 || out.Features != testFeatures || out.Steps != testDecSteps {
		t.Fatalf("unexpected shape [%d,%d,%d]", out.Batch, out.Features, out.Steps)
	}
	for b := 0; b < out.Batch; b++ {
		for s := 0; s < out.Steps; s++ {
			sum := 0.0
			for _, p := range out.Frame(b, s) {
				if p < 0 || p > 1 {
					t.Fatalf("probability out of range: %f", p)
				}
				sum += p
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Fatalf("distribution at b=%d s=%d sums to %f", b, s, sum)
			}
		}
	}
}

func TestPredictIsDeterministicForSeed(t *testing.T) {
	batch := testBatch()
	a, err := newTestModel(t, 9).Predict(batch.EncoderInput, batch.DecoderInput)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	b, err := newTestModel(t, 9).Predict(batch.EncoderInput, batch.DecoderInput)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("outputs differ at %d: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestDecoderIsCausal(t *testing.T) {
	m := newTestModel(t, 3)
	batch := testBatch()

	base, err := m.Predict(batch.EncoderInput, batch.DecoderInput)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	changed := batch.DecoderInput.Clone()
	frame := make([]float64, testFeatures)
	frame[5] = 1
	changed.SetFrame(0, testDecSteps-1, frame)

	out, err := m.Predict(batch.EncoderInput, changed)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for s := 0; s < testDecSteps-1; s++ {
		for f := 0; f < testFeatures; f++ {
			if out.At(0, f, s) != base.At(0, f, s) {
				t.Fatalf("step %d changed after editing a later decoder input", s)
			}
		}
	}
}

func TestTrainStepNonFiniteIsModelFailure(t *testing.T) {
	m := newTestModel(t, 4)
	batch := testBatch()
	batch.EncoderInput.Set(0, 0, 0, math.NaN())

	_, err := m.TrainStep(batch)
	if !apperrors.IsModelFailure(err) {
		t.Fatalf("expected ModelFailure, got %v", err)
	}
	if apperrors.StageOf(err) != apperrors.StageTraining {
		t.Fatalf("stage = %q, want %q", apperrors.StageOf(err), apperrors.StageTraining)
	}
}

func TestPredictNonFiniteIsModelFailure(t *testing.T) {
	m := newTestModel(t, 4)
	batch := testBatch()
	batch.EncoderInput.Set(1, 3, 2, math.NaN())

	_, err := m.Predict(batch.EncoderInput, batch.DecoderInput)
	if !apperrors.IsModelFailure(err) {
		t.Fatalf("expected ModelFailure, got %v", err)
	}
	if apperrors.StageOf(err) != apperrors.StagePrediction {
		t.Fatalf("stage = %q, want %q", apperrors.StageOf(err), apperrors.StagePrediction)
	}
}

func TestShapeMismatch(t *testing.T) {
	m := newTestModel(t, 5)
	batch := testBatch()
	batch.Target = NewTensor(2, testFeatures, testDecSteps+1)

	if _, err := m.TrainStep(batch); !apperrors.IsModelFailure(err) {
		t.Fatalf("expected ModelFailure for bad target shape, got %v", err)
	}
	if _, err := m.Predict(batch.EncoderInput, NewTensor(1, testFeatures, testDecSteps)); err == nil {
		t.Fatal("expected error for decoder batch mismatch")
	}
}

func TestNumParams(t *testing.T) {
	m := newTestModel(t, 6)
	// encoder 8x12 + 8x8 + 8, decoder 8x20 + 8x8 + 8, output 12x8 + 12
	want := 96 + 64 + 8 + 160 + 64 + 8 + 96 + 12
	if got := m.NumParams(); got != want {
		t.Fatalf("NumParams() = %d, want %d", got, want)
	}
}
