package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"addition-rnn/internal/codec"
	apperrors "addition-rnn/internal/pkg/errors"
)

// testSeedOffset separates the held-out stream from the training stream.
const testSeedOffset = 7919

// ErrEpochExhausted is returned by NextBatch once every batch of the epoch
// has been served and Reset has not been called.
var ErrEpochExhausted = errors.New("dataset: epoch exhausted")

// Problem is one addition example.
type Problem struct {
	A   int
	B   int
	Sum int
}

// String renders the problem as "A+B".
func (p Problem) String() string {
	return fmt.Sprintf("%d+%d", p.A, p.B)
}

// GeneratorOptions configures the problem generator.
type GeneratorOptions struct {
	NumDigits    int
	BatchSize    int
	TotalBatches int
	Seed         int64
	// TrainSource and TestSource replace the seeded sources when set.
	TrainSource rand.Source
	TestSource  rand.Source
}

// Generator draws random addition problems. Training batches and held-out
// problems come from two independent random streams.
type Generator struct {
	numDigits    int
	batchSize    int
	totalBatches int
	limit        int
	train        *rand.Rand
	test         *rand.Rand
	cursor       int
}

// NewGenerator validates opts and seeds both streams.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.NumDigits < 1 || opts.NumDigits > codec.MaxDigits {
		return nil, apperrors.ConfigurationError(
			fmt.Sprintf("generator: num_digits must be in [1,%d] (got %d)", codec.MaxDigits, opts.NumDigits))
	}
	if opts.BatchSize <= 0 {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("generator: batch size must be > 0 (got %d)", opts.BatchSize))
	}
	if opts.TotalBatches <= 0 {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("generator: total batches must be > 0 (got %d)", opts.TotalBatches))
	}
	if opts.TrainSource == nil {
		opts.TrainSource = rand.NewSource(opts.Seed)
	}
	if opts.TestSource == nil {
		opts.TestSource = rand.NewSource(opts.Seed + testSeedOffset)
	}

	limit := 1
	for i := 0; i < opts.NumDigits; i++ {
		limit *= 10
	}

	return &Generator{
		numDigits:    opts.NumDigits,
		batchSize:    opts.BatchSize,
		totalBatches: opts.TotalBatches,
		limit:        limit,
		train:        rand.New(opts.TrainSource),
		test:         rand.New(opts.TestSource),
	}, nil
}

// NumDigits is the operand width.
func (g *Generator) NumDigits() int {
	return g.numDigits
}

// TotalBatches is the number of batches per epoch.
func (g *Generator) TotalBatches() int {
	return g.totalBatches
}

// Cursor is the number of batches served since the last Reset.
func (g *Generator) Cursor() int {
	return g.cursor
}

// HasNext reports whether the current epoch has batches left.
func (g *Generator) HasNext() bool {
	return g.cursor < g.totalBatches
}

// Next returns the next batch of the configured size.
func (g *Generator) Next() ([]Problem, error) {
	return g.NextBatch(g.batchSize)
}

// NextBatch returns n training problems and advances the epoch cursor.
func (g *Generator) NextBatch(n int) ([]Problem, error) {
	if n <= 0 {
		return nil, apperrors.GenerationError(fmt.Sprintf("batch size must be > 0 (got %d)", n), nil)
	}
	if !g.HasNext() {
		return nil, apperrors.GenerationError(fmt.Sprintf("batch %d of %d", g.cursor+1, g.totalBatches), ErrEpochExhausted)
	}
	problems, err := g.draw(g.train, n)
	if err != nil {
		return nil, err
	}
	g.cursor++
	return problems, nil
}

// Reset rewinds the epoch cursor. The training stream is not reseeded, so
// the next epoch sees new problems.
func (g *Generator) Reset() {
	g.cursor = 0
}

// GenerateTest returns n held-out problems from the test stream. It never
// touches the training stream or the epoch cursor.
func (g *Generator) GenerateTest(n int) ([]Problem, error) {
	if n <= 0 {
		return nil, apperrors.GenerationError(fmt.Sprintf("test size must be > 0 (got %d)", n), nil)
	}
	return g.draw(g.test, n)
}

func (g *Generator) draw(rng *rand.Rand, n int) ([]Problem, error) {
	problems := make([]Problem, n)
	for i := range problems {
		a := rng.Intn(g.limit)
		b := rng.Intn(g.limit)
		p := Problem{A: a, B: b, Sum: a + b}
		if _, err := codec.Digits(p.Sum, codec.DecoderSteps(g.numDigits)); err != nil {
			return nil, apperrors.GenerationError(fmt.Sprintf("sum of %s overflows", p), err)
		}
		problems[i] = p
	}
	return problems, nil
}
