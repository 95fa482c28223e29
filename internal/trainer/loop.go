package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"addition-rnn/internal/codec"
	"addition-rnn/internal/dataset"
	"addition-rnn/internal/evaluate"
	"addition-rnn/internal/metrics"
	"addition-rnn/internal/model"
	apperrors "addition-rnn/internal/pkg/errors"
	"addition-rnn/internal/pkg/logger"
)

// Evaluation decoding modes.
const (
	DecodingGreedy  = codec.DecodingGreedy
	DecodingTeacher = codec.DecodingTeacher
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	NumDigits         int
	FeatureVectorSize int
	BatchSize         int
	TotalBatches      int
	Epochs            int
	HiddenSize        int
	TestSize          int
	LearningRate      float64
	LogEvery          int
	Seed              int64
	EvalDecoding      string
	// TestSet, when set, replaces the per-epoch held-out draw.
	TestSet []dataset.Problem
}

// State is the lifecycle of a Loop.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Loop drives epochs of training and evaluation over one model.
type Loop struct {
	cfg      RunConfig
	model    model.Model
	gen      *dataset.Generator
	trainEnc *dataset.Encoder
	evalEnc  *dataset.Encoder
	eval     *evaluate.Evaluator
	out      io.Writer
	log      *logger.Logger
	window   metrics.Window
	state    State
	epoch    int
}

// Run configures the encoder-decoder model and executes the training workload.
func Run(ctx context.Context, cfg RunConfig, out io.Writer, log *logger.Logger) ([]evaluate.Report, error) {
	loop, err := newLoop(cfg, out, log)
	if err != nil {
		return nil, err
	}

	mdl, err := model.Configure(
		model.EncoderSpec{Features: cfg.FeatureVectorSize, Steps: loop.evalEnc.TimeSteps(), Hidden: cfg.HiddenSize},
		model.DecoderSpec{Features: cfg.FeatureVectorSize, Steps: loop.evalEnc.DecoderSteps(), Hidden: cfg.HiddenSize},
		model.OutputSpec{Classes: cfg.FeatureVectorSize},
		model.Options{LearningRate: cfg.LearningRate, Seed: cfg.Seed},
	)
	if err != nil {
		return nil, err
	}
	loop.log.Info("model configured", "params", mdl.NumParams(), "hidden", cfg.HiddenSize)

	loop.model = mdl
	return loop.Run(ctx)
}

// NewLoop validates cfg and wires the generator, encoders and evaluator
// around mdl. A fixed test set that does not fit NumDigits is rejected here,
// before any training step.
func NewLoop(cfg RunConfig, mdl model.Model, out io.Writer, log *logger.Logger) (*Loop, error) {
	if mdl == nil {
		return nil, apperrors.ConfigurationError("trainer: model is nil")
	}
	l, err := newLoop(cfg, out, log)
	if err != nil {
		return nil, err
	}
	l.model = mdl
	return l, nil
}

func newLoop(cfg RunConfig, out io.Writer, log *logger.Logger) (*Loop, error) {
	if cfg.Epochs <= 0 {
		return nil, apperrors.ConfigurationError("trainer: epochs must be > 0")
	}
	if cfg.TestSize <= 0 && len(cfg.TestSet) == 0 {
		return nil, apperrors.ConfigurationError("trainer: test size must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 100
	}
	switch cfg.EvalDecoding {
	case "":
		cfg.EvalDecoding = DecodingGreedy
	case DecodingGreedy, DecodingTeacher:
	default:
		return nil, apperrors.ConfigurationError(fmt.Sprintf("trainer: unknown eval decoding %q", cfg.EvalDecoding))
	}
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = logger.Discard()
	}

	c, err := codec.New(cfg.FeatureVectorSize)
	if err != nil {
		return nil, err
	}
	if cfg.NumDigits < 1 || cfg.NumDigits > codec.MaxDigits {
		return nil, apperrors.ConfigurationError(
			fmt.Sprintf("trainer: num_digits must be in [1,%d] (got %d)", codec.MaxDigits, cfg.NumDigits))
	}
	for i, p := range cfg.TestSet {
		if err := codec.Fits(p.A, p.B, p.Sum, cfg.NumDigits); err != nil {
			return nil, apperrors.ConfigurationError(
				fmt.Sprintf("trainer: test problem %d (%s=%d) does not fit num_digits %d: %v", i, p, p.Sum, cfg.NumDigits, err))
		}
	}
	gen, err := dataset.NewGenerator(dataset.GeneratorOptions{
		NumDigits:    cfg.NumDigits,
		BatchSize:    cfg.BatchSize,
		TotalBatches: cfg.TotalBatches,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	trainEnc, err := dataset.NewEncoder(c, cfg.NumDigits, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	evalEnc, err := dataset.NewEncoder(c, cfg.NumDigits, 0)
	if err != nil {
		return nil, err
	}

	return &Loop{
		cfg:      cfg,
		gen:      gen,
		trainEnc: trainEnc,
		evalEnc:  evalEnc,
		eval:     evaluate.New(cfg.NumDigits, out),
		out:      out,
		log:      log,
	}, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return l.state
}

// Epoch returns the number of completed epochs.
func (l *Loop) Epoch() int {
	return l.epoch
}

// Run trains for the configured number of epochs and returns one report per
// completed epoch. Any failure halts the run; the failed epoch produces no
// report.
func (l *Loop) Run(ctx context.Context) ([]evaluate.Report, error) {
	if l.state != StateIdle {
		return nil, fmt.Errorf("trainer: loop is %s", l.state)
	}
	l.state = StateRunning

	reports := make([]evaluate.Report, 0, l.cfg.Epochs)
	for l.epoch < l.cfg.Epochs {
		log := l.log.WithEpoch(l.epoch)
		fmt.Fprintf(l.out, "%s EPOCH %d %s\n", banner, l.epoch, banner)

		if err := l.trainEpoch(ctx, log); err != nil {
			return reports, l.fail(log, err)
		}
		report, err := l.evaluateEpoch(ctx)
		if err != nil {
			return reports, l.fail(log, err)
		}
		log.Info("epoch evaluated",
			"correct", report.Correct,
			"wrong", report.Wrong,
			"accuracy_pct", report.Accuracy(),
			"baseline_pct", report.BaselinePercent,
		)
		reports = append(reports, report)

		l.gen.Reset()
		l.epoch++
	}

	fmt.Fprintf(l.out, "%s EPOCH %d COMPLETE %s\n", banner, l.epoch, banner)
	l.state = StateDone
	return reports, nil
}

var banner = strings.Repeat("* = ", 9) + "*"

func (l *Loop) fail(log *logger.Logger, err error) error {
	l.state = StateFailed
	if !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("run halted", "stage", apperrors.StageOf(err))
	}
	return fmt.Errorf("epoch %d: %w", l.epoch, err)
}

func (l *Loop) trainEpoch(ctx context.Context, log *logger.Logger) error {
	for l.gen.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}

		startData := time.Now()
		problems, err := l.gen.Next()
		if err != nil {
			return err
		}
		batch, err := l.trainEnc.Encode(problems)
		if err != nil {
			return err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := l.model.TrainStep(batch)
		if err != nil {
			return asModelFailure(apperrors.StageTraining, "train step", err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return apperrors.ModelFailure(apperrors.StageTraining, "train step", fmt.Errorf("non-finite loss %v", loss))
		}
		computeTime := time.Since(startCompute)

		l.window.Record(len(problems), dataTime, computeTime, loss)

		if step := l.window.Steps(); step%l.cfg.LogEvery == 0 {
			snap := l.window.Snapshot()
			log.Info("training progress",
				"step", step,
				"problems_per_sec", snap.ProblemsPerSec,
				"data_ms", snap.AvgDataMS,
				"compute_ms", snap.AvgComputeMS,
				"mean_loss", snap.MeanLoss,
				"loss", snap.LastLoss,
			)
		}
	}
	return nil
}

func (l *Loop) evaluateEpoch(ctx context.Context) (evaluate.Report, error) {
	if err := ctx.Err(); err != nil {
		return evaluate.Report{}, err
	}

	problems := l.cfg.TestSet
	if len(problems) == 0 {
		var err error
		problems, err = l.gen.GenerateTest(l.cfg.TestSize)
		if err != nil {
			return evaluate.Report{}, err
		}
	}

	var predictions model.Tensor
	var err error
	if l.cfg.EvalDecoding == DecodingTeacher {
		predictions, err = l.predictTeacherForced(problems)
	} else {
		predictions, err = l.predictGreedy(problems)
	}
	if err != nil {
		return evaluate.Report{}, err
	}

	return l.eval.Score(predictions, problems)
}

// predictTeacherForced feeds the true shifted sums as decoder input.
func (l *Loop) predictTeacherForced(problems []dataset.Problem) (model.Tensor, error) {
	batch, err := l.evalEnc.Encode(problems)
	if err != nil {
		return model.Tensor{}, err
	}
	out, err := l.model.Predict(batch.EncoderInput, batch.DecoderInput)
	if err != nil {
		return model.Tensor{}, asModelFailure(apperrors.StagePrediction, "predict", err)
	}
	return out, nil
}

// predictGreedy decodes one step at a time, feeding each step's arg-max
// class back as the next decoder input.
func (l *Loop) predictGreedy(problems []dataset.Problem) (model.Tensor, error) {
	enc, dec, err := l.evalEnc.EncodeInputs(problems)
	if err != nil {
		return model.Tensor{}, err
	}
	return greedyDecode(l.model, l.evalEnc, enc, dec)
}

func greedyDecode(mdl model.Model, enc *dataset.Encoder, encoderInput, decoderInput model.Tensor) (model.Tensor, error) {
	steps := decoderInput.Steps
	for t := 0; ; t++ {
		out, err := mdl.Predict(encoderInput, decoderInput)
		if err != nil {
			return model.Tensor{}, asModelFailure(apperrors.StagePrediction, "predict", err)
		}
		if t+1 >= steps {
			return out, nil
		}
		for b := 0; b < out.Batch; b++ {
			enc.SetDecoderStep(decoderInput, b, t+1, codec.DecodeFrame(out.Frame(b, t)))
		}
	}
}

func asModelFailure(stage, message string, err error) error {
	if apperrors.IsModelFailure(err) {
		return err
	}
	return apperrors.ModelFailure(stage, message, err)
}
