// Package evaluate scores predicted sums against ground truth and prints the
// per-example and summary report.
package evaluate

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"addition-rnn/internal/codec"
	"addition-rnn/internal/dataset"
	"addition-rnn/internal/model"
	apperrors "addition-rnn/internal/pkg/errors"
)

// Report summarizes one evaluation pass.
type Report struct {
	Correct         int
	Wrong           int
	Total           int
	BaselinePercent float64
}

// Accuracy returns the share of correct predictions in percent.
func (r Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return 100 * float64(r.Correct) / float64(r.Total)
}

// BaselinePercent is the chance of guessing every output digit
// uniformly at random, in percent.
func BaselinePercent(numDigits int) float64 {
	return math.Pow(10, -float64(codec.DecoderSteps(numDigits))) * 100
}

// Evaluator decodes predictions and compares them with the true sums.
type Evaluator struct {
	numDigits int
	out       io.Writer
}

// New returns an evaluator that writes its report to out. A nil out
// discards the report.
func New(numDigits int, out io.Writer) *Evaluator {
	if out == nil {
		out = io.Discard
	}
	return &Evaluator{numDigits: numDigits, out: out}
}

// Correct reports whether a decoded prediction matches sum. Predictions with
// any non-digit class are wrong even if the remaining digits match.
func Correct(dec codec.Decoded, sum int) bool {
	return dec.Clean && dec.Text == strconv.Itoa(sum)
}

// Score decodes predictions, one example per problem, and writes one line
// per example followed by the summary.
func (e *Evaluator) Score(predictions model.Tensor, problems []dataset.Problem) (Report, error) {
	if predictions.Batch != len(problems) {
		return Report{}, apperrors.EvaluationError(
			fmt.Sprintf("%d predictions for %d problems", predictions.Batch, len(problems)))
	}
	if want := codec.DecoderSteps(e.numDigits); predictions.Steps != want {
		return Report{}, apperrors.EvaluationError(
			fmt.Sprintf("predictions have %d steps, want %d", predictions.Steps, want))
	}

	report := Report{Total: len(problems), BaselinePercent: BaselinePercent(e.numDigits)}
	var lines strings.Builder
	for i, p := range problems {
		dec := codec.DecodeSequence(predictions.Frames(i))
		if Correct(dec, p.Sum) {
			report.Correct++
			fmt.Fprintf(&lines, "%s==%s\n", p, dec.Text)
			continue
		}
		report.Wrong++
		if dec.Clean {
			fmt.Fprintf(&lines, "%s!=%s, should==%d\n", p, dec.Text, p.Sum)
		} else {
			fmt.Fprintf(&lines, "%s!=%s, should==%d (raw %q)\n", p, dec.Text, p.Sum, dec.Raw)
		}
	}

	fmt.Fprintln(&lines, strings.Repeat("*=", 40))
	fmt.Fprintf(&lines, "WRONG: %d\n", report.Wrong)
	fmt.Fprintf(&lines, "CORRECT: %d\n", report.Correct)
	fmt.Fprintf(&lines, "ACCURACY: %.2f%%\n", report.Accuracy())
	fmt.Fprintf(&lines, "Randomly guessing %d digits in succession is right %g%% of the time\n\n",
		codec.DecoderSteps(e.numDigits), report.BaselinePercent)

	if _, err := io.WriteString(e.out, lines.String()); err != nil {
		return report, fmt.Errorf("write report: %w", err)
	}
	return report, nil
}
