// Package codec converts between integers, digit sequences and one-hot
// frames over the class alphabet {0..9, +, blank}.
//
// Digit sequences are most-significant digit first and left-padded with the
// digit zero. Decoding never reverses.
package codec

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"

	apperrors "addition-rnn/internal/pkg/errors"
)

// Class indices of the alphabet.
const (
	NumDigitClasses = 10
	ClassOperator   = 10
	ClassBlank      = 11
	NumClasses      = 12
)

// MaxDigits is the widest operand whose sums stay inside a 32-bit int.
const MaxDigits = 8

const placeholder = ' '

// Evaluation decoding modes: greedy feeds each predicted digit back as the
// next decoder input, teacher feeds the true shifted sum.
const (
	DecodingGreedy  = "greedy"
	DecodingTeacher = "teacher"
)

// EncoderSteps is the encoder input length: both operands and the operator.
func EncoderSteps(numDigits int) int {
	return numDigits*2 + 1
}

// DecoderSteps is the decoder input, target and output length: one digit
// more than an operand.
func DecoderSteps(numDigits int) int {
	return numDigits + 1
}

// Fits reports whether a+b=sum is a consistent problem whose operands fit in
// numDigits digits and whose sum fits in DecoderSteps(numDigits).
func Fits(a, b, sum, numDigits int) error {
	if a+b != sum {
		return fmt.Errorf("codec: %d+%d != %d", a, b, sum)
	}
	if _, err := Digits(a, numDigits); err != nil {
		return err
	}
	if _, err := Digits(b, numDigits); err != nil {
		return err
	}
	_, err := Digits(sum, DecoderSteps(numDigits))
	return err
}

// Codec encodes frames of a fixed width. Widths above NumClasses are allowed;
// the extra classes are never produced by encoding and decode as placeholders.
type Codec struct {
	width int
}

// New returns a codec for frames of the given width.
func New(featureVectorSize int) (*Codec, error) {
	if featureVectorSize < NumClasses {
		return nil, apperrors.ConfigurationError(
			fmt.Sprintf("feature vector size %d cannot hold %d classes", featureVectorSize, NumClasses))
	}
	return &Codec{width: featureVectorSize}, nil
}

// Width is the frame length.
func (c *Codec) Width() int {
	return c.width
}

// OneHot returns a frame with only class set.
func (c *Codec) OneHot(class int) []float64 {
	frame := make([]float64, c.width)
	frame[class] = 1
	return frame
}

// EncodeDigit returns the frame for d.
func (c *Codec) EncodeDigit(d int) ([]float64, error) {
	if d < 0 || d > 9 {
		return nil, apperrors.InvalidDigitError(d)
	}
	return c.OneHot(d), nil
}

// EncodeOperator returns the frame for the "+" marker.
func (c *Codec) EncodeOperator() []float64 {
	return c.OneHot(ClassOperator)
}

// EncodeBlank returns the blank/start marker frame.
func (c *Codec) EncodeBlank() []float64 {
	return c.OneHot(ClassBlank)
}

// Digits splits n into exactly width decimal digits, most significant first.
func Digits(n, width int) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("codec: negative value %d", n)
	}
	out := make([]int, width)
	rest := n
	for i := width - 1; i >= 0; i-- {
		out[i] = rest % 10
		rest /= 10
	}
	if rest != 0 {
		return nil, fmt.Errorf("codec: %d does not fit in %d digits", n, width)
	}
	return out, nil
}

// DecodeFrame returns the arg-max class of a distribution. Ties go to the
// lowest index.
func DecodeFrame(dist []float64) int {
	if len(dist) == 0 {
		return -1
	}
	return floats.MaxIdx(dist)
}

// Decoded is the text form of a predicted sequence.
type Decoded struct {
	// Raw has one character per frame, placeholders included.
	Raw string
	// Text is Raw with placeholders removed and leading zeros trimmed.
	Text string
	// Clean is true when every frame decoded to a digit.
	Clean bool
}

// DecodeSequence decodes one distribution per time step.
func DecodeSequence(dists [][]float64) Decoded {
	var raw, digits strings.Builder
	clean := true
	for _, dist := range dists {
		class := DecodeFrame(dist)
		if class >= 0 && class < NumDigitClasses {
			ch := byte('0' + class)
			raw.WriteByte(ch)
			digits.WriteByte(ch)
			continue
		}
		raw.WriteByte(placeholder)
		clean = false
	}
	return Decoded{
		Raw:   raw.String(),
		Text:  canonical(digits.String()),
		Clean: clean,
	}
}

// DecodeString decodes dists to the canonical decimal text of the prediction.
func DecodeString(dists [][]float64) string {
	return DecodeSequence(dists).Text
}

func canonical(s string) string {
	if s == "" {
		return ""
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
