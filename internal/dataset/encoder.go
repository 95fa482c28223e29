package dataset

import (
	"fmt"

	"addition-rnn/internal/codec"
	"addition-rnn/internal/model"
	apperrors "addition-rnn/internal/pkg/errors"
)

// Encoder turns problems into model tensors.
//
// Encoder input, 2*numDigits+1 steps: digits of A, the "+" marker, digits of
// B, each zero-padded and most significant first.
//
// Decoder input, numDigits+1 steps: the blank start marker followed by the
// sum digits shifted right by one. Target: the sum digits, unshifted. For
// 12+7 with two-digit operands that is [blank,0,1] in and [0,1,9] out.
type Encoder struct {
	codec     *codec.Codec
	numDigits int
	maxBatch  int
}

// NewEncoder returns an encoder for numDigits-wide operands. A maxBatch of
// zero accepts any non-empty batch.
func NewEncoder(c *codec.Codec, numDigits, maxBatch int) (*Encoder, error) {
	if c == nil {
		return nil, apperrors.ConfigurationError("encoder: codec is nil")
	}
	if numDigits < 1 || numDigits > codec.MaxDigits {
		return nil, apperrors.ConfigurationError(
			fmt.Sprintf("encoder: num_digits must be in [1,%d] (got %d)", codec.MaxDigits, numDigits))
	}
	if maxBatch < 0 {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("encoder: max batch must be >= 0 (got %d)", maxBatch))
	}
	return &Encoder{codec: c, numDigits: numDigits, maxBatch: maxBatch}, nil
}

// Features is the one-hot frame width.
func (e *Encoder) Features() int {
	return e.codec.Width()
}

// TimeSteps is the encoder input length.
func (e *Encoder) TimeSteps() int {
	return codec.EncoderSteps(e.numDigits)
}

// DecoderSteps is the decoder input, target and output length.
func (e *Encoder) DecoderSteps() int {
	return codec.DecoderSteps(e.numDigits)
}

// Encode builds the encoder input, teacher-forced decoder input and target.
func (e *Encoder) Encode(problems []Problem) (model.Batch, error) {
	enc, err := e.encodeOperands(problems)
	if err != nil {
		return model.Batch{}, err
	}

	steps := e.DecoderSteps()
	dec := model.NewTensor(len(problems), e.Features(), steps)
	target := model.NewTensor(len(problems), e.Features(), steps)
	for b, p := range problems {
		if p.A+p.B != p.Sum {
			return model.Batch{}, apperrors.EncodingError(fmt.Sprintf("problem %d: %s != %d", b, p, p.Sum), nil)
		}
		digits, err := codec.Digits(p.Sum, steps)
		if err != nil {
			return model.Batch{}, apperrors.EncodingError(fmt.Sprintf("problem %d: sum", b), err)
		}
		dec.SetFrame(b, 0, e.codec.EncodeBlank())
		for t, d := range digits {
			frame, err := e.codec.EncodeDigit(d)
			if err != nil {
				return model.Batch{}, apperrors.EncodingError(fmt.Sprintf("problem %d: sum", b), err)
			}
			target.SetFrame(b, t, frame)
			if t+1 < steps {
				dec.SetFrame(b, t+1, frame)
			}
		}
	}

	return model.Batch{EncoderInput: enc, DecoderInput: dec, Target: target}, nil
}

// EncodeInputs builds the encoder input and a decoder input holding only
// blank markers, the starting point for step-by-step decoding.
func (e *Encoder) EncodeInputs(problems []Problem) (model.Tensor, model.Tensor, error) {
	enc, err := e.encodeOperands(problems)
	if err != nil {
		return model.Tensor{}, model.Tensor{}, err
	}
	dec := model.NewTensor(len(problems), e.Features(), e.DecoderSteps())
	blank := e.codec.EncodeBlank()
	for b := range problems {
		for t := 0; t < dec.Steps; t++ {
			dec.SetFrame(b, t, blank)
		}
	}
	return enc, dec, nil
}

// SetDecoderStep writes class into step t of example b. Non-digit classes
// are written as the blank marker.
func (e *Encoder) SetDecoderStep(dec model.Tensor, b, t, class int) {
	frame, err := e.codec.EncodeDigit(class)
	if err != nil {
		frame = e.codec.EncodeBlank()
	}
	dec.SetFrame(b, t, frame)
}

func (e *Encoder) encodeOperands(problems []Problem) (model.Tensor, error) {
	n := len(problems)
	if n == 0 {
		return model.Tensor{}, apperrors.EncodingError("empty batch", nil)
	}
	if e.maxBatch > 0 && n > e.maxBatch {
		return model.Tensor{}, apperrors.EncodingError(fmt.Sprintf("batch of %d exceeds %d", n, e.maxBatch), nil)
	}

	enc := model.NewTensor(n, e.Features(), e.TimeSteps())
	for b, p := range problems {
		if err := e.writeOperand(enc, b, 0, p.A); err != nil {
			return model.Tensor{}, apperrors.EncodingError(fmt.Sprintf("problem %d: operand %d", b, p.A), err)
		}
		enc.SetFrame(b, e.numDigits, e.codec.EncodeOperator())
		if err := e.writeOperand(enc, b, e.numDigits+1, p.B); err != nil {
			return model.Tensor{}, apperrors.EncodingError(fmt.Sprintf("problem %d: operand %d", b, p.B), err)
		}
	}
	return enc, nil
}

func (e *Encoder) writeOperand(enc model.Tensor, b, offset, value int) error {
	digits, err := codec.Digits(value, e.numDigits)
	if err != nil {
		return err
	}
	for i, d := range digits {
		frame, err := e.codec.EncodeDigit(d)
		if err != nil {
			return err
		}
		enc.SetFrame(b, offset+i, frame)
	}
	return nil
}
