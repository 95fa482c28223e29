// Package errors provides the error taxonomy shared by every stage of a run.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes.
const (
	CodeInvalidDigit  = "INVALID_DIGIT"
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodeModelFailure  = "MODEL_FAILURE"
	CodeGeneration    = "GENERATION_ERROR"
	CodeEncoding      = "ENCODING_ERROR"
	CodeShard         = "SHARD_ERROR"
	CodeEvaluation    = "EVALUATION_ERROR"
)

// Stages of a run, used to tell the operator where a failure happened.
const (
	StageConfig     = "config"
	StageGeneration = "generation"
	StageEncoding   = "encoding"
	StageTraining   = "training"
	StagePrediction = "prediction"
	StageEvaluation = "evaluation"
)

// AppError represents an application error with code, stage and details.
type AppError struct {
	Code    string
	Stage   string
	Message string
	Details map[string]string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	prefix := e.Code
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Code, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithStage records the stage the error was raised in.
func (e *AppError) WithStage(stage string) *AppError {
	e.Stage = stage
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// InvalidDigitError reports a value outside [0,9] handed to the digit codec.
func InvalidDigitError(d int) *AppError {
	return New(CodeInvalidDigit, fmt.Sprintf("digit %d outside [0,9]", d)).
		WithStage(StageEncoding).
		WithDetail("digit", fmt.Sprintf("%d", d))
}

// ConfigurationError reports inconsistent or unusable settings.
func ConfigurationError(message string) *AppError {
	return New(CodeConfiguration, message).WithStage(StageConfig)
}

// ModelFailure reports an error or non-finite value coming out of the model.
func ModelFailure(stage, message string, err error) *AppError {
	return Wrap(CodeModelFailure, message, err).WithStage(stage)
}

// GenerationError reports a failure while drawing problems.
func GenerationError(message string, err error) *AppError {
	return Wrap(CodeGeneration, message, err).WithStage(StageGeneration)
}

// EncodingError reports a failure while building batch tensors.
func EncodingError(message string, err error) *AppError {
	return Wrap(CodeEncoding, message, err).WithStage(StageEncoding)
}

// ShardError reports a malformed or unreadable problem shard.
func ShardError(message string, err error) *AppError {
	return Wrap(CodeShard, message, err).WithStage(StageEvaluation)
}

// EvaluationError reports predictions that cannot be scored.
func EvaluationError(message string) *AppError {
	return New(CodeEvaluation, message).WithStage(StageEvaluation)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsInvalidDigit checks if err is, or wraps, an invalid digit error.
func IsInvalidDigit(err error) bool {
	return hasCode(err, CodeInvalidDigit)
}

// IsConfiguration checks if err is, or wraps, a configuration error.
func IsConfiguration(err error) bool {
	return hasCode(err, CodeConfiguration)
}

// IsModelFailure checks if err is, or wraps, a model failure.
func IsModelFailure(err error) bool {
	return hasCode(err, CodeModelFailure)
}

// StageOf returns the stage of the outermost AppError in err's chain.
func StageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Stage
	}
	return ""
}
