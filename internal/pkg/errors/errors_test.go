package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without stage",
			err:  New(CodeConfiguration, "bad width"),
			want: "CONFIGURATION_ERROR: bad width",
		},
		{
			name: "with stage",
			err:  ConfigurationError("bad width"),
			want: "CONFIGURATION_ERROR [config]: bad width",
		},
		{
			name: "with wrapped error",
			err:  ModelFailure(StageTraining, "train step", errors.New("loss is NaN")),
			want: "MODEL_FAILURE [training]: train step: loss is NaN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeGeneration, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
}

func TestInvalidDigitError(t *testing.T) {
	err := InvalidDigitError(12)
	if err.Stage != StageEncoding {
		t.Errorf("Stage = %s, want %s", err.Stage, StageEncoding)
	}
	if err.Details["digit"] != "12" {
		t.Errorf("Details[digit] = %s, want 12", err.Details["digit"])
	}
}

func TestPredicatesFollowChain(t *testing.T) {
	digit := InvalidDigitError(-1)
	wrapped := EncodingError("encode batch", digit)
	outer := fmt.Errorf("epoch 3: %w", wrapped)

	if !IsInvalidDigit(outer) {
		t.Error("IsInvalidDigit(wrapped chain) = false, want true")
	}
	if IsModelFailure(outer) {
		t.Error("IsModelFailure(encoding chain) = true, want false")
	}
	if got := StageOf(outer); got != StageEncoding {
		t.Errorf("StageOf() = %q, want %q", got, StageEncoding)
	}

	if !IsConfiguration(ConfigurationError("x")) {
		t.Error("IsConfiguration(ConfigurationError) = false, want true")
	}
	if !IsModelFailure(ModelFailure(StagePrediction, "x", nil)) {
		t.Error("IsModelFailure(ModelFailure) = false, want true")
	}
	if IsConfiguration(errors.New("standard error")) {
		t.Error("IsConfiguration(standard error) = true, want false")
	}
	if StageOf(errors.New("standard error")) != "" {
		t.Error("StageOf(standard error) should be empty")
	}
}
