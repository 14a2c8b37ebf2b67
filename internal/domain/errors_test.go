package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestProcessingErrorRetryClassification(t *testing.T) {
	if IsRetryable(NonRetryable("connection is revoked")) {
		t.Fatal("non-retryable error classified as retryable")
	}
	if !IsRetryable(Retryable("fetch activities", errors.New("timeout"))) {
		t.Fatal("retryable error classified as non-retryable")
	}
	// Unknown errors default to retryable.
	if !IsRetryable(errors.New("something else")) {
		t.Fatal("unknown error should default to retryable")
	}
}

func TestProcessingErrorUnwrap(t *testing.T) {
	cause := errors.New("upstream 503")
	err := Retryable("fetch activities", cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable")
	}

	wrapped := fmt.Errorf("dispatch: %w", err)
	if !IsRetryable(wrapped) {
		t.Fatal("classification should survive wrapping")
	}

	var pe *ProcessingError
	if !errors.As(wrapped, &pe) {
		t.Fatal("ProcessingError not reachable through wrapping")
	}
	if pe.Reason != "fetch activities" {
		t.Fatalf("unexpected reason %q", pe.Reason)
	}
}

func TestValidationError(t *testing.T) {
	err := Invalid("provider", "unknown provider \"pebble\"")

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected ValidationError")
	}
	if ve.Field != "provider" {
		t.Fatalf("unexpected field %q", ve.Field)
	}
}

func TestProviderFlagKey(t *testing.T) {
	if got := ProviderFlagKey("garmin"); got != "provider.garmin" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestKnownProvider(t *testing.T) {
	for _, p := range KnownProviders() {
		if !KnownProvider(p) {
			t.Fatalf("provider %s should be known", p)
		}
	}
	if KnownProvider("pebble") {
		t.Fatal("unexpected provider accepted")
	}
}

func TestStaticFlags(t *testing.T) {
	flags := StaticFlags{"provider.garmin": true}
	if !flags.Enabled("provider.garmin") {
		t.Fatal("enabled flag reported off")
	}
	if flags.Enabled("provider.fitbit") {
		t.Fatal("missing flag reported on")
	}
}
