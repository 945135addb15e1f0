package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "save order")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", err.Code())
	}
}

func TestAsUnwrapsThroughFmt(t *testing.T) {
	inner := New(CodeInsufficientStock, "sku depleted")
	outer := fmt.Errorf("handling event: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error through wrapping")
	}
	if typed.Code() != CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %s", typed.Code())
	}
}

func TestMetadataForUnknownCode(t *testing.T) {
	meta := MetadataFor(Code("bogus"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown codes should map to internal, got %d", meta.HTTPStatus)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", New(CodeValidation, "bad input"), false},
		{"lock timeout", New(CodeLockTimeout, "lease busy"), true},
		{"insufficient stock", New(CodeInsufficientStock, "depleted"), false},
		{"untyped", stdErrors.New("socket closed"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeSkuNotFound, "missing"))
	if !HasCode(err, CodeSkuNotFound) {
		t.Fatal("expected HasCode to match wrapped code")
	}
	if HasCode(err, CodeValidation) {
		t.Fatal("expected HasCode to reject other codes")
	}
}
