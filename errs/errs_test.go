package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonicalAndFields(t *testing.T) {
	err := New(
		"transactions",
		CodeValidation,
		WithMessage("order quantity is zero"),
		WithCanonicalCode(CanonicalZeroQuantity),
		WithField("symbol", "SPY"),
		WithField("order_id", "7"),
		WithCause(errors.New("rejected")),
	)

	out := err.Error()
	if !strings.Contains(out, "op=transactions") {
		t.Fatalf("expected op marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=validation") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=zero_quantity") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	if !strings.Contains(out, `fields=order_id="7",symbol="SPY"`) {
		t.Fatalf("expected sorted fields in error string: %s", out)
	}
	if !strings.Contains(out, `cause="rejected"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("fill", CodeFillEvaluation, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestIsWalksWrappedEnvelopes(t *testing.T) {
	inner := New("portfolio", CodeInsufficientCapital)
	outer := New("engine", CodeValidation, WithCause(fmt.Errorf("place: %w", inner)))

	if !Is(outer, CodeValidation) {
		t.Fatalf("expected outer code to match")
	}
	if !Is(outer, CodeInsufficientCapital) {
		t.Fatalf("expected wrapped code to match")
	}
	if Is(outer, CodeNotFound) {
		t.Fatalf("unexpected match for not_found")
	}
	if Is(errors.New("plain"), CodeValidation) {
		t.Fatalf("plain errors never match")
	}
}

func TestResultCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ResultCode
	}{
		{nil, 0},
		{New("t", CodeValidation, WithCanonicalCode(CanonicalZeroQuantity)), ResultZeroQuantity},
		{New("t", CodeValidation, WithCanonicalCode(CanonicalPriceUnavailable)), ResultNoData},
		{New("t", CodeValidation, WithCanonicalCode(CanonicalMarketClosed)), ResultMarketClosed},
		{New("t", CodeInsufficientCapital), ResultInsufficientFunds},
		{New("t", CodeValidation, WithCanonicalCode(CanonicalOrderLimitExceeded)), ResultOrderLimitExceeded},
		{New("t", CodeStateConflict, WithCanonicalCode(CanonicalAlreadyFilled)), ResultAlreadyFilled},
		{errors.New("boom"), ResultGeneral},
	}
	for _, tc := range cases {
		if got := ResultCodeOf(tc.err); got != tc.want {
			t.Fatalf("ResultCodeOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
