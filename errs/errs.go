// Package errs provides the structured error envelope shared by the engine packages.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a failure category.
type Code string

const (
	// CodeValidation indicates that an order or request failed admission checks.
	CodeValidation Code = "validation"
	// CodeInsufficientCapital indicates the buying power check rejected an order.
	CodeInsufficientCapital Code = "insufficient_capital"
	// CodeStateConflict indicates an operation illegal for the current order status.
	CodeStateConflict Code = "state_conflict"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeFillEvaluation indicates a fill model failed while evaluating an order.
	CodeFillEvaluation Code = "fill_evaluation"
	// CodeResourceLimit indicates a supervised run exceeded its time or memory budget.
	CodeResourceLimit Code = "resource_limit"
	// CodeInvalid indicates malformed configuration or arguments.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the component is closed or not running.
	CodeUnavailable Code = "unavailable"
)

// CanonicalCode refines a Code with the precise reason.
type CanonicalCode string

const (
	CanonicalUnknown            CanonicalCode = "unknown"
	CanonicalZeroQuantity       CanonicalCode = "zero_quantity"
	CanonicalZeroPrice          CanonicalCode = "zero_price"
	CanonicalUnknownSymbol      CanonicalCode = "unknown_symbol"
	CanonicalPriceUnavailable   CanonicalCode = "price_unavailable"
	CanonicalMarketClosed       CanonicalCode = "market_closed"
	CanonicalOrderLimitExceeded CanonicalCode = "order_limit_exceeded"
	CanonicalTimestamp          CanonicalCode = "timestamp"
	CanonicalAlreadyFilled      CanonicalCode = "already_filled"
	CanonicalAlreadyCanceled    CanonicalCode = "already_canceled"
	CanonicalOrderNotFound      CanonicalCode = "order_not_found"
	CanonicalTimedOut           CanonicalCode = "timed_out"
	CanonicalMemoryExceeded     CanonicalCode = "memory_exceeded"
	CanonicalUnresponsive       CanonicalCode = "unresponsive"
	CanonicalCancelled          CanonicalCode = "cancelled"
)

// E captures structured error information produced across the engine.
type E struct {
	Op        string
	Code      Code
	Canonical CanonicalCode
	Message   string
	Fields    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:        strings.TrimSpace(op),
		Code:      code,
		Canonical: CanonicalUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the precise failure reason.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithField appends a single key/value pair of context.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 6)

	op := e.Op
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether err carries an envelope with the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *E
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// CanonicalOf returns the canonical code of the outermost envelope in err.
func CanonicalOf(err error) CanonicalCode {
	var e *E
	if errors.As(err, &e) {
		return e.Canonical
	}
	return CanonicalUnknown
}
