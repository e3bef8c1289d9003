package errs

// ResultCode is the numeric order result reported to strategies that expect
// integer return values. Successful placements report the order ID instead.
type ResultCode int

const (
	ResultZeroQuantity       ResultCode = -1
	ResultNoData             ResultCode = -2
	ResultMarketClosed       ResultCode = -3
	ResultInsufficientFunds  ResultCode = -4
	ResultOrderLimitExceeded ResultCode = -5
	ResultTimestamp          ResultCode = -6
	ResultGeneral            ResultCode = -7
	ResultAlreadyFilled      ResultCode = -8
)

// ResultCodeOf maps an error returned by order placement to its numeric code.
// A nil error maps to zero.
func ResultCodeOf(err error) ResultCode {
	if err == nil {
		return 0
	}
	if Is(err, CodeInsufficientCapital) {
		return ResultInsufficientFunds
	}
	switch CanonicalOf(err) {
	case CanonicalZeroQuantity, CanonicalZeroPrice:
		return ResultZeroQuantity
	case CanonicalUnknownSymbol, CanonicalPriceUnavailable:
		return ResultNoData
	case CanonicalMarketClosed:
		return ResultMarketClosed
	case CanonicalOrderLimitExceeded:
		return ResultOrderLimitExceeded
	case CanonicalTimestamp:
		return ResultTimestamp
	case CanonicalAlreadyFilled, CanonicalAlreadyCanceled:
		return ResultAlreadyFilled
	}
	return ResultGeneral
}
