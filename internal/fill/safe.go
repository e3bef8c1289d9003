package fill

import (
	"fmt"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/orders"
)

// SafeEvaluate runs model.Evaluate, converting panics and errors into a
// fill_evaluation error. A failed evaluation is never a fill.
func SafeEvaluate(model Model, snap Snapshot, order orders.Order) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = Decision{}
			err = errs.New("fill", errs.CodeFillEvaluation,
				errs.WithMessage(fmt.Sprintf("fill model panic: %v", r)),
				errs.WithField("order_id", fmt.Sprint(order.ID)))
		}
	}()
	if model == nil {
		return Decision{}, errs.New("fill", errs.CodeFillEvaluation, errs.WithMessage("nil fill model"))
	}
	decision, err = model.Evaluate(snap, order)
	if err != nil {
		if !errs.Is(err, errs.CodeFillEvaluation) {
			err = errs.New("fill", errs.CodeFillEvaluation, errs.WithCause(err))
		}
		return Decision{}, err
	}
	if decision.Filled && decision.Quantity == 0 {
		decision.Quantity = order.Quantity
	}
	return decision, nil
}
