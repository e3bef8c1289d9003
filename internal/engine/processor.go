package engine

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/telemetry"
	"github.com/coachpo/quantcore/internal/transactions"
)

// Processor evaluates queued orders against the latest market snapshots and
// books fills. It is the only writer of holdings; cycles never overlap.
type Processor struct {
	tx        *transactions.Manager
	portfolio *portfolio.Portfolio
	logger    *zap.Logger

	mu sync.Mutex

	fills    metric.Int64Counter
	failures metric.Int64Counter
}

// NewProcessor builds a processor over the context's order table and portfolio.
func NewProcessor(c Context) *Processor {
	p := &Processor{
		tx:        c.Transactions,
		portfolio: c.Portfolio,
		logger:    c.logger().Named("processor"),
	}
	meter := otel.Meter("engine")
	p.fills, _ = meter.Int64Counter("engine.fills",
		metric.WithDescription("Orders filled by the processor"),
		metric.WithUnit("{order}"))
	p.failures, _ = meter.Int64Counter("engine.fill.errors",
		metric.WithDescription("Fill evaluations that failed and will be retried"),
		metric.WithUnit("{evaluation}"))
	return p
}

// Exclusive runs fn while no cycle is in progress. The driver moves the
// market through it so a cycle never sees two different prices.
func (p *Processor) Exclusive(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// Cycle walks every symbol queue once, head to tail, and returns how many
// orders filled. Orders that do not fill stay queued for the next cycle.
func (p *Processor) Cycle(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	filled := 0
	for _, symbol := range p.tx.PendingSymbols() {
		for _, item := range p.tx.Queue(symbol) {
			if item.Cancel {
				if _, err := p.tx.CommitCancel(item); err != nil {
					p.logger.Debug("cancel discarded", zap.Int64("order_id", item.OrderID), zap.Error(err))
				}
				continue
			}
			order, ok := p.tx.Lookup(item)
			if !ok {
				p.tx.Discard(item)
				continue
			}
			if p.evaluate(ctx, item, order) {
				filled++
			}
		}
	}
	return filled
}

func (p *Processor) evaluate(ctx context.Context, item transactions.Item, order orders.Order) bool {
	sec, ok := p.portfolio.Security(order.Symbol)
	if !ok {
		return false
	}
	snap, ok := p.portfolio.Market(order.Symbol)
	if !ok {
		return false
	}
	decision, err := fill.SafeEvaluate(sec.Model, snap, order)
	if err != nil {
		p.failures.Add(ctx, 1, metric.WithAttributes(telemetry.AttrSymbol.String(order.Symbol)))
		p.logger.Warn("fill evaluation failed, retrying next cycle",
			zap.Int64("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		return false
	}
	if !decision.Filled {
		return false
	}

	fee := sec.Model.OrderFee(decision.Quantity, decision.Price)
	ev, err := p.tx.CommitFill(item, transactions.Fill{
		Price:    decision.Price,
		Quantity: decision.Quantity,
		Fee:      fee,
	}, func() error {
		_, err := p.portfolio.ApplyFill(order.Symbol, decision.Quantity, decision.Price, fee)
		return err
	})
	if err != nil {
		if errs.Is(err, errs.CodeStateConflict) {
			p.logger.Debug("fill discarded", zap.Int64("order_id", order.ID), zap.Error(err))
		} else {
			p.logger.Warn("fill not committed", zap.Int64("order_id", order.ID), zap.Error(err))
		}
		return false
	}
	p.fills.Add(ctx, 1, metric.WithAttributes(telemetry.OrderAttributes(ev.Symbol, string(order.Type))...))
	p.logger.Debug("order filled",
		zap.Int64("order_id", ev.OrderID),
		zap.String("symbol", ev.Symbol),
		zap.Int64("quantity", ev.FillQuantity),
		zap.String("price", ev.FillPrice.String()),
		zap.String("fee", ev.Fee.String()))
	return true
}

// Run cycles whenever the order table signals new work, until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.tx.Wake():
			p.Cycle(ctx)
		}
	}
}
