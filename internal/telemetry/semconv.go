package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by the engine's instruments.
const (
	AttrSymbol    = attribute.Key("symbol")
	AttrOrderType = attribute.Key("order.type")
	AttrReason    = attribute.Key("reason")

	// AttrState is the outcome of a supervised callback.
	AttrState    = attribute.Key("state")
	AttrCallback = attribute.Key("callback")

	AttrEnvironment = attribute.Key("environment")
)

// OrderAttributes labels order metrics.
func OrderAttributes(symbol, orderType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSymbol.String(symbol),
		AttrOrderType.String(orderType),
	}
}
