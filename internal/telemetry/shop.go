package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "github.com/joao-fontenele/storefront"

// ShopMetrics holds the business counters. A nil *ShopMetrics records nothing.
type ShopMetrics struct {
	itemsAdded     metric.Int64Counter
	ordersCreated  metric.Int64Counter
	emptyCheckouts metric.Int64Counter
	notifications  metric.Int64Counter
}

func NewShopMetrics(meter metric.Meter) (*ShopMetrics, error) {
	itemsAdded, err := meter.Int64Counter("shop.cart.items_added",
		metric.WithDescription("Products added to a cart"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	ordersCreated, err := meter.Int64Counter("shop.orders.created",
		metric.WithDescription("Orders created at checkout"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	emptyCheckouts, err := meter.Int64Counter("shop.checkout.empty_cart",
		metric.WithDescription("Checkout attempts with an empty cart"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter("shop.payment.notifications",
		metric.WithDescription("Payment gateway notifications by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &ShopMetrics{
		itemsAdded:     itemsAdded,
		ordersCreated:  ordersCreated,
		emptyCheckouts: emptyCheckouts,
		notifications:  notifications,
	}, nil
}

func (m *ShopMetrics) CartItemAdded(ctx context.Context, created bool) {
	if m == nil {
		return
	}
	m.itemsAdded.Add(ctx, 1, metric.WithAttributes(attribute.Bool("created", created)))
}

func (m *ShopMetrics) OrderCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1)
}

func (m *ShopMetrics) EmptyCheckout(ctx context.Context) {
	if m == nil {
		return
	}
	m.emptyCheckouts.Add(ctx, 1)
}

func (m *ShopMetrics) PaymentNotification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
