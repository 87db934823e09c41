package messaging

import "context"

const (
	TopicOrderCreated         = "order.created"
	TopicPaymentStatusChanged = "order.payment_status_changed"
)

// Publisher sends one event keyed for partitioning. *Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}
