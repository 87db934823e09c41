package domain

// PaymentStatus is the transaction status code reported by PagSeguro.
// The empty value means no notification has been received yet.
type PaymentStatus string

const (
	PaymentStatusNone              PaymentStatus = ""
	PaymentStatusAwaitingPayment   PaymentStatus = "1"
	PaymentStatusInAnalysis        PaymentStatus = "2"
	PaymentStatusPaid              PaymentStatus = "3"
	PaymentStatusAvailable         PaymentStatus = "4"
	PaymentStatusInDispute         PaymentStatus = "5"
	PaymentStatusReturned          PaymentStatus = "6"
	PaymentStatusCancelled         PaymentStatus = "7"
	PaymentStatusDebited           PaymentStatus = "8"
	PaymentStatusTemporaryRetained PaymentStatus = "9"
)

var paymentStatusRank = map[PaymentStatus]int{
	PaymentStatusNone:              0,
	PaymentStatusAwaitingPayment:   1,
	PaymentStatusInAnalysis:        2,
	PaymentStatusPaid:              3,
	PaymentStatusAvailable:         4,
	PaymentStatusInDispute:         4,
	PaymentStatusTemporaryRetained: 4,
	PaymentStatusReturned:          5,
	PaymentStatusCancelled:         5,
	PaymentStatusDebited:           5,
}

var paymentStatusLabel = map[PaymentStatus]string{
	PaymentStatusNone:              "not started",
	PaymentStatusAwaitingPayment:   "awaiting payment",
	PaymentStatusInAnalysis:        "in analysis",
	PaymentStatusPaid:              "paid",
	PaymentStatusAvailable:         "available",
	PaymentStatusInDispute:         "in dispute",
	PaymentStatusReturned:          "returned",
	PaymentStatusCancelled:         "cancelled",
	PaymentStatusDebited:           "debited",
	PaymentStatusTemporaryRetained: "temporarily retained",
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentStatusRank[s]
	return ok && s != PaymentStatusNone
}

// Rank orders statuses along the transaction lifecycle. Statuses sharing a
// rank may replace each other; a lower rank never replaces a higher one.
func (s PaymentStatus) Rank() int {
	return paymentStatusRank[s]
}

func (s PaymentStatus) String() string {
	if label, ok := paymentStatusLabel[s]; ok {
		return label
	}
	return "unknown (" + string(s) + ")"
}

// OrderStatus maps the gateway status onto the order lifecycle.
func (s PaymentStatus) OrderStatus() OrderStatus {
	switch s {
	case PaymentStatusPaid, PaymentStatusAvailable:
		return OrderStatusCompleted
	case PaymentStatusReturned, PaymentStatusCancelled, PaymentStatusDebited:
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
