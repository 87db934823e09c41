package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/email"
	"github.com/joao-fontenele/storefront/internal/messaging"
)

// Handler turns order events into customer emails.
type Handler struct {
	sender email.Sender
	logger *slog.Logger
}

func NewHandler(sender email.Sender, logger *slog.Logger) *Handler {
	return &Handler{
		sender: sender,
		logger: logger,
	}
}

func (h *Handler) HandleOrderCreated(ctx context.Context, payload []byte) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal order created event: %w", err))
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "user_id", event.UserID)

	if event.CustomerEmail == "" {
		h.logger.Warn("order has no customer email, skipping", "order_id", event.OrderID)
		return nil
	}

	body, err := email.Render("order_created.html", event)
	if err != nil {
		return err
	}

	msg := email.Message{
		To:      event.CustomerEmail,
		Subject: fmt.Sprintf("Order #%d received", event.OrderID),
		HTML:    body,
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		h.logger.Error("failed to send order email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send order email: %w", err)
	}

	h.logger.Info("order email sent", "order_id", event.OrderID)
	return nil
}

func (h *Handler) HandlePaymentStatusChanged(ctx context.Context, payload []byte) error {
	var event domain.PaymentStatusChangedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal payment status event: %w", err))
	}

	h.logger.Info("processing payment status event",
		"order_id", event.OrderID,
		"payment_status", string(event.PaymentStatus),
		"order_status", event.OrderStatus,
	)

	// Intermediate statuses are not worth an email.
	if event.OrderStatus == domain.OrderStatusPending {
		return nil
	}

	if event.CustomerEmail == "" {
		h.logger.Warn("order has no customer email, skipping", "order_id", event.OrderID)
		return nil
	}

	body, err := email.Render("payment_status.html", event)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Payment confirmed for order #%d", event.OrderID)
	if event.OrderStatus == domain.OrderStatusCancelled {
		subject = fmt.Sprintf("Order #%d cancelled", event.OrderID)
	}

	if err := h.sender.Send(ctx, email.Message{To: event.CustomerEmail, Subject: subject, HTML: body}); err != nil {
		h.logger.Error("failed to send payment email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send payment email: %w", err)
	}

	h.logger.Info("payment email sent", "order_id", event.OrderID, "order_status", event.OrderStatus)
	return nil
}
