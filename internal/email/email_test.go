package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

func TestSMTPSender_Send(t *testing.T) {
	var (
		gotAddr string
		gotAuth smtp.Auth
		gotFrom string
		gotTo   []string
		gotMsg  string
	)

	s := NewSMTPSender(SMTPConfig{
		Address:  "smtp.example.com:587",
		Username: "shop",
		Password: "secret",
		From:     "shop@example.com",
	})
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	}

	err := s.Send(context.Background(), Message{To: "ana@example.com", Subject: "Pedido recebido", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if gotAddr != "smtp.example.com:587" || gotFrom != "shop@example.com" {
		t.Errorf("unexpected envelope %s %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Errorf("unexpected recipients %v", gotTo)
	}
	if gotAuth == nil {
		t.Error("expected plain auth when a username is configured")
	}
	if s.cfg.Host != "smtp.example.com" {
		t.Errorf("expected host derived from address, got %q", s.cfg.Host)
	}
	for _, want := range []string{"To: ana@example.com\r\n", "Content-Type: text/html", "\r\n\r\n<p>hi</p>"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestSMTPSender_SendError(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Address: "localhost:25", From: "shop@example.com"})
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	if err := s.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Error("expected error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, Message{To: "a@example.com"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRender(t *testing.T) {
	t.Run("order created", func(t *testing.T) {
		body, err := Render("order_created.html", domain.OrderCreatedEvent{
			OrderID:      42,
			CustomerName: "Ana <script>",
			Items: []domain.OrderItem{
				{ProductName: "Notebook", Quantity: 2, Price: decimal.RequireFromString("10.5")},
			},
			Total:     decimal.RequireFromString("21"),
			Timestamp: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Render() error: %v", err)
		}
		for _, want := range []string{"#42", "Notebook", "R$ 10.50", "R$ 21.00", "01/03/2024 14:30", "Ana &lt;script&gt;"} {
			if !strings.Contains(body, want) {
				t.Errorf("body missing %q", want)
			}
		}
	})

	t.Run("payment status", func(t *testing.T) {
		body, err := Render("payment_status.html", domain.PaymentStatusChangedEvent{
			OrderID:       7,
			CustomerName:  "Ana",
			PaymentStatus: domain.PaymentStatusCancelled,
			OrderStatus:   domain.OrderStatusCancelled,
		})
		if err != nil {
			t.Fatalf("Render() error: %v", err)
		}
		if !strings.Contains(body, "was cancelled because the payment was cancelled") {
			t.Errorf("unexpected body:\n%s", body)
		}
	})

	t.Run("unknown template", func(t *testing.T) {
		if _, err := Render("missing.html", nil); err == nil {
			t.Error("expected error")
		}
	})
}
