package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/pagseguro"
	"github.com/joao-fontenele/storefront/internal/session"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const (
	PageSize = 10

	CartPath         = "/checkout/cart"
	NotificationPath = "/checkout/pagseguro/notification"

	msgEmptyCart = "There are no items in the cart"
)

type Store interface {
	CreateFromCart(ctx context.Context, userID int64, cartKey string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Order, int, error)
	GetForUser(ctx context.Context, userID, id int64) (*domain.Order, error)
	SetPaymentOption(ctx context.Context, userID, id int64, option domain.PaymentOption) error
	ApplyPaymentStatus(ctx context.Context, id int64, status domain.PaymentStatus) (ReconcileResult, *domain.Order, error)
}

type Users interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type Gateway interface {
	Checkout(ctx context.Context, req pagseguro.CheckoutRequest) (*pagseguro.CheckoutResponse, error)
	CheckNotification(ctx context.Context, code string) (*pagseguro.Notification, error)
}

type Handler struct {
	store    Store
	users    Users
	gateway  Gateway
	sessions *session.Manager
	logger   *slog.Logger

	orderCreated   messaging.Publisher
	paymentChanged messaging.Publisher
	metrics        *telemetry.ShopMetrics
	baseURL        string
}

type Option func(*Handler)

// WithPublishers sets where order events go. Without it no events are sent.
func WithPublishers(orderCreated, paymentChanged messaging.Publisher) Option {
	return func(h *Handler) {
		h.orderCreated = orderCreated
		h.paymentChanged = paymentChanged
	}
}

func WithMetrics(m *telemetry.ShopMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithBaseURL fixes the scheme and host of the URLs handed to the gateway.
// Without it they are derived from the incoming request.
func WithBaseURL(baseURL string) Option {
	return func(h *Handler) {
		h.baseURL = baseURL
	}
}

// NewHandler builds the checkout handlers. gateway may be nil when PagSeguro
// is not configured.
func NewHandler(store Store, users Users, gateway Gateway, sessions *session.Manager, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		store:    store,
		users:    users,
		gateway:  gateway,
		sessions: sessions,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	var order *domain.Order
	err := ErrEmptyCart
	if cartKey := sess.Key(); cartKey != "" {
		order, err = h.store.CreateFromCart(r.Context(), sess.UserID(), cartKey)
	}

	if errors.Is(err, ErrEmptyCart) {
		h.metrics.EmptyCheckout(r.Context())
		sess.AddFlash(msgEmptyCart)
		if !h.saveSession(w, sess) {
			return
		}
		http.Redirect(w, r, CartPath, http.StatusSeeOther)
		return
	}

	if err != nil {
		h.logger.Error("failed to create order", "error", err, "user_id", sess.UserID())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.metrics.OrderCreated(r.Context())
	h.publishOrderCreated(r.Context(), order)

	h.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID, "total", order.Total.String())
	h.writeJSON(w, http.StatusCreated, order)
}

type listResponse struct {
	Orders      []domain.Order `json:"orders"`
	Page        int            `json:"page"`
	PageSize    int            `json:"page_size"`
	Total       int            `json:"total"`
	TotalPages  int            `json:"total_pages"`
	HasNext     bool           `json:"has_next"`
	HasPrevious bool           `json:"has_previous"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusNotFound, "invalid page")
			return
		}
		page = n
	}

	orders, total, err := h.store.ListByUser(r.Context(), sess.UserID(), PageSize, (page-1)*PageSize)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", sess.UserID())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	totalPages := (total + PageSize - 1) / PageSize
	if page > 1 && page > totalPages {
		h.writeError(w, http.StatusNotFound, "invalid page")
		return
	}

	h.writeJSON(w, http.StatusOK, listResponse{
		Orders:      orders,
		Page:        page,
		PageSize:    PageSize,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	if h.gateway == nil {
		h.writeError(w, http.StatusServiceUnavailable, "payment gateway not configured")
		return
	}

	user, err := h.users.GetByID(r.Context(), order.UserID)
	if err != nil {
		h.logger.Error("failed to get user", "error", err, "user_id", order.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.store.SetPaymentOption(r.Context(), order.UserID, order.ID, domain.PaymentOptionPagSeguro); err != nil {
		h.logger.Error("failed to set payment option", "error", err, "order_id", order.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	req := pagseguro.CheckoutRequest{
		Reference:       strconv.FormatInt(order.ID, 10),
		RedirectURL:     h.absoluteURL(r, "/checkout/orders/"+strconv.FormatInt(order.ID, 10)),
		NotificationURL: h.absoluteURL(r, NotificationPath),
	}
	if user != nil {
		req.SenderEmail = user.Email
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, pagseguro.Item{
			ID:          strconv.FormatInt(item.ProductID, 10),
			Description: item.ProductName,
			Amount:      item.Price,
			Quantity:    item.Quantity,
		})
	}

	resp, err := h.gateway.Checkout(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to start pagseguro checkout", "error", err, "order_id", order.ID)
		h.writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}

	h.logger.Info("pagseguro checkout started", "order_id", order.ID, "code", resp.Code)
	http.Redirect(w, r, resp.PaymentURL, http.StatusFound)
}

// HandleNotification receives PagSeguro transaction notifications. It always
// answers 200 OK; failures are logged and the order is left untouched.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	outcome := h.reconcile(r)
	h.metrics.PaymentNotification(r.Context(), outcome)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) reconcile(r *http.Request) string {
	ctx := r.Context()

	code := r.PostFormValue("notificationCode")
	if code == "" {
		return "ignored"
	}

	if h.gateway == nil {
		h.logger.Error("pagseguro notification received but gateway is not configured", "code", code)
		return "error"
	}

	notification, err := h.gateway.CheckNotification(ctx, code)
	if err != nil {
		h.logger.Error("failed to check pagseguro notification", "error", err, "code", code)
		return "gateway_error"
	}

	orderID, err := strconv.ParseInt(notification.Reference, 10, 64)
	if err != nil {
		h.logger.Warn("pagseguro notification with unknown reference", "reference", notification.Reference, "code", code)
		return "not_found"
	}

	if !notification.Status.Valid() {
		h.logger.Warn("pagseguro notification with unknown status", "status", string(notification.Status), "order_id", orderID)
		return "invalid_status"
	}

	result, order, err := h.store.ApplyPaymentStatus(ctx, orderID, notification.Status)
	if err != nil {
		h.logger.Error("failed to apply payment status", "error", err, "order_id", orderID, "status", string(notification.Status))
		return "error"
	}

	switch result {
	case ReconcileApplied:
		h.logger.Info("payment status updated",
			"order_id", orderID,
			"payment_status", string(order.PaymentStatus),
			"order_status", order.Status,
		)
		h.publishPaymentChanged(ctx, order)
	case ReconcileNotFound:
		h.logger.Warn("pagseguro notification for unknown order", "order_id", orderID, "code", code)
	default:
		h.logger.Info("payment status not applied",
			"result", result.String(),
			"order_id", orderID,
			"status", string(notification.Status),
		)
	}

	return result.String()
}

// ownedOrder resolves the {id} path value against the session user. Ids that
// are malformed, unknown or owned by another user all answer 404.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	sess := session.FromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		h.writeError(w, http.StatusNotFound, "order not found")
		return nil, false
	}

	order, err := h.store.GetForUser(r.Context(), sess.UserID(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return nil, false
	}

	return order, true
}

func (h *Handler) publishOrderCreated(ctx context.Context, order *domain.Order) {
	if h.orderCreated == nil {
		return
	}

	event := domain.OrderCreatedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Items:     order.Items,
		Total:     order.Total,
		Timestamp: order.CreatedAt,
	}
	if user := h.lookupUser(ctx, order.UserID); user != nil {
		event.CustomerName = user.DisplayName()
		event.CustomerEmail = user.Email
	}

	if err := h.orderCreated.Publish(ctx, strconv.FormatInt(order.ID, 10), event); err != nil {
		h.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
	}
}

func (h *Handler) publishPaymentChanged(ctx context.Context, order *domain.Order) {
	if h.paymentChanged == nil {
		return
	}

	event := domain.PaymentStatusChangedEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.Status,
		Timestamp:     time.Now().UTC(),
	}
	if user := h.lookupUser(ctx, order.UserID); user != nil {
		event.CustomerName = user.DisplayName()
		event.CustomerEmail = user.Email
	}

	if err := h.paymentChanged.Publish(ctx, strconv.FormatInt(order.ID, 10), event); err != nil {
		h.logger.Error("failed to publish payment status event", "error", err, "order_id", order.ID)
	}
}

func (h *Handler) lookupUser(ctx context.Context, id int64) *domain.User {
	user, err := h.users.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("failed to get user", "error", err, "user_id", id)
		return nil
	}
	return user
}

func (h *Handler) absoluteURL(r *http.Request, path string) string {
	if h.baseURL != "" {
		return h.baseURL + path
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host + path
}

func (h *Handler) saveSession(w http.ResponseWriter, sess *session.Session) bool {
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Error("failed to save session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
