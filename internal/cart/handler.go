package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/session"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const (
	CartPath = "/checkout/cart"

	msgAdded   = "Product added to cart"
	msgUpdated = "Product quantity updated"
	msgSaved   = "Cart updated"
)

type Store interface {
	AddItem(ctx context.Context, cartKey string, product *domain.Product) (*domain.CartItem, bool, error)
	List(ctx context.Context, cartKey string) ([]domain.CartItem, error)
	ApplyFormset(ctx context.Context, cartKey string, rows []Row) error
}

type Products interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Product, error)
}

type Handler struct {
	store    Store
	products Products
	sessions *session.Manager
	metrics  *telemetry.ShopMetrics
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(store Store, products Products, sessions *session.Manager, metrics *telemetry.ShopMetrics, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		products: products,
		sessions: sessions,
		metrics:  metrics,
		validate: newValidator(),
		logger:   logger,
	}
}

type cartResponse struct {
	Items    []domain.CartItem `json:"items"`
	Total    decimal.Decimal   `json:"total"`
	Messages []string          `json:"messages"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	product, err := h.products.GetBySlug(r.Context(), slug)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "slug", slug)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	sess := session.FromContext(r.Context())
	cartKey := sess.EnsureKey()

	item, created, err := h.store.AddItem(r.Context(), cartKey, product)
	if err != nil {
		h.logger.Error("failed to add cart item", "error", err, "product_id", product.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.metrics.CartItemAdded(r.Context(), created)

	message := msgUpdated
	if created {
		message = msgAdded
	}

	h.logger.Info("product added to cart", "product_id", product.ID, "item_id", item.ID, "quantity", item.Quantity)

	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		if !h.saveSession(w, sess) {
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"message": message})
		return
	}

	sess.AddFlash(message)
	if !h.saveSession(w, sess) {
		return
	}
	http.Redirect(w, r, CartPath, http.StatusSeeOther)
}

func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	items, err := h.list(r.Context(), sess.Key())
	if err != nil {
		h.logger.Error("failed to list cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	messages := sess.PopFlashes()
	if !h.saveSession(w, sess) {
		return
	}

	h.writeCart(w, http.StatusOK, items, messages)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	cartKey := sess.Key()

	rows, errs, err := parseFormset(w, r)
	if err != nil {
		if errors.Is(err, errManagementForm) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items, err := h.list(r.Context(), cartKey)
	if err != nil {
		h.logger.Error("failed to list cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	inCart := make(map[int64]bool, len(items))
	for _, item := range items {
		inCart[item.ID] = true
	}

	validateRows(h.validate, rows, inCart, errs)
	if len(errs) > 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs, "items": items})
		return
	}

	if len(rows) > 0 {
		if err := h.store.ApplyFormset(r.Context(), cartKey, rows); err != nil {
			if errors.Is(err, ErrUnknownItem) {
				h.writeJSON(w, http.StatusBadRequest, map[string]any{
					"errors": rowErrors{"__all__": "The cart changed while it was being edited. Please review it and try again."},
				})
				return
			}
			h.logger.Error("failed to apply cart formset", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		items, err = h.list(r.Context(), cartKey)
		if err != nil {
			h.logger.Error("failed to list cart", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	messages := append(sess.PopFlashes(), msgSaved)
	if !h.saveSession(w, sess) {
		return
	}

	h.logger.Info("cart updated", "rows", len(rows))
	h.writeCart(w, http.StatusOK, items, messages)
}

// list returns the cart rows, or none when the visitor has no cart key yet.
func (h *Handler) list(ctx context.Context, cartKey string) ([]domain.CartItem, error) {
	if cartKey == "" {
		return []domain.CartItem{}, nil
	}
	return h.store.List(ctx, cartKey)
}

func (h *Handler) writeCart(w http.ResponseWriter, status int, items []domain.CartItem, messages []string) {
	if messages == nil {
		messages = []string{}
	}
	c := domain.NewCart(items)
	h.writeJSON(w, status, cartResponse{Items: c.Items, Total: c.Total, Messages: messages})
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
