package main

import (
	"net/http"

	"github.com/joao-fontenele/storefront/internal/accounts"
	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/session"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

type handlers struct {
	accounts *accounts.Handler
	catalog  *catalog.Handler
	cart     *cart.Handler
	orders   *orders.Handler
}

// newRouter registers the shop routes. Every request carries a session and
// state changing requests must be same origin, except for the PagSeguro
// notification callback.
func newRouter(h handlers, sessions *session.Manager, metrics http.Handler) http.Handler {
	login := sessions.RequireUser
	route := telemetry.WithHTTPRoute

	mux := http.NewServeMux()

	mux.HandleFunc("GET /accounts/{$}", route(login(h.accounts.HandleIndex)))
	mux.HandleFunc("GET /accounts/register", route(h.accounts.HandleRegisterForm))
	mux.HandleFunc("POST /accounts/register", route(h.accounts.HandleRegister))
	mux.HandleFunc("GET /accounts/update", route(login(h.accounts.HandleUpdateForm)))
	mux.HandleFunc("POST /accounts/update", route(login(h.accounts.HandleUpdate)))
	mux.HandleFunc("GET /accounts/password", route(login(h.accounts.HandlePasswordForm)))
	mux.HandleFunc("POST /accounts/password", route(login(h.accounts.HandlePassword)))
	mux.HandleFunc("POST /accounts/login", route(h.accounts.HandleLogin))
	mux.HandleFunc("POST /accounts/logout", route(h.accounts.HandleLogout))

	mux.HandleFunc("GET /catalog/products", route(h.catalog.HandleListProducts))
	mux.HandleFunc("GET /catalog/products/{slug}", route(h.catalog.HandleGetProduct))

	mux.HandleFunc("GET /checkout/cart/add/{slug}", route(h.cart.HandleAdd))
	mux.HandleFunc("GET /checkout/cart", route(h.cart.HandleView))
	mux.HandleFunc("POST /checkout/cart", route(h.cart.HandleUpdate))

	mux.HandleFunc("GET /checkout/checkout", route(login(h.orders.HandleCheckout)))
	mux.HandleFunc("GET /checkout/orders", route(login(h.orders.HandleList)))
	mux.HandleFunc("GET /checkout/orders/{id}", route(login(h.orders.HandleGet)))
	mux.HandleFunc("GET /checkout/orders/{id}/pay", route(login(h.orders.HandlePay)))
	mux.HandleFunc("POST "+orders.NotificationPath, route(h.orders.HandleNotification))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	csrf := http.NewCrossOriginProtection()
	csrf.AddInsecureBypassPattern("POST " + orders.NotificationPath)

	return csrf.Handler(sessions.Middleware(mux))
}
