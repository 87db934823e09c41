package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joao-fontenele/storefront/internal/accounts"
	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/session"
)

// newTestRouter wires handlers without storage. Only paths that never reach a
// repository are exercised here; the rest is covered by the integration suite.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager([]byte("0123456789abcdef0123456789abcdef"))

	return newRouter(handlers{
		accounts: accounts.NewHandler(&accounts.UserRepository{}, sessions, logger),
		catalog:  catalog.NewHandler(&catalog.ProductRepository{}, logger),
		cart:     cart.NewHandler(&cart.CartRepository{}, &catalog.ProductRepository{}, sessions, nil, logger),
		orders:   orders.NewHandler(&orders.OrderRepository{}, &accounts.UserRepository{}, nil, sessions, logger),
	}, sessions, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	}))
}

func TestRouter_LoginRequired(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method   string
		path     string
		location string
	}{
		{http.MethodGet, "/accounts/", "/accounts/login?next=%2Faccounts%2F"},
		{http.MethodGet, "/accounts/update", "/accounts/login?next=%2Faccounts%2Fupdate"},
		{http.MethodGet, "/accounts/password", "/accounts/login?next=%2Faccounts%2Fpassword"},
		{http.MethodGet, "/checkout/checkout", "/accounts/login?next=%2Fcheckout%2Fcheckout"},
		{http.MethodGet, "/checkout/orders?page=2", "/accounts/login?next=%2Fcheckout%2Forders%3Fpage%3D2"},
		{http.MethodGet, "/checkout/orders/7", "/accounts/login?next=%2Fcheckout%2Forders%2F7"},
		{http.MethodGet, "/checkout/orders/7/pay", "/accounts/login?next=%2Fcheckout%2Forders%2F7%2Fpay"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != http.StatusSeeOther {
				t.Fatalf("expected status 303, got %d", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != tt.location {
				t.Errorf("expected Location %q, got %q", tt.location, loc)
			}
		})
	}
}

func TestRouter_CrossOrigin(t *testing.T) {
	router := newTestRouter(t)

	t.Run("notification endpoint accepts cross-site posts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, orders.NotificationPath, nil)
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
			t.Errorf("expected 200 OK, got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("other posts are rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/accounts/logout", nil)
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rec.Code)
		}
	})
}

func TestRouter_Operational(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Body.String() != "metrics" {
		t.Errorf("metrics: unexpected body %q", rec.Body.String())
	}
}
