package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

type fakeProducts struct {
	products []domain.Product
	err      error

	gotLimit, gotOffset int
}

func (f *fakeProducts) List(_ context.Context, limit, offset int) ([]domain.Product, error) {
	f.gotLimit, f.gotOffset = limit, offset
	return f.products, f.err
}

func (f *fakeProducts) GetBySlug(_ context.Context, slug string) (*domain.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.products {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, nil
}

func newTestHandler(products *fakeProducts) *Handler {
	return NewHandler(products, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_ListProducts(t *testing.T) {
	products := &fakeProducts{products: []domain.Product{
		{ID: 1, Name: "Notebook", Slug: "notebook", Price: decimal.RequireFromString("2500.00")},
	}}
	h := newTestHandler(products)

	req := httptest.NewRequest(http.MethodGet, "/catalog/products?page=3", nil)
	rec := httptest.NewRecorder()
	h.HandleListProducts(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if products.gotLimit != defaultPageSize || products.gotOffset != 2*defaultPageSize {
		t.Errorf("unexpected limit/offset %d/%d", products.gotLimit, products.gotOffset)
	}

	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Page != 3 || len(resp.Products) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandler_ListProductsInvalidPage(t *testing.T) {
	h := newTestHandler(&fakeProducts{})

	for _, page := range []string{"0", "-1", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/catalog/products?page="+page, nil)
		rec := httptest.NewRecorder()
		h.HandleListProducts(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("page=%s: expected status 400, got %d", page, rec.Code)
		}
	}
}

func TestHandler_GetProduct(t *testing.T) {
	products := &fakeProducts{products: []domain.Product{{ID: 1, Name: "Notebook", Slug: "notebook"}}}
	h := newTestHandler(products)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /catalog/products/{slug}", h.HandleGetProduct)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/products/notebook", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/products/ghost", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		products.err = errors.New("connection refused")
		defer func() { products.err = nil }()

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/products/notebook", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
	})
}
