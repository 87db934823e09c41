package domain

import "github.com/shopspring/decimal"

type CartItem struct {
	ID          int64           `json:"id"`
	CartKey     string          `json:"-"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductSlug string          `json:"product_slug"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// NewCart computes the total from the given rows.
func NewCart(items []CartItem) Cart {
	if items == nil {
		items = []CartItem{}
	}
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return Cart{Items: items, Total: total}
}
