package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var ErrUnknownItem = errors.New("cart item not found")

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// AddItem inserts the product with quantity 1 or bumps the quantity of the
// existing row. The price is captured on insert only. created reports which
// of the two happened.
func (r *CartRepository) AddItem(ctx context.Context, cartKey string, product *domain.Product) (*domain.CartItem, bool, error) {
	item := &domain.CartItem{
		CartKey:     cartKey,
		ProductID:   product.ID,
		ProductName: product.Name,
		ProductSlug: product.Slug,
	}

	var created bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (cart_key, product_id, quantity, price)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (cart_key, product_id)
		DO UPDATE SET quantity = LEAST(cart_items.quantity + 1, $4)
		RETURNING id, quantity, price, (xmax = 0)
	`, cartKey, product.ID, product.Price, maxQuantity).Scan(&item.ID, &item.Quantity, &item.Price, &created)
	if err != nil {
		return nil, false, err
	}

	return item, created, nil
}

func (r *CartRepository) List(ctx context.Context, cartKey string) ([]domain.CartItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ci.id, ci.cart_key, ci.product_id, p.name, p.slug, ci.quantity, ci.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_key = $1
		ORDER BY ci.id
	`, cartKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []domain.CartItem{}
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.CartKey, &item.ProductID, &item.ProductName, &item.ProductSlug, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// ApplyFormset applies every row in a single transaction. A row that does not
// belong to cartKey rolls back the whole batch with ErrUnknownItem.
func (r *CartRepository) ApplyFormset(ctx context.Context, cartKey string, rows []Row) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		var result sql.Result
		if row.Delete {
			result, err = tx.ExecContext(ctx, `
				DELETE FROM cart_items
				WHERE id = $1 AND cart_key = $2
			`, row.ID, cartKey)
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE cart_items SET quantity = $3
				WHERE id = $1 AND cart_key = $2
			`, row.ID, cartKey, row.Quantity)
		}
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			return fmt.Errorf("%w: %d", ErrUnknownItem, row.ID)
		}
	}

	return tx.Commit()
}
