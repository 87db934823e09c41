package orders

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var ErrEmptyCart = errors.New("cart is empty")

// ReconcileResult tells what ApplyPaymentStatus did with a gateway status.
type ReconcileResult int

const (
	ReconcileApplied ReconcileResult = iota
	ReconcileUnchanged
	ReconcileStale
	ReconcileNotFound
)

func (r ReconcileResult) String() string {
	switch r {
	case ReconcileApplied:
		return "applied"
	case ReconcileUnchanged:
		return "unchanged"
	case ReconcileStale:
		return "stale"
	case ReconcileNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

const orderColumns = `id, user_id, status, payment_option, payment_status, total, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateFromCart turns the cart rows of cartKey into an order for userID.
// The rows are locked, copied into order_items and deleted in one
// transaction, so a cart can be checked out at most once.
func (r *OrderRepository) CreateFromCart(ctx context.Context, userID int64, cartKey string) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT ci.id, ci.product_id, p.name, ci.quantity, ci.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_key = $1
		ORDER BY ci.id
		FOR UPDATE OF ci
	`, cartKey)
	if err != nil {
		return nil, err
	}

	var cartItemIDs []int64
	var items []domain.OrderItem
	for rows.Next() {
		var cartItemID int64
		var item domain.OrderItem
		if err := rows.Scan(&cartItemID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			_ = rows.Close()
			return nil, err
		}
		cartItemIDs = append(cartItemIDs, cartItemID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	order := &domain.Order{
		UserID:        userID,
		Items:         items,
		Total:         domain.ItemsTotal(items),
		Status:        domain.OrderStatusPending,
		PaymentOption: domain.PaymentOptionDeposit,
		PaymentStatus: domain.PaymentStatusNone,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, status, payment_option, payment_status, payment_status_rank, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, order.UserID, order.Status, order.PaymentOption, order.PaymentStatus, order.PaymentStatus.Rank(), order.Total,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, item.ProductID, item.ProductName, item.Quantity, item.Price)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM cart_items WHERE id = ANY($1)
	`, pq.Array(cartItemIDs))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

// ListByUser returns one page of the user's orders, newest first, and the
// total number of orders the user has.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Order, int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[int64]*domain.Order)
	var orderIDs []int64

	for rows.Next() {
		order := &domain.Order{Items: []domain.OrderItem{}}
		if err := scanOrder(rows, order); err != nil {
			return nil, 0, err
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, count, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID int64
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, 0, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, 0, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, count, nil
}

// GetForUser returns nil when the order does not exist or belongs to someone else.
func (r *OrderRepository) GetForUser(ctx context.Context, userID, id int64) (*domain.Order, error) {
	order := &domain.Order{}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err := scanOrder(row, order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	items, err := r.items(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *OrderRepository) SetPaymentOption(ctx context.Context, userID, id int64, option domain.PaymentOption) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET payment_option = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND payment_option <> $3
	`, id, userID, option)
	return err
}

// ApplyPaymentStatus records a gateway status on the order. The row is locked
// while deciding, statuses never move backwards in rank and repeating the
// stored status is a no-op.
func (r *OrderRepository) ApplyPaymentStatus(ctx context.Context, id int64, status domain.PaymentStatus) (ReconcileResult, *domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order := &domain.Order{}
	var storedRank int

	err = tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`, payment_status_rank
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&order.ID, &order.UserID, &order.Status, &order.PaymentOption, &order.PaymentStatus,
		&order.Total, &order.CreatedAt, &order.UpdatedAt, &storedRank,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReconcileNotFound, nil, nil
		}
		return 0, nil, err
	}

	if result := reconcileStatus(order.PaymentStatus, storedRank, status); result != ReconcileApplied {
		return result, order, nil
	}

	order.PaymentStatus = status
	order.Status = status.OrderStatus()

	err = tx.QueryRowContext(ctx, `
		UPDATE orders
		SET payment_status = $2, payment_status_rank = $3, status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, order.ID, order.PaymentStatus, status.Rank(), order.Status).Scan(&order.UpdatedAt)
	if err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}

	return ReconcileApplied, order, nil
}

// reconcileStatus decides whether next may replace the stored status.
func reconcileStatus(stored domain.PaymentStatus, storedRank int, next domain.PaymentStatus) ReconcileResult {
	if stored == next {
		return ReconcileUnchanged
	}
	if next.Rank() < storedRank {
		return ReconcileStale
	}
	return ReconcileApplied
}

func (r *OrderRepository) items(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner, o *domain.Order) error {
	return s.Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentOption, &o.PaymentStatus, &o.Total, &o.CreatedAt, &o.UpdatedAt)
}
