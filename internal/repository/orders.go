package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/model"
)

const orderColumns = `id, customer_id, customer_name, customer_email, items,
	subtotal, shipping_fee, total, payment_method, payment_status, checkout_request_id,
	transaction_code, delivery_method, status, tracking_number, version, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                           model.Order
		items                       []byte
		subtotal, shipping, total   int64
		paymentMethod, paymentState string
		checkoutRequestID           *string
		status                      string
	)

	err := row.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.CustomerEmail, &items,
		&subtotal, &shipping, &total, &paymentMethod, &paymentState, &checkoutRequestID,
		&o.TransactionCode, &o.DeliveryMethod, &status, &o.TrackingNumber, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}

	o.Subtotal = fromMinor(subtotal)
	o.ShippingFee = fromMinor(shipping)
	o.Total = fromMinor(total)
	o.PaymentMethod = model.PaymentMethod(paymentMethod)
	o.PaymentStatus = model.PaymentStatus(paymentState)
	o.Status = model.OrderStatus(status)
	if checkoutRequestID != nil {
		o.CheckoutRequestID = *checkoutRequestID
	}

	return &o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateOrder сохраняет новый заказ. Итог всегда равен подытогу плюс доставка.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}

	subtotal := toMinor(o.Subtotal)
	shipping := toMinor(o.ShippingFee)

	return r.withRetry(ctx, func() error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO orders (id, customer_id, customer_name, customer_email, items,
				subtotal, shipping_fee, total, payment_method, payment_status, checkout_request_id,
				transaction_code, delivery_method, status, tracking_number)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 RETURNING version, created_at, updated_at`,
			o.ID, o.CustomerID, o.CustomerName, o.CustomerEmail, items,
			subtotal, shipping, subtotal+shipping, string(o.PaymentMethod), string(o.PaymentStatus),
			nullable(o.CheckoutRequestID), o.TransactionCode, o.DeliveryMethod, string(o.Status), o.TrackingNumber,
		).Scan(&o.Version, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderByCheckoutRequest возвращает заказ, связанный с запросом оплаты.
func (r *PostgresRepository) GetOrderByCheckoutRequest(ctx context.Context, checkoutRequestID string) (*model.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE checkout_request_id = $1`, checkoutRequestID))
}

func (r *PostgresRepository) listOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ListOrdersByCustomer возвращает заказы покупателя, новые первыми.
func (r *PostgresRepository) ListOrdersByCustomer(ctx context.Context, email string) ([]model.Order, error) {
	return r.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_email = $1 ORDER BY created_at DESC`, email)
}

// ListOrders возвращает все заказы, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

// UpdateOrder изменяет заказ под блокировкой строки. Функция mutate получает
// текущее состояние и может вернуть ошибку, чтобы отменить изменение. Версия
// заказа увеличивается при каждом сохранении.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id string, mutate func(o *model.Order) error) (*model.Order, error) {
	var updated *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		if err := mutate(o); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`UPDATE orders
			 SET status = $2, tracking_number = $3, payment_status = $4, checkout_request_id = $5,
			     version = version + 1, updated_at = now()
			 WHERE id = $1
			 RETURNING version, updated_at`,
			id, string(o.Status), o.TrackingNumber, string(o.PaymentStatus), nullable(o.CheckoutRequestID),
		).Scan(&o.Version, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteOrder безвозвратно удаляет заказ.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
