package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{pool: r.pool, q: tx, inTx: true})
	})
}

// Helpers

const orderColumns = `id, user_id, items, subtotal::float8, delivery_fee::float8, total::float8,
	shipping_address, payment_method, payment_status, status, timeline,
	courier_name, courier_phone, courier_lat, courier_lng, eta_minutes, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order

	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Items,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.Total,
		&o.ShippingAddress,
		&o.Payment.Method,
		&o.Payment.Status,
		&o.Status,
		&o.Timeline,
		&o.Courier.Name,
		&o.Courier.Phone,
		&o.Courier.Location.Lat,
		&o.Courier.Location.Lng,
		&o.ETAMinutes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return &o, nil
}

// Product methods

func (r *PgRepository) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, price::float8, stock
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = now()
		WHERE id = $1
		  AND stock >= $2
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// Order methods

func (r *PgRepository) InsertOrder(ctx context.Context, o Order) (*Order, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO orders (
			id, user_id, items, subtotal, delivery_fee, total,
			shipping_address, payment_method, payment_status, status, timeline,
			courier_name, courier_phone, courier_lat, courier_lng, eta_minutes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())
		RETURNING `+orderColumns,
		o.ID, o.UserID, o.Items, o.Subtotal, o.DeliveryFee, o.Total,
		o.ShippingAddress, o.Payment.Method, o.Payment.Status, o.Status, o.Timeline,
		o.Courier.Name, o.Courier.Phone, o.Courier.Location.Lat, o.Courier.Location.Lng, o.ETAMinutes)

	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)
	return scanOrder(row)
}

func (r *PgRepository) LockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanOrder(row)
}

func (r *PgRepository) AppendTimeline(ctx context.Context, id uuid.UUID, entry TimelineEntry) (*Order, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
		    timeline = timeline || jsonb_build_array(jsonb_build_object('status', $2::text, 'at', $3::text)),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id, entry.Status, entry.At.UTC().Format(time.RFC3339Nano))

	return scanOrder(row)
}

func (r *PgRepository) UpdateCourier(ctx context.Context, id uuid.UUID, loc Location, eta *int) (*Order, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE orders
		SET courier_lat = $2,
		    courier_lng = $3,
		    eta_minutes = COALESCE($4, eta_minutes),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id, loc.Lat, loc.Lng, eta)

	return scanOrder(row)
}

func (r *PgRepository) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::uuid IS NULL OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, f.UserID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PgAddressBook reads saved addresses and the default payment method from
// the profile tables.
type PgAddressBook struct {
	pool *pgxpool.Pool
}

func NewPgAddressBook(pool *pgxpool.Pool) *PgAddressBook {
	return &PgAddressBook{pool: pool}
}

func (b *PgAddressBook) Customer(ctx context.Context, userID uuid.UUID) (*Customer, error) {
	var c Customer
	err := b.pool.QueryRow(ctx, `
		SELECT default_payment_method
		FROM users
		WHERE id = $1
	`, userID).Scan(&c.DefaultPaymentMethod)
	if errors.Is(err, pgx.ErrNoRows) {
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	rows, err := b.pool.Query(ctx, `
		SELECT id, label, line1, line2, city, state, pincode, lat, lng
		FROM user_addresses
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.ID, &a.Label, &a.Line1, &a.Line2, &a.City, &a.State, &a.Pincode, &a.Lat, &a.Lng); err != nil {
			return nil, err
		}
		c.Addresses = append(c.Addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}
