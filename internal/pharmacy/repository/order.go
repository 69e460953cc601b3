package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Order represents a pharmacy order
type Order struct {
	ID             string          `db:"id" json:"id"`
	Kind           string          `db:"kind" json:"kind"`
	Status         string          `db:"status" json:"status"`
	Remarks        string          `db:"remarks" json:"remarks"`
	PatientName    *string         `db:"patient_name" json:"patient_name,omitempty"`
	Department     *string         `db:"department" json:"department,omitempty"`
	DiscountType   *string         `db:"discount_type" json:"discount_type,omitempty"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	VATAmount      decimal.Decimal `db:"vat_amount" json:"vat_amount"`
	Total          decimal.Decimal `db:"total" json:"total"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Lines []*OrderLine `db:"-" json:"lines,omitempty"`
}

// OrderLine represents a single product line of an order. Line IDs are stable
// across order edits so refund bookkeeping survives quantity changes.
type OrderLine struct {
	ID          string          `db:"id" json:"id"`
	OrderID     string          `db:"order_id" json:"order_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	RefundedQty int             `db:"refunded_qty" json:"refunded_qty"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderRepository handles order persistence
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateTx inserts an order and its lines within a transaction
func (r *OrderRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, order *Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	query := `
		INSERT INTO orders (id, kind, status, remarks, patient_name, department,
			discount_type, subtotal, discount_amount, vat_amount, total, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	if err := tx.QueryRowxContext(ctx, query,
		order.ID, order.Kind, order.Status, order.Remarks,
		order.PatientName, order.Department, order.DiscountType,
		order.Subtotal, order.DiscountAmount, order.VATAmount, order.Total,
		order.CreatedBy,
	).Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		return err
	}

	for _, line := range order.Lines {
		line.OrderID = order.ID
		if err := r.insertLineTx(ctx, tx, line); err != nil {
			return err
		}
	}

	return nil
}

func (r *OrderRepository) insertLineTx(ctx context.Context, tx *sqlx.Tx, line *OrderLine) error {
	if line.ID == "" {
		line.ID = uuid.New().String()
	}

	query := `
		INSERT INTO order_lines (id, order_id, product_id, quantity, refunded_qty, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	return tx.QueryRowxContext(ctx, query,
		line.ID, line.OrderID, line.ProductID, line.Quantity, line.RefundedQty, line.UnitPrice,
	).Scan(&line.CreatedAt, &line.UpdatedAt)
}

// GetByID gets an order with its lines
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	var order Order
	query := `SELECT * FROM orders WHERE id = $1`
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("order")
		}
		return nil, err
	}

	lines, err := r.getLines(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines

	return &order, nil
}

// GetByIDForUpdate gets an order with its lines under a row lock
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*Order, error) {
	var order Order
	query := `SELECT * FROM orders WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &order, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("order")
		}
		return nil, err
	}

	lines, err := r.getLinesForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines

	return &order, nil
}

type sqlxQueryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (r *OrderRepository) getLines(ctx context.Context, q sqlxQueryer, orderID string) ([]*OrderLine, error) {
	var lines []*OrderLine
	query := `SELECT * FROM order_lines WHERE order_id = $1 ORDER BY created_at ASC, id ASC`
	if err := q.SelectContext(ctx, &lines, query, orderID); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *OrderRepository) getLinesForUpdate(ctx context.Context, tx *sqlx.Tx, orderID string) ([]*OrderLine, error) {
	var lines []*OrderLine
	query := `SELECT * FROM order_lines WHERE order_id = $1 ORDER BY created_at ASC, id ASC FOR UPDATE`
	if err := tx.SelectContext(ctx, &lines, query, orderID); err != nil {
		return nil, err
	}
	return lines, nil
}

// List lists orders with optional kind and status filters
func (r *OrderRepository) List(ctx context.Context, page, perPage int, kind, status string) ([]*Order, int64, error) {
	offset := (page - 1) * perPage

	where := `WHERE 1=1`
	args := []interface{}{}
	argN := 1

	if kind != "" {
		where += ` AND kind = $` + strconv.Itoa(argN)
		args = append(args, kind)
		argN++
	}
	if status != "" {
		where += ` AND status = $` + strconv.Itoa(argN)
		args = append(args, status)
		argN++
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM orders ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM orders ` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argN) + ` OFFSET $` + strconv.Itoa(argN+1)
	args = append(args, perPage, offset)

	var orders []*Order
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateStatusTx updates the status dimension of an order
func (r *OrderRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id, status string) error {
	query := `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("order")
	}
	return nil
}

// UpdateRemarksTx updates the remarks dimension of an order
func (r *OrderRepository) UpdateRemarksTx(ctx context.Context, tx *sqlx.Tx, id, remarks string) error {
	query := `UPDATE orders SET remarks = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, id, remarks)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("order")
	}
	return nil
}

// UpdateTotalsTx updates the billing totals of an order
func (r *OrderRepository) UpdateTotalsTx(ctx context.Context, tx *sqlx.Tx, order *Order) error {
	query := `
		UPDATE orders SET
			subtotal = $2, discount_amount = $3, vat_amount = $4, total = $5,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query,
		order.ID, order.Subtotal, order.DiscountAmount, order.VATAmount, order.Total)
	return err
}

// UpdateLineQuantityTx changes the ordered quantity of an existing line,
// keeping the line ID stable
func (r *OrderRepository) UpdateLineQuantityTx(ctx context.Context, tx *sqlx.Tx, lineID string, quantity int) error {
	query := `UPDATE order_lines SET quantity = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, lineID, quantity)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("order line")
	}
	return nil
}

// InsertLineTx adds a new line to an existing order
func (r *OrderRepository) InsertLineTx(ctx context.Context, tx *sqlx.Tx, line *OrderLine) error {
	return r.insertLineTx(ctx, tx, line)
}

// DeleteLineTx removes a line from an order
func (r *OrderRepository) DeleteLineTx(ctx context.Context, tx *sqlx.Tx, lineID string) error {
	query := `DELETE FROM order_lines WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, lineID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("order line")
	}
	return nil
}

// IncrementRefundedTx raises a line's refunded quantity. The guard caps
// refunds at the ordered quantity; zero rows affected means the cap was hit.
func (r *OrderRepository) IncrementRefundedTx(ctx context.Context, tx *sqlx.Tx, lineID string, qty int) error {
	query := `
		UPDATE order_lines
		SET refunded_qty = refunded_qty + $2, updated_at = NOW()
		WHERE id = $1 AND refunded_qty + $2 <= quantity
	`

	result, err := tx.ExecContext(ctx, query, lineID, qty)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var line OrderLine
		if getErr := tx.GetContext(ctx, &line, `SELECT * FROM order_lines WHERE id = $1`, lineID); getErr != nil {
			if getErr == sql.ErrNoRows {
				return errors.NotFound("order line")
			}
			return getErr
		}
		return errors.RefundExceedsPurchased(line.ProductID, qty, line.Quantity-line.RefundedQty)
	}

	return nil
}
