package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
)

// Movement types
const (
	MovementConsume = "consume"
	MovementRestock = "restock"
)

// StockMovement is an append-only ledger entry recording every batch-level
// quantity change together with who caused it and why
type StockMovement struct {
	ID          string    `db:"id" json:"id"`
	ProductID   string    `db:"product_id" json:"product_id"`
	BatchID     string    `db:"batch_id" json:"batch_id"`
	OrderID     *string   `db:"order_id" json:"order_id,omitempty"`
	LineID      *string   `db:"line_id" json:"line_id,omitempty"`
	Type        string    `db:"movement_type" json:"movement_type"`
	Quantity    int       `db:"quantity" json:"quantity"`
	Reason      string    `db:"reason" json:"reason"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// MovementRepository handles the stock movement ledger
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// RecordTx appends a movement entry within a transaction. Entries are never
// updated or deleted.
func (r *MovementRepository) RecordTx(ctx context.Context, tx *sqlx.Tx, m *StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (id, product_id, batch_id, order_id, line_id,
			movement_type, quantity, reason, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return tx.QueryRowxContext(ctx, query,
		m.ID, m.ProductID, m.BatchID, m.OrderID, m.LineID,
		m.Type, m.Quantity, m.Reason, m.PerformedBy,
	).Scan(&m.CreatedAt)
}

// ListByProduct lists a product's movements, newest first
func (r *MovementRepository) ListByProduct(ctx context.Context, productID string, page, perPage int) ([]*StockMovement, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	countQuery := `SELECT COUNT(*) FROM stock_movements WHERE product_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, productID); err != nil {
		return nil, 0, err
	}

	var movements []*StockMovement
	query := `
		SELECT * FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &movements, query, productID, perPage, offset); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// ListByOrder lists all movements attributed to an order
func (r *MovementRepository) ListByOrder(ctx context.Context, orderID string) ([]*StockMovement, error) {
	var movements []*StockMovement
	query := `
		SELECT * FROM stock_movements
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &movements, query, orderID); err != nil {
		return nil, err
	}
	return movements, nil
}
