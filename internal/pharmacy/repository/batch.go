package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Batch statuses
const (
	BatchStatusActive   = "active"
	BatchStatusArchived = "archived"
)

// Batch represents a stock batch of a product with its own expiry date
type Batch struct {
	ID          string     `db:"id" json:"id"`
	ProductID   string     `db:"product_id" json:"product_id"`
	BatchNumber string     `db:"batch_number" json:"batch_number"`
	Quantity    int        `db:"quantity" json:"quantity"`
	ExpiryDate  time.Time  `db:"expiry_date" json:"expiry_date"`
	Status      string     `db:"status" json:"status"`
	ReceivedAt  *time.Time `db:"received_at" json:"received_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusActive
	}

	query := `
		INSERT INTO batches (id, product_id, batch_number, quantity, expiry_date, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRowxContext(ctx, query,
		batch.ID, batch.ProductID, batch.BatchNumber, batch.Quantity,
		batch.ExpiryDate, batch.Status, batch.ReceivedAt,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
}

// CreateTx creates a new batch within an existing transaction
func (r *BatchRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusActive
	}

	query := `
		INSERT INTO batches (id, product_id, batch_number, quantity, expiry_date, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return tx.QueryRowxContext(ctx, query,
		batch.ID, batch.ProductID, batch.BatchNumber, batch.Quantity,
		batch.ExpiryDate, batch.Status, batch.ReceivedAt,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByProduct lists a product's batches ordered by expiry date
func (r *BatchRepository) ListByProduct(ctx context.Context, productID string, includeArchived bool) ([]*Batch, error) {
	var batches []*Batch

	if includeArchived {
		query := `
			SELECT * FROM batches
			WHERE product_id = $1
			ORDER BY expiry_date ASC, id ASC
		`
		if err := r.db.SelectContext(ctx, &batches, query, productID); err != nil {
			return nil, err
		}
		return batches, nil
	}

	query := `
		SELECT * FROM batches
		WHERE product_id = $1 AND status = $2
		ORDER BY expiry_date ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &batches, query, productID, BatchStatusActive); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListActiveForUpdate loads all active batches of a product under a row lock.
// Callers must hold an open transaction; the lock is released on commit or
// rollback. Ordering matches allocation order so concurrent allocators lock
// rows in the same sequence.
func (r *BatchRepository) ListActiveForUpdate(ctx context.Context, tx *sqlx.Tx, productID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE product_id = $1 AND status = $2
		ORDER BY expiry_date ASC, id ASC
		FOR UPDATE
	`
	if err := tx.SelectContext(ctx, &batches, query, productID, BatchStatusActive); err != nil {
		return nil, err
	}
	return batches, nil
}

// AddQuantityTx adjusts a batch's quantity by delta within a transaction.
// The WHERE guard keeps quantity from going negative even if a caller
// miscomputes a deduction.
func (r *BatchRepository) AddQuantityTx(ctx context.Context, tx *sqlx.Tx, batchID string, delta int) error {
	query := `
		UPDATE batches
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND quantity + $2 >= 0
	`

	result, err := tx.ExecContext(ctx, query, batchID, delta, BatchStatusActive)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Conflict("batch quantity adjustment failed")
	}

	return nil
}

// Archive archives a batch so it is no longer considered for allocation
func (r *BatchRepository) Archive(ctx context.Context, id string) error {
	query := `UPDATE batches SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, id, BatchStatusArchived, BatchStatusActive)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}

	return nil
}

// GetTotalStock returns the total active quantity of a product across batches
func (r *BatchRepository) GetTotalStock(ctx context.Context, productID string) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(quantity), 0) FROM batches
		WHERE product_id = $1 AND status = $2
	`
	if err := r.db.GetContext(ctx, &total, query, productID, BatchStatusActive); err != nil {
		return 0, err
	}
	return total, nil
}

// StockSummary aggregates a product's active batches.
type StockSummary struct {
	TotalQuantity int        `db:"total_quantity" json:"total_quantity"`
	NearestExpiry *time.Time `db:"nearest_expiry" json:"nearest_expiry,omitempty"`
	BatchCount    int        `db:"batch_count" json:"batch_count"`
}

// GetStockSummary returns the total active quantity, the soonest expiry among
// batches that still hold stock, and the active batch count for a product.
func (r *BatchRepository) GetStockSummary(ctx context.Context, productID string) (*StockSummary, error) {
	var summary StockSummary
	query := `
		SELECT
			COALESCE(SUM(quantity), 0) AS total_quantity,
			MIN(expiry_date) FILTER (WHERE quantity > 0) AS nearest_expiry,
			COUNT(*) AS batch_count
		FROM batches
		WHERE product_id = $1 AND status = $2
	`
	if err := r.db.GetContext(ctx, &summary, query, productID, BatchStatusActive); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListExpiring lists active batches with stock that expire within the window
func (r *BatchRepository) ListExpiring(ctx context.Context, within time.Duration) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE status = $1 AND quantity > 0 AND expiry_date <= $2
		ORDER BY expiry_date ASC, id ASC
	`
	cutoff := time.Now().Add(within)
	if err := r.db.SelectContext(ctx, &batches, query, BatchStatusActive, cutoff); err != nil {
		return nil, err
	}
	return batches, nil
}
