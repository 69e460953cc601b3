package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Product represents a sellable pharmacy product
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	GenericName *string         `db:"generic_name" json:"generic_name,omitempty"`
	Category    *string         `db:"category" json:"category,omitempty"`
	Unit        string          `db:"unit" json:"unit"`
	Price       decimal.Decimal `db:"price" json:"price"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// ProductRepository handles product persistence
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create creates a new product
func (r *ProductRepository) Create(ctx context.Context, product *Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}

	query := `
		INSERT INTO products (id, name, generic_name, category, unit, price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRowxContext(ctx, query,
		product.ID, product.Name, product.GenericName, product.Category,
		product.Unit, product.Price, product.IsActive,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
}

// GetByID gets a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var product Product
	query := `SELECT * FROM products WHERE id = $1 AND is_active = true`
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}

// Exists reports whether an active product with the given ID exists
func (r *ProductRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND is_active = true)`
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, err
	}
	return exists, nil
}

// ExistsTx is Exists scoped to a transaction's snapshot
func (r *ProductRepository) ExistsTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND is_active = true)`
	if err := tx.GetContext(ctx, &exists, query, id); err != nil {
		return false, err
	}
	return exists, nil
}

// List lists products with pagination
func (r *ProductRepository) List(ctx context.Context, page, perPage int, category string) ([]*Product, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	var products []*Product

	if category != "" {
		countQuery := `SELECT COUNT(*) FROM products WHERE is_active = true AND category = $1`
		if err := r.db.GetContext(ctx, &total, countQuery, category); err != nil {
			return nil, 0, err
		}

		query := `
			SELECT * FROM products
			WHERE is_active = true AND category = $1
			ORDER BY name
			LIMIT $2 OFFSET $3
		`
		if err := r.db.SelectContext(ctx, &products, query, category, perPage, offset); err != nil {
			return nil, 0, err
		}
		return products, total, nil
	}

	countQuery := `SELECT COUNT(*) FROM products WHERE is_active = true`
	if err := r.db.GetContext(ctx, &total, countQuery); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT * FROM products
		WHERE is_active = true
		ORDER BY name
		LIMIT $1 OFFSET $2
	`
	if err := r.db.SelectContext(ctx, &products, query, perPage, offset); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// Update updates a product's mutable fields (name, category, price)
func (r *ProductRepository) Update(ctx context.Context, product *Product) error {
	query := `
		UPDATE products SET
			name = $2, generic_name = $3, category = $4, unit = $5, price = $6,
			updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`

	result, err := r.db.ExecContext(ctx, query,
		product.ID, product.Name, product.GenericName, product.Category,
		product.Unit, product.Price,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("product")
	}

	return nil
}

// SoftDelete deactivates a product
func (r *ProductRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE products SET is_active = false, updated_at = NOW() WHERE id = $1 AND is_active = true`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("product")
	}

	return nil
}
