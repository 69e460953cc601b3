package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// CreateProductRequest creates a new product
type CreateProductRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=255"`
	GenericName *string `json:"generic_name,omitempty"`
	Category    *string `json:"category,omitempty"`
	Unit        string  `json:"unit" validate:"required"`
	Price       string  `json:"price" validate:"required"`
}

// UpdateProductRequest updates a product's mutable fields
type UpdateProductRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=255"`
	GenericName *string `json:"generic_name,omitempty"`
	Category    *string `json:"category,omitempty"`
	Unit        string  `json:"unit" validate:"required"`
	Price       string  `json:"price" validate:"required"`
}

// ProductService manages the product catalog
type ProductService struct {
	productRepo *repository.ProductRepository
	batchRepo   *repository.BatchRepository
	logger      *logger.Logger
}

// NewProductService creates a new product service
func NewProductService(productRepo *repository.ProductRepository, batchRepo *repository.BatchRepository, log *logger.Logger) *ProductService {
	return &ProductService{
		productRepo: productRepo,
		batchRepo:   batchRepo,
		logger:      log,
	}
}

// CreateProduct creates a new product
func (s *ProductService) CreateProduct(ctx context.Context, req CreateProductRequest) (*repository.Product, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		return nil, errors.BadRequest("price must be a non-negative decimal")
	}

	product := &repository.Product{
		Name:        req.Name,
		GenericName: req.GenericName,
		Category:    req.Category,
		Unit:        req.Unit,
		Price:       price,
		IsActive:    true,
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}

	s.logger.Info().Str("product_id", product.ID).Str("name", product.Name).Msg("product created")
	return product, nil
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id string) (*repository.Product, error) {
	return s.productRepo.GetByID(ctx, id)
}

// ListProducts lists products with pagination
func (s *ProductService) ListProducts(ctx context.Context, page, perPage int, category string) ([]*repository.Product, int64, error) {
	return s.productRepo.List(ctx, page, perPage, category)
}

// UpdateProduct updates a product
func (s *ProductService) UpdateProduct(ctx context.Context, id string, req UpdateProductRequest) (*repository.Product, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		return nil, errors.BadRequest("price must be a non-negative decimal")
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	product.Name = req.Name
	product.GenericName = req.GenericName
	product.Category = req.Category
	product.Unit = req.Unit
	product.Price = price

	if err := s.productRepo.Update(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// DeleteProduct deactivates a product
func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	return s.productRepo.SoftDelete(ctx, id)
}

// GetStockSummary returns total quantity, nearest expiry, and batch count
// across a product's active batches.
func (s *ProductService) GetStockSummary(ctx context.Context, productID string) (*repository.StockSummary, error) {
	if _, err := s.productRepo.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.batchRepo.GetStockSummary(ctx, productID)
}
