package service

import (
	"context"
	"time"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/events"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// CreateBatchRequest receives new stock into a batch
type CreateBatchRequest struct {
	ProductID   string    `json:"product_id" validate:"required,uuid"`
	BatchNumber string    `json:"batch_number" validate:"required,min=1,max=100"`
	Quantity    int       `json:"quantity" validate:"required,gt=0"`
	ExpiryDate  time.Time `json:"expiry_date" validate:"required"`
}

// BatchService manages stock batches
type BatchService struct {
	batchRepo   *repository.BatchRepository
	productRepo *repository.ProductRepository
	movements   *repository.MovementRepository
	publisher   *events.PharmacyEventPublisher
	logger      *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(
	batchRepo *repository.BatchRepository,
	productRepo *repository.ProductRepository,
	movements *repository.MovementRepository,
	publisher *events.PharmacyEventPublisher,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		batchRepo:   batchRepo,
		productRepo: productRepo,
		movements:   movements,
		publisher:   publisher,
		logger:      log,
	}
}

// CreateBatch receives stock into a new batch
func (s *BatchService) CreateBatch(ctx context.Context, req CreateBatchRequest) (*repository.Batch, error) {
	if req.Quantity <= 0 {
		return nil, errors.InvalidQuantity(req.Quantity)
	}
	if !req.ExpiryDate.After(time.Now()) {
		return nil, errors.BadRequest("expiry date must be in the future")
	}

	if _, err := s.productRepo.GetByID(ctx, req.ProductID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	batch := &repository.Batch{
		ProductID:   req.ProductID,
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		ExpiryDate:  req.ExpiryDate,
		ReceivedAt:  &now,
	}

	if err := s.batchRepo.Create(ctx, batch); err != nil {
		return nil, err
	}

	s.publisher.PublishBatchCreated(ctx, messaging.BatchCreatedEvent{
		BatchID:     batch.ID,
		ProductID:   batch.ProductID,
		BatchNumber: batch.BatchNumber,
		Quantity:    batch.Quantity,
		ExpiryDate:  batch.ExpiryDate,
		Synthetic:   false,
	})

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("product_id", batch.ProductID).
		Int("quantity", batch.Quantity).
		Msg("batch received")

	return batch, nil
}

// GetBatch returns a batch by ID
func (s *BatchService) GetBatch(ctx context.Context, id string) (*repository.Batch, error) {
	return s.batchRepo.GetByID(ctx, id)
}

// ListBatches lists a product's batches in expiry order
func (s *BatchService) ListBatches(ctx context.Context, productID string, includeArchived bool) ([]*repository.Batch, error) {
	if _, err := s.productRepo.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.batchRepo.ListByProduct(ctx, productID, includeArchived)
}

// ArchiveBatch removes a batch from allocation eligibility. Archiving is
// always an explicit action; batches are never archived automatically at
// zero quantity.
func (s *BatchService) ArchiveBatch(ctx context.Context, id string) error {
	if err := s.batchRepo.Archive(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("batch_id", id).Msg("batch archived")
	return nil
}

// CheckExpiring publishes an expiring event for each active batch with stock
// that expires within the window. Intended to run on a schedule.
func (s *BatchService) CheckExpiring(ctx context.Context, within time.Duration) ([]*repository.Batch, error) {
	batches, err := s.batchRepo.ListExpiring(ctx, within)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, batch := range batches {
		product, err := s.productRepo.GetByID(ctx, batch.ProductID)
		if err != nil {
			s.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("skipping expiring batch with missing product")
			continue
		}

		days := int(batch.ExpiryDate.Sub(now).Hours() / 24)
		s.publisher.PublishBatchExpiring(ctx, messaging.BatchExpiringEvent{
			ProductID:   batch.ProductID,
			BatchID:     batch.ID,
			ProductName: product.Name,
			BatchNumber: batch.BatchNumber,
			ExpiryDate:  batch.ExpiryDate,
			DaysUntil:   days,
			Quantity:    batch.Quantity,
		})
	}

	return batches, nil
}

// ListMovements lists a product's stock movement ledger entries
func (s *BatchService) ListMovements(ctx context.Context, productID string, page, perPage int) ([]*repository.StockMovement, int64, error) {
	if _, err := s.productRepo.GetByID(ctx, productID); err != nil {
		return nil, 0, err
	}
	return s.movements.ListByProduct(ctx, productID, page, perPage)
}
