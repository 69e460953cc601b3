package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/allocation"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/events"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/actor"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// ShortfallPolicy decides what happens when requested stock exceeds what the
// batches hold.
type ShortfallPolicy int

const (
	// ShortfallReject fails the whole operation on any shortfall
	ShortfallReject ShortfallPolicy = iota
	// ShortfallTolerate consumes what is available and records the rest
	ShortfallTolerate
)

// ConsumeRequest asks for stock to be deducted from a product's batches
type ConsumeRequest struct {
	ProductID string
	Quantity  int
	Reason    string
	OrderID   string
	LineID    string
	Policy    ShortfallPolicy
}

// RestoreRequest asks for stock to be returned to a product's batches
type RestoreRequest struct {
	ProductID string
	Quantity  int
	Reason    string
	OrderID   string
	LineID    string
}

// ConsumeResult reports what a consumption actually did
type ConsumeResult struct {
	ProductID  string                     `json:"product_id"`
	Requested  int                        `json:"requested"`
	Consumed   int                        `json:"consumed"`
	Shortfall  int                        `json:"shortfall"`
	Deductions []messaging.BatchDeduction `json:"deductions"`
}

// RestoreResult reports where returned stock landed
type RestoreResult struct {
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	BatchID      string `json:"batch_id"`
	BatchCreated bool   `json:"batch_created"`
}

// AllocationService coordinates batch-level stock allocation. All writes go
// through row-locked transactions; conflicting transactions are retried with
// backoff before giving up.
type AllocationService struct {
	db          *database.DB
	batchRepo   *repository.BatchRepository
	productRepo *repository.ProductRepository
	movements   *repository.MovementRepository
	publisher   *events.PharmacyEventPublisher
	cfg         config.AllocationConfig
	logger      *logger.Logger
}

// NewAllocationService creates a new allocation service
func NewAllocationService(
	db *database.DB,
	batchRepo *repository.BatchRepository,
	productRepo *repository.ProductRepository,
	movements *repository.MovementRepository,
	publisher *events.PharmacyEventPublisher,
	cfg config.AllocationConfig,
	log *logger.Logger,
) *AllocationService {
	return &AllocationService{
		db:          db,
		batchRepo:   batchRepo,
		productRepo: productRepo,
		movements:   movements,
		publisher:   publisher,
		cfg:         cfg,
		logger:      log,
	}
}

func (s *AllocationService) expiryPolicy() allocation.ExpiryPolicy {
	if s.cfg.AllowExpired {
		return allocation.IncludeExpired
	}
	return allocation.ExcludeExpired
}

// checkProduct rejects allocation against unknown or inactive products. A
// product with no batch rows must still fail distinctly from a shortfall.
func (s *AllocationService) checkProduct(ctx context.Context, tx *sqlx.Tx, productID string) error {
	exists, err := s.productRepo.ExistsTx(ctx, tx, productID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NotFound("product")
	}
	return nil
}

// Consume deducts stock from a product's batches in expiry order, inside its
// own retried transaction.
func (s *AllocationService) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	var result *ConsumeResult

	err := s.withRetry(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var txErr error
		result, txErr = s.ConsumeInTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.publishConsumed(ctx, req, result)
	return result, nil
}

// ConsumeInTx runs a consumption inside an existing transaction. Callers own
// the transaction lifecycle and event publication; compose this with other
// writes that must commit atomically with the deduction.
func (s *AllocationService) ConsumeInTx(ctx context.Context, tx *sqlx.Tx, req ConsumeRequest) (*ConsumeResult, error) {
	if req.Quantity <= 0 {
		return nil, errors.InvalidQuantity(req.Quantity)
	}
	if err := s.checkProduct(ctx, tx, req.ProductID); err != nil {
		return nil, err
	}

	batches, err := s.batchRepo.ListActiveForUpdate(ctx, tx, req.ProductID)
	if err != nil {
		return nil, err
	}

	plan, err := allocation.PlanConsumption(req.ProductID, toBatchViews(batches), req.Quantity, time.Now().UTC(), s.expiryPolicy())
	if err != nil {
		return nil, err
	}

	if plan.Shortfall > 0 && req.Policy == ShortfallReject {
		return nil, errors.InsufficientStock(req.ProductID, req.Quantity, plan.Shortfall)
	}

	act := actor.FromContextOrSystem(ctx)
	result := &ConsumeResult{
		ProductID:  req.ProductID,
		Requested:  req.Quantity,
		Consumed:   plan.Consumed(),
		Shortfall:  plan.Shortfall,
		Deductions: make([]messaging.BatchDeduction, 0, len(plan.Deductions)),
	}

	for _, d := range plan.Deductions {
		if err := s.batchRepo.AddQuantityTx(ctx, tx, d.BatchID, -d.Quantity); err != nil {
			return nil, err
		}

		movement := &repository.StockMovement{
			ProductID:   req.ProductID,
			BatchID:     d.BatchID,
			Type:        repository.MovementConsume,
			Quantity:    d.Quantity,
			Reason:      req.Reason,
			PerformedBy: act.ID,
		}
		if req.OrderID != "" {
			movement.OrderID = &req.OrderID
		}
		if req.LineID != "" {
			movement.LineID = &req.LineID
		}
		if err := s.movements.RecordTx(ctx, tx, movement); err != nil {
			return nil, err
		}

		result.Deductions = append(result.Deductions, messaging.BatchDeduction{
			BatchID:  d.BatchID,
			Quantity: d.Quantity,
		})
	}

	if plan.Shortfall > 0 {
		s.logger.Warn().
			Str("product_id", req.ProductID).
			Str("order_id", req.OrderID).
			Int("requested", req.Quantity).
			Int("shortfall", plan.Shortfall).
			Str("reason", req.Reason).
			Msg("stock shortfall tolerated")
	}

	return result, nil
}

// Restore returns stock to a product, inside its own retried transaction.
func (s *AllocationService) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	var result *RestoreResult

	err := s.withRetry(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var txErr error
		result, txErr = s.RestoreInTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.publishRestored(ctx, req, result)
	return result, nil
}

// RestoreInTx runs a restock inside an existing transaction. Returned stock
// goes to the most recently updated active batch; when the product has no
// batch left a synthetic one is created so the quantity is never dropped.
func (s *AllocationService) RestoreInTx(ctx context.Context, tx *sqlx.Tx, req RestoreRequest) (*RestoreResult, error) {
	if req.Quantity <= 0 {
		return nil, errors.InvalidQuantity(req.Quantity)
	}
	if err := s.checkProduct(ctx, tx, req.ProductID); err != nil {
		return nil, err
	}

	batches, err := s.batchRepo.ListActiveForUpdate(ctx, tx, req.ProductID)
	if err != nil {
		return nil, err
	}

	target, err := allocation.PlanRestock(toBatchViews(batches), req.Quantity)
	if err != nil {
		return nil, err
	}

	act := actor.FromContextOrSystem(ctx)
	result := &RestoreResult{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	}

	if target.Create {
		batch := &repository.Batch{
			ProductID:   req.ProductID,
			BatchNumber: allocation.RefundBatchNumber(req.Reason, req.OrderID, req.LineID),
			Quantity:    req.Quantity,
			ExpiryDate:  time.Now().UTC().AddDate(0, 0, s.cfg.RefundShelfLifeDays),
		}
		if err := s.batchRepo.CreateTx(ctx, tx, batch); err != nil {
			return nil, err
		}
		result.BatchID = batch.ID
		result.BatchCreated = true
	} else {
		if err := s.batchRepo.AddQuantityTx(ctx, tx, target.BatchID, req.Quantity); err != nil {
			return nil, err
		}
		result.BatchID = target.BatchID
	}

	movement := &repository.StockMovement{
		ProductID:   req.ProductID,
		BatchID:     result.BatchID,
		Type:        repository.MovementRestock,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		PerformedBy: act.ID,
	}
	if req.OrderID != "" {
		movement.OrderID = &req.OrderID
	}
	if req.LineID != "" {
		movement.LineID = &req.LineID
	}
	if err := s.movements.RecordTx(ctx, tx, movement); err != nil {
		return nil, err
	}

	return result, nil
}

// StockRequestOutcome pairs a reconciliation request with its result
type StockRequestOutcome struct {
	ProductID string         `json:"product_id"`
	Delta     int            `json:"delta"`
	Consume   *ConsumeResult `json:"consume,omitempty"`
	Restore   *RestoreResult `json:"restore,omitempty"`
}

// ReconcileInTx applies the stock delta between two versions of an order's
// lines. Positive deltas consume, negative deltas restore. All requests
// commit or none do.
func (s *AllocationService) ReconcileInTx(
	ctx context.Context,
	tx *sqlx.Tx,
	orderID string,
	oldLines, newLines []allocation.Line,
	policy ShortfallPolicy,
	reason string,
) ([]StockRequestOutcome, error) {
	requests := allocation.Reconcile(oldLines, newLines)
	outcomes := make([]StockRequestOutcome, 0, len(requests))

	for _, req := range requests {
		outcome := StockRequestOutcome{ProductID: req.ProductID, Delta: req.Delta}

		if req.IsConsume() {
			result, err := s.ConsumeInTx(ctx, tx, ConsumeRequest{
				ProductID: req.ProductID,
				Quantity:  req.Quantity(),
				Reason:    reason,
				OrderID:   orderID,
				Policy:    policy,
			})
			if err != nil {
				return nil, err
			}
			outcome.Consume = result
		} else {
			result, err := s.RestoreInTx(ctx, tx, RestoreRequest{
				ProductID: req.ProductID,
				Quantity:  req.Quantity(),
				Reason:    reason,
				OrderID:   orderID,
			})
			if err != nil {
				return nil, err
			}
			outcome.Restore = result
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// withRetry runs fn in a transaction with the default per-attempt timeout,
// retrying on serialization and deadlock failures with linear backoff.
func (s *AllocationService) withRetry(ctx context.Context, fn func(context.Context, *sqlx.Tx) error) error {
	return s.withRetryTimeout(ctx, s.cfg.TxTimeout, fn)
}

// withRetryTimeout is withRetry with an explicit per-attempt budget. Heavier
// call paths, such as walk-in sale creation, pass their own.
func (s *AllocationService) withRetryTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context, *sqlx.Tx) error) error {
	attempts := s.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.db.Transaction(attemptCtx, func(tx *sqlx.Tx) error {
			return fn(attemptCtx, tx)
		})
		cancel()

		if err == nil {
			return nil
		}
		if !database.IsSerializationFailure(err) {
			return err
		}

		lastErr = err
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("allocation transaction conflict, retrying")

		if attempt < attempts {
			select {
			case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.logger.Error().Err(lastErr).Int("attempts", attempts).Msg("allocation retries exhausted")
	return errors.RetryExhausted(attempts)
}

func (s *AllocationService) publishConsumed(ctx context.Context, req ConsumeRequest, result *ConsumeResult) {
	s.publisher.PublishStockConsumed(ctx, messaging.StockConsumedEvent{
		ProductID:  result.ProductID,
		OrderID:    req.OrderID,
		Reason:     req.Reason,
		Requested:  result.Requested,
		Consumed:   result.Consumed,
		Shortfall:  result.Shortfall,
		Deductions: result.Deductions,
	})
	if result.Shortfall > 0 {
		s.publisher.PublishStockShortfall(ctx, messaging.StockShortfallEvent{
			ProductID: result.ProductID,
			OrderID:   req.OrderID,
			Requested: result.Requested,
			Shortfall: result.Shortfall,
			Reason:    req.Reason,
		})
	}
}

func (s *AllocationService) publishRestored(ctx context.Context, req RestoreRequest, result *RestoreResult) {
	s.publisher.PublishStockRestored(ctx, messaging.StockRestoredEvent{
		ProductID:    result.ProductID,
		OrderID:      req.OrderID,
		BatchID:      result.BatchID,
		Quantity:     result.Quantity,
		BatchCreated: result.BatchCreated,
		Reason:       req.Reason,
	})
}

func toBatchViews(batches []*repository.Batch) []allocation.BatchView {
	views := make([]allocation.BatchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, allocation.BatchView{
			ID:         b.ID,
			Quantity:   b.Quantity,
			ExpiryDate: b.ExpiryDate,
			UpdatedAt:  b.UpdatedAt,
		})
	}
	return views
}
