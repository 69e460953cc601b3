package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/allocation"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/domain"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/events"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/actor"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// LineInput is one requested product line
type LineInput struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderRequest creates a new order of any kind
type CreateOrderRequest struct {
	Kind         string      `json:"kind" validate:"required,oneof=patient walkin internal"`
	PatientName  *string     `json:"patient_name,omitempty"`
	Department   *string     `json:"department,omitempty"`
	DiscountType *string     `json:"discount_type,omitempty" validate:"omitempty,oneof=senior pwd"`
	Lines        []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// RefundLineInput refunds part of one order line
type RefundLineInput struct {
	LineID   string `json:"line_id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// OrderService coordinates order lifecycle with stock allocation. Every
// status or remarks change that moves stock commits the order write and the
// batch writes in one transaction.
type OrderService struct {
	db          *database.DB
	orderRepo   *repository.OrderRepository
	productRepo *repository.ProductRepository
	alloc       *AllocationService
	billing     *BillingCalculator
	publisher   *events.PharmacyEventPublisher
	logger      *logger.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	db *database.DB,
	orderRepo *repository.OrderRepository,
	productRepo *repository.ProductRepository,
	alloc *AllocationService,
	billing *BillingCalculator,
	publisher *events.PharmacyEventPublisher,
	log *logger.Logger,
) *OrderService {
	return &OrderService{
		db:          db,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		alloc:       alloc,
		billing:     billing,
		publisher:   publisher,
		logger:      log,
	}
}

// GetOrder returns an order with its lines
func (s *OrderService) GetOrder(ctx context.Context, id string) (*repository.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// ListOrders lists orders with optional filters
func (s *OrderService) ListOrders(ctx context.Context, page, perPage int, kind, status string) ([]*repository.Order, int64, error) {
	return s.orderRepo.List(ctx, page, perPage, kind, status)
}

// CreateOrder creates an order. Patient and internal orders reserve nothing
// at creation. Walk-in sales are created already paid and consume stock in
// the same transaction; any shortfall aborts the whole sale.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*repository.Order, error) {
	kind := domain.OrderKind(req.Kind)
	if !domain.ValidKind(kind) {
		return nil, errors.BadRequest("unknown order kind: " + req.Kind)
	}
	if len(req.Lines) == 0 {
		return nil, errors.BadRequest("order requires at least one line")
	}
	if req.DiscountType != nil && !ValidDiscountType(*req.DiscountType) {
		return nil, errors.BadRequest("unknown discount type: " + *req.DiscountType)
	}

	lines, err := s.buildLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	totals := s.billing.Compute(lines, req.DiscountType)
	act := actor.FromContextOrSystem(ctx)

	order := &repository.Order{
		Kind:           req.Kind,
		Status:         string(domain.InitialStatus(kind)),
		Remarks:        string(domain.InitialRemarks(kind)),
		PatientName:    req.PatientName,
		Department:     req.Department,
		DiscountType:   req.DiscountType,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		VATAmount:      totals.VATAmount,
		Total:          totals.Total,
		CreatedBy:      act.ID,
		Lines:          lines,
	}

	var consumeResults []*ConsumeResult

	// Walk-in creation is the heaviest allocation path and gets its own budget
	err = s.alloc.withRetryTimeout(ctx, s.alloc.cfg.SaleTimeout(), func(ctx context.Context, tx *sqlx.Tx) error {
		consumeResults = consumeResults[:0]

		if err := s.orderRepo.CreateTx(ctx, tx, order); err != nil {
			return err
		}

		// Walk-in sales commit stock at the counter
		if kind == domain.KindWalkIn {
			for _, line := range order.Lines {
				result, err := s.alloc.ConsumeInTx(ctx, tx, ConsumeRequest{
					ProductID: line.ProductID,
					Quantity:  line.Quantity,
					Reason:    "walkin_sale",
					OrderID:   order.ID,
					LineID:    line.ID,
					Policy:    ShortfallReject,
				})
				if err != nil {
					return err
				}
				consumeResults = append(consumeResults, result)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishOrderCreated(ctx, messaging.OrderCreatedEvent{
		OrderID: order.ID,
		Kind:    order.Kind,
		Status:  order.Status,
		Total:   order.Total.String(),
	})
	for _, result := range consumeResults {
		s.alloc.publishConsumed(ctx, ConsumeRequest{OrderID: order.ID, Reason: "walkin_sale"}, result)
	}

	return order, nil
}

func (s *OrderService) buildLines(ctx context.Context, inputs []LineInput) ([]*repository.OrderLine, error) {
	seen := make(map[string]bool, len(inputs))
	lines := make([]*repository.OrderLine, 0, len(inputs))

	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, errors.InvalidQuantity(in.Quantity)
		}
		if seen[in.ProductID] {
			return nil, errors.BadRequest("duplicate product in order lines: " + in.ProductID)
		}
		seen[in.ProductID] = true

		product, err := s.productRepo.GetByID(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}

		// Price is snapshotted at order time and never re-read
		lines = append(lines, &repository.OrderLine{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: product.Price,
		})
	}

	return lines, nil
}

// TransitionStatus moves an order along the payment dimension. Canceling an
// order whose stock was already consumed restores every line's remaining
// quantity in the same transaction.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID string, to domain.Status) (*repository.Order, error) {
	var order *repository.Order
	var from string

	err := s.alloc.withRetry(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if err := domain.ValidateStatusTransition(domain.Status(order.Status), to); err != nil {
			return err
		}

		if to == domain.StatusCanceled && s.stockConsumed(order) {
			for _, line := range order.Lines {
				remaining := line.Quantity - line.RefundedQty
				if remaining <= 0 {
					continue
				}
				if _, err := s.alloc.RestoreInTx(ctx, tx, RestoreRequest{
					ProductID: line.ProductID,
					Quantity:  remaining,
					Reason:    "cancel",
					OrderID:   order.ID,
					LineID:    line.ID,
				}); err != nil {
					return err
				}
			}
		}

		if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, string(to)); err != nil {
			return err
		}
		order.Status = string(to)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishOrderStatusChanged(ctx, messaging.OrderStatusChangedEvent{
		OrderID:   order.ID,
		Kind:      order.Kind,
		Dimension: "status",
		From:      from,
		To:        string(to),
	})

	return order, nil
}

// stockConsumed reports whether the order's stock has already left the
// batches. Walk-in sales consume at creation; patient and internal orders
// consume when fulfillment completes.
func (s *OrderService) stockConsumed(order *repository.Order) bool {
	if domain.OrderKind(order.Kind) == domain.KindWalkIn {
		return true
	}
	return domain.ConsumesOnRemarks(domain.Remarks(order.Remarks))
}

// TransitionRemarks moves an order along the fulfillment dimension.
// Reaching dispensed consumes stock for every line, tolerating shortfall so
// an undersupplied but already handed-out medication still gets recorded.
// Reaching released consumes with shortfall fatal; a ward replenishment
// cannot leave the pharmacy short.
func (s *OrderService) TransitionRemarks(ctx context.Context, orderID string, to domain.Remarks) (*repository.Order, error) {
	var order *repository.Order
	var from string
	var consumeResults []*ConsumeResult
	var consumeReason string

	err := s.alloc.withRetry(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		consumeResults = consumeResults[:0]

		var err error
		order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		from = order.Remarks

		kind := domain.OrderKind(order.Kind)
		if err := domain.ValidateRemarksTransition(kind, domain.Remarks(order.Remarks), to); err != nil {
			return err
		}

		if domain.ConsumesOnRemarks(to) {
			policy := ShortfallTolerate
			consumeReason = "dispense"
			if to == domain.RemarksReleased {
				policy = ShortfallReject
				consumeReason = "release"
			}

			for _, line := range order.Lines {
				result, err := s.alloc.ConsumeInTx(ctx, tx, ConsumeRequest{
					ProductID: line.ProductID,
					Quantity:  line.Quantity,
					Reason:    consumeReason,
					OrderID:   order.ID,
					LineID:    line.ID,
					Policy:    policy,
				})
				if err != nil {
					return err
				}
				consumeResults = append(consumeResults, result)
			}
		}

		if err := s.orderRepo.UpdateRemarksTx(ctx, tx, orderID, string(to)); err != nil {
			return err
		}
		order.Remarks = string(to)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishOrderStatusChanged(ctx, messaging.OrderStatusChangedEvent{
		OrderID:   order.ID,
		Kind:      order.Kind,
		Dimension: "remarks",
		From:      from,
		To:        string(to),
	})
	for _, result := range consumeResults {
		s.alloc.publishConsumed(ctx, ConsumeRequest{OrderID: order.ID, Reason: consumeReason}, result)
	}

	return order, nil
}

// RefundLines refunds quantities on specific order lines. The refund cap is
// enforced before any batch mutation; once every line is fully refunded the
// order moves to refunded.
func (s *OrderService) RefundLines(ctx context.Context, orderID string, refunds []RefundLineInput) (*repository.Order, error) {
	if len(refunds) == 0 {
		return nil, errors.BadRequest("refund requires at least one line")
	}
	for _, ref := range refunds {
		if ref.Quantity <= 0 {
			return nil, errors.InvalidQuantity(ref.Quantity)
		}
	}

	var order *repository.Order
	var refunded []messaging.RefundedLine
	var amount decimal.Decimal

	err := s.alloc.withRetry(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		refunded = refunded[:0]
		amount = decimal.Zero

		var err error
		order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if !s.stockConsumed(order) {
			return errors.BadRequest("order stock has not been consumed; cancel or edit instead of refunding")
		}

		linesByID := make(map[string]*repository.OrderLine, len(order.Lines))
		for _, line := range order.Lines {
			linesByID[line.ID] = line
		}

		for _, ref := range refunds {
			line, ok := linesByID[ref.LineID]
			if !ok {
				return errors.NotFound("order line")
			}

			// Cap check happens before the batch write so an over-refund
			// never mutates stock
			if err := s.orderRepo.IncrementRefundedTx(ctx, tx, ref.LineID, ref.Quantity); err != nil {
				return err
			}
			line.RefundedQty += ref.Quantity

			if _, err := s.alloc.RestoreInTx(ctx, tx, RestoreRequest{
				ProductID: line.ProductID,
				Quantity:  ref.Quantity,
				Reason:    "refund",
				OrderID:   order.ID,
				LineID:    line.ID,
			}); err != nil {
				return err
			}

			refunded = append(refunded, messaging.RefundedLine{
				ProductID: line.ProductID,
				Quantity:  ref.Quantity,
			})
			amount = amount.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(ref.Quantity))))
		}

		if fullyRefunded(order.Lines) && domain.CanTransitionStatus(domain.Status(order.Status), domain.StatusRefunded) {
			if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, string(domain.StatusRefunded)); err != nil {
				return err
			}
			order.Status = string(domain.StatusRefunded)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishOrderRefunded(ctx, messaging.OrderRefundedEvent{
		OrderID: order.ID,
		Kind:    order.Kind,
		Lines:   refunded,
		Amount:  amount.Round(2).String(),
	})

	return order, nil
}

func fullyRefunded(lines []*repository.OrderLine) bool {
	for _, line := range lines {
		if line.RefundedQty < line.Quantity {
			return false
		}
	}
	return true
}

// EditOrder replaces an order's lines with a new set, keeping line IDs
// stable for products that remain. When the order's stock has already been
// consumed the delta between old and new lines is applied to the batches
// atomically with the line changes; before consumption edits touch no
// inventory, since dispense and release charge the full line quantities.
func (s *OrderService) EditOrder(ctx context.Context, orderID string, inputs []LineInput) (*repository.Order, error) {
	if len(inputs) == 0 {
		return nil, errors.BadRequest("order requires at least one line")
	}

	newLines, err := s.buildLines(ctx, inputs)
	if err != nil {
		return nil, err
	}

	var order *repository.Order

	err = s.alloc.withRetry(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if domain.IsTerminalStatus(domain.Status(order.Status)) {
			return errors.InvalidTransition(order.Status, "edited")
		}
		if domain.ConsumesOnRemarks(domain.Remarks(order.Remarks)) {
			return errors.BadRequest("order lines cannot change after fulfillment completed")
		}

		if s.stockConsumed(order) {
			oldAlloc := make([]allocation.Line, 0, len(order.Lines))
			for _, line := range order.Lines {
				oldAlloc = append(oldAlloc, allocation.Line{ProductID: line.ProductID, Quantity: line.Quantity})
			}
			newAlloc := make([]allocation.Line, 0, len(newLines))
			for _, line := range newLines {
				newAlloc = append(newAlloc, allocation.Line{ProductID: line.ProductID, Quantity: line.Quantity})
			}

			if _, err := s.alloc.ReconcileInTx(ctx, tx, order.ID, oldAlloc, newAlloc, ShortfallReject, "order_edit"); err != nil {
				return err
			}
		}

		if err := s.applyLineChanges(ctx, tx, order, newLines); err != nil {
			return err
		}

		totals := s.billing.Compute(order.Lines, order.DiscountType)
		order.Subtotal = totals.Subtotal
		order.DiscountAmount = totals.DiscountAmount
		order.VATAmount = totals.VATAmount
		order.Total = totals.Total
		return s.orderRepo.UpdateTotalsTx(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// applyLineChanges diffs old lines against the new set by product and
// updates, inserts, and deletes so surviving products keep their line IDs
// and refund history.
func (s *OrderService) applyLineChanges(ctx context.Context, tx *sqlx.Tx, order *repository.Order, newLines []*repository.OrderLine) error {
	oldByProduct := make(map[string]*repository.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		oldByProduct[line.ProductID] = line
	}

	result := make([]*repository.OrderLine, 0, len(newLines))

	for _, newLine := range newLines {
		if old, ok := oldByProduct[newLine.ProductID]; ok {
			if newLine.Quantity < old.RefundedQty {
				return errors.BadRequest("cannot reduce quantity below refunded amount for product " + old.ProductID)
			}
			if newLine.Quantity != old.Quantity {
				if err := s.orderRepo.UpdateLineQuantityTx(ctx, tx, old.ID, newLine.Quantity); err != nil {
					return err
				}
				old.Quantity = newLine.Quantity
			}
			result = append(result, old)
			delete(oldByProduct, newLine.ProductID)
			continue
		}

		newLine.OrderID = order.ID
		if err := s.orderRepo.InsertLineTx(ctx, tx, newLine); err != nil {
			return err
		}
		result = append(result, newLine)
	}

	for _, removed := range oldByProduct {
		if removed.RefundedQty > 0 {
			return errors.BadRequest("cannot remove a line with refund history: " + removed.ProductID)
		}
		if err := s.orderRepo.DeleteLineTx(ctx, tx, removed.ID); err != nil {
			return err
		}
	}

	order.Lines = result
	return nil
}
