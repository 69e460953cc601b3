package consumers

import (
	"context"
	"fmt"

	"github.com/pharmstock/pharmstock-backend/internal/notification/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/actor"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// PharmacyEventConsumer turns pharmacy stock and order events into
// role-targeted notifications
type PharmacyEventConsumer struct {
	consumer *messaging.Consumer
	repo     *repository.NotificationRepository
	logger   *logger.Logger
}

// NewPharmacyEventConsumer creates a new pharmacy event consumer
func NewPharmacyEventConsumer(
	rmq *messaging.RabbitMQ,
	repo *repository.NotificationRepository,
	log *logger.Logger,
) (*PharmacyEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "notification-service.pharmacy-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangePharmacyEvents, "pharmacy.#"); err != nil {
		return nil, err
	}

	c := &PharmacyEventConsumer{
		consumer: consumer,
		repo:     repo,
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventStockShortfall, c.handleStockShortfall)
	consumer.RegisterHandler(messaging.EventBatchExpiring, c.handleBatchExpiring)
	consumer.RegisterHandler(messaging.EventBatchCreated, c.handleBatchCreated)
	consumer.RegisterHandler(messaging.EventOrderStatusChanged, c.handleOrderStatusChanged)
	consumer.RegisterHandler(messaging.EventOrderRefunded, c.handleOrderRefunded)

	return c, nil
}

// Start starts consuming messages
func (c *PharmacyEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *PharmacyEventConsumer) handleStockShortfall(ctx context.Context, event *messaging.Event) error {
	var data messaging.StockShortfallEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Warn().
		Str("product_id", data.ProductID).
		Int("shortfall", data.Shortfall).
		Msg("received stock shortfall event")

	return c.repo.Create(ctx, &repository.Notification{
		EventType:  event.Type,
		TargetRole: actor.RolePharmacist,
		Subject:    "Stock shortfall",
		Body: fmt.Sprintf("Product %s is short %d of %d requested units (%s).",
			data.ProductID, data.Shortfall, data.Requested, data.Reason),
		Severity: repository.SeverityWarning,
		Payload:  event.Data,
	})
}

func (c *PharmacyEventConsumer) handleBatchExpiring(ctx context.Context, event *messaging.Event) error {
	var data messaging.BatchExpiringEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	severity := repository.SeverityWarning
	if data.DaysUntil <= 7 {
		severity = repository.SeverityCritical
	}

	return c.repo.Create(ctx, &repository.Notification{
		EventType:  event.Type,
		TargetRole: actor.RolePharmacist,
		Subject:    "Batch expiring soon",
		Body: fmt.Sprintf("Batch %s of %s (%d units) expires in %d days.",
			data.BatchNumber, data.ProductName, data.Quantity, data.DaysUntil),
		Severity: severity,
		Payload:  event.Data,
	})
}

func (c *PharmacyEventConsumer) handleBatchCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.BatchCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	// Only synthetic refund batches are worth a notification; routine
	// receiving would flood the feed.
	if !data.Synthetic {
		return nil
	}

	return c.repo.Create(ctx, &repository.Notification{
		EventType:  event.Type,
		TargetRole: actor.RolePharmacist,
		Subject:    "Synthetic refund batch created",
		Body: fmt.Sprintf("Refund restock for product %s created batch %s with %d units and a default shelf life; verify the expiry date.",
			data.ProductID, data.BatchNumber, data.Quantity),
		Severity: repository.SeverityInfo,
		Payload:  event.Data,
	})
}

func (c *PharmacyEventConsumer) handleOrderStatusChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderStatusChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	// Cashiers care about orders becoming payable or paid
	if data.Dimension != "status" || (data.To != "for_payment" && data.To != "paid") {
		return nil
	}

	return c.repo.Create(ctx, &repository.Notification{
		EventType:  event.Type,
		TargetRole: actor.RoleCashier,
		Subject:    "Order " + data.To,
		Body:       fmt.Sprintf("Order %s moved from %s to %s.", data.OrderID, data.From, data.To),
		Severity:   repository.SeverityInfo,
		Payload:    event.Data,
	})
}

func (c *PharmacyEventConsumer) handleOrderRefunded(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderRefundedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	return c.repo.Create(ctx, &repository.Notification{
		EventType:  event.Type,
		TargetRole: actor.RoleCashier,
		Subject:    "Order refunded",
		Body:       fmt.Sprintf("Order %s refunded %d line(s) for %s.", data.OrderID, len(data.Lines), data.Amount),
		Severity:   repository.SeverityInfo,
		Payload:    event.Data,
	})
}
