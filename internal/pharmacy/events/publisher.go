package events

import (
	"context"

	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// PharmacyEventPublisher publishes pharmacy stock and order events.
// A nil publisher is safe to call; every method becomes a no-op, which lets
// services run without RabbitMQ in tests.
type PharmacyEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewPharmacyEventPublisher creates a new pharmacy event publisher
func NewPharmacyEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*PharmacyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePharmacyEvents, "pharmacy-service", log)
	if err != nil {
		return nil, err
	}

	return &PharmacyEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishStockConsumed publishes a stock consumed event
func (p *PharmacyEventPublisher) PublishStockConsumed(ctx context.Context, data messaging.StockConsumedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockConsumed, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", data.ProductID).Msg("failed to publish stock consumed event")
	}
}

// PublishStockRestored publishes a stock restored event
func (p *PharmacyEventPublisher) PublishStockRestored(ctx context.Context, data messaging.StockRestoredEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockRestored, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", data.ProductID).Msg("failed to publish stock restored event")
	}
}

// PublishStockShortfall publishes a tolerated shortfall event
func (p *PharmacyEventPublisher) PublishStockShortfall(ctx context.Context, data messaging.StockShortfallEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockShortfall, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", data.ProductID).Msg("failed to publish stock shortfall event")
	}
}

// PublishBatchCreated publishes a batch created event
func (p *PharmacyEventPublisher) PublishBatchCreated(ctx context.Context, data messaging.BatchCreatedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventBatchCreated, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", data.BatchID).Msg("failed to publish batch created event")
	}
}

// PublishBatchExpiring publishes a batch expiring event
func (p *PharmacyEventPublisher) PublishBatchExpiring(ctx context.Context, data messaging.BatchExpiringEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventBatchExpiring, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", data.BatchID).Msg("failed to publish batch expiring event")
	}
}

// PublishOrderCreated publishes an order created event
func (p *PharmacyEventPublisher) PublishOrderCreated(ctx context.Context, data messaging.OrderCreatedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventOrderCreated, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", data.OrderID).Msg("failed to publish order created event")
	}
}

// PublishOrderStatusChanged publishes an order status changed event
func (p *PharmacyEventPublisher) PublishOrderStatusChanged(ctx context.Context, data messaging.OrderStatusChangedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventOrderStatusChanged, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", data.OrderID).Msg("failed to publish order status changed event")
	}
}

// PublishOrderRefunded publishes an order refunded event
func (p *PharmacyEventPublisher) PublishOrderRefunded(ctx context.Context, data messaging.OrderRefundedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventOrderRefunded, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", data.OrderID).Msg("failed to publish order refunded event")
	}
}
