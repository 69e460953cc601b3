package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Stock events
	EventStockConsumed  = "pharmacy.stock.consumed"
	EventStockRestored  = "pharmacy.stock.restored"
	EventStockShortfall = "pharmacy.stock.shortfall"
	EventBatchCreated   = "pharmacy.batch.created"
	EventBatchExpiring  = "pharmacy.batch.expiring"

	// Order events
	EventOrderCreated       = "pharmacy.order.created"
	EventOrderStatusChanged = "pharmacy.order.status_changed"
	EventOrderRefunded      = "pharmacy.order.refunded"
)

// Exchange names
const (
	ExchangePharmacyEvents = "pharmacy.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// BatchDeduction is one batch-level deduction within a consumption
type BatchDeduction struct {
	BatchID  string `json:"batch_id"`
	Quantity int    `json:"quantity"`
}

// StockConsumedEvent is published after a FEFO consumption commits
type StockConsumedEvent struct {
	ProductID  string           `json:"product_id"`
	OrderID    string           `json:"order_id,omitempty"`
	Reason     string           `json:"reason"`
	Requested  int              `json:"requested"`
	Consumed   int              `json:"consumed"`
	Shortfall  int              `json:"shortfall"`
	Deductions []BatchDeduction `json:"deductions"`
}

// StockRestoredEvent is published after a restock commits
type StockRestoredEvent struct {
	ProductID    string `json:"product_id"`
	OrderID      string `json:"order_id,omitempty"`
	BatchID      string `json:"batch_id"`
	Quantity     int    `json:"quantity"`
	BatchCreated bool   `json:"batch_created"`
	Reason       string `json:"reason"`
}

// StockShortfallEvent is published when a tolerated shortfall occurs
type StockShortfallEvent struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id,omitempty"`
	Requested int    `json:"requested"`
	Shortfall int    `json:"shortfall"`
	Reason    string `json:"reason"`
}

// BatchCreatedEvent is published when a batch is created, including the
// synthetic batches created for refunds with no restock target
type BatchCreatedEvent struct {
	BatchID     string    `json:"batch_id"`
	ProductID   string    `json:"product_id"`
	BatchNumber string    `json:"batch_number"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiry_date"`
	Synthetic   bool      `json:"synthetic"`
}

// BatchExpiringEvent is published when a batch is nearing expiry
type BatchExpiringEvent struct {
	ProductID   string    `json:"product_id"`
	BatchID     string    `json:"batch_id"`
	ProductName string    `json:"product_name"`
	BatchNumber string    `json:"batch_number"`
	ExpiryDate  time.Time `json:"expiry_date"`
	DaysUntil   int       `json:"days_until"`
	Quantity    int       `json:"quantity"`
}

// Order Events

// OrderCreatedEvent is published when an order is created
type OrderCreatedEvent struct {
	OrderID string `json:"order_id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Total   string `json:"total,omitempty"`
}

// OrderStatusChangedEvent is published on any status or remarks transition
type OrderStatusChangedEvent struct {
	OrderID   string `json:"order_id"`
	Kind      string `json:"kind"`
	Dimension string `json:"dimension"` // status or remarks
	From      string `json:"from"`
	To        string `json:"to"`
}

// RefundedLine is one refunded order line
type RefundedLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderRefundedEvent is published after a refund commits
type OrderRefundedEvent struct {
	OrderID string         `json:"order_id"`
	Kind    string         `json:"kind"`
	Lines   []RefundedLine `json:"lines"`
	Amount  string         `json:"amount,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
