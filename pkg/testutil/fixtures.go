package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductFixture represents test product data
type ProductFixture struct {
	ID          string
	Name        string
	GenericName string
	Category    string
	Unit        string
	Price       decimal.Decimal
	IsActive    bool
	CreatedAt   time.Time
}

// BatchFixture represents test batch data
type BatchFixture struct {
	ID          string
	ProductID   string
	BatchNumber string
	Quantity    int
	ExpiryDate  time.Time
	Status      string
	CreatedAt   time.Time
}

// OrderFixture represents test order data
type OrderFixture struct {
	ID          string
	Kind        string
	Status      string
	Remarks     string
	PatientName string
	CreatedBy   string
	CreatedAt   time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

func (f *FixtureFactory) next() int {
	f.sequence++
	return f.sequence
}

// Product creates a product fixture
func (f *FixtureFactory) Product(opts ...func(*ProductFixture)) *ProductFixture {
	n := f.next()
	p := &ProductFixture{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("Paracetamol %d", n),
		GenericName: "paracetamol",
		Category:    "analgesic",
		Unit:        "tablet",
		Price:       decimal.NewFromFloat(5.50),
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Batch creates a batch fixture for a product, expiring 180 days out
func (f *FixtureFactory) Batch(productID string, quantity int, opts ...func(*BatchFixture)) *BatchFixture {
	n := f.next()
	b := &BatchFixture{
		ID:          uuid.New().String(),
		ProductID:   productID,
		BatchNumber: fmt.Sprintf("BATCH-%04d", n),
		Quantity:    quantity,
		ExpiryDate:  time.Now().UTC().AddDate(0, 0, 180),
		Status:      "active",
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithExpiry overrides a batch fixture's expiry date
func WithExpiry(expiry time.Time) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = expiry
	}
}

// Order creates a patient order fixture
func (f *FixtureFactory) Order(opts ...func(*OrderFixture)) *OrderFixture {
	n := f.next()
	o := &OrderFixture{
		ID:          uuid.New().String(),
		Kind:        "patient",
		Status:      "pending",
		Remarks:     "preparing",
		PatientName: fmt.Sprintf("Patient %d", n),
		CreatedBy:   "test-user",
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
