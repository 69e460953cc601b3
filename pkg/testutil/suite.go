package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// IntegrationEnvVar gates integration tests. They only run when it is set,
// so the default test run needs no Docker daemon.
const IntegrationEnvVar = "PHARMSTOCK_INTEGRATION"

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationEnabled reports whether integration tests should run
func IntegrationEnabled() bool {
	return os.Getenv(IntegrationEnvVar) != ""
}

// SkipUnlessIntegration skips the test unless integration mode is enabled
func SkipUnlessIntegration(t *testing.T) {
	t.Helper()
	if !IntegrationEnabled() {
		t.Skipf("skipping integration test: %s not set", IntegrationEnvVar)
	}
}

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
// Call this in TestMain after checking IntegrationEnabled.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    if testutil.IntegrationEnabled() {
//	        var err error
//	        suite, err = testutil.NewIntegrationSuite(ctx)
//	        if err != nil {
//	            log.Fatal(err)
//	        }
//	        defer testutil.TerminateContainer(ctx)
//	    }
//	    os.Exit(m.Run())
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	wrappedDB, err := database.NewWithDSN(container.DSN, log)
	if err != nil {
		return nil, err
	}

	if err := createSchema(ctx, db); err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrappedDB,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// TerminateContainer stops the shared container. Call from TestMain cleanup.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		_ = globalContainer.Terminate(ctx)
	}
}

// Truncate empties the given tables between tests
func (s *IntegrationSuite) Truncate(t *testing.T, ctx context.Context, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := s.RawDB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// TruncateAll empties every pharmacy table
func (s *IntegrationSuite) TruncateAll(t *testing.T, ctx context.Context) {
	s.Truncate(t, ctx, "stock_movements", "order_lines", "orders", "batches", "products", "notifications")
}

// Cleanup releases suite resources (not the shared container)
func (s *IntegrationSuite) Cleanup(ctx context.Context) {
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

func createSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			generic_name VARCHAR(255),
			category VARCHAR(100),
			unit VARCHAR(50) NOT NULL DEFAULT 'piece',
			price NUMERIC(12,2) NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			product_id UUID NOT NULL REFERENCES products(id),
			batch_number VARCHAR(100) NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0,
			expiry_date TIMESTAMPTZ NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			received_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_non_negative CHECK (quantity >= 0),
			CONSTRAINT batches_product_batch_number UNIQUE (product_id, batch_number)
		);
		CREATE INDEX IF NOT EXISTS idx_batches_product_expiry
			ON batches (product_id, expiry_date, id) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			kind VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			remarks VARCHAR(20) NOT NULL,
			patient_name VARCHAR(255),
			department VARCHAR(100),
			discount_type VARCHAR(20),
			subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			vat_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			total NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_by VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS order_lines (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id UUID NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL,
			refunded_qty INTEGER NOT NULL DEFAULT 0,
			unit_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT order_lines_order_product UNIQUE (order_id, product_id),
			CONSTRAINT refunded_within_ordered CHECK (refunded_qty >= 0 AND refunded_qty <= quantity)
		);

		CREATE TABLE IF NOT EXISTS stock_movements (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			product_id UUID NOT NULL REFERENCES products(id),
			batch_id UUID NOT NULL REFERENCES batches(id),
			order_id UUID,
			line_id UUID,
			movement_type VARCHAR(20) NOT NULL,
			quantity INTEGER NOT NULL,
			reason VARCHAR(100) NOT NULL,
			performed_by VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_stock_movements_product
			ON stock_movements (product_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			event_type VARCHAR(100) NOT NULL,
			target_role VARCHAR(50) NOT NULL DEFAULT '',
			subject VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			severity VARCHAR(20) NOT NULL DEFAULT 'info',
			read BOOLEAN NOT NULL DEFAULT false,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create test schema: %w", err)
	}

	return nil
}
