package service_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/service"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	if testutil.IntegrationEnabled() {
		var err error
		suite, err = testutil.NewIntegrationSuite(ctx)
		if err != nil {
			log.Fatalf("failed to create integration suite: %v", err)
		}
		defer suite.Cleanup(ctx)
		defer testutil.TerminateContainer(ctx)
	}

	os.Exit(m.Run())
}

func integrationAlloc(t *testing.T) (*service.AllocationService, *repository.BatchRepository, *repository.ProductRepository) {
	t.Helper()
	batchRepo := repository.NewBatchRepository(suite.DB)
	productRepo := repository.NewProductRepository(suite.DB)
	movements := repository.NewMovementRepository(suite.DB)

	alloc := service.NewAllocationService(
		suite.DB,
		batchRepo,
		productRepo,
		movements,
		nil,
		config.AllocationConfig{
			TxTimeout:           15 * time.Second,
			MaxRetries:          3,
			RetryBackoff:        50 * time.Millisecond,
			RefundShelfLifeDays: 365,
		},
		suite.Logger,
	)
	return alloc, batchRepo, productRepo
}

func createIntegrationProduct(t *testing.T, ctx context.Context, productRepo *repository.ProductRepository) *repository.Product {
	t.Helper()
	fixture := suite.Fixtures.Product()
	product := &repository.Product{
		Name:     fixture.Name,
		Unit:     fixture.Unit,
		Price:    decimal.NewFromFloat(5.50),
		IsActive: true,
	}
	require.NoError(t, productRepo.Create(ctx, product))
	return product
}

func TestIntegration_ConsumeFollowsExpiryOrder(t *testing.T) {
	testutil.SkipUnlessIntegration(t)
	ctx := context.Background()

	alloc, batchRepo, productRepo := integrationAlloc(t)
	product := createIntegrationProduct(t, ctx, productRepo)

	soon := &repository.Batch{
		ProductID:   product.ID,
		BatchNumber: "INT-SOON",
		Quantity:    3,
		ExpiryDate:  time.Now().UTC().AddDate(0, 1, 0),
	}
	later := &repository.Batch{
		ProductID:   product.ID,
		BatchNumber: "INT-LATER",
		Quantity:    10,
		ExpiryDate:  time.Now().UTC().AddDate(0, 6, 0),
	}
	require.NoError(t, batchRepo.Create(ctx, soon))
	require.NoError(t, batchRepo.Create(ctx, later))

	result, err := alloc.Consume(ctx, service.ConsumeRequest{
		ProductID: product.ID,
		Quantity:  5,
		Reason:    "dispense",
		Policy:    service.ShortfallReject,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Consumed)
	assert.Equal(t, 0, result.Shortfall)

	soonAfter, err := batchRepo.GetByID(ctx, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, soonAfter.Quantity)

	laterAfter, err := batchRepo.GetByID(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, laterAfter.Quantity)

	total, err := batchRepo.GetTotalStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, total)
}

func TestIntegration_RestoreCreatesSyntheticBatchWhenEmpty(t *testing.T) {
	testutil.SkipUnlessIntegration(t)
	ctx := context.Background()

	alloc, batchRepo, productRepo := integrationAlloc(t)
	product := createIntegrationProduct(t, ctx, productRepo)

	result, err := alloc.Restore(ctx, service.RestoreRequest{
		ProductID: product.ID,
		Quantity:  4,
		Reason:    "refund",
		OrderID:   "order-int-1",
		LineID:    "line-int-1",
	})
	require.NoError(t, err)

	assert.True(t, result.BatchCreated)

	batch, err := batchRepo.GetByID(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 4, batch.Quantity)
	assert.Contains(t, batch.BatchNumber, "REFUND-")
}

func TestIntegration_ConcurrentConsumersNeverOversell(t *testing.T) {
	testutil.SkipUnlessIntegration(t)
	ctx := context.Background()

	alloc, batchRepo, productRepo := integrationAlloc(t)
	product := createIntegrationProduct(t, ctx, productRepo)

	batch := &repository.Batch{
		ProductID:   product.ID,
		BatchNumber: "INT-CONC",
		Quantity:    10,
		ExpiryDate:  time.Now().UTC().AddDate(0, 3, 0),
	}
	require.NoError(t, batchRepo.Create(ctx, batch))

	// 5 workers each try to take 3; at most 3 can succeed
	const workers = 5
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := alloc.Consume(ctx, service.ConsumeRequest{
				ProductID: product.ID,
				Quantity:  3,
				Reason:    "walkin_sale",
				Policy:    service.ShortfallReject,
			})
			errs <- err
		}()
	}

	succeeded := 0
	for i := 0; i < workers; i++ {
		if err := <-errs; err == nil {
			succeeded++
		}
	}
	assert.LessOrEqual(t, succeeded, 3)

	after, err := batchRepo.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.Quantity, 0)
	assert.Equal(t, 10-succeeded*3, after.Quantity)
}
