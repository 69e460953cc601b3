package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/service"
	"github.com/pharmstock/pharmstock-backend/pkg/actor"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	apperrors "github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

const testProductID = "3f0c8a1e-0000-4000-8000-000000000001"

func testAllocConfig() config.AllocationConfig {
	return config.AllocationConfig{
		TxTimeout:           5 * time.Second,
		MaxRetries:          3,
		RetryBackoff:        time.Millisecond,
		AllowExpired:        false,
		RefundShelfLifeDays: 365,
	}
}

func newAllocService(t *testing.T) (*service.AllocationService, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	svc := service.NewAllocationService(
		db,
		repository.NewBatchRepository(db),
		repository.NewProductRepository(db),
		repository.NewMovementRepository(db),
		nil, // no event publisher in unit tests
		testAllocConfig(),
		log,
	)
	return svc, mockDB
}

// expectProductExists mocks the in-transaction existence probe that guards
// every consume and restore.
func expectProductExists(mockDB *testutil.MockDB, exists bool) {
	mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND is_active = true)").
		WithArgs(testProductID).
		WillReturnRows(testutil.MockRows("exists").AddRow(exists))
}

func allocBatchColumns() []string {
	return []string{"id", "product_id", "batch_number", "quantity", "expiry_date", "status", "received_at", "created_at", "updated_at"}
}

func TestAllocationService_Consume_FEFOAcrossBatches(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	// Rows arrive in expiry order from the locked query
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 3, now.AddDate(0, 1, 0), "active", nil, now, now).
			AddRow("b2", testProductID, "BATCH-0002", 10, now.AddDate(0, 6, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -3, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b2", -2, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	result, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  5,
		Reason:    "dispense",
		Policy:    service.ShortfallReject,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Consumed)
	assert.Equal(t, 0, result.Shortfall)
	require.Len(t, result.Deductions, 2)
	assert.Equal(t, "b1", result.Deductions[0].BatchID)
	assert.Equal(t, 3, result.Deductions[0].Quantity)
	assert.Equal(t, "b2", result.Deductions[1].BatchID)
	assert.Equal(t, 2, result.Deductions[1].Quantity)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_ShortfallRejected(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 2, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectRollback()

	_, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  5,
		Reason:    "walkin_sale",
		Policy:    service.ShortfallReject,
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientStock))

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "3", appErr.Details["shortfall"])

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_ShortfallTolerated(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 2, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -2, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	result, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  5,
		Reason:    "dispense",
		Policy:    service.ShortfallTolerate,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Consumed)
	assert.Equal(t, 3, result.Shortfall)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_InvalidQuantity(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	// Validation fails before any store access, but the retry wrapper has
	// already opened its transaction.
	mockDB.ExpectBegin()
	mockDB.ExpectRollback()

	_, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  0,
		Reason:    "dispense",
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidQuantity))

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Restore_TargetsMostRecentBatch(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 3, now.AddDate(0, 1, 0), "active", nil, now, now.Add(-time.Hour)).
			AddRow("b2", testProductID, "BATCH-0002", 10, now.AddDate(0, 6, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b2", 4, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	result, err := svc.Restore(context.Background(), service.RestoreRequest{
		ProductID: testProductID,
		Quantity:  4,
		Reason:    "refund",
	})
	require.NoError(t, err)

	assert.Equal(t, "b2", result.BatchID)
	assert.False(t, result.BatchCreated)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Restore_CreatesSyntheticBatch(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...))
	mockDB.ExpectQuery("INSERT INTO batches").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	result, err := svc.Restore(context.Background(), service.RestoreRequest{
		ProductID: testProductID,
		Quantity:  4,
		Reason:    "refund",
		OrderID:   "o1",
		LineID:    "l1",
	})
	require.NoError(t, err)

	assert.True(t, result.BatchCreated)
	assert.NotEmpty(t, result.BatchID)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_UnknownProduct(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	// Zero batch rows for a nonexistent product must not read as a
	// tolerable shortfall
	mockDB.ExpectBegin()
	expectProductExists(mockDB, false)
	mockDB.ExpectRollback()

	_, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  5,
		Reason:    "dispense",
		Policy:    service.ShortfallTolerate,
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Restore_UnknownProduct(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, false)
	mockDB.ExpectRollback()

	_, err := svc.Restore(context.Background(), service.RestoreRequest{
		ProductID: testProductID,
		Quantity:  4,
		Reason:    "refund",
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_LedgerRecordsContextActor(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 5, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -3, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WithArgs(testutil.AnyUUID{}, testProductID, "b1", nil, nil, "consume", 3, "dispense", "u42").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	ctx := actor.WithActor(context.Background(), &actor.Actor{ID: "u42", Name: "Ana", Role: actor.RolePharmacist})
	_, err := svc.Consume(ctx, service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  3,
		Reason:    "dispense",
		Policy:    service.ShortfallReject,
	})
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_LedgerFallsBackToSystemActor(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 5, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -3, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WithArgs(testutil.AnyUUID{}, testProductID, "b1", nil, nil, "consume", 3, "dispense", actor.SystemActor().ID).
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	// No actor in the context: the ledger is attributed to the system
	_, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  3,
		Reason:    "dispense",
		Policy:    service.ShortfallReject,
	})
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_RetriesOnSerializationFailure(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	now := time.Now()
	serializationErr := &pq.Error{Code: "40001"}

	// First two attempts conflict, third succeeds
	for i := 0; i < 2; i++ {
		mockDB.ExpectBegin()
		expectProductExists(mockDB, true)
		mockDB.ExpectQuery("FOR UPDATE").
			WithArgs(testProductID, "active").
			WillReturnError(serializationErr)
		mockDB.ExpectRollback()
	}
	mockDB.ExpectBegin()
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 5, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -5, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	result, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  5,
		Reason:    "dispense",
		Policy:    service.ShortfallReject,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Consumed)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationService_Consume_RetriesExhausted(t *testing.T) {
	svc, mockDB := newAllocService(t)
	defer mockDB.Close()

	serializationErr := &pq.Error{Code: "40P01"}

	for i := 0; i < 3; i++ {
		mockDB.ExpectBegin()
		expectProductExists(mockDB, true)
		mockDB.ExpectQuery("FOR UPDATE").
			WithArgs(testProductID, "active").
			WillReturnError(serializationErr)
		mockDB.ExpectRollback()
	}

	_, err := svc.Consume(context.Background(), service.ConsumeRequest{
		ProductID: testProductID,
		Quantity:  5,
		Reason:    "dispense",
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRetryExhausted))

	mockDB.ExpectationsWereMet(t)
}
