package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	apperrors "github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

func newTestDB(t *testing.T) (*database.DB, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	return database.NewFromSqlx(mockDB.DB, log), mockDB
}

func batchColumns() []string {
	return []string{"id", "product_id", "batch_number", "quantity", "expiry_date", "status", "received_at", "created_at", "updated_at"}
}

func TestBatchRepository_Create(t *testing.T) {
	db, mockDB := newTestDB(t)
	defer mockDB.Close()

	now := time.Now()
	mockDB.ExpectQuery("INSERT INTO batches").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

	repo := repository.NewBatchRepository(db)
	batch := &repository.Batch{
		ProductID:   "3f0c8a1e-0000-4000-8000-000000000001",
		BatchNumber: "BATCH-0001",
		Quantity:    50,
		ExpiryDate:  now.AddDate(0, 6, 0),
	}

	err := repo.Create(context.Background(), batch)
	require.NoError(t, err)

	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, repository.BatchStatusActive, batch.Status)
	assert.Equal(t, now, batch.CreatedAt)

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_GetByID_NotFound(t *testing.T) {
	db, mockDB := newTestDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT * FROM batches WHERE id = $1").
		WithArgs("missing-id").
		WillReturnRows(testutil.MockRows(batchColumns()...))

	repo := repository.NewBatchRepository(db)
	_, err := repo.GetByID(context.Background(), "missing-id")

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_ListActiveForUpdate(t *testing.T) {
	db, mockDB := newTestDB(t)
	defer mockDB.Close()

	now := time.Now()
	productID := "3f0c8a1e-0000-4000-8000-000000000001"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(productID, repository.BatchStatusActive).
		WillReturnRows(testutil.MockRows(batchColumns()...).
			AddRow("b1", productID, "BATCH-0001", 3, now.AddDate(0, 1, 0), "active", nil, now, now).
			AddRow("b2", productID, "BATCH-0002", 10, now.AddDate(0, 2, 0), "active", nil, now, now))
	mockDB.ExpectCommit()

	tx, err := mockDB.DB.Beginx()
	require.NoError(t, err)

	repo := repository.NewBatchRepository(db)
	batches, err := repo.ListActiveForUpdate(context.Background(), tx, productID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, batches, 2)
	assert.Equal(t, "b1", batches[0].ID)
	assert.Equal(t, 3, batches[0].Quantity)
	assert.Equal(t, "b2", batches[1].ID)

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_AddQuantityTx(t *testing.T) {
	db, mockDB := newTestDB(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -3, repository.BatchStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	tx, err := mockDB.DB.Beginx()
	require.NoError(t, err)

	repo := repository.NewBatchRepository(db)
	err = repo.AddQuantityTx(context.Background(), tx, "b1", -3)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_AddQuantityTx_GuardRejectsNegative(t *testing.T) {
	db, mockDB := newTestDB(t)
	defer mockDB.Close()

	// The WHERE guard matches no rows when the delta would drive quantity
	// below zero.
	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -100, repository.BatchStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	tx, err := mockDB.DB.Beginx()
	require.NoError(t, err)

	repo := repository.NewBatchRepository(db)
	err = repo.AddQuantityTx(context.Background(), tx, "b1", -100)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	require.NoError(t, tx.Rollback())

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_GetTotalStock(t *testing.T) {
	db, mockDB := newTestDB(t)
	defer mockDB.Close()

	productID := "3f0c8a1e-0000-4000-8000-000000000001"
	mockDB.ExpectQuery("COALESCE(SUM(quantity), 0)").
		WithArgs(productID, repository.BatchStatusActive).
		WillReturnRows(testutil.MockRows("coalesce").AddRow(13))

	repo := repository.NewBatchRepository(db)
	total, err := repo.GetTotalStock(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 13, total)

	mockDB.ExpectationsWereMet(t)
}
