package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/domain"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/service"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	apperrors "github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

func newOrderService(t *testing.T) (*service.OrderService, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	alloc := service.NewAllocationService(
		db,
		repository.NewBatchRepository(db),
		repository.NewProductRepository(db),
		repository.NewMovementRepository(db),
		nil,
		testAllocConfig(),
		log,
	)
	billing := service.NewBillingCalculator(config.BillingConfig{VATRate: "0.12", DiscountRate: "0.20"})

	svc := service.NewOrderService(
		db,
		repository.NewOrderRepository(db),
		repository.NewProductRepository(db),
		alloc,
		billing,
		nil,
		log,
	)
	return svc, mockDB
}

func orderColumns() []string {
	return []string{"id", "kind", "status", "remarks", "patient_name", "department", "discount_type",
		"subtotal", "discount_amount", "vat_amount", "total", "created_by", "created_at", "updated_at"}
}

func orderLineColumns() []string {
	return []string{"id", "order_id", "product_id", "quantity", "refunded_qty", "unit_price", "created_at", "updated_at"}
}

func expectOrderLock(mockDB *testutil.MockDB, kind, status, remarks string, lineQty, refundedQty int) {
	now := time.Now()
	mockDB.ExpectQuery("SELECT * FROM orders WHERE id = $1 FOR UPDATE").
		WithArgs("o1").
		WillReturnRows(testutil.MockRows(orderColumns()...).
			AddRow("o1", kind, status, remarks, nil, nil, nil,
				"100.00", "0.00", "12.00", "112.00", "u1", now, now))
	mockDB.ExpectQuery("SELECT * FROM order_lines WHERE order_id = $1 ORDER BY created_at ASC, id ASC FOR UPDATE").
		WithArgs("o1").
		WillReturnRows(testutil.MockRows(orderLineColumns()...).
			AddRow("l1", "o1", testProductID, lineQty, refundedQty, "20.00", now, now))
}

func TestOrderService_TransitionRemarks_DispenseToleratesShortfall(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "patient", "paid", "prepared", 5, 0)
	expectProductExists(mockDB, true)
	// Only 2 units left; dispense still proceeds
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 2, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -2, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE orders SET remarks").
		WithArgs("o1", "dispensed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	order, err := svc.TransitionRemarks(context.Background(), "o1", domain.RemarksDispensed)
	require.NoError(t, err)
	assert.Equal(t, "dispensed", order.Remarks)

	mockDB.ExpectationsWereMet(t)
}

func TestOrderService_TransitionRemarks_ReleaseRejectsShortfall(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "internal", "paid", "ready", 5, 0)
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 2, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectRollback()

	_, err := svc.TransitionRemarks(context.Background(), "o1", domain.RemarksReleased)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientStock))

	mockDB.ExpectationsWereMet(t)
}

func TestOrderService_TransitionRemarks_InvalidTransition(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "patient", "paid", "preparing", 5, 0)
	mockDB.ExpectRollback()

	// preparing cannot jump straight to dispensed
	_, err := svc.TransitionRemarks(context.Background(), "o1", domain.RemarksDispensed)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestOrderService_TransitionStatus_InvalidTransition(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "patient", "paid", "dispensed", 5, 0)
	mockDB.ExpectRollback()

	_, err := svc.TransitionStatus(context.Background(), "o1", domain.StatusPending)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestOrderService_RefundLines_CapCheckedBeforeBatchMutation(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	now := time.Now()

	// Line has ordered 5, refunded 3; refunding 4 more must fail before any
	// batch write happens.
	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "walkin", "paid", "", 5, 3)
	mockDB.ExpectExec("UPDATE order_lines").
		WithArgs("l1", 4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectQuery("SELECT * FROM order_lines WHERE id = $1").
		WithArgs("l1").
		WillReturnRows(testutil.MockRows(orderLineColumns()...).
			AddRow("l1", "o1", testProductID, 5, 3, "20.00", now, now))
	mockDB.ExpectRollback()

	_, err := svc.RefundLines(context.Background(), "o1", []service.RefundLineInput{
		{LineID: "l1", Quantity: 4},
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRefundExceeded))

	mockDB.ExpectationsWereMet(t)
}

func TestOrderService_RefundLines_RestoresAndCompletesRefund(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "walkin", "paid", "", 5, 3)
	mockDB.ExpectExec("UPDATE order_lines").
		WithArgs("l1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 0, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", 2, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	// Fully refunded now, so the order status advances
	mockDB.ExpectExec("UPDATE orders SET status").
		WithArgs("o1", "refunded").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	order, err := svc.RefundLines(context.Background(), "o1", []service.RefundLineInput{
		{LineID: "l1", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "refunded", order.Status)

	mockDB.ExpectationsWereMet(t)
}

func productColumns() []string {
	return []string{"id", "name", "generic_name", "category", "unit", "price", "is_active", "created_at", "updated_at"}
}

func expectProductLookup(mockDB *testutil.MockDB, price string) {
	now := time.Now()
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 AND is_active = true").
		WithArgs(testProductID).
		WillReturnRows(testutil.MockRows(productColumns()...).
			AddRow(testProductID, "Paracetamol", nil, nil, "tablet", price, true, now, now))
}

func TestOrderService_EditOrder_BeforeConsumptionTouchesNoBatches(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	// Patient order awaiting payment: its stock has not been consumed, so
	// raising a line from 5 to 8 must only rewrite the line and totals.
	// Dispense later charges the full 8 against the batches.
	expectProductLookup(mockDB, "20.00")

	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "patient", "for_payment", "preparing", 5, 0)
	mockDB.ExpectExec("UPDATE order_lines SET quantity").
		WithArgs("l1", 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE orders SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	order, err := svc.EditOrder(context.Background(), "o1", []service.LineInput{
		{ProductID: testProductID, Quantity: 8},
	})
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 8, order.Lines[0].Quantity)

	mockDB.ExpectationsWereMet(t)
}

func TestOrderService_EditOrder_AfterConsumptionReconcilesDelta(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	now := time.Now()

	// Walk-in sales consume at creation, so raising a line from 5 to 8
	// deducts exactly the 3-unit delta.
	expectProductLookup(mockDB, "20.00")

	mockDB.ExpectBegin()
	expectOrderLock(mockDB, "walkin", "paid", "", 5, 0)
	expectProductExists(mockDB, true)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs(testProductID, "active").
		WillReturnRows(testutil.MockRows(allocBatchColumns()...).
			AddRow("b1", testProductID, "BATCH-0001", 10, now.AddDate(0, 1, 0), "active", nil, now, now))
	mockDB.ExpectExec("UPDATE batches").
		WithArgs("b1", -3, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE order_lines SET quantity").
		WithArgs("l1", 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE orders SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	order, err := svc.EditOrder(context.Background(), "o1", []service.LineInput{
		{ProductID: testProductID, Quantity: 8},
	})
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 8, order.Lines[0].Quantity)

	mockDB.ExpectationsWereMet(t)
}

func TestOrderService_CreateOrder_RejectsUnknownKind(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	_, err := svc.CreateOrder(context.Background(), service.CreateOrderRequest{
		Kind:  "delivery",
		Lines: []service.LineInput{{ProductID: testProductID, Quantity: 1}},
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
}

func TestOrderService_CreateOrder_RejectsDuplicateProducts(t *testing.T) {
	svc, mockDB := newOrderService(t)
	defer mockDB.Close()

	expectProductLookup(mockDB, "5.50")

	_, err := svc.CreateOrder(context.Background(), service.CreateOrderRequest{
		Kind: "patient",
		Lines: []service.LineInput{
			{ProductID: testProductID, Quantity: 1},
			{ProductID: testProductID, Quantity: 2},
		},
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))

	mockDB.ExpectationsWereMet(t)
}
