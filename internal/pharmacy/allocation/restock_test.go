package allocation_test

import (
	"testing"
	"time"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/allocation"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touched(id string, updatedAt time.Time) allocation.BatchView {
	return allocation.BatchView{ID: id, Quantity: 1, ExpiryDate: day(365), UpdatedAt: updatedAt}
}

func TestPlanRestock_TargetsMostRecentlyUpdatedBatch(t *testing.T) {
	batches := []allocation.BatchView{
		touched("old", now.Add(-48*time.Hour)),
		touched("newest", now.Add(-1*time.Hour)),
		touched("middle", now.Add(-24*time.Hour)),
	}

	target, err := allocation.PlanRestock(batches, 3)
	require.NoError(t, err)
	assert.False(t, target.Create)
	assert.Equal(t, "newest", target.BatchID)
}

func TestPlanRestock_TieBreaksOnBatchID(t *testing.T) {
	ts := now.Add(-time.Hour)
	batches := []allocation.BatchView{
		touched("b-zulu", ts),
		touched("b-alpha", ts),
	}

	target, err := allocation.PlanRestock(batches, 2)
	require.NoError(t, err)
	assert.Equal(t, "b-alpha", target.BatchID)
}

func TestPlanRestock_NoBatchesRequestsCreation(t *testing.T) {
	target, err := allocation.PlanRestock(nil, 4)
	require.NoError(t, err)
	assert.True(t, target.Create)
	assert.Empty(t, target.BatchID)
}

func TestPlanRestock_InvalidQuantity(t *testing.T) {
	for _, qty := range []int{0, -5} {
		_, err := allocation.PlanRestock(nil, qty)
		assert.True(t, errors.Is(err, errors.ErrInvalidQuantity), "qty=%d", qty)
	}
}

func TestRefundBatchNumber(t *testing.T) {
	got := allocation.RefundBatchNumber("WALKIN", "order-42", "line-7")
	assert.Equal(t, "REFUND-WALKIN-order-42-line-7", got)
}
