package allocation

import (
	"fmt"

	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// RestockTarget names the batch that receives a returned quantity, or asks
// the caller to create a synthetic batch when no active batch exists.
type RestockTarget struct {
	BatchID string `json:"batch_id,omitempty"`
	Create  bool   `json:"create"`
}

// PlanRestock picks the restock target: the most recently updated batch in
// the snapshot, with batch id as tie-break. The full quantity goes to one
// batch; returns are never split, because per-unit batch provenance is not
// tracked. An empty snapshot means a synthetic batch must be created.
func PlanRestock(batches []BatchView, returnQty int) (*RestockTarget, error) {
	if returnQty <= 0 {
		return nil, errors.InvalidQuantity(returnQty)
	}

	if len(batches) == 0 {
		return &RestockTarget{Create: true}, nil
	}

	target := batches[0]
	for _, b := range batches[1:] {
		if b.UpdatedAt.After(target.UpdatedAt) {
			target = b
		} else if b.UpdatedAt.Equal(target.UpdatedAt) && b.ID < target.ID {
			target = b
		}
	}

	return &RestockTarget{BatchID: target.ID}, nil
}

// RefundBatchNumber builds the batch number for a synthetic refund batch.
func RefundBatchNumber(context, orderID, lineID string) string {
	return fmt.Sprintf("REFUND-%s-%s-%s", context, orderID, lineID)
}
