// Package allocation implements batch-level stock planning: FEFO
// consumption, restock target selection, and order-edit reconciliation.
// Planners are pure; they compute mutations over a snapshot of batches and
// leave applying them to the caller's transaction.
package allocation

import (
	"sort"
	"time"

	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// ExpiryPolicy controls whether expired batches are eligible for consumption.
type ExpiryPolicy int

const (
	// ExcludeExpired skips batches whose expiry date is not after the
	// planning time. Default for dispense and walk-in sale paths.
	ExcludeExpired ExpiryPolicy = iota
	// IncludeExpired allows expired batches to be drained.
	IncludeExpired
)

// BatchView is the snapshot of a batch the planners work on.
type BatchView struct {
	ID          string
	BatchNumber string
	Quantity    int
	ExpiryDate  time.Time
	UpdatedAt   time.Time
}

// Deduction is one planned quantity removal from a batch.
type Deduction struct {
	BatchID  string `json:"batch_id"`
	Quantity int    `json:"quantity"`
}

// ConsumptionPlan is the result of FEFO planning. Shortfall is the portion
// of the request that could not be covered; callers decide whether that is
// fatal.
type ConsumptionPlan struct {
	ProductID  string      `json:"product_id"`
	Requested  int         `json:"requested"`
	Deductions []Deduction `json:"deductions"`
	Shortfall  int         `json:"shortfall"`
}

// Consumed returns the total quantity the plan removes from stock.
func (p *ConsumptionPlan) Consumed() int {
	return p.Requested - p.Shortfall
}

// PlanConsumption selects batch deductions for the required quantity under
// FEFO ordering: soonest-expiring batches drain first, ties broken by batch
// id so repeated runs are deterministic. Only batches with positive quantity
// participate; expired batches participate only under IncludeExpired.
func PlanConsumption(productID string, batches []BatchView, required int, now time.Time, policy ExpiryPolicy) (*ConsumptionPlan, error) {
	if required <= 0 {
		return nil, errors.InvalidQuantity(required)
	}

	eligible := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		if b.Quantity <= 0 {
			continue
		}
		if policy == ExcludeExpired && !b.ExpiryDate.After(now) {
			continue
		}
		eligible = append(eligible, b)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].ExpiryDate.Equal(eligible[j].ExpiryDate) {
			return eligible[i].ExpiryDate.Before(eligible[j].ExpiryDate)
		}
		return eligible[i].ID < eligible[j].ID
	})

	plan := &ConsumptionPlan{
		ProductID:  productID,
		Requested:  required,
		Deductions: make([]Deduction, 0, len(eligible)),
	}

	remaining := required
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		plan.Deductions = append(plan.Deductions, Deduction{BatchID: b.ID, Quantity: take})
		remaining -= take
	}
	plan.Shortfall = remaining

	return plan, nil
}
