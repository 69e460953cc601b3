// Package domain holds the order model and its two-dimensional state
// machine: payment status and fulfillment remarks.
package domain

import (
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// OrderKind discriminates the three order variants.
type OrderKind string

const (
	KindPatient  OrderKind = "patient"  // nurse-initiated patient request
	KindWalkIn   OrderKind = "walkin"   // point-of-sale counter sale
	KindInternal OrderKind = "internal" // ward/department replenishment request
)

// Status is the payment dimension of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusForPayment Status = "for_payment"
	StatusPaid       Status = "paid"
	StatusRefunded   Status = "refunded"
	StatusCanceled   Status = "canceled"
)

// Remarks is the fulfillment dimension. Patient orders move
// preparing->prepared->dispensed; internal requests move
// processing->ready->released. Walk-in sales have no remarks dimension.
type Remarks string

const (
	RemarksNone Remarks = ""

	RemarksPreparing Remarks = "preparing"
	RemarksPrepared  Remarks = "prepared"
	RemarksDispensed Remarks = "dispensed"

	RemarksProcessing Remarks = "processing"
	RemarksReady      Remarks = "ready"
	RemarksReleased   Remarks = "released"
)

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusForPayment, StatusCanceled},
	StatusForPayment: {StatusPaid, StatusCanceled},
	StatusPaid:       {StatusRefunded, StatusCanceled},
	StatusRefunded:   {},
	StatusCanceled:   {},
}

var remarksTransitions = map[OrderKind]map[Remarks][]Remarks{
	KindPatient: {
		RemarksPreparing: {RemarksPrepared},
		RemarksPrepared:  {RemarksDispensed},
		RemarksDispensed: {},
	},
	KindInternal: {
		RemarksProcessing: {RemarksReady},
		RemarksReady:      {RemarksReleased},
		RemarksReleased:   {},
	},
}

// InitialStatus returns the status a freshly created order starts in.
// Walk-in sales are paid at the counter and start directly at paid.
func InitialStatus(kind OrderKind) Status {
	if kind == KindWalkIn {
		return StatusPaid
	}
	return StatusPending
}

// InitialRemarks returns the starting fulfillment state for the kind.
func InitialRemarks(kind OrderKind) Remarks {
	switch kind {
	case KindPatient:
		return RemarksPreparing
	case KindInternal:
		return RemarksProcessing
	default:
		return RemarksNone
	}
}

// CanTransitionStatus reports whether the status change is allowed.
func CanTransitionStatus(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateStatusTransition returns an InvalidTransition error when the
// change is not allowed.
func ValidateStatusTransition(from, to Status) error {
	if !CanTransitionStatus(from, to) {
		return errors.InvalidTransition(string(from), string(to))
	}
	return nil
}

// ValidateRemarksTransition returns an InvalidTransition error when the
// fulfillment change is not allowed for the order kind.
func ValidateRemarksTransition(kind OrderKind, from, to Remarks) error {
	transitions, ok := remarksTransitions[kind]
	if !ok {
		return errors.InvalidTransition(string(from), string(to))
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return errors.InvalidTransition(string(from), string(to))
}

// ConsumesOnRemarks reports whether the given fulfillment transition
// consumes stock (dispense for patient orders, release for internal
// requests).
func ConsumesOnRemarks(to Remarks) bool {
	return to == RemarksDispensed || to == RemarksReleased
}

// IsTerminalStatus reports whether the status admits no further changes.
func IsTerminalStatus(s Status) bool {
	return len(statusTransitions[s]) == 0
}

// ValidKind reports whether the kind is one of the three order variants.
func ValidKind(kind OrderKind) bool {
	switch kind {
	case KindPatient, KindWalkIn, KindInternal:
		return true
	default:
		return false
	}
}
