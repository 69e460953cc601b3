package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// IsSerializationFailure reports whether the error is a transient transaction
// conflict that is safe to retry: serialization_failure (40001) or
// deadlock_detected (40P01).
func IsSerializationFailure(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		// sqlx/database wrappers may wrap the pq error
		if !errors.As(err, &pqErr) {
			return false
		}
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		// A deduction raced past the available stock; surfaced as a
		// conflict so the allocation layer can retry or reject.
		return errors.Conflict("batch quantity cannot go negative")

	case strings.Contains(constraint, "refunded_within_ordered"):
		return errors.BadRequest("refunded quantity cannot exceed ordered quantity")

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "invalid status value",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "batch_number"):
		return "a batch with this batch number already exists for the product"
	case strings.Contains(constraint, "order_lines_order_product"):
		return "the order already contains a line for this product"
	default:
		return "a record with these values already exists"
	}
}
