package domain_test

import (
	"testing"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/domain"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, domain.StatusPending, domain.InitialStatus(domain.KindPatient))
	assert.Equal(t, domain.StatusPending, domain.InitialStatus(domain.KindInternal))
	// Walk-in sales are paid at the counter.
	assert.Equal(t, domain.StatusPaid, domain.InitialStatus(domain.KindWalkIn))
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to domain.Status }{
		{domain.StatusPending, domain.StatusForPayment},
		{domain.StatusPending, domain.StatusCanceled},
		{domain.StatusForPayment, domain.StatusPaid},
		{domain.StatusForPayment, domain.StatusCanceled},
		{domain.StatusPaid, domain.StatusRefunded},
		{domain.StatusPaid, domain.StatusCanceled},
	}
	for _, tt := range allowed {
		assert.NoError(t, domain.ValidateStatusTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	denied := []struct{ from, to domain.Status }{
		{domain.StatusPending, domain.StatusPaid},
		{domain.StatusPaid, domain.StatusPending},
		{domain.StatusRefunded, domain.StatusPaid},
		{domain.StatusCanceled, domain.StatusForPayment},
		{domain.StatusRefunded, domain.StatusCanceled},
	}
	for _, tt := range denied {
		err := domain.ValidateStatusTransition(tt.from, tt.to)
		assert.True(t, errors.Is(err, errors.ErrInvalidTransition), "%s -> %s", tt.from, tt.to)
	}
}

func TestRemarksTransitions(t *testing.T) {
	assert.NoError(t, domain.ValidateRemarksTransition(domain.KindPatient, domain.RemarksPreparing, domain.RemarksPrepared))
	assert.NoError(t, domain.ValidateRemarksTransition(domain.KindPatient, domain.RemarksPrepared, domain.RemarksDispensed))
	assert.NoError(t, domain.ValidateRemarksTransition(domain.KindInternal, domain.RemarksProcessing, domain.RemarksReady))
	assert.NoError(t, domain.ValidateRemarksTransition(domain.KindInternal, domain.RemarksReady, domain.RemarksReleased))

	// Skipping a step is not allowed.
	assert.Error(t, domain.ValidateRemarksTransition(domain.KindPatient, domain.RemarksPreparing, domain.RemarksDispensed))
	// Cross-kind remarks are not allowed.
	assert.Error(t, domain.ValidateRemarksTransition(domain.KindPatient, domain.RemarksProcessing, domain.RemarksReady))
	// Walk-in sales have no remarks dimension.
	assert.Error(t, domain.ValidateRemarksTransition(domain.KindWalkIn, domain.RemarksPreparing, domain.RemarksPrepared))
	// Terminal remarks admit nothing further.
	assert.Error(t, domain.ValidateRemarksTransition(domain.KindPatient, domain.RemarksDispensed, domain.RemarksPreparing))
}

func TestConsumesOnRemarks(t *testing.T) {
	assert.True(t, domain.ConsumesOnRemarks(domain.RemarksDispensed))
	assert.True(t, domain.ConsumesOnRemarks(domain.RemarksReleased))
	assert.False(t, domain.ConsumesOnRemarks(domain.RemarksPrepared))
	assert.False(t, domain.ConsumesOnRemarks(domain.RemarksReady))
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, domain.IsTerminalStatus(domain.StatusRefunded))
	assert.True(t, domain.IsTerminalStatus(domain.StatusCanceled))
	assert.False(t, domain.IsTerminalStatus(domain.StatusPaid))
}

func TestValidKind(t *testing.T) {
	assert.True(t, domain.ValidKind(domain.KindPatient))
	assert.True(t, domain.ValidKind(domain.KindWalkIn))
	assert.True(t, domain.ValidKind(domain.KindInternal))
	assert.False(t, domain.ValidKind(domain.OrderKind("bulk")))
}
