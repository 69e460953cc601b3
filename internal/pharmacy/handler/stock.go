package handler

import (
	"net/http"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/service"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// StockHandler exposes direct stock allocation operations for callers that
// manage their own order bookkeeping (manual adjustments, corrections).
type StockHandler struct {
	service *service.AllocationService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.AllocationService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

// Consume deducts stock from a product's batches in expiry order
func (h *StockHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id" validate:"required,uuid"`
		Quantity  int    `json:"quantity" validate:"required,gt=0"`
		Reason    string `json:"reason" validate:"required"`
		Tolerate  bool   `json:"tolerate_shortfall"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	policy := service.ShortfallReject
	if req.Tolerate {
		policy = service.ShortfallTolerate
	}

	result, err := h.service.Consume(r.Context(), service.ConsumeRequest{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Policy:    policy,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Restore returns stock to a product's batches
func (h *StockHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id" validate:"required,uuid"`
		Quantity  int    `json:"quantity" validate:"required,gt=0"`
		Reason    string `json:"reason" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Restore(r.Context(), service.RestoreRequest{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
