package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/domain"
	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/service"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// OrderHandler handles order endpoints
type OrderHandler struct {
	service *service.OrderService
	logger  *logger.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(svc *service.OrderService, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  log,
	}
}

// List lists orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	kind := r.URL.Query().Get("kind")
	status := r.URL.Query().Get("status")

	orders, total, err := h.service.ListOrders(r.Context(), page, perPage, kind, status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, orders, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages(total, perPage),
	})
}

// Get gets an order with its lines
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, order)
}

// Create creates an order. Walk-in sales consume stock immediately.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, order)
}

// UpdateStatus transitions the order's payment status
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status" validate:"required,oneof=pending for_payment paid refunded canceled"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	order, err := h.service.TransitionStatus(r.Context(), id, domain.Status(req.Status))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, order)
}

// UpdateRemarks transitions the order's fulfillment progress. Reaching
// dispensed or released consumes stock.
func (h *OrderHandler) UpdateRemarks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Remarks string `json:"remarks" validate:"required,oneof=preparing prepared dispensed processing ready released"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	order, err := h.service.TransitionRemarks(r.Context(), id, domain.Remarks(req.Remarks))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, order)
}

// Refund refunds quantities on specific order lines
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Lines []service.RefundLineInput `json:"lines" validate:"required,min=1,dive"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	order, err := h.service.RefundLines(r.Context(), id, req.Lines)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, order)
}

// EditLines replaces an order's lines, reconciling stock when the order is
// already in a stock-committing state
func (h *OrderHandler) EditLines(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Lines []service.LineInput `json:"lines" validate:"required,min=1,dive"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	order, err := h.service.EditOrder(r.Context(), id, req.Lines)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, order)
}
