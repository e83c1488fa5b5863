package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arcadeops/backend/internal/services"
)

type RefundHandler struct {
	service   *services.RefundService
	engine    *services.LedgerEngine
	validator *services.ValidationHelper
}

func NewRefundHandler(service *services.RefundService, engine *services.LedgerEngine) *RefundHandler {
	return &RefundHandler{
		service:   service,
		engine:    engine,
		validator: services.NewValidationHelper(),
	}
}

type refundRequestBody struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type approveRequestBody struct {
	ActualAmount *decimal.Decimal `json:"actualAmount"`
}

type rejectRequestBody struct {
	Note string `json:"note" validate:"max=500"`
}

// RequestRefund opens a refund request for the full current balance
// @Summary Request a refund
// @Description Snapshot the current balance into a pending refund request
// @Tags refund
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body refundRequestBody true "Refund reason"
// @Success 200 {object} models.RefundRequest
// @Failure 400 {object} services.ErrorResponse "Zero balance"
// @Router /refunds [post]
func (h *RefundHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := r.Context().Value("operatorID").(int64)
	if !ok || operatorID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req refundRequestBody
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := h.engine.AccountByOperator(r.Context(), operatorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	refund, err := h.service.Request(r.Context(), account.ID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, refund)
}

// ApproveRefund approves a pending refund and debits the balance
// @Summary Approve a refund
// @Description Debit the account and mark the refund approved; fails if the balance no longer covers the amount
// @Tags refund
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param refundId path int true "Refund ID"
// @Param request body approveRequestBody false "Optional partial amount"
// @Success 200 {object} models.RefundRequest
// @Failure 402 {object} services.ErrorResponse "Insufficient balance"
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Not pending"
// @Router /refunds/{refundId}/approve [post]
func (h *RefundHandler) ApproveRefund(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := r.Context().Value("operatorID").(int64)
	if !ok || reviewerID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	refundID, err := strconv.ParseInt(chi.URLParam(r, "refundId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid refund ID", http.StatusBadRequest, nil)
		return
	}

	var req approveRequestBody
	if r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
		if err := dec.Decode(&req); err != nil && err != io.EOF {
			services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	refund, err := h.service.Approve(r.Context(), refundID, reviewerID, req.ActualAmount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, refund)
}

// RejectRefund rejects a pending refund
// @Summary Reject a refund
// @Description Close a pending refund with no balance effect
// @Tags refund
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param refundId path int true "Refund ID"
// @Param request body rejectRequestBody false "Review note"
// @Success 200 {object} models.RefundRequest
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Not pending"
// @Router /refunds/{refundId}/reject [post]
func (h *RefundHandler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := r.Context().Value("operatorID").(int64)
	if !ok || reviewerID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	refundID, err := strconv.ParseInt(chi.URLParam(r, "refundId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid refund ID", http.StatusBadRequest, nil)
		return
	}

	var req rejectRequestBody
	if r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
		if err := dec.Decode(&req); err != nil && err != io.EOF {
			services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	refund, err := h.service.Reject(r.Context(), refundID, reviewerID, req.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, refund)
}

// ListPendingRefunds lists refunds awaiting review
// @Summary List pending refunds
// @Tags refund
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows" default(50)
// @Success 200 {array} models.RefundRequest
// @Router /refunds/pending [get]
func (h *RefundHandler) ListPendingRefunds(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	refunds, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list refunds", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, refunds)
}
