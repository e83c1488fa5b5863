package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arcadeops/backend/internal/services"
)

type BillingHandler struct {
	service   *services.BillingService
	engine    *services.LedgerEngine
	validator *services.ValidationHelper
}

func NewBillingHandler(service *services.BillingService, engine *services.LedgerEngine) *BillingHandler {
	return &BillingHandler{
		service:   service,
		engine:    engine,
		validator: services.NewValidationHelper(),
	}
}

type authorizeRequest struct {
	SessionID     string `json:"sessionId" validate:"required,max=64"`
	SiteID        int64  `json:"siteId" validate:"required,gt=0"`
	ApplicationID int64  `json:"applicationId" validate:"required,gt=0"`
	PlayerCount   int    `json:"playerCount" validate:"required,gt=0,lte=64"`
}

// AuthorizeSession authorizes a game session and debits the balance
// @Summary Authorize a game session
// @Description Debit the operator balance for one game session; retries with the same session id return the original authorization
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body authorizeRequest true "Session authorization request"
// @Success 200 {object} models.UsageRecord
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse "Insufficient balance"
// @Failure 403 {object} services.ErrorResponse "Site not owned or app not authorized"
// @Failure 404 {object} services.ErrorResponse
// @Router /sessions/authorize [post]
func (h *BillingHandler) AuthorizeSession(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := r.Context().Value("operatorID").(int64)
	if !ok || operatorID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req authorizeRequest
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

	// Ownership and plan checks are the boundary's job; the engine only
	// sees the account and the amount.
	owned, err := h.service.SiteOwnedBy(r.Context(), req.SiteID, operatorID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to verify site", http.StatusInternalServerError, nil)
		return
	}
	if !owned {
		services.SendErrorResponse(w, "Site not owned by operator", http.StatusForbidden, nil)
		return
	}

	authorized, err := h.service.AppAuthorizedFor(r.Context(), req.ApplicationID, operatorID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to verify application", http.StatusInternalServerError, nil)
		return
	}
	if !authorized {
		services.SendErrorResponse(w, "Application not authorized for operator", http.StatusForbidden, nil)
		return
	}

	account, err := h.engine.AccountByOperator(r.Context(), operatorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	record, err := h.service.Authorize(r.Context(), services.AuthorizeParams{
		SessionID:     req.SessionID,
		AccountID:     account.ID,
		SiteID:        req.SiteID,
		ApplicationID: req.ApplicationID,
		PlayerCount:   req.PlayerCount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, record)
}

// GetSession returns an existing session authorization
// @Summary Get a session authorization
// @Description Fetch the usage record for a session id
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} models.UsageRecord
// @Failure 404 {object} services.ErrorResponse
// @Router /sessions/{sessionId} [get]
func (h *BillingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		services.SendErrorResponse(w, "Session ID required", http.StatusBadRequest, nil)
		return
	}

	record, err := h.service.GetUsage(r.Context(), sessionID)
	if err != nil {
		services.SendErrorResponse(w, "Session not found", http.StatusNotFound, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, record)
}

// writeServiceError maps service failures onto HTTP statuses. Business
// rejections keep their detail; infrastructure failures collapse to 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *services.InsufficientBalanceError
	var mismatch *services.AmountMismatchError

	switch {
	case errors.As(err, &insufficient):
		services.SendJSONResponse(w, http.StatusPaymentRequired, map[string]any{
			"error":    "insufficient balance",
			"current":  insufficient.Current.StringFixed(2),
			"required": insufficient.Required.StringFixed(2),
			"shortage": insufficient.Shortage.StringFixed(2),
		})
	case errors.As(err, &mismatch):
		services.SendJSONResponse(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "amount mismatch",
			"orderId":  mismatch.OrderID,
			"expected": mismatch.Expected.StringFixed(2),
			"reported": mismatch.Reported.StringFixed(2),
		})
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrRefundNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAccountUnavailable):
		services.SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, services.ErrApplicationUnavailable):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrInvalidRefundStatus):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrNothingToRefund),
		errors.Is(err, services.ErrInvalidRefundAmount):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrInvalidSignature):
		services.SendErrorResponse(w, err.Error(), http.StatusUnauthorized, nil)
	default:
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
