package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arcadeops/backend/internal/services"
)

type PaymentHandler struct {
	service   *services.PaymentService
	engine    *services.LedgerEngine
	validator *services.ValidationHelper
}

func NewPaymentHandler(service *services.PaymentService, engine *services.LedgerEngine) *PaymentHandler {
	return &PaymentHandler{
		service:   service,
		engine:    engine,
		validator: services.NewValidationHelper(),
	}
}

type createOrderRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod string          `json:"paymentMethod" validate:"required,oneof=wechat alipay card"`
}

type callbackRequest struct {
	OrderID       string          `json:"orderId" validate:"required"`
	Status        string          `json:"status" validate:"required,oneof=success failed"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	TransactionID string          `json:"transactionId"`
	FailureReason string          `json:"failureReason"`
	Signature     string          `json:"signature"`
}

// CreateOrder opens a recharge order
// @Summary Create a recharge order
// @Description Open a pending recharge order and return a payment QR code
// @Tags payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createOrderRequest true "Recharge order request"
// @Success 200 {object} map[string]interface{} "Order and QR image"
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /recharge/orders [post]
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := r.Context().Value("operatorID").(int64)
	if !ok || operatorID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createOrderRequest
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
	if !req.Amount.IsPositive() {
		services.SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	account, err := h.engine.AccountByOperator(r.Context(), operatorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	order, qrImage, err := h.service.CreateOrder(r.Context(), account.ID, req.Amount, req.PaymentMethod)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"order":   order,
		"qrImage": qrImage,
	})
}

// ProviderCallback processes a payment provider callback
// @Summary Process a provider payment callback
// @Description Settle a recharge order; replayed callbacks return success without re-crediting
// @Tags payment
// @Accept json
// @Produce json
// @Param request body callbackRequest true "Provider callback payload"
// @Success 200 {object} map[string]interface{} "Order state after processing"
// @Failure 401 {object} services.ErrorResponse "Bad signature"
// @Failure 404 {object} services.ErrorResponse "Unknown order"
// @Failure 422 {object} services.ErrorResponse "Amount mismatch"
// @Router /recharge/callback [post]
func (h *PaymentHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order, err := h.service.ProcessCallback(r.Context(), services.CallbackParams{
		OrderID:       req.OrderID,
		Status:        req.Status,
		PaidAmount:    req.PaidAmount,
		ProviderTxnID: req.TransactionID,
		FailureReason: req.FailureReason,
		Signature:     req.Signature,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Providers treat anything but 200 as "retry later", so even replays
	// answer with a plain success.
	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"message": "ok",
		"order":   order,
	})
}

// GetOrder returns one recharge order
// @Summary Get a recharge order
// @Tags payment
// @Produce json
// @Security BearerAuth
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.RechargeOrder
// @Failure 404 {object} services.ErrorResponse
// @Router /recharge/orders/{orderId} [get]
func (h *PaymentHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		services.SendErrorResponse(w, "Order ID required", http.StatusBadRequest, nil)
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, order)
}
