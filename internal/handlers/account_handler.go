package handlers

import (
	"net/http"
	"strconv"

	"github.com/arcadeops/backend/internal/services"
)

type AccountHandler struct {
	engine *services.LedgerEngine
}

func NewAccountHandler(engine *services.LedgerEngine) *AccountHandler {
	return &AccountHandler{engine: engine}
}

// BalanceEnquiry returns the operator's current balance
// @Summary Get current balance
// @Tags account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Balance"
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/balance [get]
func (h *AccountHandler) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := r.Context().Value("operatorID").(int64)
	if !ok || operatorID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.engine.AccountByOperator(r.Context(), operatorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"accountId": account.ID,
		"balance":   account.Balance.StringFixed(2),
		"isActive":  account.IsActive,
		"isLocked":  account.IsLocked,
	})
}

// LedgerHistory returns the operator's ledger entries, newest first
// @Summary List ledger entries
// @Tags account
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows" default(50)
// @Param offset query int false "Rows to skip" default(0)
// @Success 200 {array} models.LedgerEntry
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/ledger [get]
func (h *AccountHandler) LedgerHistory(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := r.Context().Value("operatorID").(int64)
	if !ok || operatorID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.engine.AccountByOperator(r.Context(), operatorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.engine.ListEntries(r.Context(), account.ID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list ledger entries", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, entries)
}
