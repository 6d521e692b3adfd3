package handlers

import (
	"log/slog"
	"net/http"

	"github.com/appforge/gateway/internal/quota"
)

// QuotaHandler reports quota standing without consuming anything.
type QuotaHandler struct {
	ledger *quota.Ledger
	logger *slog.Logger
}

// NewQuotaHandler creates a new quota handler.
func NewQuotaHandler(ledger *quota.Ledger, logger *slog.Logger) *QuotaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaHandler{ledger: ledger, logger: logger}
}

// Get handles GET /v1/quota.
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.ledger.Snapshot(r.Context(), callerIdentity(r))
	if err != nil {
		h.logger.Error("failed to read quota snapshot", "error", err)
		WriteInternalError(w, "failed to read quota")
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}
