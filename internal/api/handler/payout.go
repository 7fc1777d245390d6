package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/service"
)

// PayoutHandler serves payout status reads for subscribers of the event bus.
type PayoutHandler struct {
	intakeSvc *service.IntakeService
}

// NewPayoutHandler creates a new PayoutHandler instance.
func NewPayoutHandler(intakeSvc *service.IntakeService) *PayoutHandler {
	return &PayoutHandler{intakeSvc: intakeSvc}
}

// GetPayout handles GET /v1/payouts/{ref}
// It returns the payout along with its allocation batches.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	refID := strings.TrimSpace(chi.URLParam(r, "ref"))
	if refID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-ref", "payout reference is required")
		return
	}

	payout, batches, err := h.intakeSvc.GetPayout(r.Context(), refID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			RespondError(w, r, http.StatusNotFound, "payout/not-found", "Payout not found")
			return
		}
		zap.L().Error("get payout failed", zap.Error(err), zap.String("ref_id", refID))
		RespondError(w, r, http.StatusInternalServerError, "payout/read-failed", "Failed to get payout")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"payout":  payout,
		"batches": batches,
	})
}
